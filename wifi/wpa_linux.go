//go:build linux

package wifi

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Size of the largest control interface reply we accept.
const wpaReplySize = 8192

// Counter for unique local socket names.
var wpaSocketCounter atomic.Uint32

// A connection to the wpa_supplicant control interface of one network
// interface. Requests are serialized; unsolicited messages arrive on
// attached connections only.
type wpaConn struct {
	conn  *net.UnixConn
	local string
	sync.Mutex
}

// Open a control connection to the wpa_supplicant socket for iface.
func dialWPA(ctrlDir, iface string) (*wpaConn, error) {
	remote := filepath.Join(ctrlDir, iface)
	local := filepath.Join(os.TempDir(), fmt.Sprintf("wpa_ctrl_%d-%d", os.Getpid(), wpaSocketCounter.Add(1)))

	// Remove any stale socket from a previous run.
	os.Remove(local)

	conn, err := net.DialUnix("unixgram",
		&net.UnixAddr{Name: local, Net: "unixgram"},
		&net.UnixAddr{Name: remote, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to wpa_supplicant at %s: %v", remote, err)
	}
	return &wpaConn{conn: conn, local: local}, nil
}

// Send a command and return its reply.
func (w *wpaConn) request(cmd string) (string, error) {
	w.Lock()
	defer w.Unlock()

	// Replies come back within a few milliseconds, a stuck daemon should not hang us.
	w.conn.SetDeadline(time.Now().Add(5 * time.Second))
	defer w.conn.SetDeadline(time.Time{})

	_, err := w.conn.Write([]byte(cmd))
	if err != nil {
		return "", err
	}

	buf := make([]byte, wpaReplySize)
	for {
		n, err := w.conn.Read(buf)
		if err != nil {
			return "", err
		}
		reply := string(buf[:n])
		// Skip unsolicited messages on attached sockets.
		if strings.HasPrefix(reply, "<") {
			continue
		}
		return strings.TrimRight(reply, "\n"), nil
	}
}

// Send a command that answers with OK.
func (w *wpaConn) command(cmd string) error {
	reply, err := w.request(cmd)
	if err != nil {
		return err
	}
	if reply != "OK" {
		// Only name the verb, arguments may include a passphrase.
		verb, _, _ := strings.Cut(cmd, " ")
		return fmt.Errorf("wpa_supplicant %s: %s", verb, reply)
	}
	return nil
}

// Register this connection for unsolicited event messages.
func (w *wpaConn) attach() error {
	return w.command("ATTACH")
}

// Read one unsolicited message, without the priority prefix.
func (w *wpaConn) readEvent(buf []byte) (string, error) {
	n, err := w.conn.Read(buf)
	if err != nil {
		return "", err
	}
	msg := string(buf[:n])
	if strings.HasPrefix(msg, "<") {
		if end := strings.IndexByte(msg, '>'); end != -1 {
			msg = msg[end+1:]
		}
	}
	return strings.TrimRight(msg, "\n"), nil
}

func (w *wpaConn) Close() error {
	err := w.conn.Close()
	os.Remove(w.local)
	return err
}

// Add a network block and return its id.
func (w *wpaConn) addNetwork() (int, error) {
	reply, err := w.request("ADD_NETWORK")
	if err != nil {
		return -1, err
	}
	id, err := strconv.Atoi(reply)
	if err != nil {
		return -1, fmt.Errorf("unexpected ADD_NETWORK reply: %q", reply)
	}
	return id, nil
}

// Set a network variable.
func (w *wpaConn) setNetwork(id int, key, value string) error {
	return w.command(fmt.Sprintf("SET_NETWORK %d %s %s", id, key, value))
}

// Parse the key=value lines of a STATUS reply.
func parseWPAStatus(reply string) map[string]string {
	status := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(reply))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if ok {
			status[key] = value
		}
	}
	return status
}

// Parse a SCAN_RESULTS reply.
func parseWPAScanResults(reply string) []ScanRecord {
	var records []ScanRecord
	scanner := bufio.NewScanner(strings.NewReader(reply))
	for scanner.Scan() {
		line := scanner.Text()
		// Skip the header line.
		if strings.HasPrefix(line, "bssid") {
			continue
		}

		// Fields: bssid, frequency, signal level, flags, ssid.
		fields := strings.SplitN(line, "\t", 5)
		if len(fields) < 4 {
			continue
		}
		bssid, err := net.ParseMAC(fields[0])
		if err != nil {
			continue
		}
		freq, _ := strconv.Atoi(fields[1])
		rssi, _ := strconv.Atoi(fields[2])
		rec := ScanRecord{
			BSSID:   bssid,
			RSSI:    rssi,
			Channel: FrequencyToChannel(freq),
			Auth:    authFromFlags(fields[3]),
		}
		if len(fields) == 5 {
			rec.SSID = fields[4]
		}
		records = append(records, rec)
	}
	return records
}

// Pick the strongest authentication advertised in scan flags.
func authFromFlags(flags string) AuthMode {
	switch {
	case strings.Contains(flags, "EAP"):
		return AuthEnterprise
	case strings.Contains(flags, "SAE"):
		return AuthWPA3PSK
	case strings.Contains(flags, "WPA2-PSK") && strings.Contains(flags, "WPA-PSK"):
		return AuthWPAWPA2PSK
	case strings.Contains(flags, "WPA2-PSK"), strings.Contains(flags, "RSN-PSK"):
		return AuthWPA2PSK
	case strings.Contains(flags, "WPA-PSK"):
		return AuthWPAPSK
	case strings.Contains(flags, "WEP"):
		return AuthWEP
	}
	return AuthOpen
}

// Get the reason code from a CTRL-EVENT-DISCONNECTED message.
func disconnectReason(msg string) int {
	for _, field := range strings.Fields(msg) {
		if value, ok := strings.CutPrefix(field, "reason="); ok {
			reason, err := strconv.Atoi(value)
			if err == nil {
				return reason
			}
		}
	}
	return 0
}

// Errors from the control socket once it is closed.
var errWPAClosed = errors.New("wpa_supplicant connection closed")
