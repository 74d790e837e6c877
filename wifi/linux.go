//go:build linux

package wifi

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/google/gopacket/afpacket"
	"github.com/grmrgecko/wifi-ncm-bridge/internal/rawsock"
	nl80211 "github.com/mdlayher/wifi"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Default directory of wpa_supplicant control sockets.
const DefaultControlDir = "/var/run/wpa_supplicant"

// LinuxDriver drives a wireless netdev through wpa_supplicant's control
// interface, moves frames with an AF_PACKET socket and watches the link
// with netlink.
type LinuxDriver struct {
	iface   string
	ctrlDir string

	ctrl *wpaConn
	mon  *wpaConn

	mu      sync.Mutex
	mode    Mode
	station StationConfig
	ap      APConfig
	netID   int
	filter  string
	started bool

	hookLock sync.RWMutex
	hook     func(*Frame)

	tpacket *afpacket.TPacket
	pool    sync.Pool

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
	stopping  sync.WaitGroup
	log       *log.Entry
}

// Open a driver for the wireless interface, using the wpa_supplicant
// control sockets in ctrlDir.
func NewLinuxDriver(iface, ctrlDir string) (d *LinuxDriver, err error) {
	if ctrlDir == "" {
		ctrlDir = DefaultControlDir
	}

	// Verify the interface exists before talking to wpa_supplicant.
	if _, err = netlink.LinkByName(iface); err != nil {
		return nil, fmt.Errorf("failed to find wireless interface %s: %v", iface, err)
	}

	d = new(LinuxDriver)
	d.iface = iface
	d.ctrlDir = ctrlDir
	d.netID = -1
	d.mode = ModeStation
	d.events = make(chan Event, 32)
	d.closed = make(chan struct{})
	d.log = log.WithFields(log.Fields{
		"component": "wifi",
		"interface": iface,
	})
	d.pool.New = func() any {
		b := make([]byte, 0, 2048)
		return &b
	}

	// One socket for requests, one attached for events.
	d.ctrl, err = dialWPA(ctrlDir, iface)
	if err != nil {
		return nil, err
	}
	d.mon, err = dialWPA(ctrlDir, iface)
	if err != nil {
		d.ctrl.Close()
		return nil, err
	}
	if err = d.mon.attach(); err != nil {
		d.ctrl.Close()
		d.mon.Close()
		return nil, fmt.Errorf("failed to attach to wpa_supplicant events: %v", err)
	}

	d.tpacket, err = rawsock.Open(iface)
	if err != nil {
		d.ctrl.Close()
		d.mon.Close()
		return nil, err
	}
	return d, nil
}

func (d *LinuxDriver) Start() error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	// Pick up a network stored by a previous run.
	if err := d.loadStoredNetwork(); err != nil {
		d.log.Debugf("No stored network loaded: %v", err)
	}

	d.stopping.Add(3)
	go d.eventReader()
	go d.packetReader()
	go d.linkWatcher()

	d.emit(Event{Kind: EventStationStarted})
	return nil
}

// Load the first configured network from wpa_supplicant.
func (d *LinuxDriver) loadStoredNetwork() error {
	reply, err := d.ctrl.request("LIST_NETWORKS")
	if err != nil {
		return err
	}
	for _, line := range strings.Split(reply, "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		d.mu.Lock()
		d.netID = id
		d.station.SSID = fields[1]
		d.mu.Unlock()
		d.log.Printf("Found stored network %q.", fields[1])
		return nil
	}
	return errors.New("no networks configured")
}

// Send an event unless closed.
func (d *LinuxDriver) emit(ev Event) {
	select {
	case <-d.closed:
	case d.events <- ev:
	}
}

func (d *LinuxDriver) Connect() error {
	d.mu.Lock()
	id := d.netID
	mode := d.mode
	d.mu.Unlock()
	if mode != ModeStation {
		return fmt.Errorf("connect requires station mode, have %v", mode)
	}
	if id < 0 {
		return errors.New("no station network configured")
	}

	err := d.ctrl.command(fmt.Sprintf("SELECT_NETWORK %d", id))
	if err != nil {
		return err
	}
	return d.ctrl.command("RECONNECT")
}

func (d *LinuxDriver) Disconnect() error {
	return d.ctrl.command("DISCONNECT")
}

func (d *LinuxDriver) Scan(ssid string) error {
	d.mu.Lock()
	d.filter = ssid
	d.mu.Unlock()

	reply, err := d.ctrl.request("SCAN")
	if err != nil {
		return err
	}
	// A scan already running will report its results as well.
	if reply != "OK" && reply != "FAIL-BUSY" {
		return fmt.Errorf("wpa_supplicant SCAN: %s", reply)
	}
	return nil
}

func (d *LinuxDriver) SetMode(m Mode) error {
	if m != ModeStation && m != ModeAccessPoint {
		return fmt.Errorf("unsupported mode %v", m)
	}

	d.mu.Lock()
	old := d.mode
	d.mode = m
	d.mu.Unlock()

	// Leaving AP mode tears the AP network down.
	if old == ModeAccessPoint && m == ModeStation {
		return d.ctrl.command("DISCONNECT")
	}
	return nil
}

// Replace all networks with a fresh one and return its id.
func (d *LinuxDriver) replaceNetwork() (int, error) {
	err := d.ctrl.command("REMOVE_NETWORK all")
	if err != nil {
		return -1, err
	}
	return d.ctrl.addNetwork()
}

// Set the key management and passphrase of a network.
func (d *LinuxDriver) setCredentials(id int, passphrase string) error {
	if passphrase == "" {
		return d.ctrl.setNetwork(id, "key_mgmt", "NONE")
	}
	err := d.ctrl.setNetwork(id, "key_mgmt", "WPA-PSK")
	if err != nil {
		return err
	}
	// A 64 digit key is a raw PSK, anything else a passphrase.
	if len(passphrase) == 64 {
		if _, herr := hex.DecodeString(passphrase); herr == nil {
			return d.ctrl.setNetwork(id, "psk", passphrase)
		}
	}
	return d.ctrl.setNetwork(id, "psk", strconv.Quote(passphrase))
}

func (d *LinuxDriver) SetStationConfig(cfg StationConfig) error {
	id, err := d.replaceNetwork()
	if err != nil {
		return err
	}

	// The SSID is hex encoded so any byte sequence is accepted.
	err = d.ctrl.setNetwork(id, "ssid", hex.EncodeToString([]byte(cfg.SSID)))
	if err != nil {
		return err
	}
	err = d.setCredentials(id, cfg.Passphrase)
	if err != nil {
		return err
	}
	if len(cfg.BSSID) == 6 {
		err = d.ctrl.setNetwork(id, "bssid", cfg.BSSID.String())
		if err != nil {
			return err
		}
	}
	if cfg.PMFCapable {
		err = d.ctrl.setNetwork(id, "ieee80211w", "1")
		if err != nil {
			return err
		}
	}

	// Persisting is best effort, update_config may be off.
	if serr := d.ctrl.command("SAVE_CONFIG"); serr != nil {
		d.log.Debugf("Unable to persist station config: %v", serr)
	}

	d.mu.Lock()
	d.netID = id
	d.station = cfg
	d.mu.Unlock()
	return nil
}

func (d *LinuxDriver) SetAPConfig(cfg APConfig) error {
	d.mu.Lock()
	mode := d.mode
	d.mu.Unlock()
	if mode != ModeAccessPoint {
		return fmt.Errorf("AP config requires AP mode, have %v", mode)
	}

	id, err := d.replaceNetwork()
	if err != nil {
		return err
	}
	err = d.ctrl.setNetwork(id, "mode", "2")
	if err != nil {
		return err
	}
	err = d.ctrl.setNetwork(id, "ssid", hex.EncodeToString([]byte(cfg.SSID)))
	if err != nil {
		return err
	}
	err = d.ctrl.setNetwork(id, "frequency", "2437")
	if err != nil {
		return err
	}
	err = d.setCredentials(id, cfg.Passphrase)
	if err != nil {
		return err
	}
	if cfg.MaxConnections > 0 {
		// Best effort, only newer wpa_supplicant builds know this.
		if merr := d.ctrl.command(fmt.Sprintf("SET max_num_sta %d", cfg.MaxConnections)); merr != nil {
			d.log.Debugf("Unable to limit AP clients: %v", merr)
		}
	}
	err = d.ctrl.command(fmt.Sprintf("SELECT_NETWORK %d", id))
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.netID = id
	d.ap = cfg
	d.mu.Unlock()
	return nil
}

func (d *LinuxDriver) Config() (cfg Config, err error) {
	d.mu.Lock()
	cfg.Mode = d.mode
	cfg.Station = d.station
	cfg.AP = d.ap
	d.mu.Unlock()

	// Ask nl80211 for the BSS we are on, it knows the channel.
	if d.bssConfig(&cfg) {
		return cfg, nil
	}

	// Fall back to wpa_supplicant's view.
	reply, err := d.ctrl.request("STATUS")
	if err != nil {
		return cfg, err
	}
	status := parseWPAStatus(reply)
	if status["wpa_state"] == "COMPLETED" {
		freq, _ := strconv.Atoi(status["freq"])
		cfg.Channel = FrequencyToChannel(freq)
		if ssid := status["ssid"]; ssid != "" {
			cfg.Station.SSID = ssid
		}
	}
	return cfg, nil
}

// Fill the channel and SSID from the nl80211 BSS info.
func (d *LinuxDriver) bssConfig(cfg *Config) bool {
	c, err := nl80211.New()
	if err != nil {
		return false
	}
	defer c.Close()
	ifaces, err := c.Interfaces()
	if err != nil {
		return false
	}
	for _, ifi := range ifaces {
		if ifi.Name != d.iface {
			continue
		}
		bss, err := c.BSS(ifi)
		if err != nil {
			return false
		}
		cfg.Channel = FrequencyToChannel(bss.Frequency)
		if bss.SSID != "" {
			cfg.Station.SSID = bss.SSID
		}
		return true
	}
	return false
}

func (d *LinuxDriver) Transmit(data []byte) error {
	return d.tpacket.WritePacketData(data)
}

func (d *LinuxDriver) RegisterReceiveHook(hook func(*Frame)) {
	d.hookLock.Lock()
	d.hook = hook
	d.hookLock.Unlock()
}

func (d *LinuxDriver) ReleaseReceiveBuffer(f *Frame) {
	f.Release()
}

// Return a receive buffer to the pool.
func (d *LinuxDriver) putBuffer(b []byte) {
	b = b[:0]
	d.pool.Put(&b)
}

func (d *LinuxDriver) HardwareAddr() (net.HardwareAddr, error) {
	link, err := netlink.LinkByName(d.iface)
	if err != nil {
		return nil, err
	}
	mac := link.Attrs().HardwareAddr
	if len(mac) != 6 {
		return nil, fmt.Errorf("interface %s has no 6 byte hardware address", d.iface)
	}
	return mac, nil
}

func (d *LinuxDriver) Events() <-chan Event {
	return d.events
}

func (d *LinuxDriver) Close() (err error) {
	d.closeOnce.Do(func() {
		d.log.Debug("Driver is closing.")
		close(d.closed)

		// Closing the sockets unblocks the readers.
		d.mon.Close()
		err = d.ctrl.Close()
		d.stopping.Wait()
		d.tpacket.Close()
		close(d.events)
	})
	return
}

// Translate wpa_supplicant event messages into driver events.
func (d *LinuxDriver) eventReader() {
	defer func() {
		d.log.Debug("event reader - stopped")
		d.stopping.Done()
	}()
	d.log.Debug("event reader - started")

	buf := make([]byte, wpaReplySize)
	for {
		msg, err := d.mon.readEvent(buf)
		if err != nil {
			select {
			case <-d.closed:
				return
			default:
			}
			d.emit(Event{Kind: EventDriverError, Err: fmt.Errorf("%w: %v", errWPAClosed, err)})
			return
		}

		switch {
		case strings.HasPrefix(msg, "CTRL-EVENT-CONNECTED"):
			d.emit(Event{Kind: EventAssociated})
		case strings.HasPrefix(msg, "CTRL-EVENT-DISCONNECTED"):
			d.emit(Event{Kind: EventDisassociated, Reason: disconnectReason(msg)})
		case strings.HasPrefix(msg, "CTRL-EVENT-SCAN-RESULTS"):
			d.emitScanResults()
		case strings.HasPrefix(msg, "CTRL-EVENT-TERMINATING"):
			d.emit(Event{Kind: EventDriverError, Err: errors.New("wpa_supplicant terminating")})
		default:
			d.log.Tracef("wpa_supplicant: %s", msg)
		}
	}
}

// Fetch scan results and emit them filtered by the requested SSID.
func (d *LinuxDriver) emitScanResults() {
	reply, err := d.ctrl.request("SCAN_RESULTS")
	if err != nil {
		d.emit(Event{Kind: EventDriverError, Err: fmt.Errorf("failed to read scan results: %v", err)})
		return
	}

	d.mu.Lock()
	filter := d.filter
	d.mu.Unlock()

	var records []ScanRecord
	for _, rec := range parseWPAScanResults(reply) {
		if filter == "" || rec.SSID == filter {
			records = append(records, rec)
		}
	}
	d.emit(Event{Kind: EventScanCompleted, Records: records})
}

// Read frames from the air and pass them to the receive hook.
func (d *LinuxDriver) packetReader() {
	defer func() {
		d.log.Debug("packet reader - stopped")
		d.stopping.Done()
	}()
	d.log.Debug("packet reader - started")

	for {
		data, _, err := d.tpacket.ZeroCopyReadPacketData()
		if err != nil {
			select {
			case <-d.closed:
				return
			default:
			}
			if rawsock.IsTimeout(err) {
				continue
			}
			d.log.Errorf("failed to read frame: %v", err)
			continue
		}

		// Hold the hook for reading so removal waits for this frame.
		d.hookLock.RLock()
		hook := d.hook
		if hook == nil {
			d.hookLock.RUnlock()
			continue
		}

		// The ring slot is reused on the next read, copy into a pooled buffer.
		bp := d.pool.Get().(*[]byte)
		buf := append((*bp)[:0], data...)
		hook(NewFrame(buf, d.putBuffer))
		d.hookLock.RUnlock()
	}
}

// Watch the netdev with netlink, a removed interface is a driver fault.
func (d *LinuxDriver) linkWatcher() {
	defer d.stopping.Done()

	updates := make(chan netlink.LinkUpdate)
	done := make(chan struct{})
	defer close(done)
	err := netlink.LinkSubscribe(updates, done)
	if err != nil {
		d.log.Errorf("failed to subscribe to link updates: %v", err)
		return
	}

	for {
		select {
		case <-d.closed:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Attrs().Name != d.iface {
				continue
			}
			if update.Header.Type == unix.RTM_DELLINK {
				d.emit(Event{Kind: EventDriverError, Err: fmt.Errorf("interface %s removed", d.iface)})
			}
		}
	}
}
