package bridge

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/grmrgecko/wifi-ncm-bridge/provision"
	"github.com/grmrgecko/wifi-ncm-bridge/usbnet"
	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	"github.com/stretchr/testify/require"
)

// Reporter that records what it was given.
type recordReporter struct {
	mu      sync.Mutex
	scans   [][]wifi.ScanRecord
	creds   []string
	results []ProvisioningResult
}

func (r *recordReporter) ScanCompleted(records []wifi.ScanRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans = append(r.scans, records)
}

func (r *recordReporter) CredentialsReceived(ssid string, bssid net.HardwareAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds = append(r.creds, ssid)
}

func (r *recordReporter) ProvisioningFinished(res ProvisioningResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recordReporter) Scans() [][]wifi.ScanRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]wifi.ScanRecord(nil), r.scans...)
}

func (r *recordReporter) Creds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.creds...)
}

func (r *recordReporter) Results() []ProvisioningResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProvisioningResult(nil), r.results...)
}

type testBridge struct {
	*Bridge
	driver   *wifi.SimDriver
	host     *usbnet.SimTransport
	control  *provision.Control
	reporter *recordReporter
}

// Make a bridge on simulated parts. It is not started.
func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	tb := &testBridge{
		driver:   wifi.NewSimDriver(),
		host:     usbnet.NewSimTransport(),
		control:  provision.NewControl(),
		reporter: new(recordReporter),
	}
	tb.Bridge = New(tb.driver, tb.host, tb.control, tb.reporter, Config{
		JoinTimeout:       time.Second,
		DisconnectTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() {
		tb.Close()
		tb.control.Close()
		tb.driver.Close()
	})
	return tb
}

// Make a started bridge and wait for the station to come up.
func startTestBridge(t *testing.T) *testBridge {
	t.Helper()
	tb := newTestBridge(t)
	require.NoError(t, tb.Start())
	require.Eventually(t, tb.Link().Started, time.Second, time.Millisecond)
	return tb
}

// Start the simulated driver without the dispatcher, so a test can feed
// events through handleEvent itself.
func startDriverOnly(t *testing.T, tb *testBridge) {
	t.Helper()
	require.NoError(t, tb.driver.Start())
	tb.handleEvent(Event{Kind: EventStationStarted})
	require.True(t, tb.Link().Started())
}

// Wait for the driver's own association.
func driverAssociated(b *Bridge) func(context.Context) error {
	return func(ctx context.Context) error {
		if !b.Link().AwaitDriverAssociated(ctx, time.Second) {
			return context.DeadlineExceeded
		}
		return nil
	}
}

// Build an Ethernet frame carrying a small UDP datagram.
func testFrame(t *testing.T, payload string) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(0, 0, 0, 0),
		DstIP:    net.IPv4(255, 255, 255, 255),
	}
	udp := &layers.UDP{SrcPort: 68, DstPort: 67}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}
