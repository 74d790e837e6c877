package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/provision"
	"github.com/grmrgecko/wifi-ncm-bridge/usbnet"
	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherKeepsOrder(t *testing.T) {
	tb := startTestBridge(t)

	const n = 200
	for i := 0; i < n; i++ {
		require.True(t, tb.Post(Event{
			Kind:    EventScanCompleted,
			Records: []wifi.ScanRecord{{Channel: i}},
		}))
	}
	require.Eventually(t, func() bool { return len(tb.reporter.Scans()) == n }, time.Second, time.Millisecond)
	for i, scan := range tb.reporter.Scans() {
		require.Len(t, scan, 1)
		assert.Equal(t, i, scan[0].Channel)
	}
}

func TestDispatcherStationStarted(t *testing.T) {
	tb := startTestBridge(t)
	assert.Equal(t, wifi.SimHardwareAddr, tb.Link().HardwareAddr())
	assert.Equal(t, wifi.SimHardwareAddr, tb.host.HardwareAddr())
}

func TestDispatcherDriverErrors(t *testing.T) {
	tb := startTestBridge(t)
	tb.driver.Emit(wifi.Event{Kind: wifi.EventDriverError, Err: errors.New("firmware crashed")})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(tb.Stats().DriverErrors) == 1
	}, time.Second, time.Millisecond)
}

func TestDispatcherStopsWhenClosed(t *testing.T) {
	tb := startTestBridge(t)
	require.NoError(t, tb.Close())
	assert.False(t, tb.Post(Event{Kind: EventScanCompleted}))
	assert.NoError(t, tb.Close())
}

func TestEventConversion(t *testing.T) {
	assert.Equal(t, EventAssociated, driverEvent(wifi.Event{Kind: wifi.EventAssociated}).Kind)
	ev := driverEvent(wifi.Event{Kind: wifi.EventDisassociated, Reason: 201})
	assert.Equal(t, EventDisassociated, ev.Kind)
	assert.Equal(t, 201, ev.Reason)

	ev = driverEvent(wifi.Event{Kind: wifi.EventKind(99)})
	assert.Equal(t, EventDriverError, ev.Kind)
	assert.Error(t, ev.Err)

	creds := provision.Credentials{SSID: "homenet"}
	ev = provisionEvent(provision.Event{Kind: provision.EventCredentials, Credentials: creds})
	assert.Equal(t, EventCredentialsAcquired, ev.Kind)
	assert.Equal(t, creds, ev.Credentials)
	assert.Equal(t, EventProvisioningAcked, provisionEvent(provision.Event{Kind: provision.EventAckDone}).Kind)
}

func TestAutoConnectOnStart(t *testing.T) {
	driver := wifi.NewSimDriver()
	require.NoError(t, driver.SetStationConfig(wifi.StationConfig{SSID: "stored", Passphrase: "longpassword"}))
	b := New(driver, usbnet.NewSimTransport(), nil, nil, Config{AutoConnect: true})
	t.Cleanup(func() {
		b.Close()
		driver.Close()
	})

	require.NoError(t, b.Start())
	require.Eventually(t, b.Link().IsAssociated, time.Second, time.Millisecond)
	assert.True(t, b.Link().AutoReconnect())
}

func TestStatsSnapshot(t *testing.T) {
	s := NewStats()
	s.UplinkForwarded.Add(3)
	s.LinkState.Set(float64(StateAssociated))

	values, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 3.0, values["wifi_bridge_uplink_forwarded_total"])
	assert.Equal(t, 2.0, values["wifi_bridge_link_state"])
	assert.Contains(t, values, "wifi_bridge_reconnects_total")
}
