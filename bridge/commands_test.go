package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/usbnet"
	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassphrase(t *testing.T) {
	tests := []struct {
		pass string
		ok   bool
	}{
		{"", true},
		{"ab", false},
		{"1234567", false},
		{"12345678", true},
		{strings.Repeat("a", 63), true},
		{strings.Repeat("0f", 32), true},
		{strings.Repeat("z", 64), false},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		err := validatePassphrase(tt.pass)
		if tt.ok {
			assert.NoError(t, err, "len %d", len(tt.pass))
		} else {
			assert.ErrorIs(t, err, ErrConfigurationRejected, "len %d", len(tt.pass))
		}
	}

	assert.ErrorIs(t, validateStation("", "longpassword"), ErrConfigurationRejected)
	assert.ErrorIs(t, validateStation(strings.Repeat("s", 33), ""), ErrConfigurationRejected)
}

func TestJoinSucceeds(t *testing.T) {
	tb := startTestBridge(t)
	tb.driver.AssociateDelay = 200 * time.Millisecond
	tb.Reconfigure(Config{JoinTimeout: 2 * time.Second})

	start := time.Now()
	require.NoError(t, tb.Join(context.Background(), "homenet", "longpassword"))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateAssociated, tb.Link().State())
	assert.True(t, tb.Link().AutoReconnect())
	assert.True(t, tb.driver.HookInstalled())

	cfg, err := tb.driver.Config()
	require.NoError(t, err)
	assert.Equal(t, "homenet", cfg.Station.SSID)
	assert.Equal(t, "longpassword", cfg.Station.Passphrase)
}

func TestJoinRejectsShortPassphrase(t *testing.T) {
	tb := newTestBridge(t)
	startDriverOnly(t, tb)
	calls := tb.driver.TotalCalls()

	err := tb.Join(context.Background(), "homenet", "ab")
	assert.ErrorIs(t, err, ErrConfigurationRejected)
	assert.Equal(t, calls, tb.driver.TotalCalls(), "no driver calls")
	assert.Equal(t, StateDisassociated, tb.Link().State())
}

func TestJoinBeforeStart(t *testing.T) {
	tb := newTestBridge(t)
	err := tb.Join(context.Background(), "homenet", "longpassword")
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Zero(t, tb.driver.TotalCalls())
}

func TestJoinTimeout(t *testing.T) {
	tb := startTestBridge(t)
	tb.driver.Reachable = func(wifi.StationConfig) bool { return false }
	tb.Reconfigure(Config{JoinTimeout: 100 * time.Millisecond})

	err := tb.Join(context.Background(), "nowhere", "longpassword")
	assert.ErrorIs(t, err, ErrJoinTimeout)
	assert.ErrorIs(t, err, ErrLinkUnavailable)
	assert.False(t, tb.Link().AutoReconnect())
	assert.False(t, tb.driver.HookInstalled())
}

func TestJoinLeavesPreviousNetwork(t *testing.T) {
	tb := startTestBridge(t)
	require.NoError(t, tb.Join(context.Background(), "first", "longpassword"))
	disconnects := tb.driver.DisconnectCalls()

	require.NoError(t, tb.Join(context.Background(), "second", "longpassword"))
	assert.Equal(t, disconnects+1, tb.driver.DisconnectCalls())
	assert.Equal(t, StateAssociated, tb.Link().State())
	assert.Equal(t, 2, tb.driver.HookInstalls())

	st, err := tb.Query()
	require.NoError(t, err)
	assert.Equal(t, "second", st.SSID)
}

// Driver that accepts a disconnect but stays on its network.
type stickyDriver struct {
	*wifi.SimDriver
}

func (d stickyDriver) Disconnect() error {
	return nil
}

func TestJoinIgnoresStaleAssociation(t *testing.T) {
	sim := wifi.NewSimDriver()
	b := New(stickyDriver{sim}, usbnet.NewSimTransport(), nil, nil, Config{
		JoinTimeout:       300 * time.Millisecond,
		DisconnectTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(func() {
		b.Close()
		sim.Close()
	})
	require.NoError(t, b.Start())
	require.Eventually(t, b.Link().Started, time.Second, time.Millisecond)
	require.NoError(t, b.Join(context.Background(), "first", "longpassword"))

	// The old association never drops and the new network never answers.
	sim.Reachable = func(cfg wifi.StationConfig) bool { return cfg.SSID != "second" }
	err := b.Join(context.Background(), "second", "longpassword")
	assert.ErrorIs(t, err, ErrJoinTimeout)
	assert.Equal(t, StateDisassociated, b.Link().State())
	assert.False(t, b.Link().AutoReconnect())
	assert.False(t, sim.HookInstalled())
}

func TestDisconnect(t *testing.T) {
	tb := startTestBridge(t)
	assert.ErrorIs(t, tb.Disconnect(context.Background()), ErrNotAssociated)

	require.NoError(t, tb.Join(context.Background(), "homenet", "longpassword"))
	require.NoError(t, tb.Disconnect(context.Background()))
	assert.Equal(t, StateDisassociated, tb.Link().State())
	assert.False(t, tb.Link().AutoReconnect())
	assert.False(t, tb.driver.HookInstalled())

	// No reconnect follows a requested disconnect.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, tb.driver.ConnectCalls())
	assert.Zero(t, testutil.ToFloat64(tb.Stats().Reconnects))
}

func TestDisassociationReconnectsOnce(t *testing.T) {
	tb := newTestBridge(t)
	startDriverOnly(t, tb)
	tb.Link().TransitionTo(StateAssociated)
	tb.Link().SetAutoReconnect(true)

	before := tb.driver.ConnectCalls()
	tb.handleEvent(Event{Kind: EventDisassociated, Reason: 8})
	assert.Equal(t, before+1, tb.driver.ConnectCalls())
	assert.Equal(t, 1.0, testutil.ToFloat64(tb.Stats().Reconnects))
}

func TestDisassociationWithoutReconnect(t *testing.T) {
	tb := newTestBridge(t)
	startDriverOnly(t, tb)
	tb.Link().TransitionTo(StateAssociated)
	tb.Link().SetAutoReconnect(false)

	tb.handleEvent(Event{Kind: EventDisassociated, Reason: 8})
	assert.Zero(t, tb.driver.ConnectCalls())
	assert.Equal(t, StateDisassociated, tb.Link().State())
}

func TestDisassociationHostNotReady(t *testing.T) {
	tb := newTestBridge(t)
	startDriverOnly(t, tb)
	tb.Link().TransitionTo(StateAssociated)
	tb.Link().SetAutoReconnect(true)
	tb.host.SetReady(false)

	tb.handleEvent(Event{Kind: EventDisassociated})
	assert.Zero(t, tb.driver.ConnectCalls())
}

func TestReconnectFailureReturnsToDisassociated(t *testing.T) {
	tb := newTestBridge(t)
	startDriverOnly(t, tb)
	tb.Link().TransitionTo(StateAssociated)
	tb.Link().SetAutoReconnect(true)
	// Connect fails without a station config.
	require.NoError(t, tb.driver.SetStationConfig(wifi.StationConfig{}))

	tb.handleEvent(Event{Kind: EventDisassociated})
	assert.Equal(t, StateDisassociated, tb.Link().State())
	assert.Equal(t, 1.0, testutil.ToFloat64(tb.Stats().DriverErrors))
}

func TestSetAP(t *testing.T) {
	tb := startTestBridge(t)
	tb.Link().SetAutoReconnect(true)

	err := tb.SetAP("bridge-ap", "short")
	assert.ErrorIs(t, err, ErrConfigurationRejected)
	assert.True(t, tb.Link().AutoReconnect(), "policy untouched on rejection")

	require.NoError(t, tb.SetAP("bridge-ap", ""))
	assert.False(t, tb.Link().AutoReconnect())
	cfg, err := tb.driver.Config()
	require.NoError(t, err)
	assert.Equal(t, wifi.ModeAccessPoint, cfg.Mode)
	assert.Equal(t, wifi.AuthOpen, cfg.AP.Auth)
	assert.Equal(t, DefaultAPMaxConnections, cfg.AP.MaxConnections)

	require.NoError(t, tb.SetAP("bridge-ap", "longpassword"))
	cfg, _ = tb.driver.Config()
	assert.Equal(t, wifi.AuthWPAWPA2PSK, cfg.AP.Auth)

	st, err := tb.Query()
	require.NoError(t, err)
	assert.Equal(t, "bridge-ap", st.APSSID)
	assert.Equal(t, wifi.ModeAccessPoint, st.Mode)
}

func TestSetMode(t *testing.T) {
	tb := startTestBridge(t)
	assert.ErrorIs(t, tb.SetMode(wifi.ModeNone), ErrConfigurationRejected)
	require.NoError(t, tb.SetMode(wifi.ModeAccessPoint))
	cfg, _ := tb.driver.Config()
	assert.Equal(t, wifi.ModeAccessPoint, cfg.Mode)
}

func TestScanReportsResults(t *testing.T) {
	tb := startTestBridge(t)
	tb.driver.Records = []wifi.ScanRecord{
		{SSID: "homenet", RSSI: -40, Channel: 6, Auth: wifi.AuthWPA2PSK},
		{SSID: "other", RSSI: -70, Channel: 11, Auth: wifi.AuthOpen},
	}
	require.NoError(t, tb.SetMode(wifi.ModeAccessPoint))

	require.NoError(t, tb.Scan("homenet"))
	require.Eventually(t, func() bool { return len(tb.reporter.Scans()) == 1 }, time.Second, time.Millisecond)
	scan := tb.reporter.Scans()[0]
	require.Len(t, scan, 1)
	assert.Equal(t, "homenet", scan[0].SSID)

	cfg, _ := tb.driver.Config()
	assert.Equal(t, wifi.ModeStation, cfg.Mode, "scan switches to station mode")
}

// Driver whose mode changes always fail.
type stuckDriver struct {
	*wifi.SimDriver
}

func (d stuckDriver) SetMode(wifi.Mode) error {
	return errors.New("radio stuck")
}

func TestDriverFaultIsWrapped(t *testing.T) {
	driver := stuckDriver{wifi.NewSimDriver()}
	b := New(driver, usbnet.NewSimTransport(), nil, nil, Config{})
	t.Cleanup(func() {
		b.Close()
		driver.Close()
	})

	err := b.SetMode(wifi.ModeStation)
	assert.ErrorIs(t, err, ErrDriverFault)
	assert.Contains(t, err.Error(), "radio stuck")

	err = b.SetAP("bridge-ap", "")
	assert.ErrorIs(t, err, ErrDriverFault)
}

func TestQuery(t *testing.T) {
	tb := startTestBridge(t)
	st, err := tb.Query()
	require.NoError(t, err)
	assert.Equal(t, StateDisassociated, st.State)
	assert.True(t, st.Started)
	assert.True(t, st.HostReady)
	assert.Equal(t, wifi.SimHardwareAddr, st.HardwareAddr)
	assert.Equal(t, wifi.SimHardwareAddr, tb.host.HardwareAddr())
	assert.Equal(t, PhaseIdle, st.Provisioning)

	require.NoError(t, tb.Join(context.Background(), "homenet", "longpassword"))
	st, err = tb.Query()
	require.NoError(t, err)
	assert.Equal(t, StateAssociated, st.State)
	assert.Equal(t, "homenet", st.SSID)
	assert.Equal(t, 6, st.Channel)
}
