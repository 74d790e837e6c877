// Package bridge joins a wireless link to a USB network function. It owns
// the link state machine, forwards frames in both directions while the
// link is associated and runs the connection commands and provisioning.
package bridge

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/provision"
	"github.com/grmrgecko/wifi-ncm-bridge/usbnet"
	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	log "github.com/sirupsen/logrus"
)

// Default command timeouts.
const (
	DefaultJoinTimeout       = 5 * time.Second
	DefaultDisconnectTimeout = time.Second
)

// Bridge tuning.
type Config struct {
	// Deadline for handing a frame to the host.
	UplinkTimeout time.Duration
	// How long Join waits for association.
	JoinTimeout time.Duration
	// How long Join and Disconnect wait for an existing association to drop.
	DisconnectTimeout time.Duration
	// Provisioning session lifetime, zero disables it.
	ProvisioningTimeout time.Duration
	// Event queue size.
	EventQueue int
	// Connect to the driver's stored network once the station starts.
	AutoConnect bool
}

// Fill unset values with defaults.
func (c *Config) setDefaults() {
	if c.UplinkTimeout <= 0 {
		c.UplinkTimeout = DefaultUplinkTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if c.EventQueue <= 0 {
		c.EventQueue = 32
	}
}

// The bridge between one wireless driver and one host transport.
type Bridge struct {
	state struct {
		state atomic.Uint32
		sync.Mutex
	}

	cfg struct {
		join       atomic.Int64
		disconnect atomic.Int64
		autoConn   bool
	}

	driver   wifi.Driver
	host     usbnet.Transport
	reporter Reporter

	link       *LinkState
	uplink     *Uplink
	downlink   *Downlink
	prov       *Provisioner
	dispatcher *Dispatcher
	provEvents <-chan provision.Event
	stats      *Stats
	log        *log.Entry
}

// The state of the bridge.
type bridgeState uint32

const (
	bridgeStateNew bridgeState = iota
	bridgeStateRunning
	bridgeStateClosed
)

// Assemble a bridge. Nothing runs until Start. prov and reporter may be nil.
func New(driver wifi.Driver, host usbnet.Transport, prov provision.Transport, reporter Reporter, cfg Config) *Bridge {
	cfg.setDefaults()
	if reporter == nil {
		reporter = NewLogReporter()
	}

	b := new(Bridge)
	b.driver = driver
	b.host = host
	b.reporter = reporter
	b.stats = NewStats()
	b.log = log.WithField("component", "bridge")
	b.cfg.join.Store(int64(cfg.JoinTimeout))
	b.cfg.disconnect.Store(int64(cfg.DisconnectTimeout))
	b.cfg.autoConn = cfg.AutoConnect

	b.uplink = newUplink(host, driver, b.stats, cfg.UplinkTimeout)
	b.link = NewLinkState(driver, b.uplink.OnFrameReceived, b.stats)
	b.downlink = newDownlink(b.link, driver, b.stats)
	b.prov = newProvisioner(b.link, driver, prov, reporter, cfg.ProvisioningTimeout)
	b.dispatcher = newDispatcher(b, cfg.EventQueue)

	if prov != nil {
		b.provEvents = prov.Events()
	}
	return b
}

// Start event dispatch, host reception and the radio.
func (b *Bridge) Start() error {
	b.state.Lock()
	defer b.state.Unlock()
	if bridgeState(b.state.state.Load()) != bridgeStateNew {
		return errors.New("bridge already started")
	}

	b.dispatcher.start(b.driver.Events(), b.provEvents)
	b.host.SetReceiveHandler(b.downlink.handleHostFrame)

	err := b.driver.Start()
	if err != nil {
		b.host.SetReceiveHandler(nil)
		b.dispatcher.stop()
		b.state.state.Store(uint32(bridgeStateClosed))
		return fmt.Errorf("%w: failed to start driver: %v", ErrDriverFault, err)
	}
	b.state.state.Store(uint32(bridgeStateRunning))
	b.log.Print("Bridge started.")
	return nil
}

// Stop the bridge. The driver and transports stay open, their owner
// closes them.
func (b *Bridge) Close() error {
	b.state.Lock()
	defer b.state.Unlock()
	if bridgeState(b.state.state.Load()) == bridgeStateClosed {
		return nil
	}
	b.log.Debug("Bridge is closing.")

	b.prov.Stop()
	b.host.SetReceiveHandler(nil)
	b.link.TransitionTo(StateDisassociated)
	b.dispatcher.stop()
	b.state.state.Store(uint32(bridgeStateClosed))
	b.log.Print("Bridge closed.")
	return nil
}

// Change timeouts on a running bridge.
func (b *Bridge) Reconfigure(cfg Config) {
	cfg.setDefaults()
	b.uplink.SetTimeout(cfg.UplinkTimeout)
	b.cfg.join.Store(int64(cfg.JoinTimeout))
	b.cfg.disconnect.Store(int64(cfg.DisconnectTimeout))
	b.prov.SetTimeout(cfg.ProvisioningTimeout)
}

// The link state machine.
func (b *Bridge) Link() *LinkState {
	return b.link
}

// The provisioning coordinator.
func (b *Bridge) Provisioner() *Provisioner {
	return b.prov
}

// The bridge counters.
func (b *Bridge) Stats() *Stats {
	return b.stats
}

// The uplink forwarder.
func (b *Bridge) Uplink() *Uplink {
	return b.uplink
}

// The downlink forwarder.
func (b *Bridge) Downlink() *Downlink {
	return b.downlink
}

// Queue an event as if a driver emitted it.
func (b *Bridge) Post(ev Event) bool {
	return b.dispatcher.Post(ev)
}

// Handle one event. Runs on the dispatcher goroutine only.
func (b *Bridge) handleEvent(ev Event) {
	b.log.Debugf("Event %v", ev.Kind)
	switch ev.Kind {
	case EventStationStarted:
		b.stationStarted()

	case EventAssociated:
		state := b.link.driverAssociated()
		b.log.Printf("Associated, link %v.", state)

	case EventDisassociated:
		reconnect := b.link.driverDisassociated(b.host.IsReady())
		b.log.Printf("Disassociated (reason %d).", ev.Reason)
		if reconnect {
			b.stats.Reconnects.Inc()
			err := b.driver.Connect()
			if err != nil {
				b.link.abortAssociating()
				b.stats.DriverErrors.Inc()
				b.log.Errorf("Reconnect failed: %v", err)
			}
		}

	case EventScanCompleted:
		b.reporter.ScanCompleted(ev.Records)

	case EventCredentialsAcquired:
		b.credentialsAcquired(ev.Credentials)

	case EventProvisioningAcked:
		if !b.prov.acked() {
			b.stats.DroppedEvents.Inc()
			b.log.Debug("Ignored provisioning ack without a listening session.")
		}

	case EventDriverError:
		b.stats.DriverErrors.Inc()
		b.log.Errorf("Driver error: %v", ev.Err)

	default:
		b.stats.DroppedEvents.Inc()
		b.log.Debugf("Dropped unknown event %v", ev.Kind)
	}
}

// Capture the station address and optionally connect.
func (b *Bridge) stationStarted() {
	mac, err := b.driver.HardwareAddr()
	if err != nil {
		b.log.Errorf("Failed to read station address, using %s: %v", DefaultHardwareAddr, err)
	} else if b.link.publishHardwareAddr(mac) {
		b.log.Printf("Station address %s.", mac)
	}

	err = b.host.SetHardwareAddr(b.link.HardwareAddr())
	if err != nil {
		b.log.Errorf("Failed to publish address to host: %v", err)
	}
	b.link.markStarted()

	if !b.cfg.autoConn {
		return
	}
	cfg, err := b.driver.Config()
	if err != nil || cfg.Mode != wifi.ModeStation || cfg.Station.SSID == "" {
		return
	}
	if b.link.beginAssociating(true) {
		b.log.Printf("Connecting to stored network %q.", cfg.Station.SSID)
		err = b.driver.Connect()
		if err != nil {
			b.link.abortAssociating()
			b.log.Errorf("Failed to connect to stored network: %v", err)
		}
	}
}

// Apply credentials from provisioning.
func (b *Bridge) credentialsAcquired(creds provision.Credentials) {
	if !b.prov.Listening() {
		b.stats.DroppedEvents.Inc()
		b.log.Debug("Ignored credentials without a listening session.")
		return
	}
	err := validateStation(creds.SSID, creds.Passphrase)
	if err == nil && len(creds.BSSID) != 0 && len(creds.BSSID) != 6 {
		err = fmt.Errorf("%w: bssid must be 6 bytes", ErrConfigurationRejected)
	}
	if err != nil {
		b.stats.DroppedEvents.Inc()
		b.log.Errorf("Dropped malformed credentials: %v", err)
		return
	}
	b.prov.accepted(creds.SSID)
	b.reporter.CredentialsReceived(creds.SSID, creds.BSSID)

	cfg := wifi.StationConfig{
		SSID:       creds.SSID,
		Passphrase: creds.Passphrase,
	}
	if len(creds.BSSID) == 6 {
		cfg.BSSID = append(net.HardwareAddr(nil), creds.BSSID...)
	}

	err = b.driver.Disconnect()
	if err == nil {
		err = b.driver.SetMode(wifi.ModeStation)
	}
	if err == nil {
		err = b.driver.SetStationConfig(cfg)
	}
	if err == nil {
		err = b.driver.Connect()
	}
	if err != nil {
		b.prov.fail(fmt.Errorf("%w: %v", ErrDriverFault, err))
	}
}
