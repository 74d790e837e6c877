package wifi

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default address of the simulated station interface.
var SimHardwareAddr = net.HardwareAddr{0x02, 0x00, 0x5e, 0x10, 0x00, 0x01}

// SimDriver is an in-memory Driver. It associates after a configurable
// delay, answers scans from a fixed record list and lets callers inject
// received frames as if they arrived from the air.
type SimDriver struct {
	// Time between Connect and EventAssociated.
	AssociateDelay time.Duration
	// Decides whether a station config can associate. Nil accepts all.
	Reachable func(StationConfig) bool
	// Records returned by scans.
	Records []ScanRecord

	mu      sync.Mutex
	started bool
	closed  bool
	config  Config
	pending *time.Timer
	assoc   bool
	hwaddr  net.HardwareAddr

	// Held for reading while a receive callback runs.
	hookLock sync.RWMutex
	hook     func(*Frame)

	txErr       atomic.Pointer[error]
	transmitted [][]byte
	events      chan Event

	calls struct {
		connect     atomic.Int32
		disconnect  atomic.Int32
		scan        atomic.Int32
		setMode     atomic.Int32
		setConfig   atomic.Int32
		transmit    atomic.Int32
		hookInstall atomic.Int32
		hookRemove  atomic.Int32
	}
	outstanding atomic.Int32
}

// Make a simulated driver in station mode.
func NewSimDriver() *SimDriver {
	d := new(SimDriver)
	d.AssociateDelay = 20 * time.Millisecond
	d.config.Mode = ModeStation
	d.hwaddr = SimHardwareAddr
	d.events = make(chan Event, 64)
	return d
}

// Send an event unless the driver is closed. Caller must hold mu.
func (d *SimDriver) emitLocked(ev Event) {
	if d.closed {
		return
	}
	select {
	case d.events <- ev:
	default:
		// Queue full, mirror a driver that drops events under load.
	}
}

func (d *SimDriver) emit(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emitLocked(ev)
}

func (d *SimDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("driver closed")
	}
	d.started = true
	d.emitLocked(Event{Kind: EventStationStarted})
	return nil
}

func (d *SimDriver) Connect() error {
	d.calls.connect.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return errors.New("driver not started")
	}
	if d.config.Mode != ModeStation {
		return fmt.Errorf("connect requires station mode, have %v", d.config.Mode)
	}
	if d.config.Station.SSID == "" {
		return errors.New("no station config")
	}
	if d.assoc || d.pending != nil {
		return nil
	}
	cfg := d.config.Station
	if d.Reachable != nil && !d.Reachable(cfg) {
		// The real radio reports a failed attempt as a disconnect.
		d.pending = time.AfterFunc(d.AssociateDelay, func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.pending = nil
			d.emitLocked(Event{Kind: EventDisassociated, Reason: 201})
		})
		return nil
	}
	var t *time.Timer
	t = time.AfterFunc(d.AssociateDelay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.pending != t {
			return
		}
		d.pending = nil
		d.assoc = true
		d.emitLocked(Event{Kind: EventAssociated})
	})
	d.pending = t
	return nil
}

func (d *SimDriver) Disconnect() error {
	d.calls.disconnect.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	wasActive := d.assoc || d.pending != nil
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
	d.assoc = false
	if wasActive {
		d.emitLocked(Event{Kind: EventDisassociated, Reason: 8})
	}
	return nil
}

// Simulate the access point going away.
func (d *SimDriver) DropLink(reason int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assoc = false
	d.emitLocked(Event{Kind: EventDisassociated, Reason: reason})
}

// Replace the records returned by scans.
func (d *SimDriver) SetRecords(records []ScanRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Records = records
}

// Push an arbitrary event, as a driver would.
func (d *SimDriver) Emit(ev Event) {
	d.emit(ev)
}

func (d *SimDriver) Scan(ssid string) error {
	d.calls.scan.Add(1)
	d.mu.Lock()
	mode := d.config.Mode
	found := d.Records
	d.mu.Unlock()
	if mode != ModeStation {
		return errors.New("scan requires station mode")
	}

	// Filter records by SSID when one is requested.
	var records []ScanRecord
	for _, rec := range found {
		if ssid == "" || strings.EqualFold(rec.SSID, ssid) {
			records = append(records, rec)
		}
	}
	go d.emit(Event{Kind: EventScanCompleted, Records: records})
	return nil
}

func (d *SimDriver) SetMode(m Mode) error {
	d.calls.setMode.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if m != ModeStation && m != ModeAccessPoint {
		return fmt.Errorf("unsupported mode %v", m)
	}
	if d.config.Mode == ModeStation && m != ModeStation && (d.assoc || d.pending != nil) {
		if d.pending != nil {
			d.pending.Stop()
			d.pending = nil
		}
		d.assoc = false
		d.emitLocked(Event{Kind: EventDisassociated, Reason: 8})
	}
	d.config.Mode = m
	return nil
}

func (d *SimDriver) SetStationConfig(cfg StationConfig) error {
	d.calls.setConfig.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config.Station = cfg
	return nil
}

func (d *SimDriver) SetAPConfig(cfg APConfig) error {
	d.calls.setConfig.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config.AP = cfg
	return nil
}

func (d *SimDriver) Config() (Config, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg := d.config
	if d.assoc {
		cfg.Channel = 6
	}
	return cfg, nil
}

// Make Transmit fail with err, or succeed again with nil.
func (d *SimDriver) SetTransmitError(err error) {
	if err == nil {
		d.txErr.Store(nil)
		return
	}
	d.txErr.Store(&err)
}

func (d *SimDriver) Transmit(data []byte) error {
	d.calls.transmit.Add(1)
	if errp := d.txErr.Load(); errp != nil {
		return *errp
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	d.mu.Lock()
	d.transmitted = append(d.transmitted, buf)
	d.mu.Unlock()
	return nil
}

// Frames passed to Transmit, in order.
func (d *SimDriver) Transmitted() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.transmitted...)
}

func (d *SimDriver) RegisterReceiveHook(hook func(*Frame)) {
	// Waits for any running callback, so no frame is delivered
	// through a hook after it was removed.
	d.hookLock.Lock()
	defer d.hookLock.Unlock()
	if hook == nil {
		if d.hook != nil {
			d.calls.hookRemove.Add(1)
		}
	} else {
		d.calls.hookInstall.Add(1)
	}
	d.hook = hook
}

// Is a receive hook installed?
func (d *SimDriver) HookInstalled() bool {
	d.hookLock.RLock()
	defer d.hookLock.RUnlock()
	return d.hook != nil
}

// Deliver a frame from the air through the installed hook. Returns false
// if no hook was installed, in which case the buffer is freed right away.
func (d *SimDriver) InjectFrame(data []byte) bool {
	buf := make([]byte, len(data))
	copy(buf, data)
	d.outstanding.Add(1)
	f := NewFrame(buf, func([]byte) {
		d.outstanding.Add(-1)
	})

	d.hookLock.RLock()
	defer d.hookLock.RUnlock()
	if d.hook == nil {
		f.Release()
		return false
	}
	d.hook(f)
	return true
}

func (d *SimDriver) ReleaseReceiveBuffer(f *Frame) {
	f.Release()
}

// Number of injected frames whose buffer was not released yet.
func (d *SimDriver) Outstanding() int {
	return int(d.outstanding.Load())
}

func (d *SimDriver) HardwareAddr() (net.HardwareAddr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil, errors.New("driver not started")
	}
	mac := make(net.HardwareAddr, len(d.hwaddr))
	copy(mac, d.hwaddr)
	return mac, nil
}

func (d *SimDriver) Events() <-chan Event {
	return d.events
}

func (d *SimDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
	d.closed = true
	close(d.events)
	return nil
}

// Call counters, used by tests and the simulate mode's stats.
func (d *SimDriver) ConnectCalls() int     { return int(d.calls.connect.Load()) }
func (d *SimDriver) DisconnectCalls() int  { return int(d.calls.disconnect.Load()) }
func (d *SimDriver) ScanCalls() int        { return int(d.calls.scan.Load()) }
func (d *SimDriver) SetModeCalls() int     { return int(d.calls.setMode.Load()) }
func (d *SimDriver) SetConfigCalls() int   { return int(d.calls.setConfig.Load()) }
func (d *SimDriver) TransmitCalls() int    { return int(d.calls.transmit.Load()) }
func (d *SimDriver) HookInstalls() int     { return int(d.calls.hookInstall.Load()) }
func (d *SimDriver) HookRemovals() int     { return int(d.calls.hookRemove.Load()) }
func (d *SimDriver) TotalCalls() int {
	return d.ConnectCalls() + d.DisconnectCalls() + d.ScanCalls() +
		d.SetModeCalls() + d.SetConfigCalls() + d.TransmitCalls()
}
