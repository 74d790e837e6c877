package bridge

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	log "github.com/sirupsen/logrus"
)

// Hardware address reported before the station interface started.
var DefaultHardwareAddr = net.HardwareAddr{0x02, 0x02, 0x84, 0x6a, 0x96, 0x00}

// State of the wireless link as seen by the bridge.
type State uint32

const (
	StateDisassociated State = iota
	StateAssociating
	StateAssociated
	StateProvisioning
)

func (s State) String() string {
	switch s {
	case StateDisassociated:
		return "disassociated"
	case StateAssociating:
		return "associating"
	case StateAssociated:
		return "associated"
	case StateProvisioning:
		return "provisioning"
	}
	return "unknown"
}

// LinkState tracks association and the reconnect policy. The receive hook
// is installed with the driver exactly while the state is Associated;
// every change happens under one lock.
type LinkState struct {
	state struct {
		current       atomic.Uint32
		autoReconnect bool
		started       bool
		// The driver reported association, even if the bridge did not act on it.
		driverAssoc bool
		// Closed and replaced on every change.
		changed chan struct{}
		sync.Mutex
	}

	// Bumped on every hook change, callbacks from an older hook drop their frame.
	epoch  atomic.Uint64
	hwaddr atomic.Pointer[net.HardwareAddr]

	driver  wifi.Driver
	onFrame func(*wifi.Frame)
	stats   *Stats
	log     *log.Entry
}

// Make a disassociated link. Frames received while associated go to onFrame.
func NewLinkState(driver wifi.Driver, onFrame func(*wifi.Frame), stats *Stats) *LinkState {
	l := new(LinkState)
	l.state.changed = make(chan struct{})
	l.driver = driver
	l.onFrame = onFrame
	l.stats = stats
	l.log = log.WithField("component", "link")
	return l
}

// Get the current state.
func (l *LinkState) State() State {
	return State(l.state.current.Load())
}

// Is the link associated? Safe to call from any goroutine without locking.
func (l *LinkState) IsAssociated() bool {
	return l.State() == StateAssociated
}

// Change the state, moving the receive hook as needed.
func (l *LinkState) TransitionTo(want State) {
	l.state.Lock()
	defer l.state.Unlock()
	l.transitionLocked(want)
}

// Change the state. Caller must hold the state lock.
func (l *LinkState) transitionLocked(want State) bool {
	old := l.State()
	if old == want {
		return false
	}

	// The hook leaves before anything else sees the new state.
	if old == StateAssociated {
		l.removeHook()
	}
	if want == StateAssociated {
		l.installHook()
	}
	l.state.current.Store(uint32(want))
	l.notifyLocked()

	if l.stats != nil {
		l.stats.LinkState.Set(float64(want))
	}
	l.log.Debugf("Link state %v -> %v", old, want)
	return true
}

// Wake everyone waiting for a change. Caller must hold the state lock.
func (l *LinkState) notifyLocked() {
	close(l.state.changed)
	l.state.changed = make(chan struct{})
}

func (l *LinkState) installHook() {
	epoch := l.epoch.Add(1)
	l.driver.RegisterReceiveHook(func(f *wifi.Frame) {
		l.deliver(epoch, f)
	})
	if l.stats != nil {
		l.stats.HookInstalls.Inc()
	}
}

func (l *LinkState) removeHook() {
	l.epoch.Add(1)
	l.driver.RegisterReceiveHook(nil)
	if l.stats != nil {
		l.stats.HookRemovals.Inc()
	}
}

// Receive callback. Runs on the driver's goroutine.
func (l *LinkState) deliver(epoch uint64, f *wifi.Frame) {
	if l.epoch.Load() != epoch || !l.IsAssociated() || l.onFrame == nil {
		if l.stats != nil {
			l.stats.UplinkDropped.Inc()
		}
		l.driver.ReleaseReceiveBuffer(f)
		return
	}
	l.onFrame(f)
}

// Wait until check accepts the state, ctx ends or timeout passes.
func (l *LinkState) await(ctx context.Context, timeout time.Duration, check func() bool) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		l.state.Lock()
		ok := check()
		changed := l.state.changed
		l.state.Unlock()
		if ok {
			return true
		}

		select {
		case <-changed:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// Wait for the link to become associated.
func (l *LinkState) AwaitAssociated(ctx context.Context, timeout time.Duration) bool {
	return l.await(ctx, timeout, func() bool {
		return l.State() == StateAssociated
	})
}

// Wait for the link to leave the associated state.
func (l *LinkState) AwaitDisassociated(ctx context.Context, timeout time.Duration) bool {
	return l.await(ctx, timeout, func() bool {
		return l.State() != StateAssociated && !l.state.driverAssoc
	})
}

// Wait for the driver to report association, whether or not the bridge
// acts on it. Used by provisioning, which holds the link back meanwhile.
func (l *LinkState) AwaitDriverAssociated(ctx context.Context, timeout time.Duration) bool {
	return l.await(ctx, timeout, func() bool {
		return l.state.driverAssoc
	})
}

// Wait for the station interface to start.
func (l *LinkState) AwaitStarted(ctx context.Context, timeout time.Duration) bool {
	return l.await(ctx, timeout, func() bool {
		return l.state.started
	})
}

// Get the reconnect policy.
func (l *LinkState) AutoReconnect() bool {
	l.state.Lock()
	defer l.state.Unlock()
	return l.state.autoReconnect
}

// Set the reconnect policy.
func (l *LinkState) SetAutoReconnect(enabled bool) {
	l.state.Lock()
	l.state.autoReconnect = enabled
	l.state.Unlock()
}

// Has the station interface started?
func (l *LinkState) Started() bool {
	l.state.Lock()
	defer l.state.Unlock()
	return l.state.started
}

func (l *LinkState) markStarted() {
	l.state.Lock()
	l.state.started = true
	l.notifyLocked()
	l.state.Unlock()
}

// Does the driver report association?
func (l *LinkState) DriverAssociated() bool {
	l.state.Lock()
	defer l.state.Unlock()
	return l.state.driverAssoc
}

// Publish the station hardware address. Only the first call has an effect.
func (l *LinkState) publishHardwareAddr(mac net.HardwareAddr) bool {
	mac = append(net.HardwareAddr(nil), mac...)
	return l.hwaddr.CompareAndSwap(nil, &mac)
}

// Get the station hardware address, or the default before it is known.
func (l *LinkState) HardwareAddr() net.HardwareAddr {
	if mac := l.hwaddr.Load(); mac != nil {
		return append(net.HardwareAddr(nil), (*mac)...)
	}
	return append(net.HardwareAddr(nil), DefaultHardwareAddr...)
}

// The driver associated. Moves the link to Associated unless provisioning
// holds it.
func (l *LinkState) driverAssociated() State {
	l.state.Lock()
	defer l.state.Unlock()
	l.state.driverAssoc = true
	if l.State() != StateProvisioning {
		l.transitionLocked(StateAssociated)
	} else {
		l.notifyLocked()
	}
	return l.State()
}

// The driver lost association. Returns whether a reconnect should be
// requested, in which case the link is already Associating.
func (l *LinkState) driverDisassociated(hostReady bool) bool {
	l.state.Lock()
	defer l.state.Unlock()
	l.state.driverAssoc = false
	if l.State() == StateProvisioning {
		l.notifyLocked()
		return false
	}
	l.transitionLocked(StateDisassociated)
	if !l.state.autoReconnect || !hostReady {
		return false
	}
	l.transitionLocked(StateAssociating)
	return true
}

// Hold the link for provisioning. Returns the reconnect policy to restore
// later and whether the link was associated.
func (l *LinkState) beginProvisioning() (saved bool, wasAssociated bool) {
	l.state.Lock()
	defer l.state.Unlock()
	saved = l.state.autoReconnect
	wasAssociated = l.state.driverAssoc || l.State() == StateAssociated
	l.state.autoReconnect = false
	// The caller disconnects, don't let a stale bit promote the link later.
	l.state.driverAssoc = false
	l.transitionLocked(StateProvisioning)
	return
}

// Release the link after provisioning stopped without an ack.
func (l *LinkState) endProvisioning(saved bool) State {
	l.state.Lock()
	defer l.state.Unlock()
	if l.State() == StateProvisioning {
		if l.state.driverAssoc {
			l.transitionLocked(StateAssociated)
		} else {
			l.transitionLocked(StateDisassociated)
		}
	}
	l.state.autoReconnect = saved
	return l.State()
}

// Provisioning was acknowledged, the device is on the new network.
func (l *LinkState) completeProvisioning() {
	l.state.Lock()
	defer l.state.Unlock()
	l.state.driverAssoc = true
	l.state.autoReconnect = true
	l.transitionLocked(StateAssociated)
}

// Start an association attempt. Returns false when already associated.
func (l *LinkState) beginAssociating(autoReconnect bool) bool {
	l.state.Lock()
	defer l.state.Unlock()
	l.state.autoReconnect = autoReconnect
	if l.State() == StateAssociated {
		return false
	}
	l.transitionLocked(StateAssociating)
	return true
}

// Start a requested join. An association from before no longer counts, so
// only a fresh report from the driver completes it. Fails while provisioning
// holds the link.
func (l *LinkState) beginJoin() error {
	l.state.Lock()
	defer l.state.Unlock()
	if l.State() == StateProvisioning {
		return ErrProvisioningConflict
	}
	l.state.autoReconnect = true
	l.state.driverAssoc = false
	l.transitionLocked(StateAssociating)
	return nil
}

// An association attempt failed before the driver reported anything.
func (l *LinkState) abortAssociating() {
	l.state.Lock()
	defer l.state.Unlock()
	if l.State() == StateAssociating {
		l.transitionLocked(StateDisassociated)
	}
}
