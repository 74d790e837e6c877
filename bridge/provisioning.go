package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/provision"
	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	log "github.com/sirupsen/logrus"
)

// Default lifetime of a provisioning session.
const DefaultProvisioningTimeout = 2 * time.Minute

// Phase of the provisioning session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseCompleted:
		return "completed"
	}
	return "unknown"
}

// A running provisioning session.
type session struct {
	typ    provision.Type
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	errs   chan error
	timer  *time.Timer
	// Reconnect policy before the session started.
	saved bool
	// Network of the last accepted credentials.
	ssid string
}

// Provisioner runs at most one provisioning session at a time.
type Provisioner struct {
	mu      sync.Mutex
	phase   Phase
	session *session

	link      *LinkState
	driver    wifi.Driver
	transport provision.Transport
	reporter  Reporter
	timeout   atomic.Int64
	log       *log.Entry
}

func newProvisioner(link *LinkState, driver wifi.Driver, transport provision.Transport, reporter Reporter, timeout time.Duration) *Provisioner {
	p := new(Provisioner)
	p.link = link
	p.driver = driver
	p.transport = transport
	p.reporter = reporter
	p.log = log.WithField("component", "provisioning")
	p.SetTimeout(timeout)
	return p
}

// Change the lifetime of future sessions. Zero or less disables it.
func (p *Provisioner) SetTimeout(timeout time.Duration) {
	p.timeout.Store(int64(timeout))
}

// Get the session phase.
func (p *Provisioner) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Is a session listening for credentials?
func (p *Provisioner) Listening() bool {
	return p.Phase() == PhaseListening
}

// Run fn unless a session is running. A session cannot start until fn
// returns.
func (p *Provisioner) unlessActive(fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return ErrProvisioningConflict
	}
	return fn()
}

// Remember the network the running session was handed.
func (p *Provisioner) accepted(ssid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.session.ssid = ssid
	}
}

// Start a session of the given type.
func (p *Provisioner) Start(t provision.Type) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return ErrProvisioningConflict
	}
	if !p.link.Started() {
		return ErrNotStarted
	}
	if p.transport == nil {
		return fmt.Errorf("%w: no provisioning transport", ErrDriverFault)
	}

	saved, wasAssociated := p.link.beginProvisioning()
	if wasAssociated {
		err := p.driver.Disconnect()
		if err != nil {
			p.log.Errorf("Failed to disconnect for provisioning: %v", err)
		}
	}

	err := p.transport.Begin(t)
	if err != nil {
		p.link.endProvisioning(saved)
		return fmt.Errorf("%w: %v", ErrDriverFault, err)
	}

	s := &session{
		typ:   t,
		done:  make(chan struct{}),
		errs:  make(chan error, 4),
		saved: saved,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	p.session = s
	p.phase = PhaseListening
	go p.run(s)

	if timeout := time.Duration(p.timeout.Load()); timeout > 0 {
		s.timer = time.AfterFunc(timeout, func() {
			p.expire(s)
		})
	}
	p.log.Printf("Provisioning started (%v).", t)
	return nil
}

// Stop the running session. Returns once its goroutine exited. Without a
// running session this does nothing.
func (p *Provisioner) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.session
	if s == nil {
		return nil
	}
	p.teardownLocked(s)
	state := p.link.endProvisioning(s.saved)
	p.phase = PhaseIdle
	p.log.Printf("Provisioning stopped, link %v.", state)
	p.reporter.ProvisioningFinished(ProvisioningResult{Phase: PhaseIdle, At: time.Now()})
	return nil
}

// The session timed out.
func (p *Provisioner) expire(s *session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != s {
		return
	}
	p.teardownLocked(s)
	state := p.link.endProvisioning(s.saved)
	p.phase = PhaseIdle
	p.log.Printf("Provisioning timed out, link %v.", state)
	p.reporter.ProvisioningFinished(ProvisioningResult{
		Phase: PhaseIdle,
		Err:   context.DeadlineExceeded,
		At:    time.Now(),
	})
}

// The provisioning peer acknowledged, the device is on the new network.
func (p *Provisioner) acked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.session
	if s == nil || p.phase != PhaseListening {
		return false
	}
	p.teardownLocked(s)
	p.link.completeProvisioning()
	p.phase = PhaseCompleted
	p.log.Printf("Provisioning completed on %q.", s.ssid)
	p.reporter.ProvisioningFinished(ProvisioningResult{
		Phase: PhaseCompleted,
		SSID:  s.ssid,
		At:    time.Now(),
	})
	return true
}

// Report a failed attempt to the running session.
func (p *Provisioner) fail(err error) {
	p.mu.Lock()
	s := p.session
	p.mu.Unlock()
	if s == nil {
		p.log.Errorf("Provisioning attempt failed without a session: %v", err)
		return
	}
	select {
	case s.errs <- err:
	default:
		p.log.Errorf("Provisioning attempt failed: %v", err)
	}
}

// Cancel the session, wait for its goroutine and stop the transport.
// Caller must hold mu.
func (p *Provisioner) teardownLocked(s *session) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.cancel()
	<-s.done
	err := p.transport.End()
	if err != nil {
		p.log.Errorf("Failed to stop provisioning transport: %v", err)
	}
	p.session = nil
}

// Session goroutine, reports failed attempts until cancelled.
func (p *Provisioner) run(s *session) {
	defer func() {
		p.log.Debug("provisioning session - stopped")
		close(s.done)
	}()
	p.log.Debug("provisioning session - started")

	for {
		select {
		case <-s.ctx.Done():
			return
		case err := <-s.errs:
			p.reporter.ProvisioningFinished(ProvisioningResult{
				Phase: PhaseListening,
				Err:   err,
				At:    time.Now(),
			})
		}
	}
}
