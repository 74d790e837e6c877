package provision

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Control is a provisioning transport fed through the control socket. A
// submitter hands over credentials with Submit, which emits them and then
// waits for the device to associate before acknowledging.
type Control struct {
	mu      sync.Mutex
	active  bool
	typ     Type
	session context.Context
	cancel  context.CancelFunc

	events chan Event
	closed chan struct{}
	once   sync.Once
	log    *log.Entry
}

// Make a control transport.
func NewControl() *Control {
	c := new(Control)
	c.events = make(chan Event)
	c.closed = make(chan struct{})
	c.log = log.WithField("component", "provision")
	return c
}

func (c *Control) Begin(t Type) error {
	if t != TypeControl {
		return ErrUnsupportedType
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return ErrAlreadyActive
	}
	c.active = true
	c.typ = t
	c.session, c.cancel = context.WithCancel(context.Background())
	c.log.Printf("Listening for %v provisioning.", t)
	return nil
}

func (c *Control) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	c.active = false
	c.cancel()
	c.log.Print("Provisioning listener stopped.")
	return nil
}

// Is the transport listening for credentials?
func (c *Control) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Control) Events() <-chan Event {
	return c.events
}

// Send an event, giving up when the session ends.
func (c *Control) emit(session context.Context, ev Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-session.Done():
		return ErrNotListening
	case <-c.closed:
		return ErrNotListening
	}
}

// Submit credentials to the running session. The call returns once
// associated reports the device joined, and the session was acknowledged,
// or when ctx or the session ends first.
func (c *Control) Submit(ctx context.Context, creds Credentials, associated func(context.Context) error) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return ErrNotListening
	}
	session := c.session
	c.mu.Unlock()

	// Stop waiting if the session ends under us.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(session, cancel)
	defer stop()

	err := c.emit(session, Event{Kind: EventCredentials, Credentials: creds})
	if err != nil {
		return err
	}

	if associated != nil {
		err = associated(ctx)
		if err != nil {
			if session.Err() != nil {
				return ErrNotListening
			}
			return err
		}
	}
	return c.emit(session, Event{Kind: EventAckDone})
}

// Close the transport. Pending submits fail with ErrNotListening. The event
// channel is never closed, readers stop on their own signal.
func (c *Control) Close() error {
	c.End()
	c.once.Do(func() {
		close(c.closed)
	})
	return nil
}
