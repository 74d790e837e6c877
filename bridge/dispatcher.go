package bridge

import (
	"fmt"
	"sync"

	"github.com/grmrgecko/wifi-ncm-bridge/provision"
	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	log "github.com/sirupsen/logrus"
)

// Kind of event handled by the dispatcher.
type EventKind int

const (
	EventStationStarted EventKind = iota
	EventAssociated
	EventDisassociated
	EventScanCompleted
	EventCredentialsAcquired
	EventProvisioningAcked
	EventDriverError
)

func (k EventKind) String() string {
	switch k {
	case EventStationStarted:
		return "station-started"
	case EventAssociated:
		return "associated"
	case EventDisassociated:
		return "disassociated"
	case EventScanCompleted:
		return "scan-completed"
	case EventCredentialsAcquired:
		return "credentials-acquired"
	case EventProvisioningAcked:
		return "provisioning-acked"
	case EventDriverError:
		return "driver-error"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event queued for the dispatcher.
type Event struct {
	Kind        EventKind
	Records     []wifi.ScanRecord
	Reason      int
	Credentials provision.Credentials
	Err         error
}

// Convert a driver event.
func driverEvent(ev wifi.Event) Event {
	out := Event{Records: ev.Records, Reason: ev.Reason, Err: ev.Err}
	switch ev.Kind {
	case wifi.EventStationStarted:
		out.Kind = EventStationStarted
	case wifi.EventAssociated:
		out.Kind = EventAssociated
	case wifi.EventDisassociated:
		out.Kind = EventDisassociated
	case wifi.EventScanCompleted:
		out.Kind = EventScanCompleted
	default:
		out.Kind = EventDriverError
		if out.Err == nil {
			out.Err = fmt.Errorf("unknown driver event %v", ev.Kind)
		}
	}
	return out
}

// Convert a provisioning event.
func provisionEvent(ev provision.Event) Event {
	switch ev.Kind {
	case provision.EventCredentials:
		return Event{Kind: EventCredentialsAcquired, Credentials: ev.Credentials}
	case provision.EventAckDone:
		return Event{Kind: EventProvisioningAcked}
	}
	return Event{Kind: EventDriverError, Err: fmt.Errorf("unknown provisioning event %v", ev.Kind)}
}

// Dispatcher consumes driver and provisioning events one at a time, in
// the order they were queued, on a single goroutine.
type Dispatcher struct {
	b      *Bridge
	queue  chan Event
	closed chan struct{}
	once   sync.Once

	stopping sync.WaitGroup
	log      *log.Entry
}

func newDispatcher(b *Bridge, size int) *Dispatcher {
	if size <= 0 {
		size = 32
	}
	d := new(Dispatcher)
	d.b = b
	d.queue = make(chan Event, size)
	d.closed = make(chan struct{})
	d.log = log.WithField("component", "dispatcher")
	return d
}

// Start consuming events from the driver and the provisioning transport.
func (d *Dispatcher) start(driverEvents <-chan wifi.Event, provEvents <-chan provision.Event) {
	d.stopping.Add(1)
	go d.eventLoop()

	if driverEvents != nil {
		d.stopping.Add(1)
		go func() {
			defer d.stopping.Done()
			for {
				select {
				case <-d.closed:
					return
				case ev, ok := <-driverEvents:
					if !ok {
						d.log.Debug("driver event reader - stopped")
						return
					}
					d.Post(driverEvent(ev))
				}
			}
		}()
	}

	if provEvents != nil {
		d.stopping.Add(1)
		go func() {
			defer d.stopping.Done()
			for {
				select {
				case <-d.closed:
					return
				case ev, ok := <-provEvents:
					if !ok {
						d.log.Debug("provisioning event reader - stopped")
						return
					}
					d.Post(provisionEvent(ev))
				}
			}
		}()
	}
}

// Queue an event. Blocks while the queue is full, returns false once the
// dispatcher is stopped.
func (d *Dispatcher) Post(ev Event) bool {
	select {
	case <-d.closed:
		return false
	default:
	}
	select {
	case <-d.closed:
		return false
	case d.queue <- ev:
		return true
	}
}

func (d *Dispatcher) eventLoop() {
	defer func() {
		d.log.Debug("event loop - stopped")
		d.stopping.Done()
	}()
	d.log.Debug("event loop - started")

	for {
		select {
		case <-d.closed:
			return
		case ev := <-d.queue:
			d.b.handleEvent(ev)
		}
	}
}

// Stop the dispatcher and wait for its goroutines.
func (d *Dispatcher) stop() {
	d.once.Do(func() {
		close(d.closed)
	})
	d.stopping.Wait()
}
