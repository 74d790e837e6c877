package wifi

import "fmt"

// Kind of asynchronous driver event.
type EventKind int

const (
	// The station interface started; its hardware address is now valid.
	EventStationStarted EventKind = iota
	// Association with an access point completed.
	EventAssociated
	// Association was lost or dropped on request.
	EventDisassociated
	// An asynchronous scan finished.
	EventScanCompleted
	// The driver hit an unexpected error.
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
	case EventDriverError:
		return "driver-error"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event emitted by a Driver.
type Event struct {
	Kind EventKind
	// Set for EventScanCompleted.
	Records []ScanRecord
	// Reason code for EventDisassociated, when the driver knows one.
	Reason int
	// Set for EventDriverError.
	Err error
}
