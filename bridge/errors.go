package bridge

import (
	"errors"
	"fmt"
)

var (
	// A command argument failed validation. Nothing was changed.
	ErrConfigurationRejected = errors.New("configuration rejected")

	// The wireless link cannot serve the request in its current state.
	ErrLinkUnavailable = errors.New("link unavailable")
	ErrNotAssociated   = fmt.Errorf("%w: not associated", ErrLinkUnavailable)
	ErrNotStarted      = fmt.Errorf("%w: link not started", ErrLinkUnavailable)
	ErrJoinTimeout     = fmt.Errorf("%w: join timed out", ErrLinkUnavailable)

	// A frame could not be handed to its destination.
	ErrDeliveryFailure = errors.New("delivery failure")

	// The wireless driver or provisioning transport failed a request.
	ErrDriverFault = errors.New("driver fault")

	// A provisioning session is already running.
	ErrProvisioningConflict = errors.New("provisioning in progress")
)
