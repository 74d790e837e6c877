// Package provision defines the out-of-band credential provisioning
// transport the bridge listens on while a provisioning session runs.
package provision

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Errors returned by transports.
var (
	ErrUnsupportedType = errors.New("unsupported provisioning type")
	ErrAlreadyActive   = errors.New("provisioning transport already active")
	ErrNotListening    = errors.New("provisioning transport not listening")
)

// Kind of provisioning protocol to listen for.
type Type int

const (
	// Credentials submitted over the bridge's own control socket.
	TypeControl Type = iota
)

func (t Type) String() string {
	switch t {
	case TypeControl:
		return "control"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Parse a provisioning type name.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "control":
		return TypeControl, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

// Network credentials acquired by a provisioning session.
type Credentials struct {
	SSID       string
	Passphrase string
	// Set when the provisioner pinned a specific access point.
	BSSID net.HardwareAddr
}

// Kind of provisioning event.
type EventKind int

const (
	// Credentials were received from the provisioning peer.
	EventCredentials EventKind = iota
	// The peer was told the device joined, the session is complete.
	EventAckDone
)

func (k EventKind) String() string {
	switch k {
	case EventCredentials:
		return "credentials"
	case EventAckDone:
		return "ack-done"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event emitted by a Transport.
type Event struct {
	Kind        EventKind
	Credentials Credentials
}

// Transport is a source of provisioning events. Begin starts listening,
// End stops it. Events is valid for the transport's lifetime.
type Transport interface {
	Begin(Type) error
	End() error
	Events() <-chan Event
}
