package wifi

import (
	"fmt"
	"net"
	"strings"
)

// Operating mode of the radio.
type Mode int

const (
	ModeNone Mode = iota
	ModeStation
	ModeAccessPoint
)

// Get the short name used by the CLI and config for this mode.
func (m Mode) String() string {
	switch m {
	case ModeStation:
		return "sta"
	case ModeAccessPoint:
		return "ap"
	default:
		return "none"
	}
}

// Parse a mode name, accepting the long and short forms.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sta", "station":
		return ModeStation, nil
	case "ap", "accesspoint", "access-point":
		return ModeAccessPoint, nil
	}
	return ModeNone, fmt.Errorf("unknown mode: %q", s)
}

// Authentication used by a network.
type AuthMode int

const (
	AuthOpen AuthMode = iota
	AuthWEP
	AuthWPAPSK
	AuthWPA2PSK
	AuthWPAWPA2PSK
	AuthWPA3PSK
	AuthEnterprise
)

func (a AuthMode) String() string {
	switch a {
	case AuthOpen:
		return "open"
	case AuthWEP:
		return "wep"
	case AuthWPAPSK:
		return "wpa-psk"
	case AuthWPA2PSK:
		return "wpa2-psk"
	case AuthWPAWPA2PSK:
		return "wpa/wpa2-psk"
	case AuthWPA3PSK:
		return "wpa3-psk"
	case AuthEnterprise:
		return "enterprise"
	}
	return "unknown"
}

// Station (client) configuration.
type StationConfig struct {
	SSID       string
	Passphrase string
	// Fixed peer address, only used when set.
	BSSID      net.HardwareAddr
	PMFCapable bool
}

// Soft access point configuration.
type APConfig struct {
	SSID           string
	Passphrase     string
	MaxConnections int
	Auth           AuthMode
}

// Snapshot of the configuration the driver currently holds.
type Config struct {
	Mode    Mode
	Station StationConfig
	AP      APConfig
	// Channel of the associated network, 0 when unknown.
	Channel int
}

// A single scan result.
type ScanRecord struct {
	SSID    string
	BSSID   net.HardwareAddr
	RSSI    int
	Channel int
	Auth    AuthMode
}

// Driver is the capability set the bridge consumes from a wireless driver.
// Connect, Disconnect and Scan are asynchronous: their outcome is reported
// on the Events channel.
type Driver interface {
	// Start the radio in its current mode. Emits EventStationStarted.
	Start() error

	// Request association with the configured station network.
	Connect() error

	// Drop the current association. Emits EventDisassociated.
	Disconnect() error

	// Start a scan, optionally limited to one SSID. Emits EventScanCompleted.
	Scan(ssid string) error

	SetMode(Mode) error
	SetStationConfig(StationConfig) error
	SetAPConfig(APConfig) error

	// Config returns the configuration currently applied to the radio.
	Config() (Config, error)

	// Transmit one frame. The driver copies the data before returning.
	Transmit(data []byte) error

	// Install the receive callback, or remove it with nil.
	// After a nil registration returns, no new callback starts.
	RegisterReceiveHook(hook func(*Frame))

	// Give a received frame's buffer back to the driver.
	ReleaseReceiveBuffer(*Frame)

	// The station interface's assigned hardware address.
	HardwareAddr() (net.HardwareAddr, error)

	// Events returns a channel of driver events, closed by Close.
	Events() <-chan Event

	// Close stops the driver and closes the Events channel.
	Close() error
}
