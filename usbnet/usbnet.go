// Package usbnet provides the host-facing side of the bridge: a USB network
// function (NCM or ECM) that the host computer sees as an Ethernet adapter.
package usbnet

import (
	"errors"
	"net"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
)

// Errors returned by SendSync.
var (
	// The host has not enumerated or brought the link up.
	ErrNotReady = errors.New("usb network link not ready")
	// The transmit queue stayed full until the deadline.
	ErrBusy = errors.New("usb network link busy")
	// The transport was closed.
	ErrClosed = errors.New("usb network transport closed")
)

// Transport is the USB network endpoint the bridge forwards frames to and
// receives frames from.
type Transport interface {
	// Deliver a frame to the host, giving up at deadline. On success the
	// transport owns the frame; on error the caller still owns it.
	SendSync(f *wifi.Frame, deadline time.Time) error

	// Can the host receive frames right now?
	IsReady() bool

	// Set the function that receives frames sent by the host. The handler
	// owns each frame it is given.
	SetReceiveHandler(func(*wifi.Frame))

	// Publish the hardware address the host should see.
	SetHardwareAddr(net.HardwareAddr) error

	Close() error
}
