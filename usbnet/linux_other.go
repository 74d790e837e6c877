//go:build !linux

package usbnet

import "errors"

// LinuxTransport is only available on Linux.
type LinuxTransport struct {
	Transport
}

func NewLinuxTransport(iface, hostAddrPath string) (*LinuxTransport, error) {
	return nil, errors.New("the linux usb transport is not supported on this platform")
}
