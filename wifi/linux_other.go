//go:build !linux

package wifi

import "errors"

// Default directory of wpa_supplicant control sockets.
const DefaultControlDir = "/var/run/wpa_supplicant"

// LinuxDriver is only available on Linux.
type LinuxDriver struct {
	Driver
}

func NewLinuxDriver(iface, ctrlDir string) (*LinuxDriver, error) {
	return nil, errors.New("the linux wifi driver is not supported on this platform")
}
