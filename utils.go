package main

import (
	"fmt"
	"net"
)

// Parse an optional Ethernet address. Empty input gives a nil address.
func parseOptionalMAC(s string) (net.HardwareAddr, error) {
	if s == "" {
		return nil, nil
	}
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, err
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("not an ethernet address: %s", s)
	}
	return mac, nil
}
