package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptionalMAC(t *testing.T) {
	mac, err := parseOptionalMAC("")
	require.NoError(t, err)
	assert.Nil(t, mac)

	mac, err = parseOptionalMAC("02:02:84:6a:96:00")
	require.NoError(t, err)
	assert.Equal(t, net.HardwareAddr{0x02, 0x02, 0x84, 0x6a, 0x96, 0x00}, mac)

	_, err = parseOptionalMAC("zz")
	assert.Error(t, err)

	// Longer link-layer addresses are not Ethernet.
	_, err = parseOptionalMAC("00:00:00:00:fe:80:00:00:00:00:00:00:02:00:5e:10:00:00:00:01")
	assert.Error(t, err)
}
