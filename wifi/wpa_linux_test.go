//go:build linux

package wifi

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWPAScanResults(t *testing.T) {
	reply := "bssid / frequency / signal level / flags / ssid\n" +
		"00:11:22:33:44:55\t2437\t-42\t[WPA2-PSK-CCMP][ESS]\thomenet\n" +
		"66:77:88:99:aa:bb\t5180\t-71\t[ESS]\tcafe guest\n" +
		"not a mac\t2412\t-50\t[ESS]\tbroken\n" +
		"cc:dd:ee:ff:00:11\t2412\t-80\t[WPA-PSK-TKIP][WPA2-PSK-CCMP][ESS]\t\n"

	records := parseWPAScanResults(reply)
	require.Len(t, records, 3)

	assert.Equal(t, "homenet", records[0].SSID)
	assert.Equal(t, net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}, records[0].BSSID)
	assert.Equal(t, 6, records[0].Channel)
	assert.Equal(t, -42, records[0].RSSI)
	assert.Equal(t, AuthWPA2PSK, records[0].Auth)

	assert.Equal(t, "cafe guest", records[1].SSID)
	assert.Equal(t, 36, records[1].Channel)
	assert.Equal(t, AuthOpen, records[1].Auth)

	assert.Equal(t, "", records[2].SSID)
	assert.Equal(t, AuthWPAWPA2PSK, records[2].Auth)
}

func TestParseWPAStatus(t *testing.T) {
	status := parseWPAStatus("bssid=00:11:22:33:44:55\nfreq=2437\nssid=homenet\nwpa_state=COMPLETED\n")
	assert.Equal(t, "homenet", status["ssid"])
	assert.Equal(t, "COMPLETED", status["wpa_state"])
}

func TestDisconnectReason(t *testing.T) {
	assert.Equal(t, 3, disconnectReason("CTRL-EVENT-DISCONNECTED bssid=00:11:22:33:44:55 reason=3 locally_generated=1"))
	assert.Equal(t, 0, disconnectReason("CTRL-EVENT-DISCONNECTED"))
}

func TestAuthFromFlags(t *testing.T) {
	assert.Equal(t, AuthEnterprise, authFromFlags("[WPA2-EAP-CCMP][ESS]"))
	assert.Equal(t, AuthWPA3PSK, authFromFlags("[WPA2-SAE-CCMP][ESS]"))
	assert.Equal(t, AuthWEP, authFromFlags("[WEP][ESS]"))
}
