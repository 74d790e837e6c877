package bridge

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Describe a frame for trace logs without copying it.
func describeFrame(data []byte) string {
	var eth layers.Ethernet
	err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback)
	if err != nil {
		return fmt.Sprintf("%d bytes, not ethernet: %v", len(data), err)
	}
	return fmt.Sprintf("%s > %s %v, %d bytes", eth.SrcMAC, eth.DstMAC, eth.EthernetType, len(data))
}
