//go:build linux

// Package rawsock opens AF_PACKET sockets that carry whole Ethernet frames
// for one network interface.
package rawsock

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

const (
	bufferSize = 2 // in MiB
	snaplen    = 9216
)

// Only accept frames the kernel did not send itself, so frames we
// write are not read back as received traffic.
var inboundOnly = []bpf.RawInstruction{
	// A = skb->pkt_type
	{Op: 0x20, Jt: 0, Jf: 0, K: 0xfffff004},
	// if A == PACKET_OUTGOING
	{Op: 0x15, Jt: 0, Jf: 1, K: unix.PACKET_OUTGOING},
	{Op: 0x06, Jt: 0, Jf: 0, K: 0x00000000},
	{Op: 0x06, Jt: 0, Jf: 0, K: 0x00040000},
}

// Read poll timeout, bounds how long Close waits for a reader.
const PollTimeout = 100 * time.Millisecond

// Work out ring sizes for the target buffer size.
func computeSize(targetSizeMb int, snaplen int, pageSize int) (frameSize int, blockSize int, numBlocks int, err error) {
	if snaplen < pageSize {
		frameSize = pageSize / (pageSize / snaplen)
	} else {
		frameSize = (snaplen/pageSize + 1) * pageSize
	}

	// 128 is the default from the gopacket library so just use that
	blockSize = frameSize * 128
	numBlocks = (targetSizeMb * 1024 * 1024) / blockSize

	if numBlocks == 0 {
		return 0, 0, 0, fmt.Errorf("interface buffersize is too small")
	}
	return frameSize, blockSize, numBlocks, nil
}

// Open a packet ring on the interface that only sees inbound frames.
func Open(ifName string) (*afpacket.TPacket, error) {
	szFrame, szBlock, numBlocks, err := computeSize(bufferSize, snaplen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(ifName),
		afpacket.OptFrameSize(szFrame),
		afpacket.OptBlockSize(szBlock),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptAddVLANHeader(false),
		afpacket.OptPollTimeout(PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3)
	if err != nil {
		return nil, fmt.Errorf("failed to open AF_PACKET socket on %s: %v", ifName, err)
	}

	err = tp.SetBPF(inboundOnly)
	if err != nil {
		tp.Close()
		return nil, fmt.Errorf("failed to set BPF filter on %s: %v", ifName, err)
	}
	return tp, nil
}

// Is this read error only a poll timeout?
func IsTimeout(err error) bool {
	return errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) || errors.Is(err, unix.EINTR)
}

// Is this write error caused by a full queue or a down link, which the
// caller should treat as backpressure rather than a fault?
func IsBackpressure(err error) bool {
	return errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.ENETDOWN) || errors.Is(err, unix.ENXIO)
}
