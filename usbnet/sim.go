package usbnet

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
)

// SimTransport is an in-memory Transport. Frames sent to the host are kept
// for inspection, frames from the host are injected with InjectFrame.
type SimTransport struct {
	ready   atomic.Bool
	closed  atomic.Bool
	sendErr atomic.Pointer[error]

	// Time each SendSync takes before it returns, bounded by the deadline.
	latency atomic.Int64

	mu      sync.Mutex
	handler func(*wifi.Frame)
	sent    [][]byte
	hwaddr  net.HardwareAddr

	sends atomic.Int32
}

// Make a simulated transport that is ready to send.
func NewSimTransport() *SimTransport {
	t := new(SimTransport)
	t.ready.Store(true)
	return t
}

// Mark the host link up or down.
func (t *SimTransport) SetReady(ready bool) {
	t.ready.Store(ready)
}

func (t *SimTransport) IsReady() bool {
	return t.ready.Load() && !t.closed.Load()
}

// Make SendSync fail with err, or succeed again with nil.
func (t *SimTransport) SetSendError(err error) {
	if err == nil {
		t.sendErr.Store(nil)
		return
	}
	t.sendErr.Store(&err)
}

// Make each SendSync take d before completing.
func (t *SimTransport) SetLatency(d time.Duration) {
	t.latency.Store(int64(d))
}

func (t *SimTransport) SendSync(f *wifi.Frame, deadline time.Time) error {
	t.sends.Add(1)
	if t.closed.Load() {
		return ErrClosed
	}
	if !t.ready.Load() {
		return ErrNotReady
	}
	if lat := time.Duration(t.latency.Load()); lat > 0 {
		wait := time.Until(deadline)
		if lat > wait {
			if wait > 0 {
				time.Sleep(wait)
			}
			return ErrBusy
		}
		time.Sleep(lat)
	}
	if errp := t.sendErr.Load(); errp != nil {
		return *errp
	}

	buf := make([]byte, len(f.Data))
	copy(buf, f.Data)
	t.mu.Lock()
	t.sent = append(t.sent, buf)
	t.mu.Unlock()

	// The frame is ours now and the copy is kept, so free it.
	f.Release()
	return nil
}

// Frames delivered to the host, in order.
func (t *SimTransport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.sent...)
}

// Number of SendSync calls, successful or not.
func (t *SimTransport) SendCalls() int {
	return int(t.sends.Load())
}

func (t *SimTransport) SetReceiveHandler(h func(*wifi.Frame)) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Deliver a frame as if the host sent it. The returned frame lets callers
// check it was released. Returns nil if no handler is set.
func (t *SimTransport) InjectFrame(data []byte) *wifi.Frame {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h == nil {
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f := wifi.NewFrame(buf, nil)
	h(f)
	return f
}

func (t *SimTransport) SetHardwareAddr(mac net.HardwareAddr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hwaddr = append(net.HardwareAddr(nil), mac...)
	return nil
}

// The hardware address last published to the host.
func (t *SimTransport) HardwareAddr() net.HardwareAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append(net.HardwareAddr(nil), t.hwaddr...)
}

func (t *SimTransport) Close() error {
	t.closed.Store(true)
	return nil
}
