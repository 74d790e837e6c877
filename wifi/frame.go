package wifi

import "sync/atomic"

// Frame is an opaque link-layer frame owned by exactly one stage at a time.
// The final owner calls Release exactly once; extra calls are ignored.
type Frame struct {
	Data []byte

	release  func([]byte)
	released atomic.Bool
}

// Wrap a buffer in a frame. The release function, if any, receives the
// buffer back when the final owner is done with it.
func NewFrame(data []byte, release func([]byte)) *Frame {
	return &Frame{
		Data:    data,
		release: release,
	}
}

// Give the buffer back to its allocator. Only the first call has an effect.
func (f *Frame) Release() {
	if f == nil || !f.released.CompareAndSwap(false, true) {
		return
	}
	if f.release != nil {
		f.release(f.Data)
	}
}

// Has this frame been released?
func (f *Frame) Released() bool {
	return f.released.Load()
}

// Length of the frame payload.
func (f *Frame) Len() int {
	return len(f.Data)
}
