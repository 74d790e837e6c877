//go:build linux

package usbnet

import (
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/grmrgecko/wifi-ncm-bridge/internal/rawsock"
	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// LinuxTransport moves frames over the netdev of a USB gadget network
// function, such as usb0 created by the f_ncm configfs function.
type LinuxTransport struct {
	iface        string
	hostAddrPath string

	state struct {
		ready    atomic.Bool
		stopping sync.WaitGroup
		sync.Mutex
	}

	handler atomic.Pointer[func(*wifi.Frame)]
	tpacket *afpacket.TPacket
	pool    sync.Pool

	closed    chan struct{}
	closeOnce sync.Once
	log       *log.Entry
}

// Open the gadget netdev. hostAddrPath, if set, is the configfs host_addr
// attribute the published hardware address is written to.
func NewLinuxTransport(iface, hostAddrPath string) (t *LinuxTransport, err error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to find usb interface %s: %v", iface, err)
	}

	t = new(LinuxTransport)
	t.iface = iface
	t.hostAddrPath = hostAddrPath
	t.closed = make(chan struct{})
	t.log = log.WithFields(log.Fields{
		"component": "usbnet",
		"interface": iface,
	})
	t.pool.New = func() any {
		b := make([]byte, 0, 2048)
		return &b
	}
	t.state.ready.Store(linkReady(link))

	t.tpacket, err = rawsock.Open(iface)
	if err != nil {
		return nil, err
	}

	// Subscribe before starting readers so no carrier change is missed.
	updates := make(chan netlink.LinkUpdate)
	done := make(chan struct{})
	err = netlink.LinkSubscribe(updates, done)
	if err != nil {
		t.tpacket.Close()
		return nil, fmt.Errorf("failed to subscribe to link updates: %v", err)
	}

	t.state.stopping.Add(2)
	go t.linkWatcher(updates, done)
	go t.packetReader()

	t.log.Printf("USB network transport started, host link ready: %v", t.IsReady())
	return t, nil
}

// Is the link administratively up with carrier?
func linkReady(link netlink.Link) bool {
	attrs := link.Attrs()
	if attrs.OperState == netlink.OperUp {
		return true
	}
	// Gadget drivers often report unknown while carrier is present.
	return attrs.OperState == netlink.OperUnknown && attrs.Flags&net.FlagUp != 0 && attrs.RawFlags&unix.IFF_LOWER_UP != 0
}

func (t *LinuxTransport) IsReady() bool {
	return t.state.ready.Load()
}

func (t *LinuxTransport) SendSync(f *wifi.Frame, deadline time.Time) error {
	for {
		select {
		case <-t.closed:
			return ErrClosed
		default:
		}
		if !t.IsReady() {
			return ErrNotReady
		}

		err := t.tpacket.WritePacketData(f.Data)
		if err == nil {
			// The kernel copied the frame.
			f.Release()
			return nil
		}
		if !rawsock.IsBackpressure(err) {
			return err
		}
		if !time.Now().Before(deadline) {
			return ErrBusy
		}
		time.Sleep(time.Millisecond)
	}
}

func (t *LinuxTransport) SetReceiveHandler(h func(*wifi.Frame)) {
	if h == nil {
		t.handler.Store(nil)
		return
	}
	t.handler.Store(&h)
}

func (t *LinuxTransport) SetHardwareAddr(mac net.HardwareAddr) error {
	if t.hostAddrPath == "" {
		t.log.Debugf("No host address path configured, not publishing %s", mac)
		return nil
	}
	err := os.WriteFile(t.hostAddrPath, []byte(mac.String()+"\n"), 0644)
	if err != nil {
		return fmt.Errorf("failed to publish host address: %v", err)
	}
	t.log.Printf("Published host hardware address %s", mac)
	return nil
}

// Return a receive buffer to the pool.
func (t *LinuxTransport) putBuffer(b []byte) {
	b = b[:0]
	t.pool.Put(&b)
}

// Read frames from the host and hand them to the receive handler.
func (t *LinuxTransport) packetReader() {
	defer func() {
		t.log.Debug("packet reader - stopped")
		t.state.stopping.Done()
	}()
	t.log.Debug("packet reader - started")

	for {
		data, _, err := t.tpacket.ZeroCopyReadPacketData()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
			}
			if rawsock.IsTimeout(err) {
				continue
			}
			t.log.Errorf("failed to read frame: %v", err)
			continue
		}

		hp := t.handler.Load()
		if hp == nil {
			continue
		}
		bp := t.pool.Get().(*[]byte)
		buf := append((*bp)[:0], data...)
		(*hp)(wifi.NewFrame(buf, t.putBuffer))
	}
}

// Track carrier changes of the gadget netdev.
func (t *LinuxTransport) linkWatcher(updates chan netlink.LinkUpdate, done chan struct{}) {
	defer func() {
		close(done)
		t.state.stopping.Done()
	}()

	for {
		select {
		case <-t.closed:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Attrs().Name != t.iface {
				continue
			}
			ready := linkReady(update.Link)
			if t.state.ready.Swap(ready) != ready {
				t.log.Printf("Host link ready: %v", ready)
			}
		}
	}
}

func (t *LinuxTransport) Close() (err error) {
	t.closeOnce.Do(func() {
		t.log.Debug("Transport is closing.")
		t.state.Lock()
		defer t.state.Unlock()
		close(t.closed)
		t.state.ready.Store(false)
		t.state.stopping.Wait()
		t.tpacket.Close()
		t.log.Print("Transport closed.")
	})
	return
}
