package bridge

import (
	"sync/atomic"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/usbnet"
	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	log "github.com/sirupsen/logrus"
)

// Default time the host gets to accept a frame from the wireless link.
const DefaultUplinkTimeout = 50 * time.Millisecond

// Uplink forwards frames received from the air to the host.
type Uplink struct {
	host    usbnet.Transport
	driver  wifi.Driver
	stats   *Stats
	timeout atomic.Int64
	log     *log.Entry
}

func newUplink(host usbnet.Transport, driver wifi.Driver, stats *Stats, timeout time.Duration) *Uplink {
	u := new(Uplink)
	u.host = host
	u.driver = driver
	u.stats = stats
	u.log = log.WithField("component", "uplink")
	u.SetTimeout(timeout)
	return u
}

// Change the delivery deadline.
func (u *Uplink) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultUplinkTimeout
	}
	u.timeout.Store(int64(timeout))
}

// Hand a received frame to the host. The frame is delivered once or
// released back to the driver; it is never retried.
func (u *Uplink) OnFrameReceived(f *wifi.Frame) {
	if !u.host.IsReady() {
		u.drop(f, usbnet.ErrNotReady)
		return
	}
	if u.log.Logger.IsLevelEnabled(log.TraceLevel) {
		u.log.Tracef("uplink %s", describeFrame(f.Data))
	}

	deadline := time.Now().Add(time.Duration(u.timeout.Load()))
	err := u.host.SendSync(f, deadline)
	if err != nil {
		u.drop(f, err)
		return
	}
	u.stats.UplinkForwarded.Inc()
}

func (u *Uplink) drop(f *wifi.Frame, err error) {
	u.driver.ReleaseReceiveBuffer(f)
	u.stats.UplinkDropped.Inc()
	u.log.Debugf("Dropped frame to host: %v", err)
}
