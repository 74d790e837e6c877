package bridge

import (
	"fmt"

	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	log "github.com/sirupsen/logrus"
)

// Downlink forwards frames sent by the host to the air.
type Downlink struct {
	link   *LinkState
	driver wifi.Driver
	stats  *Stats
	log    *log.Entry
}

func newDownlink(link *LinkState, driver wifi.Driver, stats *Stats) *Downlink {
	d := new(Downlink)
	d.link = link
	d.driver = driver
	d.stats = stats
	d.log = log.WithField("component", "downlink")
	return d
}

// Transmit a frame from the host. The downlink is the final owner and
// releases the frame on every path.
func (d *Downlink) OnHostFrame(f *wifi.Frame) error {
	defer f.Release()

	if !d.link.IsAssociated() {
		d.stats.DownlinkNotAssociated.Inc()
		return ErrNotAssociated
	}
	if d.log.Logger.IsLevelEnabled(log.TraceLevel) {
		d.log.Tracef("downlink %s", describeFrame(f.Data))
	}

	err := d.driver.Transmit(f.Data)
	if err != nil {
		d.stats.DownlinkFailed.Inc()
		return fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
	}
	d.stats.DownlinkForwarded.Inc()
	return nil
}

// Receive handler for the host transport.
func (d *Downlink) handleHostFrame(f *wifi.Frame) {
	err := d.OnHostFrame(f)
	if err != nil {
		d.log.Debugf("Dropped frame from host: %v", err)
	}
}
