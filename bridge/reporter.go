package bridge

import (
	"net"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	log "github.com/sirupsen/logrus"
)

// Outcome of a provisioning session, or of one attempt within it.
type ProvisioningResult struct {
	Phase Phase
	SSID  string
	Err   error
	At    time.Time
}

// Reporter receives results that have no synchronous caller.
type Reporter interface {
	ScanCompleted(records []wifi.ScanRecord)
	CredentialsReceived(ssid string, bssid net.HardwareAddr)
	ProvisioningFinished(ProvisioningResult)
}

// Reporter that only logs.
type logReporter struct {
	log *log.Entry
}

// Make a reporter that writes results to the log.
func NewLogReporter() Reporter {
	return &logReporter{log: log.WithField("component", "report")}
}

func (r *logReporter) ScanCompleted(records []wifi.ScanRecord) {
	r.log.Printf("Scan completed with %d networks.", len(records))
	for _, rec := range records {
		r.log.Debugf("  %-32q %s ch %d %d dBm %v", rec.SSID, rec.BSSID, rec.Channel, rec.RSSI, rec.Auth)
	}
}

func (r *logReporter) CredentialsReceived(ssid string, bssid net.HardwareAddr) {
	if len(bssid) != 0 {
		r.log.Printf("Provisioning received credentials for %q (%s).", ssid, bssid)
		return
	}
	r.log.Printf("Provisioning received credentials for %q.", ssid)
}

func (r *logReporter) ProvisioningFinished(res ProvisioningResult) {
	if res.Err != nil {
		r.log.Errorf("Provisioning %v: %v", res.Phase, res.Err)
		return
	}
	r.log.Printf("Provisioning %v.", res.Phase)
}
