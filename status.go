package main

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/bridge"
	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	"github.com/jellydator/ttlcache/v3"
	log "github.com/sirupsen/logrus"
)

// How long reported results stay available to status calls.
const DefaultStatusTTL = 10 * time.Minute

// Cache keys.
const (
	statusLast        = "last"
	statusCredentials = "credentials"
)

// Results of one scan.
type ScanReport struct {
	Records []wifi.ScanRecord
	At      time.Time
}

// StatusCache keeps the latest asynchronous results from the bridge so
// control clients can read them after the fact.
type StatusCache struct {
	scans   *ttlcache.Cache[string, ScanReport]
	results *ttlcache.Cache[string, bridge.ProvisioningResult]
	updates *ttlcache.Cache[string, UpdateResult]
	ttl     atomic.Int64

	// Closed and replaced each time a scan completes.
	scanned struct {
		ch chan struct{}
		sync.Mutex
	}
	log *log.Entry
}

// Make a status cache whose entries expire after ttl.
func NewStatusCache(ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	s := new(StatusCache)
	s.ttl.Store(int64(ttl))
	s.scans = ttlcache.New(
		ttlcache.WithTTL[string, ScanReport](ttl),
		ttlcache.WithDisableTouchOnHit[string, ScanReport](),
	)
	s.results = ttlcache.New(
		ttlcache.WithTTL[string, bridge.ProvisioningResult](ttl),
		ttlcache.WithDisableTouchOnHit[string, bridge.ProvisioningResult](),
	)
	s.updates = ttlcache.New(
		ttlcache.WithTTL[string, UpdateResult](ttl),
		ttlcache.WithDisableTouchOnHit[string, UpdateResult](),
	)
	s.scanned.ch = make(chan struct{})
	s.log = log.WithField("component", "status")

	go s.scans.Start()
	go s.results.Start()
	go s.updates.Start()
	return s
}

// Change the lifetime of new entries.
func (s *StatusCache) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	s.ttl.Store(int64(ttl))
}

func (s *StatusCache) expiry() time.Duration {
	return time.Duration(s.ttl.Load())
}

// Store the scan results and wake anyone waiting on them.
func (s *StatusCache) ScanCompleted(records []wifi.ScanRecord) {
	s.log.Printf("Scan completed with %d networks.", len(records))
	s.scans.Set(statusLast, ScanReport{Records: records, At: time.Now()}, s.expiry())

	s.scanned.Lock()
	close(s.scanned.ch)
	s.scanned.ch = make(chan struct{})
	s.scanned.Unlock()
}

// Store the network a provisioning peer asked us to join.
func (s *StatusCache) CredentialsReceived(ssid string, bssid net.HardwareAddr) {
	s.log.WithField("ssid", ssid).Print("Provisioning credentials received.")
	res := bridge.ProvisioningResult{Phase: bridge.PhaseListening, SSID: ssid, At: time.Now()}
	s.results.Set(statusCredentials, res, s.expiry())
}

// Store the outcome of a provisioning session.
func (s *StatusCache) ProvisioningFinished(res bridge.ProvisioningResult) {
	if res.At.IsZero() {
		res.At = time.Now()
	}
	entry := s.log.WithField("phase", res.Phase)
	if res.Err != nil {
		entry.Warnf("Provisioning ended: %v", res.Err)
	} else {
		entry.Print("Provisioning ended.")
	}
	s.results.Set(statusLast, res, s.expiry())
}

// Store the outcome of an update check.
func (s *StatusCache) UpdateFinished(res UpdateResult) {
	if res.At.IsZero() {
		res.At = time.Now()
	}
	s.log.WithField("outcome", res.Outcome).Debug("Update check recorded.")
	s.updates.Set(statusLast, res, s.expiry())
}

// Channel closed by the next completed scan.
func (s *StatusCache) NextScan() <-chan struct{} {
	s.scanned.Lock()
	defer s.scanned.Unlock()
	return s.scanned.ch
}

// Latest scan results, if any are still cached.
func (s *StatusCache) LastScan() (ScanReport, bool) {
	item := s.scans.Get(statusLast)
	if item == nil {
		return ScanReport{}, false
	}
	return item.Value(), true
}

// Latest provisioning outcome, if any is still cached.
func (s *StatusCache) LastProvisioning() (bridge.ProvisioningResult, bool) {
	item := s.results.Get(statusLast)
	if item == nil {
		return bridge.ProvisioningResult{}, false
	}
	return item.Value(), true
}

// Latest credentials received, if any are still cached.
func (s *StatusCache) LastCredentials() (bridge.ProvisioningResult, bool) {
	item := s.results.Get(statusCredentials)
	if item == nil {
		return bridge.ProvisioningResult{}, false
	}
	return item.Value(), true
}

// Latest update check, if it is still cached.
func (s *StatusCache) LastUpdate() (UpdateResult, bool) {
	item := s.updates.Get(statusLast)
	if item == nil {
		return UpdateResult{}, false
	}
	return item.Value(), true
}

// Stop expiring entries.
func (s *StatusCache) Close() {
	s.scans.Stop()
	s.results.Stop()
	s.updates.Stop()
}
