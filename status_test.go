package main

import (
	"errors"
	"testing"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/bridge"
	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCacheScan(t *testing.T) {
	s := NewStatusCache(time.Minute)
	t.Cleanup(s.Close)

	_, ok := s.LastScan()
	assert.False(t, ok)

	next := s.NextScan()
	s.ScanCompleted([]wifi.ScanRecord{{SSID: "homenet", Channel: 6}})
	select {
	case <-next:
	default:
		t.Fatal("waiter not woken by scan")
	}

	report, ok := s.LastScan()
	require.True(t, ok)
	require.Len(t, report.Records, 1)
	assert.Equal(t, "homenet", report.Records[0].SSID)
	assert.False(t, report.At.IsZero())

	// A new waiter waits for the next scan.
	next = s.NextScan()
	select {
	case <-next:
		t.Fatal("waiter woken without a scan")
	default:
	}
}

func TestStatusCacheProvisioning(t *testing.T) {
	s := NewStatusCache(time.Minute)
	t.Cleanup(s.Close)

	_, ok := s.LastProvisioning()
	assert.False(t, ok)

	s.CredentialsReceived("homenet", nil)
	creds, ok := s.LastCredentials()
	require.True(t, ok)
	assert.Equal(t, "homenet", creds.SSID)
	assert.Equal(t, bridge.PhaseListening, creds.Phase)

	failed := errors.New("timed out")
	s.ProvisioningFinished(bridge.ProvisioningResult{Phase: bridge.PhaseIdle, Err: failed})
	res, ok := s.LastProvisioning()
	require.True(t, ok)
	assert.ErrorIs(t, res.Err, failed)
	assert.False(t, res.At.IsZero())
}

func TestStatusCacheExpires(t *testing.T) {
	s := NewStatusCache(time.Minute)
	t.Cleanup(s.Close)
	s.SetTTL(20 * time.Millisecond)

	s.ScanCompleted(nil)
	s.ProvisioningFinished(bridge.ProvisioningResult{Phase: bridge.PhaseCompleted})
	require.Eventually(t, func() bool {
		_, scanned := s.LastScan()
		_, provisioned := s.LastProvisioning()
		return !scanned && !provisioned
	}, time.Second, 5*time.Millisecond)
}
