package main

import (
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/grmrgecko/wifi-ncm-bridge/bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServer(t *testing.T) {
	stats := bridge.NewStats()
	stats.UplinkForwarded.Add(3)

	m, err := NewMetricsServer("127.0.0.1:0", "", stats)
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Close()
	})

	resp, err := http.Get("http://" + m.Addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "wifi_bridge_uplink_forwarded_total 3")
	assert.Contains(t, string(body), "wifi_ncm_bridge_build_info")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetricsServerFromApp(t *testing.T) {
	a := newTestApp(t, "127.0.0.1:0")
	m := a.Metrics()
	require.NotNil(t, m)

	resp, err := http.Get("http://" + m.Addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "wifi_bridge_link_state")
}

func TestMetricsStartStopConcurrently(t *testing.T) {
	a := newTestApp(t, "127.0.0.1:0")
	config := a.Config()
	require.NotNil(t, config)

	// Starting again while serving keeps the running endpoint.
	m := a.Metrics()
	require.NoError(t, a.StartMetrics(config))
	assert.Same(t, m, a.Metrics())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.StopMetrics()
		}()
		go func() {
			defer wg.Done()
			a.StartMetrics(config)
		}()
	}
	wg.Wait()

	a.StopMetrics()
	assert.Nil(t, a.Metrics())
}
