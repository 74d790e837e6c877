package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/bridge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	log "github.com/sirupsen/logrus"
)

// Prometheus endpoint for the bridge counters.
type MetricsServer struct {
	Addr   string
	server *http.Server
	done   chan struct{}
}

// Make the gatherer served on the metrics endpoint: the bridge counters
// plus process and build information.
func metricsGatherer(stats *bridge.Stats) prometheus.Gatherer {
	version.Version = serviceVersion
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		versioncollector.NewCollector(strings.ReplaceAll(serviceName, "-", "_")),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return prometheus.Gatherers{registry, stats.Registry}
}

// Start serving metrics on the listen address.
func NewMetricsServer(listen, path string, stats *bridge.Stats) (m *MetricsServer, err error) {
	if path == "" {
		path = "/metrics"
	}
	li, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(metricsGatherer(stats), promhttp.HandlerOpts{}))

	m = new(MetricsServer)
	m.Addr = li.Addr().String()
	m.done = make(chan struct{})
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		defer close(m.done)
		err := m.server.Serve(li)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Error serving metrics: %v", err)
		}
	}()
	log.Printf("Serving metrics on %s%s", m.Addr, path)
	return m, nil
}

// Stop serving metrics.
func (m *MetricsServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.server.Shutdown(ctx)
	<-m.done
	return err
}
