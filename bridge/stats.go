package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats are the bridge counters, kept in their own registry so several
// bridges can live in one process.
type Stats struct {
	Registry *prometheus.Registry

	UplinkForwarded       prometheus.Counter
	UplinkDropped         prometheus.Counter
	DownlinkForwarded     prometheus.Counter
	DownlinkNotAssociated prometheus.Counter
	DownlinkFailed        prometheus.Counter
	Reconnects            prometheus.Counter
	DroppedEvents         prometheus.Counter
	DriverErrors          prometheus.Counter
	HookInstalls          prometheus.Counter
	HookRemovals          prometheus.Counter
	LinkState             prometheus.Gauge
}

// Make and register the bridge counters.
func NewStats() *Stats {
	s := new(Stats)
	s.Registry = prometheus.NewRegistry()

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wifi_bridge",
			Name:      name,
			Help:      help,
		})
		s.Registry.MustRegister(c)
		return c
	}
	s.UplinkForwarded = counter("uplink_forwarded_total", "Frames forwarded from the wireless link to the host.")
	s.UplinkDropped = counter("uplink_dropped_total", "Frames from the wireless link the host did not accept.")
	s.DownlinkForwarded = counter("downlink_forwarded_total", "Frames forwarded from the host to the wireless link.")
	s.DownlinkNotAssociated = counter("downlink_not_associated_total", "Host frames dropped while not associated.")
	s.DownlinkFailed = counter("downlink_failed_total", "Host frames the wireless driver failed to transmit.")
	s.Reconnects = counter("reconnects_total", "Reconnect requests issued after a disassociation.")
	s.DroppedEvents = counter("dropped_events_total", "Malformed events that were dropped.")
	s.DriverErrors = counter("driver_errors_total", "Errors reported by the wireless driver.")
	s.HookInstalls = counter("hook_installs_total", "Receive hook installations.")
	s.HookRemovals = counter("hook_removals_total", "Receive hook removals.")

	s.LinkState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wifi_bridge",
		Name:      "link_state",
		Help:      "Current link state: 0 disassociated, 1 associating, 2 associated, 3 provisioning.",
	})
	s.Registry.MustRegister(s.LinkState)
	return s
}

// Current value of every bridge metric by name.
func (s *Stats) Snapshot() (map[string]float64, error) {
	families, err := s.Registry.Gather()
	if err != nil {
		return nil, err
	}
	values := make(map[string]float64, len(families))
	for _, family := range families {
		for _, m := range family.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[family.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[family.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	return values, nil
}
