package metrics_test

import (
	"testing"

	"github.com/jool-go/jool/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func TestNewCollectorRegistersAllMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.PacketsTranslated == nil || c.PacketsDropped == nil || c.PacketsAccepted == nil {
		t.Fatal("NewCollector returned a Collector with nil packet counters")
	}
	if c.BIBEntries == nil || c.SessionEntries == nil || c.PortPoolExhausted == nil {
		t.Fatal("NewCollector returned a Collector with nil NAT64 gauges")
	}
	if c.TCPStateTransitions == nil {
		t.Fatal("NewCollector returned a Collector with nil TCPStateTransitions")
	}
}

func TestIncPacketsTranslated(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncPacketsTranslated("default", "ipv4")
	c.IncPacketsTranslated("default", "ipv4")

	if got := sumCounter(t, reg, "jool_translate_packets_translated_total"); got != 2 {
		t.Errorf("packets_translated_total = %d, want 2", got)
	}
}

func TestIncPacketsDropped(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncPacketsDropped("default", "malformed")

	if got := sumCounter(t, reg, "jool_translate_packets_dropped_total"); got != 1 {
		t.Errorf("packets_dropped_total = %d, want 1", got)
	}
}

func TestBIBSessionGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetBIBEntries("default", "udp", 5)
	c.SetSessionEntries("default", "udp", 3)
	c.IncPortPoolExhausted("default", "udp")

	if got := sumCounter(t, reg, "jool_nat64_port_pool_exhausted_total"); got != 1 {
		t.Errorf("port_pool_exhausted_total = %d, want 1", got)
	}
}

func TestRecordTCPStateTransition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordTCPStateTransition("default", "v4_init", "established")

	if got := sumCounter(t, reg, "jool_nat64_tcp_state_transitions_total"); got != 1 {
		t.Errorf("tcp_state_transitions_total = %d, want 1", got)
	}
}

// sumCounter sums every sample's value for the named counter metric
// family across all its label combinations.
func sumCounter(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
		}
	}
	return int(total)
}
