package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "jool"
	subsystem = "translate"
)

// Label names for translator metrics.
const (
	labelInstance = "instance"
	labelFamily   = "family"
	labelProtocol = "protocol"
	labelReason   = "reason"
	labelFromState = "from_state"
	labelToState   = "to_state"
)

// -------------------------------------------------------------------------
// Collector — Prometheus translator metrics
// -------------------------------------------------------------------------

// Collector holds all jool-go Prometheus metrics.
//
// Metrics are designed for production translator monitoring:
//   - Packet counters track translated/dropped volumes per instance+family.
//   - BIB/session gauges track currently bound NAT64 state.
//   - Port-pool exhaustion counters flag allocator pressure.
//   - State transition counters record TCP FSM changes for alerting.
type Collector struct {
	// PacketsTranslated counts packets that reached Continue, per
	// instance and output family.
	PacketsTranslated *prometheus.CounterVec

	// PacketsDropped counts packets dropped, per instance and reason
	// (spec.md §7's error kinds: malformed input, untranslatable,
	// resource exhaustion, policy drop).
	PacketsDropped *prometheus.CounterVec

	// PacketsAccepted counts packets passed upstream untranslated
	// (spec.md §7's PolicyAccept outcome), per instance.
	PacketsAccepted *prometheus.CounterVec

	// ICMPErrorsEmitted counts synthesized ICMP errors sent back to the
	// original sender, per instance and family.
	ICMPErrorsEmitted *prometheus.CounterVec

	// BIBEntries tracks the number of currently active BIB entries per
	// instance and protocol. Incremented on creation, decremented on
	// expiry/deletion.
	BIBEntries *prometheus.GaugeVec

	// SessionEntries tracks the number of currently active sessions per
	// instance and protocol.
	SessionEntries *prometheus.GaugeVec

	// PortPoolExhausted counts port allocation failures (spec.md §7's
	// ResourceExhaustion, stat OUTDISCARDS) per instance and protocol.
	PortPoolExhausted *prometheus.CounterVec

	// TCPStateTransitions counts NAT64 TCP state-machine transitions,
	// labeled with the old and new state for precise alerting.
	TCPStateTransitions *prometheus.CounterVec
}

// NewCollector creates a Collector with all translator metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// The packet and ICMP-error metrics carry the "jool_translate_" prefix and
// the BIB, session, port-pool and TCP-state metrics carry "jool_nat64_"
// (namespace_subsystem), to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PacketsTranslated,
		c.PacketsDropped,
		c.PacketsAccepted,
		c.ICMPErrorsEmitted,
		c.BIBEntries,
		c.SessionEntries,
		c.PortPoolExhausted,
		c.TCPStateTransitions,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	instanceFamilyLabels := []string{labelInstance, labelFamily}
	instanceLabels := []string{labelInstance}
	dropLabels := []string{labelInstance, labelReason}
	protoLabels := []string{labelInstance, labelProtocol}
	transitionLabels := []string{labelInstance, labelFromState, labelToState}

	return &Collector{
		PacketsTranslated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_translated_total",
			Help:      "Total packets successfully translated, labeled by output family.",
		}, instanceFamilyLabels),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total packets dropped, labeled by drop reason.",
		}, dropLabels),

		PacketsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_accepted_total",
			Help:      "Total packets passed upstream untranslated (policy accept).",
		}, instanceLabels),

		ICMPErrorsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "icmp_errors_emitted_total",
			Help:      "Total ICMP errors synthesized for untranslatable packets.",
		}, instanceFamilyLabels),

		BIBEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nat64",
			Name:      "bib_entries",
			Help:      "Number of currently active BIB entries.",
		}, protoLabels),

		SessionEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nat64",
			Name:      "session_entries",
			Help:      "Number of currently active NAT64 sessions.",
		}, protoLabels),

		PortPoolExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nat64",
			Name:      "port_pool_exhausted_total",
			Help:      "Total port allocation failures due to pool4 exhaustion.",
		}, protoLabels),

		TCPStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nat64",
			Name:      "tcp_state_transitions_total",
			Help:      "Total NAT64 TCP session FSM state transitions.",
		}, transitionLabels),
	}
}

// -------------------------------------------------------------------------
// Packet Counters
// -------------------------------------------------------------------------

// IncPacketsTranslated increments the translated-packet counter for
// instance, labeled with the output family ("ipv4" or "ipv6").
func (c *Collector) IncPacketsTranslated(instance, family string) {
	c.PacketsTranslated.WithLabelValues(instance, family).Inc()
}

// IncPacketsDropped increments the dropped-packet counter for instance,
// labeled with the drop reason.
func (c *Collector) IncPacketsDropped(instance, reason string) {
	c.PacketsDropped.WithLabelValues(instance, reason).Inc()
}

// IncPacketsAccepted increments the policy-accept counter for instance.
func (c *Collector) IncPacketsAccepted(instance string) {
	c.PacketsAccepted.WithLabelValues(instance).Inc()
}

// IncICMPErrorsEmitted increments the ICMP-error-emitted counter for
// instance, labeled with the family of the emitted error.
func (c *Collector) IncICMPErrorsEmitted(instance, family string) {
	c.ICMPErrorsEmitted.WithLabelValues(instance, family).Inc()
}

// -------------------------------------------------------------------------
// BIB/Session Gauges
// -------------------------------------------------------------------------

// SetBIBEntries sets the current BIB entry count for instance+protocol.
func (c *Collector) SetBIBEntries(instance, protocol string, n float64) {
	c.BIBEntries.WithLabelValues(instance, protocol).Set(n)
}

// SetSessionEntries sets the current session count for instance+protocol.
func (c *Collector) SetSessionEntries(instance, protocol string, n float64) {
	c.SessionEntries.WithLabelValues(instance, protocol).Set(n)
}

// IncPortPoolExhausted increments the port-pool exhaustion counter for
// instance+protocol.
func (c *Collector) IncPortPoolExhausted(instance, protocol string) {
	c.PortPoolExhausted.WithLabelValues(instance, protocol).Inc()
}

// -------------------------------------------------------------------------
// State Transitions
// -------------------------------------------------------------------------

// RecordTCPStateTransition increments the TCP state transition counter
// with the old and new state labels.
func (c *Collector) RecordTCPStateTransition(instance, from, to string) {
	c.TCPStateTransitions.WithLabelValues(instance, from, to).Inc()
}
