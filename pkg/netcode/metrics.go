package netcode

import "github.com/VictoriaMetrics/metrics"

// serverMetrics mirrors the nested result-tagged counter convention used
// throughout pkg/api/api0's Metrics type (see its connects_total-style
// fields), scoped to the events this package emits.
type serverMetrics struct {
	set *metrics.Set

	connects_total struct {
		success   *metrics.Counter
		rejected  *metrics.Counter
		slot_full *metrics.Counter
	}
	disconnects_total *metrics.Counter
	packets_total     struct {
		recv *metrics.Counter
		sent *metrics.Counter
	}
	keepalives_total  *metrics.Counter
	replays_rejected_total *metrics.Counter
	slots_used        *metrics.Gauge
}

// newServerMetrics registers a fresh set of counters. If set is nil, a
// private unregistered set is used instead so calls never panic, matching
// api0's m() lazy-init pattern (minus the sync.Once, since a Server is only
// constructed once up front, not lazily per-request).
func newServerMetrics(set *metrics.Set) *serverMetrics {
	if set == nil {
		set = metrics.NewSet()
	}
	mo := &serverMetrics{set: set}
	mo.connects_total.success = set.NewCounter(`netcode_connects_total{result="success"}`)
	mo.connects_total.rejected = set.NewCounter(`netcode_connects_total{result="rejected"}`)
	mo.connects_total.slot_full = set.NewCounter(`netcode_connects_total{result="slot_full"}`)
	mo.disconnects_total = set.NewCounter(`netcode_disconnects_total`)
	mo.packets_total.recv = set.NewCounter(`netcode_packets_total{direction="recv"}`)
	mo.packets_total.sent = set.NewCounter(`netcode_packets_total{direction="sent"}`)
	mo.keepalives_total = set.NewCounter(`netcode_keepalives_total`)
	mo.replays_rejected_total = set.NewCounter(`netcode_replays_rejected_total`)
	mo.slots_used = set.NewGauge(`netcode_slots_used`, nil)
	return mo
}
