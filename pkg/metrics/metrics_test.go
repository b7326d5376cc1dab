package metrics_test

import (
	"strings"
	"testing"

	"github.com/opst/modelsync/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics(t *testing.T) {
	t.Run("recorded values are dumped in text format", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		testee := metrics.New(reg)

		testee.EventApplied("InferenceService", "ADDED")
		testee.EventApplied("InferenceService", "ADDED")
		testee.StaleDropped("InferenceService")
		testee.Failover("InferenceService")
		testee.PollFailed("InferenceGraph")
		testee.Entries("InferenceService", 3)

		sb := new(strings.Builder)
		if err := metrics.Dump(sb, reg); err != nil {
			t.Fatal(err)
		}
		out := sb.String()
		for _, expected := range []string{
			`modelsync_events_applied_total{kind="InferenceService",type="ADDED"} 2`,
			`modelsync_stale_events_dropped_total{kind="InferenceService"} 1`,
			`modelsync_stream_failovers_total{kind="InferenceService"} 1`,
			`modelsync_poll_failures_total{kind="InferenceGraph"} 1`,
			`modelsync_collection_entries{kind="InferenceService"} 3`,
		} {
			if !strings.Contains(out, expected) {
				t.Errorf("%s is not in:\n%s", expected, out)
			}
		}
	})

	t.Run("nil metrics records nothing without panic", func(t *testing.T) {
		var testee *metrics.Metrics
		testee.EventApplied("InferenceService", "ADDED")
		testee.Entries("InferenceService", 1)
	})
}
