package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ---------------------------------------------------------------------------
// Metric registration sanity checks: verify every exported metric is properly
// registered and carries the expected fully-qualified name.
//
// We check registration via Describe() rather than DefaultGatherer.Gather()
// because Gather() only returns series that have been observed at least once;
// *Vec metrics with no label combinations yet used are silently absent from
// Gather output even though they are correctly registered.
// ---------------------------------------------------------------------------

func TestMetrics_AllRegistered(t *testing.T) {
	type describer interface {
		Describe(chan<- *prometheus.Desc)
	}

	cases := []struct {
		name string
		c    describer
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"gate_scans_total", GateScansTotal},
		{"gate_decisions_total", GateDecisionsTotal},
		{"gate_decision_conflicts_total", GateDecisionConflictsTotal},
		{"device_transitions_total", DeviceTransitionsTotal},
		{"qr_codes_issued_total", QRCodesIssuedTotal},
		{"qr_expiry_reminders_sent_total", QRExpiryRemindersSentTotal},
		{"db_open_connections", DBOpenConnections},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				// prometheus.Desc.String() returns a Go syntax string of the form:
				//   Desc{fqName: "<name>", help: "...", constLabels: {}, variableLabels: [...]}
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return // found
				}
			}
			t.Errorf("metric %q: Describe() returned no descriptor with this fqName", tc.name)
		})
	}
}

func TestMetrics_HTTPRequestsTotal_CanBeIncremented(t *testing.T) {
	before := counterValue(t, HTTPRequestsTotal, prometheus.Labels{
		"method": "GET", "path": "/test", "status": "200",
	})
	HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()
	after := counterValue(t, HTTPRequestsTotal, prometheus.Labels{
		"method": "GET", "path": "/test", "status": "200",
	})
	if after-before < 1 {
		t.Errorf("HTTPRequestsTotal.Inc() did not increase counter (before=%.0f after=%.0f)", before, after)
	}
}

func TestMetrics_GateScansTotal_CanBeIncremented(t *testing.T) {
	before := counterValue(t, GateScansTotal, prometheus.Labels{"outcome": "expired"})
	GateScansTotal.WithLabelValues("expired").Inc()
	after := counterValue(t, GateScansTotal, prometheus.Labels{"outcome": "expired"})
	if after-before < 1 {
		t.Errorf("GateScansTotal.Inc() did not increase counter")
	}
}

func TestMetrics_GateDecisionsTotal_CanBeIncremented(t *testing.T) {
	before := counterValue(t, GateDecisionsTotal, prometheus.Labels{"decision": "deny"})
	GateDecisionsTotal.WithLabelValues("deny").Inc()
	after := counterValue(t, GateDecisionsTotal, prometheus.Labels{"decision": "deny"})
	if after-before < 1 {
		t.Errorf("GateDecisionsTotal.Inc() did not increase counter")
	}
}

func TestMetrics_RegistryCounters_CanBeIncremented(t *testing.T) {
	DeviceTransitionsTotal.WithLabelValues("approved").Inc()
	QRCodesIssuedTotal.WithLabelValues("initial").Inc()
	if counterValue(t, QRCodesIssuedTotal, prometheus.Labels{"reason": "initial"}) < 1 {
		t.Error("QRCodesIssuedTotal not incremented")
	}
}

func TestMetrics_PlainCounters_CanBeIncremented(t *testing.T) {
	for name, c := range map[string]prometheus.Counter{
		"reminders": QRExpiryRemindersSentTotal,
		"conflicts": GateDecisionConflictsTotal,
	} {
		before := plainCounterValue(t, c)
		c.Inc()
		if plainCounterValue(t, c)-before < 1 {
			t.Errorf("%s counter did not increase", name)
		}
	}
}

func TestMetrics_DBOpenConnections_CanBeSet(t *testing.T) {
	DBOpenConnections.Set(5)
	DBOpenConnections.Set(0)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// counterValue reads the current value of a CounterVec for the given label set.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 20)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), labels) {
			return dm.GetCounter().GetValue()
		}
	}
	return 0
}

// plainCounterValue reads the value of a plain (non-vec) Counter.
func plainCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		return dm.GetCounter().GetValue()
	}
	return 0
}

// labelsMatch returns true when all entries in want appear in got.
func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
