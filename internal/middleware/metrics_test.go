package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/campusgate/gatepass/internal/telemetry"
)

// matching returns the first series from c whose labels include labels.
func matching(c prometheus.Collector, labels prometheus.Labels) *dto.Metric {
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)

	for m := range ch {
		var dm dto.Metric
		if m.Write(&dm) != nil {
			continue
		}
		found := 0
		for _, lp := range dm.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want == lp.GetValue() {
				found++
			}
		}
		if found == len(labels) {
			return &dm
		}
	}
	return nil
}

func requestCount(labels prometheus.Labels) float64 {
	if m := matching(telemetry.HTTPRequestsTotal, labels); m != nil {
		return m.GetCounter().GetValue()
	}
	return 0
}

func newMetricsRouter(status int) *gin.Engine {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.POST("/api/v1/devices/:id/approve", func(c *gin.Context) { c.Status(status) })
	return r
}

func post(r *gin.Engine, path string) {
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, path, nil))
}

func TestMetricsMiddleware_CountsByRouteTemplate(t *testing.T) {
	labels := prometheus.Labels{"method": "POST", "path": "/api/v1/devices/:id/approve", "status": "200"}
	before := requestCount(labels)

	r := newMetricsRouter(http.StatusOK)
	post(r, "/api/v1/devices/17/approve")
	post(r, "/api/v1/devices/18/approve")

	if got := requestCount(labels) - before; got != 2 {
		t.Errorf("counter delta = %v, want 2", got)
	}
	if m := matching(telemetry.HTTPRequestsTotal, prometheus.Labels{"path": "/api/v1/devices/17/approve"}); m != nil {
		t.Error("raw URL used as a path label")
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	post(newMetricsRouter(http.StatusOK), "/api/v1/devices/1/approve")

	m := matching(telemetry.HTTPRequestDuration, prometheus.Labels{"method": "POST", "path": "/api/v1/devices/:id/approve"})
	if m == nil || m.GetHistogram().GetSampleCount() == 0 {
		t.Error("no duration sample recorded")
	}
}

func TestMetricsMiddleware_StatusAndNoRoute(t *testing.T) {
	conflict := prometheus.Labels{"method": "POST", "path": "/api/v1/devices/:id/approve", "status": "409"}
	noRoute := prometheus.Labels{"method": "POST", "path": "<no-route>", "status": "404"}
	beforeConflict, beforeNoRoute := requestCount(conflict), requestCount(noRoute)

	r := newMetricsRouter(http.StatusConflict)
	post(r, "/api/v1/devices/1/approve")
	post(r, "/api/v1/nowhere")

	if requestCount(conflict)-beforeConflict != 1 {
		t.Error("409 response not counted under its status")
	}
	if requestCount(noRoute)-beforeNoRoute != 1 {
		t.Error("unmatched request not counted as <no-route>")
	}
}
