package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandler_ServesActiveContainersGauge(t *testing.T) {
	ActiveContainers.Set(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	body := w.Body.String()
	if !strings.Contains(body, "hops_active_containers 3") {
		t.Errorf("expected hops_active_containers 3 in scrape body, got:\n%s", body)
	}
}

func TestContainersFailedTotal_LabeledByKind(t *testing.T) {
	ContainersFailedTotal.Reset()
	ContainersFailedTotal.WithLabelValues("EnvironmentError").Inc()
	ContainersFailedTotal.WithLabelValues("EnvironmentError").Inc()
	ContainersFailedTotal.WithLabelValues("CapacityError").Inc()

	if got := testutil.ToFloat64(ContainersFailedTotal.WithLabelValues("EnvironmentError")); got != 2 {
		t.Errorf("EnvironmentError count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(ContainersFailedTotal.WithLabelValues("CapacityError")); got != 1 {
		t.Errorf("CapacityError count = %v, want 1", got)
	}
}

func TestTimer_ObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_timer_histogram"})

	timer := NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveDuration(h)

	if timer.Duration() <= 0 {
		t.Error("expected positive elapsed duration")
	}
}

func TestRegisterEngineUptime_ReflectsElapsedTime(t *testing.T) {
	started := time.Now().Add(-5 * time.Second)
	RegisterEngineUptime(started)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() != "hops_engine_uptime_seconds" {
			continue
		}
		found = true
		if len(mf.Metric) != 1 {
			t.Fatalf("unexpected metric family shape: %+v", mf)
		}
		if v := mf.Metric[0].GetGauge().GetValue(); v < 5 {
			t.Errorf("uptime gauge = %v, want >= 5", v)
		}
	}
	if !found {
		t.Fatal("hops_engine_uptime_seconds not found in the default registry")
	}
}
