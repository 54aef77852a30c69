// Package metrics provides Prometheus metrics for the hops engine.
//
// Metrics are exposed via a /metrics HTTP endpoint and can be scraped by
// Prometheus. Key metrics include:
// - Container lifecycle counters and gauges
// - Rootfs provisioning and VM start latencies
// - Container run duration and exit code distribution
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveContainers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hops_active_containers",
			Help: "Number of containers currently running",
		},
	)

	ContainersStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hops_containers_started_total",
			Help: "Total number of containers started",
		},
	)

	ContainersFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hops_containers_failed_total",
			Help: "Total number of containers that failed to start, by error kind",
		},
		[]string{"kind"},
	)

	ContainerExitCodeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hops_container_exit_code_total",
			Help: "Total number of container exits, by exit code",
		},
		[]string{"exit_code"},
	)

	ContainerRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hops_container_run_duration_seconds",
			Help:    "Wall-clock time from start to exit for a container",
			Buckets: prometheus.DefBuckets,
		},
	)

	RootfsProvisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hops_rootfs_provision_duration_seconds",
			Help:    "Time taken to copy a base image into a container's state directory",
			Buckets: prometheus.DefBuckets,
		},
	)

	VMMStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hops_vmm_start_duration_seconds",
			Help:    "Time taken to boot a guest machine and send it the exec request",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ActiveContainers)
	prometheus.MustRegister(ContainersStartedTotal)
	prometheus.MustRegister(ContainersFailedTotal)
	prometheus.MustRegister(ContainerExitCodeTotal)
	prometheus.MustRegister(ContainerRunDuration)
	prometheus.MustRegister(RootfsProvisionDuration)
	prometheus.MustRegister(VMMStartDuration)
}

// RegisterEngineUptime registers a gauge computed on every scrape as
// time.Since(startedAt), matching the engine's single process lifetime
// rather than needing a background ticker to keep it current.
func RegisterEngineUptime(startedAt time.Time) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "hops_engine_uptime_seconds",
			Help: "Seconds since the engine process started",
		},
		func() float64 { return time.Since(startedAt).Seconds() },
	))
}

// Handler returns the Prometheus scrape handler for the engine's /metrics
// endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing an operation and recording it to a
// histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
