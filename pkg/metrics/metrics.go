// Package metrics exposes Prometheus metrics for the vendor clients and the
// automation controller.
//
// A nil *Registry is valid and records nothing, so clients built without
// metrics (tests, one-off tools) need no special casing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sunswitch"

// Request results recorded by ObserveRequest.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultExpired = "expired"
)

// Registry owns the Prometheus registry and every metric the process exports.
type Registry struct {
	reg *prometheus.Registry

	vendorRequests *prometheus.CounterVec
	vendorLatency  *prometheus.HistogramVec
	tokenRefreshes *prometheus.CounterVec
	switchActions  *prometheus.CounterVec
	activePower    prometheus.Gauge
	lastRun        prometheus.Gauge
}

// NewRegistry creates a registry with the Go and process collectors plus the
// application metrics registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		vendorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "requests_total",
			Help:      "Vendor API requests by vendor and result",
		}, []string{"vendor", "result"}),
		vendorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "request_duration_seconds",
			Help:      "Vendor API round-trip time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"vendor"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "token_refreshes_total",
			Help:      "Access token acquisitions by vendor and result",
		}, []string{"vendor", "result"}),
		switchActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "switch_actions_total",
			Help:      "Switch commands sent by the controller by target state",
		}, []string{"state"}),
		activePower: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "active_power_kw",
			Help:      "Last inverter active power read by the controller",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix timestamp of the last automation cycle",
		}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.vendorRequests,
		r.vendorLatency,
		r.tokenRefreshes,
		r.switchActions,
		r.activePower,
		r.lastRun,
	)
	return r
}

// Handler returns the /metrics exposition handler.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveRequest records one vendor round trip.
func (r *Registry) ObserveRequest(vendor, result string, took time.Duration) {
	if r == nil {
		return
	}
	r.vendorRequests.WithLabelValues(vendor, result).Inc()
	r.vendorLatency.WithLabelValues(vendor).Observe(took.Seconds())
}

// TokenRefresh records one token acquisition attempt.
func (r *Registry) TokenRefresh(vendor string, err error) {
	if r == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	r.tokenRefreshes.WithLabelValues(vendor, result).Inc()
}

// SwitchAction records a command sent to the switch.
func (r *Registry) SwitchAction(on bool) {
	if r == nil {
		return
	}
	state := "off"
	if on {
		state = "on"
	}
	r.switchActions.WithLabelValues(state).Inc()
}

// ControllerRun records the outcome of an automation cycle.
func (r *Registry) ControllerRun(at time.Time, activePowerKW float64) {
	if r == nil {
		return
	}
	r.activePower.Set(activePowerKW)
	r.lastRun.Set(float64(at.Unix()))
}
