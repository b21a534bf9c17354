// Package metrics 以 Prometheus 格式暴露 HTTP 请求与钱包会话指标。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"OpenMCP-Wallet/internal/session"
	"OpenMCP-Wallet/internal/web3"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletd"

// Metrics 持有独立的 Prometheus registry，避免与全局默认 registry 互相污染。
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	connects       *prometheus.CounterVec
	connectLatency prometheus.Histogram
	disconnects    *prometheus.CounterVec
	events         *prometheus.CounterVec
	changes        *prometheus.CounterVec
	connected      prometheus.Gauge
}

// New 创建并注册全部指标。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_connect_total",
			Help:      "Connect attempts by outcome.",
		}, []string{"outcome"}),
		connectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_connect_duration_seconds",
			Help:      "Time spent in connect, including provider queries.",
			Buckets:   prometheus.DefBuckets,
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_disconnect_total",
			Help:      "Disconnect calls by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_events_total",
			Help:      "Provider events received by the active session.",
		}, []string{"event"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_changes_total",
			Help:      "Session store writes by kind.",
		}, []string{"kind"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_connected",
			Help:      "1 while a session is published.",
		}),
	}
	m.registry.MustRegister(
		m.httpRequests, m.httpErrors, m.httpLatency,
		m.connects, m.connectLatency, m.disconnects,
		m.events, m.changes, m.connected,
	)
	return m
}

// Registry 返回底层 registry，供测试或额外 collector 使用。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 以 Prometheus 文本格式暴露指标。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		m.httpErrors.WithLabelValues(handler, method).Inc()
	}
	m.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ConnectFinished implements session.Observer.
func (m *Metrics) ConnectFinished(outcome string, elapsed time.Duration) {
	m.connects.WithLabelValues(outcome).Inc()
	if outcome == session.OutcomeConnected || outcome == session.OutcomeFailed {
		m.connectLatency.Observe(elapsed.Seconds())
	}
}

// DisconnectFinished implements session.Observer.
func (m *Metrics) DisconnectFinished(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.disconnects.WithLabelValues(result).Inc()
}

// EventReceived implements session.Observer.
func (m *Metrics) EventReceived(event web3.Event) {
	m.events.WithLabelValues(string(event)).Inc()
}

// ObserveChange 可作为 session.Store 的订阅函数。
func (m *Metrics) ObserveChange(change session.Change) {
	m.changes.WithLabelValues(string(change.Kind)).Inc()
	if change.Current.Connected() {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

var _ session.Observer = (*Metrics)(nil)
