// Package metrics records wallet operation and remote call metrics in a
// Prometheus registry supplied by the caller.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Namespace prefixes every metric name.
const Namespace = "brcwallet"

// Metrics holds the wallet's collectors plus atomic totals for Snapshot.
type Metrics struct {
	opsTotal    *prometheus.CounterVec
	opsDuration *prometheus.HistogramVec
	rpcTotal    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	httpTotal   *prometheus.CounterVec
	httpFlight  prometheus.Gauge

	walletOpsTotal  atomic.Int64
	walletOpsErrors atomic.Int64
	rpcCallsTotal   atomic.Int64
	rpcErrorsTotal  atomic.Int64
	rpcLatencyNanos atomic.Int64
}

// New creates the collectors and registers them with reg. A nil reg keeps
// the collectors unregistered, which is what tests and the CLI use.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Wallet operations by name and result code.",
		}, []string{"operation", "code"}),
		opsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wallet operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		rpcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "remote_calls_total",
			Help:      "Calls to chain services, certifiers and resolvers.",
		}, []string{"service", "code"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Remote call latency including retries.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"service"}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by status code and method.",
		}, []string{"code", "method"}),
		httpFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests being served.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.opsTotal, m.opsDuration, m.rpcTotal, m.rpcDuration, m.httpTotal, m.httpFlight} {
		if err := reg.Register(c); err != nil {
			return nil, walleterr.Wrap(err, "registering metrics")
		}
	}
	return m, nil
}

func code(err error) string {
	if err == nil {
		return "OK"
	}
	return walleterr.Code(err)
}

// RecordWalletOp records one facade operation.
func (m *Metrics) RecordWalletOp(op string, elapsed time.Duration, err error) {
	m.walletOpsTotal.Add(1)
	if err != nil {
		m.walletOpsErrors.Add(1)
	}
	m.opsTotal.WithLabelValues(op, code(err)).Inc()
	m.opsDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordRPCCall records a remote call. It satisfies chain.Observer.
func (m *Metrics) RecordRPCCall(service string, elapsed time.Duration, err error) {
	m.rpcCallsTotal.Add(1)
	m.rpcLatencyNanos.Add(elapsed.Nanoseconds())
	if err != nil {
		m.rpcErrorsTotal.Add(1)
	}
	m.rpcTotal.WithLabelValues(service, code(err)).Inc()
	m.rpcDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

// Snapshot is a point-in-time copy of the totals.
type Snapshot struct {
	WalletOpsTotal  int64
	WalletOpsErrors int64
	RPCCallsTotal   int64
	RPCErrorsTotal  int64
	RPCLatencyNanos int64
}

// Snapshot returns a point-in-time copy of the totals.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		WalletOpsTotal:  m.walletOpsTotal.Load(),
		WalletOpsErrors: m.walletOpsErrors.Load(),
		RPCCallsTotal:   m.rpcCallsTotal.Load(),
		RPCErrorsTotal:  m.rpcErrorsTotal.Load(),
		RPCLatencyNanos: m.rpcLatencyNanos.Load(),
	}
}

// RPCLatencyAvgMs returns the average remote call latency in milliseconds.
// Returns 0 if no calls have been made.
func (m *Metrics) RPCLatencyAvgMs() float64 {
	calls := m.rpcCallsTotal.Load()
	if calls == 0 {
		return 0
	}
	return float64(m.rpcLatencyNanos.Load()) / float64(calls) / 1e6
}

// InstrumentHandler counts requests served by h and tracks those in flight.
func (m *Metrics) InstrumentHandler(h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(m.httpFlight,
		promhttp.InstrumentHandlerCounter(m.httpTotal, h))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
