package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devkit"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	registry        *prom.Registry
	compileDuration *prom.HistogramVec
	compiles        *prom.CounterVec
	liveClients     prom.Gauge
	requests        *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the dev server metrics on reg.
// A nil reg gets a fresh registry that also carries the Go and process collectors.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
		reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	}
	pr := &PrometheusRecorder{
		registry: reg,
		compileDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Duration of bundle compiles",
			Buckets:   prom.DefBuckets,
		}, []string{"outcome"}),
		compiles: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "compiles_total",
			Help:      "Compile counts by outcome",
		}, []string{"outcome"}),
		liveClients: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "live_clients",
			Help:      "Browsers connected to the live-update stream",
		}),
		requests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Served HTTP requests by source, method and status code",
		}, []string{"source", "method", "code"}),
	}
	reg.MustRegister(pr.compileDuration, pr.compiles, pr.liveClients, pr.requests)
	return pr
}

func (p *PrometheusRecorder) ObserveCompile(outcome CompileOutcome, d time.Duration) {
	if p == nil {
		return
	}
	p.compileDuration.WithLabelValues(string(outcome)).Observe(d.Seconds())
	p.compiles.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) SetLiveClients(n int) {
	if p == nil {
		return
	}
	p.liveClients.Set(float64(n))
}

// InstrumentHandler counts requests answered by next under the given source label.
func (p *PrometheusRecorder) InstrumentHandler(source string, next http.Handler) http.Handler {
	if p == nil {
		return next
	}
	counter := p.requests.MustCurryWith(prom.Labels{"source": source})
	return promhttp.InstrumentHandlerCounter(counter, next)
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
