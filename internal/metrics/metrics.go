// Package metrics exposes Prometheus collectors for the HTTP surface, the
// bundle lifecycle and the server process itself.
package metrics

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/melih/lighthouse-paas/internal/core/ports"
)

var _ ports.MetricsRecorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	ResponseTime    prometheus.Gauge
	RequestDuration *prometheus.HistogramVec

	MemoryUsage prometheus.Gauge
	CPUUsage    prometheus.Gauge

	Running    prometheus.Gauge
	Operations *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	reg.MustRegister(collectors.NewGoCollector())

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requests_total",
				Help: "Total number of requests",
			},
			[]string{"method", "status"},
		),
		ResponseTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "response_time_seconds",
			Help: "Response time of the last request in seconds",
		}),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 30, 120, 600},
			},
			[]string{"method"},
		),
		MemoryUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_bytes",
			Help: "Resident memory of the server process in bytes",
		}),
		CPUUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage of the server process in percent",
		}),
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "running_microservices",
			Help: "Number of microservices tracked as running",
		}),
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microservice_operations_total",
				Help: "Lifecycle operations by kind and result",
			},
			[]string{"op", "result"},
		),
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one served HTTP request.
func (m *Metrics) RecordRequest(method, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.ResponseTime.Set(duration.Seconds())
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveOperation counts a lifecycle operation.
func (m *Metrics) ObserveOperation(op, result string) {
	m.Operations.WithLabelValues(op, result).Inc()
}

// SetRunning sets the number of running microservices.
func (m *Metrics) SetRunning(n int) {
	m.Running.Set(float64(n))
}

// SampleProcess records memory and CPU usage of this process once.
func (m *Metrics) SampleProcess(p *process.Process) error {
	mem, err := p.MemoryInfo()
	if err != nil {
		return err
	}
	m.MemoryUsage.Set(float64(mem.RSS))

	cpu, err := p.Percent(0)
	if err != nil {
		return err
	}
	m.CPUUsage.Set(cpu)
	return nil
}

// RunProcessSampler samples process usage every interval until ctx is done.
func (m *Metrics) RunProcessSampler(ctx context.Context, interval time.Duration, log *zap.Logger) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("process metrics disabled", zap.Error(err))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := m.SampleProcess(p); err != nil {
			log.Debug("sampling process metrics", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
