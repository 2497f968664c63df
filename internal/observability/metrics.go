package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"asset-harvester/internal/model"
	"asset-harvester/internal/transfer"
)

const namespace = "harvester"

// Metrics holds the run collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	itemsTotal      *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	retriesTotal    prometheus.Counter
	discoveryErrors *prometheus.CounterVec
	inFlight        prometheus.Gauge
	transferSeconds *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Items that reached a status, by status.",
		}, []string{"status"}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes written to completed files.",
		}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Failed transfers scheduled for another attempt.",
		}),
		discoveryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_errors_total",
			Help:      "Seeds that failed discovery, by error kind.",
		}, []string{"kind"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfers_in_flight",
			Help:      "Transfers currently running.",
		}),
		transferSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Duration of one transfer attempt, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 9),
		}, []string{"status"}),
	}
	m.Registry.MustRegister(
		m.itemsTotal,
		m.bytesTotal,
		m.retriesTotal,
		m.discoveryErrors,
		m.inFlight,
		m.transferSeconds,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveTransfer updates the transfer collectors from a pool event.
func (m *Metrics) ObserveTransfer(e transfer.Event) {
	switch e.Kind {
	case transfer.EventStarted:
		m.inFlight.Inc()
	case transfer.EventFinished:
		m.inFlight.Dec()
		m.itemsTotal.WithLabelValues(string(e.Status)).Inc()
		m.transferSeconds.WithLabelValues(string(e.Status)).Observe(e.Duration.Seconds())
		if e.Status == model.StatusCompleted {
			m.bytesTotal.Add(float64(e.Bytes))
		}
		if e.Retry {
			m.retriesTotal.Inc()
		}
	}
}

// ObservePlanned counts items settled by the planner without a transfer.
func (m *Metrics) ObservePlanned(status model.Status, n int) {
	if n > 0 {
		m.itemsTotal.WithLabelValues(string(status)).Add(float64(n))
	}
}

func (m *Metrics) ObserveDiscoveryError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.discoveryErrors.WithLabelValues(kind).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return model.Wrap(model.ErrConfig, addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return nil
}
