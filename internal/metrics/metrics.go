// Package metrics exposes the bot's Prometheus instrumentation and the HTTP
// listener that serves it.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the bot registers. A single instance is
// created at startup and shared by all components.
type Metrics struct {
	registry *prometheus.Registry

	FramesTotal       prometheus.Counter
	BookUpdatesTotal  *prometheus.CounterVec
	DroppedSignals    prometheus.Counter
	ConnState         *prometheus.GaugeVec
	TrackedMarkets    prometheus.Gauge
	OpportunitiesSeen *prometheus.CounterVec
	ExecutionsTotal   *prometheus.CounterVec
	OrdersTotal       *prometheus.CounterVec
	UnwindsTotal      prometheus.Counter
	OpenNotional      prometheus.Gauge
	DetectLatency     prometheus.Histogram
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FramesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "polyarb_ws_frames_total",
			Help: "Websocket frames received across all connections.",
		}),
		BookUpdatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "polyarb_book_updates_total",
			Help: "Orderbook updates applied, by kind.",
		}, []string{"kind"}), // snapshot | delta
		DroppedSignals: factory.NewCounter(prometheus.CounterOpts{
			Name: "polyarb_detector_signals_dropped_total",
			Help: "Market-change signals dropped because the detector queue was full.",
		}),
		ConnState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "polyarb_ws_connection_state",
			Help: "Lifecycle state per websocket connection (1 = in this state).",
		}, []string{"conn", "state"}),
		TrackedMarkets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "polyarb_tracked_markets",
			Help: "Markets currently tracked by the registry.",
		}),
		OpportunitiesSeen: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "polyarb_opportunities_total",
			Help: "Detected sum-to-one opportunities, by direction.",
		}, []string{"direction"}),
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "polyarb_executions_total",
			Help: "Hedge execution attempts, by outcome.",
		}, []string{"outcome"}), // filled | unwound | rejected | skipped
		OrdersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "polyarb_orders_total",
			Help: "Order submissions, by status.",
		}, []string{"status"}),
		UnwindsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "polyarb_unwinds_total",
			Help: "Partial-fill unwind procedures run.",
		}),
		OpenNotional: factory.NewGauge(prometheus.GaugeOpts{
			Name: "polyarb_open_notional_usd",
			Help: "Total notional of open positions.",
		}),
		DetectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "polyarb_detect_latency_seconds",
			Help:    "Time from book update to detector decision.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}

// SetConnState flips the per-connection state gauge so exactly one state
// label reads 1.
func (m *Metrics) SetConnState(conn string, state string) {
	for _, s := range []string{"disconnected", "connecting", "subscribed", "stalled"} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnState.WithLabelValues(conn, s).Set(v)
	}
}

// Serve runs the Prometheus HTTP listener until ctx is canceled. A zero addr
// disables the listener.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if addr == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
