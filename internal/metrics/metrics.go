package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Decision metrics
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kblock_decisions_total",
			Help: "Page decisions by set, action and deciding provider",
		},
		[]string{"set", "action", "provider"},
	)

	// Usage metrics
	UsageSecondsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kblock_usage_seconds_total",
			Help: "Active seconds accrued per block set",
		},
		[]string{"set"},
	)

	QuotaRemainingSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kblock_quota_remaining_seconds",
			Help: "Seconds left in the current period for sets with a quota",
		},
		[]string{"set"},
	)

	QuotaExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kblock_quota_exhausted_total",
			Help: "Times a set's quota ran out",
		},
		[]string{"set"},
	)

	// State machine metrics
	LockdownTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kblock_lockdown_transitions_total",
			Help: "Lockdown state changes per set",
		},
		[]string{"set", "event"},
	)

	OverrideTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kblock_override_transitions_total",
			Help: "Override state changes per set",
		},
		[]string{"set", "event"},
	)

	OverrideRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kblock_override_rejections_total",
			Help: "Override requests refused, by reason",
		},
		[]string{"reason"},
	)

	AccessChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kblock_access_checks_total",
			Help: "Password and access code checks by flow and result",
		},
		[]string{"flow", "result"},
	)

	// Engine metrics
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kblock_commands_total",
			Help: "Commands handled by type and result code",
		},
		[]string{"type", "result"},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kblock_tick_duration_seconds",
			Help:    "Time spent in one accounting tick",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	PersistErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kblock_persist_errors_total",
			Help: "Failed attempts to write usage records",
		},
	)

	TrackedTabs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kblock_tracked_tabs",
			Help: "Number of browser tabs the engine is tracking",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		UsageSecondsTotal,
		QuotaRemainingSeconds,
		QuotaExhaustedTotal,
		LockdownTransitions,
		OverrideTransitions,
		OverrideRejections,
		AccessChecksTotal,
		CommandsTotal,
		TickDuration,
		PersistErrorsTotal,
		TrackedTabs,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server. ready reports whether the engine
// has loaded its state; /health answers 503 until it does.
func NewServer(addr string, ready func() bool, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("LOADING"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Start binds the listener, unless one was provided, and serves in the background.
func (s *Server) Start() error {
	if s.listener == nil {
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			return fmt.Errorf("failed to bind metrics listener: %w", err)
		}
		s.listener = ln
	} else {
		s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
	}

	s.logger.Info().Str("addr", s.Addr()).Msg("Starting metrics server")
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
