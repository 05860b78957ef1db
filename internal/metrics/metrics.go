package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/beeper/libserv/pkg/requestlog"
)

var (
	apiHTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundstation_gateway_api_http_requests_total",
	}, []string{"path", "method", "status"})
	apiHTTPRequestDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "groundstation_gateway_api_http_request_duration_seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}, []string{"path", "method"})

	CommandsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundstation_gateway_commands_received_total",
		Help: "Commands received from the control system by type",
	}, []string{"type"})
	CommandTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundstation_gateway_command_transitions_total",
		Help: "Command state transitions forwarded to the control system",
	}, []string{"state"})
	RejectedTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundstation_gateway_rejected_transitions_total",
		Help: "Command updates dropped by the state machine",
	}, []string{"reason"})
	InFlightCommands = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "groundstation_gateway_inflight_commands",
		Help: "Commands that have not reached a terminal state",
	})

	LinkMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundstation_gateway_link_messages_total",
		Help: "Messages exchanged with the satellite link",
	}, []string{"direction", "type"})
	TransferChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundstation_gateway_transfer_chunks_total",
		Help: "File chunks moved through transfer sessions",
	}, []string{"direction"})
	HandshakeAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groundstation_gateway_handshake_attempts_total",
		Help: "Challenge words sent to the satellite",
	})
	HandshakeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundstation_gateway_handshake_results_total",
		Help: "Handshake outcomes",
	}, []string{"result"})
	DiagnosticEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groundstation_gateway_diagnostic_events_total",
		Help: "Diagnostic events raised by the gateway",
	}, []string{"type"})

	ControlConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "groundstation_gateway_control_connected",
		Help: "Whether the control system websocket is connected",
	})
)

func init() {
	ControlConnected.Set(0)
	InFlightCommands.Set(0)
}

type PrometheusMetricsHandler struct {
	log    zerolog.Logger
	server *http.Server
}

func NewPrometheusMetricsHandler(listen string) *PrometheusMetricsHandler {
	logger := log.With().
		Str("component", "metrics").
		Logger()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &PrometheusMetricsHandler{
		log:    logger,
		server: &http.Server{Addr: listen, Handler: mux},
	}
}

func (mh *PrometheusMetricsHandler) Start() {
	mh.log.Info().Msgf("Starting metrics HTTP server at: %s", mh.server.Addr)
	go func() {
		err := mh.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			mh.log.Fatal().Err(err).Msg("Error in metrics listener")
		}
	}()
}

func (mh *PrometheusMetricsHandler) Stop() {
	mh.log.Info().Msg("Stopping metrics HTTP server")
	err := mh.server.Close()
	if err != nil {
		mh.log.Err(err).Msg("Error closing metrics listener")
	}
}

func TrackHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)

		status := http.StatusOK
		if crw, ok := w.(*requestlog.CountingResponseWriter); ok {
			status = crw.StatusCode
		}
		route := chi.RouteContext(r.Context()).RoutePattern()

		apiHTTPRequestDurations.
			With(prometheus.Labels{
				"path":   route,
				"method": r.Method,
			}).
			Observe(duration.Seconds())

		apiHTTPRequests.With(prometheus.Labels{
			"path":   route,
			"method": r.Method,
			"status": strconv.Itoa(status),
		}).Inc()
	})
}
