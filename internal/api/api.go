package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/beeper/libserv/pkg/health"
	"github.com/beeper/libserv/pkg/requestlog"

	"github.com/beeper/groundstation-gateway/internal/metrics"
	"github.com/beeper/groundstation-gateway/internal/protocol"
	"github.com/beeper/groundstation-gateway/internal/tracker"
)

// Dispatcher is the part of the gateway the operator API drives.
type Dispatcher interface {
	SubmitCommand(cmd protocol.Command) error
	Snapshot() []tracker.Entry
}

type api struct {
	log        zerolog.Logger
	server     *http.Server
	dispatcher Dispatcher
}

func NewAPI(listen string, dispatcher Dispatcher) *api {
	logger := log.With().
		Str("component", "api").
		Logger()

	api := api{
		log:        logger,
		dispatcher: dispatcher,
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(api.log))
	r.Use(hlog.RequestIDHandler("request_id", ""))
	r.Use(requestlog.AccessLogger(false))
	r.Use(metrics.TrackHTTPMetrics) // must be after requestlog.AccessLogger

	r.Get("/health", health.Health)

	r.Get("/api/v1/commands", api.listCommands)
	r.Post("/api/v1/commands", api.submitCommand)

	api.server = &http.Server{Addr: listen, Handler: r}

	return &api
}

func (a *api) Handler() http.Handler {
	return a.server.Handler
}

func (a *api) Start() {
	go func() {
		a.log.Info().Msgf("Starting HTTP server at: %s", a.server.Addr)

		err := a.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatal().Err(err).Msg("Error while listening")
		} else {
			a.log.Info().Msg("Listener stopped")
		}
	}()
}

func (a *api) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.log.Info().Msg("API shutdown initiated...")
	err := a.server.Shutdown(ctx)
	if err != nil {
		a.log.Err(err).Msg("error shutting down server")
	}

	a.log.Info().Msg("API shutdown complete")
}
