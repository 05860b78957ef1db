package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/beeper/groundstation-gateway/internal/gateway"
	"github.com/beeper/groundstation-gateway/internal/protocol"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (a *api) listCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.dispatcher.Snapshot())
}

func (a *api) submitCommand(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	var cmd protocol.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		log.Warn().Err(err).Msg("Invalid command body")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid command JSON"})
		return
	}
	if cmd.ID == "" || cmd.Type == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "command id and type are required"})
		return
	}

	err := a.dispatcher.SubmitCommand(cmd)
	if errors.Is(err, gateway.ErrStopped) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	} else if err != nil {
		log.Err(err).Str("command_id", cmd.ID).Msg("Failed to submit command")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	log.Info().Str("command_id", cmd.ID).Str("command_type", cmd.Type).Msg("Command submitted by operator")
	writeJSON(w, http.StatusAccepted, cmd)
}
