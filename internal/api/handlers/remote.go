package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/wonny/orbit/internal/remote"
	"github.com/wonny/orbit/pkg/logger"
)

// maxCommandBytes caps a remote command body
const maxCommandBytes = 1024

// RemoteHandler accepts ACTION|SYMBOL[|QTY] lines
type RemoteHandler struct {
	runner     Runner
	dispatcher *remote.Dispatcher
	logger     *logger.Logger
}

// NewRemoteHandler creates a new remote command handler
func NewRemoteHandler(runner Runner, dispatcher *remote.Dispatcher, log *logger.Logger) *RemoteHandler {
	return &RemoteHandler{
		runner:     runner,
		dispatcher: dispatcher,
		logger:     log,
	}
}

// RemoteRequest is the JSON form of a command
type RemoteRequest struct {
	Command string `json:"command"`
}

// Execute dispatches one command on the engine goroutine
// POST /api/remote (text/plain 또는 {"command": "..."})
func (h *RemoteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	line := string(body)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req RemoteRequest
		if err := json.Unmarshal(body, &req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		line = req.Command
	}

	var res remote.Result
	err = h.runner.Do(r.Context(), func(ctx context.Context) error {
		var err error
		res, err = h.dispatcher.Dispatch(ctx, line)
		return err
	})
	if err != nil {
		status := statusFor(err)
		h.logger.WithError(err).WithField("status", status).Warn("Remote command rejected")
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}
