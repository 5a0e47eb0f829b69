// Package server exposes the hdriver HTTP control plane: instrument setup
// and offsetter control. Responses use the MESSAGEBUFFER/RETCODE envelope
// the rest of the instrument tooling speaks.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hipercam/hdriver/internal/logging"
	"github.com/hipercam/hdriver/internal/models"
	"github.com/hipercam/hdriver/internal/obsmode"
	"github.com/hipercam/hdriver/internal/offsetter"
	"github.com/hipercam/hdriver/internal/sequencer"
	"github.com/rs/zerolog"
)

// Server handles control-plane requests.
type Server struct {
	logger    zerolog.Logger
	seq       *sequencer.Sequencer
	coord     *offsetter.Coordinator
	version   string
	startedAt time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithVersion sets the reported daemon version.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// New creates a control-plane server.
func New(seq *sequencer.Sequencer, coord *offsetter.Coordinator, opts ...Option) *Server {
	s := &Server{
		logger:    logging.Component("server"),
		seq:       seq,
		coord:     coord,
		version:   "dev",
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the control-plane HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /setup", s.handleSetup)
	mux.HandleFunc("POST /offsetter/configure", s.handleConfigure)
	mux.HandleFunc("POST /offsetter/start", s.handleStart)
	mux.HandleFunc("POST /offsetter/stop", s.handleStop)
	mux.HandleFunc("GET /offsetter/status", s.handleOffsetterStatus)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": s.version,
		"uptime":  time.Since(s.startedAt).String(),
		"RETCODE": models.StatusOK,
	})
}

// handleSetup decodes an observation mode payload and applies it. The
// control system's final setup reply is passed through verbatim; failures
// report the failing step and the external response text so operators can
// diagnose hardware rejections without log access.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var setup obsmode.Setup
	if err := json.NewDecoder(r.Body).Decode(&setup); err != nil {
		s.writeNOK(w, http.StatusBadRequest, fmt.Sprintf("bad setup payload: %v", err))
		return
	}

	mode, err := obsmode.FromSetup(setup)
	if err != nil {
		s.writeNOK(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.seq.Apply(r.Context(), mode)
	if err != nil {
		if errors.Is(err, sequencer.ErrApplyInFlight) {
			s.writeNOK(w, http.StatusConflict, err.Error())
			return
		}
		s.writeNOK(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

type configurePayload struct {
	RAOffsets  []float64 `json:"raoff"`
	DecOffsets []float64 `json:"decoff"`
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var payload configurePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeNOK(w, http.StatusBadRequest, fmt.Sprintf("bad pattern payload: %v", err))
		return
	}

	if err := s.coord.Configure(payload.RAOffsets, payload.DecOffsets); err != nil {
		s.writeNOK(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeOK(w, fmt.Sprintf("offset pattern configured, %d positions", len(payload.RAOffsets)))
}

type startPayload struct {
	Directory string `json:"directory"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload startPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeNOK(w, http.StatusBadRequest, fmt.Sprintf("bad start payload: %v", err))
		return
	}
	if payload.Directory == "" {
		s.writeNOK(w, http.StatusBadRequest, "directory is required")
		return
	}

	if err := s.coord.Start(payload.Directory); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, offsetter.ErrNoPatternConfigured):
			status = http.StatusConflict
		case errors.Is(err, offsetter.ErrAlreadyWatching):
			status = http.StatusConflict
		case errors.Is(err, offsetter.ErrWatchStartFailed):
			status = http.StatusBadRequest
		}
		s.writeNOK(w, status, err.Error())
		return
	}

	s.writeOK(w, fmt.Sprintf("watching %s", payload.Directory))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Stop(); err != nil {
		s.writeNOK(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeOK(w, "offsetter stopped")
}

func (s *Server) handleOffsetterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Status())
}

func (s *Server) writeOK(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, models.Reply{MessageBuffer: msg, RetCode: models.StatusOK})
}

func (s *Server) writeNOK(w http.ResponseWriter, status int, msg string) {
	s.logger.Warn().Int("status", status).Str("message", msg).Msg("request failed")
	writeJSON(w, status, models.Reply{MessageBuffer: msg, RetCode: models.StatusNOK})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
