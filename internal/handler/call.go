package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/companionlab/companion-server/internal/audit"
	"github.com/companionlab/companion-server/internal/auth"
	"github.com/companionlab/companion-server/internal/call"
	apperrors "github.com/companionlab/companion-server/internal/errors"
	"github.com/companionlab/companion-server/internal/middleware"
	"github.com/companionlab/companion-server/internal/model"
	redisclient "github.com/companionlab/companion-server/internal/redis"
	"github.com/companionlab/companion-server/internal/util"
)

type CompanionFinder interface {
	Get(ctx context.Context, idOrSlug string) (*model.Companion, error)
}

type CallRegistry interface {
	Open(userID string, companion model.Companion, style, voiceType string) *call.Controller
	Get(sessionID, userID string) (*call.Controller, error)
	Remove(sessionID, userID string) error
}

type openCallRequest struct {
	CompanionID string `json:"companionId"`
	Style       string `json:"style"`
	Voice       string `json:"voice"`
}

// CallHandler drives voice sessions. Every route requires a user and a session is
// only visible to the user who opened it.
type CallHandler struct {
	companions  CompanionFinder
	calls       CallRegistry
	broker      EventSource
	openLimiter func(http.Handler) http.Handler
}

// NewCallHandler builds the handler. openLimiter, when set, guards session creation.
func NewCallHandler(
	companions CompanionFinder,
	calls CallRegistry,
	broker EventSource,
	openLimiter func(http.Handler) http.Handler,
) *CallHandler {
	return &CallHandler{
		companions:  companions,
		calls:       calls,
		broker:      broker,
		openLimiter: openLimiter,
	}
}

func (h *CallHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireUser)

	if h.openLimiter != nil {
		r.With(h.openLimiter).Post("/", h.Open)
	} else {
		r.Post("/", h.Open)
	}

	r.Route("/{sessionId}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Close)
		r.Post("/start", h.Start)
		r.Post("/mute", h.ToggleMute)
		r.Post("/disconnect", h.Disconnect)
		r.Get("/events", h.Events)
	})

	return r
}

// POST /api/calls
// Body: {"companionId": "...", "style": "casual", "voice": "female"}
// style and voice are optional and default to the companion's own.
func (h *CallHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openCallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	if req.CompanionID == "" {
		writeError(w, apperrors.MissingRequired("companionId"))
		return
	}
	if !util.IsValidEnum(req.Style, string(model.StyleCasual), string(model.StyleFormal)) {
		writeError(w, apperrors.InvalidInput("style", "must be casual or formal"))
		return
	}
	if !util.IsValidEnum(req.Voice, string(model.VoiceMale), string(model.VoiceFemale)) {
		writeError(w, apperrors.InvalidInput("voice", "must be male or female"))
		return
	}

	companion, err := h.companions.Get(r.Context(), req.CompanionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !companion.Complete() {
		writeError(w, apperrors.NotFound("Companion"))
		return
	}

	ctrl := h.calls.Open(auth.UserID(r.Context()), *companion, req.Style, req.Voice)

	writeJSON(w, http.StatusCreated, ctrl.Snapshot())
}

// GET /api/calls/{sessionId}
func (h *CallHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// POST /api/calls/{sessionId}/start
func (h *CallHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	if err := ctrl.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:        audit.EventCallStart,
		UserID:      ctrl.UserID(),
		CompanionID: ctrl.CompanionID(),
		SessionID:   ctrl.ID(),
	})

	writeJSON(w, http.StatusAccepted, ctrl.Snapshot())
}

// POST /api/calls/{sessionId}/mute
func (h *CallHandler) ToggleMute(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	muted, err := ctrl.ToggleMute()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"muted": muted})
}

// POST /api/calls/{sessionId}/disconnect
func (h *CallHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	if err := ctrl.Disconnect(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:        audit.EventCallEnd,
		UserID:      ctrl.UserID(),
		CompanionID: ctrl.CompanionID(),
		SessionID:   ctrl.ID(),
	})

	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// DELETE /api/calls/{sessionId}
// Tears the session down. A live call is stopped without being recorded.
func (h *CallHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.calls.Remove(chi.URLParam(r, "sessionId"), auth.UserID(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/calls/{sessionId}/events
// Streams call snapshots, starting with the current one.
func (h *CallHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	streamEvents(w, r, h.broker, redisclient.CallChannel(ctrl.ID()), func(w http.ResponseWriter, flusher http.Flusher) error {
		return sendEvent(w, flusher, call.EventSnapshot, ctrl.Snapshot())
	})
}

func (h *CallHandler) controller(w http.ResponseWriter, r *http.Request) (*call.Controller, bool) {
	ctrl, err := h.calls.Get(chi.URLParam(r, "sessionId"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return ctrl, true
}
