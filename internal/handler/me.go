package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/companionlab/companion-server/internal/auth"
	"github.com/companionlab/companion-server/internal/config"
	"github.com/companionlab/companion-server/internal/middleware"
	"github.com/companionlab/companion-server/internal/model"
	"github.com/companionlab/companion-server/internal/service"
)

type AuthorIndex interface {
	ListByAuthor(ctx context.Context, userID string) ([]model.Companion, error)
}

type SessionHistory interface {
	ForUser(ctx context.Context, userID string, limit int) ([]model.Companion, error)
	CountForUser(ctx context.Context, userID string) (int, error)
}

type PermissionChecker interface {
	Permissions(ctx context.Context, id *auth.Identity) service.Permissions
}

// MeHandler serves the signed-in user's own companions, sessions and bookmarks.
type MeHandler struct {
	companions  AuthorIndex
	history     SessionHistory
	bookmarks   service.BookmarkService
	permissions PermissionChecker
}

func NewMeHandler(
	companions AuthorIndex,
	history SessionHistory,
	bookmarks service.BookmarkService,
	permissions PermissionChecker,
) *MeHandler {
	return &MeHandler{
		companions:  companions,
		history:     history,
		bookmarks:   bookmarks,
		permissions: permissions,
	}
}

func (h *MeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireUser)

	r.Get("/companions", h.Companions)
	r.Get("/sessions", h.Sessions)
	r.Get("/bookmarks", h.Bookmarks)
	r.Get("/journey", h.Journey)
	r.Get("/permissions", h.Permissions)

	return r
}

// GET /api/me/companions
func (h *MeHandler) Companions(w http.ResponseWriter, r *http.Request) {
	companions, err := h.companions.ListByAuthor(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"companions": nonNil(companions)})
}

// GET /api/me/sessions?limit=
func (h *MeHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	limit := ParsePagination(r).Limit

	companions, err := h.history.ForUser(r.Context(), auth.UserID(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": nonNil(companions)})
}

// GET /api/me/bookmarks
func (h *MeHandler) Bookmarks(w http.ResponseWriter, r *http.Request) {
	companions, err := h.bookmarks.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bookmarks": nonNil(companions),
		"enabled":   h.bookmarks.Enabled(),
	})
}

// GET /api/me/journey
// Each section degrades to empty on failure so the page always renders.
func (h *MeHandler) Journey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	companions, err := h.companions.ListByAuthor(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("journey: failed to load companions")
	}

	sessions, err := h.history.ForUser(ctx, userID, config.MaxPageSize)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("journey: failed to load sessions")
	}

	completed, err := h.history.CountForUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("journey: failed to count sessions")
		completed = len(sessions)
	}

	var bookmarks []model.Companion
	if h.bookmarks.Enabled() {
		bookmarks, err = h.bookmarks.List(ctx, userID)
		if err != nil {
			log.Error().Err(err).Str("userId", userID).Msg("journey: failed to load bookmarks")
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"companions":       nonNil(companions),
		"sessions":         nonNil(sessions),
		"lessonsCompleted": completed,
		"companionsBuilt":  len(companions),
		"bookmarks":        nonNil(bookmarks),
		"bookmarksEnabled": h.bookmarks.Enabled(),
	})
}

// GET /api/me/permissions
func (h *MeHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.permissions.Permissions(r.Context(), auth.FromContext(r.Context())))
}

func nonNil(companions []model.Companion) []model.Companion {
	if companions == nil {
		return []model.Companion{}
	}
	return companions
}
