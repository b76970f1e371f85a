package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/companionlab/companion-server/internal/audit"
	"github.com/companionlab/companion-server/internal/auth"
	apperrors "github.com/companionlab/companion-server/internal/errors"
	"github.com/companionlab/companion-server/internal/middleware"
	"github.com/companionlab/companion-server/internal/model"
	"github.com/companionlab/companion-server/internal/service"
)

// defaultRevalidatePath is the view refreshed after a bookmark change when the
// client does not name one.
const defaultRevalidatePath = "/companions"

type CompanionDirectory interface {
	List(ctx context.Context, filter model.CompanionFilter, userID string) []model.CompanionSummary
	Get(ctx context.Context, idOrSlug string) (*model.Companion, error)
	Create(ctx context.Context, id *auth.Identity, req service.CreateCompanionRequest) (*model.Companion, error)
}

type CompanionHandler struct {
	companions CompanionDirectory
	bookmarks  service.BookmarkService
}

func NewCompanionHandler(companions CompanionDirectory, bookmarks service.BookmarkService) *CompanionHandler {
	return &CompanionHandler{
		companions: companions,
		bookmarks:  bookmarks,
	}
}

func (h *CompanionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/{idOrSlug}", h.Get)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Post("/", h.Create)
		r.Post("/{id}/bookmark", h.AddBookmark)
		r.Delete("/{id}/bookmark", h.RemoveBookmark)
	})

	return r
}

// GET /api/companions?subject=&topic=&page=&limit=
func (h *CompanionHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	pagination := ParsePagination(r)

	companions := h.companions.List(r.Context(), model.CompanionFilter{
		Subject: query.Get("subject"),
		Topic:   query.Get("topic"),
		Page:    pagination.Page,
		Limit:   pagination.Limit,
	}, auth.UserID(r.Context()))

	writeJSON(w, http.StatusOK, map[string]any{
		"companions": companions,
		"page":       pagination.Page,
		"limit":      pagination.Limit,
	})
}

// GET /api/companions/{idOrSlug}
// Records without a name, subject or topic cannot back a session page and are
// reported as missing.
func (h *CompanionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	companion, err := h.companions.Get(ctx, chi.URLParam(r, "idOrSlug"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !companion.Complete() {
		writeError(w, apperrors.NotFound("Companion"))
		return
	}

	if userID := auth.UserID(ctx); userID != "" && h.bookmarks.Enabled() {
		ids, err := h.bookmarks.IDs(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("failed to load bookmark ids")
		}
		for _, id := range ids {
			if id == companion.ID {
				companion.Bookmarked = true
				break
			}
		}
	}

	writeJSON(w, http.StatusOK, companion)
}

// POST /api/companions
func (h *CompanionHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	var req service.CreateCompanionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	companion, err := h.companions.Create(r.Context(), identity, req)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeEntitlementLimit {
			audit.LogFromRequest(r, audit.Event{
				Type:   audit.EventEntitlementDenied,
				UserID: identity.UserID,
			})
		}
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:        audit.EventCompanionCreate,
		UserID:      identity.UserID,
		CompanionID: companion.ID,
		Details: map[string]interface{}{
			"subject": companion.Subject,
		},
	})

	writeJSON(w, http.StatusCreated, companion)
}

// POST /api/companions/{id}/bookmark
// Body: {"path": "/companions"}; path names the view to refresh once stored.
func (h *CompanionHandler) AddBookmark(w http.ResponseWriter, r *http.Request) {
	companionID, ok := companionIDParam(w, r)
	if !ok {
		return
	}

	var req struct {
		Path string `json:"path"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
			return
		}
	}

	userID := auth.UserID(r.Context())
	if err := h.bookmarks.Add(r.Context(), userID, companionID, revalidatePath(req.Path)); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:        audit.EventBookmarkAdd,
		UserID:      userID,
		CompanionID: companionID,
		Details:     map[string]interface{}{"mode": h.bookmarks.Mode()},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"bookmarked": h.bookmarks.Enabled(),
	})
}

// DELETE /api/companions/{id}/bookmark?path=/companions
func (h *CompanionHandler) RemoveBookmark(w http.ResponseWriter, r *http.Request) {
	companionID, ok := companionIDParam(w, r)
	if !ok {
		return
	}

	userID := auth.UserID(r.Context())
	path := revalidatePath(r.URL.Query().Get("path"))
	if err := h.bookmarks.Remove(r.Context(), userID, companionID, path); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:        audit.EventBookmarkRemove,
		UserID:      userID,
		CompanionID: companionID,
		Details:     map[string]interface{}{"mode": h.bookmarks.Mode()},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"bookmarked": false,
	})
}

// GET /api/bookmarks/enabled
func (h *CompanionHandler) BookmarksEnabled(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": h.bookmarks.Enabled(),
		"mode":    h.bookmarks.Mode(),
	})
}

func companionIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, apperrors.InvalidInput("id", "must be a companion id"))
		return "", false
	}
	return id, true
}

func revalidatePath(path string) string {
	if path == "" || path[0] != '/' {
		return defaultRevalidatePath
	}
	return path
}
