package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/companionlab/companion-server/internal/auth"
	"github.com/companionlab/companion-server/internal/config"
	"github.com/companionlab/companion-server/internal/model"
)

type CompanionLister interface {
	List(ctx context.Context, filter model.CompanionFilter, userID string) []model.CompanionSummary
}

type RecentSessions interface {
	Recent(ctx context.Context, limit int) ([]model.Companion, error)
}

type HomeHandler struct {
	companions CompanionLister
	history    RecentSessions
}

func NewHomeHandler(companions CompanionLister, history RecentSessions) *HomeHandler {
	return &HomeHandler{
		companions: companions,
		history:    history,
	}
}

// GET /api/home
func (h *HomeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	popular := h.companions.List(ctx, model.CompanionFilter{
		Page:  1,
		Limit: config.HomePopularLimit,
	}, auth.UserID(ctx))

	recent, err := h.history.Recent(ctx, config.HomeRecentLimit)
	if err != nil {
		log.Error().Err(err).Msg("home: failed to load recent sessions")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"popular": popular,
		"recent":  nonNil(recent),
	})
}
