package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	apperrors "github.com/companionlab/companion-server/internal/errors"
	"github.com/companionlab/companion-server/internal/metrics"
	"github.com/companionlab/companion-server/internal/model"
	"github.com/companionlab/companion-server/internal/repository"
)

type HistoryService struct {
	historyRepo repository.SessionHistoryRepository
}

func NewHistoryService(historyRepo repository.SessionHistoryRepository) *HistoryService {
	return &HistoryService{historyRepo: historyRepo}
}

// Record appends one completed session for the user.
func (s *HistoryService) Record(ctx context.Context, userID, companionID string) error {
	if userID == "" {
		return apperrors.Unauthorized("Sign in to record sessions")
	}

	record, err := s.historyRepo.Create(ctx, userID, companionID)
	if err != nil {
		return apperrors.Database(fmt.Errorf("create session history: %w", err))
	}

	metrics.SessionsRecordedTotal.Inc()
	log.Info().
		Str("recordId", record.ID).
		Str("userId", userID).
		Str("companionId", companionID).
		Msg("session recorded")

	return nil
}

// Recent returns companions from the latest sessions across all users, newest first.
// The window is limit sessions wide; repeated companions keep their first position.
func (s *HistoryService) Recent(ctx context.Context, limit int) ([]model.Companion, error) {
	companions, err := s.historyRepo.FindRecentCompanions(ctx, limit)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find recent sessions: %w", err))
	}
	return DedupeCompanions(companions), nil
}

// ForUser returns the companion of every session the user completed, newest first.
func (s *HistoryService) ForUser(ctx context.Context, userID string, limit int) ([]model.Companion, error) {
	companions, err := s.historyRepo.FindCompanionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find user sessions: %w", err))
	}
	return companions, nil
}

// CountForUser returns how many sessions the user has completed.
func (s *HistoryService) CountForUser(ctx context.Context, userID string) (int, error) {
	count, err := s.historyRepo.CountByUser(ctx, userID)
	if err != nil {
		return 0, apperrors.Database(fmt.Errorf("count user sessions: %w", err))
	}
	return count, nil
}

// DedupeCompanions drops repeated companion ids, keeping first-seen order.
func DedupeCompanions(companions []model.Companion) []model.Companion {
	seen := make(map[string]struct{}, len(companions))
	out := make([]model.Companion, 0, len(companions))
	for _, c := range companions {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
