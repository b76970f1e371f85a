package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/companionlab/companion-server/internal/model"
)

type SessionHistoryRepository interface {
	Create(ctx context.Context, userID, companionID string) (*model.SessionRecord, error)
	// FindRecentCompanions returns the companion of each of the latest sessions, newest first.
	// A companion appears once per session.
	FindRecentCompanions(ctx context.Context, limit int) ([]model.Companion, error)
	FindCompanionsByUser(ctx context.Context, userID string, limit int) ([]model.Companion, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}

type sessionHistoryRepo struct {
	db *sqlx.DB
}

func NewSessionHistoryRepository(db *sqlx.DB) SessionHistoryRepository {
	return &sessionHistoryRepo{db: db}
}

func (r *sessionHistoryRepo) Create(ctx context.Context, userID, companionID string) (*model.SessionRecord, error) {
	var record model.SessionRecord
	err := r.db.GetContext(ctx, &record, `
		INSERT INTO session_history (user_id, companion_id)
		VALUES ($1, $2)
		RETURNING *
	`, userID, companionID)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *sessionHistoryRepo) FindRecentCompanions(ctx context.Context, limit int) ([]model.Companion, error) {
	companions := []model.Companion{}
	err := r.db.SelectContext(ctx, &companions, `
		SELECT c.* FROM session_history sh
		JOIN companions c ON c.id = sh.companion_id
		ORDER BY sh.created_at DESC
		LIMIT $1
	`, limit)
	return companions, err
}

func (r *sessionHistoryRepo) FindCompanionsByUser(ctx context.Context, userID string, limit int) ([]model.Companion, error) {
	companions := []model.Companion{}
	err := r.db.SelectContext(ctx, &companions, `
		SELECT c.* FROM session_history sh
		JOIN companions c ON c.id = sh.companion_id
		WHERE sh.user_id = $1
		ORDER BY sh.created_at DESC
		LIMIT $2
	`, userID, limit)
	return companions, err
}

func (r *sessionHistoryRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM session_history WHERE user_id = $1
	`, userID)
	return count, err
}
