package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/companionlab/companion-server/internal/model"
)

type BookmarkRepository interface {
	Create(ctx context.Context, userID, companionID string) error
	Delete(ctx context.Context, userID, companionID string) error
	FindCompanionsByUser(ctx context.Context, userID string) ([]model.Companion, error)
	FindCompanionIDsByUser(ctx context.Context, userID string) ([]string, error)
}

type bookmarkRepo struct {
	db *sqlx.DB
}

func NewBookmarkRepository(db *sqlx.DB) BookmarkRepository {
	return &bookmarkRepo{db: db}
}

func (r *bookmarkRepo) Create(ctx context.Context, userID, companionID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bookmarks (user_id, companion_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, companion_id) DO NOTHING
	`, userID, companionID)
	return err
}

func (r *bookmarkRepo) Delete(ctx context.Context, userID, companionID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM bookmarks WHERE user_id = $1 AND companion_id = $2
	`, userID, companionID)
	return err
}

func (r *bookmarkRepo) FindCompanionsByUser(ctx context.Context, userID string) ([]model.Companion, error) {
	companions := []model.Companion{}
	err := r.db.SelectContext(ctx, &companions, `
		SELECT c.* FROM bookmarks b
		JOIN companions c ON c.id = b.companion_id
		WHERE b.user_id = $1
		ORDER BY b.created_at DESC
	`, userID)
	return companions, err
}

func (r *bookmarkRepo) FindCompanionIDsByUser(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids, `
		SELECT companion_id FROM bookmarks WHERE user_id = $1
	`, userID)
	return ids, err
}
