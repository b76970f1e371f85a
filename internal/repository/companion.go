package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/companionlab/companion-server/internal/database"
	"github.com/companionlab/companion-server/internal/model"
)

type CompanionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Companion, error)
	FindFirstByNameLike(ctx context.Context, fragment string) (*model.Companion, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.Companion, error)
	FindByAuthor(ctx context.Context, author string) ([]model.Companion, error)
	Search(ctx context.Context, filter model.CompanionFilter) ([]model.CompanionSummary, error)
	CountByAuthor(ctx context.Context, author string) (int, error)
	Create(ctx context.Context, params model.CreateCompanionParams) (*model.Companion, error)
	// LockAuthor serialises companion creation per author until the surrounding
	// transaction ends. Outside a transaction the lock is released immediately.
	LockAuthor(ctx context.Context, author string) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) CompanionRepository
}

type companionRepo struct {
	db database.DBTX
}

func NewCompanionRepository(db *sqlx.DB) CompanionRepository {
	return &companionRepo{db: db}
}

func (r *companionRepo) WithTx(tx *sqlx.Tx) CompanionRepository {
	return &companionRepo{db: tx}
}

func (r *companionRepo) FindByID(ctx context.Context, id string) (*model.Companion, error) {
	return getOptional[model.Companion](ctx, r.db, `
		SELECT * FROM companions WHERE id = $1
	`, id)
}

func (r *companionRepo) FindFirstByNameLike(ctx context.Context, fragment string) (*model.Companion, error) {
	return getOptional[model.Companion](ctx, r.db, `
		SELECT * FROM companions
		WHERE name ILIKE $1
		ORDER BY created_at
		LIMIT 1
	`, ContainsPattern(fragment))
}

func (r *companionRepo) FindByIDs(ctx context.Context, ids []string) ([]model.Companion, error) {
	companions := []model.Companion{}
	if len(ids) == 0 {
		return companions, nil
	}
	err := r.db.SelectContext(ctx, &companions, `
		SELECT * FROM companions
		WHERE id = ANY($1::uuid[])
		ORDER BY array_position($1::uuid[], id)
	`, pq.Array(ids))
	return companions, err
}

func (r *companionRepo) FindByAuthor(ctx context.Context, author string) ([]model.Companion, error) {
	companions := []model.Companion{}
	err := r.db.SelectContext(ctx, &companions, `
		SELECT * FROM companions
		WHERE author = $1
		ORDER BY created_at DESC
	`, author)
	return companions, err
}

func (r *companionRepo) Search(ctx context.Context, filter model.CompanionFilter) ([]model.CompanionSummary, error) {
	query, args := buildCompanionSearch(filter)
	companions := []model.CompanionSummary{}
	err := r.db.SelectContext(ctx, &companions, query, args...)
	return companions, err
}

func (r *companionRepo) CountByAuthor(ctx context.Context, author string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM companions WHERE author = $1
	`, author)
	return count, err
}

func (r *companionRepo) LockAuthor(ctx context.Context, author string) error {
	_, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, author)
	return err
}

func (r *companionRepo) Create(ctx context.Context, params model.CreateCompanionParams) (*model.Companion, error) {
	var companion model.Companion
	err := r.db.GetContext(ctx, &companion, `
		INSERT INTO companions (name, subject, topic, duration, style, voice, author)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, params.Name, params.Subject, params.Topic, params.Duration, params.Style, params.Voice, params.Author)
	if err != nil {
		return nil, err
	}
	return &companion, nil
}

// buildCompanionSearch renders the directory query. A subject filter matches the subject
// column; a topic filter matches topic or name; both together are ANDed.
func buildCompanionSearch(filter model.CompanionFilter) (string, []any) {
	var (
		sb    strings.Builder
		conds []string
		args  []any
	)

	sb.WriteString(`SELECT id, name, subject, topic, duration, author, created_at FROM companions`)

	if filter.Subject != "" {
		args = append(args, ContainsPattern(filter.Subject))
		conds = append(conds, fmt.Sprintf("subject ILIKE $%d", len(args)))
	}
	if filter.Topic != "" {
		args = append(args, ContainsPattern(filter.Topic))
		conds = append(conds, fmt.Sprintf("(topic ILIKE $%[1]d OR name ILIKE $%[1]d)", len(args)))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	args = append(args, filter.Limit, filter.Offset())
	fmt.Fprintf(&sb, " ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return sb.String(), args
}
