package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/companionlab/companion-server/internal/database"
)

// getOptional runs a single-row query. A missing row yields nil, nil.
func getOptional[T any](ctx context.Context, db database.DBTX, query string, args ...any) (*T, error) {
	var row T
	err := db.GetContext(ctx, &row, query, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &row, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern turns user input into an ILIKE substring pattern, escaping wildcards.
func ContainsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
