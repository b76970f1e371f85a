package handler

import (
	"net/http"
	"strconv"

	"github.com/companionlab/companion-server/internal/config"
)

type PaginationParams struct {
	Page  int
	Limit int
}

// ParsePagination reads 1-based page and limit query parameters. Missing or
// out-of-range values fall back to the first page of the default size.
func ParsePagination(r *http.Request) PaginationParams {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	if page < 1 {
		page = 1
	}

	if limit <= 0 {
		limit = config.DefaultPageSize
	}
	if limit > config.MaxPageSize {
		limit = config.MaxPageSize
	}

	return PaginationParams{
		Page:  page,
		Limit: limit,
	}
}
