package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/companionlab/companion-server/internal/auth"
	"github.com/companionlab/companion-server/internal/config"
	"github.com/companionlab/companion-server/internal/database"
	apperrors "github.com/companionlab/companion-server/internal/errors"
	"github.com/companionlab/companion-server/internal/model"
	"github.com/companionlab/companion-server/internal/repository"
)

type CreateCompanionRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Subject  string `json:"subject" validate:"required,max=50"`
	Topic    string `json:"topic" validate:"required,max=500"`
	Duration int    `json:"duration" validate:"required,min=1,max=240"`
	Style    string `json:"style" validate:"omitempty,oneof=casual formal"`
	Voice    string `json:"voice" validate:"omitempty,oneof=male female"`
}

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type CompanionService struct {
	companionRepo repository.CompanionRepository
	entitlements  *EntitlementService
	bookmarks     BookmarkService
	tx            TxRunner
	validate      *validator.Validate
}

// NewCompanionService builds the service. With a nil tx the allowance check and
// the insert run as separate statements.
func NewCompanionService(
	companionRepo repository.CompanionRepository,
	entitlements *EntitlementService,
	bookmarks BookmarkService,
	tx TxRunner,
) *CompanionService {
	return &CompanionService{
		companionRepo: companionRepo,
		entitlements:  entitlements,
		bookmarks:     bookmarks,
		tx:            tx,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

// NormalizeFilter clamps page and limit into the accepted range.
func NormalizeFilter(filter model.CompanionFilter) model.CompanionFilter {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = config.DefaultPageSize
	}
	if filter.Limit > config.MaxPageSize {
		filter.Limit = config.MaxPageSize
	}
	filter.Subject = strings.TrimSpace(filter.Subject)
	filter.Topic = strings.TrimSpace(filter.Topic)
	return filter
}

// List returns one page of the directory. Backend failures yield an empty page.
// When userID is set and bookmarks are enabled, each row's Bookmarked flag is filled in.
func (s *CompanionService) List(ctx context.Context, filter model.CompanionFilter, userID string) []model.CompanionSummary {
	filter = NormalizeFilter(filter)

	companions, err := s.companionRepo.Search(ctx, filter)
	if err != nil {
		log.Error().
			Err(err).
			Str("subject", filter.Subject).
			Str("topic", filter.Topic).
			Int("page", filter.Page).
			Msg("failed to list companions")
		return []model.CompanionSummary{}
	}

	marked := s.bookmarkedSet(ctx, userID)
	for i := range companions {
		companions[i].Bookmarked = marked[companions[i].ID]
	}

	return companions
}

func (s *CompanionService) bookmarkedSet(ctx context.Context, userID string) map[string]bool {
	if userID == "" || s.bookmarks == nil || !s.bookmarks.Enabled() {
		return nil
	}

	ids, err := s.bookmarks.IDs(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to load bookmark ids")
		return nil
	}

	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Get resolves a companion by id, falling back to a name match on the slug form
// (hyphens read as spaces).
func (s *CompanionService) Get(ctx context.Context, idOrSlug string) (*model.Companion, error) {
	idOrSlug = strings.TrimSpace(idOrSlug)
	if idOrSlug == "" {
		return nil, apperrors.NotFound("Companion")
	}

	if _, err := uuid.Parse(idOrSlug); err == nil {
		companion, err := s.companionRepo.FindByID(ctx, idOrSlug)
		if err != nil {
			log.Warn().Err(err).Str("id", idOrSlug).Msg("companion id lookup failed, trying name match")
		} else if companion != nil {
			return companion, nil
		}
	}

	companion, err := s.companionRepo.FindFirstByNameLike(ctx, SlugToName(idOrSlug))
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find companion by name: %w", err))
	}
	if companion == nil {
		return nil, apperrors.NotFound("Companion")
	}

	return companion, nil
}

// SlugToName turns a URL slug back into the name fragment it was derived from.
func SlugToName(slug string) string {
	return strings.ReplaceAll(slug, "-", " ")
}

// Create validates the request, checks the caller's allowance and stores the companion.
func (s *CompanionService) Create(ctx context.Context, id *auth.Identity, req CreateCompanionRequest) (*model.Companion, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Subject = strings.ToLower(strings.TrimSpace(req.Subject))
	req.Topic = strings.TrimSpace(req.Topic)

	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.ValidationError(validationMessage(err))
	}

	if id == nil || id.UserID == "" {
		return nil, s.entitlements.CheckCreate(ctx, id)
	}

	if req.Style == "" {
		req.Style = string(model.StyleCasual)
	}
	if req.Voice == "" {
		req.Voice = string(model.VoiceFemale)
	}
	params := model.CreateCompanionParams{
		Name:     req.Name,
		Subject:  req.Subject,
		Topic:    req.Topic,
		Duration: req.Duration,
		Style:    req.Style,
		Voice:    req.Voice,
		Author:   id.UserID,
	}

	var companion *model.Companion
	insert := func(repo repository.CompanionRepository) error {
		if err := checkCreate(ctx, repo, id); err != nil {
			return err
		}
		created, err := repo.Create(ctx, params)
		if err != nil {
			return apperrors.Database(fmt.Errorf("create companion: %w", err))
		}
		companion = created
		return nil
	}

	var err error
	if s.tx == nil {
		err = insert(s.companionRepo)
	} else {
		err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
			repo := s.companionRepo.WithTx(tx)
			if err := repo.LockAuthor(ctx, id.UserID); err != nil {
				return apperrors.Database(fmt.Errorf("lock author: %w", err))
			}
			return insert(repo)
		})
	}
	if err != nil {
		if !apperrors.IsAppError(err) {
			err = apperrors.Database(err)
		}
		return nil, err
	}

	log.Info().
		Str("companionId", companion.ID).
		Str("userId", id.UserID).
		Str("subject", companion.Subject).
		Msg("companion created")

	return companion, nil
}

func (s *CompanionService) ListByAuthor(ctx context.Context, userID string) ([]model.Companion, error) {
	companions, err := s.companionRepo.FindByAuthor(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find companions by author: %w", err))
	}
	return companions, nil
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Invalid request"
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", field))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		case "min", "max":
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(parts, "; ")
}
