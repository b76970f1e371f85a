package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/companionlab/companion-server/internal/auth"
	apperrors "github.com/companionlab/companion-server/internal/errors"
	"github.com/companionlab/companion-server/internal/metrics"
	"github.com/companionlab/companion-server/internal/model"
	"github.com/companionlab/companion-server/internal/repository"
)

// Plan tiers and feature flags issued by the identity provider.
const (
	PlanProCompanion = "pro_companion"
	PlanCoreLearner  = "core_learner"

	FeatureUnlimitedCompanions = "unlimited_companions"
	FeatureTenCompanions       = "10_companions_limit"
	FeatureFiveCompanions      = "5_companions_limit"

	defaultCompanionLimit = 5
)

// ResolveLimit maps plan and features to a companion allowance. First match wins.
func ResolveLimit(id *auth.Identity) model.Entitlement {
	switch {
	case id.HasPlan(PlanProCompanion):
		return model.Entitlement{Unlimited: true}
	case id.HasPlan(PlanCoreLearner):
		return model.Entitlement{Limit: 10}
	case id.HasFeature(FeatureUnlimitedCompanions):
		return model.Entitlement{Unlimited: true}
	case id.HasFeature(FeatureTenCompanions):
		return model.Entitlement{Limit: 10}
	case id.HasFeature(FeatureFiveCompanions):
		return model.Entitlement{Limit: 5}
	default:
		return model.Entitlement{Limit: defaultCompanionLimit}
	}
}

// Permissions is the companion-creation view shown to the signed-in user.
type Permissions struct {
	CanCreate bool `json:"canCreate"`
	Limit     int  `json:"limit"`
	Unlimited bool `json:"unlimited"`
	Count     int  `json:"count"`
}

type EntitlementService struct {
	companionRepo repository.CompanionRepository
}

func NewEntitlementService(companionRepo repository.CompanionRepository) *EntitlementService {
	return &EntitlementService{companionRepo: companionRepo}
}

// CanCreateCompanion reports whether the user may create another companion.
// Anonymous callers and backend failures are denied.
func (s *EntitlementService) CanCreateCompanion(ctx context.Context, id *auth.Identity) bool {
	err := s.CheckCreate(ctx, id)
	if err != nil && apperrors.GetCode(err) == apperrors.ErrCodeDatabase {
		log.Error().Err(err).Str("userId", id.UserID).Msg("entitlement check failed, denying")
	}
	return err == nil
}

// CheckCreate is the strict form of CanCreateCompanion used on the create path.
func (s *EntitlementService) CheckCreate(ctx context.Context, id *auth.Identity) error {
	return checkCreate(ctx, s.companionRepo, id)
}

func checkCreate(ctx context.Context, companionRepo repository.CompanionRepository, id *auth.Identity) error {
	if id == nil || id.UserID == "" {
		metrics.EntitlementChecksTotal.WithLabelValues("unauthenticated").Inc()
		return apperrors.Unauthorized("Sign in to create companions")
	}

	ent := ResolveLimit(id)
	if ent.Unlimited {
		metrics.EntitlementChecksTotal.WithLabelValues("allowed").Inc()
		return nil
	}

	count, err := companionRepo.CountByAuthor(ctx, id.UserID)
	if err != nil {
		metrics.EntitlementChecksTotal.WithLabelValues("error").Inc()
		return apperrors.Database(fmt.Errorf("count companions: %w", err))
	}

	if count >= ent.Limit {
		metrics.EntitlementChecksTotal.WithLabelValues("denied").Inc()
		return apperrors.EntitlementLimit(ent.Limit)
	}

	metrics.EntitlementChecksTotal.WithLabelValues("allowed").Inc()
	return nil
}

// Permissions reports the user's allowance and current usage. Backend failures deny creation.
func (s *EntitlementService) Permissions(ctx context.Context, id *auth.Identity) Permissions {
	ent := ResolveLimit(id)
	perms := Permissions{Limit: ent.Limit, Unlimited: ent.Unlimited}
	if id == nil || id.UserID == "" {
		return perms
	}

	count, err := s.companionRepo.CountByAuthor(ctx, id.UserID)
	if err != nil {
		log.Error().Err(err).Str("userId", id.UserID).Msg("failed to count companions")
		return perms
	}

	perms.Count = count
	perms.CanCreate = ent.Unlimited || count < ent.Limit
	return perms
}
