package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

// Authenticator performs the authenticate-and-store handshake.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// ValidCredential is the outcome of TokenService.EnsureValid.
type ValidCredential struct {
	Credential string
	Renewed    bool
	// Assessment is nil when the credential carries no parseable expiry.
	Assessment *model.ExpirationAssessment
}

// TokenService decides whether the stored session credential is still usable
// and renews it through the Authenticator when it is not. Validity is never
// cached between calls; every call re-reads the store.
type TokenService struct {
	store         driven.TokenStore
	auth          Authenticator
	thresholdDays int
	now           func() time.Time
	logger        *slog.Logger

	// mu serializes EnsureValid so concurrent callers cannot both renew.
	mu sync.Mutex
}

// NewTokenService creates a TokenService. A credential is renewal-due once it
// is expired or has thresholdDays or fewer whole days left.
func NewTokenService(store driven.TokenStore, auth Authenticator, thresholdDays int, logger *slog.Logger) *TokenService {
	return &TokenService{
		store:         store,
		auth:          auth,
		thresholdDays: thresholdDays,
		now:           time.Now,
		logger:        logger.With("component", "tokens"),
	}
}

// Assess parses the expiry of a credential relative to the current time.
func (s *TokenService) Assess(credential string) (model.ExpirationAssessment, error) {
	return model.AssessCredential(credential, s.now())
}

// EnsureValid returns a usable credential, renewing it first when none is
// stored, it cannot be assessed, or it is renewal-due.
func (s *TokenService) EnsureValid(ctx context.Context) (ValidCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Latest(ctx)
	if err != nil {
		return ValidCredential{}, fmt.Errorf("read current credential: %w", err)
	}

	if current != nil {
		assessment, err := s.Assess(current.Value)
		switch {
		case err != nil:
			s.logger.Warn("stored credential cannot be assessed, renewing",
				"credential_id", current.ID, "error", err)
		case assessment.RenewalDue(s.thresholdDays):
			s.logger.Info("credential renewal due",
				"credential_id", current.ID,
				"expired", assessment.IsExpired,
				"days_remaining", assessment.DaysRemaining,
				"threshold_days", s.thresholdDays,
			)
		default:
			return ValidCredential{Credential: current.Value, Assessment: &assessment}, nil
		}
	} else {
		s.logger.Info("no stored credential, authenticating")
	}

	if err := s.auth.Authenticate(ctx); err != nil {
		credentialRenewalsTotal.WithLabelValues("error").Inc()
		return ValidCredential{}, err
	}

	renewed, err := s.store.Latest(ctx)
	if err != nil {
		credentialRenewalsTotal.WithLabelValues("error").Inc()
		return ValidCredential{}, fmt.Errorf("%w: read renewed credential: %w", model.ErrFailedRenewal, err)
	}
	if renewed == nil || (current != nil && renewed.ID == current.ID) {
		credentialRenewalsTotal.WithLabelValues("error").Inc()
		return ValidCredential{}, fmt.Errorf("%w: no new credential stored", model.ErrFailedRenewal)
	}

	credentialRenewalsTotal.WithLabelValues("renewed").Inc()

	result := ValidCredential{Credential: renewed.Value, Renewed: true}
	if assessment, err := s.Assess(renewed.Value); err == nil {
		result.Assessment = &assessment
		s.logger.Info("credential renewed",
			"credential_id", renewed.ID,
			"expires_at", assessment.ExpiresAt,
			"days_remaining", assessment.DaysRemaining,
		)
	} else {
		s.logger.Warn("renewed credential carries no expiry", "credential_id", renewed.ID, "error", err)
	}

	return result, nil
}

// GetValidCredential returns only the credential string of EnsureValid.
func (s *TokenService) GetValidCredential(ctx context.Context) (string, error) {
	valid, err := s.EnsureValid(ctx)
	if err != nil {
		return "", err
	}
	return valid.Credential, nil
}

// Status assesses the latest stored credential without renewing it. Returns
// nil, nil when no credential is stored.
func (s *TokenService) Status(ctx context.Context) (*model.ExpirationAssessment, error) {
	current, err := s.store.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("read current credential: %w", err)
	}
	if current == nil {
		return nil, nil
	}

	assessment, err := s.Assess(current.Value)
	if err != nil {
		return nil, err
	}
	return &assessment, nil
}
