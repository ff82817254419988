package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

// AuthService performs the two-step login handshake against the remote API and
// persists the resulting session credential.
type AuthService struct {
	client driven.MarketClient
	store  driven.TokenStore
	logger *slog.Logger
}

// NewAuthService creates a new AuthService with the required dependencies.
func NewAuthService(client driven.MarketClient, store driven.TokenStore, logger *slog.Logger) *AuthService {
	return &AuthService{
		client: client,
		store:  store,
		logger: logger.With("component", "auth"),
	}
}

// Authenticate fetches an anti-forgery token, logs in with it and stores the
// session cookie as a new credential record. Every failure wraps
// model.ErrAuthenticationFailed.
func (s *AuthService) Authenticate(ctx context.Context) error {
	csrf, err := s.client.FetchCSRFToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrAuthenticationFailed, err)
	}

	cookie, err := s.client.Login(ctx, csrf)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrAuthenticationFailed, err)
	}
	if strings.TrimSpace(cookie) == "" {
		return fmt.Errorf("%w: login returned an empty session cookie", model.ErrAuthenticationFailed)
	}

	saved, err := s.store.Save(ctx, cookie)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrAuthenticationFailed, err)
	}

	s.logger.Info("session credential stored", "credential_id", saved.ID)
	return nil
}
