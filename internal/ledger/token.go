package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/repository"
)

// tokenExpiryMargin refreshes access tokens this long before they expire
const tokenExpiryMargin = 5 * time.Minute

// TokenStore persists the OAuth tokens of a tenant connection
type TokenStore interface {
	GetByTenantID(ctx context.Context, tenantID string) (*models.Connection, error)
	Seed(ctx context.Context, tenantID string, refreshToken string) error
	UpdateTokens(ctx context.Context, tenantID string, accessToken string, refreshToken string, accessTokenExpiresAt time.Time) error
}

// OAuthConfig holds the refresh-token grant settings
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	TenantID     string
	RefreshToken string // seeds the connection row on first use
}

// persistingTokenSource refreshes access tokens with the refresh-token grant and saves
// every rotated token pair, since the remote invalidates a refresh token once used.
type persistingTokenSource struct {
	ctx      context.Context
	mu       sync.Mutex
	conf     *oauth2.Config
	store    TokenStore
	tenantID string
	seed     string
}

// NewTokenSource returns a token source backed by store. ctx bounds every refresh.
func NewTokenSource(ctx context.Context, cfg OAuthConfig, store TokenStore) oauth2.TokenSource {
	src := &persistingTokenSource{
		ctx: ctx,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		store:    store,
		tenantID: cfg.TenantID,
		seed:     cfg.RefreshToken,
	}
	return oauth2.ReuseTokenSourceWithExpiry(nil, src, tokenExpiryMargin)
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connection()
	if err != nil {
		return nil, err
	}

	if conn.AccessToken != nil && !isTokenExpired(conn.AccessTokenExpiresAt) {
		return &oauth2.Token{
			AccessToken: *conn.AccessToken,
			TokenType:   "Bearer",
			Expiry:      *conn.AccessTokenExpiresAt,
		}, nil
	}

	if conn.RefreshToken == nil || *conn.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available for tenant %s", s.tenantID)
	}
	refreshToken := *conn.RefreshToken

	newToken, err := s.conf.TokenSource(s.ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	// Check if refresh token was rotated
	if newToken.RefreshToken == "" {
		newToken.RefreshToken = refreshToken
	}

	if err := s.store.UpdateTokens(s.ctx, s.tenantID, newToken.AccessToken, newToken.RefreshToken, newToken.Expiry); err != nil {
		return nil, fmt.Errorf("failed to save refreshed token: %w", err)
	}

	zap.S().Infof("Token refreshed successfully for tenant %s, expires at: %s", s.tenantID, newToken.Expiry)
	return newToken, nil
}

func (s *persistingTokenSource) connection() (*models.Connection, error) {
	conn, err := s.store.GetByTenantID(s.ctx, s.tenantID)
	if err == nil {
		return conn, nil
	}
	if !errors.Is(err, repository.ErrConnectionNotFound) || s.seed == "" {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}

	if err := s.store.Seed(s.ctx, s.tenantID, s.seed); err != nil {
		return nil, err
	}
	conn, err = s.store.GetByTenantID(s.ctx, s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	return conn, nil
}

// isTokenExpired checks if access token is expired or will expire within the margin
func isTokenExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true // Assume expired if no expiry time
	}
	return time.Now().Add(tokenExpiryMargin).After(*expiresAt)
}
