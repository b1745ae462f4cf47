package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/datatap/datatap/internal/config"
)

// OIDCProvider verifies ID tokens from an OpenID Connect issuer and runs
// the authorization code flow for browser sign-in.
type OIDCProvider struct {
	issuer   string
	verifier *oidc.IDTokenVerifier
	oauth    *oauth2.Config
}

// NewOIDCProvider runs issuer discovery. It returns nil, nil when no issuer
// is configured.
func NewOIDCProvider(ctx context.Context, cfg config.OIDCConfig) (*OIDCProvider, error) {
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, nil
	}
	if cfg.ClientID == "" {
		return nil, errors.New("oidc: client_id is required when an issuer is set")
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	return &OIDCProvider{
		issuer:   issuer,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

// newOIDCProviderWithVerifier builds a provider around an existing verifier,
// skipping discovery.
func newOIDCProviderWithVerifier(issuer string, verifier *oidc.IDTokenVerifier, oauth *oauth2.Config) *OIDCProvider {
	return &OIDCProvider{issuer: issuer, verifier: verifier, oauth: oauth}
}

// Issuer returns the iss claim the provider's tokens carry.
func (p *OIDCProvider) Issuer() string {
	return p.issuer
}

// Verify checks an ID token's signature, audience and expiry, then returns
// the identity it asserts.
func (p *OIDCProvider) Verify(ctx context.Context, rawIDToken string) (*ExternalIdentity, error) {
	token, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}

	var claims struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id token claims: %w", err)
	}

	return &ExternalIdentity{
		Subject: token.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}

// AuthCodeURL returns the provider's consent page URL for state.
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens and verifies the ID
// token that comes back.
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*ExternalIdentity, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, errors.New("token response has no id_token")
	}
	return p.Verify(ctx, raw)
}
