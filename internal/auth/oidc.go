package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Sentinel errors for the OIDC login flow. Handlers branch on these instead
// of inspecting provider-specific failures.
var (
	ErrOIDCInit      = errors.New("oidc discovery failed")
	ErrTokenExchange = errors.New("oidc code exchange failed")
	ErrTokenVerify   = errors.New("oidc token verification failed")
	ErrMissingEmail  = errors.New("oidc identity carries no email")
)

// OIDCClaims is the identity the admin login needs from the provider: a
// stable subject plus the display fields shown in the dashboard header.
type OIDCClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// OIDCProvider drives the authorization-code login for the dashboard
// operator. Discovery, code exchange and ID-token verification all run
// against the issuer configured at startup.
type OIDCProvider struct {
	verifier *oidc.IDTokenVerifier
	oauth    oauth2.Config
}

// NewOIDCProvider discovers the issuer and prepares the code flow. The
// redirect URL must match the /auth/callback route registered with the
// provider.
func NewOIDCProvider(ctx context.Context, issuer, clientID, clientSecret, redirectURL string) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: issuer %s: %w", ErrOIDCInit, issuer, err)
	}

	return &OIDCProvider{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		oauth: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

// AuthCodeURL builds the provider login URL carrying the given state.
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange trades the callback's authorization code for a token set.
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}
	return token, nil
}

// VerifyIDToken checks the ID token's signature and audience and returns
// the identity claims. Identities without an email are rejected; the email
// is what the dashboard records for the signed-in operator.
func (p *OIDCProvider) VerifyIDToken(ctx context.Context, token *oauth2.Token) (*OIDCClaims, error) {
	raw, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%w: token response has no id_token", ErrTokenVerify)
	}

	idToken, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenVerify, err)
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: decode claims: %w", ErrTokenVerify, err)
	}
	if claims.Email == "" {
		return nil, ErrMissingEmail
	}
	return &claims, nil
}
