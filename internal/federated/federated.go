package federated

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Claims is the decoded payload of a third-party identity token. It is never
// persisted directly; the resolver uses it to match or synthesize a local
// identity.
type Claims struct {
	Email   string
	UID     string
	Name    string
	Picture string
}

// Verifier validates third-party identity tokens out of process.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*Claims, error)
}

type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OIDCVerifier verifies federated ID tokens against a discovered OIDC
// provider. It can also exchange an authorization code for an ID token when
// a caller presents a code instead of a token.
type OIDCVerifier struct {
	verifier    *oidc.IDTokenVerifier
	oauthConfig *oauth2.Config
}

func NewOIDCVerifier(ctx context.Context, cfg Config) (*OIDCVerifier, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, errors.New("oidc config missing issuer or client id")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider init failed: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	return &OIDCVerifier{verifier: verifier, oauthConfig: oauthCfg}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("id token verification failed: %w", err)
	}

	var payload struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&payload); err != nil {
		return nil, fmt.Errorf("id token claims parse failed: %w", err)
	}
	if payload.Email == "" {
		return nil, errors.New("id token missing email claim")
	}

	return &Claims{
		Email:   payload.Email,
		UID:     idToken.Subject,
		Name:    payload.Name,
		Picture: payload.Picture,
	}, nil
}

// ExchangeCode trades an authorization code for the provider's ID token, for
// endpoints that receive a code rather than a ready token.
func (v *OIDCVerifier) ExchangeCode(ctx context.Context, code string) (string, error) {
	token, err := v.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("code exchange failed: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", errors.New("provider did not return id_token")
	}
	return rawIDToken, nil
}
