// Package oauth2 holds the password grant token source used by the
// operator client to log in against the identity provider.
package oauth2

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

type passwordCredentialsTokenSource struct {
	ctx                context.Context
	cfg                *oauth2.Config
	username, password string
	now                func() time.Time

	mu                sync.Mutex // protects the fields below
	refreshToken      *oauth2.Token
	accessTokenSource oauth2.TokenSource
}

// NewPasswordCredentialsTokenSource returns an oauth2.TokenSource
// implementing the resource owner password grant of
// https://tools.ietf.org/html/rfc6749#section-4.3.
//
// The access token is reused until it expires and refreshed for as long
// as the refresh token is usable. Once the refresh token expires, the
// source logs in again with the configured username and password.
//
// It is safe for concurrent use.
func NewPasswordCredentialsTokenSource(ctx context.Context, cfg *oauth2.Config, username, password string) *passwordCredentialsTokenSource {
	return &passwordCredentialsTokenSource{
		ctx:      ctx,
		cfg:      cfg,
		username: username,
		password: password,
		now:      time.Now,
	}
}

func (c *passwordCredentialsTokenSource) Token() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refreshToken.Valid() {
		tok, err := c.accessTokenSource.Token()
		if err != nil {
			return nil, fmt.Errorf("access token source failed: %v", err)
		}

		// A rotated refresh token comes back alongside the refreshed
		// access token. The same token means the pair is unchanged.
		if tok.RefreshToken != c.refreshToken.RefreshToken {
			c.trackRefreshToken(tok)
		}
		return tok, nil
	}

	tok, err := c.cfg.PasswordCredentialsToken(c.ctx, c.username, c.password)
	if err != nil {
		return nil, fmt.Errorf("password credentials token source failed: %v", err)
	}

	c.accessTokenSource = c.cfg.TokenSource(c.ctx, tok)
	c.trackRefreshToken(tok)

	return tok, nil
}

// trackRefreshToken records the refresh token as a token of its own so
// that the expiry bookkeeping of Valid applies to it. Keycloak reports
// the refresh token lifetime as refresh_expires_in next to the pair.
// With a provider that omits it no refresh token is tracked and each
// call logs in again.
func (c *passwordCredentialsTokenSource) trackRefreshToken(tok *oauth2.Token) {
	expires, ok := tok.Extra("refresh_expires_in").(float64)
	if !ok {
		c.refreshToken = nil
		return
	}

	c.refreshToken = &oauth2.Token{
		AccessToken:  tok.RefreshToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       c.now().Add(time.Duration(int64(expires)) * time.Second),
	}
}
