// Package authority talks to the external OAuth token authority. The core
// never stores or validates tokens itself; any standards-compliant
// client-credentials authorization server satisfies this interface.
package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fasttrack/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Token is a freshly issued machine credential.
type Token struct {
	AccessToken string
	TokenType   string
	Scope       string
	ExpiresAt   time.Time
}

// Introspection is the authority's answer about a presented token.
type Introspection struct {
	Active    bool
	ClientId  string
	Scope     string
	ExpiresAt time.Time
}

type TokenAuthority interface {
	Issue(ctx context.Context, clientId, clientSecret string, scopes []string) (Token, error)
	Introspect(ctx context.Context, token string) (Introspection, error)
	Revoke(ctx context.Context, clientId, clientSecret, token string) error
}

// Client implements TokenAuthority over the client-credentials grant plus
// RFC 7662 introspection and RFC 7009 revocation. Every call carries the
// configured timeout.
type Client struct {
	cfg  config.AuthorityConfig
	http *http.Client
}

func NewClient(cfg config.AuthorityConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Issue(ctx context.Context, clientId, clientSecret string, scopes []string) (Token, error) {
	conf := &clientcredentials.Config{
		ClientID:     clientId,
		ClientSecret: clientSecret,
		TokenURL:     c.cfg.TokenURL,
		Scopes:       scopes,
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := conf.Token(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("authority.Client.Issue: %w", err)
	}

	scope, _ := tok.Extra("scope").(string)
	if scope == "" {
		scope = strings.Join(scopes, " ")
	}

	return Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Scope:       scope,
		ExpiresAt:   tok.Expiry,
	}, nil
}

func (c *Client) Introspect(ctx context.Context, token string) (Introspection, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.IntrospectURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Introspection{}, fmt.Errorf("authority.Client.Introspect: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return Introspection{}, fmt.Errorf("authority.Client.Introspect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Introspection{}, fmt.Errorf("authority.Client.Introspect: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Active    bool   `json:"active"`
		ClientId  string `json:"client_id"`
		Scope     string `json:"scope"`
		ExpiresAt int64  `json:"exp"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Introspection{}, fmt.Errorf("authority.Client.Introspect: %w", err)
	}

	result := Introspection{
		Active:   body.Active,
		ClientId: body.ClientId,
		Scope:    body.Scope,
	}
	if body.ExpiresAt > 0 {
		result.ExpiresAt = time.Unix(body.ExpiresAt, 0)
	}
	return result, nil
}

func (c *Client) Revoke(ctx context.Context, clientId, clientSecret, token string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("authority.Client.Revoke: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(clientId, clientSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("authority.Client.Revoke: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authority.Client.Revoke: unexpected status %d", resp.StatusCode)
	}
	return nil
}
