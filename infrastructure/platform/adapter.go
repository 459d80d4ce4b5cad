// Package platform holds one adapter per third-party social platform. Each
// adapter speaks that platform's OAuth and posting dialect behind
// repository.IPlatformAdapter.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/configuration"

	"golang.org/x/oauth2"
)

const maxErrorBody = 512

// Option overrides adapter defaults, mainly endpoints in tests.
type Option func(*base)

func WithHTTPClient(c *http.Client) Option {
	return func(b *base) { b.httpClient = c }
}

// WithEndpoint replaces the authorize and token URLs, keeping the platform's auth style.
func WithEndpoint(authURL, tokenURL string) Option {
	return func(b *base) {
		b.conf.Endpoint.AuthURL = authURL
		b.conf.Endpoint.TokenURL = tokenURL
	}
}

func WithAPIBaseURL(u string) Option {
	return func(b *base) { b.apiBase = strings.TrimRight(u, "/") }
}

func WithRevokeURL(u string) Option {
	return func(b *base) { b.revokeURL = u }
}

// APIError is a non-2xx answer from a platform API.
type APIError struct {
	Platform   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api returned status %d: %s", e.Platform, e.StatusCode, e.Body)
}

// base carries the OAuth plumbing every adapter shares.
type base struct {
	id            string
	conf          *oauth2.Config
	pkce          bool
	verifierLen   int
	defaultScopes []string
	authParams    []oauth2.AuthCodeOption
	apiBase       string
	revokeURL     string
	userAgent     string
	httpClient    *http.Client
}

func newBase(id string, client configuration.OAuthClient, endpoint oauth2.Endpoint, defaults []string) *base {
	scopes := client.Scopes
	if len(scopes) == 0 {
		scopes = defaults
	}
	return &base{
		id: id,
		conf: &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			RedirectURL:  client.RedirectURI,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		defaultScopes: scopes,
		userAgent:     client.UserAgent,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *base) apply(opts []Option) {
	for _, opt := range opts {
		opt(b)
	}
	if b.userAgent != "" {
		b.httpClient = withUserAgent(b.httpClient, b.userAgent)
	}
}

func (b *base) PlatformID() string      { return b.id }
func (b *base) UsesPKCE() bool          { return b.pkce }
func (b *base) VerifierLength() int     { return b.verifierLen }
func (b *base) RedirectURI() string     { return b.conf.RedirectURL }
func (b *base) DefaultScopes() []string { return append([]string(nil), b.defaultScopes...) }

func (b *base) AuthCodeURL(state, codeChallenge, redirectURI string, scopes []string) string {
	opts := append([]oauth2.AuthCodeOption(nil), b.authParams...)
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}
	if len(scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(scopes, " ")))
	}
	if b.pkce && codeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	return b.conf.AuthCodeURL(state, opts...)
}

func (b *base) Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (*model.TokenSet, error) {
	var opts []oauth2.AuthCodeOption
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}
	if b.pkce && codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}
	tok, err := b.conf.Exchange(b.oauthContext(ctx), code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", model.ErrTokenExchangeFailed, b.id, describe(err))
	}
	return toTokenSet(tok), nil
}

func (b *base) Refresh(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	if refreshToken == "" {
		return nil, model.ErrRefreshUnavailable
	}
	src := b.conf.TokenSource(b.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", model.ErrRefreshFailed, b.id, describe(err))
	}
	return toTokenSet(tok), nil
}

// revoke posts an RFC 7009 style revocation with client credentials as Basic auth.
func (b *base) revoke(ctx context.Context, token string) error {
	if b.revokeURL == "" {
		return nil
	}
	form := url.Values{"token": {token}, "token_type_hint": {"access_token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if b.conf.Endpoint.AuthStyle == oauth2.AuthStyleInHeader {
		req.SetBasicAuth(url.QueryEscape(b.conf.ClientID), url.QueryEscape(b.conf.ClientSecret))
	}
	return b.do(req, nil)
}

func (b *base) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
}

// doJSON sends body as JSON with a bearer token and decodes a JSON answer into out.
func (b *base) doJSON(ctx context.Context, method, path, accessToken string, body any, out any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.apiBase+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return b.send(req, out)
}

func (b *base) do(req *http.Request, out any) error {
	_, err := b.send(req, out)
	return err
}

func (b *base) send(req *http.Request, out any) (*http.Response, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := string(raw)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return resp, &APIError{Platform: b.id, StatusCode: resp.StatusCode, Body: body}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp, fmt.Errorf("decode %s response: %w", b.id, err)
		}
	}
	return resp, nil
}

func toTokenSet(tok *oauth2.Token) *model.TokenSet {
	ts := &model.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
	}
	if ts.ExpiresIn <= 0 && !tok.Expiry.IsZero() {
		ts.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	if s, ok := tok.Extra("scope").(string); ok {
		ts.Scope = SplitScopes(s)
	}
	return ts
}

// SplitScopes normalizes comma or space separated scope strings.
func SplitScopes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// describe keeps token endpoint failures free of response bodies.
func describe(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if re.ErrorCode != "" {
			return fmt.Sprintf("%s (status %d)", re.ErrorCode, status)
		}
		return fmt.Sprintf("status %d", status)
	}
	return err.Error()
}

type userAgentTransport struct {
	next http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.ua)
	return t.next.RoundTrip(r)
}

func withUserAgent(c *http.Client, ua string) *http.Client {
	next := c.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	clone := *c
	clone.Transport = &userAgentTransport{next: next, ua: ua}
	return &clone
}
