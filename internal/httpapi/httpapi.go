// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package httpapi holds the request plumbing shared by the Umbrella and
// Defender clients: OAuth client-credentials HTTP clients, JSON decoding and
// retries of idempotent calls.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// Max attempts for retryable calls
	maxAttempts = 5
	// Initial retry delay
	initialRetryDelay = 1 * time.Second
	// Bytes of an error body kept in StatusError
	maxErrorBody = 512
)

// StatusError is an unexpected HTTP response.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// Retryable reports whether a call failing with status may succeed later.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// NewStatusError reads a bounded part of resp.Body into a StatusError.
func NewStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method: resp.Request.Method,
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		Body:   string(bytes.TrimSpace(body)),
	}
}

// Credentials describes an OAuth 2.0 client-credentials grant.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	// HeaderAuth sends the client id and secret as HTTP basic auth instead of
	// form fields.
	HeaderAuth bool
}

// Tokens issues access tokens for a client-credentials grant and caches the
// current one. Token requests use the caller's context.
type Tokens struct {
	cfg  *clientcredentials.Config
	base *http.Client

	mu  sync.Mutex
	tok *oauth2.Token
}

// Token returns a valid access token, fetching a new one when the cached
// token is missing or expired.
func (t *Tokens) Token(ctx context.Context) (*oauth2.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tok.Valid() {
		return t.tok, nil
	}
	tok, err := t.cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, t.base))
	if err != nil {
		return nil, err
	}
	t.tok = tok
	return tok, nil
}

// bearerTransport attaches a token from tokens to every request, fetching it
// under the request's context.
type bearerTransport struct {
	tokens *Tokens
	next   http.RoundTripper
}

func (b *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := b.tokens.Token(req.Context())
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	out := req.Clone(req.Context())
	tok.SetAuthHeader(out)
	return b.next.RoundTrip(out)
}

// NewClient returns an HTTP client that attaches a bearer token from creds to
// every request, and the token cache behind it. base is used for both the
// token and API requests; nil means http.DefaultClient. timeout bounds every
// request, token requests included, unless base sets its own.
func NewClient(creds Credentials, base *http.Client, timeout time.Duration) (*http.Client, *Tokens) {
	if base == nil {
		base = http.DefaultClient
	}
	cc := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		Scopes:       creds.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if creds.HeaderAuth {
		cc.AuthStyle = oauth2.AuthStyleInHeader
	}

	tokenClient := *base
	if tokenClient.Timeout == 0 {
		tokenClient.Timeout = timeout
	}
	tokens := &Tokens{cfg: cc, base: &tokenClient}

	next := base.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	client := tokenClient
	client.Transport = &bearerTransport{tokens: tokens, next: next}
	return &client, tokens
}

// Authenticate fetches a token, so credential problems surface before any
// API call.
func Authenticate(ctx context.Context, tokens *Tokens) error {
	tok, err := tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}
	if !tok.Valid() {
		return errors.New("failed to obtain access token: token is not valid")
	}
	return nil
}

// Policy configures retries of idempotent calls.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

// DefaultPolicy is used for GETs and telemetry queries.
var DefaultPolicy = Policy{MaxAttempts: maxAttempts, InitialInterval: initialRetryDelay}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Retry runs op until it succeeds, returns a non-retryable error, or the
// policy is exhausted. Transport errors and retryable StatusErrors are
// retried; token errors are not.
func Retry(ctx context.Context, p Policy, logger *zap.Logger, what string, op func() error) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err == nil || isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, p.backOff(ctx), func(err error, wait time.Duration) {
		logger.Warn("Request failed, retrying",
			zap.String("request", what),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
}

func isRetryable(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return Retryable(se.Status)
	}
	var de *DecodeError
	return !errors.As(err, &de)
}

// DecodeError is a response body that could not be decoded.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DoJSON sends req and decodes a 200 response into out. JSON numbers are kept
// as json.Number when out holds interface values.
func DoJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NewStatusError(resp)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &DecodeError{URL: req.URL.String(), Err: err}
	}
	return nil
}
