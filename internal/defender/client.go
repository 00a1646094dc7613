// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package defender queries Microsoft Defender for Endpoint advanced hunting
// for the last time a destination was seen on a device.
package defender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/netSkope/destlist-cleanup/internal/config"
	"github.com/netSkope/destlist-cleanup/internal/httpapi"
	"github.com/netSkope/destlist-cleanup/internal/timestamp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const huntingPath = "/api/advancedhunting/run"

// Client runs advanced hunting queries.
type Client struct {
	apiURL  string
	http    *http.Client
	tokens  *httpapi.Tokens
	limiter *rate.Limiter
	logger  *zap.Logger
	policy  httpapi.Policy
}

// NewClient creates a client from cfg. Call cfg.RequireDefender first.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(cfg.DefenderLoginURL, "/"), cfg.DefenderTenantID)
	return New(cfg.DefenderAPIURL, httpapi.Credentials{
		ClientID:     cfg.DefenderClientID,
		ClientSecret: cfg.DefenderClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{cfg.DefenderScope},
	}, nil, time.Duration(cfg.RequestTimeout)*time.Second, cfg.DefenderRatePerMin, logger)
}

// New creates a client for apiURL issuing at most perMinute queries per
// minute. base may be nil.
func New(apiURL string, creds httpapi.Credentials, base *http.Client, timeout time.Duration, perMinute int, logger *zap.Logger) *Client {
	client, ts := httpapi.NewClient(creds, base, timeout)
	return &Client{
		apiURL:  strings.TrimRight(apiURL, "/"),
		http:    client,
		tokens:  ts,
		limiter: NewLimiter(perMinute),
		logger:  logger,
		policy:  httpapi.DefaultPolicy,
	}
}

// NewLimiter allows perMinute events per minute with a burst of one. A
// non-positive rate disables limiting.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// SetRetryPolicy overrides the retry policy for queries.
func (c *Client) SetRetryPolicy(p httpapi.Policy) {
	c.policy = p
}

// Authenticate obtains an access token.
func (c *Client) Authenticate(ctx context.Context) error {
	if err := httpapi.Authenticate(ctx, c.tokens); err != nil {
		return fmt.Errorf("defender: %w", err)
	}
	return nil
}

// LatestObservationQuery builds the KQL returning the most recent network
// event that references destination within the last days days.
func LatestObservationQuery(destination string, days int) string {
	return fmt.Sprintf(`DeviceNetworkEvents
| where Timestamp >= ago(%dd)
| where RemoteUrl contains "%s"
| top 1 by Timestamp desc
| project Timestamp`, days, escapeKQL(destination))
}

// escapeKQL escapes a value for a double-quoted KQL string literal.
func escapeKQL(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`).Replace(s)
}

type huntingResponse struct {
	Results []struct {
		Timestamp string `json:"Timestamp"`
	} `json:"Results"`
}

// LatestObservation returns the most recent time destination was seen within
// the last days days. found is false when there is no event or the returned
// timestamp cannot be parsed.
func (c *Client) LatestObservation(ctx context.Context, destination string, days int) (time.Time, bool, error) {
	body, err := json.Marshal(map[string]string{"Query": LatestObservationQuery(destination, days)})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to encode query: %w", err)
	}

	var resp huntingResponse
	u := c.apiURL + huntingPath
	err = httpapi.Retry(ctx, c.policy, c.logger, "hunting query "+destination, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return httpapi.DoJSON(c.http, req, &resp)
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("defender query for %s failed: %w", destination, err)
	}

	if len(resp.Results) == 0 {
		return time.Time{}, false, nil
	}
	ts, ok := timestamp.Parse(resp.Results[0].Timestamp)
	if !ok {
		c.logger.Warn("Unparseable Defender timestamp",
			zap.String("destination", destination),
			zap.String("timestamp", resp.Results[0].Timestamp))
		return time.Time{}, false, nil
	}
	return ts, true, nil
}
