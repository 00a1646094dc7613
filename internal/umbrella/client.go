// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package umbrella is a client for the Cisco Umbrella destination list API.
package umbrella

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/netSkope/destlist-cleanup/internal/config"
	"github.com/netSkope/destlist-cleanup/internal/httpapi"
	"go.uber.org/zap"
)

// PageSize is the number of destinations requested per page.
const PageSize = 100

const listsPath = "policies/v2/destinationlists"

// DestinationList is one entry of the list enumeration.
type DestinationList struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
	// Access is "allow" or "block".
	Access string `json:"access"`
	Meta   struct {
		DestinationCount *int `json:"destinationCount"`
	} `json:"meta"`
}

// Destination is a raw destination object. Values keep their JSON types;
// numbers are json.Number.
type Destination map[string]any

// Client talks to the Umbrella API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *httpapi.Tokens
	logger  *zap.Logger
	policy  httpapi.Policy
}

// NewClient creates a client from cfg. Call cfg.RequireUmbrella first.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return New(cfg.UmbrellaAPIURL, httpapi.Credentials{
		ClientID:     cfg.UmbrellaClientID,
		ClientSecret: cfg.UmbrellaClientSecret,
		TokenURL:     cfg.UmbrellaTokenURL,
		HeaderAuth:   true,
	}, nil, time.Duration(cfg.RequestTimeout)*time.Second, logger)
}

// New creates a client for baseURL. base may be nil.
func New(baseURL string, creds httpapi.Credentials, base *http.Client, timeout time.Duration, logger *zap.Logger) *Client {
	client, ts := httpapi.NewClient(creds, base, timeout)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		tokens:  ts,
		logger:  logger,
		policy:  httpapi.DefaultPolicy,
	}
}

// SetRetryPolicy overrides the retry policy for GETs.
func (c *Client) SetRetryPolicy(p httpapi.Policy) {
	c.policy = p
}

// Authenticate obtains an access token.
func (c *Client) Authenticate(ctx context.Context) error {
	c.logger.Debug("Requesting Umbrella OAuth token")
	if err := httpapi.Authenticate(ctx, c.tokens); err != nil {
		return fmt.Errorf("umbrella: %w", err)
	}
	c.logger.Debug("Umbrella token acquired")
	return nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.endpoint(path, query)
	return httpapi.Retry(ctx, c.policy, c.logger, "GET "+u, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		c.logger.Debug("GET", zap.String("url", u))
		return httpapi.DoJSON(c.http, req, out)
	})
}

// ListDestinationLists returns every destination list of the organization.
func (c *Client) ListDestinationLists(ctx context.Context) ([]DestinationList, error) {
	var resp struct {
		Data []DestinationList `json:"data"`
	}
	if err := c.get(ctx, listsPath, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list destination lists: %w", err)
	}
	c.logger.Info("Retrieved destination lists", zap.Int("count", len(resp.Data)))
	return resp.Data, nil
}

// DestinationCount returns the declared number of destinations in a list.
// ok is false when the metadata carries no count.
func (c *Client) DestinationCount(ctx context.Context, listID string) (count int, ok bool, err error) {
	var resp struct {
		Data DestinationList `json:"data"`
	}
	if err := c.get(ctx, listsPath+"/"+url.PathEscape(listID), nil, &resp); err != nil {
		return 0, false, fmt.Errorf("failed to get destination list %s: %w", listID, err)
	}
	if resp.Data.Meta.DestinationCount == nil {
		return 0, false, nil
	}
	return *resp.Data.Meta.DestinationCount, true, nil
}

// PageCount returns how many pages of PageSize hold count destinations. A
// missing or zero count means a single page.
func PageCount(count int, ok bool) int {
	if !ok || count <= 0 {
		return 1
	}
	return (count + PageSize - 1) / PageSize
}

// ListDestinations fetches every destination of a list, page by page. It
// stops once the declared count is reached or a page comes back empty.
func (c *Client) ListDestinations(ctx context.Context, listID string) ([]Destination, error) {
	count, ok, err := c.DestinationCount(ctx, listID)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.logger.Warn("destinationCount missing in metadata, fetching a single page",
			zap.String("list_id", listID))
	}

	pages := PageCount(count, ok)
	c.logger.Info("Fetching destinations",
		zap.String("list_id", listID),
		zap.Int("destination_count", count),
		zap.Int("pages", pages),
		zap.Int("limit", PageSize))

	var all []Destination
	path := listsPath + "/" + url.PathEscape(listID) + "/destinations"
	for page := 1; page <= pages; page++ {
		var resp struct {
			Data []Destination `json:"data"`
		}
		q := url.Values{}
		q.Set("limit", strconv.Itoa(PageSize))
		q.Set("page", strconv.Itoa(page))
		if err := c.get(ctx, path, q, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch page %d of list %s: %w", page, listID, err)
		}
		all = append(all, resp.Data...)

		c.logger.Debug("Fetched destination page",
			zap.Int("page", page),
			zap.Int("items", len(resp.Data)),
			zap.Int("running_total", len(all)))

		if len(resp.Data) == 0 || (ok && count > 0 && len(all) >= count) {
			break
		}
	}

	c.logger.Info("Fetched destinations",
		zap.String("list_id", listID),
		zap.Int("count", len(all)))
	return all, nil
}

// RemoveDestinations deletes ids from a list in one request and returns the
// status code. It is never retried.
func (c *Client) RemoveDestinations(ctx context.Context, listID string, ids []int64) (int, error) {
	body, err := json.Marshal(ids)
	if err != nil {
		return 0, fmt.Errorf("failed to encode ids: %w", err)
	}

	u := c.endpoint(listsPath+"/"+url.PathEscape(listID)+"/destinations/remove", nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to delete destinations: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
