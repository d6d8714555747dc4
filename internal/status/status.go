// Package status queries the server status oracle: the external
// authoritative source for whether an identity has already submitted.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/funnel"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/session"
)

// ErrUnavailable means the query could not complete (network, timeout,
// server error). Callers degrade to their cached state, marked unverified.
var ErrUnavailable = errors.New("status query failed")

const defaultQueryTimeout = 10 * time.Second

// Reading is the oracle's answer. Email echoes the verified principal so
// clients can scope their durable cache without trusting token claims.
type Reading struct {
	Submitted bool   `json:"submitted"`
	Email     string `json:"email,omitempty"`
}

// Client queries the gatekeeper's status endpoint.
type Client struct {
	baseURL string
	httpc   *http.Client
	tokens  session.TokenSource
}

// NewClient creates a status oracle client.
func NewClient(baseURL string, tokens session.TokenSource, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultQueryTimeout}
	}
	return &Client{baseURL: baseURL, httpc: httpc, tokens: tokens}
}

// Reading performs one authenticated status query.
func (c *Client) Reading(ctx context.Context) (Reading, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return Reading{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return Reading{}, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Reading{}, session.ErrAuthExpired
	case resp.StatusCode != http.StatusOK:
		return Reading{}, fmt.Errorf("%w: server returned %d", ErrUnavailable, resp.StatusCode)
	}

	var reading Reading
	if err := json.NewDecoder(resp.Body).Decode(&reading); err != nil {
		return Reading{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return reading, nil
}

// Status implements funnel.Oracle.
func (c *Client) Status(ctx context.Context) (funnel.StatusReading, error) {
	reading, err := c.Reading(ctx)
	if err != nil {
		return funnel.StatusReading{}, err
	}
	return funnel.StatusReading{Submitted: reading.Submitted}, nil
}
