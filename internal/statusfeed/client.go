// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package statusfeed reads the external job status feed that drives
// automatic triggers.
package statusfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/trigcam/internal/platform/httpx"
	"github.com/ManuGH/trigcam/internal/resilience"
)

const (
	maxBodyBytes  = 4 << 20
	maxErrorBytes = 256
)

// Record is one status entry. Only ID, State and FailReason drive decisions.
type Record struct {
	ID            int    `json:"id"`
	State         string `json:"state"`
	FailReason    int    `json:"fail_reason"`
	FailReasonStr string `json:"fail_reason_str"`
	FailMessage   string `json:"fail_message"`
}

// Client fetches status records over HTTP.
type Client struct {
	url     string
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

// Options tunes a Client. Zero values pick defaults.
type Options struct {
	Timeout          time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	HTTPClient       *http.Client
}

// New returns a client for the feed at url.
func New(url string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = httpx.NewTracedClient(opts.Timeout)
	}
	return &Client{
		url:  strings.TrimSpace(url),
		http: hc,
		breaker: resilience.NewCircuitBreaker("statusfeed", opts.BreakerThreshold, opts.BreakerCooldown,
			resilience.WithIgnoredErrors(func(err error) bool { return errors.Is(err, context.Canceled) })),
	}
}

// BreakerState exposes the guarding circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// Fetch returns every record in the feed. The feed may be a bare JSON array
// or an object with a "results" array.
func (c *Client) Fetch(ctx context.Context) ([]Record, error) {
	var records []Record
	err := c.breaker.Execute(func() error {
		var err error
		records, err = c.fetch(ctx)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &FeedError{Sentinel: ErrUpstreamUnavailable, Operation: "fetch", Err: err}
	}
	return records, err
}

// Latest fetches the feed and returns the record with the highest ID.
func (c *Client) Latest(ctx context.Context) (Record, error) {
	records, err := c.Fetch(ctx)
	if err != nil {
		return Record{}, err
	}
	latest, ok := Latest(records)
	if !ok {
		return Record{}, &FeedError{Sentinel: ErrNoRecords, Operation: "fetch"}
	}
	return latest, nil
}

// Latest returns the record with the highest ID.
func Latest(records []Record) (Record, bool) {
	if len(records) == 0 {
		return Record{}, false
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.ID > best.ID {
			best = r
		}
	}
	return best, true
}

func (c *Client) fetch(ctx context.Context) ([]Record, error) {
	const op = "fetch"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, &FeedError{Sentinel: ErrUpstreamBadResponse, Operation: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		sentinel := ErrUpstreamUnavailable
		if isTimeout(err) {
			sentinel = ErrTimeout
		}
		return nil, &FeedError{Sentinel: sentinel, Operation: op, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, &FeedError{Sentinel: ErrUpstreamUnavailable, Operation: op, Status: res.StatusCode, Err: err}
	}

	switch {
	case res.StatusCode >= 500:
		return nil, &FeedError{Sentinel: ErrUpstreamError, Operation: op, Status: res.StatusCode, Body: snippet(body)}
	case res.StatusCode >= 400:
		return nil, &FeedError{Sentinel: ErrUpstreamRejected, Operation: op, Status: res.StatusCode, Body: snippet(body)}
	case res.StatusCode != http.StatusOK:
		return nil, &FeedError{Sentinel: ErrUpstreamBadResponse, Operation: op, Status: res.StatusCode}
	}

	records, err := decode(body)
	if err != nil {
		return nil, &FeedError{Sentinel: ErrUpstreamBadResponse, Operation: op, Status: res.StatusCode, Err: err}
	}
	return records, nil
}

func decode(body []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}

	if trimmed[0] == '[' {
		var records []Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return records, nil
	}

	var page struct {
		Results *[]Record `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if page.Results == nil {
		return nil, errors.New("missing results array")
	}
	return *page.Results, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBytes {
		s = s[:maxErrorBytes]
	}
	return s
}
