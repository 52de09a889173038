// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package statusfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/trigcam/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_BareArray(t *testing.T) {
	srv := serve(t, http.StatusOK, `[
		{"id": 3, "state": "cancelled", "fail_reason": 5, "fail_reason_str": "jam", "fail_message": "paper jam"},
		{"id": 7, "state": "done", "fail_reason": 0}
	]`)

	records, err := New(srv.URL, Options{}).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Record{ID: 3, State: "cancelled", FailReason: 5, FailReasonStr: "jam", FailMessage: "paper jam"}, records[0])
}

func TestFetch_ResultsEnvelope(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"count": 1, "results": [{"id": 1, "state": "running", "fail_reason": 0}]}`)

	records, err := New(srv.URL, Options{}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Record{{ID: 1, State: "running"}}, records)
}

func TestLatest_PicksMaxID(t *testing.T) {
	srv := serve(t, http.StatusOK, `[{"id": 4, "fail_reason": 1}, {"id": 9, "fail_reason": 2}, {"id": 6, "fail_reason": 3}]`)

	rec, err := New(srv.URL, Options{}).Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, rec.ID)
	assert.Equal(t, 2, rec.FailReason)
}

func TestLatest_EmptyFeed(t *testing.T) {
	srv := serve(t, http.StatusOK, `[]`)

	_, err := New(srv.URL, Options{}).Latest(context.Background())
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestFetch_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"server error", http.StatusBadGateway, "bad gateway", ErrUpstreamError},
		{"client error", http.StatusUnauthorized, "no token", ErrUpstreamRejected},
		{"malformed json", http.StatusOK, "{not json", ErrUpstreamBadResponse},
		{"missing results", http.StatusOK, `{"items": []}`, ErrUpstreamBadResponse},
		{"empty body", http.StatusOK, "", ErrUpstreamBadResponse},
		{"no content", http.StatusNoContent, "", ErrUpstreamBadResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body)

			_, err := New(srv.URL, Options{}).Fetch(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var fe *FeedError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, "fetch", fe.Operation)
			if tt.status >= 400 {
				assert.Equal(t, tt.status, fe.Status)
				assert.Equal(t, tt.body, fe.Body)
			}
		})
	}
}

func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, Options{}).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(srv.URL, Options{Timeout: 50 * time.Millisecond}).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFetch_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, Options{BreakerThreshold: 2, BreakerCooldown: time.Hour})
	for i := 0; i < 2; i++ {
		_, err := c.Fetch(context.Background())
		assert.ErrorIs(t, err, ErrUpstreamError)
	}
	assert.Equal(t, resilience.StateOpen, c.BreakerState())

	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, errorsUnwrapAll(err), resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetch_CancelDoesNotTripBreaker(t *testing.T) {
	srv := serve(t, http.StatusOK, `[]`)
	c := New(srv.URL, Options{BreakerThreshold: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, resilience.StateClosed, c.BreakerState())
}

// errorsUnwrapAll exposes the nested cause of a FeedError.
func errorsUnwrapAll(err error) error {
	if fe, ok := err.(*FeedError); ok {
		return fe.Err
	}
	return err
}
