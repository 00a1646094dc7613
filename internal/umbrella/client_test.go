// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package umbrella

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/netSkope/destlist-cleanup/internal/httpapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeUmbrella serves the subset of the API the client uses.
type fakeUmbrella struct {
	mu           sync.Mutex
	count        *int
	destinations []map[string]any
	pageStatus   map[int][]int // page -> statuses to return before succeeding
	removeStatus int
	removed      [][]int64
	pagesFetched []int
}

func (f *fakeUmbrella) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v2/token", func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client" || secret != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"umb-token","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/policies/v2/destinationlists", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": []map[string]any{
			{"id": 17, "name": "Block List", "access": "block", "meta": map[string]any{"destinationCount": 250}},
			{"id": 18, "name": "Allow List", "access": "allow"},
		}})
	})
	mux.HandleFunc("/policies/v2/destinationlists/17", func(w http.ResponseWriter, r *http.Request) {
		meta := map[string]any{}
		if f.count != nil {
			meta["destinationCount"] = *f.count
		}
		writeJSON(w, map[string]any{"data": map[string]any{"id": 17, "meta": meta}})
	})
	mux.HandleFunc("/policies/v2/destinationlists/17/destinations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer umb-token", r.Header.Get("Authorization"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))

		f.mu.Lock()
		f.pagesFetched = append(f.pagesFetched, page)
		if st := f.pageStatus[page]; len(st) > 0 {
			f.pageStatus[page] = st[1:]
			f.mu.Unlock()
			w.WriteHeader(st[0])
			return
		}
		f.mu.Unlock()

		start := (page - 1) * PageSize
		end := start + PageSize
		if start > len(f.destinations) {
			start = len(f.destinations)
		}
		if end > len(f.destinations) {
			end = len(f.destinations)
		}
		writeJSON(w, map[string]any{"data": f.destinations[start:end]})
	})
	mux.HandleFunc("/policies/v2/destinationlists/17/destinations/remove", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		var ids []int64
		require.NoError(t, json.Unmarshal(body, &ids))
		f.mu.Lock()
		f.removed = append(f.removed, ids)
		f.mu.Unlock()
		w.WriteHeader(f.removeStatus)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func makeDestinations(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"id":          i + 1,
			"destination": fmt.Sprintf("d%d.example", i+1),
			"type":        "domain",
			"createdAt":   1700000000 + i,
		}
	}
	return out
}

func newTestClient(t *testing.T, f *fakeUmbrella, secret string) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c := New(srv.URL, httpapi.Credentials{
		ClientID:     "client",
		ClientSecret: secret,
		TokenURL:     srv.URL + "/auth/v2/token",
		HeaderAuth:   true,
	}, srv.Client(), 5*time.Second, zaptest.NewLogger(t))
	c.SetRetryPolicy(httpapi.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond})
	return c
}

func intPtr(n int) *int { return &n }

func TestAuthenticate(t *testing.T) {
	f := &fakeUmbrella{}
	require.NoError(t, newTestClient(t, f, "secret").Authenticate(context.Background()))
	require.Error(t, newTestClient(t, f, "wrong").Authenticate(context.Background()))
}

func TestListDestinationLists(t *testing.T) {
	c := newTestClient(t, &fakeUmbrella{}, "secret")
	lists, err := c.ListDestinationLists(context.Background())
	require.NoError(t, err)
	require.Len(t, lists, 2)
	assert.Equal(t, "17", lists[0].ID.String())
	assert.Equal(t, "Block List", lists[0].Name)
	require.NotNil(t, lists[0].Meta.DestinationCount)
	assert.Equal(t, 250, *lists[0].Meta.DestinationCount)
	assert.Nil(t, lists[1].Meta.DestinationCount)
}

func TestPageCount(t *testing.T) {
	tests := []struct {
		count int
		ok    bool
		want  int
	}{
		{0, false, 1},
		{0, true, 1},
		{1, true, 1},
		{100, true, 1},
		{101, true, 2},
		{250, true, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PageCount(tt.count, tt.ok), "count=%d ok=%v", tt.count, tt.ok)
	}
}

func TestListDestinations(t *testing.T) {
	tests := []struct {
		name      string
		count     *int
		available int
		wantItems int
		wantPages []int
	}{
		{"exact pages", intPtr(250), 250, 250, []int{1, 2, 3}},
		{"count missing fetches one page", nil, 250, 100, []int{1}},
		{"stops on empty page", intPtr(300), 150, 150, []int{1, 2, 3}},
		{"empty list", intPtr(0), 0, 0, []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeUmbrella{count: tt.count, destinations: makeDestinations(tt.available)}
			c := newTestClient(t, f, "secret")

			dests, err := c.ListDestinations(context.Background(), "17")
			require.NoError(t, err)
			assert.Len(t, dests, tt.wantItems)
			assert.Equal(t, tt.wantPages, f.pagesFetched)
			if len(dests) > 0 {
				assert.Equal(t, json.Number("1"), dests[0]["id"])
				assert.Equal(t, json.Number("1700000000"), dests[0]["createdAt"])
			}
		})
	}
}

func TestListDestinationsRetriesTransientErrors(t *testing.T) {
	f := &fakeUmbrella{
		count:        intPtr(150),
		destinations: makeDestinations(150),
		pageStatus:   map[int][]int{2: {http.StatusServiceUnavailable, http.StatusTooManyRequests}},
	}
	c := newTestClient(t, f, "secret")

	dests, err := c.ListDestinations(context.Background(), "17")
	require.NoError(t, err)
	assert.Len(t, dests, 150)
	assert.Equal(t, []int{1, 2, 2, 2}, f.pagesFetched)
}

func TestListDestinationsPermanentError(t *testing.T) {
	f := &fakeUmbrella{
		count:        intPtr(150),
		destinations: makeDestinations(150),
		pageStatus:   map[int][]int{1: {http.StatusForbidden}},
	}
	c := newTestClient(t, f, "secret")

	_, err := c.ListDestinations(context.Background(), "17")
	var se *httpapi.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Status)
	assert.Equal(t, []int{1}, f.pagesFetched)
}

func TestRemoveDestinations(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusAccepted, http.StatusNoContent, http.StatusBadRequest, http.StatusInternalServerError} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			f := &fakeUmbrella{removeStatus: status}
			c := newTestClient(t, f, "secret")

			got, err := c.RemoveDestinations(context.Background(), "17", []int64{5, 6, 7})
			require.NoError(t, err)
			assert.Equal(t, status, got)
			assert.Equal(t, [][]int64{{5, 6, 7}}, f.removed, "remove must be sent exactly once")
		})
	}
}
