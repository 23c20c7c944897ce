package tttclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/tictactoe-live/pkg/wire"
)

func TestClientSendsBearerAndDecodes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/sessions":
			_ = json.NewEncoder(w).Encode(wire.SessionList{UserName: "alice", Sessions: []wire.Summary{{ID: "s1", CreatorName: "alice"}}})
		case r.Method == http.MethodPost && r.URL.Path == "/sessions":
			var req wire.CreateSessionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			_ = json.NewEncoder(w).Encode(wire.Snapshot{ID: "s2", Name: req.Name, FirstPlayerMarker: "O"})
		case r.Method == http.MethodDelete && r.URL.Path == "/sessions/s2":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", WithToken(StaticToken("tok")))
	ctx := context.Background()
	list, err := c.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", list.UserName)
	require.Len(t, list.Sessions, 1)

	snap, err := c.CreateSession(ctx, "mine", "o")
	require.NoError(t, err)
	assert.Equal(t, "s2", snap.ID)
	assert.Equal(t, "mine", snap.Name)
	require.NoError(t, c.CloseSession(ctx, "s2"))
}

func TestClientAPIErrorCarriesCode(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(wire.Error{Code: "SelfJoin", Message: "You cannot join your own game", Theme: "warning"})
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).JoinSession(context.Background(), "s1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "SelfJoin", apiErr.Code)
	assert.EqualValues(t, 1, hits.Load())
}

func TestClientRetriesReadsOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(wire.Stats{UserID: "A", GamesTotal: 2})
	}))
	defer ts.Close()

	st, err := NewClient(ts.URL, WithRetry(3)).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.GamesTotal)
	assert.EqualValues(t, 3, hits.Load())
}

func TestClientDoesNotRetryWrites(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, WithRetry(5)).CreateSession(context.Background(), "", "")
	require.Error(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestBackoffDuration(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoffDuration(0))
	assert.Equal(t, 400*time.Millisecond, backoffDuration(3))
	assert.Equal(t, backoffDuration(6), backoffDuration(60))
}
