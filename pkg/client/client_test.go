package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/suggestd/pkg/models"
)

func TestClient_Suggested(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/suggested/goal", r.URL.Path)
		assert.Equal(t, "reinforcements", r.URL.Query().Get("mode"))
		assert.Equal(t, "u1", r.Header.Get("X-User-ID"))
		_, _ = io.WriteString(w, `[{"kind":"existing","existingId":"g1","similarity":0.91}]`)
	}))
	defer srv.Close()

	items, err := New(srv.URL, "u1").Suggested(context.Background(), models.SurfaceGoal, "reinforcements")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.KindExisting, items[0].Kind)
	assert.Equal(t, "g1", items[0].ExistingID)
}

func TestClient_Ingest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"candidates":[{"title":"Run","scopeKey":"fitness"}]}`, string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `[{"id":"s1","title":"Run","scope_key":"fitness"}]`)
	}))
	defer srv.Close()

	created, err := New(srv.URL, "u1").Ingest(context.Background(), models.SurfaceGoal, []NewCandidate{{Title: "Run", ScopeKey: "fitness"}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "s1", created[0].ID)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "suggestion already archived", http.StatusConflict)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "u1").Accept(context.Background(), models.SurfaceGoal, "s1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "suggestion already archived", apiErr.Message)
}

func TestClient_SetStatusAndDismiss(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "u1")
	ctx := context.Background()
	require.NoError(t, c.SetStatus(ctx, models.SurfaceHabit, "h1", models.StatusArchived))
	require.NoError(t, c.SetStatus(ctx, models.SurfaceHabit, "h1", models.StatusActive))
	require.NoError(t, c.Dismiss(ctx, models.SurfaceHabit, "s9"))

	assert.Equal(t, []string{
		"/api/items/habit/h1/archive",
		"/api/items/habit/h1/restore",
		"/api/suggested/habit/s9/dismiss",
	}, paths)
}

func TestClient_WaitReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "service initializing", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ready"}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, New(srv.URL, "").WaitReady(ctx))
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestClient_WaitReadyTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	err := New(srv.URL, "").WaitReady(ctx)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestClient_HealthyAndVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"version":"v1.2.3","status":"ready"}`)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "")
	assert.True(t, c.Healthy(context.Background()))
	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", v)

	assert.False(t, New("http://127.0.0.1:1", "").Healthy(context.Background()))
}
