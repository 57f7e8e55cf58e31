package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{URL: url, Timeout: time.Second, MaxElapsed: 2 * time.Second, MaxInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	return c
}

func TestClientTranslates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "Hola mundo", req.Text)
		require.Equal(t, "spa_Latn", req.SourceLang)
		require.Equal(t, "eng_Latn", req.TargetLang)
		_ = json.NewEncoder(w).Encode(map[string]any{"translated_text": "Hello world", "time_ms": 12})
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv.URL).Translate(context.Background(), "Hola mundo", "spa_Latn", "eng_Latn")
	require.NoError(t, err)
	require.Equal(t, "Hello world", out.Text)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"translated_text": "ok"})
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv.URL).Translate(context.Background(), "x", "a", "b")
	require.NoError(t, err)
	require.Equal(t, "ok", out.Text)
	require.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unsupported language", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Translate(context.Background(), "x", "a", "b")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnavailable))
	require.Equal(t, int32(1), calls.Load())
}

func TestClientLogsProviderErrorDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported language", http.StatusBadRequest)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.InfoLevel)
	c, err := NewClient(Config{URL: srv.URL, Timeout: time.Second, MaxElapsed: time.Second, Logger: zap.New(core)})
	require.NoError(t, err)

	_, err = c.Translate(context.Background(), "x", "a", "b")
	require.ErrorIs(t, err, ErrUnavailable)
	require.NotContains(t, err.Error(), "unsupported language")

	entries := logs.FilterMessage("translation failed").All()
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].ContextMap()["error"], "unsupported language")
}

func TestClientRejectsResponseWithoutText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"time_ms": 3}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Translate(context.Background(), "x", "a", "b")
	require.Error(t, err)
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.True(t, errors.Is(err, ErrUnavailable))
}
