package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/wikichat/types"
)

func fakeInference(t *testing.T, handler func(req generateRequest) (string, int)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		require.Equal(t, "/generate", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		text, status := handler(req)
		if status != http.StatusOK {
			http.Error(w, text, status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"generated_text": text})
	}))
}

func testGenerator(t *testing.T, baseURL string) *HTTPGenerator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.RetryCount = 0
	cfg.Timeout = 5 * time.Second
	return NewHTTPGenerator(cfg, zap.NewNop())
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	srv := fakeInference(t, func(req generateRequest) (string, int) {
		assert.Equal(t, 512, req.Parameters.MaxNewTokens)
		assert.Equal(t, 8, req.Parameters.MinNewTokens)
		assert.InDelta(t, 0.9, req.Parameters.TopP, 1e-9)
		assert.True(t, req.Parameters.DoSample)
		return "  Saturn weighs 568360 yottagram.  ", http.StatusOK
	})
	defer srv.Close()

	gen := testGenerator(t, srv.URL)
	text, err := gen.Generate(context.Background(), "some prompt")
	require.NoError(t, err)
	assert.Equal(t, "Saturn weighs 568360 yottagram.", text, "whitespace trimmed")
}

func TestGenerate_HealthCheckOnFirstCall(t *testing.T) {
	t.Parallel()
	var healthCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			healthCalls++
			w.WriteHeader(http.StatusOK)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"generated_text": "ok"})
	}))
	defer srv.Close()

	gen := testGenerator(t, srv.URL)
	_, err := gen.Generate(context.Background(), "a")
	require.NoError(t, err)
	_, err = gen.Generate(context.Background(), "b")
	require.NoError(t, err)

	assert.Equal(t, 1, healthCalls, "readiness probed exactly once")
}

func TestGenerate_CanceledFirstCallDoesNotPoisonReadiness(t *testing.T) {
	t.Parallel()
	srv := fakeInference(t, func(req generateRequest) (string, int) {
		return "hello", http.StatusOK
	})
	defer srv.Close()

	gen := testGenerator(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gen.Generate(ctx, "a")
	require.Error(t, err)
	assert.NotEqual(t, types.ErrModelInit, types.GetErrorCode(err),
		"a canceled request is a request failure, not an init failure")

	// 健康的服务在后续调用中必须照常工作
	text, err := gen.Generate(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestGenerate_UnreachableServiceIsModelInitError(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.BaseURL = "http://127.0.0.1:1" // nothing listens here
	cfg.Timeout = time.Second
	gen := NewHTTPGenerator(cfg, zap.NewNop())

	_, err := gen.Generate(context.Background(), "a")
	assert.Equal(t, types.ErrModelInit, types.GetErrorCode(err))
}

func TestGenerate_RetriesOnServerError(t *testing.T) {
	t.Parallel()
	var calls int
	srv := fakeInference(t, func(req generateRequest) (string, int) {
		calls++
		if calls == 1 {
			return "overloaded", http.StatusServiceUnavailable
		}
		return "recovered", http.StatusOK
	})
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.RetryCount = 1
	cfg.RetryDelay = time.Millisecond
	gen := NewHTTPGenerator(cfg, zap.NewNop())

	text, err := gen.Generate(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, 2, calls)
}

func TestHealth_BadStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gen := testGenerator(t, srv.URL)
	err := gen.Health(context.Background())
	assert.Equal(t, types.ErrModelInit, types.GetErrorCode(err))
}
