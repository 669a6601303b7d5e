package wiki

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

	"github.com/BaSui01/wikichat/internal/cache"
	"github.com/BaSui01/wikichat/types"
)

func fakeWikipedia(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")

		switch q.Get("titles") {
		case "Saturn":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"query": map[string]any{"pages": map[string]any{
					"39702": map[string]any{
						"title":   "Saturn",
						"extract": "Saturn is the sixth planet from the Sun. It is a gas giant.",
					},
				}},
			})
		case "Empty Page":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"query": map[string]any{"pages": map[string]any{
					"1": map[string]any{"title": "Empty Page", "extract": ""},
				}},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"query": map[string]any{"pages": map[string]any{
					"-1": map[string]any{"title": q.Get("titles"), "missing": map[string]any{}},
				}},
			})
		}
	}))
}

func testFetcher(t *testing.T, baseURL string) *Fetcher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.RetryCount = 0
	cfg.Timeout = 5 * time.Second
	return NewFetcher(cfg, zap.NewNop())
}

func TestSummary(t *testing.T) {
	t.Parallel()
	srv := fakeWikipedia(t)
	defer srv.Close()
	fetcher := testFetcher(t, srv.URL)

	text, err := fetcher.Summary(context.Background(), "Saturn")
	require.NoError(t, err)
	assert.Contains(t, text, "sixth planet")
}

func TestSummary_MissingPage(t *testing.T) {
	t.Parallel()
	srv := fakeWikipedia(t)
	defer srv.Close()
	fetcher := testFetcher(t, srv.URL)

	_, err := fetcher.Summary(context.Background(), "No Such Page")
	assert.True(t, types.IsNotFound(err))
}

func TestSummary_EmptyExtract(t *testing.T) {
	t.Parallel()
	srv := fakeWikipedia(t)
	defer srv.Close()
	fetcher := testFetcher(t, srv.URL)

	_, err := fetcher.Summary(context.Background(), "Empty Page")
	assert.True(t, types.IsNotFound(err))
}

func TestSummary_ServiceError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	fetcher := testFetcher(t, srv.URL)

	_, err := fetcher.Summary(context.Background(), "Saturn")
	assert.True(t, types.IsUnavailable(err))
}

func TestSummary_Cached(t *testing.T) {
	t.Parallel()
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"query": map[string]any{"pages": map[string]any{
				"1": map[string]any{"title": "Saturn", "extract": "Saturn is a planet."},
			}},
		})
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	fetcher := NewFetcher(cfg, zap.NewNop()).WithCache(cache.NewMemoryStore(time.Minute))

	first, err := fetcher.Summary(context.Background(), "Saturn")
	require.NoError(t, err)
	second, err := fetcher.Summary(context.Background(), "Saturn")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}
