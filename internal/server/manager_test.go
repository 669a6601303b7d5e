package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return NewManager(mux, cfg, zap.NewNop())
}

func TestManager_StartServeShutdown(t *testing.T) {
	t.Parallel()
	m := testManager(t)
	require.NoError(t, m.Start())

	resp, err := http.Get("http://" + m.Addr() + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, m.Shutdown(context.Background()))

	_, err = http.Get("http://" + m.Addr() + "/ping")
	assert.Error(t, err, "server no longer accepts connections")
}

func TestManager_DoubleStartRejected(t *testing.T) {
	t.Parallel()
	m := testManager(t)
	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())

	assert.Error(t, m.Start())
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	t.Parallel()
	m := testManager(t)
	require.NoError(t, m.Start())

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))

	assert.Error(t, m.Start(), "closed server cannot restart")
}
