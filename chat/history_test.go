package chat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/wikichat/types"
)

func appendTurns(t *testing.T, h History, sessionID string, texts ...string) {
	t.Helper()
	base := time.Now()
	for i, text := range texts {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		require.NoError(t, h.Append(context.Background(), types.DialogueTurn{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      role,
			Text:      text,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func testHistoryWindow(t *testing.T, h History) {
	t.Helper()
	appendTurns(t, h, "s1", "first", "second", "third", "fourth")
	appendTurns(t, h, "s2", "other session")

	window, err := h.Window(context.Background(), "s1", 2)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "third", window[0].Text, "window is chronological")
	assert.Equal(t, "fourth", window[1].Text)

	// 窗口大于历史长度时返回全部
	window, err = h.Window(context.Background(), "s1", 10)
	require.NoError(t, err)
	assert.Len(t, window, 4)

	// 会话之间互不可见
	window, err = h.Window(context.Background(), "s2", 10)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "other session", window[0].Text)

	// 未知会话与零窗口
	window, err = h.Window(context.Background(), "nope", 2)
	require.NoError(t, err)
	assert.Empty(t, window)
	window, err = h.Window(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, window)
}

func TestMemoryHistory_Window(t *testing.T) {
	t.Parallel()
	h := NewMemoryHistory()
	defer h.Close()
	testHistoryWindow(t, h)
}

func TestSQLiteHistory_Window(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.db")
	h, err := NewSQLiteHistory(path, zap.NewNop())
	require.NoError(t, err)
	defer h.Close()
	testHistoryWindow(t, h)
}

func TestSQLiteHistory_SurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.db")

	h, err := NewSQLiteHistory(path, zap.NewNop())
	require.NoError(t, err)
	appendTurns(t, h, "s1", "persisted turn")
	require.NoError(t, h.Close())

	reopened, err := NewSQLiteHistory(path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	window, err := reopened.Window(context.Background(), "s1", 5)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "persisted turn", window[0].Text)
}
