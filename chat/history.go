package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/wikichat/types"
)

// History 会话历史存储。窗口按时间升序返回最近的若干轮。
type History interface {
	Append(ctx context.Context, turn types.DialogueTurn) error
	Window(ctx context.Context, sessionID string, k int) ([]types.DialogueTurn, error)
	Close() error
}

// =============================================================================
// 内存实现
// =============================================================================

// MemoryHistory 进程内历史存储，适用于单机 REPL 与测试。
type MemoryHistory struct {
	mu       sync.RWMutex
	sessions map[string][]types.DialogueTurn
}

// NewMemoryHistory 创建内存历史存储。
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{sessions: make(map[string][]types.DialogueTurn)}
}

// Append 追加一轮对话。
func (h *MemoryHistory) Append(_ context.Context, turn types.DialogueTurn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[turn.SessionID] = append(h.sessions[turn.SessionID], turn)
	return nil
}

// Window 返回会话最近 k 轮，按时间升序。
func (h *MemoryHistory) Window(_ context.Context, sessionID string, k int) ([]types.DialogueTurn, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	turns := h.sessions[sessionID]
	if k <= 0 || len(turns) == 0 {
		return nil, nil
	}
	if k > len(turns) {
		k = len(turns)
	}
	window := make([]types.DialogueTurn, k)
	copy(window, turns[len(turns)-k:])
	return window, nil
}

// Close 实现 History 接口。
func (h *MemoryHistory) Close() error { return nil }

// =============================================================================
// SQLite 实现
// =============================================================================

// turnRecord 持久化的对话轮。
type turnRecord struct {
	ID        string    `gorm:"primaryKey;size:64"`
	SessionID string    `gorm:"index;size:64;not null"`
	Role      string    `gorm:"size:16;not null"`
	Text      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index;not null"`
}

func (turnRecord) TableName() string { return "dialogue_turns" }

// SQLiteHistory 基于 SQLite 的历史存储，跨进程重启保留会话。
type SQLiteHistory struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteHistory 打开（必要时创建）历史数据库并迁移表结构。
func NewSQLiteHistory(path string, logger *zap.Logger) (*SQLiteHistory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.AutoMigrate(&turnRecord{}); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}

	logger.Info("history database ready", zap.String("path", path))
	return &SQLiteHistory{
		db:     db,
		logger: logger.With(zap.String("component", "history")),
	}, nil
}

// Append 追加一轮对话。
func (h *SQLiteHistory) Append(ctx context.Context, turn types.DialogueTurn) error {
	record := turnRecord{
		ID:        turn.ID,
		SessionID: turn.SessionID,
		Role:      string(turn.Role),
		Text:      turn.Text,
		CreatedAt: turn.CreatedAt,
	}
	if err := h.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("append dialogue turn: %w", err)
	}
	return nil
}

// Window 返回会话最近 k 轮，按时间升序。
func (h *SQLiteHistory) Window(ctx context.Context, sessionID string, k int) ([]types.DialogueTurn, error) {
	if k <= 0 {
		return nil, nil
	}

	var records []turnRecord
	err := h.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(k).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load dialogue window: %w", err)
	}

	// 查询按时间降序取最近 k 条，输出反转为升序
	turns := make([]types.DialogueTurn, len(records))
	for i, r := range records {
		turns[len(records)-1-i] = types.DialogueTurn{
			ID:        r.ID,
			SessionID: r.SessionID,
			Role:      types.Role(r.Role),
			Text:      r.Text,
			CreatedAt: r.CreatedAt,
		}
	}
	return turns, nil
}

// Close 关闭底层数据库连接。
func (h *SQLiteHistory) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
