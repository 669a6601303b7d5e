package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/wikichat/chat"
	"github.com/BaSui01/wikichat/config"
	"github.com/BaSui01/wikichat/internal/server"
	"github.com/BaSui01/wikichat/internal/telemetry"
	"github.com/BaSui01/wikichat/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 对外提供 REST 与 WebSocket 两种对话入口，
// 以及健康检查和 Prometheus 指标端点。
type Server struct {
	cfg    *config.Config
	app    *app
	logger *zap.Logger

	httpManager   *server.Manager
	otelProviders *telemetry.Providers
	sweepCancel   context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*chat.Session
}

// NewServer 创建服务器实例。
func NewServer(cfg *config.Config, application *app, logger *zap.Logger, providers *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		app:           application,
		logger:        logger,
		otelProviders: providers,
		sessions:      make(map[string]*chat.Session),
	}
}

// Start 启动 HTTP 服务。
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("GET /api/fact", s.handleFact)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		Tracing(),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	sweepCtx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	go s.sweepSessions(sweepCtx)

	return s.httpManager.Start()
}

// WaitForShutdown 阻塞直到收到终止信号，然后优雅关闭。
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()

	if s.sweepCancel != nil {
		s.sweepCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.otelProviders.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown incomplete", zap.Error(err))
	}
}

// sessionFor 取出或创建会话，空 ID 新建。
func (s *Server) sessionFor(sessionID string) *chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID != "" {
		if session, ok := s.sessions[sessionID]; ok {
			return session
		}
	}
	session := s.app.newSession(sessionID)
	s.sessions[session.ID()] = session
	return session
}

// =============================================================================
// 🌐 HTTP Handlers
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string   `json:"session_id"`
	Reply     string   `json:"reply"`
	Knowledge []string `json:"knowledge,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	session := s.sessionFor(req.SessionID)
	result, err := session.Respond(r.Context(), req.Message)
	if err != nil {
		s.logger.Error("chat turn failed", zap.Error(err))
		writeError(w, httpStatusFor(err), "failed to generate a reply")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: session.ID(),
		Reply:     result.Reply,
		Knowledge: knowledgeTexts(result),
	})
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer    string   `json:"answer"`
	Knowledge []string `json:"knowledge,omitempty"`
}

// handleAsk 单问单答入口，不创建会话也不记录历史。
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	result, err := s.app.newSession("").Ask(r.Context(), req.Question)
	if err != nil {
		s.logger.Error("ask failed", zap.Error(err))
		writeError(w, httpStatusFor(err), "failed to generate an answer")
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Answer:    result.Reply,
		Knowledge: knowledgeTexts(result),
	})
}

type factResponse struct {
	Entity   string `json:"entity"`
	Property string `json:"property"`
	Value    string `json:"value"`
}

// handleFact 结构化事实查询：GET /api/fact?entity=Saturn&property=mass。
func (s *Server) handleFact(w http.ResponseWriter, r *http.Request) {
	entity := r.URL.Query().Get("entity")
	property := r.URL.Query().Get("property")
	if entity == "" || property == "" {
		writeError(w, http.StatusBadRequest, "entity and property are required")
		return
	}

	value, err := s.app.newSession("").Fact(r.Context(), entity, property)
	if err != nil {
		if types.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "no matching fact")
			return
		}
		s.logger.Error("fact lookup failed", zap.Error(err))
		writeError(w, httpStatusFor(err), "fact lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, factResponse{Entity: entity, Property: property, Value: value})
}

// handleWebSocket 每个连接绑定一个会话，逐条处理消息。
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	session := s.sessionFor(r.URL.Query().Get("session_id"))
	logger := s.logger.With(zap.String("session_id", session.ID()))

	for {
		var req chatRequest
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			logger.Debug("websocket read failed", zap.Error(err))
			return
		}
		if req.Message == "" {
			continue
		}

		result, err := session.Respond(r.Context(), req.Message)
		if err != nil {
			logger.Error("chat turn failed", zap.Error(err))
			_ = wsjson.Write(r.Context(), conn, map[string]string{
				"error": "failed to generate a reply",
			})
			continue
		}

		if err := wsjson.Write(r.Context(), conn, chatResponse{
			SessionID: session.ID(),
			Reply:     result.Reply,
			Knowledge: knowledgeTexts(result),
		}); err != nil {
			logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

// =============================================================================
// 🔧 响应辅助
// =============================================================================

func knowledgeTexts(result *chat.TurnResult) []string {
	if len(result.Knowledge) == 0 {
		return nil
	}
	texts := make([]string, len(result.Knowledge))
	for i, s := range result.Knowledge {
		texts[i] = s.Text
	}
	return texts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// httpStatusFor 将管线错误映射到对外状态码。
func httpStatusFor(err error) int {
	switch types.GetErrorCode(err) {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

const sessionSweepInterval = 10 * time.Minute

// sweepSessions 定期清空会话表，防止长期运行的服务无限增长。
// 历史仍保留在存储层，客户端带原 session_id 重连即可恢复上下文。
func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			n := len(s.sessions)
			s.sessions = make(map[string]*chat.Session)
			s.mu.Unlock()
			if n > 0 {
				s.logger.Debug("session table swept", zap.Int("sessions", n))
			}
		}
	}
}
