// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"weathercast/config"
	"weathercast/db"
	"weathercast/ml"
	"weathercast/monitoring"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// Deps 处理器依赖，Store、Hub、Metrics可以为nil
type Deps struct {
	Predictor ml.ModelProvider
	Store     *db.Store
	Hub       *monitoring.WebSocketHub
	Metrics   *monitoring.Collector
	Logger    *zap.Logger
}

// Server HTTP服务器
type Server struct {
	server *http.Server
	config config.ServerConfig
	logger *zap.Logger
}

// NewHandler 构建带完整中间件链的处理器
func NewHandler(cfg config.ServerConfig, deps Deps) (http.Handler, error) {
	if deps.Predictor == nil {
		return nil, errors.New("predictor is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	mux := http.NewServeMux()

	// 注册所有处理器
	newHandlers(deps).register(mux, cfg.APIKey)

	// 创建中间件链
	chain := Chain(
		RecoveryMiddleware(deps.Logger),     // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(deps.Logger),       // 2. 日志中间件
		SecurityHeadersMiddleware,           // 3. 安全头中间件
		CORSMiddleware(cfg.AllowedOrigins),  // 4. CORS中间件
		RequestSizeMiddleware(maxBodyBytes), // 5. 请求大小限制
		GzipMiddleware,                      // 6. Gzip压缩中间件
		MetricsMiddleware(deps.Metrics),     // 7. 指标中间件（最内层）
	)

	// 包装处理器
	return chain(mux), nil
}

// NewServer 创建HTTP服务器
func NewServer(cfg config.ServerConfig, deps Deps) (*Server, error) {
	handler, err := NewHandler(cfg, deps)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Timeout,
			IdleTimeout:       120 * time.Second,
		},
		config: cfg,
		logger: logger,
	}, nil
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
