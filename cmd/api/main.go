package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/ragdesk/ragdesk/backend/internal/auth"
	"github.com/ragdesk/ragdesk/backend/internal/config"
	"github.com/ragdesk/ragdesk/backend/internal/handler"
	"github.com/ragdesk/ragdesk/backend/internal/knowledge"
	"github.com/ragdesk/ragdesk/backend/internal/service/chat"
	"github.com/ragdesk/ragdesk/backend/internal/service/history"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Warn("failed to load .env file, continuing with system environment variables only", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", "error", err)
	}

	logger := newLogger(cfg.Log)
	log.SetDefault(logger)

	strategy, err := auth.New(cfg.Auth)
	if err != nil {
		logger.Fatal("failed to initialize authentication", "error", err)
	}
	logger.Info("authentication configured", "strategy", strategy.Name())

	histories := history.NewManager(history.Config{
		Dir:         cfg.History.StorageDir,
		MaxSessions: cfg.History.MaxSessions,
	}, logger.WithPrefix("history"))
	chatService := chat.NewService(histories, chat.Config{HistoryEnabled: cfg.History.Enabled}, logger.WithPrefix("chat"))

	if cfg.History.Enabled {
		logger.Info("chat history enabled", "dir", cfg.History.StorageDir, "max_sessions", cfg.History.MaxSessions)
	} else {
		logger.Info("chat history disabled, conversations will not be saved")
	}

	logKnowledgeBase(ctx, logger.WithPrefix("knowledge"), cfg.Knowledge.DataDir)

	router := handler.NewRouter(chatService, strategy, cfg.CORS.AllowedOrigins, cfg.Knowledge.DataDir, logger)

	startServer(ctx, logger, cfg.Server, router)
}

func newLogger(cfg config.LogConfig) *log.Logger {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	opts := log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	}
	if cfg.Format == "json" {
		opts.Formatter = log.JSONFormatter
	}
	return log.NewWithOptions(os.Stderr, opts)
}

func logKnowledgeBase(ctx context.Context, logger *log.Logger, dir string) {
	logger.Info("supported file types\n" + strings.TrimRight(knowledge.Describe(), "\n"))

	inv, err := knowledge.Scan(ctx, dir)
	if err != nil {
		logger.Warn("cannot scan knowledge base", "dir", dir, "error", err)
		return
	}
	logger.Info("knowledge base", "dir", dir, "files", len(inv.Files), "size", inv.TotalHuman, "unsupported", inv.Unsupported)
}

func startServer(ctx context.Context, logger *log.Logger, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("IT support backend listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", "error", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
