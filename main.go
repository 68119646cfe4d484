package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"secretaria/internal/api"
	"secretaria/internal/auth"
	"secretaria/internal/config"
	"secretaria/internal/logging"
	"secretaria/internal/redis"
	"secretaria/internal/service/ai"
	"secretaria/internal/service/assistant"
	"secretaria/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const usage = `usage: secretaria [serve|chat]

  serve   run the development backend
  chat    run the terminal client (default)`

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Logger().Warn("load .env failed", "error", err)
	}
	cfg, err := loadConfig(os.Getenv("SECRETARIA_CONFIG"))
	if err != nil {
		fatal("load config", err)
	}

	cmd := "chat"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		logging.Configure(os.Stdout, true)
		err = serve(ctx, cfg)
	case "chat":
		logging.Configure(os.Stderr, false)
		err = chat(ctx, cfg, os.Stdin, os.Stdout)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		stop()
		fatal(cmd, err)
	}
}

var exit = os.Exit

func fatal(what string, err error) {
	logging.Logger().Error(what+" failed", "error", err)
	exit(1)
}

// loadConfig falls back to defaults when no config file exists.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func serve(ctx context.Context, cfg *config.Config) error {
	dbType := cfg.BasicConfig.Database
	logger := logging.WithFields("component", "serve")
	logger.Info("opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	var cache *redis.Client
	if cfg.Redis.Host != "" {
		cache, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer cache.Close()
		logger.Info("token cache enabled", "addr", cache.Addr())
	}

	tokenTTL := time.Duration(cfg.BasicConfig.TokenTTLMinutes) * time.Minute
	authService := auth.NewService(db, cache, tokenTTL)
	assistantService := assistant.NewService(db)

	orphanTTL := time.Duration(cfg.BasicConfig.OrphanFileTTLMinutes) * time.Minute
	if orphanTTL <= 0 {
		orphanTTL = assistant.DefaultOrphanFileTTL
	}
	cleanInterval := time.Duration(cfg.BasicConfig.OrphanCleanIntervalMins) * time.Minute
	if cleanInterval <= 0 {
		cleanInterval = assistant.DefaultOrphanFileCleanupInterval
	}
	assistantService.StartOrphanFileCleaner(ctx, orphanTTL, cleanInterval)

	generator, err := ai.NewGenerator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init generator: %w", err)
	}
	extractor, err := ai.NewExtractor(ctx)
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}
	handlers := api.NewHandler(assistantService, authService, generator, extractor, api.Options{
		FileBaseDir:  cfg.BasicConfig.FileBaseDir,
		HistoryLimit: cfg.BasicConfig.HistoryLimit,
	})

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	handlers.RegisterRoutes(router)

	srv := &http.Server{Addr: cfg.BasicConfig.ServerAddress, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "model", generator.Model())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
