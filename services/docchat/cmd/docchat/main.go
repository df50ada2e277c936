package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"docchat/internal/analysis"
	"docchat/internal/ratelimit"
	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/storage"
	"docchat/pkg/store"
	"docchat/services/docchat/internal/app"
	"docchat/services/docchat/internal/config"
	"docchat/services/docchat/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("docchat stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.FileConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataStore, err := openStore(cfg)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}

	sessions, err := openSessions(cfg, redisClient)
	if err != nil {
		return err
	}

	files, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		return err
	}
	var archive storage.Archive
	if cfg.MinioEnabled() {
		minioStore, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return err
		}
		archive = minioStore
	}

	completer, err := newCompleter(cfg)
	if err != nil {
		return err
	}
	analyzer, err := newAnalyzer(cfg, completer)
	if err != nil {
		return err
	}

	analysisTimeout, _ := config.ParseDuration(cfg.AnalysisTimeout)
	chatTimeout, _ := config.ParseDuration(cfg.ChatTimeout)
	core, err := app.New(app.Config{
		RootAdminEmail:    cfg.RootAdminEmail,
		RootAdminPassword: cfg.RootAdminPassword,
		Store:             dataStore,
		Sessions:          sessions,
		Files:             files,
		Archive:           archive,
		Analyzer:          analyzer,
		Completer:         completer,
		SystemPrompt:      cfg.SystemPrompt,
		HistoryLimit:      cfg.HistoryLimit,
		AnalysisTimeout:   analysisTimeout,
		CompletionTimeout: chatTimeout,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	created, err := core.SeedRootAdmin()
	if err != nil {
		return err
	}
	if created {
		logger.Info("root admin created", "email", core.Policy().RootAdminEmail())
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return err
	}
	signupLimiter, loginLimiter, err := newLimiters(cfg, redisClient)
	if err != nil {
		return err
	}
	httpServer, err := server.New(server.Config{
		App:            core,
		CookieSecure:   cfg.CookieSecure,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: trusted,
		MaxUploadBytes: cfg.MaxUploadBytes,
		SignupLimiter:  signupLimiter,
		LoginLimiter:   loginLimiter,
	})
	if err != nil {
		return err
	}

	addr := ":" + cfg.Port
	// WriteTimeout covers an upload waiting on analysis.
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", addr, "store", cfg.Store, "analyzer", cfg.Analyzer, "chat_provider", cfg.ChatProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(cfg config.FileConfig) (store.Store, error) {
	if cfg.Store == config.StoreMemory {
		slog.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), nil
	}
	return store.NewGormStore(cfg.DatabaseURL)
}

func openSessions(cfg config.FileConfig, redisClient *redis.Client) (*store.JWTSessionStore, error) {
	var revoker store.TokenRevoker
	switch cfg.SessionRevocation {
	case config.RevocationMemory:
		revoker = store.NewMemoryTokenRevoker()
	case config.RevocationRedis:
		revoker = store.NewRedisTokenRevoker(redisClient)
	}
	ttl, _ := config.ParseDuration(cfg.SessionTTL)
	leeway, _ := config.ParseDuration(cfg.JWTLeeway)
	return store.NewJWTSessionStore(cfg.JWTSecret, ttl, revoker, store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   leeway,
	})
}

func newCompleter(cfg config.FileConfig) (ai.Completer, error) {
	timeout, _ := config.ParseDuration(cfg.ChatTimeout)
	switch cfg.ChatProvider {
	case config.ChatProviderOllama:
		return ai.NewOllamaClient(cfg.ChatBaseURL, cfg.ChatModel, timeout), nil
	case config.ChatProviderOpenAI:
		return ai.NewOpenAICompatClient(cfg.ChatBaseURL, cfg.ChatAPIKey, cfg.ChatModel, timeout), nil
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.ChatProvider)
	}
}

func newAnalyzer(cfg config.FileConfig, completer ai.Completer) (analysis.Analyzer, error) {
	if cfg.Analyzer == config.AnalyzerNative {
		return analysis.NewNativeAnalyzer(completer)
	}
	timeout, _ := config.ParseDuration(cfg.AnalysisTimeout)
	return analysis.NewProcessAnalyzer(cfg.AnalyzerCommand, cfg.AnalyzerArgs, cfg.AnalyzerDir, timeout)
}

func newLimiters(cfg config.FileConfig, redisClient *redis.Client) (signup, login *ratelimit.FixedWindowLimiter, err error) {
	if redisClient == nil || !cfg.RateLimitsEnabled() {
		return nil, nil, nil
	}
	if cfg.SignupRateLimitPerMinute > 0 {
		signup, err = ratelimit.NewFixedWindowLimiter(redisClient, "docchat:ratelimit:register", cfg.SignupRateLimitPerMinute, time.Minute)
		if err != nil {
			return nil, nil, fmt.Errorf("init register limiter: %w", err)
		}
	}
	if cfg.LoginRateLimitPerMinute > 0 {
		login, err = ratelimit.NewFixedWindowLimiter(redisClient, "docchat:ratelimit:login", cfg.LoginRateLimitPerMinute, time.Minute)
		if err != nil {
			return nil, nil, fmt.Errorf("init login limiter: %w", err)
		}
	}
	return signup, login, nil
}
