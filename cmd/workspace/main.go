package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"practiceoj/internal/cli/command"
	"practiceoj/internal/cli/config"
	httpclient "practiceoj/internal/cli/http"
	"practiceoj/internal/cli/repl"
	"practiceoj/internal/cli/state"
	"practiceoj/internal/client/api"
	"practiceoj/internal/client/push"
	"practiceoj/internal/common/cache"
	"practiceoj/internal/workspace/coordinator"
	"practiceoj/internal/workspace/solved"
	"practiceoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/workspace.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	token := flag.String("token", "", "Override access token")
	statePath := flag.String("state", "", "Override token state path")
	autoReview := flag.Bool("auto-review", false, "Request an AI review after every accepted submission")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
		cfg.PushURL = config.PushURLFor(*baseURL)
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.TokenStatePath = *statePath
	}
	if *autoReview {
		cfg.Workspace.AutoReview = true
	}

	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokenState, err := state.Load(cfg.TokenStatePath)
	if err != nil {
		logger.Error(ctx, "load token state failed", zap.Error(err))
		return
	}
	if *token != "" {
		if st, err := state.FromToken(*token); err == nil {
			tokenState = st
		} else {
			tokenState = state.TokenState{AccessToken: *token}
		}
	}

	store, closeStore, err := buildSolvedStore(cfg.Solved)
	if err != nil {
		logger.Error(ctx, "init solved store failed", zap.Error(err))
		return
	}
	defer closeStore()
	solvedCache := solved.New(store)
	if err := solvedCache.Load(ctx); err != nil {
		logger.Warn(ctx, "load solved problems failed", zap.Error(err))
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string {
		return tokenState.AccessToken
	})
	coord, err := coordinator.New(coordinator.Config{
		Backend:           api.New(client),
		Push:              push.New(push.Config{URL: cfg.PushURL}),
		Solved:            solvedCache,
		Timeout:           cfg.Workspace.SubmitTimeout,
		CorrelationWindow: cfg.Workspace.CorrelationWindow,
		MaxCodeBytes:      cfg.Workspace.MaxCodeBytes,
		UserID:            tokenState.UserID,
		AutoReview:        cfg.Workspace.AutoReview,
	})
	if err != nil {
		logger.Error(ctx, "init coordinator failed", zap.Error(err))
		return
	}
	defer func() { _ = coord.Close() }()

	session := repl.New(repl.Deps{
		Client:     client,
		Workspace:  coord,
		Solved:     solvedCache,
		Commands:   command.Registry(),
		TokenState: &tokenState,
		StatePath:  cfg.TokenStatePath,
		PrettyJSON: cfg.PrettyJSON != nil && *cfg.PrettyJSON,
	})
	if tokenState.AccessToken != "" {
		if err := session.Connect(ctx); err != nil {
			logger.Warn(ctx, "push channel not connected", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		session.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// loadConfig reads path when it exists; a missing file yields defaults.
func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.Config{}
		config.ApplyDefaults(&cfg)
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func buildSolvedStore(cfg config.SolvedConfig) (solved.Store, func(), error) {
	if cfg.Backend != config.SolvedBackendRedis {
		return solved.NewFileStore(cfg.Path), func() {}, nil
	}
	redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	store := solved.NewRedisStore(redisCache, cfg.Profile, cfg.Redis.ReadTimeout)
	return store, func() { _ = redisCache.Close() }, nil
}
