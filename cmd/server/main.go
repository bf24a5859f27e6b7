package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"authbridge/internal/api"
	"authbridge/internal/auth"
	"authbridge/internal/biz"
	"authbridge/internal/conf"
	"authbridge/internal/data"
	"authbridge/internal/server"
	"authbridge/internal/service"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var flagconf string

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	// load config
	cfg, err := conf.Load(flagconf)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(os.Stdout, cfg.Log)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(w io.Writer, cfg conf.Log) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(ctx context.Context, cfg *conf.Config, logger *slog.Logger) error {
	// 手动依赖注入
	// data 层
	checks := map[string]api.HealthCheck{}
	var states biz.StateStore
	switch cfg.State.Backend {
	case "redis":
		store, err := data.NewRedisStateStore(ctx, data.RedisOptions{
			Addr:      cfg.State.Redis.Addr,
			Username:  cfg.State.Redis.Username,
			Password:  cfg.State.Redis.Password.Value(),
			DB:        cfg.State.Redis.DB,
			KeyPrefix: cfg.State.Redis.KeyPrefix,
		}, cfg.State.TTL)
		if err != nil {
			return err
		}
		defer store.Close()
		checks["redis"] = store.Ping
		states = store
	default:
		states = data.NewMemoryStateStore(cfg.State.TTL)
	}

	var sessionRepo biz.SessionRepo
	if cfg.Session.Enabled {
		var err error
		if cfg.Session.Backend == "sqlite" {
			sessionRepo, err = data.NewSQLiteSessionRepo(cfg.Session.Path, logger)
		} else {
			sessionRepo = data.NewMemorySessionRepo()
		}
		if err != nil {
			return err
		}
		defer sessionRepo.Close()
	}

	// auth 层
	redirectURL := cfg.Auth.GetRedirectURL(cfg.Server.BaseURL)
	oidcClient, err := auth.NewOIDCClient(ctx, &cfg.Auth, redirectURL)
	if err != nil {
		return err
	}
	logger.Info("OIDC provider discovered", "issuer", cfg.Auth.GetIssuer(), "redirect_url", redirectURL)

	metrics := api.NewMetrics()
	secret := []byte(cfg.Token.SigningSecret.Value())
	issuer, err := auth.NewTokenIssuer(secret, cfg.Token.Issuer, cfg.Token.TTL)
	if err != nil {
		return err
	}
	verifier, err := auth.NewTokenVerifier(secret, cfg.Token.Issuer, auth.WithVerifyObserver(metrics.ObserveVerify))
	if err != nil {
		return err
	}

	// biz 层
	sessions := biz.NewSessionBridge(sessionRepo, oidcClient, cfg.Session.TTL)
	loginUsecase := biz.NewLoginUsecase(states, oidcClient, oidcClient, issuer, sessions, biz.LoginOptions{
		UsePKCE:              true,
		UnsafeSkipStateCheck: cfg.Debug.UnsafeSkipStateCheck,
	}, logger)

	// service 层
	authService := service.NewAuthService(loginUsecase, verifier, sessions, cfg.Auth.PostLogoutRedirectURL, logger)

	// api 层
	var limiter *rate.Limiter
	if cfg.State.MaxLoginsPerSecond > 0 {
		burst := cfg.State.LoginBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.State.MaxLoginsPerSecond), burst)
	}
	authHandler := api.NewAuthHandler(authService, verifier, api.AuthHandlerOptions{
		FrontendURL:  cfg.Auth.FrontendURL,
		CookieName:   cfg.Session.CookieName,
		CookieSecure: cfg.Session.CookieSecure,
		Limiter:      limiter,
		Metrics:      metrics,
		Logger:       logger,
	})
	router := api.NewRouter(authHandler, metrics, checks)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.NewHTTPServer(cfg.Server, router, logger).Run(ctx)
	})
	g.Go(func() error {
		return data.RunSweeper(ctx, states, cfg.State.SweepInterval, logger)
	})
	if sessions.Enabled() {
		g.Go(func() error {
			return data.RunSessionCleanup(ctx, sessions, cfg.State.SweepInterval, logger)
		})
	}
	return g.Wait()
}
