package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	relmeauth "hawx.me/code/relme-auth"
	"hawx.me/code/relme-auth/config"
	"hawx.me/code/relme-auth/data"
	"hawx.me/code/relme-auth/relme"
	"hawx.me/code/relme-auth/strategy"
	"hawx.me/code/relme-auth/web"
)

func serveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, log, nil)
		},
	}
}

// run starts the server and blocks until ctx is done. If ready is non-nil the
// server's base URL is sent on it once listening.
func run(ctx context.Context, cfg *config.Config, log *zap.Logger, ready chan<- string) error {
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	cache, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	links := relme.New(&http.Client{Timeout: cfg.Fetch.Timeout})
	links.Cache = cache
	links.Logger = log.Named("relme")

	exchangers := buildExchangers(cfg, log)
	registry := strategy.Default.Filter(func(p strategy.Provider) bool {
		_, ok := exchangers[p.Code()]
		return ok
	})
	if len(registry) == 0 {
		log.Warn("no providers are configured, nobody will be able to sign in")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics, err := web.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	auth := relmeauth.New(store, links, registry, log.Named("auth"))
	server := &http.Server{
		Handler:           web.New(auth, exchangers, web.NewSessions(cfg.SessionSecret), metrics, log.Named("web")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", ln.Addr().String()), zap.Strings("providers", codes(registry)))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (relmeauth.Store, func(), error) {
	if cfg.Store.Kind != "postgres" {
		return data.NewMemory(), func() {}, nil
	}

	db, err := data.NewPostgres(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := db.Migrate(ctx, data.Migrations(), log.Named("migrate")); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, db.Close, nil
}

func openCache(ctx context.Context, cfg *config.Config) (relme.Cache, func(), error) {
	switch cfg.Cache.Kind {
	case "none":
		return nil, func() {}, nil
	case "redis":
		rdb, err := data.NewRedisClient(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return data.NewRedisCache(rdb, cfg.Cache.TTL), func() { rdb.Close() }, nil
	default:
		return data.NewMemoryCache(cfg.Cache.TTL), func() {}, nil
	}
}

// buildExchangers creates an exchanger for each provider with credentials.
// Providers that cannot be exchanged with OAuth 2.0 are skipped.
func buildExchangers(cfg *config.Config, log *zap.Logger) strategy.Exchangers {
	exchangers := strategy.Exchangers{}
	base := strings.TrimRight(cfg.BaseURL, "/")

	for code, provider := range cfg.Providers {
		if provider.ClientID == "" {
			continue
		}
		callback := base + "/auth/" + code + "/callback"

		switch code {
		case strategy.GitHub.Code():
			exchangers[code] = strategy.NewGitHub(provider.ClientID, provider.ClientSecret, callback)
		case strategy.GitLab.Code():
			exchangers[code] = strategy.NewGitLab(provider.ClientID, provider.ClientSecret, callback)
		default:
			log.Warn("provider cannot be signed in with", zap.String("provider", code))
		}
	}

	return exchangers
}

func codes(registry strategy.Registry) []string {
	var list []string
	for _, p := range registry {
		list = append(list, p.Code())
	}
	return list
}
