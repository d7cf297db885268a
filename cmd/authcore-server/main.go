package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/couponali/authcore"
	"github.com/couponali/authcore/internal/httpapi"
	"github.com/couponali/authcore/internal/memusers"
	authprom "github.com/couponali/authcore/metrics/export/prometheus"
	"github.com/couponali/authcore/refresh"
)

type options struct {
	addr         string
	redisAddr    string
	postgresDSN  string
	jwtKey       string
	issuer       string
	failOpen     bool
	echoSecrets  bool
	purgeEvery   time.Duration
	graceWindow  time.Duration
	shutdownWait time.Duration
}

func parseOptions() options {
	var o options
	flag.StringVar(&o.addr, "addr", envOr("AUTHCORE_ADDR", ":8080"), "listen address")
	flag.StringVar(&o.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address; empty starts an in-process miniredis")
	flag.StringVar(&o.postgresDSN, "postgres-dsn", os.Getenv("AUTHCORE_POSTGRES_DSN"), "store refresh tokens in Postgres instead of Redis")
	flag.StringVar(&o.jwtKey, "jwt-key", os.Getenv("AUTHCORE_JWT_KEY"), "HS256 signing secret, at least 32 bytes; empty generates one")
	flag.StringVar(&o.issuer, "issuer", envOr("AUTHCORE_ISSUER", "authcore"), "access token issuer")
	flag.BoolVar(&o.failOpen, "rate-limit-fail-open", false, "allow requests when the rate limit store is down")
	flag.BoolVar(&o.echoSecrets, "dev-echo-secrets", false, "return OTP codes and reset tokens in responses")
	flag.DurationVar(&o.purgeEvery, "purge-every", time.Hour, "interval between expired refresh token purges; 0 disables")
	flag.DurationVar(&o.graceWindow, "reuse-grace", 0, "refresh reuse grace window")
	flag.DurationVar(&o.shutdownWait, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	flag.Parse()
	return o
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	opts := parseOptions()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(opts, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(opts options, log *slog.Logger) error {
	ctx := context.Background()

	client, closeRedis, err := openRedis(opts.redisAddr, log)
	if err != nil {
		return err
	}
	defer closeRedis()

	cfg := authcore.DefaultConfig()
	cfg.JWT.Issuer = opts.issuer
	cfg.JWT.PrivateKey, err = signingKey(opts.jwtKey, log)
	if err != nil {
		return err
	}
	cfg.RateLimit.FailOpen = opts.failOpen
	cfg.Tokens.ReuseGraceWindow = opts.graceWindow
	cfg.Audit.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	builder := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(memusers.New()).
		WithNotifier(logNotifier{log: log}).
		WithAuditSink(authcore.NewSlogSink(log.With("component", "audit"))).
		WithLogger(log)

	if opts.postgresDSN != "" {
		db, err := openPostgres(ctx, opts.postgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		builder = builder.WithTokenStore(refresh.NewPostgresStore(db))
		log.Info("refresh tokens stored in postgres")
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	router := httpapi.NewRouter(engine, log, httpapi.RouterConfig{
		Metrics:     authprom.Handler(authprom.NewCollector(engine)),
		EchoSecrets: opts.echoSecrets,
	})

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.purgeEvery > 0 {
		go purgeLoop(stop, engine, opts.purgeEvery, log)
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("starting http server", "addr", opts.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-stop.Done():
	}

	log.Info("shutting down server gracefully")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), opts.shutdownWait)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

func openRedis(addr string, log *slog.Logger) (redis.UniversalClient, func(), error) {
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		log.Warn("using in-process miniredis; state is lost on exit", "addr", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	log.Info("using redis", "addr", addr)
	return client, func() { _ = client.Close() }, nil
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := refresh.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func signingKey(configured string, log *slog.Logger) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	log.Warn("no signing key configured; tokens will not survive a restart")
	return key, nil
}

func purgeLoop(ctx context.Context, engine *authcore.Engine, every time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.PurgeExpiredTokens(ctx)
			if err != nil {
				log.Warn("purge expired refresh tokens failed", "error", err)
				continue
			}
			log.Info("purged expired refresh tokens", "count", n)
		}
	}
}
