// Command terminald runs the web console auth service: HTTP JSON API
// backed by PostgreSQL (accounts, passkeys, settings) and redis (ban
// ledger, sessions).
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	nexusterminal "github.com/wwng2333/nexus-terminal-sub003"
	"github.com/wwng2333/nexus-terminal-sub003/httpapi"
	"github.com/wwng2333/nexus-terminal-sub003/internal/store"
	"github.com/wwng2333/nexus-terminal-sub003/session"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := run(logger); err != nil {
		logger.Error("terminald exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	addr := envOr("NT_LISTEN_ADDR", ":8022")
	dsn := envOr("NT_DATABASE_DSN", "postgres://localhost:5432/nexusterminal?sslmode=disable")
	redisAddr := envOr("NT_REDIS_ADDR", "localhost:6379")
	tokenSecret := os.Getenv("NT_SESSION_SECRET")
	if len(tokenSecret) < 32 {
		return errors.New("NT_SESSION_SECRET must be set to at least 32 bytes")
	}

	cfg := nexusterminal.DefaultConfig()
	cfg.Session.TokenSecret = []byte(tokenSecret)
	if rpid := os.Getenv("NT_WEBAUTHN_RPID"); rpid != "" {
		cfg.Passkey.RPID = rpid
	}
	if origins := os.Getenv("NT_WEBAUTHN_ORIGINS"); origins != "" {
		cfg.Passkey.RPOrigins = strings.Split(origins, ",")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database ready", "dsn_host", redactDSN(dsn))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("NT_REDIS_PASSWORD"),
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	defer redisClient.Close()

	engine, err := nexusterminal.NewBuilder().
		WithConfig(cfg).
		WithRedis(redisClient).
		WithCredentialStore(db.Users()).
		WithPasskeyStore(db.Passkeys()).
		WithSettingsStore(db.Settings()).
		WithAuditSink(nexusterminal.NewJSONWriterSink(os.Stdout)).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	sessions := session.NewStore(redisClient, session.Config{
		Prefix:             cfg.Session.RedisPrefix,
		Lifetime:           cfg.Session.Lifetime,
		RememberMeLifetime: cfg.Session.RememberMeLifetime,
	})
	tokens, err := session.NewTokenManager(cfg.Session.TokenSecret, cfg.Session.Lifetime, cfg.Session.RememberMeLifetime)
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Config{
		SecureCookies: os.Getenv("NT_INSECURE_COOKIES") == "",
	}, engine, sessions, tokens, logger)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// redactDSN strips credentials from a DSN for logging.
func redactDSN(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at >= 0 {
		if scheme := strings.Index(dsn, "://"); scheme >= 0 {
			return dsn[:scheme+3] + "***" + dsn[at:]
		}
	}
	return dsn
}
