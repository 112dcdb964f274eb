package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/animus-labs/retrigger/internal/backend"
	"github.com/animus-labs/retrigger/internal/platform/auditlog"
	"github.com/animus-labs/retrigger/internal/platform/auth"
	"github.com/animus-labs/retrigger/internal/platform/env"
	"github.com/animus-labs/retrigger/internal/platform/httpserver"
	"github.com/animus-labs/retrigger/internal/session"
	"github.com/animus-labs/retrigger/internal/watch"
)

const serviceName = "retrigger-console"

var publicPrefixes = []string{"/healthz", "/readyz", "/openapi.yaml"}

// authorize needs admin to stop watches across sessions.
var authorize = auth.MethodRoleAuthorizer(auth.RoleOverride{
	Method:     http.MethodDelete,
	PathPrefix: "/watches/",
	Role:       auth.RoleAdmin,
})

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpCfg, err := httpserver.ConfigFromEnv(serviceName, ":8080")
	if err != nil {
		logger.Error("invalid http config", "error", err)
		os.Exit(2)
	}
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	backendCfg, err := backend.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid backend config", "error", err)
		os.Exit(2)
	}
	watchCfg, err := watch.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid watch config", "error", err)
		os.Exit(2)
	}
	sessionTTL, err := env.Duration("SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	sweepInterval, err := env.Duration("SESSION_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	if _, err := loadContract(ctx); err != nil {
		logger.Error("invalid api contract", "error", err)
		os.Exit(2)
	}

	b, err := backend.Open(ctx, backendCfg, logger)
	if err != nil {
		logger.Error("backend unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = b.Close() }()

	authenticator, err := newAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("auth provider unavailable", "mode", authCfg.Mode, "error", err)
		os.Exit(1)
	}

	watches := watch.NewManager(ctx, b.Service, watchCfg, logger)
	sessions := session.NewStore(sessionTTL)
	go sessions.RunJanitor(ctx, sweepInterval, func(id string) {
		stopped := watches.StopSession(id)
		logger.Info("session expired", "session_id", id, "watches_stopped", stopped)
	})

	api := &consoleAPI{
		logger:   logger,
		jobs:     b.Jobs,
		svc:      b.Service,
		recorder: b.Recorder,
		sessions: sessions,
		watches:  watches,
	}
	mw := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     authorize,
	}
	if b.DB != nil {
		db := b.DB
		api.audit = db
		mw.Audit = func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, serviceName, event)
		}
	}

	handler := newHandler(logger, api, mw, b.ReadinessChecks()...)
	if err := httpserver.Run(ctx, logger, httpCfg, handler); err != nil {
		logger.Error("server failed", "error", err)
		watches.StopAll()
		os.Exit(1)
	}
	watches.StopAll()
}

func newHandler(logger *slog.Logger, api *consoleAPI, mw auth.Middleware, checks ...httpserver.ReadinessCheck) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", httpserver.Healthz(serviceName))
	r.Get("/readyz", httpserver.ReadyzWithChecks(serviceName, checks...))
	r.Get("/openapi.yaml", handleOpenAPI)
	api.register(r)

	mw.SkipPrefixes = publicPrefixes
	return httpserver.Wrap(logger, serviceName, mw.Wrap(r))
}

func newAuthenticator(ctx context.Context, cfg auth.Config) (auth.Authenticator, error) {
	switch cfg.Mode {
	case auth.ModeOIDC:
		return auth.NewOIDCAuthenticator(ctx, cfg)
	case auth.ModeDisabled:
		return auth.NewDisabledAuthenticator(), nil
	default:
		return auth.NewDevAuthenticator(cfg), nil
	}
}
