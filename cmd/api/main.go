package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wildpath-tours/call-scheduler-api/internal/adapters/googlecal"
	"github.com/wildpath-tours/call-scheduler-api/internal/adapters/httpapi"
	memcalendar "github.com/wildpath-tours/call-scheduler-api/internal/adapters/memory/calendar"
	memcallrepo "github.com/wildpath-tours/call-scheduler-api/internal/adapters/memory/callrepo"
	memdirectory "github.com/wildpath-tours/call-scheduler-api/internal/adapters/memory/directory"
	memidempotency "github.com/wildpath-tours/call-scheduler-api/internal/adapters/memory/idempotency"
	postgres "github.com/wildpath-tours/call-scheduler-api/internal/adapters/postgres"
	pgcallrepo "github.com/wildpath-tours/call-scheduler-api/internal/adapters/postgres/callrepo"
	pgidempotency "github.com/wildpath-tours/call-scheduler-api/internal/adapters/postgres/idempotency"
	"github.com/wildpath-tours/call-scheduler-api/internal/adapters/redisidem"
	"github.com/wildpath-tours/call-scheduler-api/internal/app/calls"
	"github.com/wildpath-tours/call-scheduler-api/internal/app/reconcile"
	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
	"github.com/wildpath-tours/call-scheduler-api/internal/platform/auth/tokenverifier"
	platformclock "github.com/wildpath-tours/call-scheduler-api/internal/platform/clock"
	"github.com/wildpath-tours/call-scheduler-api/internal/platform/config"
	calendarport "github.com/wildpath-tours/call-scheduler-api/internal/ports/out/calendar"
	callrepoport "github.com/wildpath-tours/call-scheduler-api/internal/ports/out/callrepo"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/directory"
	idempotencyport "github.com/wildpath-tours/call-scheduler-api/internal/ports/out/idempotency"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var authMW func(http.Handler) http.Handler
	switch cfg.Auth.Mode {
	case config.AuthModeJWT:
		verifier, err := tokenverifier.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
		if err != nil {
			log.Error("invalid auth config", "error", err)
			os.Exit(1)
		}
		authMW = httpapi.NewAuthMiddleware(verifier)
	default:
		log.Warn("running with dev auth; do not expose this outside local development")
		authMW = httpapi.NewDevAuthMiddleware()
	}

	clk := platformclock.NewSystemClock()

	var (
		callRepo  callrepoport.Repository
		idemStore idempotencyport.Store
		cleanup   []func()
	)

	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		pool, err := postgres.NewPool(ctx, cfg.Storage.DatabaseURL, postgres.PoolOptions{})
		if err != nil {
			log.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		callRepo = pgcallrepo.NewRepo(pool)
		if cfg.Idempotency.Backend == config.IdempotencyPostgres {
			idemStore = pgidempotency.NewStore(pool)
		}
	default:
		callRepo = memcallrepo.NewRepo()
	}

	switch cfg.Idempotency.Backend {
	case config.IdempotencyRedis:
		store, err := redisidem.NewStore(ctx, redisidem.Config{
			Addr: cfg.Idempotency.RedisAddr,
			TTL:  cfg.Idempotency.TTL,
		})
		if err != nil {
			log.Error("redis unavailable", "error", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { _ = store.Close() })
		idemStore = store
	case config.IdempotencyPostgres:
		// Wired above with the shared pool.
	default:
		idemStore = memidempotency.NewStore()
	}

	var gw calendarport.Gateway
	switch cfg.Calendar.Backend {
	case config.CalendarGoogle:
		g, err := googlecal.NewGateway(ctx, googlecal.Config{
			CalendarID:      cfg.Calendar.GoogleCalendarID,
			CredentialsFile: cfg.Calendar.CredentialsFile,
			Timeout:         cfg.Calendar.Timeout,
		})
		if err != nil {
			log.Error("google calendar unavailable", "error", err)
			os.Exit(1)
		}
		gw = g
	default:
		gw = memcalendar.NewGateway()
	}

	dir, err := loadDirectory(os.Getenv("DIRECTORY_SEED_FILE"))
	if err != nil {
		log.Error("invalid directory seed", "error", err)
		os.Exit(1)
	}

	callsSvc := calls.NewService(callRepo, dir, gw, clk, log)

	var cronRunner *cron.Cron
	if cfg.ReconcileCron != "" {
		sweeper := reconcile.NewSweeper(callRepo, callsSvc, clk, log)
		cronRunner = cron.New()
		if _, err := cronRunner.AddFunc(cfg.ReconcileCron, func() {
			if _, err := sweeper.Run(context.Background()); err != nil {
				log.Warn("reconcile sweep failed", "error", err)
			}
		}); err != nil {
			log.Error("invalid RECONCILE_CRON", "error", err)
			os.Exit(1)
		}
		cronRunner.Start()
	}

	api := httpapi.NewServer(callsSvc, dir, idemStore)
	handler := httpapi.NewRouter(api, authMW)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("api listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	if cronRunner != nil {
		<-cronRunner.Stop().Done()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	for _, fn := range cleanup {
		fn()
	}
}

// loadDirectory builds the in-memory participant directory. Membership is
// provisioned out of band; the seed file is a JSON array of participants:
//
//	[{"id":"...","subject":"...","displayName":"...","email":"...","role":"AGENT"}]
func loadDirectory(path string) (directory.Directory, error) {
	dir := memdirectory.NewDir()
	if path == "" {
		return dir, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var seed []struct {
		ID          string `json:"id"`
		Subject     string `json:"subject"`
		DisplayName string `json:"displayName"`
		Email       string `json:"email"`
		Role        string `json:"role"`
	}
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, p := range seed {
		if p.ID == "" {
			return nil, fmt.Errorf("participant in %s is missing an id", path)
		}
		dir.Put(directory.Participant{
			ID:          domain.MemberID(p.ID),
			Subject:     domain.SubjectID(p.Subject),
			DisplayName: p.DisplayName,
			Email:       p.Email,
			Role:        domain.Role(p.Role),
		})
	}
	return dir, nil
}
