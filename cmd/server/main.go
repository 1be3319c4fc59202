package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"brickledger/internal/audit"
	"brickledger/internal/audit/mirror"
	auditstore "brickledger/internal/audit/store"
	escrowmetrics "brickledger/internal/escrow/metrics"
	escrowservice "brickledger/internal/escrow/service"
	escrowstore "brickledger/internal/escrow/store"
	govmetrics "brickledger/internal/governance/metrics"
	govservice "brickledger/internal/governance/service"
	govstore "brickledger/internal/governance/store"
	"brickledger/internal/keyauth"
	"brickledger/internal/ledger"
	ledgermem "brickledger/internal/ledger/memory"
	"brickledger/internal/ledger/remote"
	"brickledger/internal/platform/config"
	"brickledger/internal/platform/httpserver"
	"brickledger/internal/platform/logger"
	"brickledger/internal/platform/metrics"
	"brickledger/internal/platform/middleware"
	"brickledger/internal/platform/redis"
	tokenmetrics "brickledger/internal/token/metrics"
	tokenservice "brickledger/internal/token/service"
	tokenstore "brickledger/internal/token/store"
	httptransport "brickledger/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	log := logger.New()
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: postgres when configured, in-memory otherwise. The in-memory
	// pair exists for local development and loses state on restart.
	var (
		tokens  tokenservice.TokenStore
		props   govservice.ProposalStore
		escrows escrowservice.EscrowStore
		events  audit.EventStore
	)
	if cfg.PostgresURL != "" {
		db, err := sql.Open("pgx", cfg.PostgresURL)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("ping postgres", "error", err)
			os.Exit(1)
		}
		tokens = tokenstore.NewPostgres(db)
		props = govstore.NewPostgres(db)
		escrows = escrowstore.NewPostgres(db)
		events = auditstore.NewPostgres(db)
	} else {
		log.Warn("no postgres configured, using in-memory stores")
		tokens = tokenstore.NewInMemory()
		props = govstore.NewInMemory()
		escrows = escrowstore.NewInMemory()
		events = auditstore.NewInMemory()
	}

	// Gateway: remote bridge when an endpoint is configured, otherwise the
	// local simulator so the service can run without network access.
	var inner ledger.Gateway
	if cfg.Ledger.Endpoint != "" {
		inner = remote.New(cfg.Ledger.Endpoint, cfg.Ledger.OperatorAccount, cfg.Ledger.RequestTimeout)
	} else {
		log.Warn("no ledger endpoint configured, using in-memory simulator")
		inner = ledgermem.New()
	}
	policy := ledger.DefaultRetryPolicy
	if cfg.Ledger.MaxRetries > 0 {
		policy.MaxAttempts = cfg.Ledger.MaxRetries
	}
	gateway := ledger.NewRetrying(inner, policy, log)

	var recorderOpts []audit.RecorderOption
	pub, err := mirror.New(ctx, cfg.Kafka, log)
	if err != nil {
		log.Error("connect audit mirror", "error", err)
		os.Exit(1)
	}
	if pub != nil {
		defer pub.Close(context.Background())
		recorderOpts = append(recorderOpts, audit.WithMirror(pub))
	}

	recorder := audit.NewRecorder(gateway, events, log, recorderOpts...)
	if _, err := recorder.EnsureTopic(ctx, "brickledger audit trail"); err != nil {
		log.Error("create audit topic", "error", err)
		os.Exit(1)
	}

	keys := keyauth.NewRegistry()

	tokenSvc := tokenservice.New(tokens, gateway, keys, recorder,
		tokenservice.WithLogger(log),
		tokenservice.WithMetrics(tokenmetrics.New()),
	)
	// The registry starts empty on every boot; the token records carry the
	// durable key structures.
	restored, err := tokenSvc.RestoreKeyRegistry(ctx)
	if err != nil {
		log.Error("restore key registry", "error", err)
		os.Exit(1)
	}
	log.Info("key registry restored", "tokens", restored)
	govSvc := govservice.New(props, tokenSvc, keys, gateway, recorder,
		govservice.WithLogger(log),
		govservice.WithMetrics(govmetrics.New()),
	)
	escrowSvc := escrowservice.New(escrows, gateway, recorder,
		escrowservice.WithLogger(log),
		escrowservice.WithMetrics(escrowmetrics.New()),
	)

	// Reservations: redis when configured, else per-process memory. The
	// transport falls back to memory on a nil store as well; wiring it here
	// keeps the choice visible in one place.
	var reservations httptransport.ReservationStore
	rdb, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
		reservations = httptransport.NewFallbackReservations(httptransport.NewRedisReservations(rdb.Client), log)
	}

	handler := httptransport.New(tokenSvc, govSvc, escrowSvc, recorder, reservations, log)
	router := httptransport.NewRouter(handler, log, metrics.New(), middleware.NewHMACValidator(cfg.JWTSigningKey))

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting brickledger", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := escrowSvc.StartSweeper(gctx, cfg.EscrowSweepInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
