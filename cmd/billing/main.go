package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dinehub/pos-billing-service/internal/auth"
	"github.com/dinehub/pos-billing-service/internal/backend"
	"github.com/dinehub/pos-billing-service/internal/billing"
	"github.com/dinehub/pos-billing-service/internal/config"
	"github.com/dinehub/pos-billing-service/internal/events"
	"github.com/dinehub/pos-billing-service/internal/journal"
	"github.com/dinehub/pos-billing-service/internal/metrics"
	"github.com/dinehub/pos-billing-service/internal/orchestrator"
	"github.com/dinehub/pos-billing-service/internal/paystate"
	"github.com/dinehub/pos-billing-service/internal/session"
	"github.com/dinehub/pos-billing-service/pkg/accesslog"
	"github.com/dinehub/pos-billing-service/pkg/logger"
	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	trmcontext "github.com/avito-tech/go-transaction-manager/trm/v2/context"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nanmu42/gzip"
	sqldblogger "github.com/simukti/sqldb-logger"
)

// Version indicates the current version of the application.
var Version = "1.0.0"

// Dedup window for just-completed orders. Matches the TTL of the
// cross-terminal completion signal.
const (
	completionsTTL   = 5 * time.Second
	completionsLimit = 200
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Server run context.
	serverCtx, serverStopCtx := context.WithCancel(context.Background())
	defer serverStopCtx()

	// Load application configurations.
	cfg := config.MustLoad()

	// Create root logger tagged with server version.
	logger := logger.New(cfg).With(serverCtx, "version", Version)

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open the database: %w", err)
	}

	// Log every query to the database.
	db = sqldblogger.OpenDriver(cfg.DSN, db.Driver(), logger)

	// Check connectivity and DSN correctness.
	if err = db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to the database: %w", err)
	}

	// Close connection.
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error(err)
		}
		_ = logger.Sync()
	}()

	// Create default transaction manager for database/sql package.
	trManager := manager.Must(
		trmsql.NewDefaultFactory(db),
		manager.WithCtxManager(trmcontext.DefaultManager),
	)

	// Session store for staff tokens and the service credential.
	sessions, err := session.NewStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to init session store: %w", err)
	}

	// Init repository and service for staff authentication.
	authRepo, err := auth.NewRepository(db, trmsql.DefaultCtxGetter, logger)
	if err != nil {
		return fmt.Errorf("failed to init auth repository: %w", err)
	}

	authService, err := auth.NewService(authRepo, sessions, logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to init auth service: %w", err)
	}

	// Service credential attached to every outbound backend call,
	// re-issued at half its lifetime.
	serviceSession, err := sessions.Issue(0)
	if err != nil {
		return fmt.Errorf("failed to issue service session: %w", err)
	}
	go refreshSession(serverCtx, sessions, serviceSession, cfg, logger)

	// Shared transport for the three consumed backends.
	client, err := backend.NewClient(cfg, serviceSession, logger)
	if err != nil {
		return fmt.Errorf("failed to init backend client: %w", err)
	}

	orderStore := backend.NewOrderStore(client, cfg.Backends.OrderStoreAddr)
	ledger := backend.NewLedger(client, cfg.Backends.LedgerAddr)
	seating := backend.NewSeating(client, cfg.Backends.SeatingAddr)

	// Payment commit orchestrator.
	orch, err := orchestrator.New(orderStore, ledger, seating, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to init orchestrator: %w", err)
	}

	// Run journal.
	runsRepo, err := journal.NewRepository(db, trmsql.DefaultCtxGetter, logger)
	if err != nil {
		return fmt.Errorf("failed to init run journal: %w", err)
	}

	// Completion events: in-process broker plus the cross-terminal
	// RabbitMQ signal. The broker connection is best effort.
	broker := events.NewBroker()
	recent := paystate.NewRecentCompletions(completionsTTL, completionsLimit)

	var remote billing.Publisher
	rabbit, err := events.DialRabbit(cfg, logger)
	if err != nil {
		logger.Warnf("rabbitmq unavailable, completion signals stay local: %s", err)
	} else {
		defer rabbit.Close()
		remote = rabbit
		go func() {
			if err := rabbit.Consume(serverCtx, broker); err != nil &&
				!errors.Is(err, context.Canceled) {
				logger.Errorf("completion signal consumer stopped: %s", err)
			}
		}()
	}

	// Orders settled on any terminal disappear from this one's active
	// views right away.
	completions, cancelCompletions := broker.Subscribe()
	defer cancelCompletions()
	go func() {
		for e := range completions {
			if e.RemoveFromActive {
				recent.Add(e.OrderID)
			}
		}
	}()

	// Init billing service.
	billingService, err := billing.NewService(orderStore, orch, runsRepo, trManager,
		broker, remote, recent, metrics.NewLogSink(logger, cfg), logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to init billing service: %w", err)
	}

	// Create root router.
	router := initRootRouter(logger)

	// Init and group handlers for auth routes.
	authHandlers := auth.HandlerWithOptions(authService, auth.ChiServerOptions{
		BaseURL:          "/api/billing",
		BaseRouter:       router,
		ErrorHandlerFunc: auth.ErrorHandlerFunc,
	})

	// Init handlers for billing routes.
	billingHandlers := billing.HandlerWithOptions(billingService, billing.ChiServerOptions{
		BaseURL:          "/api/billing",
		BaseRouter:       router,
		Middlewares:      []billing.MiddlewareFunc{authService.Middleware},
		ErrorHandlerFunc: billing.ErrorHandlerFunc,
	})

	router.Handle("/api/billing", authHandlers)
	router.Handle("/api/billing", billingHandlers)

	// Build HTTP server.
	hs := &http.Server{
		Addr:              cfg.HTTPServer.Address,
		ReadHeaderTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:       cfg.HTTPServer.IdleTimeout,
		Handler:           router,
	}

	// Graceful shutdown.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT,
			syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)

		signal := <-sig

		logger.With(serverCtx, "signal", signal.String()).
			Infof("Shutting down server with %s timeout",
				cfg.HTTPServer.ShutdownTimeout)

		if err = hs.Shutdown(serverCtx); err != nil {
			logger.Errorf("graceful shutdown failed: %s", err)
		}
		serverStopCtx()
	}()

	// Start the HTTP server with graceful shutdown.
	logger.Infof("Server %v is running at %v", Version, cfg.HTTPServer.Address)
	if err = hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("run server failed: %w", err)
	}

	// Wait for server context to be stopped or force exit if timeout exceeded.
	select {
	case <-serverCtx.Done():
	case <-time.After(cfg.HTTPServer.ShutdownTimeout):
		return errors.New("graceful shutdown timed out.. forcing exit")
	}

	return nil
}

// refreshSession re-issues the service credential before it expires.
func refreshSession(ctx context.Context, sessions *session.Store,
	current *session.Session, cfg *config.Config, logger logger.Logger,
) {
	ticker := time.NewTicker(cfg.Session.Expiration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fresh, err := sessions.Issue(current.UserID())
			if err != nil {
				logger.Errorf("re-issue service session: %s", err)
				continue
			}
			token, err := fresh.Token()
			if err != nil {
				logger.Errorf("service session token: %s", err)
				continue
			}
			current.Refresh(token, time.Now().Add(cfg.Session.Expiration))
		}
	}
}

func initRootRouter(logger logger.Logger) *chi.Mux {
	router := chi.NewRouter()
	router.Use(accesslog.Handler(logger))
	router.Use(middleware.Recoverer)
	router.Use(gzip.DefaultHandler().WrapHandler)

	return router
}
