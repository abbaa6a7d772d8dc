package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/parishledger/be-money-requests/internal/client"
	"github.com/parishledger/be-money-requests/internal/config"
	"github.com/parishledger/be-money-requests/internal/database"
	"github.com/parishledger/be-money-requests/internal/handler"
	"github.com/parishledger/be-money-requests/internal/middleware"
	"github.com/parishledger/be-money-requests/internal/repository"
	"github.com/parishledger/be-money-requests/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.Service.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Logger()

	log.Info().
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting money requests service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		DSN:      cfg.Database.DSN(),
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// NATS is optional: without a URL, notifications are disabled.
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL, nats.Name(cfg.Service.Name))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	}

	requestRepo := repository.NewRequestRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	chainRepo := repository.NewChainRepository(db)
	fundRepo := repository.NewFundRepository(db)
	historyRepo := repository.NewHistoryRepository(db)

	directoryClient := client.NewDirectoryClient(cfg.Workflow.DirectoryURL)
	notifier := client.NewNotificationPublisher(nc, log)

	workflowService := service.NewWorkflowService(
		db,
		templateRepo,
		requestRepo,
		chainRepo,
		fundRepo,
		historyRepo,
		directoryClient,
		notifier,
		cfg.Workflow.OverrideRoles,
		log,
	)
	requestService := service.NewRequestService(
		requestRepo,
		historyRepo,
		directoryClient,
		cfg.Workflow.OverrideRoles,
		log,
	)

	httpHandler := handler.NewHTTPHandler(requestService, workflowService, templateRepo, log)
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/api/v1/requests", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListRequests(w, r)
		case http.MethodPost:
			httpHandler.CreateRequest(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/requests/get", httpHandler.GetRequest)
	mux.HandleFunc("/api/v1/requests/submit", httpHandler.SubmitRequest)
	mux.HandleFunc("/api/v1/requests/decide", httpHandler.DecideStep)
	mux.HandleFunc("/api/v1/requests/steps", httpHandler.ListSteps)
	mux.HandleFunc("/api/v1/requests/current-step", httpHandler.CurrentStep)
	mux.HandleFunc("/api/v1/requests/can-decide", httpHandler.CanDecide)
	mux.HandleFunc("/api/v1/requests/pending-approvals", httpHandler.PendingApprovals)
	mux.HandleFunc("/api/v1/requests/mark-paid", httpHandler.MarkPaid)
	mux.HandleFunc("/api/v1/requests/delete", httpHandler.DeleteRequest)
	mux.HandleFunc("/api/v1/requests/history", httpHandler.RequestHistory)

	mux.HandleFunc("/api/v1/templates", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListTemplates(w, r)
		case http.MethodPost:
			httpHandler.CreateTemplate(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/templates/get", httpHandler.GetTemplate)
	mux.HandleFunc("/api/v1/templates/update", httpHandler.UpdateTemplate)
	mux.HandleFunc("/api/v1/templates/delete", httpHandler.DeleteTemplate)

	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(log)(h)
	h = middleware.Recovery(log)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.WriteTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
