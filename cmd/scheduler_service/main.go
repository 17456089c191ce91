package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/postflow/golang_services/internal/platform/config"
	"github.com/postflow/golang_services/internal/platform/database"
	"github.com/postflow/golang_services/internal/platform/logger"
	"github.com/postflow/golang_services/internal/platform/messagebroker"

	"github.com/postflow/golang_services/internal/scheduler_service/adapters/broker"
	"github.com/postflow/golang_services/internal/scheduler_service/adapters/events"
	grpcadapter "github.com/postflow/golang_services/internal/scheduler_service/adapters/grpc"
	httpadapter "github.com/postflow/golang_services/internal/scheduler_service/adapters/http"
	"github.com/postflow/golang_services/internal/scheduler_service/adapters/platform"
	"github.com/postflow/golang_services/internal/scheduler_service/adapters/signature"
	"github.com/postflow/golang_services/internal/scheduler_service/app"
	"github.com/postflow/golang_services/internal/scheduler_service/domain"
	"github.com/postflow/golang_services/internal/scheduler_service/repository/memory"
	"github.com/postflow/golang_services/internal/scheduler_service/repository/postgres"
)

const (
	serviceName     = "scheduler-service"
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel).With("service", serviceName)
	log.Info("Starting service...")

	startupCtx, startupCancel := context.WithTimeout(mainCtx, startupTimeout)
	defer startupCancel()

	var (
		repo   domain.ScheduledJobRepository
		creds  app.CredentialStore
		health httpadapter.HealthChecker
	)
	switch strings.ToLower(cfg.StoreDriver) {
	case "memory":
		log.Warn("Using in-memory job store; jobs are lost on restart")
		repo = memory.NewRepository(log)
		creds = platform.NewStaticCredentialStore()
	default:
		dbPool, err := database.NewDBPool(startupCtx, database.PoolConfig{
			DSN:             cfg.PostgresDSN,
			MaxConns:        cfg.PostgresMaxConns,
			MinConns:        cfg.PostgresMinConns,
			MaxConnLifetime: cfg.PostgresMaxConnLifetime,
			MaxConnIdleTime: cfg.PostgresMaxConnIdleTime,
		}, log)
		if err != nil {
			log.Error("Failed to initialize database connection pool", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		pgRepo := postgres.NewPgScheduledJobRepository(dbPool, log)
		if err := pgRepo.EnsureSchema(startupCtx); err != nil {
			log.Error("Failed to prepare scheduled job schema", "error", err)
			os.Exit(1)
		}
		pgCreds := postgres.NewPgCredentialStore(dbPool, log)
		if err := pgCreds.EnsureSchema(startupCtx); err != nil {
			log.Error("Failed to prepare credential schema", "error", err)
			os.Exit(1)
		}
		repo, creds = pgRepo, pgCreds
		health = dbPool.Ping
	}

	var jobEvents app.EventPublisher = events.NoopPublisher{}
	if cfg.NATSEnabled {
		natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, log)
		if err != nil {
			// Events are informational; scheduling and execution work without them.
			log.Warn("Failed to connect to NATS, job events disabled", "error", err)
		} else {
			defer natsClient.Close()
			jobEvents = events.NewNatsPublisher(natsClient, log)
			log.Info("NATS connection initialized")
		}
	}

	callbackURL := strings.TrimRight(cfg.PublicBaseURL, "/") + httpadapter.CallbackPath
	verifier, err := signature.NewVerifier(signature.Config{
		CurrentKey: cfg.SigningCurrentKey,
		NextKey:    cfg.SigningNextKey,
		Issuer:     cfg.SigningIssuer,
		Subject:    callbackURL,
	}, log)
	if err != nil {
		log.Error("Failed to initialize signature verifier", "error", err)
		os.Exit(1)
	}

	brokerClient := broker.NewClient(broker.Config{
		BaseURL:    cfg.BrokerURL,
		Token:      cfg.BrokerToken,
		MaxRetries: cfg.BrokerMaxRetries,
	}, nil, log)

	registry := platform.NewRegistry(log)
	relays := map[domain.Platform]string{
		domain.PlatformTwitter:   cfg.TwitterRelayURL,
		domain.PlatformLinkedIn:  cfg.LinkedInRelayURL,
		domain.PlatformInstagram: cfg.InstagramRelayURL,
	}
	for p, relayURL := range relays {
		if relayURL == "" {
			log.Warn("No relay configured for platform; its jobs will fail", "platform", p)
			continue
		}
		registry.Register(p, platform.NewHTTPPoster(string(p), relayURL, cfg.PlatformMaxRetries, nil, log))
	}

	scheduler := app.NewScheduler(repo, brokerClient, jobEvents, app.SchedulerConfig{
		CallbackURL: callbackURL,
	}, log)
	executor := app.NewExecutor(repo, verifier, creds, registry, jobEvents, app.ExecutorConfig{
		DeliveryTimeout: cfg.DeliveryTimeout,
		ExecutionLease:  cfg.ExecutionLease,
	}, log)

	router := httpadapter.NewRouter(httpadapter.RouterConfig{
		Posts:     httpadapter.NewPostHandler(scheduler, log, validator.New()),
		Callbacks: httpadapter.NewCallbackHandler(executor, log),
		JWTSecret: cfg.JWTAccessSecret,
		Health:    health,
		Logger:    log,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer, healthReporter := grpcadapter.NewServer(grpcadapter.Pinger(health), 15*time.Second, log)

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		log.Info("Starting HTTP server...", "address", httpServer.Addr, "callback_url", callbackURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", "error", err)
			return err
		}
		log.Info("HTTP server stopped gracefully.")
		return nil
	})

	g.Go(func() error {
		grpcListenAddress := fmt.Sprintf(":%d", cfg.GRPCPort)
		log.Info("Starting gRPC health server...", "address", grpcListenAddress)
		lis, err := net.Listen("tcp", grpcListenAddress)
		if err != nil {
			log.Error("Failed to listen for gRPC", "error", err)
			return err
		}
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("gRPC server failed", "error", err)
			return err
		}
		log.Info("gRPC server stopped gracefully.")
		return nil
	})

	g.Go(func() error {
		return healthReporter.Run(groupCtx)
	})

	g.Go(func() error {
		<-groupCtx.Done()
		log.Info("Initiating server graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown failed", "error", err)
		}
		grpcServer.GracefulStop()
		log.Info("Servers have been shut down.")
		return nil
	})

	log.Info("Service components initialized. Service is ready.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var groupErr error
	select {
	case sig := <-sigCh:
		log.Info("Received termination signal", "signal", sig)
	case groupErr = <-watchGroup(g):
		if groupErr != nil {
			log.Error("A critical component failed, initiating shutdown", "error", groupErr)
		}
	}

	log.Info("Attempting graceful shutdown...")
	mainCancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Error during graceful shutdown of components", "error", err)
	}

	log.Info("Service shutdown complete.")
}

// watchGroup returns a channel that receives the result of g.Wait.
func watchGroup(g *errgroup.Group) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Wait()
		close(errCh)
	}()
	return errCh
}
