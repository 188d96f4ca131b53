package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/user-service/internal/api/http"
	"github.com/spec-kit/user-service/internal/api/http/handlers"
	"github.com/spec-kit/user-service/internal/auth"
	"github.com/spec-kit/user-service/internal/config"
	"github.com/spec-kit/user-service/internal/events"
	"github.com/spec-kit/user-service/internal/keycloak"
	"github.com/spec-kit/user-service/internal/messaging"
	"github.com/spec-kit/user-service/internal/observability"
	"github.com/spec-kit/user-service/internal/persistence"
	"github.com/spec-kit/user-service/internal/repository"
	"github.com/spec-kit/user-service/internal/service"
	"github.com/spec-kit/user-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	bus := messaging.Connect(cfg.Broker, logger)
	defer bus.Close()

	userRepo := repository.NewUserRepository(pg.PoolHandle())
	idp := keycloak.NewClient(cfg.Keycloak, redis.Client, logger)

	userService := service.NewUserService(service.UserDependencies{
		UserRepo: userRepo,
		Identity: idp,
		Bus:      bus,
	}, logger)

	dispatcher := events.NewInMemoryDispatcher()
	projector := service.NewProjectionService(userRepo, dispatcher, logger)
	worker.StartProjectionWorker(ctx, bus, projector, cfg.Broker.ListenPatterns, logger)

	var verifier *auth.Verifier
	if cfg.Keycloak.JWKSURL != "" {
		verifier, err = auth.NewVerifier(cfg.Keycloak, logger)
		if err != nil {
			logger.Warn("bearer token validation disabled", zap.Error(err))
		} else {
			defer verifier.Close()
		}
	} else {
		logger.Warn("KEYCLOAK_JWKS_URL not set; bearer token validation disabled")
	}

	metrics := observability.NewMetrics()

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, bus)
	usersHandler := handlers.NewUsersHandler(userService)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Users:          usersHandler,
		AuthMiddleware: authMiddleware(verifier),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func authMiddleware(verifier *auth.Verifier) *auth.Middleware {
	if verifier == nil {
		return auth.NewMiddleware(nil)
	}
	return auth.NewMiddleware(verifier)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
