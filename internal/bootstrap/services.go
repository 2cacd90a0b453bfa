package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nwatch/neighborwatch/config"
	"github.com/nwatch/neighborwatch/internal/adapters/identity"
	redisadapter "github.com/nwatch/neighborwatch/internal/adapters/redis"
	"github.com/nwatch/neighborwatch/internal/data"
	"github.com/nwatch/neighborwatch/internal/domain/navigation"
	"github.com/nwatch/neighborwatch/internal/observability/statsd"
	"github.com/nwatch/neighborwatch/internal/ports"
	"github.com/nwatch/neighborwatch/internal/service"
)

const subjectRefreshTimeout = 10 * time.Second

// ServiceContainer holds the wired services of one process.
type ServiceContainer struct {
	Hub   *identity.Hub
	Nav   *service.NavigationService
	Users *service.UserService
	Auth  *service.AuthService

	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// Sink returns the metrics sink, or nil when metrics are disabled.
//
//nolint:ireturn // callers take the Sink interface.
func (o ObservabilityContainer) Sink() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
}

// Close flushes and releases the metrics sink.
func (o ObservabilityContainer) Close() error {
	return o.MetricsSink.Close()
}

// ServicesConfig contains the dependencies needed to build services.
type ServicesConfig struct {
	Config   *config.AppConfig
	DB       *sql.DB
	Redis    redis.UniversalClient
	Provider ports.AuthProvider
	Logger   *slog.Logger
}

// LoadRoutes reads the route table from path, or returns the built-in table
// when path is empty.
func LoadRoutes(path string) (*navigation.Table, error) {
	if path == "" {
		return navigation.Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open routes file: %w", err)
	}
	defer f.Close()

	table, err := navigation.Load(f)
	if err != nil {
		return nil, fmt.Errorf("load routes file %s: %w", path, err)
	}
	return table, nil
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// BuildServices wires the identity hub, navigation gate and the user and
// auth services.
func BuildServices(cfg ServicesConfig) (*ServiceContainer, error) {
	if cfg.Config == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.DB == nil {
		return nil, errors.New("database is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gate := cfg.Config.Gate

	routes, err := LoadRoutes(gate.RoutesFile)
	if err != nil {
		return nil, err
	}

	sessions := redisadapter.NewSessionStore(cfg.Redis)
	hub := identity.NewHub(identity.HubOptions{
		Store:       sessions,
		Bus:         redisadapter.NewIdentityBus(cfg.Redis, logger),
		LoadTimeout: gate.FetchTimeout,
		Logger:      logger,
	})

	observability := buildObservability(logger, cfg.Config.Observability)

	repo := data.NewUserRepo(cfg.DB)
	nav := service.NewNavigationService(service.NavigationServiceOptions{
		Feeds:        hub,
		Records:      repo,
		Caches:       redisadapter.NewSessionCaches(cfg.Redis, gate.CacheTTL),
		Routes:       routes,
		ReadyTimeout: gate.ReadyTimeout,
		FetchTimeout: gate.FetchTimeout,
		MaxClients:   gate.ClientCacheSize,
		IdleTTL:      gate.ClientIdleTTL,
		Logger:       logger,
		Metrics:      observability.Sink(),
	})

	users := service.NewUserService(service.UserServiceOptions{
		Repo: repo,
		OnChange: func(uid string) {
			ctx, cancel := context.WithTimeout(context.Background(), subjectRefreshTimeout)
			defer cancel()
			nav.RefreshSubject(ctx, uid)
		},
		Logger: logger,
	})

	var auth *service.AuthService
	if cfg.Provider != nil {
		auth = service.NewAuthService(service.AuthServiceOptions{
			Provider:  cfg.Provider,
			Sessions:  sessions,
			Publisher: hub,
		})
	}

	logger.Info("services initialized",
		"routes", len(routes.Routes()),
		"routes_version", routes.Version(),
		"auth_enabled", auth != nil,
		"metrics_enabled", observability.MetricsSink.Enabled(),
	)

	return &ServiceContainer{
		Hub:           hub,
		Nav:           nav,
		Users:         users,
		Auth:          auth,
		Observability: observability,
	}, nil
}
