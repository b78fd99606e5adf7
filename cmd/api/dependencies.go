package api

import (
	"fmt"
	"log/slog"

	importhandler "github.com/FACorreiaa/expense-tracker/internal/domain/import/handler"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/normalizer"
	importrepo "github.com/FACorreiaa/expense-tracker/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/expense-tracker/internal/domain/import/service"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/upload"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/validator"
	"github.com/FACorreiaa/expense-tracker/internal/domain/portfolio"
	portfoliohandler "github.com/FACorreiaa/expense-tracker/internal/domain/portfolio/handler"
	portfoliorepo "github.com/FACorreiaa/expense-tracker/internal/domain/portfolio/repository"
	portfolioservice "github.com/FACorreiaa/expense-tracker/internal/domain/portfolio/service"

	"github.com/FACorreiaa/expense-tracker/pkg/cache"
	"github.com/FACorreiaa/expense-tracker/pkg/config"
	"github.com/FACorreiaa/expense-tracker/pkg/db"
	"github.com/FACorreiaa/expense-tracker/pkg/interceptors"
	"github.com/FACorreiaa/expense-tracker/pkg/metrics"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config  *config.Config
	DB      *db.DB
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Repositories
	ImportRepo    importrepo.ImportRepository
	PortfolioRepo portfoliorepo.Repository

	// Services
	Invalidator      cache.Invalidator
	ImportService    *importservice.ImportService
	PortfolioService *portfolioservice.PortfolioService
	TokenValidator   *interceptors.TokenValidator
	RateLimiter      *interceptors.RateLimiter

	// Handlers
	ImportHandler    *importhandler.ImportHandler
	PortfolioHandler *portfoliohandler.PortfolioHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := deps.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	if err := deps.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	dbCfg := d.Config.Database
	database, err := db.New(db.Config{
		DSN:             dbCfg.DSN(),
		MaxConns:        int32(dbCfg.MaxConns),
		MinConns:        int32(dbCfg.MinConns),
		MaxConnLifetime: dbCfg.MaxConnLifetime,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if dbCfg.RunMigrations {
		if err := d.DB.RunMigrations(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	d.Logger.Info("database connected", slog.Bool("migrations", dbCfg.RunMigrations))
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	d.ImportRepo = importrepo.NewPostgresImportRepository(d.DB.Pool)
	d.PortfolioRepo = portfoliorepo.NewPostgresRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	importCfg := d.Config.Import
	limits := upload.Limits{MaxFileBytes: importCfg.MaxFileBytes}

	if d.Config.Observability.MetricsEnabled {
		d.Metrics = metrics.New()
	}
	d.Invalidator = cache.NewLogInvalidator(d.Logger)

	// Keyword table and currency are configuration, not package state.
	v := validator.New(validator.Config{
		Currency:    importCfg.DefaultCurrency,
		Categorizer: normalizer.NewCategorizer(normalizer.DefaultKeywordRules()),
	})

	d.ImportService = importservice.NewImportService(d.ImportRepo, v, d.Logger).
		WithLimits(limits).
		WithMaxFiles(importCfg.MaxFilesPerRequest).
		WithExistenceBatchSize(importCfg.ExistenceBatchSize).
		WithInvalidator(d.Invalidator).
		WithMetrics(d.Metrics)

	d.PortfolioService = portfolioservice.NewPortfolioService(
		d.PortfolioRepo,
		portfolio.NewHoldingValidator(importCfg.DefaultCurrency),
		d.Logger,
	).
		WithLimits(limits).
		WithInvalidator(d.Invalidator).
		WithMetrics(d.Metrics)

	if d.Config.Auth.Enabled {
		d.TokenValidator = interceptors.NewTokenValidator(d.Config.Auth.JWTSecret)
	}

	srv := d.Config.Server
	d.RateLimiter = interceptors.NewRateLimiter(float64(srv.RateLimitPerSecond), srv.RateLimitBurst).
		WithMetrics(d.Metrics)

	d.Logger.Info("services initialized",
		slog.Bool("auth", d.TokenValidator != nil),
		slog.Bool("metrics", d.Metrics != nil),
	)
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	limits := upload.Limits{MaxFileBytes: d.Config.Import.MaxFileBytes}

	d.ImportHandler = importhandler.NewImportHandler(d.ImportService, limits, d.Config.Import.MaxFilesPerRequest, d.Logger)
	d.PortfolioHandler = portfoliohandler.NewPortfolioHandler(d.PortfolioService, limits, d.Logger)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
