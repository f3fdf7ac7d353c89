package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/config"
	"github.com/upb/llm-gateway/repositories"
	"github.com/upb/llm-gateway/repositories/postgres"
	"github.com/upb/llm-gateway/services/cache"
	"github.com/upb/llm-gateway/services/cost"
	"github.com/upb/llm-gateway/services/experiment"
	"github.com/upb/llm-gateway/services/inference"
	"github.com/upb/llm-gateway/services/prompt"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/providers/anthropic"
	"github.com/upb/llm-gateway/services/providers/azure"
	"github.com/upb/llm-gateway/services/providers/openai"
	"github.com/upb/llm-gateway/services/routing"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	DB     *postgres.DB // nil when snapshot persistence is disabled

	// Persistence
	ExperimentStore repositories.ExperimentStore // nil when DB is nil

	// Services
	Registry     *providers.Registry
	Router       *routing.Service
	Experiments  *experiment.Service
	CostModel    *cost.Model
	CostAnalyzer *cost.Analyzer
	Cache        *cache.MemoryCache // nil when the cache is disabled
	Detector     *prompt.Detector
	Pipeline     *inference.Service

	cacheStop chan struct{}
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initProviders(); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initServices(ctx); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the optional snapshot store. The gateway runs fully
// in memory when no database is configured.
func (d *Dependencies) initDatabase(ctx context.Context) error {
	if d.Config.Database == nil {
		d.Logger.Info("no database configured, experiment snapshots are in-memory only")
		return nil
	}

	db, err := postgres.NewDB(*d.Config.Database, d.Logger)
	if err != nil {
		return err
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("schema init failed: %w", err)
	}

	d.DB = db
	d.ExperimentStore = postgres.NewExperimentRepository(db, d.Logger)
	d.Logger.Info("database connection established",
		zap.String("connection", d.Config.Database.LogString()))
	return nil
}

// initProviders builds the provider registry from configured adapters
func (d *Dependencies) initProviders() error {
	registry := providers.NewRegistry(d.Config.Gateway.DefaultProvider)

	if d.Config.Providers.OpenAI.APIKey != "" {
		adapter := openai.New(openai.Config{
			APIKey:  d.Config.Providers.OpenAI.APIKey,
			BaseURL: d.Config.Providers.OpenAI.BaseURL,
			Timeout: d.Config.Providers.OpenAI.Timeout,
			OrgID:   d.Config.Providers.OpenAI.OrgID,
		})
		if err := registry.Register(adapter); err != nil {
			return err
		}
		d.Logger.Info("registered OpenAI provider")
	}

	if d.Config.Providers.Anthropic.APIKey != "" {
		adapter := anthropic.New(anthropic.Config{
			APIKey:  d.Config.Providers.Anthropic.APIKey,
			BaseURL: d.Config.Providers.Anthropic.BaseURL,
			Timeout: d.Config.Providers.Anthropic.Timeout,
		})
		if err := registry.Register(adapter); err != nil {
			return err
		}
		d.Logger.Info("registered Anthropic provider")
	}

	if d.Config.Providers.Azure.APIKey != "" && d.Config.Providers.Azure.Endpoint != "" {
		adapter := azure.New(azure.Config{
			APIKey:     d.Config.Providers.Azure.APIKey,
			Endpoint:   d.Config.Providers.Azure.Endpoint,
			Deployment: d.Config.Providers.Azure.Deployment,
			APIVersion: d.Config.Providers.Azure.APIVersion,
			Timeout:    d.Config.Providers.Azure.Timeout,
		})
		if err := registry.Register(adapter); err != nil {
			return err
		}
		d.Logger.Info("registered Azure OpenAI provider")
	}

	if registry.Count() == 0 {
		d.Logger.Warn("no LLM providers configured, completion requests will fail")
	}

	d.Registry = registry
	return nil
}

// initServices wires the routing, experiment, cost, cache, PII, and
// pipeline services over the registry and the optional store
func (d *Dependencies) initServices(ctx context.Context) error {
	cfg := d.Config

	d.Router = routing.NewService(d.Registry, routing.Config{
		EnableFallback: cfg.Gateway.EnableFallback,
		MaxBackoff:     cfg.Gateway.MaxBackoff,
		CallTimeout:    cfg.Gateway.CallTimeout,
	}, d.Logger)

	d.Experiments = experiment.NewService(experiment.Config{
		Salt:               cfg.Experiments.Salt,
		MinSampleSize:      int64(cfg.Experiments.MinSampleSize),
		SignificanceLevel:  cfg.Experiments.SignificanceLevel,
		LatencyThresholdMs: cfg.Experiments.LatencyThresholdMs,
	}, d.Logger)

	if d.ExperimentStore != nil {
		if err := d.restoreExperiments(ctx); err != nil {
			return err
		}
	}

	table := cost.DefaultPriceTable()
	if cfg.Gateway.PriceTablePath != "" {
		loaded, err := cost.LoadPriceTable(cfg.Gateway.PriceTablePath)
		if err != nil {
			return fmt.Errorf("loading price table: %w", err)
		}
		table = loaded
		d.Logger.Info("loaded price table", zap.String("path", cfg.Gateway.PriceTablePath))
	}
	d.CostModel = cost.NewModel(table, cost.Rate{Prompt: 10.0, Completion: 30.0})
	d.CostAnalyzer = cost.NewAnalyzer(cost.DefaultAnalyzerConfig())

	var responseCache cache.ResponseCache
	if cfg.Cache.Enabled {
		d.Cache = cache.NewMemoryCache(cfg.Cache.MaxSize, cfg.Cache.TTL)
		d.cacheStop = make(chan struct{})
		go d.Cache.StartCleanupWorker(cfg.Cache.CleanupInterval, d.cacheStop)
		responseCache = d.Cache
	}

	if cfg.PII.Enabled {
		d.Detector = prompt.NewDetector(cfg.PII.RedactionChar)
	}

	d.Pipeline = inference.NewService(
		d.Router,
		d.Experiments,
		d.CostAnalyzer,
		d.CostModel,
		responseCache,
		d.Detector,
		inference.Config{
			PIIEnabled:   cfg.PII.Enabled,
			CacheEnabled: cfg.Cache.Enabled,
		},
		d.Logger,
	)

	return nil
}

// restoreExperiments loads persisted snapshots into the live engine
func (d *Dependencies) restoreExperiments(ctx context.Context) error {
	snapshots, err := d.ExperimentStore.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading experiment snapshots: %w", err)
	}
	for _, snap := range snapshots {
		d.Experiments.Restore(*snap)
	}
	if len(snapshots) > 0 {
		d.Logger.Info("restored experiments from store", zap.Int("count", len(snapshots)))
	}
	return nil
}

// Close releases background workers and the database connection
func (d *Dependencies) Close() {
	if d.cacheStop != nil {
		close(d.cacheStop)
		d.cacheStop = nil
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			d.Logger.Error("failed to close database", zap.Error(err))
		}
		d.DB = nil
	}
}
