package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"dorian/internal/activity"
	"dorian/internal/cache"
	"dorian/internal/config"
	"dorian/internal/generator"
	"dorian/internal/logger"
	"dorian/internal/observability"
	"dorian/internal/runner"
	"dorian/internal/storage"
)

// app is everything a command needs after configuration is loaded.
type app struct {
	cfg     *config.Config
	storage *storage.Storage
	cache   cache.Cache
	redis   *redis.Client
	runner  *runner.Runner
}

// bootstrap loads configuration, initializes logging and storage, and builds
// the runner. withGenerator=false skips the image backend so read-only commands
// work without a generator key.
func bootstrap(ctx context.Context, configPath string, withGenerator bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.InitLogger(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := cfg.Storage.EnsureDBPath(); err != nil {
		return nil, fmt.Errorf("failed to create db path: %w", err)
	}

	st, err := storage.Open(cfg.Storage.DBPath, cfg.Storage.ImagesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a := &app{cfg: cfg, storage: st}

	if cfg.Cache.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			logger.GetLogger().Warnf("Redis unavailable at %s, falling back to in-memory cache: %v", cfg.Cache.RedisAddr, err)
			a.cache = cache.NewMemory()
		} else {
			a.cache = rc
			a.redis = rc.Client()
		}
	} else {
		a.cache = cache.NewMemory()
	}

	keys := make(map[string]string, len(cfg.People))
	people := make([]runner.Person, 0, len(cfg.People))
	for _, p := range cfg.People {
		keys[p.Key] = p.APIKey
		people = append(people, runner.Person{Key: p.Key, APIKey: p.APIKey, BaseImage: p.BaseImage})
	}

	client := activity.NewClient(activity.ClientConfig{
		BaseURL:  cfg.Activity.BaseURL,
		Timeout:  cfg.Activity.Timeout,
		Lookback: cfg.Activity.Lookback,
		Zone:     cfg.Location(),
	})
	gateway := activity.NewGateway(client, keys)
	gateway.OnFailure(observability.RecordActivityFetchFailure)

	var gen generator.Generator = unavailableGenerator{}
	if withGenerator {
		gen, err = generator.New(ctx, generator.Config{
			Provider: cfg.Generator.Provider,
			APIKey:   cfg.Generator.APIKey,
			BaseURL:  cfg.Generator.BaseURL,
			Model:    cfg.Generator.Model,
			Timeout:  cfg.Generator.Timeout,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create image generator: %w", err)
		}
	}

	a.runner, err = runner.New(runner.Options{
		Zone:             cfg.Location(),
		Policy:           cfg.ResetPolicy(),
		IncrementMinutes: cfg.Threshold.IncrementMinutes,
		PromptPool:       cfg.Prompt.Pool,
		AvoidLastN:       cfg.Prompt.AvoidLastN,
		FirstRunPrompt:   cfg.Prompt.FirstRun,
		StabilizeSuffix:  cfg.Prompt.StabilizeSuffix,
		TrackingStart:    cfg.TrackingStart(),
		Workers:          cfg.Schedule.Workers,
		GenerateTimeout:  cfg.Generator.Timeout,
		CacheTTL:         cfg.Cache.TTL,
	}, people, runner.Deps{
		Activity:  gateway,
		Generator: gen,
		Records:   st.Records,
		Images:    st.Images,
		Cache:     a.cache,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	return a, nil
}

func (a *app) Close() {
	if rc, ok := a.cache.(*cache.Redis); ok {
		if err := rc.Close(); err != nil {
			logger.GetLogger().Warnf("Failed to close redis: %v", err)
		}
	}
	if err := a.storage.Close(); err != nil {
		logger.GetLogger().Warnf("Failed to close storage: %v", err)
	}
}

// unavailableGenerator stands in for read-only commands.
type unavailableGenerator struct{}

func (unavailableGenerator) Name() string { return "none" }

func (unavailableGenerator) Generate(context.Context, generator.Request) (*generator.Result, error) {
	return nil, fmt.Errorf("image generator not initialized for this command")
}
