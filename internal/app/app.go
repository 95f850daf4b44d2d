// Package app wires configuration into the store, orchestrator and
// exporters shared by cmd/server and cmd/mailer.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/export"
	"github.com/ignite/campaign-mailer/internal/metrics"
	"github.com/ignite/campaign-mailer/internal/pkg/distlock"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/provider"
	"github.com/ignite/campaign-mailer/internal/render"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
	"github.com/ignite/campaign-mailer/internal/store"
	"github.com/ignite/campaign-mailer/internal/throttle"
)

// App holds the long-lived components built from a Config.
type App struct {
	Config   *config.Config
	Store    *store.SQLStore
	Redis    redis.UniversalClient // nil when not configured
	Metrics  *metrics.Registry     // nil when disabled
	Runner   *campaign.Runner
	Exporter *export.Exporter
}

// New validates cfg and opens every dependency. Extra runner options are
// applied after the configured ones.
func New(ctx context.Context, cfg *config.Config, opts ...campaign.Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Init(cfg.Logging)

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open outcome store: %w", err)
	}
	a := &App{Config: cfg, Store: st}

	if cfg.Redis.Enabled() {
		ropts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.Redis = redis.NewClient(ropts)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, shared throttle will fail open", "error", err)
		}
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.NewRegistry(cfg.Metrics)
	}

	a.Exporter = export.New(cfg.Export.Dir)
	if cfg.Export.S3Bucket != "" {
		client, err := export.NewS3Client(ctx, cfg.Export.S3Region, cfg.Export.GetAWSProfile())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Exporter.WithS3(client, cfg.Export.S3Bucket, cfg.Export.S3Prefix)
	}

	a.Runner = campaign.NewRunner(st, append(a.runnerOptions(), opts...)...)

	logger.Info("Campaign mailer initialized",
		"provider", string(cfg.Provider.Type),
		"store", string(cfg.Store.Driver),
		"redis", a.Redis != nil,
		"metrics", a.Metrics != nil,
		"concurrency", cfg.Campaign.Concurrency,
	)
	return a, nil
}

func (a *App) runnerOptions() []campaign.Option {
	c := a.Config.Campaign
	opts := []campaign.Option{
		campaign.WithConcurrency(c.Concurrency),
		campaign.WithRetryPolicy(c.RetryPolicy()),
		campaign.WithEmailColumn(c.EmailColumn),
		campaign.WithIDColumn(c.IDColumn),
		campaign.WithRenderOptions(render.Options{RequireNonEmpty: c.RequireNonEmpty}),
		campaign.WithLocker(distlock.NewLocker(a.Redis), c.LockTTL),
		campaign.WithMetrics(a.Metrics),
	}

	var throttles []throttle.Throttle
	if c.SendInterval > 0 {
		throttles = append(throttles, throttle.Every(c.SendInterval))
	}
	if a.Redis != nil {
		throttles = append(throttles, throttle.NewRedis(a.Redis, a.Config.Provider.Type, a.Config.Redis.Limits))
	}
	if len(throttles) > 0 {
		opts = append(opts, campaign.WithThrottle(throttle.Chain(throttles...)))
	}
	return opts
}

// ProviderConfig returns the configured sending provider.
func (a *App) ProviderConfig() domain.ProviderConfig {
	return a.Config.Provider.ProviderConfig
}

// Close releases the store and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

// VerifyProvider builds the provider for cfg and checks it without
// sending a message.
func VerifyProvider(ctx context.Context, cfg domain.ProviderConfig) error {
	p, err := provider.New(ctx, cfg)
	if err != nil {
		return err
	}
	return provider.Verify(ctx, p)
}
