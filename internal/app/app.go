// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/AccelByte/extend-progression-engine/internal/config"
	"github.com/AccelByte/extend-progression-engine/internal/server"
	"github.com/AccelByte/extend-progression-engine/pkg/combo"
	"github.com/AccelByte/extend-progression-engine/pkg/content"
	"github.com/AccelByte/extend-progression-engine/pkg/progression"
	"github.com/AccelByte/extend-progression-engine/pkg/remotesync"
	"github.com/AccelByte/extend-progression-engine/pkg/season"
	"github.com/AccelByte/extend-progression-engine/pkg/store"
	"github.com/AccelByte/extend-progression-engine/pkg/streak"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// App holds all application dependencies and manages the application
// lifecycle: the local store, the remote authority connection, the
// shared content tables, and the per-identity coordinators built on
// top of them.
//
// Components are initialized in dependency order:
// 1. Content tables (YAML configuration)
// 2. Local store (BadgerDB)
// 3. Remote authority (Redis) and the async pusher
// 4. Cross-instance notifier
// 5. Metrics server
// 6. Telemetry (OpenTelemetry tracing)
type App struct {
	cfg               *config.Config
	contentCfg        *content.Config
	table             *progression.ThresholdTable
	resolver          *progression.RewardResolver
	bonus             *progression.BonusRoller
	localStore        store.Store
	redisClient       *redis.Client
	remote            *remotesync.RedisClient
	pusher            *remotesync.Pusher
	notifier          *progression.Notifier
	metricsServer     *server.MetricsServer
	shutdownTelemetry func(context.Context) error
}

// New creates and initializes a new application instance.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logrus.Info("initializing application...")

	app := &App{cfg: cfg}

	// Step 1: Load content tables
	contentCfg, err := content.LoadConfig(cfg.ContentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load content config from %s: %w", cfg.ContentPath, err)
	}
	app.contentCfg = contentCfg
	app.table = progression.NewThresholdTable(contentCfg)
	app.resolver = progression.NewRewardResolver(contentCfg, app.table)
	app.bonus = progression.NewBonusRoller(contentCfg.Bonus)
	logrus.Infof("loaded content configuration from %s (max level %d)", cfg.ContentPath, app.table.MaxLevel())

	// Step 2: Open the local store
	localStore, err := store.OpenBadger(store.DefaultBadgerConfig(filepath.Join(cfg.DataDir, "progression")))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	app.localStore = localStore

	// Step 3: Connect to the remote authority. Sync is best-effort;
	// a missing authority degrades to local-only operation instead of
	// failing startup.
	if cfg.RemoteSyncEnabled {
		redisClient, err := remotesync.InitRedisClient(ctx, remotesync.RedisConfig{
			Host:         cfg.RedisHost,
			Port:         cfg.RedisPort,
			Password:     cfg.RedisPassword,
			MaxRetries:   cfg.RedisMaxRetries,
			RetryDelayMs: cfg.RedisRetryDelayMs,
		})
		if err != nil {
			logrus.Warnf("remote authority unavailable, running local-only: %v", err)
		} else {
			app.redisClient = redisClient
			app.remote = remotesync.NewRedisClient(redisClient, app.resolver, 0)
			app.pusher = remotesync.NewPusher(app.remote, remotesync.PusherConfig{})
			app.pusher.Start()
		}
	}

	// Step 4: Cross-instance notifier
	notifier, err := progression.NewNotifier(filepath.Join(cfg.DataDir, "broadcast.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to init notifier: %w", err)
	}
	app.notifier = notifier

	// Step 5: Metrics server
	app.metricsServer = server.NewMetricsServer(cfg.MetricsPort, "/metrics")
	if err := app.metricsServer.Setup(); err != nil {
		return nil, fmt.Errorf("failed to setup metrics server: %w", err)
	}

	// Step 6: Telemetry
	if cfg.OtelEnabled {
		shutdown, err := server.SetupTelemetry(ctx, cfg.ServiceName, cfg.Environment, cfg.OtelServiceID, cfg.ZipkinURL)
		if err != nil {
			return nil, fmt.Errorf("failed to setup telemetry: %w", err)
		}
		app.shutdownTelemetry = shutdown
	}

	logrus.Info("application initialized")
	return app, nil
}

// Coordinator builds the reconciliation coordinator for an identity.
// authoritative marks identities backed by an authenticated account;
// guests stay local-only even when the remote authority is connected.
func (a *App) Coordinator(identityID string, authoritative bool) (*progression.Coordinator, error) {
	deps := progression.CoordinatorDeps{
		Store:    a.localStore,
		Resolver: a.resolver,
		Bonus:    a.bonus,
		Notifier: a.notifier,
	}
	if authoritative && a.remote != nil {
		deps.Remote = a.remote
		deps.Pusher = a.pusher
	}

	return progression.NewCoordinator(progression.CoordinatorConfig{
		IdentityID:    identityID,
		Authoritative: authoritative && a.remote != nil,
		RemoteTimeout: a.cfg.RemoteTimeout,
		Session:       a.contentCfg.Session,
	}, deps)
}

// BattlePass builds the battle pass manager for an identity using the
// active season.
func (a *App) BattlePass(identityID string) (*season.Manager, error) {
	seasonCfg, err := a.activeSeason()
	if err != nil {
		return nil, err
	}
	return season.NewManager(identityID, a.localStore, *seasonCfg)
}

// Streak builds the streak manager for an identity.
func (a *App) Streak(identityID string) (*streak.Manager, error) {
	return streak.NewManager(identityID, a.localStore, a.contentCfg.Streak)
}

// Combo builds the combo manager for an identity.
func (a *App) Combo(identityID string) (*combo.Manager, error) {
	return combo.NewManager(identityID, a.localStore, a.contentCfg.Combo)
}

func (a *App) activeSeason() (*content.SeasonConfig, error) {
	if len(a.contentCfg.Seasons) == 0 {
		return nil, fmt.Errorf("no seasons configured")
	}
	if a.cfg.ActiveSeason == "" {
		return &a.contentCfg.Seasons[0], nil
	}
	seasonCfg := a.contentCfg.Season(a.cfg.ActiveSeason)
	if seasonCfg == nil {
		return nil, fmt.Errorf("active season %s not found in content config", a.cfg.ActiveSeason)
	}
	return seasonCfg, nil
}
