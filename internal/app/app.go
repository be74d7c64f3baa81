// Package app wires the services shared by the long-running bot and the
// one-shot sweep command.
package app

import (
	"context"
	"fmt"

	"github.com/partyhub/mention-lifecycle/internal/config"
	"github.com/partyhub/mention-lifecycle/internal/db"
	"github.com/partyhub/mention-lifecycle/internal/directory"
	"github.com/partyhub/mention-lifecycle/internal/hashtags"
	"github.com/partyhub/mention-lifecycle/internal/lifecycle"
	"github.com/partyhub/mention-lifecycle/internal/metrics"
	"github.com/partyhub/mention-lifecycle/internal/notifications"
	"github.com/partyhub/mention-lifecycle/internal/partyselection"
	"github.com/partyhub/mention-lifecycle/internal/platform"
	"github.com/partyhub/mention-lifecycle/internal/storage"
	"github.com/partyhub/mention-lifecycle/internal/webhook"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App holds the constructed services.
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Metrics   *metrics.Collector
	Directory *directory.GormDirectory
	Lifecycle *lifecycle.Service
	Party     *partyselection.Service
	Webhook   *webhook.Service
	Hashtags  *hashtags.Service
}

// New connects to the database, migrates it and builds every service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	conn, err := db.Connect(cfg.DBDriver, cfg.DBDSN, cfg.Debug)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(conn); err != nil {
		return nil, err
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	var archive storage.Archive = storage.NopArchive{}
	if cfg.StorageAccount != "" {
		azure, err := storage.NewAzureArchive(ctx, cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		archive = azure
	} else {
		logrus.Info("No storage account configured, raw payloads are not archived")
	}

	store := storage.NewGormStore(conn)
	dir := directory.NewGormDirectory(conn)
	client := platform.NewGraphClient(cfg.GraphAPIBaseURL, cfg.GraphAPITimeout)
	notifier := notifications.NewService(cfg, conn)

	party := partyselection.NewService(cfg, store, dir, dir, client, notifier, collector)

	return &App{
		Config:    cfg,
		DB:        conn,
		Metrics:   collector,
		Directory: dir,
		Lifecycle: lifecycle.NewService(cfg, store, dir, client, notifier, archive, collector),
		Party:     party,
		Webhook:   webhook.NewService(cfg, store, store, dir, client, notifier, party, archive, collector),
		Hashtags:  hashtags.NewService(cfg, store, dir, client, notifier, collector),
	}, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
