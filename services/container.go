package services

import (
	"time"

	"github.com/runawaydevil/ScoutBot/config"
	"github.com/runawaydevil/ScoutBot/repositories"
)

type Container struct {
	Monitor    ResourceMonitor
	Queue      UploadQueueService
	Cleanup    CleanupService
	Statistics StatisticsService
	Settings   UserSettingsService
}

func NewContainer(cfg *config.Config, repos repositories.Container, store RemoteStore) *Container {
	monitor := NewResourceMonitor(cfg.Resource, nil)
	stats := NewStatisticsService(cfg.Statistics, repos.Stats, repos.StatBuffer)

	queue := NewUploadQueueService(repos.Uploads, store, monitor, stats, QueueOptions{
		MaxRetries:    cfg.Pentaract.RetryAttempts,
		GCAfterUpload: cfg.Resource.GCAfterUpload,
	})

	cleanup := NewCleanupService(
		cfg.Storage,
		nil,
		repos.Uploads,
		monitor,
		time.Duration(cfg.Statistics.RetentionDays)*24*time.Hour,
	)

	return &Container{
		Monitor:    monitor,
		Queue:      queue,
		Cleanup:    cleanup,
		Statistics: stats,
		Settings:   NewUserSettingsService(repos.TxManager, repos.Settings),
	}
}

// StartAll starts the background services in dependency order.
func (c *Container) StartAll() {
	c.Monitor.Start()
	c.Statistics.Start()
	c.Queue.Start()
	c.Cleanup.Start()
}

// StopAll stops them in the reverse order.
func (c *Container) StopAll() {
	c.Cleanup.Stop()
	c.Queue.Stop()
	c.Statistics.Stop()
	c.Monitor.Stop()
}
