package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/runawaydevil/ScoutBot/config"
	"github.com/runawaydevil/ScoutBot/logger"
	"github.com/runawaydevil/ScoutBot/repositories"
)

type CleanupService interface {
	Start()
	Stop()
	CleanupOldDirs(maxAge time.Duration) int
	ForceCleanup() int
	TempDirSize() int64
}

type cleanupService struct {
	cfg      config.StorageConfig
	tempDirs []string
	uploads  repositories.UploadRepository
	monitor  ResourceMonitor

	recordRetention time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewCleanupService(
	cfg config.StorageConfig,
	tempDirs []string,
	uploads repositories.UploadRepository,
	monitor ResourceMonitor,
	recordRetention time.Duration,
) CleanupService {
	if len(tempDirs) == 0 {
		tempDirs = []string{os.TempDir(), filepath.Join(cfg.BasePath, "temp")}
	}
	return &cleanupService{
		cfg:             cfg,
		tempDirs:        tempDirs,
		uploads:         uploads,
		monitor:         monitor,
		recordRetention: recordRetention,
	}
}

func (s *cleanupService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logger.Warnf("cleanup service is already running")
		return
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.cleanupLoop(ctx)
	logger.Infof("cleanup service started (interval: %dm)", s.cfg.CleanupInterval)
}

func (s *cleanupService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	logger.Infof("cleanup service stopped")
}

func (s *cleanupService) cleanupLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(time.Duration(s.cfg.CleanupInterval) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

// runCleanup does one pass: age-based sweep, a forced sweep when the temp
// footprint exceeds the ceiling, and a purge of old terminal upload records.
// It yields to the throttle gate first so cleanup does not compete with
// active uploads under load.
func (s *cleanupService) runCleanup(ctx context.Context) {
	s.monitor.WaitIfThrottled(ctx, "cleanup")

	s.CleanupOldDirs(time.Duration(s.cfg.TempMaxAge) * time.Minute)

	if size := s.TempDirSize(); size > s.cfg.TempMaxTotalSize {
		logger.Warnf("temporary directory size (%.2f MB) exceeds limit, forcing cleanup", float64(size)/1024/1024)
		s.ForceCleanup()
	}

	if s.uploads != nil && s.recordRetention > 0 {
		cutoff := time.Now().Add(-s.recordRetention)
		removed, err := s.uploads.DeleteTerminalBefore(ctx, nil, cutoff)
		if err != nil {
			logger.Warnf("failed to purge old upload records: %v", err)
		} else if removed > 0 {
			logger.Infof("purged %d old upload records", removed)
		}
	}
}

// CleanupOldDirs removes matched temp entries older than maxAge and returns
// how many were removed.
func (s *cleanupService) CleanupOldDirs(maxAge time.Duration) int {
	cleaned := 0
	cutoff := time.Now().Add(-maxAge)

	s.walkMatches(func(path string, info os.FileInfo) {
		if info.ModTime().After(cutoff) {
			return
		}
		if err := os.RemoveAll(path); err != nil {
			logger.Warnf("failed to clean up %s: %v", path, err)
			return
		}
		cleaned++
		logger.Debugf("cleaned up old temp entry: %s", path)
	})

	if cleaned > 0 {
		logger.Infof("cleaned up %d temporary entries older than %s", cleaned, maxAge)
	}
	return cleaned
}

// ForceCleanup removes every matched temp entry regardless of age.
func (s *cleanupService) ForceCleanup() int {
	logger.Warnf("forcing cleanup of all temporary files")

	cleaned := 0
	s.walkMatches(func(path string, _ os.FileInfo) {
		if err := os.RemoveAll(path); err != nil {
			logger.Warnf("failed to clean up %s: %v", path, err)
			return
		}
		cleaned++
	})

	if cleaned > 0 {
		logger.Infof("cleaned up %d temporary entries", cleaned)
	}
	return cleaned
}

// TempDirSize totals the on-disk size of every matched temp entry.
func (s *cleanupService) TempDirSize() int64 {
	var total int64

	s.walkMatches(func(path string, info os.FileInfo) {
		if !info.IsDir() {
			total += info.Size()
			return
		}
		filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
			if err == nil && fi.Mode().IsRegular() {
				total += fi.Size()
			}
			return nil
		})
	})

	return total
}

func (s *cleanupService) walkMatches(fn func(path string, info os.FileInfo)) {
	for _, dir := range s.tempDirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		for _, pattern := range s.cfg.TempPatterns {
			matches, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil {
				logger.Warnf("error scanning %s: %v", dir, err)
				continue
			}
			for _, match := range matches {
				info, err := os.Stat(match)
				if err != nil {
					continue
				}
				fn(match, info)
			}
		}
	}
}
