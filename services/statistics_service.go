package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/runawaydevil/ScoutBot/config"
	"github.com/runawaydevil/ScoutBot/logger"
	"github.com/runawaydevil/ScoutBot/models"
	"github.com/runawaydevil/ScoutBot/repositories"

	"github.com/google/uuid"
)

type RecordUploadInput struct {
	ChatID       string
	Kind         string
	Status       string
	FileSize     int64
	DurationMs   int64
	ErrorMessage string
}

type StatsSummaryOutput struct {
	Days     int                        `json:"days"`
	Kinds    []repositories.KindSummary `json:"kinds"`
	Counters map[string]int64           `json:"counters"`
}

type StatisticsService interface {
	Start()
	Stop()
	RecordUpload(ctx context.Context, in RecordUploadInput)
	Flush(ctx context.Context) (int, error)
	Summary(ctx context.Context, days int) (StatsSummaryOutput, error)
}

type statisticsService struct {
	cfg    config.StatisticsConfig
	stats  repositories.StatRepository
	buffer repositories.StatBufferRepository

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewStatisticsService(
	cfg config.StatisticsConfig,
	stats repositories.StatRepository,
	buffer repositories.StatBufferRepository,
) StatisticsService {
	return &statisticsService{cfg: cfg, stats: stats, buffer: buffer}
}

func (s *statisticsService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logger.Warnf("statistics service is already running")
		return
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.flushLoop(ctx)
	logger.Infof("statistics service started (flush interval: %ds)", s.cfg.FlushInterval)
}

func (s *statisticsService) Stop() {
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

	// Final flush so a clean shutdown loses nothing.
	if _, err := s.Flush(context.Background()); err != nil {
		logger.Warnf("final statistics flush failed: %v", err)
	}
	logger.Infof("statistics service stopped")
}

func (s *statisticsService) flushLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(time.Duration(s.cfg.FlushInterval) * time.Second)
	defer ticker.Stop()

	pruneTicker := time.NewTicker(24 * time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Flush(ctx); err != nil {
				logger.Errorf("statistics flush failed: %v", err)
			}
		case <-pruneTicker.C:
			s.pruneOld(ctx)
		}
	}
}

// pruneOld drops rows past the retention window.
func (s *statisticsService) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	removed, err := s.stats.DeleteBefore(ctx, nil, cutoff)
	if err != nil {
		logger.Warnf("failed to prune old statistics: %v", err)
		return
	}
	if removed > 0 {
		logger.Infof("pruned %d statistics rows older than %d days", removed, s.cfg.RetentionDays)
	}
}

// RecordUpload buffers one activity row in Redis. Buffering never fails the
// caller; a lost sample is preferable to a failed upload path.
func (s *statisticsService) RecordUpload(ctx context.Context, in RecordUploadInput) {
	row := models.UploadStat{
		ID:           uuid.NewString(),
		ChatID:       in.ChatID,
		Kind:         in.Kind,
		Status:       in.Status,
		FileSize:     in.FileSize,
		DurationMs:   in.DurationMs,
		ErrorMessage: in.ErrorMessage,
		Date:         time.Now().UTC(),
	}

	data, err := json.Marshal(row)
	if err != nil {
		logger.Errorf("failed to encode statistic: %v", err)
		return
	}

	if err := s.buffer.Append(ctx, data); err != nil {
		logger.Warnf("failed to buffer statistic: %v", err)
		return
	}
	if err := s.buffer.IncrCounter(ctx, fmt.Sprintf("%s:%s", in.Kind, in.Status)); err != nil {
		logger.Debugf("failed to bump statistics counter: %v", err)
	}
}

// Flush drains the Redis buffer into the database and returns how many rows
// were written.
func (s *statisticsService) Flush(ctx context.Context) (int, error) {
	rows, err := s.buffer.Drain(ctx)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	stats := make([]models.UploadStat, 0, len(rows))
	for _, raw := range rows {
		var stat models.UploadStat
		if err := json.Unmarshal(raw, &stat); err != nil {
			logger.Warnf("dropping undecodable buffered statistic: %v", err)
			continue
		}
		stats = append(stats, stat)
	}

	if err := s.stats.CreateBatch(ctx, nil, stats); err != nil {
		// Put the rows back so a transient database failure does not lose
		// them; they will ride along with the next flush.
		for _, raw := range rows {
			if appendErr := s.buffer.Append(ctx, raw); appendErr != nil {
				logger.Warnf("failed to restore buffered statistic after flush error: %v", appendErr)
			}
		}
		return 0, err
	}

	logger.Debugf("flushed %d statistics rows", len(stats))
	return len(stats), nil
}

func (s *statisticsService) Summary(ctx context.Context, days int) (StatsSummaryOutput, error) {
	if days <= 0 {
		days = s.cfg.RetentionDays
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	kinds, err := s.stats.SummarySince(ctx, nil, since)
	if err != nil {
		return StatsSummaryOutput{}, newAppError(500, "failed to query statistics", err)
	}

	counters, err := s.buffer.Counters(ctx)
	if err != nil {
		logger.Warnf("failed to read statistics counters: %v", err)
		counters = map[string]int64{}
	}

	return StatsSummaryOutput{Days: days, Kinds: kinds, Counters: counters}, nil
}
