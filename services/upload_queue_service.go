package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/runawaydevil/ScoutBot/logger"
	"github.com/runawaydevil/ScoutBot/models"
	"github.com/runawaydevil/ScoutBot/repositories"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const codeProbeAttempts = 10

type QueueOptions struct {
	MaxRetries    int
	QueueCapacity int
	BackoffBase   time.Duration // retry wait is BackoffBase << attempt
	TrackGrace    time.Duration // delay before a terminal task leaves the tracking map
	GCAfterUpload bool
}

func (o *QueueOptions) applyDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 1024
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.TrackGrace <= 0 {
		o.TrackGrace = 5 * time.Second
	}
}

type QueueStatusOutput struct {
	QueueSize      int  `json:"queue_size"`
	CurrentUploads int  `json:"current_uploads"`
	Running        bool `json:"running"`
}

type UploadQueueService interface {
	Start()
	Stop()
	Enqueue(ctx context.Context, localPath string, userID string, folder string) (taskID string, fileCode string, err error)
	QueueStatus() QueueStatusOutput
	Cancel(ctx context.Context, taskID string) bool
	Retry(ctx context.Context, taskID string) bool
	GetUpload(ctx context.Context, taskID string) (models.Upload, error)
	GetUploadByCode(ctx context.Context, code string) (models.Upload, error)
	ListUploads(ctx context.Context, userID string, limit int) ([]models.Upload, error)
}

// uploadTask is the transient, in-memory side of one transfer. Its durable
// shadow is the models.Upload row created at enqueue time.
type uploadTask struct {
	id               string
	fileCode         string
	localPath        string
	remotePath       string
	originalFilename string
	userID           string
	folder           string
	size             int64
	retryCount       int
}

type trackedUpload struct {
	task   *uploadTask
	status string
	errMsg string
}

type uploadQueueService struct {
	uploads repositories.UploadRepository
	store   RemoteStore
	monitor ResourceMonitor
	stats   StatisticsService
	opts    QueueOptions

	queue chan *uploadTask

	mu      sync.Mutex
	tracked map[string]*trackedUpload
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewUploadQueueService(
	uploads repositories.UploadRepository,
	store RemoteStore,
	monitor ResourceMonitor,
	stats StatisticsService,
	opts QueueOptions,
) UploadQueueService {
	opts.applyDefaults()
	return &uploadQueueService{
		uploads: uploads,
		store:   store,
		monitor: monitor,
		stats:   stats,
		opts:    opts,
		queue:   make(chan *uploadTask, opts.QueueCapacity),
		tracked: make(map[string]*trackedUpload),
	}
}

func (s *uploadQueueService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logger.Warnf("upload queue service is already running")
		return
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.workerLoop(ctx)
	logger.Infof("upload queue service started (max retries: %d)", s.opts.MaxRetries)
}

// Stop cancels the worker. A transfer in flight at that moment is abandoned;
// a later retry starts it from scratch.
func (s *uploadQueueService) Stop() {
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
	logger.Infof("upload queue service stopped")
}

// Enqueue validates the file, persists a provisional pending record and
// queues the transfer. It returns immediately; outcomes are observable
// through the persisted record.
func (s *uploadQueueService) Enqueue(ctx context.Context, localPath string, userID string, folder string) (string, string, error) {
	filename := filepath.Base(localPath)

	safe, reason := ValidateFileSafety(filename)
	if !safe {
		logger.Warnf("file rejected for security reasons: %s - %s", filename, reason)
		return "", "", newAppError(http.StatusBadRequest, reason, nil)
	}

	info, err := GetFileInfo(localPath)
	if err != nil {
		return "", "", newAppError(http.StatusBadRequest, "file not found", err)
	}

	if folder == "" {
		folder = "storage"
	}

	code := s.generateUniqueCode(ctx)
	taskID := uuid.NewString()
	ext := filepath.Ext(filename)
	remotePath := fmt.Sprintf("%s/%s%s", folder, code, ext)

	record := models.Upload{
		ID:               taskID,
		UserID:           userID,
		FileCode:         code,
		OriginalFilename: filename,
		LocalPath:        localPath,
		RemotePath:       remotePath,
		Size:             info.Size,
		MimeType:         info.MimeType,
		Status:           models.UploadStatusPending,
	}

	if err := s.uploads.Create(ctx, nil, &record); err != nil {
		// The unique index is the real authority on code uniqueness; the
		// probe only keeps codes short. Regenerate once on a collision.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			code = s.generateUniqueCode(ctx)
			record.FileCode = code
			record.RemotePath = fmt.Sprintf("%s/%s%s", folder, code, ext)
			err = s.uploads.Create(ctx, nil, &record)
		}
		if err != nil {
			logger.Errorf("failed to create upload record: %v", err)
			return "", "", newAppError(http.StatusInternalServerError, "failed to create upload record", err)
		}
	}

	task := &uploadTask{
		id:               taskID,
		fileCode:         code,
		localPath:        localPath,
		remotePath:       record.RemotePath,
		originalFilename: filename,
		userID:           userID,
		folder:           folder,
		size:             info.Size,
	}

	s.mu.Lock()
	s.tracked[taskID] = &trackedUpload{task: task, status: models.UploadStatusPending}
	s.mu.Unlock()

	select {
	case s.queue <- task:
	default:
		s.mu.Lock()
		delete(s.tracked, taskID)
		s.mu.Unlock()
		s.updateRecord(ctx, taskID, models.UploadStatusFailed, "upload queue is full")
		return "", "", newAppError(http.StatusServiceUnavailable, "upload queue is full", nil)
	}

	logger.Infof("added upload to queue: %s - %s (code: %s)", taskID, filename, code)
	return taskID, code, nil
}

// generateUniqueCode probes the uploads table a bounded number of times and
// falls back to a timestamp suffix when every probe collides.
func (s *uploadQueueService) generateUniqueCode(ctx context.Context) string {
	for attempt := 0; attempt < codeProbeAttempts; attempt++ {
		code := models.GenerateFileCode()

		exists, err := s.uploads.ExistsByFileCode(ctx, nil, code)
		if err != nil {
			logger.Warnf("error checking code uniqueness: %v", err)
			return code
		}
		if !exists {
			return code
		}
	}

	return fmt.Sprintf("%s%03d", models.GenerateFileCode(), time.Now().Unix()%1000)
}

func (s *uploadQueueService) workerLoop(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.queue:
			s.processTaskSafe(ctx, task)
		}
	}
}

// processTaskSafe guarantees the worker survives any single bad task.
func (s *uploadQueueService) processTaskSafe(ctx context.Context, task *uploadTask) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic while processing upload %s: %v", task.id, r)
		}
	}()
	s.processTask(ctx, task)
}

func (s *uploadQueueService) processTask(ctx context.Context, task *uploadTask) {
	s.mu.Lock()
	entry, ok := s.tracked[task.id]
	if !ok || entry.status == models.UploadStatusCancelled {
		s.mu.Unlock()
		logger.Infof("skipping cancelled upload: %s", task.id)
		return
	}
	entry.status = models.UploadStatusUploading
	s.mu.Unlock()

	s.monitor.WaitIfThrottled(ctx, "upload queue processing")

	logger.Infof("processing upload: %s - %s", task.id, task.originalFilename)

	now := time.Now()
	s.updateRecordFields(ctx, task.id, map[string]interface{}{
		"status":     models.UploadStatusUploading,
		"started_at": &now,
	})

	started := time.Now()
	result := s.store.Upload(ctx, task.localPath, task.remotePath)
	duration := time.Since(started)

	if result.Success {
		s.finishCompleted(ctx, task, duration)
		return
	}
	s.handleFailure(ctx, task, result.Error, duration)
}

func (s *uploadQueueService) finishCompleted(ctx context.Context, task *uploadTask, duration time.Duration) {
	s.setTrackedStatus(task.id, models.UploadStatusCompleted, "")

	logger.Infof("upload completed: %s - %s", task.id, task.originalFilename)

	now := time.Now()
	s.updateRecordFields(ctx, task.id, map[string]interface{}{
		"status":       models.UploadStatusCompleted,
		"retry_count":  task.retryCount,
		"completed_at": &now,
	})

	s.removeLocalFile(task.localPath)
	s.recordStat(ctx, task, models.StatStatusSuccess, duration, "")

	if s.opts.GCAfterUpload {
		logger.Debugf("releasing memory after queued upload")
		debug.FreeOSMemory()
	}

	s.scheduleUntrack(task.id)
}

func (s *uploadQueueService) handleFailure(ctx context.Context, task *uploadTask, errMsg string, duration time.Duration) {
	logger.Errorf("upload failed: %s - %s", task.id, errMsg)

	if task.retryCount < s.opts.MaxRetries {
		task.retryCount++
		s.setTrackedStatus(task.id, models.UploadStatusPending, errMsg)
		s.updateRecordFields(ctx, task.id, map[string]interface{}{"retry_count": task.retryCount})

		logger.Infof("retrying upload: %s (attempt %d/%d)", task.id, task.retryCount, s.opts.MaxRetries)

		// Re-enqueue at the tail after the backoff so the worker is free to
		// drain the tasks behind this one.
		wait := s.opts.BackoffBase << (task.retryCount - 1)
		time.AfterFunc(wait, func() {
			// The backoff can elapse after Stop. The record stays pending
			// with its retry count; only the in-memory task is dropped.
			s.mu.Lock()
			if !s.running {
				delete(s.tracked, task.id)
				s.mu.Unlock()
				logger.Infof("queue stopped, dropping scheduled retry of upload %s", task.id)
				return
			}
			s.mu.Unlock()

			select {
			case s.queue <- task:
			default:
				logger.Errorf("queue full, dropping retry of upload %s", task.id)
				s.updateRecord(context.Background(), task.id, models.UploadStatusFailed, "upload queue is full")
				s.scheduleUntrack(task.id)
			}
		})
		return
	}

	logger.Errorf("upload failed after %d attempts: %s", s.opts.MaxRetries, task.id)

	s.setTrackedStatus(task.id, models.UploadStatusFailed, errMsg)
	s.updateRecordFields(ctx, task.id, map[string]interface{}{
		"status":        models.UploadStatusFailed,
		"retry_count":   task.retryCount,
		"error_message": errMsg,
	})

	s.removeLocalFile(task.localPath)
	s.recordStat(ctx, task, models.StatStatusFailed, duration, errMsg)
	s.scheduleUntrack(task.id)
}

func (s *uploadQueueService) QueueStatus() QueueStatusOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return QueueStatusOutput{
		QueueSize:      len(s.queue),
		CurrentUploads: len(s.tracked),
		Running:        s.running,
	}
}

// Cancel only succeeds on tasks still tracked in memory and not yet terminal.
func (s *uploadQueueService) Cancel(ctx context.Context, taskID string) bool {
	s.mu.Lock()
	entry, ok := s.tracked[taskID]
	if !ok || models.IsTerminalStatus(entry.status) {
		s.mu.Unlock()
		return false
	}
	entry.status = models.UploadStatusCancelled
	s.mu.Unlock()

	logger.Infof("cancelled upload: %s", taskID)
	s.updateRecord(ctx, taskID, models.UploadStatusCancelled, "cancelled by user")
	s.scheduleUntrack(taskID)
	return true
}

// Retry resets a tracked failed task and puts it back at the tail.
func (s *uploadQueueService) Retry(ctx context.Context, taskID string) bool {
	s.mu.Lock()
	entry, ok := s.tracked[taskID]
	if !ok || entry.status != models.UploadStatusFailed {
		s.mu.Unlock()
		return false
	}
	entry.status = models.UploadStatusPending
	entry.task.retryCount = 0
	task := entry.task
	s.mu.Unlock()

	s.updateRecordFields(ctx, taskID, map[string]interface{}{
		"status":      models.UploadStatusPending,
		"retry_count": 0,
	})

	select {
	case s.queue <- task:
		logger.Infof("retrying failed upload: %s", taskID)
		return true
	default:
		return false
	}
}

// Outcomes are pull-based: callers poll the persisted record.
func (s *uploadQueueService) GetUpload(ctx context.Context, taskID string) (models.Upload, error) {
	upload, err := s.uploads.GetByID(ctx, nil, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Upload{}, newAppError(http.StatusNotFound, "upload not found", nil)
		}
		return models.Upload{}, newAppError(http.StatusInternalServerError, "failed to query upload", err)
	}
	return upload, nil
}

func (s *uploadQueueService) GetUploadByCode(ctx context.Context, code string) (models.Upload, error) {
	upload, err := s.uploads.GetByFileCode(ctx, nil, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Upload{}, newAppError(http.StatusNotFound, "upload not found", nil)
		}
		return models.Upload{}, newAppError(http.StatusInternalServerError, "failed to query upload", err)
	}
	return upload, nil
}

func (s *uploadQueueService) ListUploads(ctx context.Context, userID string, limit int) ([]models.Upload, error) {
	uploads, err := s.uploads.ListByUser(ctx, nil, userID, limit)
	if err != nil {
		return nil, newAppError(http.StatusInternalServerError, "failed to list uploads", err)
	}
	return uploads, nil
}

func (s *uploadQueueService) setTrackedStatus(taskID string, status string, errMsg string) {
	s.mu.Lock()
	if entry, ok := s.tracked[taskID]; ok {
		entry.status = status
		entry.errMsg = errMsg
	}
	s.mu.Unlock()
}

func (s *uploadQueueService) scheduleUntrack(taskID string) {
	time.AfterFunc(s.opts.TrackGrace, func() {
		s.mu.Lock()
		delete(s.tracked, taskID)
		s.mu.Unlock()
	})
}

func (s *uploadQueueService) updateRecord(ctx context.Context, taskID string, status string, errMsg string) {
	updates := map[string]interface{}{"status": status}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	s.updateRecordFields(ctx, taskID, updates)
}

func (s *uploadQueueService) updateRecordFields(ctx context.Context, taskID string, updates map[string]interface{}) {
	if err := s.uploads.UpdateByID(ctx, nil, taskID, updates); err != nil {
		logger.Warnf("failed to update upload record %s: %v", taskID, err)
	}
}

func (s *uploadQueueService) removeLocalFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("failed to delete temp file %s: %v", path, err)
		return
	}
	logger.Debugf("deleted temp file: %s", path)
}

func (s *uploadQueueService) recordStat(ctx context.Context, task *uploadTask, status string, duration time.Duration, errMsg string) {
	if s.stats == nil {
		return
	}
	s.stats.RecordUpload(ctx, RecordUploadInput{
		ChatID:       task.userID,
		Kind:         "pentaract",
		Status:       status,
		FileSize:     task.size,
		DurationMs:   duration.Milliseconds(),
		ErrorMessage: errMsg,
	})
}
