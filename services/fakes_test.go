package services

import (
	"context"
	"sync"
	"time"

	"github.com/runawaydevil/ScoutBot/models"
	"github.com/runawaydevil/ScoutBot/repositories"
	"github.com/runawaydevil/ScoutBot/storage"

	"gorm.io/gorm"
)

type fakeUploadRepo struct {
	mu      sync.Mutex
	records map[string]models.Upload
	codes   map[string]bool

	existsErr error
	purged    []time.Time
}

func newFakeUploadRepo() *fakeUploadRepo {
	return &fakeUploadRepo{
		records: map[string]models.Upload{},
		codes:   map[string]bool{},
	}
}

func (r *fakeUploadRepo) Create(_ context.Context, _ *gorm.DB, upload *models.Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.codes[upload.FileCode] {
		return gorm.ErrDuplicatedKey
	}
	upload.CreatedAt = time.Now()
	upload.UpdatedAt = time.Now()
	r.records[upload.ID] = *upload
	r.codes[upload.FileCode] = true
	return nil
}

func (r *fakeUploadRepo) GetByID(_ context.Context, _ *gorm.DB, id string) (models.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return models.Upload{}, gorm.ErrRecordNotFound
	}
	return record, nil
}

func (r *fakeUploadRepo) GetByFileCode(_ context.Context, _ *gorm.DB, code string) (models.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.FileCode == code {
			return record, nil
		}
	}
	return models.Upload{}, gorm.ErrRecordNotFound
}

func (r *fakeUploadRepo) ExistsByFileCode(_ context.Context, _ *gorm.DB, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.existsErr != nil {
		return false, r.existsErr
	}
	return r.codes[code], nil
}

func (r *fakeUploadRepo) UpdateByID(_ context.Context, _ *gorm.DB, id string, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for field, value := range updates {
		switch field {
		case "status":
			record.Status = value.(string)
		case "error_message":
			record.ErrorMessage = value.(string)
		case "retry_count":
			record.RetryCount = value.(int)
		case "started_at":
			record.StartedAt = value.(*time.Time)
		case "completed_at":
			record.CompletedAt = value.(*time.Time)
		}
	}
	record.UpdatedAt = time.Now()
	r.records[id] = record
	return nil
}

func (r *fakeUploadRepo) ListByUser(_ context.Context, _ *gorm.DB, userID string, _ int) ([]models.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Upload
	for _, record := range r.records {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *fakeUploadRepo) DeleteTerminalBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purged = append(r.purged, cutoff)
	var removed int64
	for id, record := range r.records {
		if models.IsTerminalStatus(record.Status) && record.UpdatedAt.Before(cutoff) {
			delete(r.records, id)
			removed++
		}
	}
	return removed, nil
}

func (r *fakeUploadRepo) get(id string) (models.Upload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	return record, ok
}

func (r *fakeUploadRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// fakeRemoteStore scripts a sequence of upload outcomes; once the script is
// exhausted every call succeeds.
type fakeRemoteStore struct {
	mu       sync.Mutex
	script   []storage.Result
	uploads  int
	deletes  []string
	uploaded []string
}

func (f *fakeRemoteStore) Upload(_ context.Context, _ string, remotePath string) storage.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	f.uploaded = append(f.uploaded, remotePath)
	if len(f.script) > 0 {
		result := f.script[0]
		f.script = f.script[1:]
		return result
	}
	return storage.Result{Success: true, Path: remotePath}
}

func (f *fakeRemoteStore) Download(_ context.Context, remotePath, localPath string) storage.Result {
	return storage.Result{Success: true, Path: localPath}
}

func (f *fakeRemoteStore) Delete(_ context.Context, remotePath string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, remotePath)
	return true
}

func (f *fakeRemoteStore) uploadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

type resourceSample struct {
	cpu float64
	mem float64
}

// scriptedSampler replays a fixed sample sequence and then sticks at the
// last one.
type scriptedSampler struct {
	mu      sync.Mutex
	samples []resourceSample
	index   int
}

func (s *scriptedSampler) Sample() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return 0, 0, nil
	}
	sample := s.samples[s.index]
	if s.index < len(s.samples)-1 {
		s.index++
	}
	return sample.cpu, sample.mem, nil
}

type fakeStatRepo struct {
	mu        sync.Mutex
	batches   [][]models.UploadStat
	summary   []repositories.KindSummary
	createErr error
}

func (r *fakeStatRepo) CreateBatch(_ context.Context, _ *gorm.DB, stats []models.UploadStat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.batches = append(r.batches, stats)
	return nil
}

func (r *fakeStatRepo) setCreateErr(err error) {
	r.mu.Lock()
	r.createErr = err
	r.mu.Unlock()
}

func (r *fakeStatRepo) SummarySince(_ context.Context, _ *gorm.DB, _ time.Time) ([]repositories.KindSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary, nil
}

func (r *fakeStatRepo) DeleteBefore(_ context.Context, _ *gorm.DB, _ time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeStatRepo) rows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

type fakeStatBuffer struct {
	mu       sync.Mutex
	rows     [][]byte
	counters map[string]int64
}

func newFakeStatBuffer() *fakeStatBuffer {
	return &fakeStatBuffer{counters: map[string]int64{}}
}

func (b *fakeStatBuffer) Append(_ context.Context, row []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, row)
	return nil
}

func (b *fakeStatBuffer) Drain(_ context.Context) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := b.rows
	b.rows = nil
	return rows, nil
}

func (b *fakeStatBuffer) IncrCounter(_ context.Context, field string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters[field]++
	return nil
}

func (b *fakeStatBuffer) Counters(_ context.Context) (map[string]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int64, len(b.counters))
	for k, v := range b.counters {
		out[k] = v
	}
	return out, nil
}

// fakeTxManager runs the function outside any real transaction.
type fakeTxManager struct{}

func (fakeTxManager) WithTransaction(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeSettingsRepo struct {
	mu     sync.Mutex
	byUser map[string]models.UserSettings
	getErr error
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{byUser: map[string]models.UserSettings{}}
}

func (r *fakeSettingsRepo) GetByUserID(_ context.Context, _ *gorm.DB, userID string) (models.UserSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return models.UserSettings{}, r.getErr
	}
	settings, ok := r.byUser[userID]
	if !ok {
		return models.UserSettings{}, gorm.ErrRecordNotFound
	}
	return settings, nil
}

func (r *fakeSettingsRepo) Create(_ context.Context, _ *gorm.DB, settings *models.UserSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[settings.UserID] = *settings
	return nil
}

func (r *fakeSettingsRepo) UpdateByUserID(_ context.Context, _ *gorm.DB, userID string, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	settings, ok := r.byUser[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for field, value := range updates {
		switch field {
		case "quality":
			settings.Quality = value.(string)
		case "format":
			settings.Format = value.(string)
		case "storage_preference":
			settings.StoragePreference = value.(string)
		}
	}
	r.byUser[userID] = settings
	return nil
}
