package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/timmy/intelliparse/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobStore keeps whole job records keyed by job id. Callers read, modify and
// write back complete records; there is no partial update.
type JobStore interface {
	// Create stores a new record. It fails with domain.ErrJobExists if the id is taken.
	Create(ctx context.Context, job *domain.Job) error
	// Put replaces the stored record and stamps UpdatedAt.
	Put(ctx context.Context, job *domain.Job) error
	// Get returns an independent copy of the record or domain.ErrJobNotFound.
	Get(ctx context.Context, id string) (*domain.Job, error)
}

const jobShards = 32

type jobShard struct {
	mu   sync.RWMutex
	jobs map[string][]byte
}

// MemoryJobStore is a process-local JobStore. Records are kept serialized so
// readers never share memory with the writer; ids are spread across shards
// so writers of different jobs do not contend on one lock.
type MemoryJobStore struct {
	shards [jobShards]*jobShard
	nowFn  func() time.Time
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	s := &MemoryJobStore{nowFn: time.Now}
	for i := range s.shards {
		s.shards[i] = &jobShard{jobs: make(map[string][]byte)}
	}
	return s
}

func (s *MemoryJobStore) shard(id string) *jobShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%jobShards]
}

// Create stores a new job record.
func (s *MemoryJobStore) Create(ctx context.Context, job *domain.Job) error {
	sh := s.shard(job.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
	}
	job.UpdatedAt = s.nowFn().UTC()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	sh.jobs[job.ID] = data
	return nil
}

// Put replaces a job record.
func (s *MemoryJobStore) Put(ctx context.Context, job *domain.Job) error {
	job.UpdatedAt = s.nowFn().UTC()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	sh := s.shard(job.ID)
	sh.mu.Lock()
	sh.jobs[job.ID] = data
	sh.mu.Unlock()
	return nil
}

// Get returns a copy of a job record.
func (s *MemoryJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	sh := s.shard(id)
	sh.mu.RLock()
	data, ok := sh.jobs[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return decodeJob(data)
}

// Len returns the number of stored jobs.
func (s *MemoryJobStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.jobs)
		sh.mu.RUnlock()
	}
	return n
}

// GormJobStore persists job records as JSON payload rows.
type GormJobStore struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// NewGormJobStore creates a job store backed by the job_records table.
func NewGormJobStore(db *gorm.DB) *GormJobStore {
	return &GormJobStore{db: db, nowFn: time.Now}
}

// Create inserts a new job record.
func (s *GormJobStore) Create(ctx context.Context, job *domain.Job) error {
	rec, err := s.toRecord(job)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if result.Error != nil {
		return fmt.Errorf("failed to create job record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
	}
	return nil
}

// Put upserts a job record.
func (s *GormJobStore) Put(ctx context.Context, job *domain.Job) error {
	rec, err := s.toRecord(job)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("failed to save job record: %w", err)
	}
	return nil
}

// Get loads a job record by id.
func (s *GormJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	var rec domain.JobRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job record: %w", err)
	}
	return decodeJob([]byte(rec.Payload))
}

func (s *GormJobStore) toRecord(job *domain.Job) (*domain.JobRecord, error) {
	job.UpdatedAt = s.nowFn().UTC()
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	return &domain.JobRecord{
		ID:        job.ID,
		Status:    job.Status,
		Modality:  job.Modality,
		Payload:   string(data),
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}, nil
}

func decodeJob(data []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}
