package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/intelliparse/internal/domain"
	"github.com/timmy/intelliparse/internal/logger"
	"github.com/timmy/intelliparse/internal/metrics"
	"github.com/timmy/intelliparse/internal/repository"
	"github.com/timmy/intelliparse/internal/storage"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("analysis queue is full")
	// ErrPipelineClosed is returned by Submit after Shutdown.
	ErrPipelineClosed = errors.New("analysis pipeline is shut down")
)

// Stage names recorded in failed jobs and metrics.
const (
	StageQueue         = "queue"
	StageLoad          = "load"
	StageArtifacts     = "artifacts"
	StageProvenance    = "provenance"
	StageWatermarks    = "watermarks"
	StageImageGen      = "image_gen"
	StageVideoDeepfake = "video_deepfake"
	StageAudioSpoof    = "audio_spoof"
	StageIdentity      = "identity"
	StageFusion        = "fusion"
	StageStore         = "store"
)

const (
	defaultSidecarSuffix = ".vector.json"
	finalWriteTimeout    = 10 * time.Second
)

// StageError is a fatal failure of one pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// PipelineConfig holds configuration for the pipeline worker pool.
type PipelineConfig struct {
	Workers       int
	QueueSize     int
	JobTimeout    time.Duration
	SidecarSuffix string
}

// Submission is one upload handed to the pipeline.
type Submission struct {
	Modality    domain.Modality
	Filename    string
	ContentType string
	Data        io.Reader
	Size        int64
	// Sidecar is the optional embedding artifact; nil when none was sent.
	Sidecar []byte
	Options domain.AnalyzeOptions
}

type task struct {
	jobID    string
	key      string
	filename string
	options  domain.AnalyzeOptions
	modality domain.Modality
}

// Pipeline creates analysis jobs and runs them on a bounded worker pool.
// Each job is owned by exactly one worker from dequeue until its terminal write.
type Pipeline struct {
	jobs      repository.JobStore
	storage   storage.ObjectStorage
	matcher   *IdentityMatcher
	detectors Detectors
	notifier  Notifier
	cfg       PipelineConfig
	logger    *logger.Logger

	queue  chan task
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc

	nowFn func() time.Time
	newID func() string
}

// NewPipeline wires the pipeline. Call Start before submitting.
func NewPipeline(
	jobs repository.JobStore,
	objectStorage storage.ObjectStorage,
	matcher *IdentityMatcher,
	detectors Detectors,
	notifier Notifier,
	log *logger.Logger,
	cfg *PipelineConfig,
) *Pipeline {
	c := *cfg
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Workers
	}
	if c.SidecarSuffix == "" {
		c.SidecarSuffix = defaultSidecarSuffix
	}
	if log == nil {
		log = logger.GetDefault()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		jobs:      jobs,
		storage:   objectStorage,
		matcher:   matcher,
		detectors: detectors,
		notifier:  notifier,
		cfg:       c,
		logger:    log.WithField(logger.FieldComponent, "pipeline"),
		queue:     make(chan task, c.QueueSize),
		baseCtx:   baseCtx,
		cancel:    cancel,
		nowFn:     time.Now,
		newID:     NewJobID,
	}
}

// NewJobID returns an opaque job identifier.
func NewJobID() string {
	return "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Start launches the workers.
func (p *Pipeline) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.worker(workerID)
		}(i)
	}
	p.logger.WithFields(logger.Fields{
		"workers":    p.cfg.Workers,
		"queue_size": p.cfg.QueueSize,
	}).Info("Pipeline started")
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. When ctx expires first, in-flight jobs are cancelled and end failed.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Submit stores the upload and its sidecar, records a queued job and
// enqueues it without blocking. A full queue fails the job at stage "queue"
// and returns ErrQueueFull. When no job could be recorded, the stored
// objects are removed again.
func (p *Pipeline) Submit(ctx context.Context, sub *Submission) (*domain.Job, error) {
	if _, err := domain.ParseModality(string(sub.Modality)); err != nil {
		return nil, err
	}

	key := storageKey(sub.Filename)
	contentType := sub.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := p.storage.Upload(ctx, key, sub.Data, sub.Size, contentType); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	stored := []string{key}
	if sub.Sidecar != nil {
		sidecarKey := key + p.cfg.SidecarSuffix
		stored = append(stored, sidecarKey)
		if err := p.storage.Upload(ctx, sidecarKey, bytes.NewReader(sub.Sidecar),
			int64(len(sub.Sidecar)), "application/json"); err != nil {
			p.discard(ctx, stored)
			return nil, fmt.Errorf("failed to store sidecar: %w", err)
		}
	}

	job := domain.NewJob(p.newID(), sub.Modality, p.nowFn().UTC())
	job.StorageKey = key
	if err := p.jobs.Create(ctx, job); err != nil {
		p.discard(ctx, stored)
		return nil, err
	}

	t := task{
		jobID:    job.ID,
		key:      key,
		filename: sub.Filename,
		options:  sub.Options,
		modality: sub.Modality,
	}

	callbackURL := sub.Options.CallbackURL
	p.mu.RLock()
	closed := p.closed
	var queueErr error
	if closed {
		queueErr = ErrPipelineClosed
	} else {
		select {
		case p.queue <- t:
			metrics.SetQueueDepth(len(p.queue))
		default:
			queueErr = ErrQueueFull
		}
	}
	if queueErr != nil {
		p.failJob(ctx, job, &StageError{Stage: StageQueue, Err: queueErr})
		if !closed && p.wantsNotify(callbackURL) {
			// Shutdown waits on wg only after closing, so this delivery is drained with the workers.
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.notify(ctx, callbackURL, job)
			}()
		}
	}
	p.mu.RUnlock()

	if queueErr != nil {
		if closed && p.wantsNotify(callbackURL) {
			p.notify(ctx, callbackURL, job)
		}
		return job, queueErr
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldJobID:    job.ID,
		logger.FieldModality: string(job.Modality),
		logger.FieldSize:     sub.Size,
	}).Info("Job queued")
	return job, nil
}

// discard removes objects stored for a submission that never became a job.
func (p *Pipeline) discard(ctx context.Context, keys []string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	for _, key := range keys {
		if err := p.storage.Delete(ctx, key); err != nil {
			logger.FromContext(ctx).WithError(err).WithField("key", key).Warn("Failed to discard stored object")
		}
	}
}

func (p *Pipeline) wantsNotify(callbackURL string) bool {
	return callbackURL != "" && p.notifier != nil
}

// notify delivers the terminal job to its callback. The caller's
// cancellation does not cut the delivery short.
func (p *Pipeline) notify(ctx context.Context, callbackURL string, job *domain.Job) {
	p.notifier.Deliver(context.WithoutCancel(ctx), callbackURL, job)
}

// Get returns the current record of a job.
func (p *Pipeline) Get(ctx context.Context, id string) (*domain.Job, error) {
	return p.jobs.Get(ctx, id)
}

// storageKey names an upload by a random id, keeping the lower-cased extension.
func storageKey(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "") + ext
}

func (p *Pipeline) worker(workerID int) {
	for t := range p.queue {
		metrics.SetQueueDepth(len(p.queue))
		p.process(workerID, t)
	}
}

// process runs one job to a terminal state and then fires the webhook.
func (p *Pipeline) process(workerID int, t task) {
	ctx := p.logger.WithFields(logger.Fields{
		logger.FieldJobID:    t.jobID,
		logger.FieldModality: string(t.modality),
		logger.FieldWorker:   workerID,
	}).WithContext(p.baseCtx)

	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}
	log := logger.FromContext(ctx)

	job, err := p.jobs.Get(ctx, t.jobID)
	if err != nil {
		log.WithError(err).Error("Failed to load queued job")
		return
	}

	start := p.nowFn().UTC()
	job.Status = domain.JobStatusRunning
	job.StartedAt = &start
	if err := p.jobs.Put(ctx, job); err != nil {
		log.WithError(err).Warn("Failed to publish running state")
	}

	runErr := p.run(ctx, job, t)

	// The terminal write must survive the job deadline.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	if runErr != nil {
		p.failJob(writeCtx, job, runErr)
	} else {
		done := p.nowFn().UTC()
		job.Status = domain.JobStatusCompleted
		job.CompletedAt = &done
		if err := p.jobs.Put(writeCtx, job); err != nil {
			log.WithError(err).Error("Failed to write completed job")
			job.CompletedAt = nil
			p.failJob(writeCtx, job, &StageError{Stage: StageStore, Err: err})
		} else {
			metrics.IncJobs(string(job.Modality), string(job.Status))
			log.WithFields(logger.Fields{
				logger.FieldDurationMs: done.Sub(start).Milliseconds(),
				"label":                string(job.Label),
			}).Info("Job completed")
		}
	}

	if p.wantsNotify(t.options.CallbackURL) {
		p.notify(writeCtx, t.options.CallbackURL, job)
	}
}

// failJob records err on job and writes the failed state.
func (p *Pipeline) failJob(ctx context.Context, job *domain.Job, err error) {
	stage := "unknown"
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
		err = se.Err
	}
	now := p.nowFn().UTC()
	job.Status = domain.JobStatusFailed
	job.FailedAt = &now
	job.Error = &domain.JobError{Stage: stage, Message: err.Error()}

	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldJobID: job.ID,
		logger.FieldStage: stage,
	})
	if putErr := p.jobs.Put(ctx, job); putErr != nil {
		log.WithError(putErr).Error("Failed to write failed job")
	}
	metrics.IncJobs(string(job.Modality), string(job.Status))
	log.WithError(err).Warn("Job failed")
}

// stage runs fn as one named step, turning errors, panics and an expired
// job deadline into a *StageError.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).WithField("stack", string(debug.Stack())).Error("Stage panicked")
			err = fmt.Errorf("panic: %v", r)
		}
		metrics.ObserveStage(name, err != nil, time.Since(start))
		if err != nil {
			err = &StageError{Stage: name, Err: err}
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

// run executes the stages in order. Stages that are switched off, or do
// not apply to the modality, leave their blocks empty.
func (p *Pipeline) run(ctx context.Context, job *domain.Job, t task) error {
	opts := t.options
	for k, v := range p.detectors.Versions {
		job.ModelVersions[k] = v
	}

	var media *Media
	steps := []struct {
		name    string
		enabled bool
		fn      func(ctx context.Context) error
	}{
		{StageLoad, true, func(ctx context.Context) error {
			m, err := p.load(ctx, t)
			media = m
			return err
		}},
		{StageArtifacts, true, func(ctx context.Context) error {
			art, err := ExtractArtifacts(media)
			job.Artifacts = art
			if err != nil {
				logger.FromContext(ctx).WithError(err).Debug("Artifact extraction incomplete")
				job.AddLimitation(domain.LimitationArtifacts)
			}
			return nil
		}},
		{StageProvenance, opts.CheckProvenance, func(ctx context.Context) error {
			block, err := p.detectors.Provenance.CheckProvenance(ctx, media)
			if err != nil {
				return err
			}
			job.Provenance = nonNil(block)
			if !c2paPresent(block) {
				job.AddLimitation(domain.LimitationNoC2PA)
			}
			return nil
		}},
		{StageWatermarks, opts.CheckWatermarks, func(ctx context.Context) error {
			marks, err := p.detectors.Watermarks.ScanWatermarks(ctx, media)
			if err != nil {
				return err
			}
			if marks == nil {
				marks = []domain.Block{}
			}
			job.Watermarks = marks
			return nil
		}},
		{StageImageGen, job.Modality == domain.ModalityImage && opts.CheckVisual, func(ctx context.Context) error {
			block, err := p.detectors.ImageGen.Analyze(ctx, media)
			job.ImageGen = nonNil(block)
			return err
		}},
		{StageVideoDeepfake, job.Modality == domain.ModalityVideo && opts.CheckVisual, func(ctx context.Context) error {
			block, err := p.detectors.VideoDeepfake.Analyze(ctx, media)
			job.VideoDeepfake = nonNil(block)
			return err
		}},
		{StageAudioSpoof, job.Modality != domain.ModalityImage && opts.CheckAudio, func(ctx context.Context) error {
			block, err := p.detectors.AudioSpoof.Analyze(ctx, media)
			job.AudioSpoof = nonNil(block)
			return err
		}},
		{StageIdentity, true, func(ctx context.Context) error {
			return p.matchIdentity(ctx, job, t)
		}},
		{StageFusion, true, func(ctx context.Context) error {
			ApplyFusion(job)
			return nil
		}},
	}

	for _, s := range steps {
		if !s.enabled {
			continue
		}
		if err := p.stage(ctx, s.name, s.fn); err != nil {
			return err
		}
		if err := p.jobs.Put(ctx, job); err != nil {
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldStage, s.name).
				Warn("Failed to publish job progress")
		}
	}
	return nil
}

func nonNil(b domain.Block) domain.Block {
	if b == nil {
		return domain.Block{}
	}
	return b
}

func (p *Pipeline) load(ctx context.Context, t task) (*Media, error) {
	rc, err := p.storage.Download(ctx, t.key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return &Media{
		Key:      t.key,
		Filename: t.filename,
		Modality: t.modality,
		Data:     data,
	}, nil
}

// matchIdentity runs watchlist matching when a sidecar was stored for the
// upload. An unreadable sidecar is advisory and leaves the matches empty.
func (p *Pipeline) matchIdentity(ctx context.Context, job *domain.Job, t task) error {
	key := t.key + p.cfg.SidecarSuffix
	exists, err := p.storage.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	rc, err := p.storage.Download(ctx, key)
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("failed to read sidecar: %w", err)
	}

	var sidecar domain.Sidecar
	if err := json.Unmarshal(raw, &sidecar); err != nil {
		logger.FromContext(ctx).WithError(err).Info("Ignoring invalid sidecar")
		job.AddLimitation(domain.LimitationInvalidSidecar)
		return nil
	}

	if len(sidecar.FaceVector) > 0 {
		matches, err := p.matcher.Match(ctx, domain.ProfileTypeFace, sidecar.FaceVector, t.options.FaceWatchlist)
		if err != nil {
			return err
		}
		job.Identity.FaceMatches = matches
	}
	if len(sidecar.VoiceVector) > 0 {
		matches, err := p.matcher.Match(ctx, domain.ProfileTypeVoice, sidecar.VoiceVector, t.options.VoiceWatchlist)
		if err != nil {
			return err
		}
		job.Identity.VoiceMatches = matches
	}
	return nil
}
