// Package scheduler owns the job map, the pending queue and the active set.
//
// All job state transitions happen under one mutex. Engine work runs in a
// goroutine per admitted job; when it returns, its admission slot is released
// and the next queued job is admitted in the same critical section.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"silence-trimmer/internal/admission"
	"silence-trimmer/internal/config"
	"silence-trimmer/internal/interval"
	"silence-trimmer/internal/logging"
	"silence-trimmer/internal/media"
	"silence-trimmer/internal/messages"
	"silence-trimmer/internal/models"
	"silence-trimmer/internal/queue"
	"silence-trimmer/internal/retry"
	"silence-trimmer/internal/telemetry"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrInputMissing = errors.New("input file missing")
	ErrClosed       = errors.New("scheduler closed")
	ErrEmptyID      = errors.New("empty job id")

	errPanicked = errors.New("pipeline panicked")
)

// auditBuffer bounds queued audit events before new ones are dropped.
const auditBuffer = 256

// Engine is the media engine surface the pipeline drives.
type Engine interface {
	Probe(ctx context.Context, path string) (media.Info, error)
	Detect(ctx context.Context, input string, opts media.DetectOptions) (string, error)
	Transform(ctx context.Context, input string, keep []interval.Interval, hasAudio bool, output string) error
	Copy(ctx context.Context, input, output string) error
}

// Locator maps job ids to opaque file locations.
type Locator interface {
	ResolveInputPath(id string) string
	ResolveOutputPath(id string) string
	PathExists(path string) bool
}

// Recorder receives audit events. Errors are logged and otherwise ignored.
type Recorder interface {
	Record(ctx context.Context, ev models.Event) error
}

// Publisher copies a finished output somewhere remote and returns its URL.
type Publisher interface {
	Publish(ctx context.Context, id, localPath string) (string, error)
}

// Option customises a Scheduler.
type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.log = logger
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

func WithPublisher(p Publisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// WithEvictHook is called, outside the lock, for every record removed by
// Cancel or Sweep.
func WithEvictHook(fn func(models.Job)) Option {
	return func(s *Scheduler) { s.onEvict = fn }
}

// WithFinishHook is called, outside the lock, whenever a job reaches
// Completed or Failed.
func WithFinishHook(fn func(models.Job)) Option {
	return func(s *Scheduler) { s.onFinish = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLoadSampler overrides the host load signal used by Load.
func WithLoadSampler(sample admission.LoadSampler) Option {
	return func(s *Scheduler) { s.sample = sample }
}

type settings struct {
	retryBudget  int
	mergeGap     float64
	maxSilences  int
	detect       media.DetectOptions
	phaseTimeout time.Duration
	killOnCancel bool
}

// run is one admitted attempt of a job. A run is current while the job map
// and the active set both still point at it.
type run struct {
	job    *models.Job
	input  string
	output string
	cancel context.CancelFunc
}

// Scheduler runs silence-removal jobs in FIFO order under a concurrency ceiling.
type Scheduler struct {
	engine    Engine
	locator   Locator
	gate      *admission.Controller
	text      *messages.Printer
	log       *slog.Logger
	recorder  Recorder
	publisher Publisher
	onEvict   func(models.Job)
	onFinish  func(models.Job)
	now       func() time.Time
	sample    admission.LoadSampler
	cfg       settings

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
	audit      chan models.Event
	auditDone  chan struct{}

	mu      sync.Mutex
	jobs    map[string]*models.Job
	pending *queue.FIFO
	active  map[string]*run
	closed  bool
	// auditStopped is set once the audit channel is about to close.
	auditStopped bool
}

// New builds a scheduler from cfg. The engine and locator are required.
func New(cfg config.Config, engine Engine, locator Locator, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:  engine,
		locator: locator,
		text:    messages.New(cfg.Locale),
		log:     logging.Discard(),
		now:     time.Now,
		cfg: settings{
			retryBudget: cfg.RetryBudget,
			mergeGap:    cfg.MergeGap.Seconds(),
			maxSilences: cfg.MaxSilences,
			detect: media.DetectOptions{
				NoiseDB:     cfg.SilenceNoiseDB,
				MinDuration: cfg.SilenceMinDuration,
			},
			phaseTimeout: cfg.PhaseTimeout,
			killOnCancel: cfg.KillOnCancel,
		},
		jobs:    make(map[string]*models.Job),
		pending: queue.NewFIFO(),
		active:  make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gate = admission.New(cfg.MaxConcurrent, s.sample)
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	if s.recorder != nil {
		s.audit = make(chan models.Event, auditBuffer)
		s.auditDone = make(chan struct{})
		go s.drainAudit()
	}
	return s
}

// Submit creates a queued job and tries to start it. An empty input uses the
// locator's input path for id. Reusing an id replaces the previous record and
// abandons any run it had.
func (s *Scheduler) Submit(id, input string) (models.Job, error) {
	if id == "" {
		return models.Job{}, ErrEmptyID
	}
	if input == "" {
		input = s.locator.ResolveInputPath(id)
	}
	if !s.locator.PathExists(input) {
		return models.Job{}, fmt.Errorf("%w: %s", ErrInputMissing, input)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Job{}, ErrClosed
	}
	if _, exists := s.jobs[id]; exists {
		s.pending.Cancel(id)
		if r, ok := s.active[id]; ok {
			r.cancel()
			delete(s.active, id)
		}
		s.log.Info("job replaced", logging.JobID(id))
	}
	now := s.now()
	job := &models.Job{
		ID:         id,
		InputPath:  input,
		OutputPath: s.locator.ResolveOutputPath(id),
		Status:     models.StatusQueued,
		Message:    s.text.Queued(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.jobs[id] = job
	s.pending.Enqueue(id)
	s.recordLocked(id, models.EventSubmitted, "")
	telemetry.JobsSubmitted.Inc()
	s.log.Info("job queued", logging.JobID(id), slog.Int("position", s.pending.Position(id)))

	s.advanceLocked()
	snap := snapshot(job)
	s.mu.Unlock()
	return snap, nil
}

// Status returns a copy of the job record.
func (s *Scheduler) Status(id string) (models.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return snapshot(job), true
}

// Cancel removes a queued job, or fails a processing one with the cancelled
// category. Terminal jobs are left alone.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var evicted *models.Job
	var finished *models.Job
	switch job.Status {
	case models.StatusQueued:
		s.pending.Cancel(id)
		delete(s.jobs, id)
		snap := snapshot(job)
		evicted = &snap
		s.log.Info("queued job cancelled", logging.JobID(id))
	case models.StatusProcessing:
		if r, ok := s.active[id]; ok {
			if s.cfg.killOnCancel {
				r.cancel()
			}
			delete(s.active, id)
		}
		s.failLocked(job, retry.CategoryCancelled, "cancelled by caller")
		snap := snapshot(job)
		finished = &snap
		s.log.Info("processing job cancelled", logging.JobID(id), slog.Bool("killed", s.cfg.killOnCancel))
	default:
		s.mu.Unlock()
		return nil
	}
	telemetry.JobsCancelled.Inc()
	s.recordLocked(id, models.EventCancelled, string(job.Status))
	s.observeLocked()
	s.mu.Unlock()

	if evicted != nil && s.onEvict != nil {
		s.onEvict(*evicted)
	}
	if finished != nil && s.onFinish != nil {
		s.onFinish(*finished)
	}
	return nil
}

// Sweep drops terminal jobs not updated within maxAge and returns how many
// were removed. Queued and processing jobs are never swept.
func (s *Scheduler) Sweep(maxAge time.Duration) int {
	s.mu.Lock()
	cutoff := s.now().Add(-maxAge)
	var removed []models.Job
	for id, job := range s.jobs {
		if !job.Status.Terminal() || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(s.jobs, id)
		removed = append(removed, snapshot(job))
		s.recordLocked(id, models.EventSwept, string(job.Status))
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		s.log.Info("swept terminal jobs", slog.Int("count", len(removed)), slog.Duration("max_age", maxAge))
	}
	if s.onEvict != nil {
		for _, job := range removed {
			s.onEvict(job)
		}
	}
	return len(removed)
}

// CanAdmit reports whether a job submitted now would start immediately.
func (s *Scheduler) CanAdmit() bool {
	return s.gate.CanAdmit()
}

// Load is the advisory host load percentage.
func (s *Scheduler) Load() float64 {
	return s.gate.Load()
}

// Active returns the number of occupied slots.
func (s *Scheduler) Active() int {
	return s.gate.Active()
}

// QueueDepth returns the number of jobs waiting for a slot.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Depth()
}

// Close stops admitting work, cancels running pipelines and waits for them
// and for pending audit events.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancelBase()
	s.wg.Wait()
	if s.audit != nil {
		s.mu.Lock()
		s.auditStopped = true
		s.mu.Unlock()
		close(s.audit)
		<-s.auditDone
	}
}

func (s *Scheduler) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked()
}

// advanceLocked admits queued jobs while slots are free.
func (s *Scheduler) advanceLocked() {
	defer s.observeLocked()
	for !s.closed && s.pending.Depth() > 0 {
		if !s.gate.TryAcquire() {
			return
		}
		id, _ := s.pending.Dequeue()
		job, ok := s.jobs[id]
		if !ok {
			s.gate.Release()
			continue
		}
		job.Status = models.StatusProcessing
		job.Progress = 0
		job.Message = s.text.Processing()
		job.UpdatedAt = s.now()

		ctx, cancel := context.WithCancel(s.baseCtx)
		r := &run{job: job, input: job.InputPath, output: job.OutputPath, cancel: cancel}
		s.active[id] = r
		s.recordLocked(id, models.EventStarted, fmt.Sprintf("attempt=%d", job.Attempts+1))
		s.log.Info("job started", logging.JobID(id), logging.Attempt(job.Attempts+1), logging.State(string(job.Status)))

		s.wg.Add(1)
		go s.execute(ctx, r)
	}
}

func (s *Scheduler) execute(ctx context.Context, r *run) {
	defer s.wg.Done()
	defer r.cancel()

	res, err := s.runSafely(ctx, r)
	s.finish(r, res, err)
}

func (s *Scheduler) runSafely(ctx context.Context, r *run) (res *models.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("%w: %v", errPanicked, p)
		}
	}()
	return s.pipeline(ctx, r)
}

// finish records the outcome of a run, releases its slot and admits the next job.
func (s *Scheduler) finish(r *run, res *models.Result, runErr error) {
	s.mu.Lock()
	s.gate.Release()
	id := r.job.ID

	if !s.currentLocked(r) {
		s.log.Debug("discarding result of abandoned run", logging.JobID(id), slog.Any("error", runErr))
		s.advanceLocked()
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	job := r.job

	if s.closed {
		s.failLocked(job, retry.CategoryCancelled, "scheduler closed")
		s.mu.Unlock()
		return
	}

	var done *models.Job
	if runErr == nil {
		s.completeLocked(job, res)
		snap := snapshot(job)
		done = &snap
	} else {
		decision := s.classify(runErr, job.Attempts)
		if decision.Retry {
			job.Attempts++
			job.Status = models.StatusQueued
			job.Progress = 0
			job.Message = s.text.Requeued(job.Attempts+1, s.cfg.retryBudget+1)
			job.Category = ""
			errText := runErr.Error()
			job.LastError = &errText
			job.UpdatedAt = s.now()
			s.pending.Enqueue(id)
			telemetry.JobsRetried.Inc()
			s.recordLocked(id, models.EventRetry, errText)
			s.log.Warn("job requeued after transient failure",
				logging.JobID(id), logging.Attempt(job.Attempts), logging.Category(string(decision.Category)), slog.Any("error", runErr))
		} else {
			s.failLocked(job, decision.Category, runErr.Error())
			snap := snapshot(job)
			done = &snap
		}
	}
	s.advanceLocked()
	s.mu.Unlock()

	if done != nil && s.onFinish != nil {
		s.onFinish(*done)
	}
}

func (s *Scheduler) currentLocked(r *run) bool {
	id := r.job.ID
	return s.jobs[id] == r.job && s.active[id] == r
}

func (s *Scheduler) completeLocked(job *models.Job, res *models.Result) {
	job.Status = models.StatusCompleted
	job.Progress = 100
	job.Result = res
	job.Category = ""
	job.LastError = nil
	if res.PassThrough {
		job.Message = s.text.Unchanged()
	} else {
		job.Message = s.text.Completed(res.SilencesRemoved, res.TimeSaved)
	}
	job.UpdatedAt = s.now()
	telemetry.JobsCompleted.Inc()
	telemetry.SecondsSaved.Add(res.TimeSaved)
	s.recordLocked(job.ID, models.EventCompleted, fmt.Sprintf("saved=%.3fs removed=%d", res.TimeSaved, res.SilencesRemoved))
	s.log.Info("job completed",
		logging.JobID(job.ID), logging.State(string(job.Status)),
		slog.Float64("time_saved", res.TimeSaved), slog.Int("silences_removed", res.SilencesRemoved), slog.Bool("pass_through", res.PassThrough))
}

func (s *Scheduler) failLocked(job *models.Job, category retry.Category, detail string) {
	job.Status = models.StatusFailed
	job.Category = string(category)
	job.Message = s.text.Failure(category)
	job.LastError = &detail
	job.Result = nil
	job.UpdatedAt = s.now()
	if category != retry.CategoryCancelled {
		telemetry.JobsFailed.WithLabelValues(string(category)).Inc()
		s.recordLocked(job.ID, models.EventFailed, string(category)+": "+detail)
	}
	s.log.Warn("job failed",
		logging.JobID(job.ID), logging.Attempt(job.Attempts+1), logging.State(string(job.Status)),
		logging.Category(string(category)), slog.String("error", detail))
}

// classify maps a pipeline error onto a retry decision. Errors the pipeline
// recognises itself are never retried.
func (s *Scheduler) classify(err error, retries int) retry.Decision {
	switch {
	case errors.Is(err, interval.ErrInvalid), errors.Is(err, interval.ErrUnordered), errors.Is(err, errPanicked):
		return retry.Decision{Category: retry.CategoryInternal}
	case errors.Is(err, ErrInputMissing), errors.Is(err, media.ErrNoVideoStream),
		errors.Is(err, media.ErrUnreadable), errors.Is(err, media.ErrEmptyPath):
		return retry.Decision{Category: retry.CategoryInput}
	}
	return retry.Classify(media.Diagnostic(err), retries, s.cfg.retryBudget)
}

// setProgress raises the progress of a current run; it never lowers it.
func (s *Scheduler) setProgress(r *run, pct int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(r) || pct <= r.job.Progress {
		return
	}
	r.job.Progress = pct
	r.job.UpdatedAt = s.now()
}

func (s *Scheduler) observeLocked() {
	telemetry.QueueDepthGauge.Set(float64(s.pending.Depth()))
	telemetry.ActiveGauge.Set(float64(s.gate.Active()))
}

// recordLocked queues an audit event without blocking.
func (s *Scheduler) recordLocked(id, event, detail string) {
	if s.audit == nil || s.auditStopped {
		return
	}
	select {
	case s.audit <- models.Event{JobID: id, Event: event, Detail: detail, Recorded: s.now()}:
	default:
		s.log.Warn("audit buffer full, dropping event", logging.JobID(id), slog.String("event", event))
	}
}

func (s *Scheduler) drainAudit() {
	defer close(s.auditDone)
	for ev := range s.audit {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.recorder.Record(ctx, ev); err != nil {
			s.log.Warn("audit record failed", logging.JobID(ev.JobID), slog.String("event", ev.Event), slog.Any("error", err))
		}
		cancel()
	}
}

func snapshot(job *models.Job) models.Job {
	out := *job
	if job.LastError != nil {
		msg := *job.LastError
		out.LastError = &msg
	}
	if job.Result != nil {
		res := *job.Result
		out.Result = &res
	}
	return out
}
