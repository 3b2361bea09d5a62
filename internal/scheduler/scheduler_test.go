package scheduler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"silence-trimmer/internal/config"
	"silence-trimmer/internal/interval"
	"silence-trimmer/internal/media"
	"silence-trimmer/internal/models"
	"silence-trimmer/internal/retry"
)

const waitTimeout = 5 * time.Second

type fakeLocator struct {
	mu      sync.Mutex
	missing map[string]bool
}

func (l *fakeLocator) ResolveInputPath(id string) string  { return "in/" + id }
func (l *fakeLocator) ResolveOutputPath(id string) string { return "out/" + id }
func (l *fakeLocator) PathExists(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.missing[path]
}

// fakeEngine scripts engine responses. When hold is set, Detect blocks until
// it receives a value or its context ends.
type fakeEngine struct {
	mu          sync.Mutex
	hold        chan struct{}
	entered     chan string
	detectErrs  map[string][]error
	silenceLog  string
	duration    float64
	outDuration float64
	noAudio     bool
	copies      int
	keeps       [][]interval.Interval
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		entered:     make(chan string, 16),
		detectErrs:  make(map[string][]error),
		duration:    30,
		outDuration: 30,
	}
}

func (f *fakeEngine) Probe(_ context.Context, path string) (media.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.duration
	if strings.HasPrefix(path, "out/") {
		d = f.outDuration
	}
	return media.Info{DurationSeconds: d, Codec: "h264", Width: 1280, Height: 720, HasVideo: true, HasAudio: !f.noAudio}, nil
}

func (f *fakeEngine) Detect(ctx context.Context, input string, _ media.DetectOptions) (string, error) {
	f.entered <- input
	f.mu.Lock()
	hold := f.hold
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.detectErrs[input]; len(errs) > 0 {
		f.detectErrs[input] = errs[1:]
		return "", errs[0]
	}
	return f.silenceLog, nil
}

func (f *fakeEngine) Transform(_ context.Context, _ string, keep []interval.Interval, _ bool, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keeps = append(f.keeps, append([]interval.Interval(nil), keep...))
	return nil
}

func (f *fakeEngine) Copy(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	return nil
}

type memoryRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (m *memoryRecorder) Record(_ context.Context, ev models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memoryRecorder) names(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, ev := range m.events {
		if ev.JobID == id {
			out = append(out, ev.Event)
		}
	}
	return out
}

func testConfig(ceiling int) config.Config {
	cfg := config.Default()
	cfg.MaxConcurrent = ceiling
	cfg.PhaseTimeout = 0
	return cfg
}

type harness struct {
	s        *Scheduler
	engine   *fakeEngine
	locator  *fakeLocator
	finished chan models.Job
	evicted  chan models.Job
}

func newHarness(t *testing.T, cfg config.Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		engine:   newFakeEngine(),
		locator:  &fakeLocator{missing: map[string]bool{}},
		finished: make(chan models.Job, 16),
		evicted:  make(chan models.Job, 16),
	}
	opts = append([]Option{
		WithFinishHook(func(j models.Job) { h.finished <- j }),
		WithEvictHook(func(j models.Job) { h.evicted <- j }),
		WithLoadSampler(func() (float64, bool) { return 0, false }),
	}, opts...)
	h.s = New(cfg, h.engine, h.locator, opts...)
	t.Cleanup(h.s.Close)
	return h
}

func (h *harness) holdDetect() chan struct{} {
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	h.engine.hold = make(chan struct{})
	return h.engine.hold
}

func (h *harness) submit(t *testing.T, id string) models.Job {
	t.Helper()
	job, err := h.s.Submit(id, "")
	if err != nil {
		t.Fatalf("submit %s: %v", id, err)
	}
	return job
}

func (h *harness) status(t *testing.T, id string) models.Job {
	t.Helper()
	job, ok := h.s.Status(id)
	if !ok {
		t.Fatalf("expected job %s to exist", id)
	}
	return job
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func TestCeilingAdmitsExactlyC(t *testing.T) {
	h := newHarness(t, testConfig(2))
	hold := h.holdDetect()

	for _, id := range []string{"a", "b", "c"} {
		h.submit(t, id)
	}
	waitFor(t, h.engine.entered, "first detect")
	waitFor(t, h.engine.entered, "second detect")

	if got := h.status(t, "a").Status; got != models.StatusProcessing {
		t.Fatalf("expected a processing, got %s", got)
	}
	if got := h.status(t, "b").Status; got != models.StatusProcessing {
		t.Fatalf("expected b processing, got %s", got)
	}
	c := h.status(t, "c")
	if c.Status != models.StatusQueued || c.Progress != 0 {
		t.Fatalf("expected c queued at 0%%, got %s %d", c.Status, c.Progress)
	}
	if h.s.CanAdmit() || h.s.Active() != 2 || h.s.QueueDepth() != 1 {
		t.Fatalf("unexpected gate state active=%d depth=%d", h.s.Active(), h.s.QueueDepth())
	}

	hold <- struct{}{}
	done := waitFor(t, h.finished, "one completion")
	if done.Status != models.StatusCompleted {
		t.Fatalf("expected completion, got %+v", done)
	}
	if got := h.status(t, "c").Status; got != models.StatusProcessing {
		t.Fatalf("expected c promoted on completion, got %s", got)
	}
	if h.s.QueueDepth() != 0 || h.s.Active() != 2 {
		t.Fatalf("expected exactly one promotion, active=%d depth=%d", h.s.Active(), h.s.QueueDepth())
	}
	if got := waitFor(t, h.engine.entered, "promoted detect"); got != "in/c" {
		t.Fatalf("expected c to start detection, got %s", got)
	}
}

func TestTransformScenario(t *testing.T) {
	h := newHarness(t, testConfig(1))
	h.engine.duration = 10
	h.engine.outDuration = 8
	h.engine.silenceLog = "silence_start: 2\nsilence_end: 3\nsilence_start: 3.5\nsilence_end: 4\n"

	h.submit(t, "talk")
	job := waitFor(t, h.finished, "completion")

	want := [][]interval.Interval{{{Start: 0, End: 2}, {Start: 4, End: 10}}}
	if !reflect.DeepEqual(h.engine.keeps, want) {
		t.Fatalf("expected keep segments %v, got %v", want, h.engine.keeps)
	}
	res := job.Result
	if job.Status != models.StatusCompleted || job.Progress != 100 || res == nil {
		t.Fatalf("unexpected job %+v", job)
	}
	if res.SilencesRemoved != 1 || res.TimeSaved != 2 || res.PercentageSaved != 20 || res.PassThrough {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Resolution != "1280x720" || res.Codec != "h264" {
		t.Fatalf("expected output metadata in result, got %+v", res)
	}
	if !strings.Contains(job.Message, "removed 1") {
		t.Fatalf("expected completion message, got %q", job.Message)
	}
}

func TestEmptySilenceListPassesThrough(t *testing.T) {
	h := newHarness(t, testConfig(1))
	h.engine.duration = 30
	h.engine.outDuration = 29.98

	h.submit(t, "quiet")
	job := waitFor(t, h.finished, "completion")

	if h.engine.copies != 1 || len(h.engine.keeps) != 0 {
		t.Fatalf("expected one copy and no transform, copies=%d transforms=%d", h.engine.copies, len(h.engine.keeps))
	}
	res := job.Result
	if !res.PassThrough || res.TimeSaved != 0 || res.PercentageSaved != 0 || res.SilencesRemoved != 0 {
		t.Fatalf("unexpected pass-through result %+v", res)
	}
}

func TestFullySilentInputPassesThrough(t *testing.T) {
	h := newHarness(t, testConfig(1))
	h.engine.duration = 5
	h.engine.silenceLog = "silence_start: 0\nsilence_end: 5\n"

	h.submit(t, "mute")
	job := waitFor(t, h.finished, "completion")
	if !job.Result.PassThrough || h.engine.copies != 1 {
		t.Fatalf("expected pass-through for fully silent input, got %+v", job.Result)
	}
}

func TestVideoWithoutAudioPassesThrough(t *testing.T) {
	h := newHarness(t, testConfig(1))
	h.engine.noAudio = true
	h.engine.duration = 12
	h.engine.outDuration = 12
	h.engine.detectErrs["in/silent-film"] = []error{&media.ExecError{
		Op:     "ffmpeg detect",
		Err:    errors.New("exit status 1"),
		Output: "Output file #0 does not contain any stream",
	}}

	h.submit(t, "silent-film")
	job := waitFor(t, h.finished, "completion")

	if job.Status != models.StatusCompleted || job.Result == nil || !job.Result.PassThrough {
		t.Fatalf("expected pass-through completion, got %+v", job)
	}
	if h.engine.copies != 1 || len(h.engine.keeps) != 0 {
		t.Fatalf("expected one copy and no transform, copies=%d transforms=%d", h.engine.copies, len(h.engine.keeps))
	}
	if n := len(h.engine.entered); n != 0 {
		t.Fatalf("expected detection skipped, got %d calls", n)
	}
}

func TestTransientFailureRequeuesToTailThenFails(t *testing.T) {
	rec := &memoryRecorder{}
	h := newHarness(t, testConfig(1), WithRecorder(rec))
	transient := errors.New("read in/a: connection reset by peer")
	h.engine.detectErrs["in/a"] = []error{transient, transient}
	hold := h.holdDetect()

	h.submit(t, "a")
	waitFor(t, h.engine.entered, "a detect")
	h.submit(t, "b")

	hold <- struct{}{}
	if got := waitFor(t, h.engine.entered, "b detect"); got != "in/b" {
		t.Fatalf("expected b to run after a was requeued, got %s", got)
	}
	a := h.status(t, "a")
	if a.Status != models.StatusQueued || a.Attempts != 1 || a.Progress != 0 {
		t.Fatalf("expected a requeued with one retry, got %+v", a)
	}
	if !strings.Contains(a.Message, "attempt 2 of 2") {
		t.Fatalf("unexpected requeue message %q", a.Message)
	}

	hold <- struct{}{}
	if b := waitFor(t, h.finished, "b completion"); b.ID != "b" || b.Status != models.StatusCompleted {
		t.Fatalf("expected b completed, got %+v", b)
	}
	waitFor(t, h.engine.entered, "a second attempt")
	hold <- struct{}{}
	a = waitFor(t, h.finished, "a terminal")
	if a.Status != models.StatusFailed || a.Category != string(retry.CategoryExhausted) {
		t.Fatalf("expected a failed after retries, got %+v", a)
	}
	if a.Result != nil {
		t.Fatalf("failed job must not carry a result")
	}

	h.s.Close()
	want := []string{models.EventSubmitted, models.EventStarted, models.EventRetry, models.EventStarted, models.EventFailed}
	if got := rec.names("a"); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected audit trail %v, got %v", want, got)
	}
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, testConfig(1))
	h.engine.detectErrs["in/bad"] = []error{errors.New("Invalid data found when processing input")}

	h.submit(t, "bad")
	job := waitFor(t, h.finished, "failure")
	if job.Status != models.StatusFailed || job.Attempts != 0 || job.Category != string(retry.CategoryGeneric) {
		t.Fatalf("expected immediate generic failure, got %+v", job)
	}
	if strings.Contains(job.Message, "Invalid data") {
		t.Fatalf("raw engine text leaked into message %q", job.Message)
	}
}

func TestPhaseTimeoutFailsWithTimeoutCategory(t *testing.T) {
	cfg := testConfig(1)
	cfg.PhaseTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg)
	h.holdDetect()

	h.submit(t, "slow")
	job := waitFor(t, h.finished, "timeout")
	if job.Status != models.StatusFailed || job.Category != string(retry.CategoryTimeout) {
		t.Fatalf("expected timeout failure, got %+v", job)
	}
	if h.s.Active() != 0 {
		t.Fatalf("expected slot released after timeout")
	}
}

func TestMalformedSilenceIsInternalError(t *testing.T) {
	h := newHarness(t, testConfig(1))
	h.engine.silenceLog = "silence_start: 5\nsilence_end: 3\n"

	h.submit(t, "broken")
	job := waitFor(t, h.finished, "failure")
	if job.Category != string(retry.CategoryInternal) || job.Attempts != 0 {
		t.Fatalf("expected internal failure without retry, got %+v", job)
	}
}

func TestSubmitRejectsMissingInput(t *testing.T) {
	h := newHarness(t, testConfig(1))
	h.locator.missing["in/ghost"] = true
	if _, err := h.s.Submit("ghost", ""); !errors.Is(err, ErrInputMissing) {
		t.Fatalf("expected ErrInputMissing, got %v", err)
	}
	if _, ok := h.s.Status("ghost"); ok {
		t.Fatalf("rejected job must not be recorded")
	}
	if _, err := h.s.Submit("", ""); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("expected ErrEmptyID, got %v", err)
	}
}

func TestCancelQueuedRemovesRecord(t *testing.T) {
	h := newHarness(t, testConfig(1))
	h.holdDetect()
	h.submit(t, "a")
	h.submit(t, "b")

	if err := h.s.Cancel("b"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := h.s.Status("b"); ok {
		t.Fatalf("expected cancelled queued job to be removed")
	}
	if ev := waitFor(t, h.evicted, "eviction"); ev.ID != "b" {
		t.Fatalf("expected b evicted, got %s", ev.ID)
	}
	if h.s.QueueDepth() != 0 {
		t.Fatalf("expected empty queue")
	}
	if err := h.s.Cancel("b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelProcessingKillsAndPromotesNext(t *testing.T) {
	h := newHarness(t, testConfig(1))
	h.holdDetect()
	h.submit(t, "a")
	waitFor(t, h.engine.entered, "a detect")
	h.submit(t, "b")

	if err := h.s.Cancel("a"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	a := h.status(t, "a")
	if a.Status != models.StatusFailed || a.Category != string(retry.CategoryCancelled) {
		t.Fatalf("expected a failed as cancelled, got %+v", a)
	}
	if got := waitFor(t, h.engine.entered, "b detect"); got != "in/b" {
		t.Fatalf("expected b promoted after a's engine call stopped, got %s", got)
	}
	if got := h.status(t, "a"); got.Status != models.StatusFailed {
		t.Fatalf("late result must not overwrite cancellation, got %s", got.Status)
	}
}

func TestCancelWithoutKillDiscardsLateResult(t *testing.T) {
	cfg := testConfig(1)
	cfg.KillOnCancel = false
	h := newHarness(t, cfg)
	hold := h.holdDetect()
	h.submit(t, "a")
	waitFor(t, h.engine.entered, "a detect")
	h.submit(t, "b")

	if err := h.s.Cancel("a"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitFor(t, h.finished, "cancel notification")
	if h.s.Active() != 1 {
		t.Fatalf("slot stays held until the engine call returns")
	}

	hold <- struct{}{}
	waitFor(t, h.engine.entered, "b detect")
	a := h.status(t, "a")
	if a.Status != models.StatusFailed || a.Result != nil {
		t.Fatalf("expected cancelled job untouched by late result, got %+v", a)
	}
}

func TestResubmitReplacesQueuedJob(t *testing.T) {
	h := newHarness(t, testConfig(1))
	h.holdDetect()
	h.submit(t, "a")
	h.submit(t, "b")
	h.submit(t, "c")
	h.submit(t, "b")

	if h.s.QueueDepth() != 2 {
		t.Fatalf("expected reused id to occupy one queue slot, depth=%d", h.s.QueueDepth())
	}
	if got := h.s.pending.Position("b"); got != 2 {
		t.Fatalf("expected resubmitted b at the tail, position=%d", got)
	}
}

func TestSweepRemovesOnlyOldTerminalJobs(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	h := newHarness(t, testConfig(1), WithClock(clock))

	h.submit(t, "done")
	waitFor(t, h.finished, "completion")
	h.holdDetect()
	h.submit(t, "running")
	waitFor(t, h.engine.entered, "running detect")
	h.submit(t, "waiting")

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	if n := h.s.Sweep(time.Hour); n != 1 {
		t.Fatalf("expected one job swept, got %d", n)
	}
	if _, ok := h.s.Status("done"); ok {
		t.Fatalf("expected completed job swept")
	}
	for _, id := range []string{"running", "waiting"} {
		if _, ok := h.s.Status(id); !ok {
			t.Fatalf("expected %s to survive sweep", id)
		}
	}
	if ev := waitFor(t, h.evicted, "sweep eviction"); ev.ID != "done" {
		t.Fatalf("expected done evicted, got %s", ev.ID)
	}
	if n := h.s.Sweep(time.Hour); n != 0 {
		t.Fatalf("expected nothing left to sweep, got %d", n)
	}
}

func TestStatusIsSnapshot(t *testing.T) {
	h := newHarness(t, testConfig(1))
	h.submit(t, "a")
	job := waitFor(t, h.finished, "completion")
	job.Result.TimeSaved = 999

	if got := h.status(t, "a"); got.Result.TimeSaved == 999 {
		t.Fatalf("snapshot shares result with scheduler state")
	}
}

func TestLocalizedMessages(t *testing.T) {
	cfg := testConfig(1)
	cfg.Locale = "es-MX"
	h := newHarness(t, cfg)
	h.holdDetect()
	h.submit(t, "a")
	if got := h.submit(t, "b"); got.Message != "En cola." {
		t.Fatalf("expected spanish queued message, got %q", got.Message)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	h := newHarness(t, testConfig(1))
	h.s.Close()
	if _, err := h.s.Submit("late", ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestLoadFallsBackToUtilisation(t *testing.T) {
	h := newHarness(t, testConfig(2))
	h.holdDetect()
	h.submit(t, "a")
	if got := h.s.Load(); got != 50 {
		t.Fatalf("expected 50%% load with one of two slots busy, got %v", got)
	}
}

func TestReduceCapsAfterMerge(t *testing.T) {
	var silences []interval.Interval
	for i := 0; i < 12; i++ {
		start := float64(i * 10)
		silences = append(silences, interval.Interval{Start: start, End: start + 1 + float64(i)*0.1})
	}
	got, err := Reduce(silences, 2, 10)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if len(got) != 10 || got[0].Start != 20 {
		t.Fatalf("expected two shortest dropped, got %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Start <= got[i-1].Start {
			t.Fatalf("expected start order, got %v", got)
		}
	}
}

func ExampleReduce() {
	got, _ := Reduce([]interval.Interval{{Start: 2, End: 3}, {Start: 3.5, End: 4}}, 2, 10)
	fmt.Println(got)
	// Output: [[2.000, 4.000)]
}
