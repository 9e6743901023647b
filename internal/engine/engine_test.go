package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"transcode-worker/internal/executor"
	"transcode-worker/pkg/models"
)

// fakeDispatch is an in-process DispatchClient recording every call it
// receives, with canned AssignJob responses consumed in order.
type fakeDispatch struct {
	mu sync.Mutex

	assignResponses []assignResponse
	assignCalls     int

	heartbeats   []models.HeartbeatReport
	benchmarks   []float64
	completed    []string
	failed       []string
	failReasons  []string
	completedURL []string
}

type assignResponse struct {
	job *models.Job
	ok  bool
	err error
}

func (f *fakeDispatch) Heartbeat(ctx context.Context, r models.HeartbeatReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, r)
	return nil
}

func (f *fakeDispatch) BenchmarkResult(ctx context.Context, engineID string, seconds float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.benchmarks = append(f.benchmarks, seconds)
	return nil
}

func (f *fakeDispatch) AssignJob(ctx context.Context, engineID string) (*models.Job, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignCalls++
	if f.assignCalls-1 >= len(f.assignResponses) {
		return nil, false, nil
	}
	r := f.assignResponses[f.assignCalls-1]
	return r.job, r.ok, r.err
}

func (f *fakeDispatch) CompleteJob(ctx context.Context, jobID, outputURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, jobID)
	f.completedURL = append(f.completedURL, outputURL)
	return nil
}

func (f *fakeDispatch) FailJob(ctx context.Context, jobID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, jobID)
	f.failReasons = append(f.failReasons, reason)
	return nil
}

func (f *fakeDispatch) assignCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assignCalls
}

// fakeLedger is an in-memory Ledger, optionally pre-seeded to simulate a
// prior crash.
type fakeLedger struct {
	mu     sync.Mutex
	jobs   map[string]struct{}
	closed bool
}

func newFakeLedger(seed ...string) *fakeLedger {
	l := &fakeLedger{jobs: make(map[string]struct{})}
	for _, id := range seed {
		l.jobs[id] = struct{}{}
	}
	return l
}

func (l *fakeLedger) Insert(ctx context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs[jobID] = struct{}{}
	return nil
}

func (l *fakeLedger) Remove(ctx context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.jobs, jobID)
	return nil
}

func (l *fakeLedger) List(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.jobs))
	for id := range l.jobs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (l *fakeLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// fakeProber returns fixed capability strings.
type fakeProber struct{}

func (fakeProber) Encoders(ctx context.Context) string       { return "libx264" }
func (fakeProber) Decoders(ctx context.Context) string       { return "h264" }
func (fakeProber) HWAccels(ctx context.Context) string       { return "none" }
func (fakeProber) Hostname(ctx context.Context) string       { return "test-host" }
func (fakeProber) CPUTemperature(ctx context.Context) float64 { return -1.0 }

// fakeTranscoder returns a canned Outcome, optionally blocking until
// released, for exercising drain behavior.
type fakeTranscoder struct {
	outcome executor.Outcome
	release chan struct{} // if non-nil, Execute blocks until this is closed or ctx is cancelled
	started chan struct{}
}

func (f *fakeTranscoder) Execute(ctx context.Context, job executor.Job) executor.Outcome {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return executor.Failed("killed during drain")
		}
	}
	return f.outcome
}

func testConfig() Config {
	return Config{
		PollInterval:        10 * time.Millisecond,
		HeartbeatInterval:   10 * time.Millisecond,
		BenchmarkInterval:   time.Hour, // effectively disabled for most tests
		DrainTimeout:        200 * time.Millisecond,
		ControlPlaneTimeout: time.Second,
	}
}

func TestHappyPathCompletesAndRemovesFromLedger(t *testing.T) {
	dispatch := &fakeDispatch{
		assignResponses: []assignResponse{
			{job: &models.Job{JobID: "J1", SourceURL: "http://x/in.mp4", TargetCodec: "h264"}, ok: true},
		},
	}
	ledger := newFakeLedger()
	transcoder := &fakeTranscoder{outcome: executor.Completed("http://x/out.mp4")}

	e := New(Identity{EngineID: "engine-0001"}, testConfig(), zerolog.Nop(), dispatch, ledger, fakeProber{}, transcoder)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	require.Contains(t, dispatch.completed, "J1")
	require.Equal(t, "http://x/out.mp4", dispatch.completedURL[0])
	require.Empty(t, dispatch.failed)

	ids, err := ledger.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestTranscoderFailureReportsFailJob(t *testing.T) {
	dispatch := &fakeDispatch{
		assignResponses: []assignResponse{
			{job: &models.Job{JobID: "J2", SourceURL: "http://x/in.mp4", TargetCodec: "h264"}, ok: true},
		},
	}
	ledger := newFakeLedger()
	transcoder := &fakeTranscoder{outcome: executor.Failed("FFmpeg transcoding failed.")}

	e := New(Identity{EngineID: "engine-0001"}, testConfig(), zerolog.Nop(), dispatch, ledger, fakeProber{}, transcoder)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	require.Contains(t, dispatch.failed, "J2")
	require.Equal(t, "FFmpeg transcoding failed.", dispatch.failReasons[0])
}

func TestIdlePollingMakesOneCallPerInterval(t *testing.T) {
	dispatch := &fakeDispatch{} // every AssignJob call returns no job
	ledger := newFakeLedger()
	transcoder := &fakeTranscoder{}

	cfg := testConfig()
	cfg.PollInterval = 20 * time.Millisecond
	e := New(Identity{EngineID: "engine-0001"}, cfg, zerolog.Nop(), dispatch, ledger, fakeProber{}, transcoder)

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	calls := dispatch.assignCallCount()
	require.GreaterOrEqual(t, calls, 3)
	require.LessOrEqual(t, calls, 7)
}

func TestCrashRecoveryReplaysLedgerBeforeFirstAssign(t *testing.T) {
	dispatch := &fakeDispatch{}
	ledger := newFakeLedger("stale-job-1", "stale-job-2")
	transcoder := &fakeTranscoder{}

	e := New(Identity{EngineID: "engine-0001"}, testConfig(), zerolog.Nop(), dispatch, ledger, fakeProber{}, transcoder)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	require.ElementsMatch(t, []string{"stale-job-1", "stale-job-2"}, dispatch.failed)
	for _, reason := range dispatch.failReasons {
		require.Equal(t, "worker restarted mid-job", reason)
	}

	ids, err := ledger.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestShellInjectionCodecIsRejectedByExecutorNotCrashingEngine(t *testing.T) {
	dispatch := &fakeDispatch{
		assignResponses: []assignResponse{
			{job: &models.Job{JobID: "J3", SourceURL: "http://x/in.mp4", TargetCodec: "h264; rm -rf /"}, ok: true},
		},
	}
	ledger := newFakeLedger()
	transcoder := &fakeTranscoder{outcome: executor.Failed("invalid target_codec")}

	e := New(Identity{EngineID: "engine-0001"}, testConfig(), zerolog.Nop(), dispatch, ledger, fakeProber{}, transcoder)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	require.Contains(t, dispatch.failed, "J3")
	require.Equal(t, "invalid target_codec", dispatch.failReasons[0])
}

func TestDrainWaitsForInFlightJobThenReportsCompletion(t *testing.T) {
	dispatch := &fakeDispatch{
		assignResponses: []assignResponse{
			{job: &models.Job{JobID: "J4", SourceURL: "http://x/in.mp4", TargetCodec: "h264"}, ok: true},
		},
	}
	ledger := newFakeLedger()
	release := make(chan struct{})
	started := make(chan struct{})
	transcoder := &fakeTranscoder{outcome: executor.Completed("http://x/out.mp4"), release: release, started: started}

	cfg := testConfig()
	cfg.DrainTimeout = time.Second
	e := New(Identity{EngineID: "engine-0001"}, cfg, zerolog.Nop(), dispatch, ledger, fakeProber{}, transcoder)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	<-started
	cancel() // request shutdown while the job is still executing
	time.Sleep(20 * time.Millisecond)
	close(release) // let the job finish

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not shut down after draining")
	}

	require.Contains(t, dispatch.completed, "J4")
}

func TestDrainForceFailsJobPastDrainTimeout(t *testing.T) {
	dispatch := &fakeDispatch{
		assignResponses: []assignResponse{
			{job: &models.Job{JobID: "J5", SourceURL: "http://x/in.mp4", TargetCodec: "h264"}, ok: true},
		},
	}
	ledger := newFakeLedger()
	release := make(chan struct{}) // never closed: simulates a stuck transcode
	started := make(chan struct{})
	transcoder := &fakeTranscoder{outcome: executor.Completed("unused"), release: release, started: started}

	cfg := testConfig()
	cfg.DrainTimeout = 30 * time.Millisecond
	e := New(Identity{EngineID: "engine-0001"}, cfg, zerolog.Nop(), dispatch, ledger, fakeProber{}, transcoder)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	<-started
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not force-fail and shut down after drain timeout")
	}

	require.Contains(t, dispatch.failed, "J5")
	require.Equal(t, "drain timeout exceeded", dispatch.failReasons[len(dispatch.failReasons)-1])
}

func TestHeartbeatIncludesCurrentJobQueue(t *testing.T) {
	dispatch := &fakeDispatch{} // idle the whole time; assign returns no job
	ledger := newFakeLedger("queued-job")
	transcoder := &fakeTranscoder{}

	cfg := testConfig()
	cfg.PollInterval = time.Hour // keep the poll loop to its single initial assign_job call
	e := New(Identity{EngineID: "engine-0001"}, cfg, zerolog.Nop(), dispatch, ledger, fakeProber{}, transcoder)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	// The replay step unconditionally fails pre-existing ledger entries on
	// startup, so by the time any heartbeat fires the queue is empty again —
	// this asserts that behavior rather than a queue snapshot mid-flight.
	require.Contains(t, dispatch.failed, "queued-job")
	require.NotEmpty(t, dispatch.heartbeats)
	for _, hb := range dispatch.heartbeats {
		require.Equal(t, "[]", hb.LocalJobQueue)
	}
}
