package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoseETeixeira/UniRig-Interface/internal/adapter/memory"
	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
)

const (
	testSoftLimit = 10 * time.Minute
	testHardLimit = 12 * time.Minute
)

func newDispatcherUnderTest(t *testing.T, invoker *scriptInvoker) (*Dispatcher, *memory.JobRepo, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	jobs := memory.NewJobRepo()
	d := NewDispatcher(jobs, invoker, clock, testSoftLimit, testHardLimit)
	t.Cleanup(d.Stop)
	return d, jobs, clock
}

func seedPendingJob(t *testing.T, jobs *memory.JobRepo) *domain.Job {
	t.Helper()
	job := &domain.Job{
		ID:        uuid.New(),
		SessionID: uuid.New(),
		Stage:     domain.StageSkeleton,
		Status:    domain.StatusPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, jobs.TryAdmit(context.Background(), job))
	return job
}

func waitStatus(t *testing.T, jobs *memory.JobRepo, jobID uuid.UUID, want domain.Status) *domain.Job {
	t.Helper()
	var job *domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = jobs.Get(context.Background(), jobID)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job never reached status %s", want)
	return job
}

func TestDispatcher_SoftLimitRequestsCooperativeCancel(t *testing.T) {
	invoker := &scriptInvoker{script: cooperativeScript}
	d, jobs, clock := newDispatcherUnderTest(t, invoker)
	job := seedPendingJob(t, jobs)

	d.Dispatch(job, map[domain.ArtifactKind]string{domain.ArtifactModel: "in.obj"}, t.TempDir())
	waitStatus(t, jobs, job.ID, domain.StatusRunning)

	// Both limit timers are armed once the invocation is live.
	require.NoError(t, clock.BlockUntilContext(t.Context(), 2))
	clock.Advance(testSoftLimit)

	// The collaborator honors the cancellation, but the client never asked
	// for one: the recorded failure is a timeout.
	failed := waitStatus(t, jobs, job.ID, domain.StatusFailed)
	require.NotNil(t, failed.Error)
	assert.Equal(t, domain.FailureTimeout, failed.Error.Code)
	assert.Contains(t, failed.Error.Message, "time limit")
}

func TestDispatcher_HardLimitForcesTimeout(t *testing.T) {
	// A collaborator that ignores cancellation entirely.
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	invoker := &scriptInvoker{script: func(ctx context.Context, req domain.InvokeRequest, events chan<- domain.InvokeEvent) {
		<-release
	}}
	d, jobs, clock := newDispatcherUnderTest(t, invoker)
	job := seedPendingJob(t, jobs)

	d.Dispatch(job, nil, t.TempDir())
	waitStatus(t, jobs, job.ID, domain.StatusRunning)

	require.NoError(t, clock.BlockUntilContext(t.Context(), 2))
	clock.Advance(testHardLimit)

	failed := waitStatus(t, jobs, job.ID, domain.StatusFailed)
	require.NotNil(t, failed.Error)
	assert.Equal(t, domain.FailureTimeout, failed.Error.Code)
}

func TestDispatcher_LaunchFailure(t *testing.T) {
	invoker := &scriptInvoker{launchErr: assert.AnError}
	d, jobs, _ := newDispatcherUnderTest(t, invoker)
	job := seedPendingJob(t, jobs)

	d.Dispatch(job, nil, t.TempDir())

	failed := waitStatus(t, jobs, job.ID, domain.StatusFailed)
	require.NotNil(t, failed.Error)
	assert.Equal(t, domain.FailureExitStatus, failed.Error.Code)
	assert.Contains(t, failed.Error.Message, "launch")
}

func TestDispatcher_StreamEndsWithoutTerminal(t *testing.T) {
	invoker := &scriptInvoker{script: func(ctx context.Context, req domain.InvokeRequest, events chan<- domain.InvokeEvent) {
		events <- domain.InvokeEvent{Progress: 0.3}
	}}
	d, jobs, _ := newDispatcherUnderTest(t, invoker)
	job := seedPendingJob(t, jobs)

	d.Dispatch(job, nil, t.TempDir())

	failed := waitStatus(t, jobs, job.ID, domain.StatusFailed)
	require.NotNil(t, failed.Error)
	assert.Equal(t, domain.FailureInvalidIntermediate, failed.Error.Code)
	assert.Equal(t, 0.3, failed.Progress)
}

func TestDispatcher_ProgressReachesTheStore(t *testing.T) {
	proceed := make(chan struct{})
	invoker := &scriptInvoker{script: func(ctx context.Context, req domain.InvokeRequest, events chan<- domain.InvokeEvent) {
		events <- domain.InvokeEvent{Progress: 0.5}
		<-proceed
		events <- domain.InvokeEvent{Terminal: true, Artifacts: []domain.Artifact{{
			Kind: domain.ArtifactSkeleton, Name: "skeleton.fbx", SizeBytes: 1,
		}}}
	}}
	d, jobs, _ := newDispatcherUnderTest(t, invoker)
	job := seedPendingJob(t, jobs)

	d.Dispatch(job, nil, t.TempDir())

	require.Eventually(t, func() bool {
		got, err := jobs.Get(context.Background(), job.ID)
		return err == nil && got.Progress == 0.5
	}, 2*time.Second, 5*time.Millisecond)

	close(proceed)
	done := waitStatus(t, jobs, job.ID, domain.StatusCompleted)
	assert.Equal(t, 1.0, done.Progress)
}

func TestDispatcher_ClientCancelWins(t *testing.T) {
	invoker := &scriptInvoker{script: cooperativeScript}
	d, jobs, clock := newDispatcherUnderTest(t, invoker)
	job := seedPendingJob(t, jobs)

	d.Dispatch(job, nil, t.TempDir())
	waitStatus(t, jobs, job.ID, domain.StatusRunning)

	// The client cancels through the store first, then the dispatcher is
	// told to abort. The collaborator's late failure report is discarded.
	ok, err := jobs.Cancel(context.Background(), job.ID, clock.Now())
	require.NoError(t, err)
	require.True(t, ok)
	d.Abort(job.ID)

	d.Stop()
	got, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestDispatcher_CancelledBeforePickupNeverInvokes(t *testing.T) {
	invoker := &scriptInvoker{script: succeedScript}
	d, jobs, clock := newDispatcherUnderTest(t, invoker)
	job := seedPendingJob(t, jobs)

	ok, err := jobs.Cancel(context.Background(), job.ID, clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	d.Dispatch(job, nil, t.TempDir())
	d.Stop()

	assert.Zero(t, invoker.callCount())
	got, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestDispatcher_AbortUnknownJobIsHarmless(t *testing.T) {
	d, _, _ := newDispatcherUnderTest(t, &scriptInvoker{})
	d.Abort(uuid.New())
}

func TestDispatcher_StopCancelsInFlight(t *testing.T) {
	invoker := &scriptInvoker{script: cooperativeScript}
	d, jobs, _ := newDispatcherUnderTest(t, invoker)
	job := seedPendingJob(t, jobs)

	d.Dispatch(job, nil, t.TempDir())
	waitStatus(t, jobs, job.ID, domain.StatusRunning)

	d.Stop()

	got, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
}
