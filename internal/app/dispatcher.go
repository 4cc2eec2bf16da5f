package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
	"github.com/JoseETeixeira/UniRig-Interface/internal/metrics"
)

// Dispatcher relays admitted jobs to the inference collaborator and writes
// progress and terminal state back into the job store. It is the sole
// writer of a running job's progress and terminal fields; the one
// exception is client cancellation, which the conditional writes in the
// store arbitrate.
type Dispatcher struct {
	jobs    domain.JobRepository
	invoker domain.Invoker
	clock   clockwork.Clock

	// softLimit is when the dispatcher requests cooperative cancellation;
	// hardLimit is when the job is forced to failed with a timeout.
	softLimit time.Duration
	hardLimit time.Duration

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(jobs domain.JobRepository, invoker domain.Invoker, clock clockwork.Clock, softLimit, hardLimit time.Duration) *Dispatcher {
	return &Dispatcher{
		jobs:      jobs,
		invoker:   invoker,
		clock:     clock,
		softLimit: softLimit,
		hardLimit: hardLimit,
		running:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Dispatch runs the job asynchronously. The caller's request returns with
// the pending job immediately; completion is observed by polling.
func (d *Dispatcher) Dispatch(job *domain.Job, inputs map[domain.ArtifactKind]string, outputDir string) {
	ctx, cancel := context.WithCancel(context.Background())

	d.mu.Lock()
	d.running[job.ID] = cancel
	d.mu.Unlock()

	d.wg.Go(func() {
		defer func() {
			cancel()
			d.mu.Lock()
			delete(d.running, job.ID)
			d.mu.Unlock()
		}()
		d.run(ctx, job, inputs, outputDir)
	})
}

// Abort signals the collaborator to stop a job's invocation. The job's
// stored status is not touched here; the caller has already transitioned
// it.
func (d *Dispatcher) Abort(jobID uuid.UUID) {
	d.mu.Lock()
	cancel, ok := d.running[jobID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels all in-flight invocations and waits for their goroutines.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	for _, cancel := range d.running {
		cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, job *domain.Job, inputs map[domain.ArtifactKind]string, outputDir string) {
	start := d.clock.Now()
	defer func() {
		metrics.DispatchDurationSeconds.WithLabelValues(string(job.Stage)).Observe(d.clock.Since(start).Seconds())
	}()

	if err := d.jobs.MarkRunning(ctx, job.ID, start); err != nil {
		// Cancelled between admission and pickup.
		slog.Info("job not dispatchable", "job_id", job.ID, "error", err)
		return
	}
	metrics.JobTransitionsTotal.WithLabelValues(string(job.Stage), string(domain.StatusRunning)).Inc()

	events, err := d.invoker.Invoke(ctx, domain.InvokeRequest{
		JobID:     job.ID,
		Stage:     job.Stage,
		Inputs:    inputs,
		OutputDir: outputDir,
		Config:    job.Config,
	})
	if err != nil {
		d.fail(job, domain.JobError{
			Code:    domain.FailureExitStatus,
			Message: "failed to launch inference",
			Hint:    err.Error(),
		})
		return
	}

	soft := d.clock.NewTimer(d.softLimit)
	defer soft.Stop()
	hard := d.clock.NewTimer(d.hardLimit)
	defer hard.Stop()

	var softFired bool
	for {
		select {
		case event, ok := <-events:
			if !ok {
				// Stream ended without a terminal event.
				d.fail(job, domain.JobError{
					Code:    domain.FailureInvalidIntermediate,
					Message: "inference stream ended without a result",
				})
				return
			}
			if !event.Terminal {
				if err := d.jobs.UpdateProgress(ctx, job.ID, event.Progress); err != nil {
					slog.Warn("progress update failed", "job_id", job.ID, "error", err)
				}
				continue
			}
			switch {
			case event.Failure != nil && softFired && event.Failure.Code == domain.FailureCancelled:
				// The collaborator honored the soft-limit cancellation;
				// the client sees a timeout, not a cancel it never asked for.
				d.fail(job, domain.JobError{
					Code:    domain.FailureTimeout,
					Message: "inference exceeded the time limit and was stopped",
					Hint:    "Retry with a simpler model, or contact the operator if this persists.",
				})
			case event.Failure != nil:
				d.fail(job, *event.Failure)
			default:
				d.complete(job, event.Artifacts)
			}
			return

		case <-soft.Chan():
			// Ask nicely first; the hard limit backstops a collaborator
			// that ignores the signal.
			slog.Warn("dispatch soft limit reached, requesting cancellation", "job_id", job.ID, "stage", job.Stage)
			metrics.DispatchTimeoutsTotal.WithLabelValues("soft").Inc()
			softFired = true
			d.Abort(job.ID)

		case <-hard.Chan():
			metrics.DispatchTimeoutsTotal.WithLabelValues("hard").Inc()
			d.fail(job, domain.JobError{
				Code:    domain.FailureTimeout,
				Message: "inference did not finish within the time limit",
				Hint:    "Retry with a simpler model, or contact the operator if this persists.",
			})
			go drain(events)
			return
		}
	}
}

func (d *Dispatcher) complete(job *domain.Job, artifacts []domain.Artifact) {
	err := d.jobs.Complete(context.Background(), job.ID, artifacts, d.clock.Now())
	if errors.Is(err, domain.ErrAlreadyTerminal) {
		// Lost the race against a client cancel; the stored state wins.
		slog.Debug("completion discarded, job already terminal", "job_id", job.ID)
		return
	}
	if err != nil {
		slog.Error("failed to record completion", "job_id", job.ID, "error", err)
		return
	}
	metrics.JobTransitionsTotal.WithLabelValues(string(job.Stage), string(domain.StatusCompleted)).Inc()
	slog.Info("job completed", "job_id", job.ID, "stage", job.Stage, "artifacts", len(artifacts))
}

func (d *Dispatcher) fail(job *domain.Job, jobErr domain.JobError) {
	err := d.jobs.Fail(context.Background(), job.ID, jobErr, d.clock.Now())
	if errors.Is(err, domain.ErrAlreadyTerminal) {
		slog.Debug("failure discarded, job already terminal", "job_id", job.ID)
		return
	}
	if err != nil {
		slog.Error("failed to record failure", "job_id", job.ID, "error", err)
		return
	}
	metrics.JobTransitionsTotal.WithLabelValues(string(job.Stage), string(domain.StatusFailed)).Inc()
	slog.Warn("job failed", "job_id", job.ID, "stage", job.Stage, "code", jobErr.Code, "message", jobErr.Message)
}

// drain keeps a producer from blocking on its event channel after the
// consumer has given up.
func drain(events <-chan domain.InvokeEvent) {
	for range events {
	}
}
