package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
	"github.com/JoseETeixeira/UniRig-Interface/internal/metrics"
	"github.com/JoseETeixeira/UniRig-Interface/internal/platform/correlation"
)

const sweepTimeout = 5 * time.Minute

// Leader gates cleanup sweeps in multi-instance deployments so expired
// sessions are reclaimed once, not once per instance.
type Leader interface {
	TryBecomeLeader(ctx context.Context) (bool, error)
	RenewLease(ctx context.Context) error
	ReleaseLease(ctx context.Context) error
}

// AlwaysLeader is the single-instance stand-in: every sweep runs.
type AlwaysLeader struct{}

func (AlwaysLeader) TryBecomeLeader(ctx context.Context) (bool, error) { return true, nil }
func (AlwaysLeader) RenewLease(ctx context.Context) error              { return nil }
func (AlwaysLeader) ReleaseLease(ctx context.Context) error            { return nil }

// CleanupEngine reclaims session storage on a periodic timer: expired
// sessions every cycle, plus least-recently-accessed sessions out of cycle
// while the disk sits in the critical tier.
type CleanupEngine struct {
	sessions  domain.SessionRepository
	jobs      domain.JobRepository
	artifacts domain.ArtifactStore
	limiter   domain.RateLimiter
	disk      domain.DiskMonitor
	leader    Leader
	clock     clockwork.Clock

	sessionTTL time.Duration
	interval   time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCleanupEngine(
	sessions domain.SessionRepository,
	jobs domain.JobRepository,
	artifacts domain.ArtifactStore,
	limiter domain.RateLimiter,
	disk domain.DiskMonitor,
	leader Leader,
	clock clockwork.Clock,
	sessionTTL, interval time.Duration,
) *CleanupEngine {
	return &CleanupEngine{
		sessions:   sessions,
		jobs:       jobs,
		artifacts:  artifacts,
		limiter:    limiter,
		disk:       disk,
		leader:     leader,
		clock:      clock,
		sessionTTL: sessionTTL,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the periodic sweep loop.
func (e *CleanupEngine) Start() {
	ticker := e.clock.NewTicker(e.interval)
	e.wg.Go(func() {
		for {
			select {
			case <-ticker.Chan():
				e.Sweep(context.Background())
			case <-e.stopCh:
				ticker.Stop()
				return
			}
		}
	})
	slog.Info("cleanup engine started", "interval", e.interval)
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (e *CleanupEngine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	e.wg.Wait()
}

// Sweep runs one cleanup cycle: expired sessions first, then an emergency
// pass while the disk is critical. Non-leaders skip the cycle.
func (e *CleanupEngine) Sweep(ctx context.Context) {
	ctx = correlation.WithID(ctx, correlation.NewID())
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	isLeader, err := e.leader.TryBecomeLeader(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "leader election failed, skipping sweep", "error", err)
		return
	}
	if !isLeader {
		slog.DebugContext(ctx, "not the cleanup leader, skipping sweep")
		return
	}
	defer func() {
		if err := e.leader.ReleaseLease(context.WithoutCancel(ctx)); err != nil {
			slog.ErrorContext(ctx, "failed to release cleanup leadership", "error", err)
		}
	}()

	start := e.clock.Now()
	defer func() {
		metrics.CleanupSweepDurationSeconds.Observe(e.clock.Since(start).Seconds())
	}()

	e.sweepExpired(ctx)

	// The emergency pass can walk every session; renew the lease so a slow
	// walk does not hand leadership to another instance mid-sweep.
	if err := e.leader.RenewLease(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to renew cleanup leadership, skipping disk pressure pass", "error", err)
		return
	}
	e.sweepDiskPressure(ctx)
}

func (e *CleanupEngine) sweepExpired(ctx context.Context) {
	defer metrics.CleanupSweepsTotal.WithLabelValues("periodic").Inc()

	cutoff := e.clock.Now().Add(-e.sessionTTL)
	expired, err := e.sessions.ListExpired(ctx, cutoff)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list expired sessions", "error", err)
		return
	}

	for _, session := range expired {
		e.reclaim(ctx, session, "expired")
	}
}

// sweepDiskPressure reclaims least-recently-accessed sessions while the
// disk stays critical. Expiry does not matter here; a session with a
// running job is never touched.
func (e *CleanupEngine) sweepDiskPressure(ctx context.Context) {
	snapshot, err := e.disk.Snapshot()
	if err != nil {
		slog.ErrorContext(ctx, "failed to read disk state", "error", err)
		return
	}
	if snapshot.Tier != domain.PressureCritical {
		return
	}

	slog.WarnContext(ctx, "disk critical, starting emergency sweep", "free_bytes", snapshot.FreeBytes)
	defer metrics.CleanupSweepsTotal.WithLabelValues("emergency").Inc()

	candidates, err := e.sessions.ListByLastAccess(ctx, 0)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list sessions for emergency sweep", "error", err)
		return
	}

	for _, session := range candidates {
		if !e.reclaim(ctx, session, "disk_pressure") {
			continue
		}
		snapshot, err = e.disk.Snapshot()
		if err != nil {
			slog.ErrorContext(ctx, "failed to re-read disk state", "error", err)
			return
		}
		if snapshot.Tier != domain.PressureCritical {
			slog.InfoContext(ctx, "disk pressure relieved", "tier", snapshot.Tier, "free_bytes", snapshot.FreeBytes)
			return
		}
	}
	slog.WarnContext(ctx, "emergency sweep exhausted all eligible sessions, disk still critical")
}

// reclaim deletes one session and everything it owns. It reports whether
// anything was actually deleted. Individual failures are logged and
// skipped; they never abort the rest of the sweep.
func (e *CleanupEngine) reclaim(ctx context.Context, session domain.Session, reason string) bool {
	if active, found, err := e.jobs.ActiveJob(ctx, session.ID); err != nil {
		slog.ErrorContext(ctx, "failed to check active job", "session_id", session.ID, "error", err)
		metrics.SessionsSkippedTotal.WithLabelValues("error").Inc()
		return false
	} else if found {
		slog.DebugContext(ctx, "skipping session with active job",
			"session_id", session.ID, "job_id", active.ID, "status", active.Status)
		metrics.SessionsSkippedTotal.WithLabelValues("running_job").Inc()
		return false
	}

	reclaimed, err := e.artifacts.PurgeSession(ctx, session.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to purge session artifacts", "session_id", session.ID, "error", err)
		metrics.SessionsSkippedTotal.WithLabelValues("error").Inc()
		return false
	}
	if _, err := e.jobs.DeleteBySession(ctx, session.ID); err != nil {
		slog.ErrorContext(ctx, "failed to delete session jobs", "session_id", session.ID, "error", err)
		metrics.SessionsSkippedTotal.WithLabelValues("error").Inc()
		return false
	}
	if err := e.sessions.Delete(ctx, session.ID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		slog.ErrorContext(ctx, "failed to delete session", "session_id", session.ID, "error", err)
		metrics.SessionsSkippedTotal.WithLabelValues("error").Inc()
		return false
	}
	if err := e.limiter.Forget(ctx, session.ID); err != nil {
		slog.WarnContext(ctx, "failed to drop rate limit window", "session_id", session.ID, "error", err)
	}

	metrics.SessionsReclaimedTotal.WithLabelValues(reason).Inc()
	metrics.BytesReclaimedTotal.Add(float64(reclaimed))
	slog.InfoContext(ctx, "session reclaimed",
		"session_id", session.ID, "reason", reason, "bytes_reclaimed", reclaimed)
	return true
}
