package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
)

// RateLimiter is a sliding-window admission control: it keeps the
// timestamps of admitted events per session and admits while fewer than
// limit remain inside the trailing window. Prune, check, and record
// happen in one critical section.
type RateLimiter struct {
	clock  clockwork.Clock
	limit  int
	window time.Duration

	mu     sync.Mutex
	events map[uuid.UUID][]time.Time
}

func NewRateLimiter(clock clockwork.Clock, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		clock:  clock,
		limit:  limit,
		window: window,
		events: make(map[uuid.UUID][]time.Time),
	}
}

func (l *RateLimiter) Admit(ctx context.Context, sessionID uuid.UUID) (domain.RateDecision, error) {
	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Lazy prune: drop entries that have left the window.
	kept := l.events[sessionID][:0]
	for _, ts := range l.events[sessionID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		l.events[sessionID] = kept
		oldest := kept[0]
		return domain.RateDecision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: oldest.Sub(cutoff),
		}, nil
	}

	l.events[sessionID] = append(kept, now)
	return domain.RateDecision{
		Allowed:   true,
		Remaining: l.limit - len(kept) - 1,
	}, nil
}

// Forget drops a session's window, freeing memory when the session is
// deleted.
func (l *RateLimiter) Forget(ctx context.Context, sessionID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, sessionID)
	return nil
}
