package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNotLeader is returned by RenewLease when this instance lost leadership.
var ErrNotLeader = errors.New("not leader")

// LeaderElection implements single-leader election using Redis SETNX.
// The leader holds a key with a TTL; other instances acquire leadership
// when the key expires (previous leader crashed or partitioned away).
// Cleanup sweeps run only on the leader so sessions are reclaimed exactly
// once per sweep across a multi-instance deployment.
type LeaderElection struct {
	rdb        *goredis.Client
	instanceID string
	key        string
	ttl        time.Duration
}

// NewLeaderElection creates a leader election handle. key names the
// contended role (e.g., "leader:cleanup").
func NewLeaderElection(rdb *goredis.Client, instanceID, key string, ttl time.Duration) *LeaderElection {
	return &LeaderElection{
		rdb:        rdb,
		instanceID: instanceID,
		key:        key,
		ttl:        ttl,
	}
}

// TryBecomeLeader attempts to acquire leadership. It reports true when
// this instance is now the leader.
func (l *LeaderElection) TryBecomeLeader(ctx context.Context) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
}

var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RenewLease extends the leader's TTL. Call periodically (e.g., every
// ttl/2) while holding leadership; ErrNotLeader means another instance
// took over.
func (l *LeaderElection) RenewLease(ctx context.Context) error {
	result, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.instanceID, l.ttl.Milliseconds()).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return ErrNotLeader
	}
	return nil
}

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// ReleaseLease voluntarily gives up leadership during graceful shutdown.
func (l *LeaderElection) ReleaseLease(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.instanceID).Err()
}
