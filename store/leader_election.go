package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	valkey "github.com/valkey-io/valkey-go"
	"go.uber.org/zap"
)

const (
	defaultLeaseTTL   = 30 * time.Second
	defaultLeaseRenew = 10 * time.Second
	sweeperLeaseKey   = "lease:sweeper"
)

// renewLease extends the lease only while it still names this holder.
var renewLease = valkey.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// releaseLease deletes the lease only while it still names this holder.
var releaseLease = valkey.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// LeaderElectionConfig tunes a LeaderElection. Zero values take defaults.
type LeaderElectionConfig struct {
	// LockTTL bounds how long a crashed holder blocks the others.
	LockTTL time.Duration
	// RenewPeriod must stay below LockTTL.
	RenewPeriod time.Duration
	// Identity defaults to hostname plus a random suffix.
	Identity string
	Logger   *zap.Logger
}

// LeaderElection holds a Valkey lease so that deployment-wide housekeeping,
// such as the expired row sweeper, runs on one instance at a time.
type LeaderElection struct {
	client   valkey.Client
	key      string
	identity string
	ttl      time.Duration
	renew    time.Duration
	log      *zap.Logger

	leading  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewLeaderElection returns an election over the lease stored under prefix.
func NewLeaderElection(client valkey.Client, prefix string, cfg LeaderElectionConfig) *LeaderElection {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLeaseTTL
	}
	if cfg.RenewPeriod <= 0 || cfg.RenewPeriod >= cfg.LockTTL {
		cfg.RenewPeriod = min(defaultLeaseRenew, cfg.LockTTL/3)
	}
	if cfg.Identity == "" {
		host, _ := os.Hostname()
		cfg.Identity = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &LeaderElection{
		client:   client,
		key:      prefix + sweeperLeaseKey,
		identity: cfg.Identity,
		ttl:      cfg.LockTTL,
		renew:    cfg.RenewPeriod,
		log:      cfg.Logger.Named("leader").With(zap.String("identity", cfg.Identity)),
		stop:     make(chan struct{}),
	}
}

// IsLeader reports whether this instance held the lease at its last check.
func (le *LeaderElection) IsLeader() bool {
	return le.leading.Load()
}

// GetCurrentLeader returns the identity holding the lease, or "" when free.
func (le *LeaderElection) GetCurrentLeader(ctx context.Context) (string, error) {
	holder, err := le.client.Do(ctx, le.client.B().Get().Key(le.key).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", nil
	}
	return holder, err
}

// Start campaigns immediately and then every renew period until ctx is done
// or Stop is called. Leadership is released on the way out.
func (le *LeaderElection) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(le.renew)
		defer ticker.Stop()
		for {
			le.tick(ctx)
			select {
			case <-ctx.Done():
				le.resign(context.WithoutCancel(ctx))
				return
			case <-le.stop:
				le.resign(ctx)
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the campaign. It is safe to call more than once.
func (le *LeaderElection) Stop() {
	le.stopOnce.Do(func() { close(le.stop) })
}

// RunWithLeaderElection calls fn only while this instance leads and reports
// whether it ran.
func (le *LeaderElection) RunWithLeaderElection(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	if !le.IsLeader() {
		return false, nil
	}
	return true, fn(ctx)
}

func (le *LeaderElection) tick(ctx context.Context) {
	if le.leading.Load() {
		n, err := renewLease.Exec(ctx, le.client, []string{le.key},
			[]string{le.identity, strconv.FormatInt(le.ttl.Milliseconds(), 10)}).AsInt64()
		switch {
		case err != nil:
			le.log.Warn("lease renewal failed", zap.Error(err))
			le.leading.Store(false)
		case n == 0:
			le.log.Info("leadership lost")
			le.leading.Store(false)
		}
		return
	}

	err := le.client.Do(ctx, le.client.B().Set().Key(le.key).Value(le.identity).
		Nx().Px(le.ttl).Build()).Error()
	switch {
	case valkey.IsValkeyNil(err):
	case err != nil:
		le.log.Warn("lease acquisition failed", zap.Error(err))
	default:
		le.log.Info("leadership acquired")
		le.leading.Store(true)
	}
}

func (le *LeaderElection) resign(ctx context.Context) {
	if !le.leading.Swap(false) {
		return
	}
	if err := releaseLease.Exec(ctx, le.client, []string{le.key}, []string{le.identity}).Error(); err != nil {
		le.log.Warn("lease release failed", zap.Error(err))
	}
}
