package store

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultSweepInterval is how often expired rows are purged.
const DefaultSweepInterval = 10 * time.Minute

// Sweeper purges token bundles and CIBA grants that can no longer be used.
type Sweeper struct {
	db       *gorm.DB
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewSweeper returns a sweeper running every interval.
func NewSweeper(db *gorm.DB, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{db: db, interval: interval, log: log.Named("sweeper"), now: time.Now}
}

// SweepResult counts the rows removed by one sweep.
type SweepResult struct {
	Tokens     int64
	CibaGrants int64
}

// Sweep removes expired rows once.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now().UTC()
	var out SweepResult

	res := s.db.WithContext(ctx).
		Where("access_token_expires_at <= ? AND (refresh_token_expires_at IS NULL OR refresh_token_expires_at <= ?)", now, now).
		Delete(&oauthTokenRecord{})
	if res.Error != nil {
		return out, res.Error
	}
	out.Tokens = res.RowsAffected

	res = s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&cibaGrantRecord{})
	if res.Error != nil {
		return out, res.Error
	}
	out.CibaGrants = res.RowsAffected
	return out, nil
}

// Run sweeps every interval while the leader election holds leadership,
// until ctx is done.
func (s *Sweeper) Run(ctx context.Context, le *LeaderElection) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ran, err := le.RunWithLeaderElection(ctx, func(ctx context.Context) error {
				res, err := s.Sweep(ctx)
				if err == nil && (res.Tokens > 0 || res.CibaGrants > 0) {
					s.log.Info("expired rows purged",
						zap.Int64("tokens", res.Tokens),
						zap.Int64("ciba_grants", res.CibaGrants))
				}
				return err
			})
			if ran && err != nil {
				s.log.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}
