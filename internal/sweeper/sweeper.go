// Package sweeper runs the periodic timeout sweep over stale PENDING
// payments.  Lazy expiry on inspect/confirm already keeps state correct;
// this loop only releases seats of payments nobody calls back about.
package sweeper

import (
    "context"
    "time"

    "go.uber.org/zap"
)

// Target is the operation the loop drives.
type Target interface {
    SweepExpired(ctx context.Context, limit int) (int, error)
}

// Sweeper calls Target.SweepExpired every Interval.
type Sweeper struct {
    Target   Target
    Interval time.Duration
    Batch    int
    Log      *zap.Logger
}

// Run blocks until ctx is cancelled.  A pass that cancels a full batch is
// followed immediately by another one.
func (s *Sweeper) Run(ctx context.Context) {
    if s.Interval <= 0 {
        return
    }
    t := time.NewTicker(s.Interval)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            s.drain(ctx)
        }
    }
}

func (s *Sweeper) drain(ctx context.Context) {
    for ctx.Err() == nil {
        n, err := s.Target.SweepExpired(ctx, s.Batch)
        if err != nil {
            s.Log.Error("sweep failed", zap.Error(err))
            return
        }
        if n > 0 {
            s.Log.Info("sweep cancelled stale payments", zap.Int("count", n))
        }
        if s.Batch <= 0 || n < s.Batch {
            return
        }
    }
}
