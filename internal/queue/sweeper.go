package queue

import (
	"context"
	"math/rand"
	"time"

	"github.com/taskqd/taskqd/pkg/log"
)

// StartSweeper launches the background loop that reclaims expired leases,
// evicts stale dedup entries, and purges dead letters past retention. It is a
// no-op if the sweeper is already running.
func (e *Engine) StartSweeper(interval time.Duration, maxPerTick int) {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()
	if e.sweepStop != nil {
		return
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxPerTick <= 0 {
		maxPerTick = 256
	}
	stop := make(chan struct{})
	e.sweepStop = stop

	go func() {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		for {
			// Jitter keeps multiple engines on one host from sweeping in step.
			jitter := time.Duration(rng.Int63n(int64(interval/10) + 1))
			select {
			case <-stop:
				return
			case <-time.After(interval + jitter):
				e.sweepOnce(maxPerTick)
			}
		}
	}()
	e.logger.Info("sweeper started", log.Str("interval", interval.String()))
}

// StopSweeper stops the background loop. Safe to call when not running.
func (e *Engine) StopSweeper() {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()
	if e.sweepStop == nil {
		return
	}
	close(e.sweepStop)
	e.sweepStop = nil
}

func (e *Engine) sweepOnce(maxPerTick int) {
	ctx := context.Background()
	now := e.nowMs()

	if n, err := e.SweepExpired(ctx, now, maxPerTick); err != nil {
		e.logger.Error("lease sweep failed", log.Err(err))
	} else if n > 0 {
		e.logger.Info("reclaimed expired leases", log.Int("count", n))
	}

	if _, err := e.dedup.EvictExpired(now, maxPerTick); err != nil {
		e.logger.Warn("dedup eviction failed", log.Err(err))
	}
	if _, err := e.dlq.PurgeExpired(ctx, now, maxPerTick); err != nil {
		e.logger.Warn("dead letter purge failed", log.Err(err))
	}
}

// SweepExpired reclaims up to max leases that expired at or before nowMs.
// Each reclaimed message goes through the same retry-or-dead-letter decision
// as an explicit Fail, with the lease expiry recorded as the reason. Returns
// the number of leases reclaimed.
func (e *Engine) SweepExpired(ctx context.Context, nowMs int64, max int) (int, error) {
	expired, err := e.store.ScanExpiredLeases(nowMs, max)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, ex := range expired {
		mu := e.store.lockGroup(ex.Group)
		mu.Lock()

		// Re-check under the lock: the consumer may have acked or failed the
		// message between the scan and here, or a new lease may have replaced
		// this one. A stale index entry is dropped so it is not rescanned.
		lr, err := e.store.getLease(ex.Group)
		if err != nil {
			mu.Unlock()
			return n, err
		}
		if lr == nil || lr.ID != ex.MsgID.String() || lr.ExpiresAtMs > nowMs {
			_ = e.db.Delete(leaseIdxKey(e.queue, ex.ExpiresAtMs, ex.Group))
			mu.Unlock()
			continue
		}

		r, err := e.store.resolve(ex.MsgID)
		if err != nil {
			mu.Unlock()
			continue
		}
		m, err := e.store.load(r)
		if err != nil {
			mu.Unlock()
			continue
		}
		if err := e.failLocked(ctx, m, ReasonLeaseExpired); err != nil {
			mu.Unlock()
			return n, err
		}
		n++
		mu.Unlock()
	}
	return n, nil
}
