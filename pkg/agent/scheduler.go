package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/moltagent/moltagent/pkg/logger"
	"github.com/moltagent/moltagent/pkg/store"
)

// runScheduler drives the heartbeat on a randomized interval. The next fire
// time is persisted so a restart resumes the pending deadline instead of
// firing immediately; only a cold start (no stored deadline) draws a fresh
// delay.
func (a *Agent) runScheduler(ctx context.Context) error {
	next, err := a.loadOrScheduleNextFire(ctx)
	if err != nil {
		return err
	}

	for {
		wait := next.Sub(a.clock())
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		a.onHeartbeatFire(ctx)

		next = a.clock().Add(a.jitter())
		if err := a.store.SetState(ctx, stateNextHeartbeat, next.Format(time.RFC3339)); err != nil {
			logger.ErrorCF("scheduler", "Failed to persist next fire time", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

func (a *Agent) loadOrScheduleNextFire(ctx context.Context) (time.Time, error) {
	raw, err := a.store.GetState(ctx, stateNextHeartbeat)
	if err == nil {
		if stored, perr := time.Parse(time.RFC3339, raw); perr == nil {
			logger.InfoCF("scheduler", "Resuming persisted heartbeat deadline", map[string]interface{}{
				"next_fire": stored.Format(time.RFC3339),
			})
			return stored, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return time.Time{}, fmt.Errorf("read next fire time: %w", err)
	}

	next := a.clock().Add(a.jitter())
	if err := a.store.SetState(ctx, stateNextHeartbeat, next.Format(time.RFC3339)); err != nil {
		return time.Time{}, fmt.Errorf("persist next fire time: %w", err)
	}
	logger.InfoCF("scheduler", "Cold start, first heartbeat scheduled", map[string]interface{}{
		"next_fire": next.Format(time.RFC3339),
	})
	return next, nil
}

// onHeartbeatFire enforces the at-most-one-cycle-in-flight guarantee: an
// overlapping fire is logged and dropped, never queued.
func (a *Agent) onHeartbeatFire(ctx context.Context) {
	if a.paused(ctx) {
		logger.InfoC("scheduler", "Heartbeat fired while paused, recording skip")
		if _, err := a.store.AppendEpisode(ctx, store.Episode{
			Type:       store.EpisodeHeartbeatSkip,
			Content:    "heartbeat skipped: agent paused",
			Importance: 1.0,
		}); err != nil {
			logger.ErrorCF("scheduler", "Failed to record paused skip", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return
	}

	a.runningMu.Lock()
	if a.cycleRunning {
		a.runningMu.Unlock()
		logger.WarnC("scheduler", "Heartbeat overlap avoided, previous cycle still in flight")
		if err := a.store.RecordEvent(ctx, "heartbeat_overlap", "fire dropped, cycle in flight", a.clock()); err != nil {
			logger.ErrorCF("scheduler", "Failed to record overlap event", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return
	}
	a.cycleRunning = true
	a.runningMu.Unlock()

	go func() {
		defer func() {
			a.runningMu.Lock()
			a.cycleRunning = false
			a.runningMu.Unlock()
		}()
		a.RunCycle(ctx)
	}()
}

// runCron drives the fixed-interval jobs: consolidation and the daily
// digest. Expressions are evaluated once a minute against the injected
// clock.
func (a *Agent) runCron(ctx context.Context) error {
	consolidationExpr := fmt.Sprintf("*/%d * * * *", a.cfg.Agent.ConsolidationIntervalMin)
	digestExpr := fmt.Sprintf("0 %d * * *", a.cfg.Agent.DigestHourUTC)
	g := gronx.New()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := a.clock()

		if due, err := g.IsDue(consolidationExpr, now); err == nil && due {
			a.runConsolidationTick(ctx)
		}
		if due, err := g.IsDue(digestExpr, now); err == nil && due {
			if err := a.RunDigest(ctx); err != nil {
				logger.ErrorCF("scheduler", "Digest run failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// runConsolidationTick runs consolidation unless a heartbeat cycle holds the
// lock; a skipped tick simply waits for the next interval.
func (a *Agent) runConsolidationTick(ctx context.Context) {
	if a.paused(ctx) {
		return
	}
	if !a.cycleMu.TryLock() {
		logger.DebugC("scheduler", "Consolidation tick skipped, cycle lock held")
		return
	}
	defer a.cycleMu.Unlock()

	if err := a.consolidator.Run(ctx); err != nil {
		logger.ErrorCF("scheduler", "Consolidation failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
