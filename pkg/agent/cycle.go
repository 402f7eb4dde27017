package agent

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/moltagent/moltagent/pkg/logger"
	"github.com/moltagent/moltagent/pkg/store"
)

// RunCycle executes one full heartbeat: Phase 1 obligations, Phase 2
// autonomous action, then the stability check and reflection trigger. Holds
// the cycle lock for the duration so consolidation cannot interleave.
func (a *Agent) RunCycle(ctx context.Context) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	cycleID := uuid.NewString()

	count, err := a.store.GetStateInt(ctx, stateHeartbeatCount)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.ErrorCF("cycle", "Failed to read heartbeat count, aborting cycle", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	count++
	if err := a.store.SetStateInt(ctx, stateHeartbeatCount, count); err != nil {
		logger.ErrorCF("cycle", "Failed to persist heartbeat count, aborting cycle", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	logger.InfoCF("cycle", "Heartbeat cycle starting", map[string]interface{}{
		"cycle_id":  cycleID,
		"heartbeat": count,
	})

	replies := a.checkOwnPostReplies(ctx)
	dmReplies := a.checkDMs(ctx)

	executed := a.runAutonomousPhase(ctx)

	// Any executed action this cycle, Phase 1 or Phase 2, warrants a drift
	// check; a backlog-only cycle can still cross the threshold.
	if executed || replies > 0 || dmReplies > 0 {
		a.checkStability(ctx)
	}
	a.maybeReflect(ctx, count)

	logger.InfoCF("cycle", "Heartbeat cycle complete", map[string]interface{}{
		"cycle_id":        cycleID,
		"backlog_replies": replies,
		"dm_replies":      dmReplies,
		"acted":           executed,
	})
}
