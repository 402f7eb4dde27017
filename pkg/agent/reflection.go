package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/moltagent/moltagent/pkg/logger"
	"github.com/moltagent/moltagent/pkg/safety"
	"github.com/moltagent/moltagent/pkg/store"
)

const stabilityEpisodeWindow = 30

// checkStability computes the drift signal after an executed action and
// triggers reflection when it crosses the configured threshold.
func (a *Agent) checkStability(ctx context.Context) {
	episodes, err := a.store.RecentEpisodes(ctx, stabilityEpisodeWindow)
	if err != nil {
		logger.ErrorCF("reflection", "Failed to read episodes for stability", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	idx := safety.ComputeStability(episodes)
	logger.DebugCF("reflection", "Stability computed", map[string]interface{}{
		"overall":    idx.Overall,
		"skip_rate":  idx.SkipRate,
		"action":     idx.ActionConsistency,
		"topic":      idx.TopicConsistency,
		"quality":    idx.QualityTrend,
	})

	if idx.Overall >= a.cfg.Agent.StabilityAlertThreshold {
		return
	}

	logger.WarnCF("reflection", "Stability below threshold", map[string]interface{}{
		"overall":   idx.Overall,
		"threshold": a.cfg.Agent.StabilityAlertThreshold,
	})
	a.notifyOwner("stability_alert", fmt.Sprintf(
		"Behavior stability dropped to %.2f (threshold %.2f). Reflecting now.",
		idx.Overall, a.cfg.Agent.StabilityAlertThreshold))

	a.runReflection(ctx, store.TriggerStabilityThreshold, idx)
}

// maybeReflect fires scheduled reflection every N heartbeats.
func (a *Agent) maybeReflect(ctx context.Context, heartbeatCount int64) {
	n := int64(a.cfg.Agent.ReflectionEveryNHeartbeats)
	if n <= 0 || heartbeatCount%n != 0 {
		return
	}

	episodes, err := a.store.RecentEpisodes(ctx, stabilityEpisodeWindow)
	if err != nil {
		logger.ErrorCF("reflection", "Failed to read episodes for reflection", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	a.runReflection(ctx, store.TriggerHeartbeatCount, safety.ComputeStability(episodes))
}

// runReflection produces and commits a new strategy version. The new
// version is current immediately; prior versions remain for audit.
func (a *Agent) runReflection(ctx context.Context, trigger string, idx safety.StabilityIndex) {
	current := "(no strategy yet; act on persona and goals alone)"
	if sv, err := a.store.CurrentStrategy(ctx); err == nil {
		current = sv.Strategy
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.ErrorCF("reflection", "Failed to read current strategy", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	episodes, err := a.store.RecentEpisodes(ctx, stabilityEpisodeWindow)
	if err != nil {
		logger.ErrorCF("reflection", "Failed to read episodes", map[string]interface{}{"error": err.Error()})
		return
	}

	var summary string
	for _, ep := range episodes {
		summary += fmt.Sprintf("[%s] (importance %.1f) %s\n", ep.Type, ep.Importance, ep.Content)
	}

	strategy, err := a.brain.Reflect(ctx, a.brainContext(ctx), current, summary)
	if err != nil {
		logger.WarnCF("reflection", "Reflection failed, keeping current strategy", map[string]interface{}{
			"trigger": trigger,
			"error":   err.Error(),
		})
		return
	}

	snapshot, _ := json.Marshal(map[string]interface{}{
		"stability":     idx.Overall,
		"skip_rate":     idx.SkipRate,
		"quality_trend": idx.QualityTrend,
	})

	version, err := a.store.AppendStrategyVersion(ctx, strategy, trigger, string(snapshot))
	if err != nil {
		logger.ErrorCF("reflection", "Failed to commit strategy version", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	if _, err := a.store.AppendEpisode(ctx, store.Episode{
		Type:       store.EpisodeReflection,
		Content:    fmt.Sprintf("adopted strategy v%d (trigger: %s)", version, trigger),
		Importance: 8.0,
	}); err != nil {
		logger.ErrorCF("reflection", "Failed to record reflection episode", map[string]interface{}{"error": err.Error()})
	}
	if err := a.store.RecordAudit(ctx, "reflection", "committed", fmt.Sprintf("v%d trigger=%s", version, trigger), a.clock()); err != nil {
		logger.ErrorCF("reflection", "Failed to record audit", map[string]interface{}{"error": err.Error()})
	}

	logger.InfoCF("reflection", "New strategy adopted", map[string]interface{}{
		"version": version,
		"trigger": trigger,
	})
}
