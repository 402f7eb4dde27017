package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/moltagent/moltagent/pkg/brain"
	"github.com/moltagent/moltagent/pkg/bus"
	"github.com/moltagent/moltagent/pkg/config"
	"github.com/moltagent/moltagent/pkg/logger"
	"github.com/moltagent/moltagent/pkg/memory"
	"github.com/moltagent/moltagent/pkg/shield"
	"github.com/moltagent/moltagent/pkg/store"
)

// State keys owned by the agent core.
const (
	stateNextHeartbeat  = "next_heartbeat_at"
	stateHeartbeatCount = "heartbeat_count"
	statePaused         = "paused"
)

// Agent owns the full orchestration cycle: the heartbeat scheduler, both
// phases, consolidation, reflection, the task worker and the owner command
// loop. One cycleMu serializes every mutating cycle over shared state.
type Agent struct {
	cfg          *config.Config
	store        *store.Store
	mem          *memory.Manager
	consolidator Consolidator
	brain        Brain
	platform     Platform
	bus          *bus.Bus
	policy       shield.Policy

	// Injectable timing for deterministic tests.
	clock  func() time.Time
	jitter func() time.Duration
	sleep  func(ctx context.Context, d time.Duration) bool

	cycleMu      sync.Mutex
	cycleRunning bool
	runningMu    sync.Mutex
}

type Options struct {
	Config       *config.Config
	Store        *store.Store
	Memory       *memory.Manager
	Consolidator Consolidator
	Brain        Brain
	Platform     Platform
	Bus          *bus.Bus

	// Clock, Jitter and Sleep default to the wall clock, uniform(min, max)
	// heartbeat delay and a real timer when nil.
	Clock  func() time.Time
	Jitter func() time.Duration
	Sleep  func(ctx context.Context, d time.Duration) bool
}

func New(opts Options) *Agent {
	cfg := opts.Config

	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	jitter := opts.Jitter
	if jitter == nil {
		minSec := cfg.Agent.HeartbeatMinSec
		spread := cfg.Agent.HeartbeatMaxSec - minSec
		jitter = func() time.Duration {
			extra := 0
			if spread > 0 {
				extra = rand.Intn(spread)
			}
			return time.Duration(minSec+extra) * time.Second
		}
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) bool {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return false
			case <-t.C:
				return true
			}
		}
	}

	return &Agent{
		cfg:          cfg,
		store:        opts.Store,
		mem:          opts.Memory,
		consolidator: opts.Consolidator,
		brain:        opts.Brain,
		platform:     opts.Platform,
		bus:          opts.Bus,
		policy: shield.Policy{
			PostCooldown:      time.Duration(cfg.Limits.PostCooldownSec) * time.Second,
			CommentCooldown:   time.Duration(cfg.Limits.CommentCooldownSec) * time.Second,
			MaxCommentsPerDay: cfg.Limits.MaxCommentsPerDay,
		},
		clock:  clock,
		jitter: jitter,
		sleep:  sleep,
	}
}

// awaitCommentWindow blocks until the rolling comment cooldown has elapsed,
// so a cycle can send several comment-kind actions at the pace the shield
// permits. The daily budget and content checks are never waited out; those
// rejections stand. Returns false only when ctx is cancelled mid-wait.
func (a *Agent) awaitCommentWindow(ctx context.Context) bool {
	counters, err := a.store.Counters(ctx)
	if err != nil {
		logger.ErrorCF("agent", "Failed to read counters for pacing", map[string]interface{}{
			"error": err.Error(),
		})
		return true
	}
	if counters.LastCommentAt.IsZero() {
		return true
	}

	remaining := a.policy.CommentCooldown - a.clock().Sub(counters.LastCommentAt)
	if remaining <= 0 {
		return true
	}

	logger.DebugCF("agent", "Waiting out comment cooldown", map[string]interface{}{
		"wait": remaining.String(),
	})
	return a.sleep(ctx, remaining)
}

// Run starts every scheduled loop and blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.mem.Init(ctx, a.cfg.Agent.Name); err != nil {
		return fmt.Errorf("init core memory: %w", err)
	}

	logger.InfoCF("agent", "Agent starting", map[string]interface{}{
		"name": a.cfg.Agent.Name,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runScheduler(gctx) })
	g.Go(func() error { return a.runCron(gctx) })
	g.Go(func() error { return a.runWorker(gctx) })
	g.Go(func() error { return a.runCommands(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *Agent) paused(ctx context.Context) bool {
	v, err := a.store.GetState(ctx, statePaused)
	if err != nil {
		return false
	}
	return v == "1"
}

// brainContext assembles the durable framing for one brain call: core
// blocks, current strategy, and the strongest insights.
func (a *Agent) brainContext(ctx context.Context) brain.Context {
	bctx := brain.Context{}

	blocks, err := a.mem.ContextBlocks(ctx)
	if err != nil {
		logger.WarnCF("agent", "Failed to read core memory", map[string]interface{}{
			"error": err.Error(),
		})
	}
	bctx.MemoryBlocks = blocks

	if sv, err := a.store.CurrentStrategy(ctx); err == nil {
		bctx.Strategy = sv.Strategy
	}

	if insights, err := a.store.Insights(ctx, 5); err == nil && len(insights) > 0 {
		lines := make([]string, 0, len(insights))
		for _, in := range insights {
			lines = append(lines, fmt.Sprintf("- %s (confidence %.1f)", in.Insight, in.Confidence))
		}
		bctx.Insights = strings.Join(lines, "\n")
	}

	return bctx
}

// recordSkip appends a skip episode with the given reason. Skips are low
// importance so consolidation compresses them early.
func (a *Agent) recordSkip(ctx context.Context, reason string) {
	if _, err := a.store.AppendEpisode(ctx, store.Episode{
		Type:       store.EpisodeSkip,
		Content:    reason,
		Importance: 2.0,
	}); err != nil {
		logger.ErrorCF("agent", "Failed to record skip episode", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (a *Agent) notifyOwner(kind, content string) {
	a.bus.Notify(bus.Notification{
		Channel: "discord",
		ChatID:  a.cfg.Channels.Discord.OwnerID,
		Kind:    kind,
		Content: content,
	})
}
