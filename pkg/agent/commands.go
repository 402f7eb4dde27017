package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/moltagent/moltagent/pkg/bus"
	"github.com/moltagent/moltagent/pkg/logger"
	"github.com/moltagent/moltagent/pkg/store"
)

// runCommands consumes owner commands from the bus. Identity enforcement
// happens at the channel boundary; anything arriving here is from the owner.
func (a *Agent) runCommands(ctx context.Context) error {
	for {
		cmd, ok := a.bus.ConsumeCommand(ctx)
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		a.handleCommand(ctx, cmd)
	}
}

func (a *Agent) handleCommand(ctx context.Context, cmd bus.Command) {
	logger.InfoCF("commands", "Owner command received", map[string]interface{}{
		"command": cmd.Name,
	})

	switch cmd.Name {
	case "status":
		a.cmdStatus(ctx)
	case "search":
		a.enqueueOwnerTask(ctx, TaskSearch, cmd.Args)
	case "ask":
		a.enqueueOwnerTask(ctx, TaskAsk, cmd.Args)
	case "watch":
		a.cmdWatch(ctx, cmd.Args, true)
	case "unwatch":
		a.cmdWatch(ctx, cmd.Args, false)
	case "digest":
		if err := a.RunDigest(ctx); err != nil {
			a.notifyOwner("status", fmt.Sprintf("Digest failed: %v", err))
		}
	case "post":
		a.cmdPost(ctx, cmd.Args)
	case "pause":
		a.cmdSetPaused(ctx, true)
	case "resume":
		a.cmdSetPaused(ctx, false)
	case "dm_reply":
		a.cmdDMReply(ctx, cmd.Args)
	default:
		a.notifyOwner("status", fmt.Sprintf("Unknown command %q. Try /status, /search, /ask, /watch, /unwatch, /digest, /post, /pause, /resume, /dm_reply.", cmd.Name))
	}
}

func (a *Agent) cmdStatus(ctx context.Context) {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		a.notifyOwner("status", fmt.Sprintf("Status unavailable: %v", err))
		return
	}

	state := "running"
	if stats.Paused {
		state = "paused"
	}

	a.notifyOwner("status", fmt.Sprintf(
		"State: %s\nEpisodes: %d | Insights: %d | Strategy: v%d\nPosts: %d | Comments: %d (%d today)\nPending tasks: %d",
		state, stats.Episodes, stats.Insights, stats.StrategyV,
		stats.Posts, stats.Comments, stats.CommentsToday, stats.PendingTasks))
}

func (a *Agent) enqueueOwnerTask(ctx context.Context, kind, payload string) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		a.notifyOwner("status", fmt.Sprintf("Usage: /%s <text>", kind))
		return
	}

	task := store.Task{
		ID:      uuid.NewString(),
		Tier:    store.TierOwner,
		Kind:    kind,
		Payload: payload,
	}
	if err := a.store.EnqueueTask(ctx, task); err != nil {
		a.notifyOwner("status", fmt.Sprintf("Could not queue %s: %v", kind, err))
		return
	}
	a.notifyOwner("status", fmt.Sprintf("Queued %s task %s.", kind, task.ID))
}

func (a *Agent) cmdWatch(ctx context.Context, name string, add bool) {
	name = strings.TrimSpace(strings.TrimPrefix(name, "@"))
	if name == "" {
		a.notifyOwner("status", "Usage: /watch <agent> or /unwatch <agent>")
		return
	}

	if !add {
		if err := a.store.RemoveWatchedAgent(ctx, name); err != nil {
			a.notifyOwner("status", fmt.Sprintf("Watch update failed: %v", err))
			return
		}
		a.notifyOwner("status", fmt.Sprintf("Unwatched %s.", name))
		return
	}

	if err := a.store.AddWatchedAgent(ctx, name, a.clock()); err != nil {
		a.notifyOwner("status", fmt.Sprintf("Watch update failed: %v", err))
		return
	}

	// Pull the new watch target's recent activity so the next digest has
	// something to say before the feed happens to surface them.
	posts, err := a.platform.AgentPosts(ctx, name, 3)
	if err != nil {
		logger.WarnCF("commands", "Failed to fetch watched agent's posts", map[string]interface{}{
			"agent": name,
			"error": err.Error(),
		})
		a.notifyOwner("status", fmt.Sprintf("Watching %s (recent posts unavailable).", name))
		return
	}
	if len(posts) == 0 {
		a.notifyOwner("status", fmt.Sprintf("Watching %s. No recent posts.", name))
		return
	}

	latest := posts[0]
	line := fmt.Sprintf("%s posted %q in m/%s", name, latest.Title, latest.Submolt)
	if err := a.store.EnqueueDigestItem(ctx, line, a.clock()); err != nil {
		logger.ErrorCF("commands", "Failed to queue digest item", map[string]interface{}{"error": err.Error()})
	}
	a.notifyOwner("status", fmt.Sprintf("Watching %s. Latest: %q in m/%s.", name, latest.Title, latest.Submolt))
}

// cmdPost parses "/post <submolt> <title> | <content>" and queues an
// owner-tier manual post.
func (a *Agent) cmdPost(ctx context.Context, args string) {
	const usage = "Usage: /post <submolt> <title> | <content>"

	parts := strings.SplitN(args, "|", 2)
	if len(parts) != 2 {
		a.notifyOwner("status", usage)
		return
	}
	content := strings.TrimSpace(parts[1])

	head := strings.Fields(strings.TrimSpace(parts[0]))
	if len(head) < 2 || content == "" {
		a.notifyOwner("status", usage)
		return
	}
	submolt := head[0]
	title := strings.Join(head[1:], " ")

	payload, err := json.Marshal(manualPostPayload{Submolt: submolt, Title: title, Content: content})
	if err != nil {
		a.notifyOwner("status", fmt.Sprintf("Could not encode post: %v", err))
		return
	}
	task := store.Task{
		ID:      uuid.NewString(),
		Tier:    store.TierOwner,
		Kind:    TaskManualPost,
		Payload: string(payload),
	}
	if err := a.store.EnqueueTask(ctx, task); err != nil {
		a.notifyOwner("status", fmt.Sprintf("Could not queue post: %v", err))
		return
	}
	a.notifyOwner("status", fmt.Sprintf("Queued post %q for m/%s.", title, submolt))
}

func (a *Agent) cmdSetPaused(ctx context.Context, paused bool) {
	value := "0"
	verb := "resumed"
	if paused {
		value = "1"
		verb = "paused"
	}

	if err := a.store.SetState(ctx, statePaused, value); err != nil {
		a.notifyOwner("status", fmt.Sprintf("Could not change state: %v", err))
		return
	}
	if err := a.store.RecordEvent(ctx, "control", "agent "+verb, a.clock()); err != nil {
		logger.ErrorCF("commands", "Failed to record control event", map[string]interface{}{"error": err.Error()})
	}
	a.notifyOwner("status", "Agent "+verb+".")
}

func (a *Agent) cmdDMReply(ctx context.Context, args string) {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		a.notifyOwner("status", "Usage: /dm_reply <conversation_id> <message>")
		return
	}

	if err := a.OwnerDMReply(ctx, parts[0], parts[1]); err != nil {
		a.notifyOwner("status", fmt.Sprintf("DM reply failed: %v", err))
		return
	}
	a.notifyOwner("status", "Sent. Conversation returned to auto-reply.")
}
