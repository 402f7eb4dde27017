package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moltagent/moltagent/pkg/logger"
	"github.com/moltagent/moltagent/pkg/moltbook"
	"github.com/moltagent/moltagent/pkg/shield"
	"github.com/moltagent/moltagent/pkg/store"
)

const workerPollInterval = 5 * time.Second

// Task kinds the worker executes.
const (
	TaskAsk        = "ask"
	TaskSearch     = "search"
	TaskManualPost = "manual_post"
)

type manualPostPayload struct {
	Submolt string `json:"submolt"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// runWorker polls the durable queue and executes one task at a time, owner
// tier first. Failures are recorded with their reason, never retried.
func (a *Agent) runWorker(ctx context.Context) error {
	ticker := time.NewTicker(workerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		task, err := a.store.ClaimNextTask(ctx)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.ErrorCF("worker", "Failed to claim task", map[string]interface{}{"error": err.Error()})
			continue
		}

		a.executeTask(ctx, task)
	}
}

func (a *Agent) executeTask(ctx context.Context, task store.Task) {
	logger.InfoCF("worker", "Executing task", map[string]interface{}{
		"task_id": task.ID,
		"kind":    task.Kind,
		"tier":    task.Tier,
	})

	result, err := a.runTask(ctx, task)
	if err != nil {
		if ferr := a.store.FailTask(ctx, task.ID, err.Error()); ferr != nil {
			logger.ErrorCF("worker", "Failed to mark task failed", map[string]interface{}{"error": ferr.Error()})
		}
		a.notifyOwner("task_result", fmt.Sprintf("Task %s (%s) failed: %v", task.ID, task.Kind, err))
		return
	}

	if cerr := a.store.CompleteTask(ctx, task.ID, result); cerr != nil {
		logger.ErrorCF("worker", "Failed to mark task done", map[string]interface{}{"error": cerr.Error()})
		return
	}
	if task.Tier == store.TierOwner && result != "" {
		a.notifyOwner("task_result", result)
	}
}

func (a *Agent) runTask(ctx context.Context, task store.Task) (string, error) {
	switch task.Kind {
	case TaskAsk:
		return a.brain.Ask(ctx, a.brainContext(ctx), task.Payload)

	case TaskSearch:
		res, err := a.platform.Search(ctx, task.Payload)
		if err != nil {
			return "", err
		}
		return renderSearchResult(task.Payload, res), nil

	case TaskManualPost:
		var p manualPostPayload
		if err := json.Unmarshal([]byte(task.Payload), &p); err != nil {
			return "", fmt.Errorf("bad manual_post payload: %w", err)
		}
		return a.runManualPost(ctx, p)

	default:
		return "", fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

// runManualPost publishes an owner-dictated post. Owner posts still pass
// the shield; the commit shares the cycle lock with heartbeat and
// consolidation.
func (a *Agent) runManualPost(ctx context.Context, p manualPostPayload) (string, error) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	now := a.clock()
	counters, err := a.store.Counters(ctx)
	if err != nil {
		return "", fmt.Errorf("read counters: %w", err)
	}

	verdict := shield.Evaluate("post", p.Title+"\n"+p.Content, counters, now, a.policy)
	if !verdict.Approved {
		if err := a.store.RecordAudit(ctx, "post", "rejected", verdict.Reason, now); err != nil {
			logger.ErrorCF("worker", "Failed to record audit", map[string]interface{}{"error": err.Error()})
		}
		return "", fmt.Errorf("withheld by shield: %s", verdict.Reason)
	}

	created, sendErr := a.platform.CreatePost(ctx, p.Submolt, p.Title, p.Content)

	ep := store.Episode{
		Type:       store.EpisodePost,
		Content:    fmt.Sprintf("owner-directed post %q in m/%s", p.Title, p.Submolt),
		Importance: 6.0,
		Metadata:   `{"manual":true}`,
	}
	if sendErr != nil {
		ep.Content = fmt.Sprintf("owner-directed post %q failed: %v", p.Title, sendErr)
		ep.Importance = 3.0
		ep.Metadata = `{"manual":true,"failed":true}`
	}
	if _, err := a.store.CommitApproved(ctx, "post", ep, now); err != nil {
		return "", fmt.Errorf("commit post: %w", err)
	}
	if sendErr != nil {
		return "", sendErr
	}

	if err := a.store.RecordOwnPost(ctx, store.OwnPost{
		PostID: created.ID, Submolt: p.Submolt, Title: p.Title, CreatedAt: now,
	}); err != nil {
		logger.ErrorCF("worker", "Failed to record own post", map[string]interface{}{"error": err.Error()})
	}

	return fmt.Sprintf("Posted %q in m/%s (id %s).", p.Title, p.Submolt, created.ID), nil
}

func renderSearchResult(query string, res moltbook.SearchResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n", query)
	if len(res.Posts) == 0 && len(res.Agents) == 0 {
		sb.WriteString("(nothing found)")
		return sb.String()
	}
	for _, p := range res.Posts {
		fmt.Fprintf(&sb, "- [%s] %q by %s in m/%s\n", p.ID, p.Title, p.Author, p.Submolt)
	}
	for _, ag := range res.Agents {
		fmt.Fprintf(&sb, "- agent %s (karma %d)\n", ag.Name, ag.Karma)
	}
	return strings.TrimRight(sb.String(), "\n")
}
