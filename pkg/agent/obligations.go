package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/moltagent/moltagent/pkg/logger"
	"github.com/moltagent/moltagent/pkg/moltbook"
	"github.com/moltagent/moltagent/pkg/safety"
	"github.com/moltagent/moltagent/pkg/shield"
	"github.com/moltagent/moltagent/pkg/store"
)

const (
	backlogWindow      = 48 // hours
	backlogPostCap     = 10
	backlogRepliesMax  = 2
	recallCommenterTop = 3
)

type backlogCandidate struct {
	post    store.OwnPost
	comment moltbook.Comment
}

// checkOwnPostReplies is Phase 1 Step A: answer the oldest unreplied
// eligible comments under the agent's recent posts, at most two per cycle.
func (a *Agent) checkOwnPostReplies(ctx context.Context) int {
	now := a.clock()
	cutoff := now.Add(-backlogWindow * time.Hour)

	posts, err := a.store.OwnPostsSince(ctx, cutoff, backlogPostCap)
	if err != nil {
		logger.ErrorCF("obligations", "Failed to load own posts", map[string]interface{}{
			"error": err.Error(),
		})
		return 0
	}
	if len(posts) == 0 {
		return 0
	}

	var pending []backlogCandidate
	for _, post := range posts {
		comments, err := a.platform.Comments(ctx, post.PostID)
		if err != nil {
			logger.WarnCF("obligations", "Failed to fetch comments, skipping post", map[string]interface{}{
				"post_id": post.PostID,
				"error":   err.Error(),
			})
			continue
		}

		for _, c := range comments {
			eligible, err := a.isEligibleComment(ctx, c)
			if err != nil {
				logger.WarnCF("obligations", "Eligibility check failed", map[string]interface{}{
					"comment_id": c.ID,
					"error":      err.Error(),
				})
				continue
			}
			if !eligible {
				continue
			}
			pending = append(pending, backlogCandidate{post: post, comment: c})
		}
	}

	// Oldest first; the backlog drains in arrival order across cycles.
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].comment.CreatedAt.Before(pending[j].comment.CreatedAt)
	})
	if len(pending) > backlogRepliesMax {
		pending = pending[:backlogRepliesMax]
	}

	replied := 0
	for _, cand := range pending {
		if a.replyToComment(ctx, cand) {
			replied++
		}
	}
	return replied
}

// isEligibleComment applies the backlog filter: top-level comments and
// direct replies to the agent's own comments qualify; subtrees among other
// participants and anything already answered do not.
func (a *Agent) isEligibleComment(ctx context.Context, c moltbook.Comment) (bool, error) {
	if c.Author == a.cfg.Agent.Name {
		return false, nil
	}
	if ours, err := a.store.IsOwnComment(ctx, c.ID); err != nil {
		return false, err
	} else if ours {
		return false, nil
	}

	if c.ParentID != "" {
		parentOurs, err := a.store.IsOwnComment(ctx, c.ParentID)
		if err != nil {
			return false, err
		}
		if !parentOurs {
			return false, nil
		}
	}

	answered, err := a.store.CommentReplied(ctx, c.ID)
	if err != nil {
		return false, err
	}
	return !answered, nil
}

func (a *Agent) replyToComment(ctx context.Context, cand backlogCandidate) bool {
	thread := a.buildThreadContext(ctx, cand)
	reply, err := a.brain.GenerateReply(ctx, a.brainContext(ctx), thread)
	if err != nil {
		logger.WarnCF("obligations", "Reply generation failed", map[string]interface{}{
			"comment_id": cand.comment.ID,
			"error":      err.Error(),
		})
		return false
	}

	// Pace out the rolling cooldown so the second backlog reply of a cycle
	// is not dead on arrival.
	if !a.awaitCommentWindow(ctx) {
		return false
	}
	now := a.clock()

	counters, err := a.store.Counters(ctx)
	if err != nil {
		logger.ErrorCF("obligations", "Failed to read counters", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}

	verdict := shield.Evaluate("comment", reply, counters, now, a.policy)
	if !verdict.Approved {
		// The shared comment budget ran out here; the backlog item stays
		// eligible for the next cycle.
		logger.InfoCF("obligations", "Backlog reply rejected by shield", map[string]interface{}{
			"comment_id": cand.comment.ID,
			"reason":     verdict.Reason,
		})
		if err := a.store.RecordAudit(ctx, "comment", "rejected", verdict.Reason, now); err != nil {
			logger.ErrorCF("obligations", "Failed to record audit", map[string]interface{}{"error": err.Error()})
		}
		a.recordSkip(ctx, "backlog reply withheld: "+verdict.Reason)
		return false
	}

	created, sendErr := a.platform.CreateComment(ctx, cand.post.PostID, cand.comment.ID, reply)

	// Counter semantics are "attempted": the increment stands even when the
	// platform call failed, and the episode carries the failure marker.
	ep := store.Episode{
		Type:       store.EpisodeReplyBacklog,
		Content:    fmt.Sprintf("replied to %s on post %q: %s", cand.comment.Author, cand.post.Title, reply),
		Importance: 5.0,
	}
	if sendErr != nil {
		ep.Content = fmt.Sprintf("reply to %s failed: %v", cand.comment.Author, sendErr)
		ep.Importance = 3.0
		ep.Metadata = `{"failed":true}`
	}
	if _, err := a.store.CommitApproved(ctx, "comment", ep, now); err != nil {
		logger.ErrorCF("obligations", "Persistence failure on reply commit, aborting step", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}

	if sendErr != nil {
		logger.WarnCF("obligations", "Backlog reply send failed", map[string]interface{}{
			"comment_id": cand.comment.ID,
			"error":      sendErr.Error(),
		})
		return false
	}

	if err := a.store.RecordOwnComment(ctx, store.OwnComment{
		CommentID: created.ID,
		PostID:    cand.post.PostID,
		CreatedAt: now,
	}); err != nil {
		logger.ErrorCF("obligations", "Failed to record own comment", map[string]interface{}{"error": err.Error()})
	}
	if err := a.store.MarkCommentSeen(ctx, cand.comment.ID, cand.post.PostID, true, now); err != nil {
		logger.ErrorCF("obligations", "Failed to mark comment replied", map[string]interface{}{"error": err.Error()})
	}

	// Courtesy upvote for engagement on our post; best effort.
	if err := a.platform.UpvoteComment(ctx, cand.comment.ID); err != nil {
		logger.DebugCF("obligations", "Courtesy upvote failed", map[string]interface{}{
			"comment_id": cand.comment.ID,
			"error":      err.Error(),
		})
	}

	logger.InfoCF("obligations", "Backlog reply sent", map[string]interface{}{
		"comment_id": cand.comment.ID,
		"author":     cand.comment.Author,
	})
	return true
}

func (a *Agent) buildThreadContext(ctx context.Context, cand backlogCandidate) string {
	cleaned, warnings := safety.Sanitize(cand.comment.Content)
	if len(warnings) > 0 {
		logger.WarnCF("obligations", "Sanitized comment content", map[string]interface{}{
			"comment_id": cand.comment.ID,
			"redactions": len(warnings),
		})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Your post: %q (in m/%s)\n\n", cand.post.Title, cand.post.Submolt)
	fmt.Fprintf(&sb, "Comment from %s:\n%s\n", cand.comment.Author, safety.Spotlight(cleaned))

	if recalled, err := a.mem.Recall(ctx, cand.comment.Author, recallCommenterTop); err == nil && len(recalled) > 0 {
		sb.WriteString("\nWhat you remember about this commenter:\n")
		for _, ep := range recalled {
			fmt.Fprintf(&sb, "- %s\n", ep.Content)
		}
	}
	return sb.String()
}
