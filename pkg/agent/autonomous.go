package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/moltagent/moltagent/pkg/brain"
	"github.com/moltagent/moltagent/pkg/logger"
	"github.com/moltagent/moltagent/pkg/moltbook"
	"github.com/moltagent/moltagent/pkg/safety"
	"github.com/moltagent/moltagent/pkg/shield"
	"github.com/moltagent/moltagent/pkg/store"
)

// runAutonomousPhase is Phase 2: read the feed, let the brain pick one
// action, gate it through the shield, execute, and record the episode.
// Returns true when a non-skip action was executed.
func (a *Agent) runAutonomousPhase(ctx context.Context) bool {
	posts, err := a.platform.Feed(ctx, "new", a.cfg.Agent.FeedLimit)
	if err != nil {
		logger.WarnCF("autonomous", "Feed read failed", map[string]interface{}{
			"error": err.Error(),
		})
		a.recordSkip(ctx, fmt.Sprintf("feed unavailable: %v", err))
		return false
	}

	now := a.clock()

	ids := make([]string, len(posts))
	byID := make(map[string]moltbook.Post, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	unseenIDs, err := a.store.FilterUnseenPosts(ctx, ids)
	if err != nil {
		logger.ErrorCF("autonomous", "Failed to filter seen posts", map[string]interface{}{"error": err.Error()})
		unseenIDs = ids
	}
	if err := a.store.MarkPostsSeen(ctx, ids, now); err != nil {
		logger.ErrorCF("autonomous", "Failed to mark posts seen", map[string]interface{}{"error": err.Error()})
	}

	a.noteWatchedActivity(ctx, posts)

	if len(unseenIDs) == 0 {
		a.recordSkip(ctx, "no unseen posts in feed window")
		return false
	}

	unseen := make([]moltbook.Post, 0, len(unseenIDs))
	for _, id := range unseenIDs {
		unseen = append(unseen, byID[id])
	}

	action, err := a.brain.DecideAction(ctx, a.brainContext(ctx), renderFeed(unseen))
	if err != nil {
		logger.WarnCF("autonomous", "Action decision failed", map[string]interface{}{
			"error": err.Error(),
		})
		a.recordSkip(ctx, fmt.Sprintf("brain unavailable: %v", err))
		return false
	}

	return a.executeAction(ctx, action)
}

func (a *Agent) executeAction(ctx context.Context, action brain.Action) bool {
	if action.Kind == brain.ActionSkip {
		reason := action.Reason
		if reason == "" {
			reason = "nothing worth doing"
		}
		a.recordSkip(ctx, "chose to skip: "+reason)
		return false
	}

	// Phase 1 may have just spent the comment window; wait it out rather
	// than burning the decision on a guaranteed rejection.
	if action.Kind == brain.ActionComment {
		if !a.awaitCommentWindow(ctx) {
			return false
		}
	}
	now := a.clock()

	content := action.Content
	if action.Kind == brain.ActionUpvote {
		content = ""
	}

	counters, err := a.store.Counters(ctx)
	if err != nil {
		logger.ErrorCF("autonomous", "Failed to read counters", map[string]interface{}{"error": err.Error()})
		return false
	}

	verdict := shield.Evaluate(action.Kind, content, counters, now, a.policy)
	if !verdict.Approved {
		logger.InfoCF("autonomous", "Action rejected by shield", map[string]interface{}{
			"kind":   action.Kind,
			"code":   verdict.Code,
			"reason": verdict.Reason,
		})
		if err := a.store.RecordAudit(ctx, action.Kind, "rejected", verdict.Reason, now); err != nil {
			logger.ErrorCF("autonomous", "Failed to record audit", map[string]interface{}{"error": err.Error()})
		}
		a.recordSkip(ctx, fmt.Sprintf("%s rejected: %s", action.Kind, verdict.Reason))
		return false
	}

	switch action.Kind {
	case brain.ActionPost:
		return a.executePost(ctx, action.Submolt, action.Title, action.Content)
	case brain.ActionComment:
		return a.executeComment(ctx, action.Target, action.Content)
	case brain.ActionUpvote:
		return a.executeUpvote(ctx, action.Target)
	}
	return false
}

func (a *Agent) executePost(ctx context.Context, submolt, title, content string) bool {
	now := a.clock()

	created, sendErr := a.platform.CreatePost(ctx, submolt, title, content)

	ep := store.Episode{
		Type:       store.EpisodePost,
		Content:    fmt.Sprintf("posted %q in m/%s: %s", title, submolt, content),
		Importance: 6.0,
	}
	if sendErr != nil {
		ep.Content = fmt.Sprintf("post %q failed: %v", title, sendErr)
		ep.Importance = 3.0
		ep.Metadata = `{"failed":true}`
	}
	if _, err := a.store.CommitApproved(ctx, "post", ep, now); err != nil {
		logger.ErrorCF("autonomous", "Persistence failure on post commit", map[string]interface{}{"error": err.Error()})
		return false
	}
	if sendErr != nil {
		logger.WarnCF("autonomous", "Post failed", map[string]interface{}{"error": sendErr.Error()})
		return false
	}

	if err := a.store.RecordOwnPost(ctx, store.OwnPost{
		PostID:    created.ID,
		Submolt:   submolt,
		Title:     title,
		CreatedAt: now,
	}); err != nil {
		logger.ErrorCF("autonomous", "Failed to record own post", map[string]interface{}{"error": err.Error()})
	}

	logger.InfoCF("autonomous", "Posted", map[string]interface{}{"post_id": created.ID, "title": title})
	return true
}

func (a *Agent) executeComment(ctx context.Context, postID, content string) bool {
	now := a.clock()

	created, sendErr := a.platform.CreateComment(ctx, postID, "", content)

	ep := store.Episode{
		Type:       store.EpisodeComment,
		Content:    fmt.Sprintf("commented on %s: %s", postID, content),
		Importance: 5.0,
	}
	if sendErr != nil {
		ep.Content = fmt.Sprintf("comment on %s failed: %v", postID, sendErr)
		ep.Importance = 3.0
		ep.Metadata = `{"failed":true}`
	}
	if _, err := a.store.CommitApproved(ctx, "comment", ep, now); err != nil {
		logger.ErrorCF("autonomous", "Persistence failure on comment commit", map[string]interface{}{"error": err.Error()})
		return false
	}
	if sendErr != nil {
		logger.WarnCF("autonomous", "Comment failed", map[string]interface{}{"error": sendErr.Error()})
		return false
	}

	if err := a.store.RecordOwnComment(ctx, store.OwnComment{
		CommentID: created.ID,
		PostID:    postID,
		CreatedAt: now,
	}); err != nil {
		logger.ErrorCF("autonomous", "Failed to record own comment", map[string]interface{}{"error": err.Error()})
	}
	return true
}

func (a *Agent) executeUpvote(ctx context.Context, postID string) bool {
	now := a.clock()

	sendErr := a.platform.UpvotePost(ctx, postID)

	ep := store.Episode{
		Type:       store.EpisodeUpvote,
		Content:    fmt.Sprintf("upvoted post %s", postID),
		Importance: 3.0,
	}
	if sendErr != nil {
		ep.Content = fmt.Sprintf("upvote of %s failed: %v", postID, sendErr)
		ep.Importance = 2.0
		ep.Metadata = `{"failed":true}`
	}
	if _, err := a.store.CommitApproved(ctx, "", ep, now); err != nil {
		logger.ErrorCF("autonomous", "Persistence failure on upvote commit", map[string]interface{}{"error": err.Error()})
		return false
	}
	return sendErr == nil
}

// noteWatchedActivity queues digest lines for posts by watched agents.
func (a *Agent) noteWatchedActivity(ctx context.Context, posts []moltbook.Post) {
	watched, err := a.store.WatchedAgents(ctx)
	if err != nil || len(watched) == 0 {
		return
	}
	watchedSet := make(map[string]struct{}, len(watched))
	for _, name := range watched {
		watchedSet[name] = struct{}{}
	}

	now := a.clock()
	for _, p := range posts {
		if _, ok := watchedSet[p.Author]; !ok {
			continue
		}
		line := fmt.Sprintf("%s posted %q in m/%s", p.Author, p.Title, p.Submolt)
		if err := a.store.EnqueueDigestItem(ctx, line, now); err != nil {
			logger.ErrorCF("autonomous", "Failed to queue digest item", map[string]interface{}{"error": err.Error()})
		}
	}
}

func renderFeed(posts []moltbook.Post) string {
	var sb strings.Builder
	for _, p := range posts {
		cleaned, _ := safety.Sanitize(p.Content)
		if len(cleaned) > 400 {
			cleaned = cleaned[:400] + "..."
		}
		fmt.Fprintf(&sb, "[%s] m/%s by %s: %s\n%s\n\n", p.ID, p.Submolt, p.Author, p.Title, safety.Spotlight(cleaned))
	}
	return sb.String()
}
