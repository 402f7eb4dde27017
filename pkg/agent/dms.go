package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/moltagent/moltagent/pkg/logger"
	"github.com/moltagent/moltagent/pkg/moltbook"
	"github.com/moltagent/moltagent/pkg/safety"
	"github.com/moltagent/moltagent/pkg/shield"
	"github.com/moltagent/moltagent/pkg/store"
)

// checkDMs is Phase 1 Step B. The cheap existence probe runs first; only on
// activity does the agent touch requests and conversations. Returns the
// number of auto-replies sent.
func (a *Agent) checkDMs(ctx context.Context) int {
	activity, err := a.platform.DMCheck(ctx)
	if err != nil {
		logger.WarnCF("dms", "DM check failed, skipping step", map[string]interface{}{
			"error": err.Error(),
		})
		return 0
	}
	if !activity.HasActivity {
		return 0
	}

	a.approvePendingRequests(ctx)
	return a.handleConversations(ctx)
}

// approvePendingRequests auto-approves every pending connection request and
// notifies the owner once per newly approved conversation.
func (a *Agent) approvePendingRequests(ctx context.Context) {
	requests, err := a.platform.DMRequests(ctx)
	if err != nil {
		logger.WarnCF("dms", "Failed to list DM requests", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	now := a.clock()
	for _, req := range requests {
		if err := a.platform.DMApprove(ctx, req.ConversationID); err != nil {
			logger.WarnCF("dms", "Failed to approve DM request", map[string]interface{}{
				"conversation_id": req.ConversationID,
				"error":           err.Error(),
			})
			continue
		}

		if err := a.store.UpsertDMConversation(ctx, req.ConversationID, req.FromAgent, now); err != nil {
			logger.ErrorCF("dms", "Failed to record conversation", map[string]interface{}{
				"conversation_id": req.ConversationID,
				"error":           err.Error(),
			})
			continue
		}

		if _, err := a.store.AppendEpisode(ctx, store.Episode{
			Type:       store.EpisodeDMApproved,
			Content:    fmt.Sprintf("approved DM request from %s", req.FromAgent),
			Importance: 4.0,
		}); err != nil {
			logger.ErrorCF("dms", "Failed to record approval episode", map[string]interface{}{"error": err.Error()})
		}

		a.notifyOwner("dm_approved", fmt.Sprintf("New DM conversation with %s (auto-approved).", req.FromAgent))
	}
}

func (a *Agent) handleConversations(ctx context.Context) int {
	conversations, err := a.platform.DMConversations(ctx)
	if err != nil {
		logger.WarnCF("dms", "Failed to list conversations", map[string]interface{}{
			"error": err.Error(),
		})
		return 0
	}

	replies := 0
	for _, convo := range conversations {
		if convo.UnreadCount == 0 {
			continue
		}
		if a.handleConversation(ctx, convo) {
			replies++
		}
	}
	return replies
}

// handleConversation returns true when an auto-reply was sent.
func (a *Agent) handleConversation(ctx context.Context, convo moltbook.DMConversationSummary) bool {
	now := a.clock()

	if err := a.store.UpsertDMConversation(ctx, convo.ConversationID, convo.OtherAgent, now); err != nil {
		logger.ErrorCF("dms", "Failed to upsert conversation", map[string]interface{}{
			"conversation_id": convo.ConversationID,
			"error":           err.Error(),
		})
		return false
	}

	state, err := a.store.DMConversation(ctx, convo.ConversationID)
	if err != nil {
		logger.ErrorCF("dms", "Failed to read conversation state", map[string]interface{}{
			"conversation_id": convo.ConversationID,
			"error":           err.Error(),
		})
		return false
	}

	// Escalated conversations wait for the owner; no repeat notification,
	// no auto-reply.
	if state.State == store.DMStateEscalated {
		logger.DebugCF("dms", "Conversation escalated, leaving for owner", map[string]interface{}{
			"conversation_id": convo.ConversationID,
		})
		return false
	}

	messages, err := a.platform.DMMessages(ctx, convo.ConversationID)
	if err != nil {
		logger.WarnCF("dms", "Failed to fetch messages", map[string]interface{}{
			"conversation_id": convo.ConversationID,
			"error":           err.Error(),
		})
		return false
	}

	fresh := unseenInbound(messages, state.LastSeenMessageID, a.cfg.Agent.Name)
	if len(fresh) == 0 {
		return false
	}

	decision, err := a.brain.DecideDM(ctx, a.brainContext(ctx), renderConversation(convo.OtherAgent, fresh))
	if err != nil {
		logger.WarnCF("dms", "DM decision failed, leaving conversation for next cycle", map[string]interface{}{
			"conversation_id": convo.ConversationID,
			"error":           err.Error(),
		})
		return false
	}

	if decision.Escalate {
		a.escalateConversation(ctx, convo, decision.Reason)
		return false
	}

	return a.sendDMReply(ctx, convo, fresh[len(fresh)-1].ID, decision.Reply)
}

func (a *Agent) escalateConversation(ctx context.Context, convo moltbook.DMConversationSummary, reason string) {
	now := a.clock()

	changed, err := a.store.SetDMState(ctx, convo.ConversationID, store.DMStateEscalated, now)
	if err != nil {
		logger.ErrorCF("dms", "Failed to escalate conversation", map[string]interface{}{
			"conversation_id": convo.ConversationID,
			"error":           err.Error(),
		})
		return
	}
	if !changed {
		return
	}

	if _, err := a.store.AppendEpisode(ctx, store.Episode{
		Type:       store.EpisodeEscalation,
		Content:    fmt.Sprintf("escalated DM with %s: %s", convo.OtherAgent, reason),
		Importance: 7.0,
	}); err != nil {
		logger.ErrorCF("dms", "Failed to record escalation episode", map[string]interface{}{"error": err.Error()})
	}

	a.notifyOwner("escalation", fmt.Sprintf(
		"DM with %s needs you: %s\nReply with /dm_reply %s <message>",
		convo.OtherAgent, reason, convo.ConversationID))

	logger.InfoCF("dms", "Conversation escalated to owner", map[string]interface{}{
		"conversation_id": convo.ConversationID,
		"reason":          reason,
	})
}

func (a *Agent) sendDMReply(ctx context.Context, convo moltbook.DMConversationSummary, lastMessageID, reply string) bool {
	// DM replies share the comment counters; pace them the same way.
	if !a.awaitCommentWindow(ctx) {
		return false
	}
	now := a.clock()

	counters, err := a.store.Counters(ctx)
	if err != nil {
		logger.ErrorCF("dms", "Failed to read counters", map[string]interface{}{"error": err.Error()})
		return false
	}

	verdict := shield.Evaluate("dm_reply", reply, counters, now, a.policy)
	if !verdict.Approved {
		logger.InfoCF("dms", "DM reply rejected by shield", map[string]interface{}{
			"conversation_id": convo.ConversationID,
			"reason":          verdict.Reason,
		})
		if err := a.store.RecordAudit(ctx, "dm_reply", "rejected", verdict.Reason, now); err != nil {
			logger.ErrorCF("dms", "Failed to record audit", map[string]interface{}{"error": err.Error()})
		}
		a.recordSkip(ctx, "dm reply withheld: "+verdict.Reason)
		return false
	}

	_, sendErr := a.platform.DMSend(ctx, convo.ConversationID, reply)

	ep := store.Episode{
		Type:       store.EpisodeDMReply,
		Content:    fmt.Sprintf("replied to %s in DM: %s", convo.OtherAgent, reply),
		Importance: 5.0,
	}
	if sendErr != nil {
		ep.Content = fmt.Sprintf("DM reply to %s failed: %v", convo.OtherAgent, sendErr)
		ep.Importance = 3.0
		ep.Metadata = `{"failed":true}`
	}
	if _, err := a.store.CommitApproved(ctx, "dm_reply", ep, now); err != nil {
		logger.ErrorCF("dms", "Persistence failure on DM commit", map[string]interface{}{"error": err.Error()})
		return false
	}

	if sendErr != nil {
		logger.WarnCF("dms", "DM send failed", map[string]interface{}{
			"conversation_id": convo.ConversationID,
			"error":           sendErr.Error(),
		})
		return false
	}

	if err := a.store.SetDMLastSeen(ctx, convo.ConversationID, lastMessageID, now); err != nil {
		logger.ErrorCF("dms", "Failed to advance DM watermark", map[string]interface{}{"error": err.Error()})
	}
	return true
}

// OwnerDMReply sends a manual owner reply and clears ESCALATED back to AUTO.
// This is the only transition out of ESCALATED.
func (a *Agent) OwnerDMReply(ctx context.Context, conversationID, content string) error {
	if _, err := a.platform.DMSend(ctx, conversationID, content); err != nil {
		return fmt.Errorf("send owner reply: %w", err)
	}

	now := a.clock()
	if _, err := a.store.SetDMState(ctx, conversationID, store.DMStateAuto, now); err != nil {
		return fmt.Errorf("clear escalation: %w", err)
	}

	if _, err := a.store.AppendEpisode(ctx, store.Episode{
		Type:       store.EpisodeDMReply,
		Content:    fmt.Sprintf("owner replied manually in conversation %s", conversationID),
		Importance: 6.0,
		Metadata:   `{"manual":true}`,
	}); err != nil {
		logger.ErrorCF("dms", "Failed to record owner reply episode", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// unseenInbound returns messages after the stored watermark that were not
// sent by the agent itself.
func unseenInbound(messages []moltbook.DMMessage, lastSeenID, selfName string) []moltbook.DMMessage {
	start := 0
	if lastSeenID != "" {
		for i, m := range messages {
			if m.ID == lastSeenID {
				start = i + 1
				break
			}
		}
	}

	var fresh []moltbook.DMMessage
	for _, m := range messages[start:] {
		if m.Sender == selfName {
			continue
		}
		fresh = append(fresh, m)
	}
	return fresh
}

func renderConversation(otherAgent string, messages []moltbook.DMMessage) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Conversation with %s:\n", otherAgent)
	for _, m := range messages {
		cleaned, _ := safety.Sanitize(m.Content)
		fmt.Fprintf(&sb, "%s: %s\n", m.Sender, cleaned)
	}
	return safety.Spotlight(sb.String())
}
