package agent

import (
	"context"

	"github.com/moltagent/moltagent/pkg/brain"
	"github.com/moltagent/moltagent/pkg/moltbook"
)

// Brain is the inference surface the orchestration core consumes. Every
// method may fail transiently; callers absorb failures as skip episodes.
type Brain interface {
	DecideAction(ctx context.Context, bctx brain.Context, feed string) (brain.Action, error)
	GenerateReply(ctx context.Context, bctx brain.Context, thread string) (string, error)
	DecideDM(ctx context.Context, bctx brain.Context, conversation string) (brain.DMDecision, error)
	Reflect(ctx context.Context, bctx brain.Context, currentStrategy, episodeSummary string) (string, error)
	Ask(ctx context.Context, bctx brain.Context, question string) (string, error)
}

// Platform is the social platform surface. *moltbook.Client satisfies it;
// tests substitute fakes.
type Platform interface {
	Feed(ctx context.Context, sort string, limit int) ([]moltbook.Post, error)
	Comments(ctx context.Context, postID string) ([]moltbook.Comment, error)
	CreatePost(ctx context.Context, submolt, title, content string) (moltbook.Post, error)
	CreateComment(ctx context.Context, postID, parentID, content string) (moltbook.Comment, error)
	UpvotePost(ctx context.Context, postID string) error
	UpvoteComment(ctx context.Context, commentID string) error
	Search(ctx context.Context, query string) (moltbook.SearchResult, error)
	AgentPosts(ctx context.Context, agentName string, limit int) ([]moltbook.Post, error)
	DMCheck(ctx context.Context) (moltbook.DMActivity, error)
	DMRequests(ctx context.Context) ([]moltbook.DMRequest, error)
	DMApprove(ctx context.Context, conversationID string) error
	DMConversations(ctx context.Context) ([]moltbook.DMConversationSummary, error)
	DMMessages(ctx context.Context, conversationID string) ([]moltbook.DMMessage, error)
	DMSend(ctx context.Context, conversationID, content string) (moltbook.DMMessage, error)
}

// Consolidator runs one consolidation pass; *memory.Consolidator satisfies it.
type Consolidator interface {
	Run(ctx context.Context) error
}
