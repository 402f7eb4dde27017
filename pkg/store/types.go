package store

import "time"

// Core memory block names. Exactly these four rows exist after first launch.
const (
	BlockPersona         = "persona"
	BlockGoals           = "goals"
	BlockSocialGraph     = "social_graph"
	BlockDomainKnowledge = "domain_knowledge"
)

type CoreBlock struct {
	Name      string
	Content   string
	CharLimit int
	UpdatedAt time.Time
}

// Episode types written by the agent core.
const (
	EpisodePost          = "post"
	EpisodeComment       = "comment"
	EpisodeUpvote        = "upvote"
	EpisodeSkip          = "skip"
	EpisodeDMReply       = "dm_reply"
	EpisodeDMApproved    = "dm_approved"
	EpisodeEscalation    = "escalation"
	EpisodeReplyBacklog  = "reply_backlog"
	EpisodeConsolidation = "consolidation"
	EpisodeReflection    = "reflection"
	EpisodeHeartbeatSkip = "heartbeat_skip"
	EpisodeCompressed    = "compressed_summary"
)

type Episode struct {
	ID         int64
	Type       string
	Content    string
	Importance float64
	Metadata   string
	CreatedAt  time.Time
}

type Insight struct {
	ID               int64
	Insight          string
	Category         string
	Confidence       float64
	EvidenceCount    int
	SourceEpisodeIDs string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Reflection triggers.
const (
	TriggerHeartbeatCount     = "heartbeat_count"
	TriggerStabilityThreshold = "stability_threshold"
	TriggerManual             = "manual"
)

type StrategyVersion struct {
	Version       int64
	Strategy      string
	ParentVersion int64
	Trigger       string
	Snapshot      string
	CreatedAt     time.Time
}

// RateCounters is the shield's view of recent action history. comments_today
// resets on a fixed UTC day boundary tracked by CommentsDay.
type RateCounters struct {
	LastPostAt    time.Time
	LastCommentAt time.Time
	CommentsToday int
	CommentsDay   string // YYYY-MM-DD, UTC
}

// DM conversation states.
const (
	DMStateAuto      = "AUTO"
	DMStateEscalated = "ESCALATED"
)

type DMConversation struct {
	ConversationID    string
	OtherAgent        string
	LastSeenMessageID string
	State             string
	UpdatedAt         time.Time
}

// Task tiers and statuses.
const (
	TierOwner      = "owner"
	TierAutonomous = "autonomous"

	TaskPending = "pending"
	TaskRunning = "running"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

type Task struct {
	ID        string
	Tier      string
	Kind      string
	Payload   string
	Status    string
	Result    string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type OwnPost struct {
	PostID    string
	Submolt   string
	Title     string
	CreatedAt time.Time
}

type OwnComment struct {
	CommentID string
	PostID    string
	CreatedAt time.Time
}

type SeenComment struct {
	CommentID string
	PostID    string
	Replied   bool
	SeenAt    time.Time
}

type WatchedAgent struct {
	Name    string
	AddedAt time.Time
}

type DigestItem struct {
	ID        int64
	Content   string
	CreatedAt time.Time
}

type AgentEvent struct {
	ID        int64
	Kind      string
	Detail    string
	CreatedAt time.Time
}

type AuditRecord struct {
	ID        int64
	Action    string
	Verdict   string
	Reason    string
	CreatedAt time.Time
}

// Stats is an aggregate snapshot for the /status command.
type Stats struct {
	Episodes      int
	Insights      int
	StrategyV     int64
	Posts         int
	Comments      int
	PendingTasks  int
	CommentsToday int
	Paused        bool
}
