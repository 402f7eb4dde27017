package brain

// Action kinds the autonomous engine understands. Skip is always legal and
// ends the cycle.
const (
	ActionPost    = "post"
	ActionComment = "comment"
	ActionUpvote  = "upvote"
	ActionSkip    = "skip"
)

// Action is the brain's decision for one autonomous cycle. The orchestration
// core only ever branches on Kind; free-form model output never leaks past
// this type.
type Action struct {
	Kind    string `json:"action"`
	Submolt string `json:"submolt,omitempty"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
	Target  string `json:"target_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// DMDecision is the brain's verdict on one DM conversation: either a reply
// to send, or an escalation to the owner.
type DMDecision struct {
	Escalate bool   `json:"needs_human"`
	Reason   string `json:"reason,omitempty"`
	Reply    string `json:"reply,omitempty"`
}

// InsightProposal is one generalization extracted during consolidation.
// Contradicts optionally names an existing insight the new observation
// undermines.
type InsightProposal struct {
	Insight     string `json:"insight"`
	Category    string `json:"category"`
	Contradicts string `json:"contradicts,omitempty"`
}

// Context carries the durable framing injected into every brain call.
type Context struct {
	MemoryBlocks string
	Strategy     string
	Insights     string
}
