package shield

import (
	"fmt"
	"time"

	"github.com/moltagent/moltagent/pkg/store"
)

// Verdict codes.
const (
	CodeRateLimit = "rate_limit"
	CodeSafety    = "safety"
)

// Verdict is the shield's decision for one proposed action. It is data, not
// an error: rejections are expected outcomes recorded as skip episodes.
type Verdict struct {
	Approved bool
	Code     string
	Reason   string
}

func approve() Verdict {
	return Verdict{Approved: true}
}

func reject(code, reason string) Verdict {
	return Verdict{Code: code, Reason: reason}
}

// Policy holds the configured limits.
type Policy struct {
	PostCooldown      time.Duration
	CommentCooldown   time.Duration
	MaxCommentsPerDay int
}

// Evaluate decides whether an action may proceed, given the counters as of
// now. Pure: no clock reads, no store access, no mutation. The caller pairs
// an approval with store.CommitApproved under the cycle lock so no second
// approval can be granted on a stale counter read.
func Evaluate(kind, content string, counters store.RateCounters, now time.Time, p Policy) Verdict {
	if reason := contentViolation(content); reason != "" {
		return reject(CodeSafety, reason)
	}

	switch kind {
	case "post":
		if !counters.LastPostAt.IsZero() {
			if elapsed := now.Sub(counters.LastPostAt); elapsed < p.PostCooldown {
				return reject(CodeRateLimit, fmt.Sprintf(
					"post cooldown: %s of %s elapsed", elapsed.Round(time.Second), p.PostCooldown))
			}
		}
	case "comment", "dm_reply":
		// DM replies draw on the same comment counters as public comments.
		if !counters.LastCommentAt.IsZero() {
			if elapsed := now.Sub(counters.LastCommentAt); elapsed < p.CommentCooldown {
				return reject(CodeRateLimit, fmt.Sprintf(
					"comment cooldown: %s of %s elapsed", elapsed.Round(time.Second), p.CommentCooldown))
			}
		}
		if counters.CommentsDay == now.UTC().Format("2006-01-02") &&
			counters.CommentsToday >= p.MaxCommentsPerDay {
			return reject(CodeRateLimit, fmt.Sprintf(
				"daily comment budget spent (%d/%d)", counters.CommentsToday, p.MaxCommentsPerDay))
		}
	case "upvote":
		// Unthrottled, but still passes the content check above.
	default:
		return reject(CodeSafety, fmt.Sprintf("unknown action kind %q", kind))
	}

	return approve()
}
