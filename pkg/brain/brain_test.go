package brain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	response string
	err      error
	lastSys  string
	lastUser string
}

func (p *scriptedProvider) Chat(_ context.Context, system, user string) (string, error) {
	p.lastSys = system
	p.lastUser = user
	return p.response, p.err
}

func TestDecideAction_ParsesPlainJSON(t *testing.T) {
	p := &scriptedProvider{response: `{"action":"comment","target_id":"p7","content":"great find!"}`}
	b := New(p, "moltagent")

	action, err := b.DecideAction(context.Background(), Context{MemoryBlocks: "[persona]\ncrab"}, "feed text")
	require.NoError(t, err)
	assert.Equal(t, ActionComment, action.Kind)
	assert.Equal(t, "p7", action.Target)
	assert.Equal(t, "great find!", action.Content)
}

func TestDecideAction_ParsesFencedJSONWithProse(t *testing.T) {
	p := &scriptedProvider{response: "Sure, here's my decision:\n```json\n{\"action\": \"skip\", \"reason\": \"nothing new\"}\n```"}
	b := New(p, "moltagent")

	action, err := b.DecideAction(context.Background(), Context{}, "feed")
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, action.Kind)
	assert.Equal(t, "nothing new", action.Reason)
}

func TestDecideAction_RejectsUnknownKind(t *testing.T) {
	p := &scriptedProvider{response: `{"action":"teleport"}`}
	b := New(p, "moltagent")

	_, err := b.DecideAction(context.Background(), Context{}, "feed")
	assert.Error(t, err)
}

func TestDecideAction_PropagatesProviderError(t *testing.T) {
	p := &scriptedProvider{err: errors.New("upstream 503")}
	b := New(p, "moltagent")

	_, err := b.DecideAction(context.Background(), Context{}, "feed")
	assert.ErrorContains(t, err, "upstream 503")
}

func TestDecideDM_Escalation(t *testing.T) {
	p := &scriptedProvider{response: `{"needs_human": true, "reason": "collaboration proposal"}`}
	b := New(p, "moltagent")

	decision, err := b.DecideDM(context.Background(), Context{}, "hey, want to launch a token together?")
	require.NoError(t, err)
	assert.True(t, decision.Escalate)
	assert.Equal(t, "collaboration proposal", decision.Reason)
}

func TestDecideDM_EmptyReplyWithoutEscalationFails(t *testing.T) {
	p := &scriptedProvider{response: `{"needs_human": false, "reply": "  "}`}
	b := New(p, "moltagent")

	_, err := b.DecideDM(context.Background(), Context{}, "hi")
	assert.Error(t, err)
}

func TestExtractInsights_CapsAtThree(t *testing.T) {
	p := &scriptedProvider{response: `[
		{"insight":"a","category":"x"},
		{"insight":"b","category":"x"},
		{"insight":"c","category":"x"},
		{"insight":"d","category":"x"}]`}
	b := New(p, "moltagent")

	proposals, err := b.ExtractInsights(context.Background(), nil, "episodes")
	require.NoError(t, err)
	assert.Len(t, proposals, 3)
}

func TestRewriteBlock_EnforcesCharLimit(t *testing.T) {
	p := &scriptedProvider{response: "0123456789ABCDEF"}
	b := New(p, "moltagent")

	updated, err := b.RewriteBlock(context.Background(), "goals", "old", "episodes", 10)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", updated)
}

func TestRewriteBlock_EmptyOutputKeepsCurrent(t *testing.T) {
	p := &scriptedProvider{response: "   "}
	b := New(p, "moltagent")

	updated, err := b.RewriteBlock(context.Background(), "goals", "keep me", "episodes", 100)
	require.NoError(t, err)
	assert.Equal(t, "keep me", updated)
}

func TestSystemPromptCarriesContext(t *testing.T) {
	p := &scriptedProvider{response: `{"action":"skip"}`}
	b := New(p, "moltagent")

	bctx := Context{
		MemoryBlocks: "[persona]\na curious crab",
		Strategy:     "engage with marine biology posts",
		Insights:     "short posts do better",
	}
	_, err := b.DecideAction(context.Background(), bctx, "feed")
	require.NoError(t, err)

	assert.Contains(t, p.lastSys, "a curious crab")
	assert.Contains(t, p.lastSys, "engage with marine biology posts")
	assert.Contains(t, p.lastSys, "short posts do better")
	assert.Contains(t, p.lastSys, "untrusted_content")
}

func TestExtractJSON_NestedBraces(t *testing.T) {
	raw := `prefix {"a": {"b": "c}"}, "d": 1} suffix`
	assert.JSONEq(t, `{"a": {"b": "c}"}, "d": 1}`, string(extractJSON(raw)))
}
