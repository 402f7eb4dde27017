package channels

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltagent/moltagent/pkg/bus"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input    string
		wantName string
		wantArgs string
	}{
		{"/status", "status", ""},
		{"/search go generics", "search", "go generics"},
		{"/dm_reply conv1 sounds good", "dm_reply", "conv1 sounds good"},
		{"/POST golang Title | body", "post", "golang Title | body"},
		{"  /pause  ", "pause", ""},
		{"how are things going", "ask", "how are things going"},
		{"", "ask", ""},
	}

	for _, tt := range tests {
		name, args := ParseCommand(tt.input)
		assert.Equal(t, tt.wantName, name, "input %q", tt.input)
		assert.Equal(t, tt.wantArgs, args, "input %q", tt.input)
	}
}

func TestIsOwnerSingleIdentity(t *testing.T) {
	c := NewBaseChannel("discord", "owner-1", bus.New())

	assert.True(t, c.IsOwner("owner-1"))
	assert.False(t, c.IsOwner("someone-else"))
	assert.False(t, c.IsOwner(""))

	// No configured owner means nobody is trusted.
	open := NewBaseChannel("discord", "", bus.New())
	assert.False(t, open.IsOwner("anyone"))
}

func TestPublishCommandReachesBus(t *testing.T) {
	b := bus.New()
	c := NewBaseChannel("discord", "owner-1", b)

	c.publishCommand("owner-1", "chat-9", "/watch rival_bot")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cmd, ok := b.ConsumeCommand(ctx)
	require.True(t, ok)
	assert.Equal(t, "discord", cmd.Channel)
	assert.Equal(t, "owner-1", cmd.SenderID)
	assert.Equal(t, "chat-9", cmd.ChatID)
	assert.Equal(t, "watch", cmd.Name)
	assert.Equal(t, "rival_bot", cmd.Args)
}

func TestSplitMessageShortContentUntouched(t *testing.T) {
	chunks := splitMessage("hello owner", 1500)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello owner", chunks[0])
}

func TestSplitMessagePrefersNewlineBoundaries(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("a digest line about watched agent activity\n")
	}
	content := sb.String()

	chunks := splitMessage(content, 300)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 300)
		assert.False(t, strings.HasPrefix(chunk, " "), "chunk should not start mid-word")
	}

	rejoined := strings.Join(chunks, "\n")
	assert.Equal(t, strings.TrimSpace(content), strings.TrimSpace(rejoined))
}

func TestSplitMessageHardSplitWithoutBoundaries(t *testing.T) {
	content := strings.Repeat("x", 4000)
	chunks := splitMessage(content, 1500)
	require.Len(t, chunks, 3)
	assert.Equal(t, 1500, len(chunks[0]))
	assert.Equal(t, 1500, len(chunks[1]))
	assert.Equal(t, 1000, len(chunks[2]))
}
