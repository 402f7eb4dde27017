package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_CommandRoundTrip(t *testing.T) {
	b := New()
	defer b.Close()

	b.PublishCommand(Command{Name: "status", SenderID: "owner"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	cmd, ok := b.ConsumeCommand(ctx)
	require.True(t, ok)
	assert.Equal(t, "status", cmd.Name)
	assert.Equal(t, "owner", cmd.SenderID)
}

func TestBus_NotificationRoundTrip(t *testing.T) {
	b := New()
	defer b.Close()

	b.Notify(Notification{Kind: "escalation", Content: "needs you"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n, ok := b.NextNotification(ctx)
	require.True(t, ok)
	assert.Equal(t, "escalation", n.Kind)
}

func TestBus_ConsumeRespectsContext(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := b.ConsumeCommand(ctx)
	assert.False(t, ok)
}

func TestBus_DropsWhenFull(t *testing.T) {
	b := New()
	defer b.Close()

	for i := 0; i < 101; i++ {
		b.Notify(Notification{Kind: "digest"})
	}

	_, dropped := b.Dropped()
	assert.Equal(t, 1, dropped)
}

func TestBus_PublishAfterCloseIsNoop(t *testing.T) {
	b := New()
	b.Close()

	assert.NotPanics(t, func() {
		b.PublishCommand(Command{Name: "status"})
		b.Notify(Notification{Kind: "status"})
	})
}
