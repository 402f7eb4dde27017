package bus

import (
	"context"
	"sync"
	"time"

	"github.com/moltagent/moltagent/pkg/logger"
)

const publishTimeout = 100 * time.Millisecond

// Command is an owner instruction received on a control channel.
type Command struct {
	Channel  string
	SenderID string
	ChatID   string
	Name     string
	Args     string
}

// Notification is an outbound message for the owner.
type Notification struct {
	Channel string
	ChatID  string
	Content string
	Kind    string // dm_approved, escalation, task_result, digest, stability_alert, status
}

// Bus decouples control channels from the agent core. Commands flow in,
// notifications flow out. Both sides are buffered; a full buffer drops the
// message after a short timeout rather than blocking a caller.
type Bus struct {
	commands      chan Command
	notifications chan Notification

	mu                   sync.Mutex
	closed               bool
	droppedCommands      int
	droppedNotifications int
}

func New() *Bus {
	return &Bus{
		commands:      make(chan Command, 100),
		notifications: make(chan Notification, 100),
	}
}

func (b *Bus) PublishCommand(cmd Command) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	select {
	case b.commands <- cmd:
	case <-time.After(publishTimeout):
		b.mu.Lock()
		b.droppedCommands++
		dropped := b.droppedCommands
		b.mu.Unlock()
		logger.WarnCF("bus", "Command buffer full, dropping", map[string]interface{}{
			"command":       cmd.Name,
			"total_dropped": dropped,
		})
	}
}

// ConsumeCommand blocks until a command arrives or ctx is done.
func (b *Bus) ConsumeCommand(ctx context.Context) (Command, bool) {
	select {
	case cmd, ok := <-b.commands:
		return cmd, ok
	case <-ctx.Done():
		return Command{}, false
	}
}

func (b *Bus) Notify(n Notification) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	select {
	case b.notifications <- n:
	case <-time.After(publishTimeout):
		b.mu.Lock()
		b.droppedNotifications++
		dropped := b.droppedNotifications
		b.mu.Unlock()
		logger.WarnCF("bus", "Notification buffer full, dropping", map[string]interface{}{
			"kind":          n.Kind,
			"total_dropped": dropped,
		})
	}
}

// NextNotification blocks until a notification arrives or ctx is done.
func (b *Bus) NextNotification(ctx context.Context) (Notification, bool) {
	select {
	case n, ok := <-b.notifications:
		return n, ok
	case <-ctx.Done():
		return Notification{}, false
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.commands)
	close(b.notifications)
}

func (b *Bus) Dropped() (commands, notifications int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.droppedCommands, b.droppedNotifications
}
