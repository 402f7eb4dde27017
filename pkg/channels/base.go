package channels

import (
	"context"
	"strings"

	"github.com/moltagent/moltagent/pkg/bus"
)

// Channel is a control surface for the owner. Channels parse owner commands
// into the bus and deliver notifications back out.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, n bus.Notification) error
	IsRunning() bool
}

type BaseChannel struct {
	name    string
	ownerID string
	bus     *bus.Bus
	running bool
}

func NewBaseChannel(name, ownerID string, b *bus.Bus) *BaseChannel {
	return &BaseChannel{name: name, ownerID: ownerID, bus: b}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running
}

func (c *BaseChannel) setRunning(running bool) {
	c.running = running
}

// IsOwner checks the single-identity allow list. Anyone else is dropped
// silently; the agent has exactly one operator.
func (c *BaseChannel) IsOwner(senderID string) bool {
	return c.ownerID != "" && senderID == c.ownerID
}

// publishCommand parses owner input and puts it on the bus. A leading slash
// marks a command; bare text is treated as a question for the agent.
func (c *BaseChannel) publishCommand(senderID, chatID, content string) {
	name, args := ParseCommand(content)
	c.bus.PublishCommand(bus.Command{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Name:     name,
		Args:     args,
	})
}

// ParseCommand splits owner input into a command name and its argument
// string. Input without a leading slash becomes an "ask".
func ParseCommand(content string) (name, args string) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "/") {
		return "ask", content
	}

	rest := strings.TrimPrefix(content, "/")
	parts := strings.SplitN(rest, " ", 2)
	name = strings.ToLower(parts[0])
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}
	return name, args
}
