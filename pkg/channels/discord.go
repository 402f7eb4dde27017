package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/moltagent/moltagent/pkg/bus"
	"github.com/moltagent/moltagent/pkg/config"
	"github.com/moltagent/moltagent/pkg/logger"
)

const (
	sendTimeout = 10 * time.Second
	// Discord caps messages at 2000 characters; leave headroom for clean
	// split points.
	discordChunkLimit = 1500
)

// DiscordChannel is the owner's control surface: DMs from the configured
// owner become bus commands, notifications become DMs back.
type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
	config  config.DiscordConfig
}

func NewDiscordChannel(cfg config.DiscordConfig, b *bus.Bus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", cfg.OwnerID, b),
		session:     session,
		config:      cfg,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord control channel")

	c.session.AddHandler(c.handleMessage)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord connected", map[string]interface{}{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord control channel")
	c.setRunning(false)

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) Send(ctx context.Context, n bus.Notification) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord channel not running")
	}

	chatID := n.ChatID
	if chatID == "" {
		chatID = c.config.OwnerID
	}
	if chatID == "" {
		return fmt.Errorf("no destination for notification")
	}

	// Notifications addressed to the owner's user id need a DM channel.
	if chatID == c.config.OwnerID {
		dm, err := c.session.UserChannelCreate(chatID)
		if err != nil {
			return fmt.Errorf("open owner DM channel: %w", err)
		}
		chatID = dm.ID
	}

	for _, chunk := range splitMessage(n.Content, discordChunkLimit) {
		if err := c.sendChunk(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *DiscordChannel) sendChunk(ctx context.Context, channelID, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSend(channelID, content)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil {
		return
	}
	if m.Author.ID == s.State.User.ID {
		return
	}

	// Single-operator model: anyone but the owner is dropped without a
	// reply, so strangers cannot probe for the bot's presence.
	if !c.IsOwner(m.Author.ID) {
		logger.DebugCF("discord", "Message from non-owner dropped", map[string]interface{}{
			"user_id": m.Author.ID,
		})
		return
	}

	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	logger.DebugCF("discord", "Owner message received", map[string]interface{}{
		"channel_id": m.ChannelID,
	})
	c.publishCommand(m.Author.ID, m.ChannelID, content)
}

// splitMessage breaks long content at newline or space boundaries so each
// chunk fits the platform limit.
func splitMessage(content string, limit int) []string {
	var chunks []string
	for len(content) > 0 {
		if len(content) <= limit {
			chunks = append(chunks, content)
			break
		}

		end := lastBoundary(content[:limit], '\n', 200)
		if end <= 0 {
			end = lastBoundary(content[:limit], ' ', 100)
		}
		if end <= 0 {
			end = limit
		}

		chunks = append(chunks, content[:end])
		content = strings.TrimSpace(content[end:])
	}
	return chunks
}

// lastBoundary finds the last occurrence of sep within the trailing window.
func lastBoundary(s string, sep byte, window int) int {
	start := len(s) - window
	if start < 0 {
		start = 0
	}
	for i := len(s) - 1; i >= start; i-- {
		if s[i] == sep {
			return i
		}
	}
	return -1
}
