package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/moltagent/moltagent/pkg/bus"
	"github.com/moltagent/moltagent/pkg/config"
	"github.com/moltagent/moltagent/pkg/logger"
)

// Manager owns the control channels and the outbound notification
// dispatcher.
type Manager struct {
	channels map[string]Channel
	bus      *bus.Bus
	config   *config.Config

	mu             sync.RWMutex
	dispatchCancel context.CancelFunc
}

func NewManager(cfg *config.Config, b *bus.Bus) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      b,
		config:   cfg,
	}
	if err := m.initChannels(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initChannels() error {
	if strings.TrimSpace(m.config.Channels.Discord.Token) == "" {
		logger.WarnC("channels", "No Discord token configured, running without a control channel")
		return nil
	}
	if strings.TrimSpace(m.config.Channels.Discord.OwnerID) == "" {
		return fmt.Errorf("channels.discord.owner_id is required when a token is set")
	}

	discord, err := NewDiscordChannel(m.config.Channels.Discord, m.bus)
	if err != nil {
		return fmt.Errorf("initialize Discord channel: %w", err)
	}
	m.channels["discord"] = discord

	logger.InfoCF("channels", "Channels initialized", map[string]interface{}{
		"enabled": len(m.channels),
	})
	return nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	channelsCopy := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		channelsCopy[name] = ch
	}
	m.mu.RUnlock()

	if len(channelsCopy) == 0 {
		logger.WarnC("channels", "No channels enabled, owner notifications will be dropped")
	}

	var started []string
	var startErrors []string
	for name, ch := range channelsCopy {
		if err := ch.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
			startErrors = append(startErrors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		started = append(started, name)
	}

	if len(startErrors) > 0 {
		for _, name := range started {
			if err := channelsCopy[name].Stop(ctx); err != nil {
				logger.WarnCF("channels", "Failed to stop partially-started channel", map[string]interface{}{
					"channel": name,
					"error":   err.Error(),
				})
			}
		}
		return fmt.Errorf("start channels: %s", strings.Join(startErrors, "; "))
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.dispatchCancel != nil {
		m.dispatchCancel()
	}
	m.dispatchCancel = cancel
	m.mu.Unlock()

	go m.dispatchNotifications(dispatchCtx)

	logger.InfoCF("channels", "All channels started", map[string]interface{}{
		"count": len(started),
	})
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dispatchCancel != nil {
		m.dispatchCancel()
		m.dispatchCancel = nil
	}

	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}

	logger.InfoC("channels", "All channels stopped")
	return nil
}

// dispatchNotifications routes bus notifications to their channel until ctx
// is cancelled.
func (m *Manager) dispatchNotifications(ctx context.Context) {
	for {
		n, ok := m.bus.NextNotification(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		m.mu.RLock()
		ch, exists := m.channels[n.Channel]
		m.mu.RUnlock()

		if !exists {
			logger.WarnCF("channels", "No channel for notification", map[string]interface{}{
				"channel": n.Channel,
				"kind":    n.Kind,
			})
			continue
		}

		if err := ch.Send(ctx, n); err != nil {
			logger.ErrorCF("channels", "Notification delivery failed", map[string]interface{}{
				"channel": n.Channel,
				"kind":    n.Kind,
				"error":   err.Error(),
			})
		}
	}
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

func (m *Manager) EnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
