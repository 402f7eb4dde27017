package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/moltagent/moltagent/pkg/logger"
)

// RunDigest assembles the daily owner summary: queued watched-agent
// activity, own activity counts, and current strategy version. Draining
// is atomic, so a crash between drain and send loses at most one digest.
func (a *Agent) RunDigest(ctx context.Context) error {
	items, err := a.store.DrainDigestItems(ctx)
	if err != nil {
		return fmt.Errorf("drain digest items: %w", err)
	}

	stats, err := a.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Daily digest\n")
	fmt.Fprintf(&sb, "Posts: %d | Comments: %d (%d today) | Episodes: %d | Strategy: v%d\n",
		stats.Posts, stats.Comments, stats.CommentsToday, stats.Episodes, stats.StrategyV)

	if len(items) == 0 {
		sb.WriteString("No watched-agent activity since the last digest.")
	} else {
		fmt.Fprintf(&sb, "Watched activity (%d):\n", len(items))
		for _, it := range items {
			sb.WriteString("- " + it.Content + "\n")
		}
	}

	a.notifyOwner("digest", strings.TrimRight(sb.String(), "\n"))
	logger.InfoCF("digest", "Digest delivered", map[string]interface{}{
		"items": len(items),
	})
	return nil
}
