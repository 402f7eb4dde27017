package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moltagent/moltagent/pkg/brain"
	"github.com/moltagent/moltagent/pkg/logger"
	"github.com/moltagent/moltagent/pkg/store"
)

const (
	watermarkKey     = "consolidation_watermark"
	compressionBatch = 10
	episodeReadLimit = 200
)

// ConsolidationBrain is the slice of inference the consolidator needs.
type ConsolidationBrain interface {
	ExtractInsights(ctx context.Context, existing []string, episodeSummary string) ([]brain.InsightProposal, error)
	RewriteBlock(ctx context.Context, block, current, episodeSummary string, charLimit int) (string, error)
	Summarize(ctx context.Context, episodeSummary string) (string, error)
}

type ConsolidatorConfig struct {
	CompressionAge        time.Duration
	CompressionImportance float64

	// Clock defaults to the wall clock; tests inject a fixed one.
	Clock func() time.Time
}

// Consolidator periodically folds fresh episodes into insights and updated
// core blocks, tracking progress with a watermark so an interrupted run can
// be retried without duplicating output.
type Consolidator struct {
	store *store.Store
	brain ConsolidationBrain
	cfg   ConsolidatorConfig
}

func NewConsolidator(s *store.Store, b ConsolidationBrain, cfg ConsolidatorConfig) *Consolidator {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Consolidator{store: s, brain: b, cfg: cfg}
}

// Run executes one consolidation pass. The caller holds the cycle lock.
func (c *Consolidator) Run(ctx context.Context) error {
	if err := c.compressOldEpisodes(ctx); err != nil {
		logger.WarnCF("consolidation", "Episode compression failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	watermark, err := c.store.GetStateInt(ctx, watermarkKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("read watermark: %w", err)
	}

	episodes, err := c.store.EpisodesAfter(ctx, watermark, episodeReadLimit)
	if err != nil {
		return fmt.Errorf("read fresh episodes: %w", err)
	}
	if len(episodes) == 0 {
		logger.DebugC("consolidation", "No fresh episodes, nothing to consolidate")
		return nil
	}

	summary := summarizeEpisodes(episodes)

	newInsights := c.extractInsights(ctx, episodes, summary)
	c.updateCoreBlocks(ctx, summary)

	// Advance the watermark only after the derived writes landed, so a
	// crash mid-run reprocesses from the old mark instead of losing input.
	highest := episodes[len(episodes)-1].ID
	if err := c.store.SetStateInt(ctx, watermarkKey, highest); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}

	logger.InfoCF("consolidation", "Consolidation pass complete", map[string]interface{}{
		"episodes":     len(episodes),
		"new_insights": newInsights,
		"watermark":    highest,
	})
	return nil
}

func (c *Consolidator) extractInsights(ctx context.Context, episodes []store.Episode, summary string) int {
	existing, err := c.store.Insights(ctx, 50)
	if err != nil {
		logger.WarnCF("consolidation", "Failed to read existing insights", map[string]interface{}{
			"error": err.Error(),
		})
		return 0
	}

	existingText := make([]string, 0, len(existing))
	existingByText := make(map[string]store.Insight, len(existing))
	for _, in := range existing {
		existingText = append(existingText, in.Insight)
		existingByText[normalizeInsight(in.Insight)] = in
	}

	proposals, err := c.brain.ExtractInsights(ctx, existingText, summary)
	if err != nil {
		logger.WarnCF("consolidation", "Insight extraction failed", map[string]interface{}{
			"error": err.Error(),
		})
		return 0
	}

	sourceIDs := episodeIDList(episodes)
	added := 0
	for _, p := range proposals {
		// Contradicted insights lose confidence but stay in the table.
		if prior, ok := existingByText[normalizeInsight(p.Contradicts)]; ok && p.Contradicts != "" {
			if err := c.store.AdjustInsightConfidence(ctx, prior.ID, -0.2); err != nil {
				logger.WarnCF("consolidation", "Failed to suppress contradicted insight", map[string]interface{}{
					"insight_id": prior.ID,
					"error":      err.Error(),
				})
			}
		}
		if strings.TrimSpace(p.Insight) == "" {
			continue
		}
		// A re-proposed insight reinforces the existing row instead of
		// duplicating it.
		if prior, dup := existingByText[normalizeInsight(p.Insight)]; dup {
			if err := c.store.AdjustInsightConfidence(ctx, prior.ID, 0.1); err != nil {
				logger.WarnCF("consolidation", "Failed to reinforce insight", map[string]interface{}{
					"insight_id": prior.ID,
					"error":      err.Error(),
				})
			}
			continue
		}
		if _, err := c.store.AppendInsight(ctx, store.Insight{
			Insight:          p.Insight,
			Category:         p.Category,
			SourceEpisodeIDs: sourceIDs,
		}); err != nil {
			logger.WarnCF("consolidation", "Failed to append insight", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		added++
	}
	return added
}

// updateCoreBlocks rewrites the mutable blocks. Persona is static identity
// and is never rewritten by consolidation.
func (c *Consolidator) updateCoreBlocks(ctx context.Context, summary string) {
	for _, name := range []string{store.BlockGoals, store.BlockSocialGraph, store.BlockDomainKnowledge} {
		block, err := c.store.CoreBlock(ctx, name)
		if err != nil {
			logger.WarnCF("consolidation", "Failed to read core block", map[string]interface{}{
				"block": name,
				"error": err.Error(),
			})
			continue
		}

		updated, err := c.brain.RewriteBlock(ctx, name, block.Content, summary, block.CharLimit)
		if err != nil {
			logger.WarnCF("consolidation", "Block rewrite failed", map[string]interface{}{
				"block": name,
				"error": err.Error(),
			})
			continue
		}
		if updated == block.Content {
			continue
		}
		if err := c.store.UpdateCoreBlock(ctx, name, updated, c.cfg.Clock().UTC()); err != nil {
			logger.WarnCF("consolidation", "Failed to write core block", map[string]interface{}{
				"block": name,
				"error": err.Error(),
			})
		}
	}
}

// compressOldEpisodes archives batches of stale low-importance episodes
// behind a single summary each.
func (c *Consolidator) compressOldEpisodes(ctx context.Context) error {
	cutoff := c.cfg.Clock().UTC().Add(-c.cfg.CompressionAge)

	for {
		batch, err := c.store.CompressibleEpisodes(ctx, cutoff, c.cfg.CompressionImportance, compressionBatch)
		if err != nil {
			return err
		}
		if len(batch) < compressionBatch {
			// Partial batches wait for more history.
			return nil
		}

		summaryText, err := c.brain.Summarize(ctx, summarizeEpisodes(batch))
		if err != nil {
			return fmt.Errorf("summarize batch: %w", err)
		}

		ids := make([]int64, len(batch))
		for i, ep := range batch {
			ids[i] = ep.ID
		}
		if _, err := c.store.ArchiveEpisodes(ctx, ids, store.Episode{
			Type:       store.EpisodeCompressed,
			Content:    summaryText,
			Importance: 6.0,
			Metadata:   fmt.Sprintf(`{"compressed_ids":"%s"}`, episodeIDList(batch)),
		}); err != nil {
			return fmt.Errorf("archive batch: %w", err)
		}

		logger.InfoCF("consolidation", "Compressed episode batch", map[string]interface{}{
			"count": len(batch),
		})
	}
}

func summarizeEpisodes(eps []store.Episode) string {
	var sb strings.Builder
	for _, ep := range eps {
		fmt.Fprintf(&sb, "#%d [%s] (importance %.1f) %s\n", ep.ID, ep.Type, ep.Importance, ep.Content)
	}
	return sb.String()
}

func episodeIDList(eps []store.Episode) string {
	ids := make([]string, len(eps))
	for i, ep := range eps {
		ids[i] = fmt.Sprintf("%d", ep.ID)
	}
	return strings.Join(ids, ",")
}

func normalizeInsight(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
