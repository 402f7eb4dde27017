package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltagent/moltagent/pkg/brain"
	"github.com/moltagent/moltagent/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "moltagent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestManagerInit_FourBlocksOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := NewManager(s)

	require.NoError(t, m.Init(ctx, "moltagent"))

	blocks, err := s.CoreBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 4)

	require.NoError(t, s.UpdateCoreBlock(ctx, store.BlockGoals, "new goals", time.Now().UTC()))
	require.NoError(t, m.Init(ctx, "moltagent"))

	goals, err := s.CoreBlock(ctx, store.BlockGoals)
	require.NoError(t, err)
	assert.Equal(t, "new goals", goals.Content)
}

func TestContextBlocksFormat(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := NewManager(s)
	require.NoError(t, m.Init(ctx, "moltagent"))

	rendered, err := m.ContextBlocks(ctx)
	require.NoError(t, err)
	assert.Contains(t, rendered, "[persona]")
	assert.Contains(t, rendered, "[goals]")
	assert.Contains(t, rendered, "[social_graph]")
	assert.Contains(t, rendered, "[domain_knowledge]")
}

func TestRecall_PrefersRelevantAndImportant(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := NewManager(s)

	_, err := m.Remember(ctx, store.EpisodePost, "posted about tide pools and anemones", 8, "")
	require.NoError(t, err)
	_, err = m.Remember(ctx, store.EpisodeComment, "argued about keyboard layouts", 3, "")
	require.NoError(t, err)
	_, err = m.Remember(ctx, store.EpisodeComment, "replied to a tide pools question", 6, "")
	require.NoError(t, err)

	got, err := m.Recall(ctx, "tide pools", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, ep := range got {
		assert.Contains(t, ep.Content, "tide pools")
	}
}

type fakeConsolidationBrain struct {
	insights    []brain.InsightProposal
	insightErr  error
	blockSuffix string
	summaries   int
}

func (f *fakeConsolidationBrain) ExtractInsights(_ context.Context, existing []string, _ string) ([]brain.InsightProposal, error) {
	return f.insights, f.insightErr
}

func (f *fakeConsolidationBrain) RewriteBlock(_ context.Context, _, current, _ string, limit int) (string, error) {
	updated := current + f.blockSuffix
	if len(updated) > limit {
		updated = updated[:limit]
	}
	return updated, nil
}

func (f *fakeConsolidationBrain) Summarize(_ context.Context, _ string) (string, error) {
	f.summaries++
	return "condensed history", nil
}

func newConsolidator(s *store.Store, b ConsolidationBrain) *Consolidator {
	return NewConsolidator(s, b, ConsolidatorConfig{
		CompressionAge:        48 * time.Hour,
		CompressionImportance: 5.0,
	})
}

func TestConsolidator_ExtractsAndAdvancesWatermark(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, NewManager(s).Init(ctx, "moltagent"))

	var lastID int64
	for _, content := range []string{"posted about molting", "got three replies", "upvoted a reef survey"} {
		id, err := s.AppendEpisode(ctx, store.Episode{Type: store.EpisodePost, Content: content})
		require.NoError(t, err)
		lastID = id
	}

	fb := &fakeConsolidationBrain{
		insights: []brain.InsightProposal{{Insight: "molting content lands well", Category: "engagement"}},
	}
	c := newConsolidator(s, fb)
	require.NoError(t, c.Run(ctx))

	insights, err := s.Insights(ctx, 10)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "molting content lands well", insights[0].Insight)
	assert.NotEmpty(t, insights[0].SourceEpisodeIDs)

	mark, err := s.GetStateInt(ctx, watermarkKey)
	require.NoError(t, err)
	assert.Equal(t, lastID, mark)
}

func TestConsolidator_RerunWithoutNewEpisodesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, NewManager(s).Init(ctx, "moltagent"))

	_, err := s.AppendEpisode(ctx, store.Episode{Type: store.EpisodePost, Content: "first post"})
	require.NoError(t, err)

	fb := &fakeConsolidationBrain{
		insights: []brain.InsightProposal{{Insight: "one insight", Category: "misc"}},
	}
	c := newConsolidator(s, fb)
	require.NoError(t, c.Run(ctx))

	markBefore, err := s.GetStateInt(ctx, watermarkKey)
	require.NoError(t, err)

	require.NoError(t, c.Run(ctx))

	insights, err := s.Insights(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, insights, 1, "re-run must not duplicate insights")

	markAfter, err := s.GetStateInt(ctx, watermarkKey)
	require.NoError(t, err)
	assert.Equal(t, markBefore, markAfter, "watermark unchanged without new episodes")
}

func TestConsolidator_DuplicateProposalReinforcesInsight(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, NewManager(s).Init(ctx, "moltagent"))

	_, err := s.AppendEpisode(ctx, store.Episode{Type: store.EpisodePost, Content: "a"})
	require.NoError(t, err)

	fb := &fakeConsolidationBrain{insights: []brain.InsightProposal{{Insight: "Short posts work", Category: "style"}}}
	c := newConsolidator(s, fb)
	require.NoError(t, c.Run(ctx))

	_, err = s.AppendEpisode(ctx, store.Episode{Type: store.EpisodePost, Content: "b"})
	require.NoError(t, err)
	require.NoError(t, c.Run(ctx))

	insights, err := s.Insights(ctx, 10)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.InDelta(t, 0.6, insights[0].Confidence, 1e-9)
}

func TestConsolidator_ContradictionLowersConfidence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, NewManager(s).Init(ctx, "moltagent"))

	_, err := s.AppendEpisode(ctx, store.Episode{Type: store.EpisodePost, Content: "a"})
	require.NoError(t, err)

	fb := &fakeConsolidationBrain{insights: []brain.InsightProposal{{Insight: "Long threads get traction", Category: "engagement"}}}
	c := newConsolidator(s, fb)
	require.NoError(t, c.Run(ctx))

	_, err = s.AppendEpisode(ctx, store.Episode{Type: store.EpisodePost, Content: "b"})
	require.NoError(t, err)
	fb.insights = []brain.InsightProposal{{
		Insight:     "Short posts outperform long threads",
		Category:    "engagement",
		Contradicts: "Long threads get traction",
	}}
	require.NoError(t, c.Run(ctx))

	insights, err := s.Insights(ctx, 10)
	require.NoError(t, err)
	require.Len(t, insights, 2)

	byText := make(map[string]store.Insight, len(insights))
	for _, in := range insights {
		byText[in.Insight] = in
	}
	assert.InDelta(t, 0.3, byText["Long threads get traction"].Confidence, 1e-9)
	assert.InDelta(t, 0.5, byText["Short posts outperform long threads"].Confidence, 1e-9)
}

func TestConsolidator_PersonaNeverRewritten(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, NewManager(s).Init(ctx, "moltagent"))

	persona, err := s.CoreBlock(ctx, store.BlockPersona)
	require.NoError(t, err)
	original := persona.Content

	_, err = s.AppendEpisode(ctx, store.Episode{Type: store.EpisodePost, Content: "x"})
	require.NoError(t, err)

	c := newConsolidator(s, &fakeConsolidationBrain{blockSuffix: " +updated"})
	require.NoError(t, c.Run(ctx))

	persona, err = s.CoreBlock(ctx, store.BlockPersona)
	require.NoError(t, err)
	assert.Equal(t, original, persona.Content)

	goals, err := s.CoreBlock(ctx, store.BlockGoals)
	require.NoError(t, err)
	assert.Contains(t, goals.Content, "+updated")
}

func TestConsolidator_CompressesFullBatches(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, NewManager(s).Init(ctx, "moltagent"))

	old := time.Now().UTC().Add(-72 * time.Hour)
	for i := 0; i < 12; i++ {
		_, err := s.AppendEpisode(ctx, store.Episode{
			Type:       store.EpisodeSkip,
			Content:    "quiet heartbeat",
			Importance: 2.0,
			CreatedAt:  old,
		})
		require.NoError(t, err)
	}

	fb := &fakeConsolidationBrain{}
	c := newConsolidator(s, fb)
	require.NoError(t, c.Run(ctx))

	assert.Equal(t, 1, fb.summaries, "one full batch of 10 compressed, partial batch of 2 left")

	live, err := s.RecentEpisodes(ctx, 100)
	require.NoError(t, err)

	var summaries, skips int
	for _, ep := range live {
		switch ep.Type {
		case store.EpisodeCompressed:
			summaries++
		case store.EpisodeSkip:
			skips++
		}
	}
	assert.Equal(t, 1, summaries)
	assert.Equal(t, 2, skips)
}

func TestConsolidator_CompressionCutoffFollowsClock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, NewManager(s).Init(ctx, "moltagent"))

	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		_, err := s.AppendEpisode(ctx, store.Episode{
			Type:       store.EpisodeSkip,
			Content:    "quiet heartbeat",
			Importance: 2.0,
			CreatedAt:  created,
		})
		require.NoError(t, err)
	}

	now := created.Add(12 * time.Hour)
	fb := &fakeConsolidationBrain{}
	c := NewConsolidator(s, fb, ConsolidatorConfig{
		CompressionAge:        48 * time.Hour,
		CompressionImportance: 5.0,
		Clock:                 func() time.Time { return now },
	})

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, 0, fb.summaries, "episodes younger than the compression age stay live")

	now = created.Add(72 * time.Hour)
	require.NoError(t, c.Run(ctx))
	assert.Equal(t, 1, fb.summaries)
}
