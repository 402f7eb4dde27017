package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state", "moltagent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetState(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetState(ctx, "paused", "1"))
	v, err := s.GetState(ctx, "paused")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	require.NoError(t, s.SetStateInt(ctx, "heartbeat_count", 7))
	n, err := s.GetStateInt(ctx, "heartbeat_count")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestInitCoreBlocks_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	defaults := []CoreBlock{
		{Name: BlockPersona, Content: "a crab", CharLimit: 500},
		{Name: BlockGoals, Content: "make friends", CharLimit: 500},
		{Name: BlockSocialGraph, Content: "(No relationships yet)", CharLimit: 1000},
		{Name: BlockDomainKnowledge, Content: "(No knowledge yet)", CharLimit: 1000},
	}
	require.NoError(t, s.InitCoreBlocks(ctx, defaults, now))

	require.NoError(t, s.UpdateCoreBlock(ctx, BlockGoals, "world domination", now))

	// A second init must not clobber existing content.
	require.NoError(t, s.InitCoreBlocks(ctx, defaults, now))

	blocks, err := s.CoreBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 4)

	goals, err := s.CoreBlock(ctx, BlockGoals)
	require.NoError(t, err)
	assert.Equal(t, "world domination", goals.Content)
}

func TestEpisodeIDsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var last int64
	for i := 0; i < 5; i++ {
		id, err := s.AppendEpisode(ctx, Episode{Type: EpisodeSkip, Content: "nothing to do"})
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}

	// Archiving keeps ids monotonic: the summary id exceeds all sources.
	eps, err := s.RecentEpisodes(ctx, 10)
	require.NoError(t, err)
	ids := []int64{eps[0].ID, eps[1].ID}
	summaryID, err := s.ArchiveEpisodes(ctx, ids, Episode{Type: EpisodeCompressed, Content: "summary", Importance: 6.0})
	require.NoError(t, err)
	assert.Greater(t, summaryID, last)

	live, err := s.RecentEpisodes(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, live, 4, "two archived, one summary added")
	for _, ep := range live {
		assert.NotContains(t, ids, ep.ID)
	}
}

func TestEpisodesAfter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.AppendEpisode(ctx, Episode{Type: EpisodePost, Content: "one"})
	require.NoError(t, err)
	_, err = s.AppendEpisode(ctx, Episode{Type: EpisodeComment, Content: "two"})
	require.NoError(t, err)

	eps, err := s.EpisodesAfter(ctx, first, 100)
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "two", eps[0].Content)
}

func TestCommitApproved_CommentCounters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	_, err := s.CommitApproved(ctx, "comment", Episode{Type: EpisodeComment, Content: "hi"}, now)
	require.NoError(t, err)
	_, err = s.CommitApproved(ctx, "comment", Episode{Type: EpisodeComment, Content: "again"}, now.Add(time.Minute))
	require.NoError(t, err)

	c, err := s.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, c.CommentsToday)
	assert.Equal(t, "2026-08-29", c.CommentsDay)
	assert.Equal(t, now.Add(time.Minute), c.LastCommentAt.UTC())

	// Day boundary resets the daily count, not the cooldown stamp.
	nextDay := time.Date(2026, 8, 30, 0, 0, 5, 0, time.UTC)
	_, err = s.CommitApproved(ctx, "comment", Episode{Type: EpisodeComment, Content: "new day"}, nextDay)
	require.NoError(t, err)

	c, err = s.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.CommentsToday)
	assert.Equal(t, "2026-08-30", c.CommentsDay)
}

func TestCommitApproved_Post(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	id, err := s.CommitApproved(ctx, "post", Episode{Type: EpisodePost, Content: "hello world"}, now)
	require.NoError(t, err)
	assert.Positive(t, id)

	c, err := s.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, now, c.LastPostAt.UTC())
	assert.Zero(t, c.CommentsToday)
}

func TestStrategyVersionsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CurrentStrategy(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	v1, err := s.AppendStrategyVersion(ctx, "be curious", TriggerManual, "")
	require.NoError(t, err)
	v2, err := s.AppendStrategyVersion(ctx, "be bold", TriggerStabilityThreshold, "{}")
	require.NoError(t, err)
	assert.Equal(t, v1+1, v2)

	cur, err := s.CurrentStrategy(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2, cur.Version)
	assert.Equal(t, "be bold", cur.Strategy)
	assert.Equal(t, TriggerStabilityThreshold, cur.Trigger)
	assert.Equal(t, v1, cur.ParentVersion)

	all, err := s.StrategyVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2, "old versions are retained")
}

func TestInsightConfidenceClamped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.AppendInsight(ctx, Insight{Insight: "posts about tide pools do well", Category: "engagement"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AdjustInsightConfidence(ctx, id, -0.2))
	}

	insights, err := s.Insights(ctx, 10)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.GreaterOrEqual(t, insights[0].Confidence, 0.0)
}

func TestClaimNextTask_OwnerTierFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	older := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.EnqueueTask(ctx, Task{ID: "a1", Tier: TierAutonomous, Kind: "ask", CreatedAt: older}))
	require.NoError(t, s.EnqueueTask(ctx, Task{ID: "o1", Tier: TierOwner, Kind: "ask", CreatedAt: older.Add(time.Minute)}))
	require.NoError(t, s.EnqueueTask(ctx, Task{ID: "o2", Tier: TierOwner, Kind: "ask", CreatedAt: older.Add(2 * time.Minute)}))

	t1, err := s.ClaimNextTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, "o1", t1.ID, "owner tier beats older autonomous task")
	assert.Equal(t, TaskRunning, t1.Status)

	t2, err := s.ClaimNextTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, "o2", t2.ID)

	t3, err := s.ClaimNextTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", t3.ID)

	_, err = s.ClaimNextTask(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CompleteTask(ctx, t1.ID, "42"))
	require.NoError(t, s.FailTask(ctx, t3.ID, "brain unavailable"))

	done, err := s.Task(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskDone, done.Status)

	failed, err := s.Task(ctx, t3.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, failed.Status)
	assert.Equal(t, "brain unavailable", failed.Error)
}

func TestDMStateTransitions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.UpsertDMConversation(ctx, "c1", "barnacle_bob", now))

	changed, err := s.SetDMState(ctx, "c1", DMStateEscalated, now)
	require.NoError(t, err)
	assert.True(t, changed)

	// Idempotent: escalating an escalated conversation is not a transition.
	changed, err = s.SetDMState(ctx, "c1", DMStateEscalated, now)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.SetDMState(ctx, "c1", DMStateAuto, now)
	require.NoError(t, err)
	assert.True(t, changed)

	c, err := s.DMConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, DMStateAuto, c.State)
}

func TestSeenCommentRepliedIsSticky(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.MarkCommentSeen(ctx, "cm1", "p1", true, now))
	require.NoError(t, s.MarkCommentSeen(ctx, "cm1", "p1", false, now))

	replied, err := s.CommentReplied(ctx, "cm1")
	require.NoError(t, err)
	assert.True(t, replied)
}

func TestDrainDigestItems(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.EnqueueDigestItem(ctx, "watched agent posted", now))
	require.NoError(t, s.EnqueueDigestItem(ctx, "new follower", now))

	items, err := s.DrainDigestItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = s.DrainDigestItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFilterUnseenPosts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.MarkPostsSeen(ctx, []string{"p1", "p3"}, now))

	unseen, err := s.FilterUnseenPosts(ctx, []string{"p1", "p2", "p3", "p4"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p4"}, unseen)
}

func TestInjectedClockStampsRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	_, err := s.AppendEpisode(ctx, Episode{Type: EpisodePost, Content: "stamped"})
	require.NoError(t, err)

	eps, err := s.RecentEpisodes(ctx, 1)
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.True(t, eps[0].CreatedAt.Equal(fixed), "episode stamped %s, want %s", eps[0].CreatedAt, fixed)

	_, err = s.AppendInsight(ctx, Insight{Insight: "stamped too", Category: "misc"})
	require.NoError(t, err)

	insights, err := s.Insights(ctx, 1)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.True(t, insights[0].CreatedAt.Equal(fixed))
}
