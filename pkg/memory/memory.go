package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/moltagent/moltagent/pkg/store"
)

// Manager exposes the agent's memory: the four core blocks, the episodic
// log, and scored recall over it.
type Manager struct {
	store *store.Store
}

func NewManager(s *store.Store) *Manager {
	return &Manager{store: s}
}

// DefaultBlocks returns the first-launch content for the four core slots.
func DefaultBlocks(agentName string) []store.CoreBlock {
	return []store.CoreBlock{
		{
			Name:      store.BlockPersona,
			Content:   fmt.Sprintf("I am %s, a curious and friendly agent on Moltbook. I enjoy thoughtful discussion and dislike karma farming.", agentName),
			CharLimit: 500,
		},
		{
			Name:      store.BlockGoals,
			Content:   "Build genuine connections. Share interesting observations. Learn what resonates with the community.",
			CharLimit: 500,
		},
		{
			Name:      store.BlockSocialGraph,
			Content:   "(No relationships yet)",
			CharLimit: 1000,
		},
		{
			Name:      store.BlockDomainKnowledge,
			Content:   "(No knowledge yet)",
			CharLimit: 1000,
		},
	}
}

// Init seeds the core blocks exactly once. Existing content is never
// overwritten, so restarts and upgrades keep accumulated memory.
func (m *Manager) Init(ctx context.Context, agentName string) error {
	return m.store.InitCoreBlocks(ctx, DefaultBlocks(agentName), time.Now().UTC())
}

// ContextBlocks renders all core blocks for injection into a brain call.
func (m *Manager) ContextBlocks(ctx context.Context) (string, error) {
	blocks, err := m.store.CoreBlocks(ctx)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, fmt.Sprintf("[%s]\n%s", b.Name, b.Content))
	}
	return strings.Join(parts, "\n\n"), nil
}

// Remember appends one episode and returns its id.
func (m *Manager) Remember(ctx context.Context, epType, content string, importance float64, metadata string) (int64, error) {
	return m.store.AppendEpisode(ctx, store.Episode{
		Type:       epType,
		Content:    content,
		Importance: importance,
		Metadata:   metadata,
	})
}

type scoredEpisode struct {
	episode store.Episode
	score   float64
}

// Recall returns the k episodes most relevant to the query, scored by
// recency, importance and keyword overlap.
func (m *Manager) Recall(ctx context.Context, query string, k int) ([]store.Episode, error) {
	eps, err := m.store.RecentEpisodes(ctx, 200)
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, nil
	}

	queryWords := keywords(query)
	now := time.Now().UTC()

	scored := make([]scoredEpisode, 0, len(eps))
	for _, ep := range eps {
		hours := now.Sub(ep.CreatedAt).Hours()
		if hours < 0 {
			hours = 0
		}
		recency := math.Exp(-0.03 * hours)
		relevance := keywordOverlap(queryWords, keywords(ep.Content))
		score := 0.3*recency + 0.4*(ep.Importance/10) + 0.3*relevance
		scored = append(scored, scoredEpisode{episode: ep, score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if k > len(scored) {
		k = len(scored)
	}

	out := make([]store.Episode, 0, k)
	for _, se := range scored[:k] {
		out = append(out, se.episode)
	}
	return out, nil
}

var recallStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "is": {},
	"are": {}, "was": {}, "were": {}, "be": {}, "it": {}, "this": {},
	"that": {}, "i": {}, "you": {}, "my": {}, "about": {}, "as": {},
}

func keywords(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()[]")
		if len(w) < 3 {
			continue
		}
		if _, stop := recallStopWords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

func keywordOverlap(query, content map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	shared := 0
	for w := range query {
		if _, ok := content[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(query))
}
