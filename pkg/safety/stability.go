package safety

import (
	"strings"

	"github.com/moltagent/moltagent/pkg/store"
)

const stabilityWindow = 30

// StabilityIndex is a deterministic drift signal over recent behavior. All
// components are in [0, 1]; higher is steadier.
type StabilityIndex struct {
	ActionConsistency float64
	TopicConsistency  float64
	QualityTrend      float64
	SkipRate          float64
	Overall           float64
}

// ComputeStability derives the index from the newest episodes (chronological
// order expected, as returned by RecentEpisodes). With fewer than 5 episodes
// there is not enough signal; a neutral full-stability index is returned.
func ComputeStability(episodes []store.Episode) StabilityIndex {
	if len(episodes) > stabilityWindow {
		episodes = episodes[len(episodes)-stabilityWindow:]
	}
	if len(episodes) < 5 {
		return StabilityIndex{ActionConsistency: 1, TopicConsistency: 1, QualityTrend: 1, Overall: 1}
	}

	idx := StabilityIndex{
		ActionConsistency: actionConsistency(episodes),
		TopicConsistency:  topicConsistency(episodes),
		QualityTrend:      qualityTrend(episodes),
		SkipRate:          headSkipRate(episodes),
	}
	idx.Overall = 0.25*idx.ActionConsistency +
		0.25*idx.TopicConsistency +
		0.30*idx.QualityTrend +
		0.20*(1-idx.SkipRate)
	return idx
}

func actionConsistency(eps []store.Episode) float64 {
	skips := 0
	for _, ep := range eps {
		if ep.Type == store.EpisodeSkip || ep.Type == store.EpisodeHeartbeatSkip {
			skips++
		}
	}
	return 1 - float64(skips)/float64(len(eps))
}

// qualityTrend is the mean importance of the newest 10 episodes on a 0-10
// scale, normalized.
func qualityTrend(eps []store.Episode) float64 {
	tail := eps
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	var sum float64
	for _, ep := range tail {
		sum += ep.Importance
	}
	avg := sum / float64(len(tail)) / 10
	if avg > 1 {
		avg = 1
	}
	return avg
}

// headSkipRate counts the run of consecutive skips at the newest end,
// relative to the window size. A long unbroken run of skips signals the
// agent has stalled.
func headSkipRate(eps []store.Episode) float64 {
	run := 0
	for i := len(eps) - 1; i >= 0; i-- {
		t := eps[i].Type
		if t != store.EpisodeSkip && t != store.EpisodeHeartbeatSkip {
			break
		}
		run++
	}
	return float64(run) / float64(len(eps))
}

// topicConsistency is the mean keyword overlap between consecutive episode
// contents.
func topicConsistency(eps []store.Episode) float64 {
	if len(eps) < 2 {
		return 1
	}
	var total float64
	pairs := 0
	for i := 1; i < len(eps); i++ {
		a := keywordSet(eps[i-1].Content)
		b := keywordSet(eps[i].Content)
		if len(a) == 0 || len(b) == 0 {
			continue
		}
		total += overlap(a, b)
		pairs++
	}
	if pairs == 0 {
		return 1
	}
	return total / float64(pairs)
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "is": {},
	"are": {}, "was": {}, "were": {}, "be": {}, "it": {}, "this": {},
	"that": {}, "i": {}, "you": {}, "my": {}, "about": {}, "as": {},
}

func keywordSet(content string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(content)) {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if len(word) < 3 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		set[word] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) float64 {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for w := range small {
		if _, ok := large[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}
