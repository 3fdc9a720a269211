package fingerprint

import (
	"regexp"
	"sync"

	"github.com/xrash/smetrics"
)

// Threshold is both the per-line contribution floor and the aggregate
// duplicate cutoff.
const Threshold = 0.7

// alignmentWindow bounds how far apart two lines may sit, in forward or
// reverse alignment, and still be compared.
const alignmentWindow = 2

// specificErrorWeight boosts lines carrying an identifiable error marker
// (e.g. an exception class name) over generic error output.
const specificErrorWeight = 5

var specificErrorRe = regexp.MustCompile(`(?i)^\S+error:`)

// Engine scores fingerprint similarity. Scores are symmetric, in [0,1], and
// memoized per unordered pair of fingerprint keys. Safe for concurrent use.
type Engine struct {
	mu   sync.Mutex
	memo map[string]float64
}

func NewEngine() *Engine {
	return &Engine{memo: make(map[string]float64)}
}

// Score computes the similarity of two fingerprints.
//
// Lines are compared with Jaro similarity, restricted to position-aligned
// pairs: with lendiff = len(a)-len(b) and startDist = i-j, a pair is skipped
// unless min(|startDist|, |lendiff-startDist|) <= 2. Each side contributes a
// half-score of weighted best matches, with weight 5 for specific-error lines
// and best matches below 0.7 contributing nothing; the result is the mean of
// the two half-scores, which makes the score independent of argument order.
func (e *Engine) Score(a, b *Fingerprint) float64 {
	if a.Empty() && b.Empty() {
		return 1.0
	}
	if a.Empty() || b.Empty() {
		return 0.0
	}

	key := pairKey(a, b)
	e.mu.Lock()
	if score, ok := e.memo[key]; ok {
		e.mu.Unlock()
		return score
	}
	e.mu.Unlock()

	score := (halfScore(a.Lines, b.Lines) + halfScore(b.Lines, a.Lines)) / 2

	e.mu.Lock()
	e.memo[key] = score
	e.mu.Unlock()
	return score
}

// IsSimilar reports whether two fingerprints likely describe the same
// underlying failure.
func (e *Engine) IsSimilar(a, b *Fingerprint) bool {
	return e.Score(a, b) > Threshold
}

func pairKey(a, b *Fingerprint) string {
	ka, kb := a.Key(), b.Key()
	if ka > kb {
		ka, kb = kb, ka
	}
	return ka + "|" + kb
}

func halfScore(from, to []string) float64 {
	lendiff := len(from) - len(to)

	var numerator, weights float64
	for i, line := range from {
		var best float64
		for j, other := range to {
			startDist := i - j
			endDist := lendiff - startDist
			if min(abs(startDist), abs(endDist)) > alignmentWindow {
				continue
			}
			if s := smetrics.Jaro(line, other); s > best {
				best = s
			}
		}

		weight := 1.0
		if specificErrorRe.MatchString(line) {
			weight = specificErrorWeight
		}
		if best >= Threshold {
			numerator += weight * best
		}
		weights += weight
	}

	if weights == 0 {
		return 0
	}
	return numerator / weights
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
