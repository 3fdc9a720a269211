// Package fingerprint reduces log highlights to comparable fingerprints and
// scores their similarity, for duplicate detection among pending failures and
// for triage history lookup.
package fingerprint

import (
	"fmt"
	"sync"

	"github.com/swattool/swattool-go/internal/logs"
	"github.com/swattool/swattool-go/internal/swatbot"
)

// MaxLines caps a fingerprint's length. Logs with more significant lines than
// this are compared on their first MaxLines only.
const MaxLines = 100

// Fingerprint is the comparison unit for one log: its menu-visible highlight
// texts in line order. Read-only once built.
type Fingerprint struct {
	Failure int
	Logname string
	Lines   []string
}

// Key identifies the (failure, logname) pair a fingerprint was built from,
// used to cache pairwise similarity scores.
func (f *Fingerprint) Key() string {
	return fmt.Sprintf("%d_%s", f.Failure, f.Logname)
}

// Empty reports whether the log had no significant highlights.
func (f *Fingerprint) Empty() bool {
	return len(f.Lines) == 0
}

// Extractor builds fingerprints from the highlight cache, memoized per
// (failure, logname) for the process lifetime. Safe for concurrent use.
type Extractor struct {
	cache *logs.Cache

	mu   sync.Mutex
	memo map[string]*Fingerprint
}

func NewExtractor(cache *logs.Cache) *Extractor {
	return &Extractor{
		cache: cache,
		memo:  make(map[string]*Fingerprint),
	}
}

// Fingerprint returns the fingerprint for one log. An empty fingerprint is a
// valid result, not an error.
func (e *Extractor) Fingerprint(failure *swatbot.Failure, logname string) *Fingerprint {
	key := fmt.Sprintf("%d_%s", failure.ID, logname)

	e.mu.Lock()
	if fp, ok := e.memo[key]; ok {
		e.mu.Unlock()
		return fp
	}
	e.mu.Unlock()

	lines := e.cache.HighlightsText(failure, logname)
	if len(lines) > MaxLines {
		lines = lines[:MaxLines]
	}
	fp := &Fingerprint{
		Failure: failure.ID,
		Logname: logname,
		Lines:   lines,
	}

	e.mu.Lock()
	e.memo[key] = fp
	e.mu.Unlock()
	return fp
}
