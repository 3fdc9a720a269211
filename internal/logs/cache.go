package logs

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/swattool/swattool-go/internal/swatbot"
)

// Source provides log content and cheap log metadata for a failure step.
// Implemented by the buildbot client; fakes implement it in tests.
type Source interface {
	// RawLog returns the full text of the named log.
	RawLog(failure *swatbot.Failure, logname string) (string, error)

	// LogLineCount returns the log's line count without downloading the
	// content, when the backend can report it cheaply.
	LogLineCount(failure *swatbot.Failure, logname string) (int, error)
}

// cacheEntry is the persisted form of one highlight computation.
type cacheEntry struct {
	Version    int               `yaml:"version"`
	LineCount  int               `yaml:"line-count"`
	RulesHash  string            `yaml:"rules-hash"`
	Highlights map[int]Highlight `yaml:"highlights"`
}

// Cache computes and stores log highlights per (failure, logname). Entries
// live in an in-process map backed by gzip-compressed YAML files; a persisted
// entry is reused only while its format version, line count and rule-set hash
// all still match.
//
// Safe for concurrent use on different keys. Two workers racing on the same
// key both compute the same deterministic result, last writer wins.
type Cache struct {
	dir    string
	source Source
	log    zerolog.Logger

	mu  sync.RWMutex
	mem map[string]map[int]Highlight
}

// NewCache creates the highlight cache rooted at <cacheDir>/log_highlights.
func NewCache(cacheDir string, source Source, log zerolog.Logger) (*Cache, error) {
	dir := filepath.Join(cacheDir, "log_highlights")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating highlight cache dir: %w", err)
	}
	return &Cache{
		dir:    dir,
		source: source,
		log:    log.With().Str("component", "highlight_cache").Logger(),
		mem:    make(map[string]map[int]Highlight),
	}, nil
}

func cacheKey(failure *swatbot.Failure, logname string) string {
	return fmt.Sprintf("%d_%s", failure.ID, logname)
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key+".yaml.gz")
}

// Highlights returns the highlight mapping for one log, computing and
// persisting it on a cache miss. A log that cannot be fetched yields an empty
// mapping which is memory-cached so the fetch is not retried every call.
func (c *Cache) Highlights(failure *swatbot.Failure, logname string) map[int]Highlight {
	key := cacheKey(failure, logname)

	if highlights, ok := c.memGet(key); ok {
		return highlights
	}

	var lines []string
	lineCount, err := c.source.LogLineCount(failure, logname)
	if err != nil {
		// No cheap metadata: fetch the content up front and count.
		lines, err = c.fetchLines(failure, logname)
		if err != nil {
			return c.cacheEmpty(key, failure, logname, err)
		}
		lineCount = len(lines)
	}

	rules := SelectRules(failure.Status, failure.Build.Test, lineCount > BigLogLineLimit)
	rulesHash := RulesHash(rules)

	if highlights, ok := c.loadEntry(key, lineCount, rulesHash); ok {
		c.memSet(key, highlights)
		return highlights
	}

	if lines == nil {
		lines, err = c.fetchLines(failure, logname)
		if err != nil {
			return c.cacheEmpty(key, failure, logname, err)
		}
		if len(lines) != lineCount {
			// Metadata disagreed with the content; the content wins.
			lineCount = len(lines)
			rules = SelectRules(failure.Status, failure.Build.Test, lineCount > BigLogLineLimit)
			rulesHash = RulesHash(rules)
		}
	}

	highlights := BuildHighlights(lines, rules)
	if err := c.saveEntry(key, cacheEntry{
		Version:    HighlightsFormatVersion,
		LineCount:  lineCount,
		RulesHash:  rulesHash,
		Highlights: highlights,
	}); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to persist highlight cache entry")
	}
	c.memSet(key, highlights)
	return highlights
}

// Invalidate drops both cache layers for one log so the next access
// recomputes.
func (c *Cache) Invalidate(failure *swatbot.Failure, logname string) {
	key := cacheKey(failure, logname)

	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()

	if err := os.Remove(c.entryPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to remove highlight cache entry")
	}
}

// HighlightsText returns the menu-visible highlight texts, ordered by line
// number.
func (c *Cache) HighlightsText(failure *swatbot.Failure, logname string) []string {
	return selectTexts(c.Highlights(failure, logname), func(h Highlight) bool {
		return h.InMenu
	}, false)
}

// BugzillaHighlights returns the bug-tracker-visible highlight texts, ordered
// by line number and de-duplicated with the first occurrence kept.
func (c *Cache) BugzillaHighlights(failure *swatbot.Failure, logname string) []string {
	return selectTexts(c.Highlights(failure, logname), func(h Highlight) bool {
		return h.InBugzilla
	}, true)
}

func selectTexts(highlights map[int]Highlight, keep func(Highlight) bool, dedup bool) []string {
	linenos := make([]int, 0, len(highlights))
	for lineno, h := range highlights {
		if keep(h) {
			linenos = append(linenos, lineno)
		}
	}
	sort.Ints(linenos)

	texts := make([]string, 0, len(linenos))
	seen := make(map[string]struct{})
	for _, lineno := range linenos {
		text := highlights[lineno].Text
		if dedup {
			if _, dup := seen[text]; dup {
				continue
			}
			seen[text] = struct{}{}
		}
		texts = append(texts, text)
	}
	return texts
}

func (c *Cache) memGet(key string) (map[int]Highlight, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	highlights, ok := c.mem[key]
	return highlights, ok
}

func (c *Cache) memSet(key string, highlights map[int]Highlight) {
	c.mu.Lock()
	c.mem[key] = highlights
	c.mu.Unlock()
}

func (c *Cache) cacheEmpty(key string, failure *swatbot.Failure, logname string, err error) map[int]Highlight {
	c.log.Warn().Err(err).
		Int("failure", failure.ID).
		Str("logname", logname).
		Msg("Log unavailable, caching empty highlights")
	empty := map[int]Highlight{}
	c.memSet(key, empty)
	return empty
}

func (c *Cache) fetchLines(failure *swatbot.Failure, logname string) ([]string, error) {
	text, err := c.source.RawLog(failure, logname)
	if err != nil {
		return nil, fmt.Errorf("fetching log %s of failure %d: %w", logname, failure.ID, err)
	}
	return splitLogLines(text), nil
}

// splitLogLines splits on newlines without producing a trailing empty line
// for newline-terminated logs.
func splitLogLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

// loadEntry reads a persisted entry and validates it against the current log
// metadata and rule set. Any read, decode or validation failure is a cache
// miss.
func (c *Cache) loadEntry(key string, lineCount int, rulesHash string) (map[int]Highlight, bool) {
	f, err := os.Open(c.entryPath(key))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Corrupt highlight cache entry, recomputing")
		return nil, false
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Corrupt highlight cache entry, recomputing")
		return nil, false
	}

	var entry cacheEntry
	if err := yaml.Unmarshal(raw, &entry); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Unreadable highlight cache entry, recomputing")
		return nil, false
	}

	if entry.Version != HighlightsFormatVersion ||
		entry.LineCount != lineCount ||
		entry.RulesHash != rulesHash {
		return nil, false
	}
	if entry.Highlights == nil {
		entry.Highlights = map[int]Highlight{}
	}
	return entry.Highlights, true
}

// saveEntry persists an entry via a temporary file and an atomic rename, so
// readers never observe a partially written entry.
func (c *Cache) saveEntry(key string, entry cacheEntry) error {
	raw, err := yaml.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding highlight cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating highlight cache temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	if _, err := zw.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing highlight cache entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing highlight cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing highlight cache entry: %w", err)
	}

	if err := os.Rename(tmp.Name(), c.entryPath(key)); err != nil {
		return fmt.Errorf("replacing highlight cache entry: %w", err)
	}
	return nil
}
