// Package triagehistory persists past triage decisions keyed by build id and
// looks up historically similar failures for a new build.
package triagehistory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xrash/smetrics"
	"gopkg.in/yaml.v3"

	"github.com/swattool/swattool-go/internal/fingerprint"
	"github.com/swattool/swattool-go/internal/swatbot"
)

// DefaultTopN is how many similar history entries a lookup returns.
const DefaultTopN = 10

// Entry is one recorded triage decision.
type Entry struct {
	BuildID     int
	Fingerprint []string
	Triage      swatbot.TriageStatus
	Notes       string
}

// entryFile is the on-disk form of an Entry, keyed by build id in the
// top-level mapping.
type entryFile struct {
	Fingerprint []string `yaml:"log-fingerprint"`
	Triage      string   `yaml:"triage"`
	Notes       string   `yaml:"triagenotes"`
}

// Scored pairs a history entry with its similarity to the lookup target.
type Scored struct {
	Entry Entry
	Score float64
}

// History is the triage history store: a YAML file mapping build id to
// fingerprint, triage status and notes, loaded and saved wholesale.
//
// Lookup results are cached per build for the process lifetime.
type History struct {
	path      string
	extractor *fingerprint.Extractor
	log       zerolog.Logger

	mu      sync.Mutex
	entries map[int]Entry
	lookups map[int][]Scored
}

func New(path string, extractor *fingerprint.Extractor, log zerolog.Logger) *History {
	return &History{
		path:      path,
		extractor: extractor,
		log:       log.With().Str("component", "triage_history").Logger(),
		entries:   make(map[int]Entry),
		lookups:   make(map[int][]Scored),
	}
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Load reads the history file. A missing file leaves the history empty.
func (h *History) Load() error {
	raw, err := os.ReadFile(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading triage history: %w", err)
	}

	var persisted map[int]entryFile
	if err := yaml.Unmarshal(raw, &persisted); err != nil {
		return fmt.Errorf("parsing triage history: %w", err)
	}

	entries := make(map[int]Entry, len(persisted))
	for buildID, pe := range persisted {
		triage, err := swatbot.TriageFromName(pe.Triage)
		if err != nil {
			h.log.Warn().Err(err).Int("build", buildID).
				Msg("Skipping history entry with unknown triage status")
			continue
		}
		entries[buildID] = Entry{
			BuildID:     buildID,
			Fingerprint: pe.Fingerprint,
			Triage:      triage,
			Notes:       pe.Notes,
		}
	}

	h.mu.Lock()
	h.entries = entries
	h.mu.Unlock()
	return nil
}

// Save writes the full history via a temporary file and an atomic rename.
func (h *History) Save() error {
	h.mu.Lock()
	persisted := make(map[int]entryFile, len(h.entries))
	for buildID, entry := range h.entries {
		persisted[buildID] = entryFile{
			Fingerprint: entry.Fingerprint,
			Triage:      entry.Triage.Name(),
			Notes:       entry.Notes,
		}
	}
	h.mu.Unlock()

	raw, err := yaml.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("encoding triage history: %w", err)
	}

	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating triage history dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".triage-history-*")
	if err != nil {
		return fmt.Errorf("writing triage history: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing triage history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing triage history: %w", err)
	}
	if err := os.Rename(tmp.Name(), h.path); err != nil {
		return fmt.Errorf("replacing triage history: %w", err)
	}
	return nil
}

// Add records the triage decision of a build's first failure, fingerprinting
// its stdio log.
func (h *History) Add(build *swatbot.Build) {
	failure := build.FirstFailure()
	fp := h.extractor.Fingerprint(failure, "stdio")

	h.mu.Lock()
	h.entries[build.ID] = Entry{
		BuildID:     build.ID,
		Fingerprint: fp.Lines,
		Triage:      failure.Triage,
		Notes:       failure.TriageNotes,
	}
	h.mu.Unlock()
}

// SimilarEntries returns the stored entries most similar to the build's first
// failure, best first, at most topN.
//
// A non-zero budget is a soft deadline checked between entries: on expiry the
// scan stops, a warning names how much history was considered and the prefix
// scored so far is returned. Results are cached per build, repeated calls do
// not rescan.
func (h *History) SimilarEntries(build *swatbot.Build, topN int, budget time.Duration) []Scored {
	h.mu.Lock()
	if scored, ok := h.lookups[build.ID]; ok {
		h.mu.Unlock()
		return scored
	}
	entries := make([]Entry, 0, len(h.entries))
	for _, entry := range h.entries {
		entries = append(entries, entry)
	}
	h.mu.Unlock()

	if topN <= 0 {
		topN = DefaultTopN
	}
	target := h.extractor.Fingerprint(build.FirstFailure(), "stdio")

	var deadline time.Time
	if budget > 0 {
		deadline = time.Now().Add(budget)
	}

	scored := make([]Scored, 0, len(entries))
	for i, entry := range entries {
		scored = append(scored, Scored{
			Entry: entry,
			Score: entryScore(target.Lines, entry.Fingerprint),
		})
		if !deadline.IsZero() && time.Now().After(deadline) {
			h.log.Warn().
				Int("build", build.ID).
				Int("scanned", i+1).
				Int("total", len(entries)).
				Msg("Triage history lookup deadline hit, returning partial results")
			break
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topN {
		scored = scored[:topN]
	}

	h.mu.Lock()
	h.lookups[build.ID] = scored
	h.mu.Unlock()
	return scored
}

// entryScore rates a stored fingerprint against a live one. History entries
// are not re-highlighted, so this uses a plain mean-best Jaro over the raw
// line lists, without the live engine's alignment window, weighting or
// contribution floor. Averaging both directions keeps it symmetric.
func entryScore(target, stored []string) float64 {
	if len(target) == 0 || len(stored) == 0 {
		return 0
	}
	return (meanBest(target, stored) + meanBest(stored, target)) / 2
}

func meanBest(from, to []string) float64 {
	var sum float64
	for _, line := range from {
		var best float64
		for _, other := range to {
			if s := smetrics.Jaro(line, other); s > best {
				best = s
			}
		}
		sum += best
	}
	return sum / float64(len(from))
}
