// Package logs implements log highlighting for build failures: an ordered
// set of pattern rules, a line highlighter, and a cache of highlight results
// backed by compressed files plus an in-process map.
package logs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/swattool/swattool-go/internal/swatbot"
)

// HighlightsFormatVersion is bumped whenever rule matching semantics change,
// invalidating every persisted highlight cache entry.
const HighlightsFormatVersion = 3

// BigLogLineLimit is the line count above which the simplified rule set is
// used, to keep highlighting latency bounded on pathological logs.
const BigLogLineLimit = 1_000_000

// Color is a display category for a highlight. It is semantic only: the
// consumers decide how (or whether) to render it.
type Color string

// Highlight colors.
const (
	ColorNone   Color = ""
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
)

// Rule is one pattern rule of the highlighting rule set. Rules are value
// objects built once per log-processing run and never mutated.
//
// A rule whose pattern has no "keyword" capture group is a suppressor: a
// match consumes the line without producing a highlight.
type Rule struct {
	Pattern *regexp.Regexp
	Enabled bool
	Color   Color

	// Visibility of matches for the three downstream consumers. These are
	// independent axes, not mutually exclusive states.
	InLogView  bool
	InMenu     bool
	InBugzilla bool

	// Replacement, when non-empty, is a rewrite template (regexp expansion
	// syntax) applied to the matched portion of the line before storage.
	Replacement string

	// ContextBefore/ContextAfter pull surrounding lines in as context
	// highlights.
	ContextBefore int
	ContextAfter  int
}

// Match checks the rule against one log line.
//
// Returns (false, nil, nil) if the rule is disabled or does not match,
// (true, nil, nil) for a suppressor match, and (true, highlight, offsets)
// otherwise, where offsets lists the relative line offsets to include as
// context (negative before, positive after).
func (r Rule) Match(line string) (bool, *Highlight, []int) {
	if !r.Enabled {
		return false, nil, nil
	}
	match := r.Pattern.FindStringSubmatch(line)
	if match == nil {
		return false, nil, nil
	}

	keywordIdx := r.Pattern.SubexpIndex("keyword")
	if keywordIdx < 0 {
		return true, nil, nil
	}

	text := line
	if r.Replacement != "" {
		text = r.Pattern.ReplaceAllString(line, r.Replacement)
	}

	highlight := &Highlight{
		Keyword:    match[keywordIdx],
		Color:      r.Color,
		Text:       text,
		InLogView:  r.InLogView,
		InMenu:     r.InMenu,
		InBugzilla: r.InBugzilla,
	}

	var offsets []int
	for i := r.ContextBefore; i >= 1; i-- {
		offsets = append(offsets, -i)
	}
	for i := 1; i <= r.ContextAfter; i++ {
		offsets = append(offsets, i)
	}

	return true, highlight, offsets
}

// SelectRules returns the ordered rule set for a log, depending on the
// failure status, the test the build ran and whether the log exceeds the
// big-log threshold.
func SelectRules(status swatbot.Status, test string, largeLog bool) []Rule {
	if largeLog {
		// Minimal set: generic error/warning only, to protect latency.
		return []Rule{
			{
				Pattern: regexp.MustCompile(`(?i)^(?P<keyword>\S*error):`),
				Enabled: true, Color: ColorRed,
				InLogView: true, InMenu: status == swatbot.StatusError,
				InBugzilla: true,
			},
			{
				Pattern: regexp.MustCompile(`(?i)^(?P<keyword>\S*warning):`),
				Enabled: true, Color: ColorYellow,
				InLogView: true, InMenu: status == swatbot.StatusWarning,
			},
		}
	}

	return []Rule{
		// Toaster specific rules:
		//  - Do nothing on "except xxxError:" (likely python code output).
		//  - Match on "selenium .*exception:" and forward it to bugzilla.
		{
			Pattern: regexp.MustCompile(`(?i)^.*except\s*\S*error:`),
			Enabled: test == "toaster",
		},
		{
			Pattern: regexp.MustCompile(`(?i)(^|\s)(?P<keyword>selenium\.\S*exception):`),
			Enabled: test == "toaster", Color: ColorRed,
			InLogView: true, InMenu: status == swatbot.StatusError,
			InBugzilla: true,
		},

		// Generic suppressors: tool output that looks like an error marker
		// but is not one.
		{
			Pattern: regexp.MustCompile(`^.*libgpg-error:`),
			Enabled: true,
		},
		{
			Pattern: regexp.MustCompile(`^.*test_fixed_size_error:`),
			Enabled: true,
		},
		{
			Pattern: regexp.MustCompile(`^.*( |::)error::.*ok`),
			Enabled: true,
		},

		// Assertion failures: the lines that follow usually carry the
		// actual assertion message, pull them in as context.
		{
			Pattern: regexp.MustCompile(`(?i)(^|\s)(?P<keyword>\S*assertionerror):`),
			Enabled: true, Color: ColorRed,
			InLogView: true, InMenu: status == swatbot.StatusError,
			InBugzilla:   true,
			ContextAfter: 5,
		},

		// Generic fallback rules.
		{
			Pattern: regexp.MustCompile(`(?i)(^|\s)(?P<keyword>\S*error):`),
			Enabled: true, Color: ColorRed,
			InLogView: true, InMenu: status == swatbot.StatusError,
			InBugzilla: true,
		},
		{
			Pattern: regexp.MustCompile(`(?i)(^|\s)(?P<keyword>\S*warning):`),
			Enabled: true, Color: ColorYellow,
			InLogView: true, InMenu: status == swatbot.StatusWarning,
		},
		{
			Pattern: regexp.MustCompile(`(?i)^(?P<keyword>fatal):`),
			Enabled: true, Color: ColorRed,
			InLogView: true, InMenu: status == swatbot.StatusError,
			InBugzilla: true,
		},
		{
			Pattern: regexp.MustCompile(`(^|\s)(?P<keyword>make\[\d\]):.* Error`),
			Enabled: true, Color: ColorRed,
			InLogView: true, InMenu: status == swatbot.StatusError,
			InBugzilla: true,
		},
		{
			Pattern: regexp.MustCompile(`^(?P<keyword>command timed out:)`),
			Enabled: true, Color: ColorRed,
			InLogView: true, InMenu: true, InBugzilla: true,
		},
		{
			Pattern: regexp.MustCompile(`^.* - INFO -  \.\.\. (?P<keyword>FAIL)`),
			Enabled: true, Color: ColorRed,
			InLogView: true, InMenu: true, InBugzilla: true,
			// Strip the test-framework logger prefix so fingerprints
			// compare on the test name alone.
			Replacement: "${keyword}",
		},
		{
			Pattern: regexp.MustCompile(`(?P<keyword>Failed ptests):`),
			Enabled: true, Color: ColorRed,
			InLogView: true, InMenu: true, InBugzilla: true,
			ContextAfter: 1,
		},
	}
}

// RulesHash returns a stable hash of the serialized rule table, used for
// cache invalidation when the rule set changes. Not a security hash.
func RulesHash(rules []Rule) string {
	var b strings.Builder
	for _, r := range rules {
		fmt.Fprintf(&b, "%s|%t|%s|%t%t%t|%s|%d|%d\n",
			r.Pattern.String(), r.Enabled, r.Color,
			r.InLogView, r.InMenu, r.InBugzilla,
			r.Replacement, r.ContextBefore, r.ContextAfter)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
