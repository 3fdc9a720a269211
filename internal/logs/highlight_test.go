package logs

import (
	"reflect"
	"regexp"
	"testing"

	"github.com/swattool/swattool-go/internal/swatbot"
)

func TestBuildHighlights(t *testing.T) {
	rules := SelectRules(swatbot.StatusError, "", false)

	lines := []string{
		"NOTE: Executing Tasks",
		"ERROR: oe-core do_fetch failed",
		"NOTE: Tasks Summary",
		"WARNING: exit code 1 from a shell command",
	}

	highlights := BuildHighlights(lines, rules)

	if len(highlights) != 2 {
		t.Fatalf("got %d highlights, want 2", len(highlights))
	}

	errHl, ok := highlights[2]
	if !ok {
		t.Fatal("expected a highlight on line 2")
	}
	if errHl.Keyword != "ERROR" || errHl.Color != ColorRed || !errHl.InMenu {
		t.Errorf("unexpected error highlight: %+v", errHl)
	}

	warnHl, ok := highlights[4]
	if !ok {
		t.Fatal("expected a highlight on line 4")
	}
	if warnHl.Keyword != "WARNING" || warnHl.Color != ColorYellow || warnHl.InMenu {
		t.Errorf("unexpected warning highlight: %+v", warnHl)
	}
}

func TestBuildHighlightsContext(t *testing.T) {
	rules := []Rule{
		{
			Pattern: regexp.MustCompile(`(?P<keyword>Failed ptests):`),
			Enabled: true, Color: ColorRed,
			InLogView: true, InMenu: true, InBugzilla: true,
			ContextAfter: 1,
		},
	}

	lines := make([]string, 10)
	for i := range lines {
		lines[i] = "noise"
	}
	lines[4] = "Failed ptests:"
	lines[5] = "  glibc-tests"

	highlights := BuildHighlights(lines, rules)

	if len(highlights) != 2 {
		t.Fatalf("got %d highlights, want 2", len(highlights))
	}

	ctx, ok := highlights[6]
	if !ok {
		t.Fatal("expected a context highlight on line 6")
	}
	if !ctx.IsContext {
		t.Error("context line should carry IsContext")
	}
	if ctx.Keyword != "" {
		t.Errorf("context line keyword = %q, want empty", ctx.Keyword)
	}
	if ctx.Color != ColorNone {
		t.Errorf("context line color = %q, want none", ctx.Color)
	}
	if ctx.Text != "  glibc-tests" {
		t.Errorf("context line text = %q", ctx.Text)
	}
	// Visibility flags are inherited from the triggering highlight.
	if !ctx.InLogView || !ctx.InMenu || !ctx.InBugzilla {
		t.Errorf("context line should inherit visibility flags: %+v", ctx)
	}
}

func TestBuildHighlightsContextClipped(t *testing.T) {
	rules := []Rule{
		{
			Pattern: regexp.MustCompile(`(?P<keyword>ERROR):`),
			Enabled: true, Color: ColorRed,
			InLogView: true, InMenu: true,
			ContextBefore: 2, ContextAfter: 2,
		},
	}

	lines := []string{"ERROR: at the very first line", "after"}
	highlights := BuildHighlights(lines, rules)

	if len(highlights) != 2 {
		t.Fatalf("got %d highlights, want 2 (out-of-range context clipped)", len(highlights))
	}
	if _, ok := highlights[0]; ok {
		t.Error("line numbers are 1-based, 0 must never appear")
	}
}

func TestBuildHighlightsFirstWriterWins(t *testing.T) {
	rules := []Rule{
		{
			Pattern: regexp.MustCompile(`(?P<keyword>ERROR):`),
			Enabled: true, Color: ColorRed,
			InLogView: true, InMenu: true,
			ContextAfter: 1,
		},
	}

	lines := []string{
		"ERROR: first failure",
		"ERROR: second failure",
	}
	highlights := BuildHighlights(lines, rules)

	// Line 2 is claimed as context of line 1 before its own match runs.
	second := highlights[2]
	if !second.IsContext {
		t.Errorf("line 2 should stay a context highlight: %+v", second)
	}
}

func TestBuildHighlightsFirstRuleWins(t *testing.T) {
	rules := []Rule{
		{
			Pattern: regexp.MustCompile(`(?P<keyword>ERROR):`),
			Enabled: true, Color: ColorRed, InLogView: true,
		},
		{
			Pattern: regexp.MustCompile(`(?P<keyword>exit):`),
			Enabled: true, Color: ColorYellow, InLogView: true,
		},
	}

	highlights := BuildHighlights([]string{"ERROR: exit: both match"}, rules)
	if highlights[1].Keyword != "ERROR" {
		t.Errorf("first rule should win, got keyword %q", highlights[1].Keyword)
	}
}

func TestBuildHighlightsDeterministic(t *testing.T) {
	rules := SelectRules(swatbot.StatusError, "", false)
	lines := []string{
		"ERROR: one",
		"noise",
		"test AssertionError: details",
		"more details",
		"WARNING: two",
	}

	first := BuildHighlights(lines, rules)
	second := BuildHighlights(lines, rules)
	if !reflect.DeepEqual(first, second) {
		t.Error("highlighting the same input twice should be identical")
	}
}
