package logs

import (
	"testing"

	"github.com/swattool/swattool-go/internal/swatbot"
)

func TestRuleMatch(t *testing.T) {
	rules := SelectRules(swatbot.StatusError, "", false)

	tests := []struct {
		name        string
		line        string
		wantKeyword string
		wantColor   Color
		wantMenu    bool
	}{
		{
			name:        "generic error",
			line:        "ERROR: Task failed with exit code 1",
			wantKeyword: "ERROR",
			wantColor:   ColorRed,
			wantMenu:    true,
		},
		{
			name:        "prefixed error",
			line:        "recipe do_compile: CompileError: something broke",
			wantKeyword: "CompileError",
			wantColor:   ColorRed,
			wantMenu:    true,
		},
		{
			name:        "warning",
			line:        "WARNING: host contamination detected",
			wantKeyword: "WARNING",
			wantColor:   ColorYellow,
			wantMenu:    false,
		},
		{
			name:        "fatal",
			line:        "fatal: unable to access repository",
			wantKeyword: "fatal",
			wantColor:   ColorRed,
			wantMenu:    true,
		},
		{
			name:        "make error",
			line:        "make[2]: *** [Makefile:12: all] Error 2",
			wantKeyword: "make[2]",
			wantColor:   ColorRed,
			wantMenu:    true,
		},
		{
			name:        "command timed out",
			line:        "command timed out: 1200 seconds without output",
			wantKeyword: "command timed out:",
			wantColor:   ColorRed,
			wantMenu:    true,
		},
		{
			name:        "failed ptests",
			line:        "Failed ptests:",
			wantKeyword: "Failed ptests",
			wantColor:   ColorRed,
			wantMenu:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *Highlight
			for _, rule := range rules {
				matched, highlight, _ := rule.Match(tt.line)
				if matched {
					got = highlight
					break
				}
			}
			if got == nil {
				t.Fatalf("no rule matched %q", tt.line)
			}
			if got.Keyword != tt.wantKeyword {
				t.Errorf("keyword = %q, want %q", got.Keyword, tt.wantKeyword)
			}
			if got.Color != tt.wantColor {
				t.Errorf("color = %q, want %q", got.Color, tt.wantColor)
			}
			if got.InMenu != tt.wantMenu {
				t.Errorf("InMenu = %v, want %v", got.InMenu, tt.wantMenu)
			}
		})
	}
}

func TestRuleMatchSuppressors(t *testing.T) {
	rules := SelectRules(swatbot.StatusError, "", false)

	suppressed := []string{
		"checking for libgpg-error: yes",
		"running test_fixed_size_error: done",
		"t/base ::error:: handling ok",
	}

	for _, line := range suppressed {
		var matched bool
		var highlight *Highlight
		for _, rule := range rules {
			m, h, _ := rule.Match(line)
			if m {
				matched, highlight = true, h
				break
			}
		}
		if !matched {
			t.Errorf("suppressor should match %q", line)
			continue
		}
		if highlight != nil {
			t.Errorf("suppressor produced a highlight for %q: %+v", line, highlight)
		}
	}
}

func TestRuleMatchPtestReplacement(t *testing.T) {
	rules := SelectRules(swatbot.StatusError, "", false)

	line := "2024-03-01 12:00:01,123 - INFO -  ... FAIL"
	for _, rule := range rules {
		matched, highlight, _ := rule.Match(line)
		if !matched {
			continue
		}
		if highlight == nil {
			t.Fatalf("expected a highlight for %q", line)
		}
		if highlight.Text != "FAIL" {
			t.Errorf("replacement text = %q, want %q", highlight.Text, "FAIL")
		}
		return
	}
	t.Fatalf("no rule matched %q", line)
}

func TestRuleMatchAssertionContext(t *testing.T) {
	rules := SelectRules(swatbot.StatusError, "", false)

	line := "test_foo AssertionError: values differ"
	for _, rule := range rules {
		matched, highlight, offsets := rule.Match(line)
		if !matched {
			continue
		}
		if highlight == nil {
			t.Fatalf("expected a highlight for %q", line)
		}
		want := []int{1, 2, 3, 4, 5}
		if len(offsets) != len(want) {
			t.Fatalf("offsets = %v, want %v", offsets, want)
		}
		for i := range want {
			if offsets[i] != want[i] {
				t.Fatalf("offsets = %v, want %v", offsets, want)
			}
		}
		return
	}
	t.Fatalf("no rule matched %q", line)
}

func TestSelectRulesToaster(t *testing.T) {
	rules := SelectRules(swatbot.StatusError, "toaster", false)

	// Python traceback noise is suppressed for toaster runs.
	line := "    except OSError:"
	matched := false
	var highlight *Highlight
	for _, rule := range rules {
		m, h, _ := rule.Match(line)
		if m {
			matched, highlight = true, h
			break
		}
	}
	if !matched || highlight != nil {
		t.Errorf("toaster except-suppressor should consume %q", line)
	}

	// Selenium exceptions highlight only for toaster.
	seleniumLine := "raised selenium.common.exceptions.TimeoutException: timed out"
	found := false
	for _, rule := range rules {
		if m, h, _ := rule.Match(seleniumLine); m && h != nil {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("selenium rule should match %q for toaster", seleniumLine)
	}

	nonToaster := SelectRules(swatbot.StatusError, "oe-selftest", false)
	for _, rule := range nonToaster[:2] {
		if m, _, _ := rule.Match(seleniumLine); m {
			t.Error("toaster rules should be disabled for other tests")
		}
	}
}

func TestSelectRulesLargeLog(t *testing.T) {
	rules := SelectRules(swatbot.StatusError, "", true)

	if len(rules) != 2 {
		t.Fatalf("large-log rule set has %d rules, want 2", len(rules))
	}

	// Anchored patterns: mid-line markers are ignored in large logs.
	if m, _, _ := rules[0].Match("some prefix ERROR: broken"); m {
		t.Error("large-log error rule should only match at line start")
	}
	if m, h, _ := rules[0].Match("ERROR: broken"); !m || h == nil {
		t.Error("large-log error rule should match at line start")
	}
}

func TestRulesHash(t *testing.T) {
	a := SelectRules(swatbot.StatusError, "", false)
	b := SelectRules(swatbot.StatusError, "", false)
	if RulesHash(a) != RulesHash(b) {
		t.Error("identical rule sets should hash identically")
	}

	warning := SelectRules(swatbot.StatusWarning, "", false)
	if RulesHash(a) == RulesHash(warning) {
		t.Error("rule sets differing in visibility should hash differently")
	}

	large := SelectRules(swatbot.StatusError, "", true)
	if RulesHash(a) == RulesHash(large) {
		t.Error("large-log rule set should hash differently")
	}
}
