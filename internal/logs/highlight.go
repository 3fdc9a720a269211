package logs

// Highlight is a stored per-line highlight. Context lines carry IsContext and
// an empty Keyword; they inherit the triggering rule's visibility flags but
// render without a color.
type Highlight struct {
	Keyword    string `yaml:"keyword,omitempty"`
	Color      Color  `yaml:"color,omitempty"`
	Text       string `yaml:"text"`
	InLogView  bool   `yaml:"in-log-view,omitempty"`
	InMenu     bool   `yaml:"in-menu,omitempty"`
	InBugzilla bool   `yaml:"in-bugzilla,omitempty"`
	IsContext  bool   `yaml:"is-context,omitempty"`
}

// BuildHighlights runs the rule set over the log lines and returns the
// highlight map keyed by 1-based line number.
//
// Per line the first matching rule wins and later rules are not consulted.
// Across the whole pass the first writer to a line number wins: a context
// line never overwrites a direct match and a direct match never overwrites
// an earlier context line.
func BuildHighlights(lines []string, rules []Rule) map[int]Highlight {
	highlights := make(map[int]Highlight)

	for i, line := range lines {
		lineno := i + 1

		for _, rule := range rules {
			matched, highlight, offsets := rule.Match(line)
			if !matched {
				continue
			}
			if highlight == nil {
				// Suppressor: consume the line, highlight nothing.
				break
			}

			if _, taken := highlights[lineno]; !taken {
				highlights[lineno] = *highlight
			}

			for _, offset := range offsets {
				ctxLine := lineno + offset
				if ctxLine < 1 || ctxLine > len(lines) {
					continue
				}
				if _, taken := highlights[ctxLine]; taken {
					continue
				}
				highlights[ctxLine] = Highlight{
					Text:       lines[ctxLine-1],
					InLogView:  highlight.InLogView,
					InMenu:     highlight.InMenu,
					InBugzilla: highlight.InBugzilla,
					IsContext:  true,
				}
			}
			break
		}
	}

	return highlights
}
