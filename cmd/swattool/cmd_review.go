package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/swattool/swattool-go/internal/gitarchive"
	"github.com/swattool/swattool-go/internal/prefetch"
	"github.com/swattool/swattool-go/internal/swatbot"
)

var reviewFlags struct {
	limit          int
	highlightLines int
	showCommits    bool
}

var reviewCmd = &cobra.Command{
	Use:   "review-pending",
	Short: "Report on pending builds: duplicate groups, log highlights and history suggestions",
	RunE:  runReview,
}

func init() {
	f := reviewCmd.Flags()
	f.IntVarP(&reviewFlags.limit, "limit", "l", 0, "Maximum number of builds to review (0 for configured default)")
	f.IntVar(&reviewFlags.highlightLines, "highlight-lines", 10, "Highlight lines shown per group")
	f.BoolVar(&reviewFlags.showCommits, "commits", false, "Show the commits each build carried (needs an updated archive)")
}

func runReview(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	limit := reviewFlags.limit
	if limit == 0 {
		limit = a.cfg.BuildLimit
	}
	builds, err := a.reviewer.LoadPendingBuilds(limit)
	if err != nil {
		return err
	}

	warmer := prefetch.NewWarmer(a.cache, a.extractor, a.cfg.Workers, a.log)
	warmer.Warm(builds)

	archive := gitarchive.New(a.cfg.DataDir, a.log)
	out := cmd.OutOrStdout()

	groups := a.reviewer.DuplicateGroups(builds)
	for i, group := range groups {
		fmt.Fprintf(out, "Group %d/%d:\n", i+1, len(groups))
		for _, build := range group {
			fmt.Fprintf(out, "  %s\n      %s\n", build.ShortDescription(), build.SwatURL)
		}

		first := group[0]
		highlights := a.cache.HighlightsText(first.FirstFailure(), "stdio")
		if len(highlights) > reviewFlags.highlightLines {
			highlights = highlights[:reviewFlags.highlightLines]
		}
		for _, line := range highlights {
			fmt.Fprintf(out, "  | %s\n", line)
		}

		for _, scored := range a.reviewer.Suggestions(first, a.historyBudget()) {
			fmt.Fprintf(out, "  similar: build %d triaged %s (score %.2f) %s\n",
				scored.Entry.BuildID, scored.Entry.Triage, scored.Score, scored.Entry.Notes)
		}

		if reviewFlags.showCommits {
			printCommits(out, archive, group)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func printCommits(out io.Writer, archive *gitarchive.Archive, group []*swatbot.Build) {
	for _, build := range group {
		tag, ok := gitarchive.BuildTag(build)
		if !ok {
			continue
		}
		commits, err := archive.Commits(tag, build.Branch, 8)
		if err != nil || commits == nil {
			continue
		}
		fmt.Fprintf(out, "  commits of %d on %s:\n", build.ID, build.Branch)
		for _, commit := range commits.Commits {
			fmt.Fprintf(out, "    %.12s %s\n", commit.Hash, commit.Title)
		}
		if commits.Truncated {
			fmt.Fprintln(out, "    ...")
		}
	}
}
