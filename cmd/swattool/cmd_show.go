package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var showFlags struct {
	limit int
}

var showCmd = &cobra.Command{
	Use:   "show-pending",
	Short: "List pending failures awaiting triage",
	RunE:  runShow,
}

func init() {
	showCmd.Flags().IntVarP(&showFlags.limit, "limit", "l", 0, "Maximum number of builds to show (0 for all)")
}

func runShow(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	builds, err := a.reviewer.LoadPendingBuilds(showFlags.limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, build := range builds {
		fmt.Fprintf(out, "%s\n    %s\n", build.ShortDescription(), build.SwatURL)

		ids := make([]int, 0, len(build.Failures))
		for id := range build.Failures {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			failure := build.Failures[id]
			fmt.Fprintf(out, "    %d: step %d %s (%s)\n",
				failure.ID, failure.StepNumber, failure.StepName, failure.Triage)
		}
	}
	fmt.Fprintf(out, "%d pending builds\n", len(builds))
	return nil
}
