package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swattool/swattool-go/internal/swatbot"
)

var triageFlags struct {
	status  string
	comment string
	limit   int
	yes     bool
}

var triageCmd = &cobra.Command{
	Use:   "batch-triage",
	Short: "Record the same triage decision for every pending build",
	Long: "Records a local triage decision for all currently pending builds.\n" +
		"Nothing reaches the server until 'swattool publish' is run.",
	RunE: runTriage,
}

func init() {
	f := triageCmd.Flags()
	f.StringVarP(&triageFlags.status, "status", "s", "", "Triage status, e.g. MAIL_SENT, BUG, NOT_FOR_SWAT (required)")
	f.StringVarP(&triageFlags.comment, "comment", "c", "", "Triage comment, the bug id for BUG (required)")
	f.IntVarP(&triageFlags.limit, "limit", "l", 0, "Maximum number of builds to triage (0 for all)")
	f.BoolVarP(&triageFlags.yes, "yes", "y", false, "Skip the confirmation prompt")

	_ = triageCmd.MarkFlagRequired("status")
	_ = triageCmd.MarkFlagRequired("comment")
}

func runTriage(cmd *cobra.Command, _ []string) error {
	status, err := swatbot.TriageFromName(triageFlags.status)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	builds, err := a.reviewer.LoadPendingBuilds(triageFlags.limit)
	if err != nil {
		return err
	}
	if len(builds) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending builds")
		return nil
	}

	out := cmd.OutOrStdout()
	for _, build := range builds {
		fmt.Fprintf(out, "  %s\n", build.ShortDescription())
	}

	if !triageFlags.yes {
		answer, err := promptLine(fmt.Sprintf("Set %d builds to %s? [y/N]", len(builds), status))
		if err != nil {
			return err
		}
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			fmt.Fprintln(out, "Aborted")
			return nil
		}
	}

	a.reviewer.ApplyTriage(builds, status, triageFlags.comment)
	if err := a.userInfos.Save(); err != nil {
		return err
	}

	fmt.Fprintf(out, "Recorded %s for %d builds, run 'swattool publish' to push\n", status, len(builds))
	return nil
}
