package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swattool/swattool-go/internal/notification"
	"github.com/swattool/swattool-go/internal/swatbot"
)

var publishFlags struct {
	dryRun bool
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Push recorded triage decisions to the swatbot server",
	RunE:  runPublish,
}

func init() {
	publishCmd.Flags().BoolVarP(&publishFlags.dryRun, "dry-run", "n", false, "Only log what would be published")
}

func runPublish(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	reviews, err := a.reviewer.NewReviews()
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		fmt.Fprintln(out, "No new reviews to publish")
		return nil
	}

	// failure id -> published status, for history recording below
	published := make(map[int]swatbot.TriageStatus)
	statusCounts := make(map[string]int)
	bugsCommented := 0
	for key, triages := range reviews {
		if key.Status == swatbot.TriageBug {
			bugsCommented++
		}
		for _, triage := range triages {
			for _, failureID := range triage.Failures {
				published[failureID] = key.Status
				statusCounts[key.Status.String()]++
			}
		}
	}

	if err := a.reviewer.Publish(reviews, publishFlags.dryRun); err != nil {
		return err
	}

	pending := swatbot.TriagePending
	builds, err := a.store.Builds([]swatbot.TriageStatus{pending}, 0, a.cfg.SwatbotBaseURL)
	if err != nil {
		return err
	}

	if !publishFlags.dryRun {
		var recorded []*swatbot.Build
		for _, build := range builds {
			touched := false
			for _, failure := range build.Failures {
				if status, ok := published[failure.ID]; ok {
					failure.Triage = status
					touched = true
				}
			}
			if touched {
				recorded = append(recorded, build)
			}
		}
		if err := a.reviewer.RecordHistory(recorded); err != nil {
			return err
		}
		// Published failures are stale locally, force a refetch next time.
		if err := a.store.DropFailures(&pending); err != nil {
			return err
		}
	}

	if a.cfg.HasTelegram() {
		summary := &notification.SessionSummary{
			PendingBuilds:     len(builds),
			PublishedFailures: len(published),
			StatusCounts:      statusCounts,
			BugsCommented:     bugsCommented,
			DryRun:            publishFlags.dryRun,
		}
		if err := sendSummary(a, summary); err != nil {
			a.log.Warn().Err(err).Msg("Failed to send Telegram summary")
		}
	}

	fmt.Fprintf(out, "Published %d failures\n", len(published))
	return nil
}

func sendSummary(a *app, summary *notification.SessionSummary) error {
	client, err := notification.NewTelegramClient(a.cfg.TelegramBotToken, a.cfg.TelegramChannel)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	return client.SendSessionSummary(summary)
}
