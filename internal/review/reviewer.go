// Package review orchestrates a triage session: loading pending builds,
// grouping duplicates, suggesting triages from history and publishing the
// operator's decisions.
package review

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/swattool/swattool-go/internal/bugzilla"
	"github.com/swattool/swattool-go/internal/fingerprint"
	"github.com/swattool/swattool-go/internal/logs"
	"github.com/swattool/swattool-go/internal/storage"
	"github.com/swattool/swattool-go/internal/swatbot"
	"github.com/swattool/swattool-go/internal/triagehistory"
	"github.com/swattool/swattool-go/internal/userdata"
)

// Reviewer wires the clients and engines of one triage session together.
type Reviewer struct {
	swat      *swatbot.Client
	store     *storage.Store
	cache     *logs.Cache
	extractor *fingerprint.Extractor
	engine    *fingerprint.Engine
	history   *triagehistory.History
	userInfos *userdata.UserInfos
	bugs      *bugzilla.Client
	log       zerolog.Logger

	swatBaseURL string
	workers     int
}

// Config carries the session collaborators.
type Config struct {
	Swatbot     *swatbot.Client
	Store       *storage.Store
	Cache       *logs.Cache
	Extractor   *fingerprint.Extractor
	Engine      *fingerprint.Engine
	History     *triagehistory.History
	UserInfos   *userdata.UserInfos
	Bugzilla    *bugzilla.Client
	SwatBaseURL string
	Workers     int
	Logger      zerolog.Logger
}

func New(cfg Config) *Reviewer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	return &Reviewer{
		swat:        cfg.Swatbot,
		store:       cfg.Store,
		cache:       cfg.Cache,
		extractor:   cfg.Extractor,
		engine:      cfg.Engine,
		history:     cfg.History,
		userInfos:   cfg.UserInfos,
		bugs:        cfg.Bugzilla,
		log:         cfg.Logger.With().Str("component", "review").Logger(),
		swatBaseURL: cfg.SwatBaseURL,
		workers:     workers,
	}
}

// DuplicateGroups partitions builds into groups of likely duplicates by
// comparing the stdio fingerprints of their first failures. Each group keeps
// ascending build id order; builds similar to nothing form singleton groups.
func (r *Reviewer) DuplicateGroups(builds []*swatbot.Build) [][]*swatbot.Build {
	ordered := make([]*swatbot.Build, len(builds))
	copy(ordered, builds)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	grouped := make(map[int]bool)
	var groups [][]*swatbot.Build
	for i, build := range ordered {
		if grouped[build.ID] {
			continue
		}
		group := []*swatbot.Build{build}
		grouped[build.ID] = true

		fp := r.extractor.Fingerprint(build.FirstFailure(), "stdio")
		for _, other := range ordered[i+1:] {
			if grouped[other.ID] {
				continue
			}
			otherFp := r.extractor.Fingerprint(other.FirstFailure(), "stdio")
			if r.engine.IsSimilar(fp, otherFp) {
				group = append(group, other)
				grouped[other.ID] = true
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// Suggestions returns triage decisions of historically similar builds, best
// first.
func (r *Reviewer) Suggestions(build *swatbot.Build, budget time.Duration) []triagehistory.Scored {
	return r.history.SimilarEntries(build, triagehistory.DefaultTopN, budget)
}

// BugzillaComment assembles the standard bug report comment for a build: test
// information, the stdio log URL and the bug-tracker-visible highlight lines.
// Reports false when the failure has no log page.
func (r *Reviewer) BugzillaComment(build *swatbot.Build) (string, bool) {
	failure := build.FirstFailure()
	logURL := failure.LogURL("stdio")
	if logURL == "" {
		return "", false
	}
	testinfos := fmt.Sprintf("%s %s %s completed at %s",
		build.Test, build.Worker, build.Branch,
		build.Completed.Format("2006-01-02 15:04:05"))

	parts := []string{testinfos, logURL}
	parts = append(parts, r.cache.BugzillaHighlights(failure, "stdio")...)
	return strings.Join(parts, "\n"), true
}

// ApplyTriage records the same pending triage decision for every build of a
// batch, covering all failures of each build. Bug statuses get the prepared
// bug tracker comment attached.
func (r *Reviewer) ApplyTriage(builds []*swatbot.Build, status swatbot.TriageStatus, comment string) {
	for _, build := range builds {
		failureIDs := make([]int, 0, len(build.Failures))
		for id := range build.Failures {
			failureIDs = append(failureIDs, id)
		}
		sort.Ints(failureIDs)

		triage := &userdata.Triage{
			Failures: failureIDs,
			Status:   status,
			Comment:  comment,
		}
		if status == swatbot.TriageBug {
			if bzComment, ok := r.BugzillaComment(build); ok {
				triage.BugzillaComment = bzComment
			}
		}

		info := r.userInfos.Get(build.ID)
		info.Triages = append(info.Triages, triage)
	}
}

// ReviewKey groups pending triages sharing a status and comment so they can
// be published together.
type ReviewKey struct {
	Status  swatbot.TriageStatus
	Comment string
}

// NewReviews collects local triage decisions not yet on the server, dropping
// failures that are no longer pending remotely.
func (r *Reviewer) NewReviews() (map[ReviewKey][]*userdata.Triage, error) {
	reviews := make(map[ReviewKey][]*userdata.Triage)

	for buildID, info := range r.userInfos.All() {
		for _, triage := range info.Triages {
			if triage.Status == swatbot.TriagePending {
				continue
			}
			if triage.Comment == "" {
				r.log.Warn().Int("build", buildID).
					Msg("Review is missing a comment, skipping")
				continue
			}

			var stillPending []int
			for _, failureID := range triage.Failures {
				failure, err := r.swat.StepFailure(failureID)
				if err != nil {
					return nil, fmt.Errorf("checking failure %d: %w", failureID, err)
				}
				if failure.Triage == swatbot.TriagePending {
					stillPending = append(stillPending, failureID)
				}
			}
			triage.Failures = stillPending

			if len(triage.Failures) > 0 {
				key := ReviewKey{Status: triage.Status, Comment: triage.Comment}
				reviews[key] = append(reviews[key], triage)
			}
		}
	}

	if err := r.userInfos.Save(); err != nil {
		return nil, err
	}
	return reviews, nil
}

// Publish pushes collected reviews to the swatbot server. Bug reviews also
// get their prepared comments posted to the bug tracker, and the published
// comment becomes the bug URL. With dryRun only the would-be actions are
// logged.
func (r *Reviewer) Publish(reviews map[ReviewKey][]*userdata.Triage, dryRun bool) error {
	for key, triages := range reviews {
		comment := key.Comment

		if key.Status == swatbot.TriageBug {
			bugID, err := strconv.Atoi(key.Comment)
			if err != nil {
				return fmt.Errorf("bug review comment %q is not a bug id", key.Comment)
			}

			var bugComments []string
			for _, triage := range triages {
				if triage.BugzillaComment != "" && len(triage.Failures) > 0 {
					bugComments = append(bugComments, triage.BugzillaComment)
				}
			}
			if len(bugComments) > 0 {
				comment = r.bugs.BugURL(bugID)
				r.log.Info().
					Int("bug", bugID).
					Int("comments", len(bugComments)).
					Msg("Updating bug tracker ticket")
				if !dryRun {
					if err := r.bugs.AddComment(bugID, strings.Join(bugComments, "\n")); err != nil {
						return err
					}
				}
			}
		}

		for _, triage := range triages {
			for _, failureID := range triage.Failures {
				r.log.Info().
					Int("failure", failureID).
					Stringer("status", key.Status).
					Str("comment", comment).
					Msg("Publishing triage status")
				if dryRun {
					continue
				}
				if err := r.swat.PublishTriage(failureID, key.Status, comment); err != nil {
					return err
				}
			}
		}
	}

	if !dryRun {
		r.swat.InvalidateFailuresCache()
	}
	return nil
}

// RecordHistory appends the published builds' fingerprints and decisions to
// the triage history and saves it.
func (r *Reviewer) RecordHistory(builds []*swatbot.Build) error {
	for _, build := range builds {
		if build.FirstFailure().Triage != swatbot.TriagePending {
			r.history.Add(build)
		}
	}
	return r.history.Save()
}
