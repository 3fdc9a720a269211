package review

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/swattool/swattool-go/internal/swatbot"
)

// LoadPendingBuilds refreshes the local metadata cache from the server and
// assembles the pending builds, newest first, at most limit of them.
//
// Builds and collections already cached are not refetched; only the ones
// referenced by failures but missing locally are pulled, concurrently up to
// the configured worker count.
func (r *Reviewer) LoadPendingBuilds(limit int) ([]*swatbot.Build, error) {
	pending := swatbot.TriagePending
	records, err := r.swat.StepFailures(&pending)
	if err != nil {
		return nil, fmt.Errorf("listing pending failures: %w", err)
	}
	if err := r.store.AddFailures(records); err != nil {
		return nil, err
	}

	if err := r.fetchMissingBuilds(); err != nil {
		return nil, err
	}
	if err := r.fetchMissingCollections(); err != nil {
		return nil, err
	}

	builds, err := r.store.Builds([]swatbot.TriageStatus{pending}, 0, r.swatBaseURL)
	if err != nil {
		return nil, err
	}

	ordered := make([]*swatbot.Build, 0, len(builds))
	for _, build := range builds {
		ordered = append(ordered, build)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID > ordered[j].ID })
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered, nil
}

func (r *Reviewer) fetchMissingBuilds() error {
	missing, err := r.store.MissingBuildIDs()
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, buildID := range missing {
		g.Go(func() error {
			rec, err := r.swat.BuildInfo(buildID)
			if err != nil {
				return fmt.Errorf("fetching build %d: %w", buildID, err)
			}
			mu.Lock()
			defer mu.Unlock()
			return r.store.AddBuild(rec)
		})
	}
	return g.Wait()
}

func (r *Reviewer) fetchMissingCollections() error {
	missing, err := r.store.MissingCollections()
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, ref := range missing {
		g.Go(func() error {
			rec, err := r.swat.Collection(ref.ID)
			if err != nil {
				return fmt.Errorf("fetching collection %d: %w", ref.ID, err)
			}
			mu.Lock()
			defer mu.Unlock()
			return r.store.AddCollection(rec)
		})
	}
	return g.Wait()
}
