// Package prefetch warms the highlight and fingerprint caches for a batch of
// builds before the operator starts reviewing, so the session never waits on
// log downloads.
package prefetch

import (
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/swattool/swattool-go/internal/fingerprint"
	"github.com/swattool/swattool-go/internal/logs"
	"github.com/swattool/swattool-go/internal/swatbot"
)

// Warmer populates caches with bounded concurrency. A log that fails to fetch
// degrades to an empty highlight set inside the cache; it never aborts the
// other units.
type Warmer struct {
	cache     *logs.Cache
	extractor *fingerprint.Extractor
	workers   int
	log       zerolog.Logger
}

func NewWarmer(cache *logs.Cache, extractor *fingerprint.Extractor, workers int, log zerolog.Logger) *Warmer {
	if workers <= 0 {
		workers = 8
	}
	return &Warmer{
		cache:     cache,
		extractor: extractor,
		workers:   workers,
		log:       log.With().Str("component", "prefetch").Logger(),
	}
}

// Warm computes highlights for every failure of every build and the stdio
// fingerprint of each build's first failure.
func (w *Warmer) Warm(builds []*swatbot.Build) {
	var g errgroup.Group
	g.SetLimit(w.workers)

	for _, build := range builds {
		for _, failure := range build.Failures {
			g.Go(func() error {
				w.cache.Highlights(failure, "stdio")
				return nil
			})
		}
		g.Go(func() error {
			w.extractor.Fingerprint(build.FirstFailure(), "stdio")
			return nil
		})
	}

	_ = g.Wait()
	w.log.Debug().Int("builds", len(builds)).Msg("Cache warmup finished")
}
