package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"rating_store/internal/adapters/observability"
	"rating_store/internal/app"
)

type runOptions struct {
	markers   []string
	workers   int
	rate      float64
	maxRating int
	schema    bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import every page tagged with the given markers",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.markers = append(opts.markers, args...)
			return runImport(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.markers, "marker", nil, "Legacy meta key to import (repeatable)")
	cmd.Flags().IntVar(&opts.workers, "workers", cfg.ImportWorkers, "Markers imported concurrently")
	cmd.Flags().Float64Var(&opts.rate, "pages-per-second", cfg.ImportPagesPerSecond, "Page read rate per marker, 0 for unlimited")
	cmd.Flags().IntVar(&opts.maxRating, "max-rating", cfg.MaxRating, "Top of the rating scale legacy ratings are checked against")
	cmd.Flags().BoolVar(&opts.schema, "schema", true, "Create missing tables before importing")
	return cmd
}

func runImport(ctx context.Context, opts runOptions) error {
	if len(opts.markers) == 0 {
		return errors.New("at least one --marker is required")
	}
	repo, closeDB, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeDB()
	if opts.schema {
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
	}

	log.Info().
		Strs("markers", opts.markers).
		Int("workers", opts.workers).
		Float64("pages_per_second", opts.rate).
		Msg("importer starting")

	sem := semaphore.NewWeighted(int64(max(opts.workers, 1)))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, marker := range opts.markers {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			errs = append(errs, err)
			break
		}
		wg.Add(1)
		go func(marker string) {
			defer wg.Done()
			defer sem.Release(1)

			stats, err := migrationService(repo, opts).Run(ctx, marker)
			if err != nil {
				log.Warn().Str("marker", marker).Err(err).Msg("import failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			log.Info().Str("marker", marker).Interface("stats", stats).Msg("import ok")
		}(marker)
	}

	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Info().Msg("import completed")
	return nil
}

func migrationService(store app.MigrationStore, opts runOptions) *app.MigrationService {
	return app.NewMigrationService(store,
		app.WithImportMaxRating(opts.maxRating),
		app.WithPageLimiter(limiter(opts.rate)),
		app.WithPageObserver(observePage),
	)
}

func limiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

func observePage(page app.MigrationStats, took time.Duration) {
	observability.ObserveImport("imported", int(page.Ratings))
	observability.ObserveImport("skipped", page.Skipped)
	observability.ObserveImport("repaired", page.Repaired)
	observability.ObserveImportPage(took)
}
