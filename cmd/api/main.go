package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	server "rating_store/internal/adapters/http_server"
	"rating_store/internal/adapters/observability"
	redisad "rating_store/internal/adapters/redis"
	"rating_store/internal/app"
	"rating_store/internal/domain"
	"rating_store/internal/listing"
	"rating_store/internal/shared"
	mysqlrepo "rating_store/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// db
	db, dialect, err := mysqlrepo.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("database open failed")
	}
	defer db.Close()
	log.Info().Str("driver", cfg.DBDriver).Msg("database connection ok")

	overlay := listing.New(domain.ReviewItemType,
		listing.WithNullsFirst(cfg.NullsFirst),
		listing.OnApply(observability.ObserveOverlay),
	)
	repo := mysqlrepo.New(db, mysqlrepo.WithDialect(dialect), mysqlrepo.WithListHook(overlay))

	if cfg.AutoMigrate {
		if err := ensureSchema(ctx, repo); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
	}

	// deps
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cache.Close()
	m := app.NewManager(repo, repo, cache,
		app.WithMaxRating(cfg.MaxRating),
		app.WithApprovalRequired(cfg.RequireApproval),
	)

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		M:      m,
		Items:  repo,
		State:  repo,
		Health: []server.Pinger{server.PingFunc(db.PingContext), cache},
	})

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

// ensureSchema creates the tables when no migration has been recorded, which
// is also the state a repair reset leaves behind.
func ensureSchema(ctx context.Context, repo *mysqlrepo.Repo) error {
	last, err := repo.LastMigration(ctx)
	if err != nil {
		// options may not exist yet on a fresh database
		log.Debug().Err(err).Msg("migration state unreadable")
	}
	if last != "" {
		log.Info().Str("last", last).Msg("schema up to date")
		return nil
	}
	if err := repo.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Msg("schema migrated")
	return repo.MarkMigrated(ctx)
}
