package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/acm-cmu/awap-matchmaking/internal/api"
	"github.com/acm-cmu/awap-matchmaking/internal/config"
	"github.com/acm-cmu/awap-matchmaking/internal/domain/engine"
	"github.com/acm-cmu/awap-matchmaking/internal/domain/match"
	"github.com/acm-cmu/awap-matchmaking/internal/domain/scrimmage"
	"github.com/acm-cmu/awap-matchmaking/internal/domain/tournament"
	"github.com/acm-cmu/awap-matchmaking/internal/storage"
	"github.com/acm-cmu/awap-matchmaking/internal/storage/cache"
	"github.com/acm-cmu/awap-matchmaking/internal/storage/objectstore"
	"github.com/acm-cmu/awap-matchmaking/internal/storage/postgres"
	"github.com/acm-cmu/awap-matchmaking/internal/tango"
	"github.com/acm-cmu/awap-matchmaking/internal/util"
	"github.com/acm-cmu/awap-matchmaking/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	objects, err := objectstore.NewS3(cfg)
	if err != nil {
		return err
	}

	leaderboard := cache.NewLeaderboard(cfg.RedisAddr, log)
	defer leaderboard.Close()

	jobs := tango.New(cfg.TangoHost, cfg.TangoPort, cfg.TangoKey, cfg.TangoImage,
		cfg.JobTimeoutSecs, log)
	if err := jobs.OpenCourselab(ctx); err != nil {
		return err
	}

	store := storage.New(
		objects,
		postgres.NewMatchRepo(db),
		postgres.NewPlayerRepo(db),
		leaderboard,
		storage.Buckets{
			Replays:     cfg.ReplayBucket,
			Tournaments: cfg.TournamentBucket,
			ErrorLogs:   cfg.ErrorLogBucket,
		},
		cfg.ReplayURLTTL,
		log,
	)

	seed, err := store.NextMatchID(ctx)
	if err != nil {
		return err
	}
	counter := util.NewCounter(seed)

	engines := engine.NewRegistry(jobs, cfg.TempFileDir, log)
	if err := engines.Reload(ctx); err != nil {
		// A fresh deployment has no engine yet; one arrives over the API.
		log.Warn("no game engine restored", zap.Error(err))
	}

	runner := match.NewRunner(jobs, store, cfg.TempFileDir, cfg.CallbackBase, log)
	scrimmages := scrimmage.NewService(runner, store, engines, counter, log)
	tournaments := tournament.NewService(runner, store, engines, counter, log)

	server := api.NewServer(engines, runner, scrimmages, tournaments, store, counter, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("shut down cleanly")
	return nil
}
