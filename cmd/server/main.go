package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/cache"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/config"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/httpapi"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/hub"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/judge"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/resolver"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/room"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/store"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/ws"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	// appCtx outlives the HTTP listener so rooms keep serializing work
	// while in-flight requests drain; it is torn down last.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	var snapshots *cache.Cache
	var closeRedis func() error
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(appCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("redis unavailable, running without the cache tier", zap.Error(err))
		} else {
			snapshots = cache.New(rdb, cfg.CacheTTL)
			closeRedis = rdb.Close
		}
	}

	h := hub.New(appCtx, log)

	deps := room.Deps{
		Log:          log,
		Store:        st,
		MaxCodeBytes: int(cfg.MaxCodeBytes),
		IdleTTL:      cfg.RoomIdleTTL,
		OnEvict: func(r *room.Room) {
			h.Remove(r.ID(), r)
		},
	}
	var snapshotTier resolver.Cache
	if snapshots != nil {
		deps.Cache = snapshots
		snapshotTier = snapshots
	}

	rv := resolver.New(appCtx, log, h, snapshotTier, st, deps)
	judgeClient := judge.NewHTTPClient(cfg.JudgeURL, cfg.JudgeTimeout)
	socket := ws.NewHandler(log, rv, judgeClient, cfg.AllowedOrigins, int(cfg.MaxCodeBytes))
	api := httpapi.NewAPI(log, st, rv, h, judgeClient)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.SetupRoutes(api, socket, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	h.Shutdown()

	closeErr := st.Close()
	if closeRedis != nil {
		closeErr = multierr.Append(closeErr, closeRedis())
	}
	return multierr.Append(err, closeErr)
}
