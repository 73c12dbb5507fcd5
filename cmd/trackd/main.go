// README: Entry point; loads config, wires services, starts HTTP server and background loops.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"trackd/internal/config"
	httptransport "trackd/internal/http"
	"trackd/internal/http/handlers"
	"trackd/internal/infra"
	"trackd/internal/metrics"
	"trackd/internal/modules/location"
	"trackd/internal/modules/order"
	"trackd/internal/modules/polldiff"
	"trackd/internal/modules/route"
	"trackd/internal/modules/tracking"
	"trackd/internal/notify"
	"trackd/internal/realtime"
)

const announceInterval = 15 * time.Second

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file")
	addr := pflag.String("addr", "", "HTTP listen address (overrides config)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("trackd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	metrics.Register(prometheus.DefaultRegisterer)

	hub := realtime.NewHub(realtime.HubOptions{
		QueueSize: cfg.Realtime.QueueSize,
		MaxDrops:  cfg.Realtime.MaxDrops,
		Logger:    logger,
	})

	var repo order.Repository
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		repo = order.NewStore(pool)
	} else {
		logger.Warn("no database configured, orders are kept in memory")
		repo = order.NewMemoryStore()
	}

	var (
		rdb   *redis.Client
		guard order.AnnounceGuard
		cache location.Cache
	)
	if cfg.Redis.Addr != "" {
		var err error
		rdb, err = infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		guard = order.NewRedisGuard(rdb, 0)
		cache = location.NewStore(rdb, cfg.Location.CacheTTL)
	} else {
		guard = order.NewMemoryGuard()
		cache = location.NewMemoryCache()
	}

	orders := order.NewService(repo, hub, order.ServiceOptions{Guard: guard, Logger: logger})

	var (
		verifier infra.TokenVerifier = infra.DevVerifier{}
		notifier notify.Notifier     = notify.LogNotifier{Logger: logger}
		mirror   location.Mirror
	)
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
		if err != nil {
			return err
		}
		if verifier, err = infra.NewFirebaseVerifier(ctx, app); err != nil {
			return err
		}
		msg, err := app.Messaging(ctx)
		if err != nil {
			return err
		}
		notifier = notify.NewFCMNotifier(msg)
		if cfg.Firebase.DatabaseURL != "" {
			rtdb, err := app.Database(ctx)
			if err != nil {
				return err
			}
			mirror = location.NewRTDBMirror(rtdb)
		}
	} else {
		logger.Warn("firebase not configured, accepting dev tokens (role:uid[:scope])")
	}

	locations := location.NewService(orders, cache, hub, location.Options{
		RatePerSecond: cfg.Location.RatePerSecond,
		Burst:         cfg.Location.Burst,
		Mirror:        mirror,
		Logger:        logger,
	})

	var planner route.Planner = route.NewRandomPlanner(cfg.Tracking.PathSteps, time.Now().UnixNano())
	if cfg.Maps.APIKey != "" {
		client, err := route.NewMapsClient(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		planner = route.NewDirectionsPlanner(client, cfg.Tracking.PathSteps, planner, logger)
	}
	tracker := tracking.New(orders, locations, tracking.Options{
		Window:  cfg.Tracking.TransitWindow,
		Tick:    cfg.Tracking.TickInterval,
		Planner: planner,
		Logger:  logger,
	})
	defer tracker.Stop()

	dispatcher := notify.NewDispatcher(notifier, 0, logger)
	orders.AddObserver(locations)
	orders.AddObserver(tracker)
	orders.AddObserver(dispatcher)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })

	if cfg.AMQP.URL != "" {
		url := cfg.AMQP.URL
		dial := func() (notify.Connection, error) {
			conn, err := infra.NewAMQP(url)
			if err != nil {
				return nil, err
			}
			return notify.WrapConnection(conn), nil
		}
		bus := notify.NewEventBus(dial, cfg.AMQP.Exchange, 0, logger)
		orders.AddObserver(bus)
		g.Go(func() error { return bus.Run(gctx) })
	}

	if err := tracker.Resume(ctx); err != nil {
		logger.Warn("resume deliveries", "error", err)
	}

	sessions := polldiff.NewSessions(cfg.Polling.ViewerTTL, nil, logger)
	g.Go(func() error {
		sessions.Run(gctx, cfg.Polling.SweepInterval)
		return nil
	})
	g.Go(func() error {
		orders.RunScheduleAnnouncer(gctx, announceInterval)
		return nil
	})

	gin.SetMode(gin.ReleaseMode)
	router := httptransport.NewRouter(httptransport.Deps{
		Hub:       hub,
		Orders:    orders,
		Locations: locations,
		Sessions:  sessions,
		Verifier:  verifier,
		WS: handlers.WSOptions{
			HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
			WriteTimeout:     cfg.Realtime.WriteTimeout,
			PingInterval:     cfg.Realtime.PingInterval,
		},
		Logger: logger,
	})
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Realtime.HandshakeTimeout,
	}

	g.Go(func() error {
		logger.Info("listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
