package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-convoyhub/internal/config"
	"backend-convoyhub/internal/db"
	"backend-convoyhub/internal/logging"
	"backend-convoyhub/internal/realtime"
	"backend-convoyhub/internal/server"
	"backend-convoyhub/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const mirrorMemberID = "relay-store"

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	newLogger       func(level string) *slog.Logger
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	migrate         func(context.Context, *pgxpool.Pool, *slog.Logger) error
	connectRedis    func(config.Config) *redis.Client
	connectMirror   func(context.Context, config.Config, *slog.Logger) (*realtime.Client, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *slog.Logger, *pgxpool.Pool, *redis.Client, *realtime.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		newLogger:       logging.New,
		connectPostgres: db.ConnectPostgres,
		migrate:         db.Migrate,
		connectRedis:    db.ConnectRedis,
		connectMirror:   connectMirror,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	log := deps.newLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		return
	}

	ctx := context.Background()
	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
	}
	if pg != nil && cfg.RunMigrations {
		if err := deps.migrate(ctx, pg, log); err != nil {
			log.Error("migrations failed", "error", err)
		}
	}

	rdb := deps.connectRedis(cfg)

	mirror, err := deps.connectMirror(ctx, cfg, log)
	if err != nil {
		log.Warn("real-time mirror disabled", "error", err)
		mirror = nil
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(ctx, cfg, log, pg, rdb, mirror, signals, nil); err != nil {
		log.Error("server exited with error", "error", err)
	}
}

// connectMirror dials the broker so HTTP-written locations reach MQTT
// subscribers. No broker URL means no mirror.
func connectMirror(ctx context.Context, cfg config.Config, log *slog.Logger) (*realtime.Client, error) {
	if cfg.MQTTBrokerURL == "" {
		return nil, nil
	}
	c := realtime.NewClient(realtime.Options{
		BrokerURL:     cfg.MQTTBrokerURL,
		MemberID:      mirrorMemberID,
		AutoReconnect: true,
		Logger:        log,
	})
	if err := c.Connect(ctx, nil); err != nil {
		return nil, err
	}
	return c, nil
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, log *slog.Logger, pg *pgxpool.Pool, rdb *redis.Client, mirror *realtime.Client, signals <-chan os.Signal, listen ListenFunc) error {
	if log == nil {
		log = slog.Default()
	}
	var q db.Querier
	if pg != nil {
		q = pg
	}
	var pub tracking.Publisher
	if mirror != nil {
		pub = mirror
	}
	srv := server.NewServer(cfg, q, rdb, pub, log)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()
	log.Info("server starting", "addr", cfg.ServerPort)

	select {
	case sig := <-signals:
		log.Info("shutdown signal received", "signal", sig)
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	srv.Close()
	if mirror != nil {
		mirror.Close()
	}
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}
