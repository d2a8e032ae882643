package server

import (
	"log/slog"

	"backend-convoyhub/internal/config"
	"backend-convoyhub/internal/db"
	"backend-convoyhub/internal/shared/httpx"
	"backend-convoyhub/internal/stream"
	"backend-convoyhub/internal/tracking"
	"backend-convoyhub/internal/trip"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       db.Querier
	Redis    *redis.Client
	Stream   *stream.Hub
	Trips    *trip.Service
	Tracking *tracking.Service
	Log      *slog.Logger
}

// NewServer wires the trip registry, relay store and websocket fan-out.
// redisClient and mirror may be nil; the cache and real-time mirror are then
// skipped.
func NewServer(cfg config.Config, q db.Querier, redisClient *redis.Client, mirror tracking.Publisher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler})
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient, log)
	trips := trip.NewService(q, log)
	locations := tracking.NewService(q, trips, log).WithHub(hub)
	if redisClient != nil {
		locations.WithCache(tracking.NewRedisCache(redisClient))
	}
	if mirror != nil {
		locations.WithMirror(mirror)
	}

	s := &Server{
		App:      app,
		Cfg:      cfg,
		DB:       q,
		Redis:    redisClient,
		Stream:   hub,
		Trips:    trips,
		Tracking: locations,
		Log:      log,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	trips := s.App.Group("/trip")
	trip.RegisterRoutes(trips, s.Trips)
	tracking.RegisterRoutes(trips, s.Tracking)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, s.Trips)
}

// Close releases the fan-out hub's redis subscription.
func (s *Server) Close() {
	s.Stream.Close()
}
