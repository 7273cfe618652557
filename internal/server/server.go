package server

import (
	"github.com/SAI-RANDIVE/rydo-web-app1-sub002/internal/auth"
	"github.com/SAI-RANDIVE/rydo-web-app1-sub002/internal/booking"
	"github.com/SAI-RANDIVE/rydo-web-app1-sub002/internal/config"
	"github.com/SAI-RANDIVE/rydo-web-app1-sub002/internal/route"
	"github.com/SAI-RANDIVE/rydo-web-app1-sub002/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Broker *tracking.Broker
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	store := booking.NewStore(db)
	routes := route.NewService(db)

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Broker: tracking.NewBroker(store, store, routes, redisClient),
	}

	registerRoutes(s, store, routes)
	return s
}

func registerRoutes(s *Server, store *booking.Store, routes *route.Service) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.DB))
	booking.RegisterRoutes(s.App.Group("/"), store, jwtMiddleware)
	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Broker, jwtMiddleware)
	route.RegisterRoutes(s.App.Group("/tracking"), routes, s.Broker, jwtMiddleware)
}
