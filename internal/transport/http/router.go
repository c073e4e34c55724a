package http

import (
	"time"

	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/auth"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/transport/http/handler"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/transport/http/middleware"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type Handlers struct {
	Order *handler.OrderHandler
}

type LimiterConfig struct {
	Max        int
	Expiration time.Duration
}

func RegisterRoutes(app *fiber.App, h *Handlers, lim LimiterConfig) {
	app.Use(otelfiber.Middleware())
	app.Use(limiter.New(limiter.Config{
		Max:        lim.Max,
		Expiration: lim.Expiration,
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", middleware.NewRoleMiddleware())

	orders := api.Group("/orders")
	orders.Post("", h.Order.Create)
	orders.Get("/:id", middleware.RequireCapability(auth.ActionReadOrder), h.Order.GetByID)
	orders.Get("", middleware.RequireCapability(auth.ActionReadOrder), h.Order.ListByCustomer)
}
