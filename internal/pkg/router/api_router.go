package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/regscout/regscout/app/controllers"
	"github.com/regscout/regscout/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "RegScout API",
		})
	})

	v1 := api.Group("/v1")

	// Public search
	v1.Get("/regulations", controllers.HandleRegulationSearch)
	v1.Get("/regulations/:id", controllers.HandleRegulationGet)

	// Session-authenticated routes
	authed := v1.Group("", middleware.RequireAPISessionAuth)
	authed.Get("/subscription", controllers.HandleSubscriptionStatus)
	authed.Post("/billing/checkout", controllers.HandleCreateCheckoutSession)
	authed.Post("/billing/portal", controllers.HandleCreatePortalSession)
	authed.Get("/chat", controllers.HandleChatHistory)
	authed.Post("/chat", controllers.HandleChatSend)
	authed.Get("/bookmarks", controllers.HandleBookmarkList)
	authed.Post("/bookmarks", controllers.HandleBookmarkCreate)
	authed.Delete("/bookmarks/:id", controllers.HandleBookmarkDelete)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
