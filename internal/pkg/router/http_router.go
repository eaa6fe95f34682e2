package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/regscout/regscout/app/controllers"
	"github.com/regscout/regscout/internal/pkg/assistant"
	"github.com/regscout/regscout/internal/pkg/billing"
	"github.com/regscout/regscout/internal/pkg/cache"
	"github.com/regscout/regscout/internal/pkg/database"
	"github.com/regscout/regscout/internal/pkg/middleware"
	"github.com/regscout/regscout/internal/pkg/realtime"
	"github.com/regscout/regscout/internal/pkg/session"
)

type HttpRouter struct {
}

// entitlementHub is shared with the API router for the websocket route.
var entitlementHub *realtime.Hub

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	// Billing wiring: the webhook ingestor publishes change cues on the
	// Redis feed; every open sync session re-fetches on a cue.
	feed := realtime.NewRedisFeed(cache.GetClient())
	svc := billing.NewServiceFromDB(database.GetDB(), feed)
	gw := billing.NewGatewayFromDB(database.GetDB())
	entitlementHub = realtime.NewHub(svc, feed)

	controllers.InitializeBillingController(svc, gw)
	controllers.InitializeChatController(assistant.NewFromEnv())

	// Webhook endpoint lives outside the session-authenticated API group:
	// the caller is the payment provider, authenticated by signature.
	app.Post("/webhooks/stripe", controllers.HandleStripeWebhook)

	// Entitlement push channel
	app.Get("/ws/entitlements", entitlementHub.UpgradeMiddleware, entitlementHub.Handler())

	// Auth routes
	auth := app.Group("/auth")
	auth.Post("/register", controllers.HandleAuthRegister)
	auth.Post("/login", controllers.HandleAuthLogin)
	auth.Post("/logout", controllers.HandleAuthLogout)
	auth.Get("/me", controllers.HandleAuthMe)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
