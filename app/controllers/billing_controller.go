package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v78"

	"github.com/regscout/regscout/app/models"
	"github.com/regscout/regscout/internal/pkg/billing"
	"github.com/regscout/regscout/internal/pkg/database"
	"github.com/regscout/regscout/internal/pkg/entitlements"
	"github.com/regscout/regscout/internal/pkg/env"
	"github.com/regscout/regscout/internal/pkg/usercontext"
)

var (
	billingService *billing.Service
	billingGateway *billing.Gateway
)

// InitializeBillingController wires the billing service and gateway used by
// the billing routes.
func InitializeBillingController(svc *billing.Service, gw *billing.Gateway) {
	billingService = svc
	billingGateway = gw
}

type checkoutRequest struct {
	PriceID    string `json:"price_id" validate:"required"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"required,url"`
}

type portalRequest struct {
	ReturnURL string `json:"return_url" validate:"required,url"`
}

// HandleStripeWebhook ingests payment-provider events. It is the only write
// path into the subscription table. Signature verification happens before
// anything touches the store; an unverifiable delivery is rejected outright
// so the provider stops retrying it.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("stripe-signature"))
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	if signature == "" {
		return jsonError(c, fiber.StatusBadRequest, "missing_signature", "no stripe-signature header")
	}

	event, err := billing.VerifyWebhookEvent(rawBody, signature, secret)
	if err != nil {
		log.Printf("webhook signature verification failed: %v", err)
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "signature verification failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, stored, err := billingService.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "webhook_persist_failed", "could not record event")
	}
	if !created {
		// Only a delivery that was fully applied is a true duplicate. A row
		// recorded by an earlier attempt that then failed (500, provider
		// redelivers) must be processed now, or its state change is lost.
		if stored.ProcessedAt != nil && stored.ProcessingError == "" {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true})
		}
	}

	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":
		// handled below
	default:
		_ = billingService.MarkWebhookProcessed(ctx, stored.ID, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "ignored": true})
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		_ = billingService.MarkWebhookProcessed(ctx, stored.ID, err)
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "event payload is not a subscription")
	}

	_, applyErr := billingService.ApplySubscriptionEvent(ctx, &sub, rawBody)
	_ = billingService.MarkWebhookProcessed(ctx, stored.ID, applyErr)
	if applyErr != nil {
		if errors.Is(applyErr, billing.ErrCustomerNotFound) {
			return jsonError(c, fiber.StatusNotFound, "customer_not_found", "no local account for stripe customer")
		}
		if errors.Is(applyErr, billing.ErrEmptyEvent) {
			return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "subscription event is incomplete")
		}
		return jsonError(c, fiber.StatusInternalServerError, "subscription_sync_failed", "could not apply subscription event")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}

// HandleCreateCheckoutSession exchanges the caller's identity and a price
// selection for a hosted checkout redirect URL.
func HandleCreateCheckoutSession(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "login required")
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	user, err := models.FindUserByID(database.GetDB(), userCtx.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "user_lookup_failed", "could not load user")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	url, err := billingGateway.CreateCheckoutSession(ctx, user, req.PriceID, req.SuccessURL, req.CancelURL)
	if err != nil {
		log.Printf("checkout session for user %d failed: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusBadGateway, "checkout_failed", "could not create checkout session")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"url": url})
}

// HandleCreatePortalSession exchanges the caller's identity for a hosted
// billing-portal redirect URL. 404 when the user never had a subscription.
func HandleCreatePortalSession(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "login required")
	}

	var req portalRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	url, err := billingGateway.CreatePortalSession(ctx, userCtx.UserID, req.ReturnURL)
	if err != nil {
		if errors.Is(err, billing.ErrCustomerNotFound) {
			return jsonError(c, fiber.StatusNotFound, "customer_not_found", "no billing account for this user")
		}
		log.Printf("portal session for user %d failed: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusBadGateway, "portal_failed", "could not create portal session")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"url": url})
}

// HandleSubscriptionStatus returns the caller's current entitlement. This is
// the fetch target clients hit after a push cue. Store errors resolve to the
// deny-by-default entitlement instead of failing the request.
func HandleSubscriptionStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "login required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ent, err := billingService.EntitlementForUser(ctx, userCtx.UserID)
	if err != nil {
		log.Printf("entitlement fetch for user %d failed: %v", userCtx.UserID, err)
		ent = entitlements.None
	}

	return c.Status(fiber.StatusOK).JSON(ent)
}
