package billing

import (
	"context"
	"errors"
	"strconv"

	"github.com/stripe/stripe-go/v78"
	portalsession "github.com/stripe/stripe-go/v78/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v78/checkout/session"
	"github.com/stripe/stripe-go/v78/customer"
	"github.com/stripe/stripe-go/v78/webhook"
	"gorm.io/gorm"

	"github.com/regscout/regscout/app/models"
	"github.com/regscout/regscout/internal/pkg/env"
)

// SetupStripe configures the Stripe SDK from the environment. Must run once
// before any gateway call.
func SetupStripe() {
	stripe.Key = env.GetEnv("STRIPE_SECRET_KEY", "")
}

// Gateway exchanges a user identity plus plan selection for hosted Stripe
// redirect URLs. It is stateless aside from the lazy customer mapping it
// persists on first use.
type Gateway struct {
	repo Repository
}

// NewGateway creates a checkout/portal gateway from an injected repository.
func NewGateway(repo Repository) *Gateway {
	return &Gateway{repo: repo}
}

// NewGatewayFromDB creates a gateway from a GORM DB handle.
func NewGatewayFromDB(db *gorm.DB) *Gateway {
	return NewGateway(NewRepository(db))
}

// CreateCheckoutSession returns a hosted checkout URL for the given user and
// price. A Stripe customer is created and mapped on first use.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, user *models.User, priceID, successURL, cancelURL string) (string, error) {
	stripeCustomerID, err := g.ensureCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(stripeCustomerID),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

// CreatePortalSession returns a hosted billing-portal URL. Unlike checkout,
// the portal requires an existing customer mapping: a user who never bought
// anything has nothing to manage, so this returns ErrCustomerNotFound.
func (g *Gateway) CreatePortalSession(ctx context.Context, userID uint, returnURL string) (string, error) {
	mapping, err := g.repo.GetCustomerByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrCustomerNotFound
		}
		return "", err
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(mapping.StripeCustomerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := portalsession.New(params)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

func (g *Gateway) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	mapping, err := g.repo.GetCustomerByUserID(user.ID)
	if err == nil {
		return mapping.StripeCustomerID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	params := &stripe.CustomerParams{
		Name:  stripe.String(user.Name),
		Email: stripe.String(user.Email),
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatUint(uint64(user.ID), 10))

	c, err := customer.New(params)
	if err != nil {
		return "", err
	}

	if err := g.repo.CreateCustomer(&models.Customer{
		UserID:           user.ID,
		StripeCustomerID: c.ID,
	}); err != nil {
		return "", err
	}
	return c.ID, nil
}

// VerifyWebhookEvent verifies the stripe-signature header against the shared
// secret and parses the event. API version drift between Stripe and the
// pinned SDK is tolerated; the signature check is not.
func VerifyWebhookEvent(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
