package controllers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/regscout/regscout/app/models"
	"github.com/regscout/regscout/internal/pkg/billing"
)

const webhookTestSecret = "whsec_controller_test"

// stubRepository is an in-memory billing.Repository for handler tests.
type stubRepository struct {
	mu            sync.Mutex
	customers     map[string]*models.Customer
	subscriptions map[string]*models.Subscription
	webhookEvents map[string]*models.WebhookEvent
	nextID        uint
	upsertErr     error
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		customers:     make(map[string]*models.Customer),
		subscriptions: make(map[string]*models.Subscription),
		webhookEvents: make(map[string]*models.WebhookEvent),
	}
}

func (r *stubRepository) addCustomer(userID uint, stripeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.customers[stripeID] = &models.Customer{ID: r.nextID, UserID: userID, StripeCustomerID: stripeID}
}

func (r *stubRepository) GetCustomerByUserID(userID uint) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.UserID == userID {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubRepository) GetCustomerByStripeID(stripeCustomerID string) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.customers[stripeCustomerID]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubRepository) CreateCustomer(customer *models.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	customer.ID = r.nextID
	r.customers[customer.StripeCustomerID] = customer
	return nil
}

func (r *stubRepository) setUpsertErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertErr = err
}

func (r *stubRepository) UpsertSubscription(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	copied := *sub
	r.subscriptions[sub.ID] = &copied
	return nil
}

func (r *stubRepository) LatestSubscriptionByUser(userID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subscriptions {
		if sub.UserID == userID {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *stubRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := r.webhookEvents[key]; ok {
		copied := *existing
		return false, &copied, nil
	}
	r.nextID++
	event.ID = r.nextID
	copied := *event
	r.webhookEvents[key] = &copied
	stored := copied
	return true, &stored, nil
}

func (r *stubRepository) MarkWebhookProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.webhookEvents {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *stubRepository) webhookEventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.webhookEvents)
}

func (r *stubRepository) subscription(id string) *models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subscriptions[id]; ok {
		copied := *sub
		return &copied
	}
	return nil
}

func signWebhookPayload(payload []byte, secret string) string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func subscriptionEventPayload(eventID, eventType, subID, customerID, status string) []byte {
	object := map[string]interface{}{
		"id":       subID,
		"object":   "subscription",
		"customer": customerID,
		"status":   status,
		"created":  1700000000,
		"items": map[string]interface{}{
			"data": []map[string]interface{}{
				{"price": map[string]string{"id": "price_pro_monthly"}, "quantity": 1},
			},
		},
	}
	raw, _ := json.Marshal(object)
	payload, _ := json.Marshal(map[string]interface{}{
		"id":   eventID,
		"type": eventType,
		"data": map[string]json.RawMessage{"object": raw},
	})
	return payload
}

func newWebhookTestApp(t *testing.T, repo *stubRepository) *fiber.App {
	t.Helper()
	t.Setenv("STRIPE_WEBHOOK_SECRET", webhookTestSecret)

	InitializeBillingController(billing.NewService(repo, nil), billing.NewGateway(repo))

	app := fiber.New()
	app.Post("/webhooks/stripe", HandleStripeWebhook)
	return app
}

func postWebhook(t *testing.T, app *fiber.App, payload []byte, signature string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("stripe-signature", signature)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var body map[string]interface{}
	data, _ := io.ReadAll(resp.Body)
	json.Unmarshal(data, &body)
	return resp, body
}

func TestStripeWebhookAppliesSubscription(t *testing.T) {
	repo := newStubRepository()
	repo.addCustomer(42, "cus_42")
	app := newWebhookTestApp(t, repo)

	payload := subscriptionEventPayload("evt_1", "customer.subscription.updated", "sub_42", "cus_42", "active")
	resp, body := postWebhook(t, app, payload, signWebhookPayload(payload, webhookTestSecret))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["received"])

	stored := repo.subscription("sub_42")
	require.NotNil(t, stored)
	assert.Equal(t, uint(42), stored.UserID)
	assert.Equal(t, "active", stored.Status)
	assert.Equal(t, "price_pro_monthly", stored.PriceID)
}

func TestStripeWebhookRejectsMissingSignature(t *testing.T) {
	repo := newStubRepository()
	app := newWebhookTestApp(t, repo)

	payload := subscriptionEventPayload("evt_nosig", "customer.subscription.updated", "sub_1", "cus_1", "active")
	resp, _ := postWebhook(t, app, payload, "")

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, repo.webhookEventCount(), "an unsigned delivery must not touch the store")
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	repo := newStubRepository()
	app := newWebhookTestApp(t, repo)

	payload := subscriptionEventPayload("evt_forged", "customer.subscription.updated", "sub_1", "cus_1", "active")
	resp, _ := postWebhook(t, app, payload, signWebhookPayload(payload, "whsec_wrong"))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, repo.webhookEventCount(), "a forged delivery must not touch the store")
	assert.Nil(t, repo.subscription("sub_1"))
}

func TestStripeWebhookDuplicateDelivery(t *testing.T) {
	repo := newStubRepository()
	repo.addCustomer(7, "cus_7")
	app := newWebhookTestApp(t, repo)

	payload := subscriptionEventPayload("evt_dup", "customer.subscription.updated", "sub_7", "cus_7", "active")
	signature := signWebhookPayload(payload, webhookTestSecret)

	resp, _ := postWebhook(t, app, payload, signature)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := postWebhook(t, app, payload, signature)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["duplicate"], "redelivery acknowledges without reprocessing")
	assert.Equal(t, 1, repo.webhookEventCount())
}

func TestStripeWebhookRedeliveryAfterTransientFailure(t *testing.T) {
	repo := newStubRepository()
	repo.addCustomer(11, "cus_11")
	app := newWebhookTestApp(t, repo)

	payload := subscriptionEventPayload("evt_retry", "customer.subscription.deleted", "sub_11", "cus_11", "canceled")
	signature := signWebhookPayload(payload, webhookTestSecret)

	// First attempt records the event but the upsert fails; 500 tells the
	// provider to redeliver.
	repo.setUpsertErr(errors.New("connection refused"))
	resp, _ := postWebhook(t, app, payload, signature)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Nil(t, repo.subscription("sub_11"))
	assert.Equal(t, 1, repo.webhookEventCount())

	// The redelivery finds the recorded-but-unapplied event and must process
	// it, not acknowledge it as a duplicate.
	repo.setUpsertErr(nil)
	resp, body := postWebhook(t, app, payload, signature)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, true, body["duplicate"])

	stored := repo.subscription("sub_11")
	require.NotNil(t, stored)
	assert.Equal(t, models.SubscriptionStatusCanceled, stored.Status)
	assert.Equal(t, 1, repo.webhookEventCount())

	// A third delivery after the successful apply is a true duplicate.
	resp, body = postWebhook(t, app, payload, signature)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["duplicate"])
}

func TestStripeWebhookIgnoresUnhandledEventTypes(t *testing.T) {
	repo := newStubRepository()
	app := newWebhookTestApp(t, repo)

	payload, _ := json.Marshal(map[string]interface{}{
		"id":   "evt_invoice",
		"type": "invoice.paid",
		"data": map[string]interface{}{"object": map[string]string{"id": "in_1"}},
	})
	resp, body := postWebhook(t, app, payload, signWebhookPayload(payload, webhookTestSecret))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ignored"])
	assert.Equal(t, 1, repo.webhookEventCount(), "ignored events are still recorded for audit")
}

func TestStripeWebhookUnknownCustomer(t *testing.T) {
	repo := newStubRepository()
	app := newWebhookTestApp(t, repo)

	payload := subscriptionEventPayload("evt_orphan", "customer.subscription.updated", "sub_x", "cus_unknown", "active")
	resp, _ := postWebhook(t, app, payload, signWebhookPayload(payload, webhookTestSecret))

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Nil(t, repo.subscription("sub_x"))

	stored := repo.webhookEvents["stripe/evt_orphan"]
	require.NotNil(t, stored, "the delivery is recorded even when it cannot be applied")
	assert.NotEmpty(t, stored.ProcessingError)
}

func TestStripeWebhookDeletedEventCancels(t *testing.T) {
	repo := newStubRepository()
	repo.addCustomer(9, "cus_9")
	app := newWebhookTestApp(t, repo)

	created := subscriptionEventPayload("evt_c", "customer.subscription.created", "sub_9", "cus_9", "active")
	resp, _ := postWebhook(t, app, created, signWebhookPayload(created, webhookTestSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	deleted := subscriptionEventPayload("evt_d", "customer.subscription.deleted", "sub_9", "cus_9", "canceled")
	resp, _ = postWebhook(t, app, deleted, signWebhookPayload(deleted, webhookTestSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored := repo.subscription("sub_9")
	require.NotNil(t, stored)
	assert.Equal(t, models.SubscriptionStatusCanceled, stored.Status, "deletion keeps the row with its final state")
}
