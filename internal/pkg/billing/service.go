package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"gorm.io/gorm"

	"github.com/regscout/regscout/app/models"
	"github.com/regscout/regscout/internal/pkg/entitlements"
)

// Business errors surfaced by the billing service.
var (
	ErrCustomerNotFound = errors.New("no customer mapping for stripe customer")
	ErrEmptyEvent       = errors.New("subscription event carries no subscription")
)

// Notifier publishes a "subscription data changed" cue after every store
// mutation. The cue carries no payload; consumers re-fetch and re-derive.
type Notifier interface {
	Publish(ctx context.Context) error
}

// Service is the sole authoritative writer of subscription records. It
// translates verified provider events into idempotent store mutations and
// answers entitlement queries for the rest of the application.
type Service struct {
	repo     Repository
	notifier Notifier
}

// NewService creates a billing service from an injected repository. The
// notifier may be nil when no push channel is wired (tests, one-shot tools).
func NewService(repo Repository, notifier Notifier) *Service {
	return &Service{repo: repo, notifier: notifier}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, notifier Notifier) *Service {
	return NewService(NewRepository(db), notifier)
}

// EntitlementForUser derives the caller's entitlement from the authoritative
// subscription record. Absence of a record is not an error: it derives to
// the deny-by-default entitlement.
func (s *Service) EntitlementForUser(ctx context.Context, userID uint) (entitlements.Entitlement, error) {
	_ = ctx
	sub, err := s.repo.LatestSubscriptionByUser(userID)
	if err != nil {
		return entitlements.None, err
	}
	if sub == nil {
		return entitlements.None, nil
	}
	return entitlements.Derive(sub.Status), nil
}

// ApplySubscriptionEvent upserts the subscription carried by a verified
// customer.subscription.* event. The upsert is keyed by the provider
// subscription id, so redelivery of the same event rewrites the same row.
// Returns ErrCustomerNotFound when the event's customer has no local mapping.
func (s *Service) ApplySubscriptionEvent(ctx context.Context, sub *stripe.Subscription, rawPayload []byte) (*models.Subscription, error) {
	if sub == nil || sub.ID == "" || sub.Customer == nil || sub.Customer.ID == "" {
		return nil, ErrEmptyEvent
	}

	customer, err := s.repo.GetCustomerByStripeID(sub.Customer.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}

	record := &models.Subscription{
		ID:                 sub.ID,
		UserID:             customer.UserID,
		Status:             string(sub.Status),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CancelAt:           unixTime(sub.CancelAt),
		CanceledAt:         unixTime(sub.CanceledAt),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		Created:            unixTime(sub.Created),
		EndedAt:            unixTime(sub.EndedAt),
		TrialStart:         unixTime(sub.TrialStart),
		TrialEnd:           unixTime(sub.TrialEnd),
		RawPayloadJSON:     string(rawPayload),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			record.PriceID = item.Price.ID
		}
		record.Quantity = item.Quantity
	}

	if err := s.repo.UpsertSubscription(record); err != nil {
		return nil, err
	}

	s.notifyChanged(ctx)
	return record, nil
}

// RecordWebhookEvent persists webhook payloads idempotently. Events without
// a provider event id fall back to a payload hash as the dedup key.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

func (s *Service) notifyChanged(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx); err != nil {
		// The cue is a hint, not a snapshot; clients re-fetch on their own
		// schedule, so a lost publish degrades freshness, not correctness.
		log.Printf("billing: change notification failed: %v", err)
	}
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
