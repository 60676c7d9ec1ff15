package billing

import (
	"context"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/tidwall/gjson"

	"github.com/chainpulse/console/internal/apperr"
	"github.com/chainpulse/console/internal/app/storage"
	"github.com/chainpulse/console/internal/cache"
	"github.com/chainpulse/console/pkg/logger"
)

// signatureTolerance bounds how stale a webhook timestamp may be before the
// delivery is treated as a replay.
const signatureTolerance = 5 * time.Minute

// WebhookProcessor verifies and applies payment-provider webhook events.
// Subscription changes drop the affected user's cached billing state so the
// dashboard reflects the provider without waiting out the TTL.
type WebhookProcessor struct {
	secret string
	users  storage.UserStore
	cache  *cache.Cache
	log    *logger.Logger
}

func NewWebhookProcessor(secret string, users storage.UserStore, c *cache.Cache, log *logger.Logger) *WebhookProcessor {
	if log == nil {
		log = logger.Nop()
	}
	return &WebhookProcessor{
		secret: secret,
		users:  users,
		cache:  c,
		log:    log,
	}
}

// Handle verifies the signature header and applies the event.
func (p *WebhookProcessor) Handle(ctx context.Context, payload []byte, sigHeader string) error {
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, p.secret, signatureTolerance); err != nil {
		return apperr.NewValidationError("signature", err.Error())
	}

	eventType := gjson.GetBytes(payload, "type").String()
	switch {
	case strings.HasPrefix(eventType, "customer.subscription."):
		return p.applySubscriptionChange(ctx, payload, eventType)
	case strings.HasPrefix(eventType, "price.") || strings.HasPrefix(eventType, "product."):
		if _, err := p.cache.Invalidate(ctx, TagPlans); err != nil {
			return apperr.WrapServiceError("billing", "invalidate_plans", err)
		}
		p.log.WithField("event", eventType).Info("plan catalog invalidated")
		return nil
	default:
		p.log.WithField("event", eventType).Debug("webhook event ignored")
		return nil
	}
}

func (p *WebhookProcessor) applySubscriptionChange(ctx context.Context, payload []byte, eventType string) error {
	customerID := gjson.GetBytes(payload, "data.object.customer").String()
	if customerID == "" {
		return apperr.NewValidationError("data.object.customer", "is missing")
	}

	u, err := p.users.GetUserByStripeCustomerID(ctx, customerID)
	if apperr.IsNotFound(err) {
		// Customers created outside the dashboard have no local account.
		p.log.WithField("customer", customerID).Warn("webhook for unknown customer")
		return nil
	}
	if err != nil {
		return apperr.WrapServiceError("billing", "webhook_lookup", err)
	}

	if _, err := p.cache.Invalidate(ctx, Tag(u.ID)); err != nil {
		return apperr.WrapServiceError("billing", "invalidate_subscription", err)
	}
	p.log.WithField("event", eventType).WithField("user_id", u.ID).Info("billing cache invalidated")
	return nil
}
