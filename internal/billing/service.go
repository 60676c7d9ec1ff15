// Package billing fronts the payment provider: plan listing, subscription
// state, and checkout/portal session creation.
package billing

import (
	"context"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v76"

	"github.com/chainpulse/console/internal/apperr"
	domain "github.com/chainpulse/console/internal/app/domain/billing"
	"github.com/chainpulse/console/internal/app/storage"
	"github.com/chainpulse/console/internal/cache"
	"github.com/chainpulse/console/pkg/logger"
)

// TagPlans invalidates the cached plan catalog.
const TagPlans = "billing-plans"

// Tag scopes invalidation to one user's billing state.
func Tag(userID string) string { return cache.Tag("billing", userID) }

// Service exposes the billing page operations.
type Service struct {
	gateway      Gateway
	users        storage.UserStore
	cache        *cache.Cache
	portalReturn string
	log          *logger.Logger
}

func NewService(gateway Gateway, users storage.UserStore, c *cache.Cache, portalReturn string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		gateway:      gateway,
		users:        users,
		cache:        c,
		portalReturn: portalReturn,
		log:          log,
	}
}

// ListPlans returns the purchasable plans. The catalog changes rarely and is
// cached on the long tier.
func (s *Service) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	key := cache.BuildKey("billing-plans", "", nil)
	opts := cache.Options{TTL: cache.TTLLong, Tags: []string{TagPlans}}
	return cache.Fetch(ctx, s.cache, key, opts, func(ctx context.Context) ([]domain.Plan, error) {
		prices, err := s.gateway.ListPrices(ctx)
		if err != nil {
			return nil, err
		}
		plans := make([]domain.Plan, 0, len(prices))
		for _, p := range prices {
			plans = append(plans, planFromPrice(p))
		}
		return plans, nil
	})
}

// GetSubscription returns the user's current subscription, or nil when the
// user has never checked out.
func (s *Service) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.StripeCustomerID == "" {
		return nil, nil
	}

	key := cache.BuildKey("billing-sub", userID, nil)
	opts := cache.Options{TTL: cache.TTLShort, Tags: []string{Tag(userID)}}
	return cache.Fetch(ctx, s.cache, key, opts, func(ctx context.Context) (*domain.Subscription, error) {
		sub, err := s.gateway.FindSubscription(ctx, u.StripeCustomerID)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			return nil, nil
		}
		return subscriptionFromStripe(sub), nil
	})
}

// CreateCheckout opens a checkout session for the given price and returns
// its redirect URL. The provider customer is created on first use.
func (s *Service) CreateCheckout(ctx context.Context, userID, priceID, successURL, cancelURL string) (string, error) {
	if priceID == "" {
		return "", apperr.NewValidationError("price_id", "is required")
	}
	customerID, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, customerID, priceID, successURL, cancelURL)
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// CreatePortal opens a customer portal session and returns its URL.
func (s *Service) CreatePortal(ctx context.Context, userID string) (string, error) {
	customerID, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return "", err
	}
	session, err := s.gateway.CreatePortalSession(ctx, customerID, s.portalReturn)
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// ensureCustomer returns the user's provider customer id, creating the
// customer and persisting the linkage on first use.
func (s *Service) ensureCustomer(ctx context.Context, userID string) (string, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.StripeCustomerID != "" {
		return u.StripeCustomerID, nil
	}

	customer, err := s.gateway.CreateCustomer(ctx, u.Email, u.Name, u.ID)
	if err != nil {
		return "", err
	}
	u.StripeCustomerID = customer.ID
	if _, err := s.users.UpdateUser(ctx, u); err != nil {
		return "", apperr.WrapServiceError("billing", "link_customer", err)
	}
	return customer.ID, nil
}

func planFromPrice(p *stripe.Price) domain.Plan {
	plan := domain.Plan{
		ID:          p.ID,
		PriceID:     p.ID,
		AmountCents: p.UnitAmount,
		Currency:    string(p.Currency),
	}
	if p.Nickname != "" {
		plan.Name = p.Nickname
	} else if p.Product != nil {
		plan.Name = p.Product.Name
	}
	if p.Recurring != nil {
		plan.Interval = string(p.Recurring.Interval)
	}
	if quota, ok := p.Metadata["request_quota"]; ok {
		if n, err := strconv.ParseInt(quota, 10, 64); err == nil {
			plan.RequestQuota = n
		}
	}
	return plan
}

func subscriptionFromStripe(sub *stripe.Subscription) *domain.Subscription {
	out := &domain.Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CurrentPeriodEnd:  time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	return out
}
