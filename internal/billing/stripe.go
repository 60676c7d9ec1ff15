package billing

import (
	"context"
	"net/http"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/chainpulse/console/internal/apperr"
)

// Gateway is the slice of the payment provider the service needs.
type Gateway interface {
	ListPrices(ctx context.Context) ([]*stripe.Price, error)
	FindSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error)
	CreateCustomer(ctx context.Context, email, name, userID string) (*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error)
}

// stripeGateway adapts the Stripe SDK client.
type stripeGateway struct {
	api *client.API
}

// NewGateway builds a Stripe-backed gateway. httpClient may carry retry and
// circuit-breaker behavior; nil uses the SDK default.
func NewGateway(secretKey string, httpClient *http.Client) Gateway {
	api := &client.API{}
	if httpClient != nil {
		api.Init(secretKey, stripe.NewBackends(httpClient))
	} else {
		api.Init(secretKey, nil)
	}
	return &stripeGateway{api: api}
}

func (g *stripeGateway) ListPrices(ctx context.Context) ([]*stripe.Price, error) {
	params := &stripe.PriceListParams{
		Active: stripe.Bool(true),
	}
	params.Context = ctx
	params.AddExpand("data.product")

	var prices []*stripe.Price
	it := g.api.Prices.List(params)
	for it.Next() {
		prices = append(prices, it.Price())
	}
	if err := it.Err(); err != nil {
		return nil, apperr.WrapServiceError("billing", "list_prices", err)
	}
	return prices, nil
}

// FindSubscription returns the customer's current subscription, or nil when
// the customer has none.
func (g *stripeGateway) FindSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	it := g.api.Subscriptions.List(params)
	for it.Next() {
		return it.Subscription(), nil
	}
	if err := it.Err(); err != nil {
		return nil, apperr.WrapServiceError("billing", "find_subscription", err)
	}
	return nil, nil
}

func (g *stripeGateway) CreateCustomer(ctx context.Context, email, name, userID string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)

	c, err := g.api.Customers.New(params)
	if err != nil {
		return nil, apperr.WrapServiceError("billing", "create_customer", err)
	}
	return c, nil
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
	}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, apperr.WrapServiceError("billing", "create_checkout", err)
	}
	return s, nil
}

func (g *stripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	s, err := g.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, apperr.WrapServiceError("billing", "create_portal", err)
	}
	return s, nil
}
