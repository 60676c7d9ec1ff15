package billing

import (
	"context"
	"testing"

	stripe "github.com/stripe/stripe-go/v76"

	"github.com/chainpulse/console/internal/app/domain/user"
	"github.com/chainpulse/console/internal/app/storage/memory"
	"github.com/chainpulse/console/internal/cache"
)

type fakeGateway struct {
	listCalls     int
	findCalls     int
	customerCalls int
	sub           *stripe.Subscription
}

func (f *fakeGateway) ListPrices(ctx context.Context) ([]*stripe.Price, error) {
	f.listCalls++
	return []*stripe.Price{
		{
			ID:         "price_pro",
			Nickname:   "Pro",
			UnitAmount: 4900,
			Currency:   stripe.CurrencyUSD,
			Recurring:  &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalMonth},
			Metadata:   map[string]string{"request_quota": "1000000"},
		},
	}, nil
}

func (f *fakeGateway) FindSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	f.findCalls++
	return f.sub, nil
}

func (f *fakeGateway) CreateCustomer(ctx context.Context, email, name, userID string) (*stripe.Customer, error) {
	f.customerCalls++
	return &stripe.Customer{ID: "cus_123"}, nil
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{URL: "https://checkout.example/" + customerID + "/" + priceID}, nil
}

func (f *fakeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	return &stripe.BillingPortalSession{URL: "https://portal.example/" + customerID}, nil
}

func newBillingService(fg *fakeGateway) (*Service, *memory.Store, *cache.Cache) {
	store := memory.New()
	c := cache.New(cache.NewMemory(), nil)
	svc := NewService(fg, store, c, "https://console.example/billing", nil)
	return svc, store, c
}

func seedUser(t *testing.T, store *memory.Store, u user.User) user.User {
	t.Helper()
	created, err := store.CreateUser(context.Background(), u)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return created
}

func TestListPlans_CachedUntilInvalidated(t *testing.T) {
	fg := &fakeGateway{}
	svc, _, c := newBillingService(fg)

	plans, err := svc.ListPlans(context.Background())
	if err != nil {
		t.Fatalf("list plans: %v", err)
	}
	if len(plans) != 1 || plans[0].Name != "Pro" || plans[0].RequestQuota != 1000000 {
		t.Fatalf("unexpected plans: %+v", plans)
	}

	if _, err := svc.ListPlans(context.Background()); err != nil {
		t.Fatalf("second list: %v", err)
	}
	if fg.listCalls != 1 {
		t.Fatalf("provider hit %d times for cached catalog", fg.listCalls)
	}

	if _, err := c.Invalidate(context.Background(), TagPlans); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := svc.ListPlans(context.Background()); err != nil {
		t.Fatalf("third list: %v", err)
	}
	if fg.listCalls != 2 {
		t.Fatalf("expected refetch after invalidation, got %d calls", fg.listCalls)
	}
}

func TestGetSubscription_NoCustomerSkipsProvider(t *testing.T) {
	fg := &fakeGateway{}
	svc, store, _ := newBillingService(fg)
	u := seedUser(t, store, user.User{Email: "dev@example.com"})

	sub, err := svc.GetSubscription(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if sub != nil {
		t.Fatalf("expected nil subscription, got %+v", sub)
	}
	if fg.findCalls != 0 {
		t.Fatal("provider must not be called without a customer linkage")
	}
}

func TestGetSubscription_MapsProviderState(t *testing.T) {
	fg := &fakeGateway{
		sub: &stripe.Subscription{
			ID:                "sub_1",
			Status:            stripe.SubscriptionStatusActive,
			CurrentPeriodEnd:  1767225600,
			CancelAtPeriodEnd: true,
			Items: &stripe.SubscriptionItemList{
				Data: []*stripe.SubscriptionItem{{Price: &stripe.Price{ID: "price_pro"}}},
			},
		},
	}
	svc, store, _ := newBillingService(fg)
	u := seedUser(t, store, user.User{Email: "dev@example.com", StripeCustomerID: "cus_123"})

	sub, err := svc.GetSubscription(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if sub == nil || sub.Status != "active" || sub.PriceID != "price_pro" || !sub.CancelAtPeriodEnd {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
}

func TestCreateCheckout_LinksCustomerOnce(t *testing.T) {
	fg := &fakeGateway{}
	svc, store, _ := newBillingService(fg)
	u := seedUser(t, store, user.User{Email: "dev@example.com"})

	url, err := svc.CreateCheckout(context.Background(), u.ID, "price_pro", "https://ok", "https://cancel")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if url == "" {
		t.Fatal("expected a redirect url")
	}

	stored, err := store.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if stored.StripeCustomerID != "cus_123" {
		t.Fatalf("customer not linked: %+v", stored)
	}

	if _, err := svc.CreatePortal(context.Background(), u.ID); err != nil {
		t.Fatalf("portal: %v", err)
	}
	if fg.customerCalls != 1 {
		t.Fatalf("customer created %d times", fg.customerCalls)
	}
}

func TestCreateCheckout_RequiresPrice(t *testing.T) {
	fg := &fakeGateway{}
	svc, store, _ := newBillingService(fg)
	u := seedUser(t, store, user.User{Email: "dev@example.com"})

	if _, err := svc.CreateCheckout(context.Background(), u.ID, "", "https://ok", "https://cancel"); err == nil {
		t.Fatal("expected validation error")
	}
}
