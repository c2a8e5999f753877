package dummygw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/billing"
)

// Gateway is an in-memory billing.Gateway for tests and local dev.
// Every mutation is recorded so tests can assert on the calls made.
type Gateway struct {
	mu sync.Mutex

	customers     map[string]billing.Customer
	subscriptions map[string]billing.Subscription
	invoices      map[string]billing.Invoice
	prices        []billing.Price

	custCount int
	subCount  int
	invCount  int

	// Err, when set, is returned (wrapped) by every call.
	Err error

	// NextEvent is what VerifyEvent hands back for a valid signature.
	NextEvent billing.Event

	CanceledSubscriptions []string
	VoidedInvoices        []string
}

var _ billing.Gateway = (*Gateway)(nil)

func NewGateway() *Gateway {
	return &Gateway{
		customers:     make(map[string]billing.Customer),
		subscriptions: make(map[string]billing.Subscription),
		invoices:      make(map[string]billing.Invoice),
	}
}

// SeedPrices sets the catalog returned by ListPrices.
func (g *Gateway) SeedPrices(prices ...billing.Price) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices = prices
}

// SeedSubscription registers an existing subscription.
func (g *Gateway) SeedSubscription(sub billing.Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscriptions[sub.ID] = sub
}

// SeedInvoice registers an existing invoice.
func (g *Gateway) SeedInvoice(inv billing.Invoice) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invoices[inv.ID] = inv
}

func (g *Gateway) CreateCustomer(_ context.Context, email, name, memo string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return "", billing.NewProviderError("create customer", g.Err)
	}
	g.custCount++
	id := fmt.Sprintf("cus_%03d", g.custCount)
	g.customers[id] = billing.Customer{ID: id, Email: email, Name: name}
	_ = memo
	return id, nil
}

func (g *Gateway) UpdateCustomer(_ context.Context, customerID string, fields billing.CustomerFields) (billing.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return billing.Customer{}, billing.NewProviderError("update customer", g.Err)
	}
	c, ok := g.customers[customerID]
	if !ok {
		c = billing.Customer{ID: customerID}
	}
	if fields.Email != "" {
		c.Email = fields.Email
	}
	if fields.Name != "" {
		c.Name = fields.Name
	}
	g.customers[customerID] = c
	return c, nil
}

func (g *Gateway) CreateSubscription(_ context.Context, customerID, priceID string, quantity int64) (billing.SubscriptionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return billing.SubscriptionResult{}, billing.NewProviderError("create subscription", g.Err)
	}
	g.subCount++
	g.invCount++
	sub := billing.Subscription{
		ID:               fmt.Sprintf("sub_%03d", g.subCount),
		CustomerID:       customerID,
		PriceID:          priceID,
		Status:           billing.SubscriptionActive,
		Quantity:         quantity,
		CurrentPeriodEnd: time.Now().AddDate(0, 1, 0).UTC(),
	}
	inv := billing.Invoice{
		ID:             fmt.Sprintf("in_%03d", g.invCount),
		SubscriptionID: sub.ID,
		Status:         billing.InvoiceDraft,
		AmountDue:      1000 * quantity,
	}
	g.subscriptions[sub.ID] = sub
	g.invoices[inv.ID] = inv
	return billing.SubscriptionResult{Subscription: sub, Invoice: inv}, nil
}

func (g *Gateway) UpdateSubscriptionQuantity(_ context.Context, subscriptionID, priceID string, quantity int64) (billing.SubscriptionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return billing.SubscriptionResult{}, billing.NewProviderError("update subscription quantity", g.Err)
	}
	sub, ok := g.subscriptions[subscriptionID]
	if !ok {
		return billing.SubscriptionResult{}, fmt.Errorf("no such subscription: %s", subscriptionID)
	}
	sub.PriceID = priceID
	sub.Quantity = quantity
	g.subscriptions[subscriptionID] = sub

	g.invCount++
	inv := billing.Invoice{
		ID:             fmt.Sprintf("in_%03d", g.invCount),
		SubscriptionID: sub.ID,
		Status:         billing.InvoiceDraft,
		AmountDue:      1000 * quantity,
	}
	g.invoices[inv.ID] = inv
	return billing.SubscriptionResult{Subscription: sub, Invoice: inv}, nil
}

func (g *Gateway) RetrieveSubscription(_ context.Context, subscriptionID string) (billing.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return billing.Subscription{}, billing.NewProviderError("retrieve subscription", g.Err)
	}
	sub, ok := g.subscriptions[subscriptionID]
	if !ok {
		return billing.Subscription{}, fmt.Errorf("no such subscription: %s", subscriptionID)
	}
	return sub, nil
}

func (g *Gateway) ListSubscriptions(_ context.Context, customerID string) ([]billing.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, billing.NewProviderError("list subscriptions", g.Err)
	}
	var subs []billing.Subscription
	for _, sub := range g.subscriptions {
		if sub.CustomerID == customerID {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (g *Gateway) CancelSubscription(_ context.Context, subscriptionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return billing.NewProviderError("cancel subscription", g.Err)
	}
	sub, ok := g.subscriptions[subscriptionID]
	if !ok {
		return fmt.Errorf("no such subscription: %s", subscriptionID)
	}
	sub.Status = billing.SubscriptionCanceled
	g.subscriptions[subscriptionID] = sub
	g.CanceledSubscriptions = append(g.CanceledSubscriptions, subscriptionID)
	return nil
}

func (g *Gateway) RetrieveInvoice(_ context.Context, invoiceID string) (billing.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return billing.Invoice{}, billing.NewProviderError("retrieve invoice", g.Err)
	}
	inv, ok := g.invoices[invoiceID]
	if !ok {
		return billing.Invoice{}, fmt.Errorf("no such invoice: %s", invoiceID)
	}
	return inv, nil
}

func (g *Gateway) FinalizeInvoice(_ context.Context, invoiceID string) (billing.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return billing.Invoice{}, billing.NewProviderError("finalize invoice", g.Err)
	}
	inv, ok := g.invoices[invoiceID]
	if !ok {
		return billing.Invoice{}, fmt.Errorf("no such invoice: %s", invoiceID)
	}
	if inv.Status == billing.InvoiceDraft {
		inv.Status = billing.InvoiceOpen
		inv.HostedInvoiceURL = "https://pay.example.com/" + inv.ID
		g.invoices[invoiceID] = inv
	}
	return inv, nil
}

func (g *Gateway) VoidInvoice(_ context.Context, invoiceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return billing.NewProviderError("void invoice", g.Err)
	}
	inv, ok := g.invoices[invoiceID]
	if !ok {
		return fmt.Errorf("no such invoice: %s", invoiceID)
	}
	inv.Status = billing.InvoiceVoid
	g.invoices[invoiceID] = inv
	g.VoidedInvoices = append(g.VoidedInvoices, invoiceID)
	return nil
}

func (g *Gateway) ListOpenInvoices(_ context.Context, subscriptionID string) ([]billing.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, billing.NewProviderError("list open invoices", g.Err)
	}
	var invs []billing.Invoice
	for _, inv := range g.invoices {
		if inv.SubscriptionID == subscriptionID && inv.Status == billing.InvoiceOpen {
			invs = append(invs, inv)
		}
	}
	return invs, nil
}

func (g *Gateway) ListPrices(_ context.Context) ([]billing.Price, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, billing.NewProviderError("list prices", g.Err)
	}
	return append([]billing.Price(nil), g.prices...), nil
}

func (g *Gateway) CreateBillingPortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return "", billing.NewProviderError("create billing portal session", g.Err)
	}
	return "https://portal.example.com/" + customerID, nil
}

// VerifyEvent accepts any payload whose signature equals "valid".
func (g *Gateway) VerifyEvent(_ context.Context, payload []byte, signature string) (billing.Event, error) {
	if g.Err != nil {
		return nil, billing.NewProviderError("verify event", g.Err)
	}
	if signature != "valid" {
		return nil, billing.ErrSignatureInvalid
	}
	if g.NextEvent == nil {
		return billing.UnknownEvent{ID: "evt_000", Type: "unknown"}, nil
	}
	return g.NextEvent, nil
}
