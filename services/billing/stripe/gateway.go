package stripegw

import (
	"context"
	"time"

	"github.com/pkg/errors"
	stripe "github.com/stripe/stripe-go/v82"
	bpsession "github.com/stripe/stripe-go/v82/billingportal/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/billing"
)

// Gateway implements billing.Gateway against the Stripe API.
// Subscriptions bill by invoice (send_invoice, due immediately,
// prorations invoiced right away), so a charge is only ever confirmed
// by the invoice.paid webhook.
type Gateway struct {
	webhookSecret string
}

var _ billing.Gateway = (*Gateway)(nil)

func NewGateway(conf core.StripeConfig) *Gateway {
	stripe.Key = conf.SecretKey
	return &Gateway{webhookSecret: conf.WebhookSecret}
}

func (g *Gateway) CreateCustomer(_ context.Context, email, name, memo string) (string, error) {
	params := &stripe.CustomerParams{
		Name:        stripe.String(name),
		Description: stripe.String(memo),
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	c, err := customer.New(params)
	if err != nil {
		return "", billing.NewProviderError("create customer", err)
	}
	return c.ID, nil
}

func (g *Gateway) UpdateCustomer(_ context.Context, customerID string, fields billing.CustomerFields) (billing.Customer, error) {
	params := &stripe.CustomerParams{}
	if fields.Email != "" {
		params.Email = stripe.String(fields.Email)
	}
	if fields.Name != "" {
		params.Name = stripe.String(fields.Name)
	}
	if fields.Memo != "" {
		params.Description = stripe.String(fields.Memo)
	}
	c, err := customer.Update(customerID, params)
	if err != nil {
		return billing.Customer{}, billing.NewProviderError("update customer", err)
	}
	return billing.Customer{ID: c.ID, Email: c.Email, Name: c.Name}, nil
}

func (g *Gateway) CreateSubscription(_ context.Context, customerID, priceID string, quantity int64) (billing.SubscriptionResult, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(quantity)},
		},
		CollectionMethod:  stripe.String(string(stripe.SubscriptionCollectionMethodSendInvoice)),
		DaysUntilDue:      stripe.Int64(0),
		ProrationBehavior: stripe.String("always_invoice"),
	}
	params.AddExpand("latest_invoice")
	sub, err := subscription.New(params)
	if err != nil {
		return billing.SubscriptionResult{}, billing.NewProviderError("create subscription", err)
	}

	res := billing.SubscriptionResult{Subscription: mapSubscription(sub)}
	if sub.LatestInvoice != nil {
		res.Invoice = mapInvoice(sub.LatestInvoice)
	}
	return res, nil
}

func (g *Gateway) UpdateSubscriptionQuantity(_ context.Context, subscriptionID, priceID string, quantity int64) (billing.SubscriptionResult, error) {
	current, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return billing.SubscriptionResult{}, billing.NewProviderError("retrieve subscription", err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return billing.SubscriptionResult{}, errors.New("subscription has no line item")
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:       stripe.String(current.Items.Data[0].ID),
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(quantity),
			},
		},
		CancelAtPeriodEnd: stripe.Bool(false),
		ProrationBehavior: stripe.String("always_invoice"),
	}
	params.AddExpand("latest_invoice")
	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return billing.SubscriptionResult{}, billing.NewProviderError("update subscription quantity", err)
	}

	res := billing.SubscriptionResult{Subscription: mapSubscription(sub)}
	if sub.LatestInvoice != nil {
		res.Invoice = mapInvoice(sub.LatestInvoice)
	}
	return res, nil
}

func (g *Gateway) RetrieveSubscription(_ context.Context, subscriptionID string) (billing.Subscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return billing.Subscription{}, billing.NewProviderError("retrieve subscription", err)
	}
	return mapSubscription(sub), nil
}

func (g *Gateway) ListSubscriptions(_ context.Context, customerID string) ([]billing.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	iter := subscription.List(params)

	var subs []billing.Subscription
	for iter.Next() {
		subs = append(subs, mapSubscription(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, billing.NewProviderError("list subscriptions", err)
	}
	return subs, nil
}

func (g *Gateway) CancelSubscription(_ context.Context, subscriptionID string) error {
	if _, err := subscription.Cancel(subscriptionID, &stripe.SubscriptionCancelParams{}); err != nil {
		return billing.NewProviderError("cancel subscription", err)
	}
	return nil
}

func (g *Gateway) RetrieveInvoice(_ context.Context, invoiceID string) (billing.Invoice, error) {
	inv, err := invoice.Get(invoiceID, nil)
	if err != nil {
		return billing.Invoice{}, billing.NewProviderError("retrieve invoice", err)
	}
	return mapInvoice(inv), nil
}

func (g *Gateway) FinalizeInvoice(_ context.Context, invoiceID string) (billing.Invoice, error) {
	params := &stripe.InvoiceFinalizeInvoiceParams{}
	params.AddExpand("confirmation_secret")
	inv, err := invoice.FinalizeInvoice(invoiceID, params)
	if err != nil {
		return billing.Invoice{}, billing.NewProviderError("finalize invoice", err)
	}
	return mapInvoice(inv), nil
}

func (g *Gateway) VoidInvoice(_ context.Context, invoiceID string) error {
	if _, err := invoice.VoidInvoice(invoiceID, &stripe.InvoiceVoidInvoiceParams{}); err != nil {
		return billing.NewProviderError("void invoice", err)
	}
	return nil
}

func (g *Gateway) ListOpenInvoices(_ context.Context, subscriptionID string) ([]billing.Invoice, error) {
	params := &stripe.InvoiceListParams{
		Subscription: stripe.String(subscriptionID),
		Status:       stripe.String(string(stripe.InvoiceStatusOpen)),
	}
	iter := invoice.List(params)

	var invs []billing.Invoice
	for iter.Next() {
		invs = append(invs, mapInvoice(iter.Invoice()))
	}
	if err := iter.Err(); err != nil {
		return nil, billing.NewProviderError("list open invoices", err)
	}
	return invs, nil
}

func (g *Gateway) ListPrices(_ context.Context) ([]billing.Price, error) {
	params := &stripe.PriceListParams{Active: stripe.Bool(true)}
	params.AddExpand("data.product")
	iter := price.List(params)

	var prices []billing.Price
	for iter.Next() {
		p := iter.Price()
		bp := billing.Price{
			ID:         p.ID,
			UnitAmount: p.UnitAmount,
			Currency:   string(p.Currency),
		}
		if p.Product != nil {
			bp.ProductID = p.Product.ID
			bp.ProductName = p.Product.Name
		}
		if p.Recurring != nil {
			bp.Interval = string(p.Recurring.Interval)
		}
		prices = append(prices, bp)
	}
	if err := iter.Err(); err != nil {
		return nil, billing.NewProviderError("list prices", err)
	}
	return prices, nil
}

func (g *Gateway) CreateBillingPortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := bpsession.New(params)
	if err != nil {
		return "", billing.NewProviderError("create billing portal session", err)
	}
	return sess.URL, nil
}

// VerifyEvent validates the webhook signature and decodes the payload.
// For invoice.paid the subscription is fetched back so the event
// carries the paid tier's product name, quantity and period end; the
// webhook object alone does not include them.
func (g *Gateway) VerifyEvent(ctx context.Context, payload []byte, signature string) (billing.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, errors.Wrap(billing.ErrSignatureInvalid, err.Error())
	}

	switch event.Type {
	case "invoice.paid":
		return g.invoicePaidEvent(ctx, event)

	case "customer.subscription.deleted":
		obj := event.Data.Object
		return billing.SubscriptionDeletedEvent{
			ID:             event.ID,
			CustomerID:     objString(obj, "customer"),
			SubscriptionID: objString(obj, "id"),
		}, nil

	case "invoice.updated":
		obj := event.Data.Object
		return billing.InvoiceUpdatedEvent{
			ID:        event.ID,
			InvoiceID: objString(obj, "id"),
			Status:    objString(obj, "status"),
		}, nil

	default:
		return billing.UnknownEvent{ID: event.ID, Type: string(event.Type)}, nil
	}
}

func (g *Gateway) invoicePaidEvent(ctx context.Context, event stripe.Event) (billing.Event, error) {
	obj := event.Data.Object
	ev := billing.InvoicePaidEvent{
		ID:             event.ID,
		CustomerID:     objString(obj, "customer"),
		InvoiceID:      objString(obj, "id"),
		SubscriptionID: invoiceSubscriptionID(obj),
	}
	if ev.SubscriptionID == "" {
		// one-off invoice; nothing to reconcile against a plan
		return billing.UnknownEvent{ID: event.ID, Type: string(event.Type)}, nil
	}

	params := &stripe.SubscriptionParams{}
	params.AddExpand("items.data.price.product")
	sub, err := subscription.Get(ev.SubscriptionID, params)
	if err != nil {
		return nil, billing.NewProviderError("retrieve subscription", err)
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		ev.Quantity = item.Quantity
		ev.PeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		if item.Price != nil {
			ev.PriceID = item.Price.ID
			if item.Price.Product != nil {
				ev.ProductName = item.Price.Product.Name
			}
		}
	}
	// expansion covers the usual case; a deleted product comes back
	// without a name and needs a direct fetch
	if ev.ProductName == "" && ev.PriceID != "" {
		if p, perr := price.Get(ev.PriceID, nil); perr == nil && p.Product != nil {
			if prod, perr := product.Get(p.Product.ID, nil); perr == nil {
				ev.ProductName = prod.Name
			}
		}
	}
	return ev, nil
}

// invoiceSubscriptionID digs the subscription reference out of a raw
// invoice webhook object; newer API versions nest it under parent.
func invoiceSubscriptionID(obj map[string]interface{}) string {
	if id := objString(obj, "subscription"); id != "" {
		return id
	}
	parent, ok := obj["parent"].(map[string]interface{})
	if !ok {
		return ""
	}
	details, ok := parent["subscription_details"].(map[string]interface{})
	if !ok {
		return ""
	}
	return objString(details, "subscription")
}

func objString(obj map[string]interface{}, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}

func mapSubscription(sub *stripe.Subscription) billing.Subscription {
	if sub == nil {
		return billing.Subscription{}
	}
	out := billing.Subscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.Quantity = item.Quantity
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
	}
	return out
}

func mapInvoice(inv *stripe.Invoice) billing.Invoice {
	if inv == nil {
		return billing.Invoice{}
	}
	out := billing.Invoice{
		ID:               inv.ID,
		Status:           string(inv.Status),
		AmountDue:        inv.AmountDue,
		HostedInvoiceURL: inv.HostedInvoiceURL,
	}
	if inv.ConfirmationSecret != nil {
		out.PaymentIntentClientSecret = inv.ConfirmationSecret.ClientSecret
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return out
}
