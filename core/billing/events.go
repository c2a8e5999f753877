package billing

import "time"

// Event is the closed union of provider notifications the reconciler
// understands. Unhandled provider types decode to UnknownEvent so new
// kinds are a compile-checked switch away.
type Event interface {
	// EventID is the provider's unique event identifier.
	EventID() string
	isEvent()
}

type (
	// InvoicePaidEvent confirms a subscription charge went through.
	InvoicePaidEvent struct {
		ID             string
		CustomerID     string
		SubscriptionID string
		InvoiceID      string
		PriceID        string
		ProductName    string
		Quantity       int64
		PeriodEnd      time.Time // subscription current period end, UTC
	}

	// SubscriptionDeletedEvent signals the provider canceled/ended a
	// subscription.
	SubscriptionDeletedEvent struct {
		ID             string
		CustomerID     string
		SubscriptionID string
	}

	// InvoiceUpdatedEvent carries an invoice status change; only the
	// uncollectible transition is acted on.
	InvoiceUpdatedEvent struct {
		ID        string
		InvoiceID string
		Status    string
	}

	// UnknownEvent is the forward-compatible no-op fallback.
	UnknownEvent struct {
		ID   string
		Type string
	}
)

func (e InvoicePaidEvent) EventID() string         { return e.ID }
func (e SubscriptionDeletedEvent) EventID() string { return e.ID }
func (e InvoiceUpdatedEvent) EventID() string      { return e.ID }
func (e UnknownEvent) EventID() string             { return e.ID }

func (InvoicePaidEvent) isEvent()         {}
func (SubscriptionDeletedEvent) isEvent() {}
func (InvoiceUpdatedEvent) isEvent()      {}
func (UnknownEvent) isEvent()             {}
