package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// provider subscription statuses we act on
const (
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// provider invoice statuses we act on
const (
	InvoiceDraft         = "draft"
	InvoiceOpen          = "open"
	InvoicePaid          = "paid"
	InvoiceVoid          = "void"
	InvoiceUncollectible = "uncollectible"
)

type (
	Customer struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}

	// CustomerFields are the mutable customer attributes.
	CustomerFields struct {
		Email string
		Name  string
		Memo  string
	}

	Price struct {
		ID          string `json:"id"`
		ProductID   string `json:"product_id"`
		ProductName string `json:"product_name"`
		UnitAmount  int64  `json:"unit_amount"` // cents
		Currency    string `json:"currency"`
		Interval    string `json:"interval"` // month, year
	}

	// Subscription is the provider's view of a recurring billing
	// agreement; the school record only holds a reference to it.
	Subscription struct {
		ID               string    `json:"id"`
		CustomerID       string    `json:"customer_id"`
		PriceID          string    `json:"price_id"`
		Status           string    `json:"status"`
		Quantity         int64     `json:"quantity"`
		CurrentPeriodEnd time.Time `json:"current_period_end"` // UTC
	}

	Invoice struct {
		ID                        string `json:"id"`
		SubscriptionID            string `json:"subscription_id,omitempty"`
		Status                    string `json:"status"`
		AmountDue                 int64  `json:"amount_due"` // cents
		HostedInvoiceURL          string `json:"hosted_invoice_url,omitempty"`
		PaymentIntentClientSecret string `json:"-"`
	}

	// SubscriptionResult is what a create/update call hands back: the
	// subscription plus the invoice that must be paid to confirm it.
	SubscriptionResult struct {
		Subscription Subscription
		Invoice      Invoice
	}
)

// Gateway is the payment provider boundary. Calls are not retried here;
// transport failures surface as *ProviderError and the caller decides.
// Subscription create/update bills by invoice ("send invoice", due
// immediately, prorated), so success is only confirmed by a later
// invoice.paid event.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name, memo string) (customerID string, err error)
	UpdateCustomer(ctx context.Context, customerID string, fields CustomerFields) (Customer, error)

	CreateSubscription(ctx context.Context, customerID, priceID string, quantity int64) (SubscriptionResult, error)
	UpdateSubscriptionQuantity(ctx context.Context, subscriptionID, priceID string, quantity int64) (SubscriptionResult, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (Subscription, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error

	RetrieveInvoice(ctx context.Context, invoiceID string) (Invoice, error)
	FinalizeInvoice(ctx context.Context, invoiceID string) (Invoice, error)
	VoidInvoice(ctx context.Context, invoiceID string) error
	ListOpenInvoices(ctx context.Context, subscriptionID string) ([]Invoice, error)

	ListPrices(ctx context.Context) ([]Price, error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (url string, err error)

	// VerifyEvent checks the webhook signature against the shared
	// secret and decodes the payload into the event union.
	VerifyEvent(ctx context.Context, payload []byte, signature string) (Event, error)
}

// ProviderError wraps a transport-level failure of a gateway call.
type ProviderError struct {
	Op  string
	Err error
}

func (err *ProviderError) Error() string {
	return fmt.Sprintf("payment provider unavailable: %s: %v", err.Op, err.Err)
}

func (err *ProviderError) Unwrap() error { return err.Err }

// NewProviderError wraps err as a provider-unavailable condition.
func NewProviderError(op string, err error) error {
	return &ProviderError{Op: op, Err: err}
}

// IsProviderUnavailable reports whether err is a gateway transport failure.
func IsProviderUnavailable(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr)
}

// ErrSignatureInvalid is returned by VerifyEvent when the webhook
// payload cannot be trusted.
var ErrSignatureInvalid = errors.New("webhook signature verification failed")
