package billing

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/school"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/user"
)

var (
	// errors
	ErrNotBillingManager = errors.New("only the school's billing manager can manage the subscription")
	ErrNoSubscription    = errors.New("school has no subscription")
	ErrSameQuantity      = errors.New("seat quantity is unchanged")
	ErrSeatFloor         = fmt.Errorf("enterprise plan requires at least %d seats", school.EnterpriseMinSeats)
)

// PaymentPendingError means an invoice from a previous attempt is
// still open; the caller must settle or void it before retrying.
type PaymentPendingError struct {
	InvoiceID        string
	HostedInvoiceURL string
}

func (err *PaymentPendingError) Error() string {
	return "a previous invoice is still awaiting payment"
}

type (
	// PlanOption is a live provider price offered for subscription.
	PlanOption struct {
		Title      string `json:"title"`
		PriceID    string `json:"price_id"`
		UnitAmount int64  `json:"unit_amount"`
		Currency   string `json:"currency"`
		Interval   string `json:"interval"`
	}

	// CheckoutResult is handed to the client to confirm the first
	// payment of a new subscription.
	CheckoutResult struct {
		SubscriptionID string `json:"subscription_id"`
		InvoiceID      string `json:"invoice_id"`
		AmountDue      int64  `json:"amount_due"`
		ClientSecret   string `json:"client_secret,omitempty"`
	}

	// SeatChangeResult reports an applied quantity change and the
	// proration invoice it produced.
	SeatChangeResult struct {
		Subscription Subscription `json:"subscription"`
		InvoiceID    string       `json:"invoice_id"`
		AmountDue    int64        `json:"amount_due"`
		ClientSecret string       `json:"client_secret,omitempty"`
	}

	// Service drives tenant-initiated subscription actions against the
	// payment provider. It persists only the customer handle (created
	// once); subscription handles and plan changes are written solely
	// by the Reconciler once payment is confirmed.
	Service struct {
		gw              Gateway
		schoolSvc       *school.Service
		usrSvc          *user.Service
		catalog         *school.Catalog
		portalReturnURL string
		logger          core.Logger
	}
)

func NewService(
	gw Gateway,
	schoolSvc *school.Service,
	usrSvc *user.Service,
	catalog *school.Catalog,
	portalReturnURL string,
	logger core.Logger,
) *Service {
	return &Service{
		gw:              gw,
		schoolSvc:       schoolSvc,
		usrSvc:          usrSvc,
		catalog:         catalog,
		portalReturnURL: portalReturnURL,
		logger:          logger,
	}
}

// requireManager loads the school and rejects callers other than its
// designated billing manager.
func (svc *Service) requireManager(schoolID, userID string) (school.School, error) {
	sch, err := svc.schoolSvc.GetByID(schoolID)
	if err != nil {
		return school.School{}, err
	}
	if sch.BillingManagerID == "" || sch.BillingManagerID != userID {
		return school.School{}, ErrNotBillingManager
	}
	return sch, nil
}

// EnsureCustomer returns the school's provider customer handle,
// creating it on first use. The handle never changes afterwards.
func (svc *Service) EnsureCustomer(ctx context.Context, sch school.School) (string, error) {
	if sch.BillingCustomerID != "" {
		return sch.BillingCustomerID, nil
	}

	email := ""
	if sch.BillingManagerID != "" {
		if mgr, err := svc.usrSvc.GetByID(sch.BillingManagerID); err == nil {
			email = mgr.Email
		}
	}
	memo := fmt.Sprintf("school:%s", sch.ID)
	customerID, err := svc.gw.CreateCustomer(ctx, email, sch.Name, memo)
	if err != nil {
		return "", errors.Wrap(err, "creating billing customer")
	}
	if _, err = svc.schoolSvc.SetBillingCustomer(sch.ID, customerID); err != nil {
		return "", errors.Wrap(err, "persisting billing customer")
	}
	return customerID, nil
}

// OpenBillingPortal opens a provider-hosted self-service session.
func (svc *Service) OpenBillingPortal(ctx context.Context, schoolID, userID string) (string, error) {
	sch, err := svc.requireManager(schoolID, userID)
	if err != nil {
		return "", err
	}
	customerID, err := svc.EnsureCustomer(ctx, sch)
	if err != nil {
		return "", err
	}
	url, err := svc.gw.CreateBillingPortalSession(ctx, customerID, svc.portalReturnURL)
	if err != nil {
		return "", errors.Wrap(err, "creating billing portal session")
	}
	return url, nil
}

// ListAvailablePlans enumerates provider prices live, so pricing can be
// managed on the provider side without a deploy.
func (svc *Service) ListAvailablePlans(ctx context.Context) ([]PlanOption, error) {
	prices, err := svc.gw.ListPrices(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing provider prices")
	}
	options := make([]PlanOption, 0, len(prices))
	for _, price := range prices {
		options = append(options, PlanOption{
			Title:      price.ProductName,
			PriceID:    price.ID,
			UnitAmount: price.UnitAmount,
			Currency:   price.Currency,
			Interval:   price.Interval,
		})
	}
	return options, nil
}

// StartOrChangeSubscription creates a NEW provider subscription on the
// target price and finalizes its first invoice. Any previous
// subscription is left untouched here: it is only canceled by the
// Reconciler once the new subscription's invoice.paid event arrives,
// so a failed payment never tears down the current plan.
func (svc *Service) StartOrChangeSubscription(
	ctx context.Context,
	schoolID, priceID string,
	seats int64,
	userID string,
) (CheckoutResult, error) {
	sch, err := svc.requireManager(schoolID, userID)
	if err != nil {
		return CheckoutResult{}, err
	}

	plan, err := svc.catalog.PlanForPrice(priceID)
	if err != nil {
		return CheckoutResult{}, err
	}

	quantity := int64(1)
	if plan == school.PlanEnterprise {
		if seats < school.EnterpriseMinSeats {
			return CheckoutResult{}, core.NewValidationError(ErrSeatFloor,
				core.FieldError{Field: "seats", Error: ErrSeatFloor.Error()})
		}
		quantity = seats
	}

	customerID, err := svc.EnsureCustomer(ctx, sch)
	if err != nil {
		return CheckoutResult{}, err
	}

	res, err := svc.gw.CreateSubscription(ctx, customerID, priceID, quantity)
	if err != nil {
		return CheckoutResult{}, errors.Wrap(err, "creating subscription")
	}

	inv, err := svc.gw.FinalizeInvoice(ctx, res.Invoice.ID)
	if err != nil {
		return CheckoutResult{}, errors.Wrap(err, "finalizing first invoice")
	}

	svc.logger.Info(fmt.Sprintf(
		"subscription %s created for school %s on plan %s (qty %d), awaiting payment",
		res.Subscription.ID, sch.ID, plan, quantity,
	))

	return CheckoutResult{
		SubscriptionID: res.Subscription.ID,
		InvoiceID:      inv.ID,
		AmountDue:      inv.AmountDue,
		ClientSecret:   inv.PaymentIntentClientSecret,
	}, nil
}

// ChangeSeatQuantity updates an active subscription's quantity with an
// immediately-invoiced proration.
func (svc *Service) ChangeSeatQuantity(ctx context.Context, schoolID string, newQuantity int64, userID string) (SeatChangeResult, error) {
	sch, err := svc.requireManager(schoolID, userID)
	if err != nil {
		return SeatChangeResult{}, err
	}
	if sch.BillingSubscriptionID == "" {
		return SeatChangeResult{}, ErrNoSubscription
	}
	if newQuantity < school.EnterpriseMinSeats {
		return SeatChangeResult{}, core.NewValidationError(ErrSeatFloor,
			core.FieldError{Field: "seats", Error: ErrSeatFloor.Error()})
	}

	sub, err := svc.gw.RetrieveSubscription(ctx, sch.BillingSubscriptionID)
	if err != nil {
		return SeatChangeResult{}, errors.Wrap(err, "retrieving subscription")
	}
	if sub.Quantity == newQuantity {
		return SeatChangeResult{}, ErrSameQuantity
	}

	// an unpaid proration invoice from a prior attempt must be settled
	// first; creating another would double-charge.
	open, err := svc.gw.ListOpenInvoices(ctx, sub.ID)
	if err != nil {
		return SeatChangeResult{}, errors.Wrap(err, "listing open invoices")
	}
	if len(open) > 0 {
		return SeatChangeResult{}, &PaymentPendingError{
			InvoiceID:        open[0].ID,
			HostedInvoiceURL: open[0].HostedInvoiceURL,
		}
	}

	res, err := svc.gw.UpdateSubscriptionQuantity(ctx, sub.ID, sub.PriceID, newQuantity)
	if err != nil {
		return SeatChangeResult{}, errors.Wrap(err, "updating subscription quantity")
	}

	inv := res.Invoice
	if inv.ID != "" && inv.Status == InvoiceDraft {
		if inv, err = svc.gw.FinalizeInvoice(ctx, inv.ID); err != nil {
			return SeatChangeResult{}, errors.Wrap(err, "finalizing proration invoice")
		}
	}

	return SeatChangeResult{
		Subscription: res.Subscription,
		InvoiceID:    inv.ID,
		AmountDue:    inv.AmountDue,
		ClientSecret: inv.PaymentIntentClientSecret,
	}, nil
}
