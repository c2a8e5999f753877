package billing

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/school"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/user"
)

// Reconciler applies asynchronous provider events to tenant state. It
// is the single writer of a school's plan, subscription handles and
// expiry snapshot. Delivery is at-least-once and may reorder, so every
// transition is guarded to be idempotent: invoice.paid applies
// last-write-wins by period end, and re-applying any event leaves the
// school unchanged.
type Reconciler struct {
	gw        Gateway
	schoolSvc *school.Service
	usrSvc    *user.Service
	mailSvc   core.EmailService
	logger    core.Logger
}

func NewReconciler(
	gw Gateway,
	schoolSvc *school.Service,
	usrSvc *user.Service,
	mailSvc core.EmailService,
	logger core.Logger,
) *Reconciler {
	return &Reconciler{
		gw:        gw,
		schoolSvc: schoolSvc,
		usrSvc:    usrSvc,
		mailSvc:   mailSvc,
		logger:    logger,
	}
}

// Process dispatches a verified provider event. school.ErrNotFound is
// returned when the referenced tenant cannot be resolved (the webhook
// endpoint answers 4xx so the provider stops retrying); other errors
// mean processing genuinely failed.
func (r *Reconciler) Process(ctx context.Context, event Event) error {
	switch e := event.(type) {
	case InvoicePaidEvent:
		return r.invoicePaid(ctx, e)
	case SubscriptionDeletedEvent:
		return r.subscriptionDeleted(ctx, e)
	case InvoiceUpdatedEvent:
		return r.invoiceUpdated(ctx, e)
	case UnknownEvent:
		r.logger.Info(fmt.Sprintf("ignoring provider event %s of unhandled type %q", e.ID, e.Type))
		return nil
	default:
		r.logger.Warn(fmt.Sprintf("ignoring provider event %s: unmapped event kind %T", event.EventID(), event))
		return nil
	}
}

// invoicePaid promotes the school to the paid tier and enforces the
// at-most-one-live-subscription rule on the provider side.
func (r *Reconciler) invoicePaid(ctx context.Context, e InvoicePaidEvent) error {
	sch, err := r.schoolSvc.GetByCustomerID(e.CustomerID)
	if err != nil {
		return errors.Wrapf(err, "resolving school for customer %s", e.CustomerID)
	}

	// redelivery/reordering guard: only the newest period end wins.
	if !sch.SubscriptionExpiresAt.IsZero() && e.PeriodEnd.Before(sch.SubscriptionExpiresAt) {
		r.logger.Info(fmt.Sprintf(
			"skipping stale invoice.paid %s for school %s: period end %s older than stored %s",
			e.ID, sch.ID, e.PeriodEnd, sch.SubscriptionExpiresAt,
		))
		return nil
	}

	plan, ok := school.PlanFromProductName(e.ProductName)
	if !ok {
		r.logger.Warn(fmt.Sprintf(
			"ignoring invoice.paid %s: product %q maps to no plan tier", e.ID, e.ProductName,
		))
		return nil
	}

	alreadyApplied := sch.Plan == plan &&
		sch.BillingSubscriptionID == e.SubscriptionID &&
		sch.SubscriptionExpiresAt.Equal(e.PeriodEnd)

	if !alreadyApplied {
		sch, err = r.schoolSvc.ApplyPlanChange(sch.ID, school.PlanChange{
			Plan:           plan,
			Limits:         school.LimitsFor(plan, e.Quantity),
			SubscriptionID: e.SubscriptionID,
			PriceID:        e.PriceID,
			ExpiresAt:      e.PeriodEnd.UTC(),
		})
		if err != nil {
			return errors.Wrap(err, "applying plan change")
		}
		r.logger.Info(fmt.Sprintf("school %s moved to plan %s until %s", sch.ID, plan, e.PeriodEnd))
		r.notifyManager(sch, "Subscription payment received",
			fmt.Sprintf("Your school is now on the %s plan until %s.", plan, e.PeriodEnd.Format("2 Jan 2006")))
	}

	// at most one live subscription per customer: cancel the others.
	// Safe to repeat; already-canceled subscriptions are skipped.
	subs, err := r.gw.ListSubscriptions(ctx, e.CustomerID)
	if err != nil {
		return errors.Wrap(err, "listing customer subscriptions")
	}
	for _, sub := range subs {
		if sub.ID == e.SubscriptionID {
			continue
		}
		if sub.Status != SubscriptionActive && sub.Status != SubscriptionPastDue {
			continue
		}
		if err = r.gw.CancelSubscription(ctx, sub.ID); err != nil {
			return errors.Wrapf(err, "canceling superseded subscription %s", sub.ID)
		}
		r.logger.Info(fmt.Sprintf("canceled superseded subscription %s for school %s", sub.ID, sch.ID))
	}
	return nil
}

// subscriptionDeleted demotes the school back to FREE and voids
// whatever the deleted subscription still has outstanding.
func (r *Reconciler) subscriptionDeleted(ctx context.Context, e SubscriptionDeletedEvent) error {
	sch, err := r.schoolSvc.GetBySubscriptionID(e.SubscriptionID)
	if err != nil {
		if err == school.ErrNotFound {
			// already demoted (redelivery) or a superseded subscription
			// we never tracked; still void its leftover invoices.
			return r.voidOpenInvoices(ctx, e.SubscriptionID)
		}
		return errors.Wrapf(err, "resolving school for subscription %s", e.SubscriptionID)
	}

	sch, err = r.schoolSvc.ApplyPlanChange(sch.ID, school.PlanChange{
		Plan:   school.PlanFree,
		Limits: school.LimitsFor(school.PlanFree, 1),
	})
	if err != nil {
		return errors.Wrap(err, "downgrading school to free plan")
	}
	r.logger.Info(fmt.Sprintf("school %s downgraded to %s after subscription %s was deleted",
		sch.ID, school.PlanFree, e.SubscriptionID))
	r.notifyManager(sch, "Subscription canceled",
		"Your subscription was canceled; the school is back on the FREE plan.")

	return r.voidOpenInvoices(ctx, e.SubscriptionID)
}

// invoiceUpdated only acts on the uncollectible transition. The void
// is gated on the invoice's current provider status so a redelivered
// event finds it already void and does nothing.
func (r *Reconciler) invoiceUpdated(ctx context.Context, e InvoiceUpdatedEvent) error {
	if e.Status != InvoiceUncollectible {
		return nil
	}
	inv, err := r.gw.RetrieveInvoice(ctx, e.InvoiceID)
	if err != nil {
		return errors.Wrapf(err, "retrieving invoice %s", e.InvoiceID)
	}
	if inv.Status != InvoiceOpen && inv.Status != InvoiceUncollectible {
		r.logger.Info(fmt.Sprintf("invoice %s is already %s; nothing to void", inv.ID, inv.Status))
		return nil
	}
	if err = r.gw.VoidInvoice(ctx, e.InvoiceID); err != nil {
		return errors.Wrapf(err, "voiding uncollectible invoice %s", e.InvoiceID)
	}
	r.logger.Info(fmt.Sprintf("voided uncollectible invoice %s", e.InvoiceID))
	return nil
}

func (r *Reconciler) voidOpenInvoices(ctx context.Context, subscriptionID string) error {
	open, err := r.gw.ListOpenInvoices(ctx, subscriptionID)
	if err != nil {
		return errors.Wrapf(err, "listing open invoices of subscription %s", subscriptionID)
	}
	for _, inv := range open {
		if err = r.gw.VoidInvoice(ctx, inv.ID); err != nil {
			return errors.Wrapf(err, "voiding invoice %s", inv.ID)
		}
	}
	return nil
}

func (r *Reconciler) notifyManager(sch school.School, subject, body string) {
	if r.mailSvc == nil || sch.BillingManagerID == "" {
		return
	}
	mgr, err := r.usrSvc.GetByID(sch.BillingManagerID)
	if err != nil {
		r.logger.Warn(fmt.Sprintf("billing manager %s of school %s not found: %v", sch.BillingManagerID, sch.ID, err))
		return
	}
	r.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: mgr.Name, Address: mgr.Email}},
		Subject: subject,
		BodyStr: body,
	})
}
