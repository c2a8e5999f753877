package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/billing"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/school"
)

func paidEvent(customerID string, periodEnd time.Time) billing.InvoicePaidEvent {
	return billing.InvoicePaidEvent{
		ID:             "evt_001",
		CustomerID:     customerID,
		SubscriptionID: "sub_001",
		InvoiceID:      "in_001",
		PriceID:        "price_premium",
		ProductName:    "Tatuga Premium",
		Quantity:       1,
		PeriodEnd:      periodEnd,
	}
}

func TestReconciler_invoicePaid(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	periodEnd := time.Now().AddDate(0, 1, 0).UTC().Truncate(time.Second)

	_, err := env.schoolSvc.SetBillingCustomer(env.sch.ID, "cus_001")
	assert.NoError(t, err)

	err = env.rec.Process(ctx, paidEvent("cus_001", periodEnd))
	assert.NoError(t, err)

	sch := env.school(t)
	assert.Equal(t, school.PlanPremium, sch.Plan)
	assert.Equal(t, "sub_001", sch.BillingSubscriptionID)
	assert.Equal(t, "price_premium", sch.BillingPriceID)
	assert.True(t, periodEnd.Equal(sch.SubscriptionExpiresAt))
	assert.Equal(t, school.LimitsFor(school.PlanPremium, 1), sch.Limits())
}

func TestReconciler_invoicePaid_isIdempotent(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	periodEnd := time.Now().AddDate(0, 1, 0).UTC().Truncate(time.Second)

	_, err := env.schoolSvc.SetBillingCustomer(env.sch.ID, "cus_001")
	assert.NoError(t, err)

	event := paidEvent("cus_001", periodEnd)
	assert.NoError(t, env.rec.Process(ctx, event))
	first := env.school(t)

	// redelivery leaves the school untouched
	assert.NoError(t, env.rec.Process(ctx, event))
	assert.Equal(t, first, env.school(t))
}

func TestReconciler_invoicePaid_skipsStalePeriod(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	newer := time.Now().AddDate(0, 2, 0).UTC().Truncate(time.Second)
	older := time.Now().AddDate(0, 1, 0).UTC().Truncate(time.Second)

	_, err := env.schoolSvc.SetBillingCustomer(env.sch.ID, "cus_001")
	assert.NoError(t, err)

	assert.NoError(t, env.rec.Process(ctx, paidEvent("cus_001", newer)))

	// an out-of-order older renewal must not rewind the expiry
	stale := paidEvent("cus_001", older)
	stale.ID = "evt_002"
	stale.SubscriptionID = "sub_old"
	stale.PriceID = "price_basic"
	stale.ProductName = "Tatuga Basic"
	assert.NoError(t, env.rec.Process(ctx, stale))

	sch := env.school(t)
	assert.Equal(t, school.PlanPremium, sch.Plan)
	assert.Equal(t, "sub_001", sch.BillingSubscriptionID)
	assert.True(t, newer.Equal(sch.SubscriptionExpiresAt))
}

func TestReconciler_invoicePaid_cancelsSupersededSubscriptions(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	periodEnd := time.Now().AddDate(0, 1, 0).UTC()

	_, err := env.schoolSvc.SetBillingCustomer(env.sch.ID, "cus_001")
	assert.NoError(t, err)

	// a previous subscription is still live on the provider side
	env.gw.SeedSubscription(billing.Subscription{
		ID: "sub_old", CustomerID: "cus_001", PriceID: "price_basic",
		Status: billing.SubscriptionActive, Quantity: 1,
	})

	assert.NoError(t, env.rec.Process(ctx, paidEvent("cus_001", periodEnd)))
	assert.Equal(t, []string{"sub_old"}, env.gw.CanceledSubscriptions)

	// redelivery does not cancel twice: sub_old is no longer active
	assert.NoError(t, env.rec.Process(ctx, paidEvent("cus_001", periodEnd)))
	assert.Equal(t, []string{"sub_old"}, env.gw.CanceledSubscriptions)
}

func TestReconciler_invoicePaid_unknownCustomer(t *testing.T) {
	env := setup(t)

	err := env.rec.Process(context.Background(), paidEvent("cus_ghost", time.Now()))
	assert.Equal(t, school.ErrNotFound, errors.Cause(err))
}

func TestReconciler_invoicePaid_unmappedProduct(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.schoolSvc.SetBillingCustomer(env.sch.ID, "cus_001")
	assert.NoError(t, err)

	event := paidEvent("cus_001", time.Now().AddDate(0, 1, 0))
	event.ProductName = "Donation"
	assert.NoError(t, env.rec.Process(ctx, event))

	// nothing applied
	sch := env.school(t)
	assert.Equal(t, school.PlanFree, sch.Plan)
	assert.Empty(t, sch.BillingSubscriptionID)
}

func TestReconciler_invoicePaid_enterpriseScalesPerSeat(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.schoolSvc.SetBillingCustomer(env.sch.ID, "cus_001")
	assert.NoError(t, err)

	event := paidEvent("cus_001", time.Now().AddDate(0, 1, 0))
	event.PriceID = "price_ent"
	event.ProductName = "Tatuga Enterprise"
	event.Quantity = 5
	assert.NoError(t, env.rec.Process(ctx, event))

	sch := env.school(t)
	assert.Equal(t, school.PlanEnterprise, sch.Plan)
	assert.Equal(t, school.LimitsFor(school.PlanEnterprise, 5), sch.Limits())
}

func TestReconciler_subscriptionDeleted(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	periodEnd := time.Now().AddDate(0, 1, 0).UTC()

	_, err := env.schoolSvc.SetBillingCustomer(env.sch.ID, "cus_001")
	assert.NoError(t, err)
	assert.NoError(t, env.rec.Process(ctx, paidEvent("cus_001", periodEnd)))

	// the deleted subscription still has an unpaid invoice
	env.gw.SeedInvoice(billing.Invoice{
		ID: "in_open", SubscriptionID: "sub_001",
		Status: billing.InvoiceOpen, AmountDue: 2900,
	})

	deleted := billing.SubscriptionDeletedEvent{ID: "evt_010", CustomerID: "cus_001", SubscriptionID: "sub_001"}
	assert.NoError(t, env.rec.Process(ctx, deleted))

	sch := env.school(t)
	assert.Equal(t, school.PlanFree, sch.Plan)
	assert.Empty(t, sch.BillingSubscriptionID)
	assert.Empty(t, sch.BillingPriceID)
	assert.True(t, sch.SubscriptionExpiresAt.IsZero())
	assert.Equal(t, school.LimitsFor(school.PlanFree, 1), sch.Limits())
	assert.Equal(t, []string{"in_open"}, env.gw.VoidedInvoices)

	// redelivery after the handle was cleared is still a no-op success
	assert.NoError(t, env.rec.Process(ctx, deleted))
	assert.Equal(t, school.PlanFree, env.school(t).Plan)
}

func TestReconciler_invoiceUpdated(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	env.gw.SeedInvoice(billing.Invoice{ID: "in_bad", Status: billing.InvoiceOpen, AmountDue: 2900})

	// only the uncollectible transition acts
	assert.NoError(t, env.rec.Process(ctx, billing.InvoiceUpdatedEvent{ID: "evt_020", InvoiceID: "in_bad", Status: billing.InvoicePaid}))
	assert.Empty(t, env.gw.VoidedInvoices)

	event := billing.InvoiceUpdatedEvent{ID: "evt_021", InvoiceID: "in_bad", Status: billing.InvoiceUncollectible}
	assert.NoError(t, env.rec.Process(ctx, event))
	assert.Equal(t, []string{"in_bad"}, env.gw.VoidedInvoices)

	// redelivery finds the invoice already void and does not void again
	assert.NoError(t, env.rec.Process(ctx, event))
	assert.Equal(t, []string{"in_bad"}, env.gw.VoidedInvoices)
}

func TestReconciler_unknownEvent(t *testing.T) {
	env := setup(t)
	assert.NoError(t, env.rec.Process(context.Background(), billing.UnknownEvent{ID: "evt_030", Type: "customer.updated"}))
}
