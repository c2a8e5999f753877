package echoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/billing"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/school"
)

func Test_billingApi_plans(t *testing.T) {
	app := initApp(t)
	app.gw.SeedPrices(
		billing.Price{ID: "price_basic", ProductName: "Tatuga Basic", UnitAmount: 900, Currency: "usd", Interval: "month"},
	)

	req, rec := newRequest(http.MethodGet, "/v1/billing/plans")
	app.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req, rec = newAuthRequest(http.MethodGet, "/v1/billing/plans", getToken(t, app.teacher))
	app.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var options []billing.PlanOption
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &options))
	if assert.Len(t, options, 1) {
		assert.Equal(t, "price_basic", options[0].PriceID)
	}
}

func Test_billingApi_portal(t *testing.T) {
	app := initApp(t)

	// only the billing manager
	req, rec := newAuthRequest(http.MethodPost, "/v1/billing/portal", getToken(t, app.teacher))
	app.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req, rec = newAuthRequest(http.MethodPost, "/v1/billing/portal", getToken(t, app.manager))
	app.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var res PortalResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.URL)
}

func Test_billingApi_subscribe(t *testing.T) {
	app := initApp(t)
	managerToken := getToken(t, app.manager)

	tests := []struct {
		name     string
		token    string
		body     interface{}
		wantCode int
	}{
		{name: "auth required", body: SubscribeRequest{PriceID: "price_basic"}, wantCode: http.StatusUnauthorized},
		{name: "manager only", token: getToken(t, app.teacher), body: SubscribeRequest{PriceID: "price_basic"}, wantCode: http.StatusForbidden},
		{name: "price required", token: managerToken, body: SubscribeRequest{}, wantCode: http.StatusBadRequest},
		{name: "unknown price", token: managerToken, body: SubscribeRequest{PriceID: "price_bogus"}, wantCode: http.StatusNotFound},
		{name: "enterprise below seat floor", token: managerToken, body: SubscribeRequest{PriceID: "price_ent", Seats: 2}, wantCode: http.StatusBadRequest},
		{name: "ok", token: managerToken, body: SubscribeRequest{PriceID: "price_premium"}, wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/billing/subscribe", tt.token, marshallObj(t, tt.body))
			app.server.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}

	// a successful checkout never flips the plan before payment confirms
	sch, err := app.schoolSvc.GetByID(app.sch.ID)
	assert.NoError(t, err)
	assert.Equal(t, school.PlanFree, sch.Plan)
}

func Test_billingApi_seats(t *testing.T) {
	app := initApp(t)
	managerToken := getToken(t, app.manager)

	// no subscription yet
	req, rec := newAuthRequest(http.MethodPut, "/v1/billing/seats", managerToken, marshallObj(t, SeatsRequest{Seats: 5}))
	app.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// put the school on an enterprise subscription
	app.gw.SeedSubscription(billing.Subscription{
		ID: "sub_ent", CustomerID: "cus_001", PriceID: "price_ent",
		Status: billing.SubscriptionActive, Quantity: 5,
	})
	if _, err := app.schoolSvc.SetBillingCustomer(app.sch.ID, "cus_001"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if _, err := app.schoolSvc.ApplyPlanChange(app.sch.ID, school.PlanChange{
		Plan:           school.PlanEnterprise,
		Limits:         school.LimitsFor(school.PlanEnterprise, 5),
		SubscriptionID: "sub_ent",
		PriceID:        "price_ent",
	}); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	// a pending proration invoice answers 402 with its reference
	app.gw.SeedInvoice(billing.Invoice{
		ID: "in_pending", SubscriptionID: "sub_ent",
		Status: billing.InvoiceOpen, AmountDue: 5000,
		HostedInvoiceURL: "https://pay.example.com/in_pending",
	})
	req, rec = newAuthRequest(http.MethodPut, "/v1/billing/seats", managerToken, marshallObj(t, SeatsRequest{Seats: 6}))
	app.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	var pending map[string]string
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Equal(t, "in_pending", pending["invoice_id"])

	if err := app.gw.VoidInvoice(context.Background(), "in_pending"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	req, rec = newAuthRequest(http.MethodPut, "/v1/billing/seats", managerToken, marshallObj(t, SeatsRequest{Seats: 6}))
	app.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var res billing.SeatChangeResult
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, int64(6), res.Subscription.Quantity)
}
