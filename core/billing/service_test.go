package billing_test

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/billing"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/school"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/user"
	dummygw "github.com/tatuga-camp/server-main-tatugaschool-sub003/services/billing/dummy"
	logsvc "github.com/tatuga-camp/server-main-tatugaschool-sub003/services/logger"
	dummydb "github.com/tatuga-camp/server-main-tatugaschool-sub003/storage/database/dummy"
)

var testStripeConf = core.StripeConfig{
	BasicPriceID:      "price_basic",
	PremiumPriceID:    "price_premium",
	EnterprisePriceID: "price_ent",
	PortalReturnURL:   "https://app.example.com/billing",
}

type testEnv struct {
	gw        *dummygw.Gateway
	schoolSvc *school.Service
	usrSvc    *user.Service
	svc       *billing.Service
	rec       *billing.Reconciler

	sch     school.School
	manager user.User
	other   user.User
}

func setup(t *testing.T) *testEnv {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	validate := validator.New()
	gw := dummygw.NewGateway()
	schoolSvc := school.NewService(dummydb.NewSchoolRepository(db), validate)
	usrSvc := user.NewService(dummydb.NewUserRepository(db), validate)
	catalog := school.NewCatalog(testStripeConf)
	logger := logsvc.NewNopLogger()

	env := &testEnv{
		gw:        gw,
		schoolSvc: schoolSvc,
		usrSvc:    usrSvc,
		svc:       billing.NewService(gw, schoolSvc, usrSvc, catalog, testStripeConf.PortalReturnURL, logger),
		rec:       billing.NewReconciler(gw, schoolSvc, usrSvc, nil, logger),
	}

	env.sch, err = schoolSvc.Create(school.NewSchool{Name: "Kivu High"})
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	env.manager = createUser(t, usrSvc, env.sch.ID, "manager@test.cd")
	env.other = createUser(t, usrSvc, env.sch.ID, "teacher@test.cd")
	if _, err = schoolSvc.SetBillingManager(env.sch.ID, env.manager.ID); err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	return env
}

func createUser(t *testing.T, svc *user.Service, schoolID, email string) user.User {
	usr, err := svc.Create(user.NewUser{
		SchoolID:        schoolID,
		Name:            email,
		Email:           email,
		Password:        "LePassword",
		PasswordConfirm: "LePassword",
		Roles:           []string{user.RoleTeacher},
	})
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func (env *testEnv) school(t *testing.T) school.School {
	sch, err := env.schoolSvc.GetByID(env.sch.ID)
	if err != nil {
		t.Fatalf("school() failed: %v", err)
	}
	return sch
}

func TestService_OpenBillingPortal(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	// only the billing manager may open the portal
	_, err := env.svc.OpenBillingPortal(ctx, env.sch.ID, env.other.ID)
	assert.Equal(t, billing.ErrNotBillingManager, err)

	url, err := env.svc.OpenBillingPortal(ctx, env.sch.ID, env.manager.ID)
	assert.NoError(t, err)
	assert.NotEmpty(t, url)

	// the customer handle was created and persisted on first use
	customerID := env.school(t).BillingCustomerID
	assert.NotEmpty(t, customerID)

	// and reused on subsequent calls
	_, err = env.svc.OpenBillingPortal(ctx, env.sch.ID, env.manager.ID)
	assert.NoError(t, err)
	assert.Equal(t, customerID, env.school(t).BillingCustomerID)
}

func TestService_ListAvailablePlans(t *testing.T) {
	env := setup(t)
	env.gw.SeedPrices(
		billing.Price{ID: "price_basic", ProductName: "Tatuga Basic", UnitAmount: 900, Currency: "usd", Interval: "month"},
		billing.Price{ID: "price_premium", ProductName: "Tatuga Premium", UnitAmount: 2900, Currency: "usd", Interval: "month"},
	)

	options, err := env.svc.ListAvailablePlans(context.Background())
	assert.NoError(t, err)
	if assert.Len(t, options, 2) {
		assert.Equal(t, "Tatuga Basic", options[0].Title)
		assert.Equal(t, "price_basic", options[0].PriceID)
		assert.Equal(t, int64(900), options[0].UnitAmount)
	}
}

func TestService_StartOrChangeSubscription(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	t.Run("manager only", func(t *testing.T) {
		_, err := env.svc.StartOrChangeSubscription(ctx, env.sch.ID, "price_basic", 0, env.other.ID)
		assert.Equal(t, billing.ErrNotBillingManager, err)
	})

	t.Run("unknown price", func(t *testing.T) {
		_, err := env.svc.StartOrChangeSubscription(ctx, env.sch.ID, "price_bogus", 0, env.manager.ID)
		assert.Equal(t, school.ErrUnknownPrice, errors.Cause(err))
	})

	t.Run("enterprise seat floor rejected before any provider call", func(t *testing.T) {
		_, err := env.svc.StartOrChangeSubscription(ctx, env.sch.ID, "price_ent", 2, env.manager.ID)
		var vErr *core.ValidationError
		assert.ErrorAs(t, err, &vErr)
		// no customer was created: the gateway was never reached
		assert.Empty(t, env.school(t).BillingCustomerID)
	})

	t.Run("happy path", func(t *testing.T) {
		res, err := env.svc.StartOrChangeSubscription(ctx, env.sch.ID, "price_basic", 0, env.manager.ID)
		assert.NoError(t, err)
		assert.NotEmpty(t, res.SubscriptionID)
		assert.NotEmpty(t, res.InvoiceID)
		assert.NotZero(t, res.AmountDue)

		// plan and subscription handle are only written by the
		// reconciler once payment is confirmed
		sch := env.school(t)
		assert.Equal(t, school.PlanFree, sch.Plan)
		assert.Empty(t, sch.BillingSubscriptionID)
		assert.NotEmpty(t, sch.BillingCustomerID)
	})
}

func TestService_ChangeSeatQuantity(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	t.Run("no subscription", func(t *testing.T) {
		_, err := env.svc.ChangeSeatQuantity(ctx, env.sch.ID, 5, env.manager.ID)
		assert.Equal(t, billing.ErrNoSubscription, err)
	})

	// put the school on a reconciled enterprise subscription
	env.gw.SeedSubscription(billing.Subscription{
		ID: "sub_ent", CustomerID: "cus_001", PriceID: "price_ent",
		Status: billing.SubscriptionActive, Quantity: 5,
	})
	_, err := env.schoolSvc.SetBillingCustomer(env.sch.ID, "cus_001")
	assert.NoError(t, err)
	_, err = env.schoolSvc.ApplyPlanChange(env.sch.ID, school.PlanChange{
		Plan:           school.PlanEnterprise,
		Limits:         school.LimitsFor(school.PlanEnterprise, 5),
		SubscriptionID: "sub_ent",
		PriceID:        "price_ent",
	})
	assert.NoError(t, err)

	t.Run("manager only", func(t *testing.T) {
		_, err := env.svc.ChangeSeatQuantity(ctx, env.sch.ID, 6, env.other.ID)
		assert.Equal(t, billing.ErrNotBillingManager, err)
	})

	t.Run("seat floor", func(t *testing.T) {
		_, err := env.svc.ChangeSeatQuantity(ctx, env.sch.ID, 2, env.manager.ID)
		var vErr *core.ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("unchanged quantity", func(t *testing.T) {
		_, err := env.svc.ChangeSeatQuantity(ctx, env.sch.ID, 5, env.manager.ID)
		assert.Equal(t, billing.ErrSameQuantity, err)
	})

	t.Run("pending invoice blocks the change", func(t *testing.T) {
		env.gw.SeedInvoice(billing.Invoice{
			ID: "in_pending", SubscriptionID: "sub_ent",
			Status: billing.InvoiceOpen, AmountDue: 5000,
			HostedInvoiceURL: "https://pay.example.com/in_pending",
		})
		_, err := env.svc.ChangeSeatQuantity(ctx, env.sch.ID, 6, env.manager.ID)
		var pendingErr *billing.PaymentPendingError
		if assert.ErrorAs(t, err, &pendingErr) {
			assert.Equal(t, "in_pending", pendingErr.InvoiceID)
		}

		// settle it out of the way for the next subtest
		assert.NoError(t, env.gw.VoidInvoice(ctx, "in_pending"))
	})

	t.Run("happy path", func(t *testing.T) {
		res, err := env.svc.ChangeSeatQuantity(ctx, env.sch.ID, 6, env.manager.ID)
		assert.NoError(t, err)
		assert.Equal(t, int64(6), res.Subscription.Quantity)
		assert.NotEmpty(t, res.InvoiceID)
	})
}

func TestService_providerFailuresSurface(t *testing.T) {
	env := setup(t)
	env.gw.Err = errors.New("stripe: connection refused")

	_, err := env.svc.ListAvailablePlans(context.Background())
	assert.True(t, billing.IsProviderUnavailable(errors.Cause(err)))

	_, err = env.svc.OpenBillingPortal(context.Background(), env.sch.ID, env.manager.ID)
	assert.True(t, billing.IsProviderUnavailable(errors.Cause(err)))
}
