package school_test

import (
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/quota"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/school"
	dummydb "github.com/tatuga-camp/server-main-tatugaschool-sub003/storage/database/dummy"
)

func setup(t *testing.T) *school.Service {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	return school.NewService(dummydb.NewSchoolRepository(db), validator.New())
}

func createSchool(t *testing.T, svc *school.Service, name string) school.School {
	sch, err := svc.Create(school.NewSchool{Name: name})
	if err != nil {
		t.Fatalf("createSchool() failed: %v", err)
	}
	return sch
}

func TestService_Create_startsOnFreePlan(t *testing.T) {
	svc := setup(t)
	sch := createSchool(t, svc, "Kivu High")

	assert.NotEmpty(t, sch.ID)
	assert.Equal(t, school.PlanFree, sch.Plan)
	assert.Equal(t, school.LimitsFor(school.PlanFree, 1), sch.Limits())
	assert.Empty(t, sch.BillingCustomerID)
	assert.Empty(t, sch.BillingSubscriptionID)
}

func TestService_AddClass_enforcesCeiling(t *testing.T) {
	svc := setup(t)
	sch := createSchool(t, svc, "Kivu High") // FREE: 3 classes

	for i := 1; i <= 3; i++ {
		got, err := svc.AddClass(sch.ID)
		assert.NoError(t, err)
		assert.Equal(t, i, got.ClassCount)
	}

	_, err := svc.AddClass(sch.ID)
	var limitErr *quota.LimitError
	if assert.ErrorAs(t, err, &limitErr) {
		assert.Equal(t, quota.ResourceClasses, limitErr.Resource)
		assert.Equal(t, int64(3), limitErr.Limit)
	}

	// freeing a slot admits the next create
	_, err = svc.RemoveClass(sch.ID)
	assert.NoError(t, err)
	got, err := svc.AddClass(sch.ID)
	assert.NoError(t, err)
	assert.Equal(t, 3, got.ClassCount)
}

func TestService_RemoveClass_floorsAtZero(t *testing.T) {
	svc := setup(t)
	sch := createSchool(t, svc, "Kivu High")

	got, err := svc.RemoveClass(sch.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, got.ClassCount)
}

func TestService_AddMember_concurrentNeverOvershoots(t *testing.T) {
	svc := setup(t)
	sch := createSchool(t, svc, "Kivu High") // FREE: 2 members

	var wg sync.WaitGroup
	var mu sync.Mutex
	var admitted, rejected int
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddMember(sch.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else if quota.IsLimitError(err) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, admitted)
	assert.Equal(t, 18, rejected)

	got, err := svc.GetByID(sch.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, got.MemberCount)
}

func TestService_Storage(t *testing.T) {
	svc := setup(t)
	sch := createSchool(t, svc, "Kivu High")

	// shrink the ceiling to make the numbers readable
	sch, err := svc.ApplyPlanChange(sch.ID, school.PlanChange{
		Plan:   school.PlanFree,
		Limits: quota.Limits{MaxClasses: 3, MaxMembers: 2, MaxSubjects: 3, MaxStorageBytes: 100},
	})
	assert.NoError(t, err)

	sch, err = svc.ReserveStorage(sch.ID, 90)
	assert.NoError(t, err)
	assert.Equal(t, int64(90), sch.StorageBytes)

	// at 90/100: +20 rejected, +5 admitted, -5 always admitted
	_, err = svc.ReserveStorage(sch.ID, 20)
	assert.True(t, quota.IsLimitError(err))

	sch, err = svc.ReserveStorage(sch.ID, 5)
	assert.NoError(t, err)
	assert.Equal(t, int64(95), sch.StorageBytes)

	sch, err = svc.ReleaseStorage(sch.ID, 5)
	assert.NoError(t, err)
	assert.Equal(t, int64(90), sch.StorageBytes)

	// release takes a positive size
	_, err = svc.ReleaseStorage(sch.ID, -5)
	assert.Equal(t, school.ErrNegativeQuantity, err)

	// releasing more than held floors at zero
	sch, err = svc.ReleaseStorage(sch.ID, 1000)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), sch.StorageBytes)
}

func TestService_SetBillingCustomer_writeOnce(t *testing.T) {
	svc := setup(t)
	sch := createSchool(t, svc, "Kivu High")

	got, err := svc.SetBillingCustomer(sch.ID, "cus_001")
	assert.NoError(t, err)
	assert.Equal(t, "cus_001", got.BillingCustomerID)

	// same value is idempotent
	got, err = svc.SetBillingCustomer(sch.ID, "cus_001")
	assert.NoError(t, err)
	assert.Equal(t, "cus_001", got.BillingCustomerID)

	// a different handle never replaces the stored one
	_, err = svc.SetBillingCustomer(sch.ID, "cus_002")
	assert.Equal(t, school.ErrCustomerAssigned, err)

	_, err = svc.SetBillingCustomer("nope", "cus_003")
	assert.Equal(t, school.ErrNotFound, err)
}

func TestService_ApplyPlanChange(t *testing.T) {
	svc := setup(t)
	sch := createSchool(t, svc, "Kivu High")

	limits := school.LimitsFor(school.PlanPremium, 1)
	got, err := svc.ApplyPlanChange(sch.ID, school.PlanChange{
		Plan:           school.PlanPremium,
		Limits:         limits,
		SubscriptionID: "sub_001",
		PriceID:        "price_premium",
	})
	assert.NoError(t, err)
	assert.Equal(t, school.PlanPremium, got.Plan)
	assert.Equal(t, "sub_001", got.BillingSubscriptionID)
	assert.Equal(t, limits, got.Limits())

	// downgrading with empty handles clears them
	got, err = svc.ApplyPlanChange(sch.ID, school.PlanChange{
		Plan:   school.PlanFree,
		Limits: school.LimitsFor(school.PlanFree, 1),
	})
	assert.NoError(t, err)
	assert.Equal(t, school.PlanFree, got.Plan)
	assert.Empty(t, got.BillingSubscriptionID)
	assert.Empty(t, got.BillingPriceID)
	assert.True(t, got.SubscriptionExpiresAt.IsZero())
}

func TestService_GetByCustomerAndSubscription(t *testing.T) {
	svc := setup(t)
	sch := createSchool(t, svc, "Kivu High")

	_, err := svc.GetByCustomerID("")
	assert.Equal(t, school.ErrNotFound, err)
	_, err = svc.GetBySubscriptionID("")
	assert.Equal(t, school.ErrNotFound, err)

	_, err = svc.SetBillingCustomer(sch.ID, "cus_001")
	assert.NoError(t, err)
	_, err = svc.ApplyPlanChange(sch.ID, school.PlanChange{
		Plan:           school.PlanBasic,
		Limits:         school.LimitsFor(school.PlanBasic, 1),
		SubscriptionID: "sub_001",
	})
	assert.NoError(t, err)

	got, err := svc.GetByCustomerID("cus_001")
	assert.NoError(t, err)
	assert.Equal(t, sch.ID, got.ID)

	got, err = svc.GetBySubscriptionID("sub_001")
	assert.NoError(t, err)
	assert.Equal(t, sch.ID, got.ID)
}
