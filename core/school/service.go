package school

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/quota"
)

var (
	// errors
	ErrNotFound         = errors.New("school not found")
	ErrCustomerAssigned = errors.New("school already has a billing customer")
	ErrNegativeQuantity = errors.New("usage counters cannot go negative")
)

type (
	Repository interface {
		CreateSchool(sch School) (School, error)
		GetSchoolByID(id string) (School, error)
		GetSchoolByCustomerID(customerID string) (School, error)
		GetSchoolBySubscriptionID(subscriptionID string) (School, error)
		QueryAllSchools() ([]School, error)
		// ApplyPlanChange overwrites plan, ceilings and subscription handles.
		// Empty SubscriptionID/PriceID and a zero ExpiresAt clear the stored values.
		ApplyPlanChange(id string, change PlanChange) (School, error)
		SetBillingCustomer(id, customerID string) (School, error)
		SetBillingManager(id, userID string) (School, error)
		// AdjustUsage applies a delta to a usage counter, flooring at zero.
		AdjustUsage(id string, res quota.Resource, delta int64) (School, error)
	}

	// Service is the tenant aggregate around School records. Resource
	// counter mutations go through a per-school lock so the quota check
	// and the counter write happen as one serialized step.
	Service struct {
		repo     Repository
		validate *validator.Validate
		locks    *quota.KeyedMutex
	}
)

func NewService(repo Repository, validate *validator.Validate) *Service {
	return &Service{
		repo:     repo,
		validate: validate,
		locks:    quota.NewKeyedMutex(),
	}
}

func (svc *Service) Create(ns NewSchool) (School, error) {
	now := time.Now().UTC()
	sch := School{
		ID:          uuid.New().String(),
		Name:        ns.Name,
		Description: ns.Description,
		Plan:        PlanFree,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	sch.setLimits(LimitsFor(PlanFree, 1))
	return svc.repo.CreateSchool(sch)
}

func (svc *Service) GetByID(id string) (School, error) {
	return svc.repo.GetSchoolByID(id)
}

func (svc *Service) GetByCustomerID(customerID string) (School, error) {
	return svc.repo.GetSchoolByCustomerID(customerID)
}

func (svc *Service) GetBySubscriptionID(subscriptionID string) (School, error) {
	return svc.repo.GetSchoolBySubscriptionID(subscriptionID)
}

func (svc *Service) QueryAll() ([]School, error) {
	return svc.repo.QueryAllSchools()
}

// ApplyPlanChange is the reconciler's write primitive; nothing else
// mutates plan/subscription fields.
func (svc *Service) ApplyPlanChange(id string, change PlanChange) (School, error) {
	return svc.repo.ApplyPlanChange(id, change)
}

// SetBillingCustomer records the provider customer handle. The handle
// is created exactly once per school; replacing an existing one fails.
func (svc *Service) SetBillingCustomer(id, customerID string) (School, error) {
	sch, err := svc.repo.GetSchoolByID(id)
	if err != nil {
		return School{}, err
	}
	if sch.BillingCustomerID != "" && sch.BillingCustomerID != customerID {
		return School{}, ErrCustomerAssigned
	}
	if sch.BillingCustomerID == customerID {
		return sch, nil
	}
	return svc.repo.SetBillingCustomer(id, customerID)
}

func (svc *Service) SetBillingManager(id, userID string) (School, error) {
	return svc.repo.SetBillingManager(id, userID)
}

// CheckLimit is the advisory admit/reject decision for a proposed
// resource-count change; see quota.CheckLimit for semantics.
func (svc *Service) CheckLimit(sch School, res quota.Resource, proposed int64) error {
	return quota.CheckLimit(sch.Limits(), sch.Usage(), res, proposed)
}

// addOne re-reads the school and bumps a counter while holding the
// per-school lock, closing the check-then-write race.
func (svc *Service) addOne(id string, res quota.Resource) (School, error) {
	var sch School
	err := svc.locks.Do(id, func() error {
		fresh, err := svc.repo.GetSchoolByID(id)
		if err != nil {
			return err
		}
		var proposed int64
		switch res {
		case quota.ResourceClasses:
			proposed = int64(fresh.ClassCount) + 1
		case quota.ResourceMembers:
			proposed = int64(fresh.MemberCount) + 1
		case quota.ResourceSubjects:
			proposed = int64(fresh.SubjectCount) + 1
		}
		if err = quota.CheckLimit(fresh.Limits(), fresh.Usage(), res, proposed); err != nil {
			return err
		}
		sch, err = svc.repo.AdjustUsage(id, res, 1)
		return err
	})
	return sch, err
}

func (svc *Service) removeOne(id string, res quota.Resource) (School, error) {
	var sch School
	err := svc.locks.Do(id, func() error {
		var err error
		sch, err = svc.repo.AdjustUsage(id, res, -1)
		return err
	})
	return sch, err
}

func (svc *Service) AddClass(id string) (School, error)     { return svc.addOne(id, quota.ResourceClasses) }
func (svc *Service) RemoveClass(id string) (School, error)  { return svc.removeOne(id, quota.ResourceClasses) }
func (svc *Service) AddMember(id string) (School, error)    { return svc.addOne(id, quota.ResourceMembers) }
func (svc *Service) RemoveMember(id string) (School, error) { return svc.removeOne(id, quota.ResourceMembers) }
func (svc *Service) AddSubject(id string) (School, error)   { return svc.addOne(id, quota.ResourceSubjects) }
func (svc *Service) RemoveSubject(id string) (School, error) {
	return svc.removeOne(id, quota.ResourceSubjects)
}

// ReserveStorage admits and commits a storage delta in bytes. Upload
// paths call it with the file size before writing the object; delete
// paths call ReleaseStorage to free quota.
func (svc *Service) ReserveStorage(id string, bytes int64) (School, error) {
	var sch School
	err := svc.locks.Do(id, func() error {
		fresh, err := svc.repo.GetSchoolByID(id)
		if err != nil {
			return err
		}
		if err = quota.CheckLimit(fresh.Limits(), fresh.Usage(), quota.ResourceStorage, bytes); err != nil {
			return err
		}
		sch, err = svc.repo.AdjustUsage(id, quota.ResourceStorage, bytes)
		return err
	})
	return sch, err
}

func (svc *Service) ReleaseStorage(id string, bytes int64) (School, error) {
	if bytes < 0 {
		return School{}, ErrNegativeQuantity
	}
	var sch School
	err := svc.locks.Do(id, func() error {
		var err error
		sch, err = svc.repo.AdjustUsage(id, quota.ResourceStorage, -bytes)
		return err
	})
	return sch, err
}
