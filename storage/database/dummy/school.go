package dummydb

import (
	"sort"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/quota"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/school"
)

type schoolRepository struct {
	db *schoolTable
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *DB) school.Repository {
	return &schoolRepository{db: db.school}
}

func (repo *schoolRepository) query() []school.School {
	schools := make([]school.School, 0, len(repo.db.table))
	for _, sch := range repo.db.table {
		schools = append(schools, *sch)
	}
	sort.Slice(schools, func(i, j int) bool { return schools[i].CreatedAt.Before(schools[j].CreatedAt) })
	return schools
}

func (repo *schoolRepository) CreateSchool(sch school.School) (school.School, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.table[sch.ID] = &sch
	return sch, nil
}

func (repo *schoolRepository) GetSchoolByID(id string) (school.School, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sch, ok := repo.db.table[id]; ok {
		return *sch, nil
	}
	return school.School{}, school.ErrNotFound
}

func (repo *schoolRepository) GetSchoolByCustomerID(customerID string) (school.School, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if customerID != "" {
		for _, sch := range repo.query() {
			if sch.BillingCustomerID == customerID {
				return sch, nil
			}
		}
	}
	return school.School{}, school.ErrNotFound
}

func (repo *schoolRepository) GetSchoolBySubscriptionID(subscriptionID string) (school.School, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if subscriptionID != "" {
		for _, sch := range repo.query() {
			if sch.BillingSubscriptionID == subscriptionID {
				return sch, nil
			}
		}
	}
	return school.School{}, school.ErrNotFound
}

func (repo *schoolRepository) QueryAllSchools() ([]school.School, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.query(), nil
}

func (repo *schoolRepository) ApplyPlanChange(id string, change school.PlanChange) (school.School, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sch, ok := repo.db.table[id]
	if !ok {
		return school.School{}, school.ErrNotFound
	}
	sch.Plan = change.Plan
	sch.BillingSubscriptionID = change.SubscriptionID
	sch.BillingPriceID = change.PriceID
	sch.SubscriptionExpiresAt = change.ExpiresAt
	sch.LimitClasses = change.Limits.MaxClasses
	sch.LimitMembers = change.Limits.MaxMembers
	sch.LimitSubjects = change.Limits.MaxSubjects
	sch.LimitStorageBytes = change.Limits.MaxStorageBytes
	return *sch, nil
}

func (repo *schoolRepository) SetBillingCustomer(id, customerID string) (school.School, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sch, ok := repo.db.table[id]
	if !ok {
		return school.School{}, school.ErrNotFound
	}
	if sch.BillingCustomerID != "" && sch.BillingCustomerID != customerID {
		return school.School{}, school.ErrCustomerAssigned
	}
	sch.BillingCustomerID = customerID
	return *sch, nil
}

func (repo *schoolRepository) SetBillingManager(id, userID string) (school.School, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sch, ok := repo.db.table[id]
	if !ok {
		return school.School{}, school.ErrNotFound
	}
	sch.BillingManagerID = userID
	return *sch, nil
}

func (repo *schoolRepository) AdjustUsage(id string, res quota.Resource, delta int64) (school.School, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sch, ok := repo.db.table[id]
	if !ok {
		return school.School{}, school.ErrNotFound
	}
	switch res {
	case quota.ResourceClasses:
		sch.ClassCount = floorInt(sch.ClassCount + int(delta))
	case quota.ResourceMembers:
		sch.MemberCount = floorInt(sch.MemberCount + int(delta))
	case quota.ResourceSubjects:
		sch.SubjectCount = floorInt(sch.SubjectCount + int(delta))
	case quota.ResourceStorage:
		sch.StorageBytes += delta
		if sch.StorageBytes < 0 {
			sch.StorageBytes = 0
		}
	}
	return *sch, nil
}

func floorInt(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
