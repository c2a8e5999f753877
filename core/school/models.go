package school

import (
	"time"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/quota"
)

// Plan is a school's subscription tier.
type Plan string

const (
	PlanFree       Plan = "FREE"
	PlanBasic      Plan = "BASIC"
	PlanPremium    Plan = "PREMIUM"
	PlanEnterprise Plan = "ENTERPRISE"
)

var AllPlans = []Plan{PlanFree, PlanBasic, PlanPremium, PlanEnterprise}

func (p Plan) Valid() bool {
	for _, known := range AllPlans {
		if p == known {
			return true
		}
	}
	return false
}

// School is the billable tenant unit.
type School struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Plan Plan `json:"plan"`
	// BillingCustomerID is the provider's customer handle;
	// created exactly once per school and never changed after.
	BillingCustomerID     string    `json:"billing_customer_id,omitempty"`
	BillingSubscriptionID string    `json:"billing_subscription_id,omitempty"`
	BillingPriceID        string    `json:"billing_price_id,omitempty"`
	SubscriptionExpiresAt time.Time `json:"subscription_expires_at,omitempty"` // UTC
	BillingManagerID      string    `json:"billing_manager_id,omitempty"`

	// usage counters
	ClassCount   int   `json:"class_count"`
	MemberCount  int   `json:"member_count"`
	SubjectCount int   `json:"subject_count"`
	StorageBytes int64 `json:"storage_bytes"`

	// plan ceilings, refreshed whenever Plan changes
	LimitClasses      int   `json:"limit_classes"`
	LimitMembers      int   `json:"limit_members"`
	LimitSubjects     int   `json:"limit_subjects"`
	LimitStorageBytes int64 `json:"limit_storage_bytes"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (s *School) Limits() quota.Limits {
	return quota.Limits{
		MaxClasses:      s.LimitClasses,
		MaxMembers:      s.LimitMembers,
		MaxSubjects:     s.LimitSubjects,
		MaxStorageBytes: s.LimitStorageBytes,
	}
}

func (s *School) Usage() quota.Usage {
	return quota.Usage{
		Classes:      s.ClassCount,
		Members:      s.MemberCount,
		Subjects:     s.SubjectCount,
		StorageBytes: s.StorageBytes,
	}
}

func (s *School) setLimits(limits quota.Limits) {
	s.LimitClasses = limits.MaxClasses
	s.LimitMembers = limits.MaxMembers
	s.LimitSubjects = limits.MaxSubjects
	s.LimitStorageBytes = limits.MaxStorageBytes
}

// NewSchool contains information needed to create a new School.
type NewSchool struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (ns *NewSchool) Validate(svc *Service) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Description = core.CleanString(ns.Description)
	return svc.validate.Struct(ns)
}

// PlanChange is the reconciled billing state applied to a school.
// Empty SubscriptionID/PriceID clear the stored handles (FREE downgrade).
type PlanChange struct {
	Plan           Plan
	Limits         quota.Limits
	SubscriptionID string
	PriceID        string
	ExpiresAt      time.Time
}
