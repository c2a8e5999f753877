package quota

import (
	"fmt"
)

// Resource identifies a plan-gated resource kind.
type Resource string

const (
	ResourceClasses  Resource = "classes"
	ResourceMembers  Resource = "members"
	ResourceSubjects Resource = "subjects"
	ResourceStorage  Resource = "storage"
)

type (
	// Limits holds the ceilings a plan grants a school.
	Limits struct {
		MaxClasses      int   `json:"max_classes"`
		MaxMembers      int   `json:"max_members"`
		MaxSubjects     int   `json:"max_subjects"`
		MaxStorageBytes int64 `json:"max_storage_bytes"`
	}

	// Usage holds a school's current resource counters.
	Usage struct {
		Classes      int   `json:"classes"`
		Members      int   `json:"members"`
		Subjects     int   `json:"subjects"`
		StorageBytes int64 `json:"storage_bytes"`
	}
)

// LimitError indicates a proposed resource count was rejected
// because the school's plan ceiling for that resource was hit.
type LimitError struct {
	Resource Resource
	Limit    int64
}

func (err *LimitError) Error() string {
	return fmt.Sprintf("%s limit reached (%d allowed on the current plan)", err.Resource, err.Limit)
}

// CheckLimit admits or rejects a proposed resource-count change.
//
// For classes/members/subjects, `proposed` is the count the resource
// would become after the operation. For storage, `proposed` is a byte
// delta added to the current total; negative deltas (deletions) always
// admit. The check itself takes no locks; callers serialize
// check-and-write per school (see KeyedMutex).
func CheckLimit(limits Limits, usage Usage, res Resource, proposed int64) error {
	switch res {
	case ResourceClasses:
		if proposed > int64(limits.MaxClasses) {
			return &LimitError{Resource: res, Limit: int64(limits.MaxClasses)}
		}
	case ResourceMembers:
		if proposed > int64(limits.MaxMembers) {
			return &LimitError{Resource: res, Limit: int64(limits.MaxMembers)}
		}
	case ResourceSubjects:
		if proposed > int64(limits.MaxSubjects) {
			return &LimitError{Resource: res, Limit: int64(limits.MaxSubjects)}
		}
	case ResourceStorage:
		if proposed <= 0 {
			return nil
		}
		if usage.StorageBytes+proposed > limits.MaxStorageBytes {
			return &LimitError{Resource: res, Limit: limits.MaxStorageBytes}
		}
	default:
		return fmt.Errorf("unknown resource kind %q", res)
	}
	return nil
}

// IsLimitError reports whether err is a quota rejection.
func IsLimitError(err error) bool {
	_, ok := err.(*LimitError)
	return ok
}
