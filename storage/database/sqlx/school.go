package sqlxrepos

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/quota"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/school"
)

const schoolColumns = `id, name, description, plan, billing_customer_id, billing_subscription_id,
	billing_price_id, subscription_expires_at, billing_manager_id,
	class_count, member_count, subject_count, storage_bytes,
	limit_classes, limit_members, limit_subjects, limit_storage_bytes,
	created_at, updated_at`

// schoolRow maps the school table; nullable columns go through null types.
type schoolRow struct {
	ID                    string      `db:"id"`
	Name                  string      `db:"name"`
	Description           string      `db:"description"`
	Plan                  string      `db:"plan"`
	BillingCustomerID     string      `db:"billing_customer_id"`
	BillingSubscriptionID string      `db:"billing_subscription_id"`
	BillingPriceID        string      `db:"billing_price_id"`
	SubscriptionExpiresAt null.Time   `db:"subscription_expires_at"`
	BillingManagerID      null.String `db:"billing_manager_id"`
	ClassCount            int         `db:"class_count"`
	MemberCount           int         `db:"member_count"`
	SubjectCount          int         `db:"subject_count"`
	StorageBytes          int64       `db:"storage_bytes"`
	LimitClasses          int         `db:"limit_classes"`
	LimitMembers          int         `db:"limit_members"`
	LimitSubjects         int         `db:"limit_subjects"`
	LimitStorageBytes     int64       `db:"limit_storage_bytes"`
	CreatedAt             null.Time   `db:"created_at"`
	UpdatedAt             null.Time   `db:"updated_at"`
}

func (row schoolRow) toSchool() school.School {
	sch := school.School{
		ID:                    row.ID,
		Name:                  row.Name,
		Description:           row.Description,
		Plan:                  school.Plan(row.Plan),
		BillingCustomerID:     row.BillingCustomerID,
		BillingSubscriptionID: row.BillingSubscriptionID,
		BillingPriceID:        row.BillingPriceID,
		BillingManagerID:      row.BillingManagerID.String,
		ClassCount:            row.ClassCount,
		MemberCount:           row.MemberCount,
		SubjectCount:          row.SubjectCount,
		StorageBytes:          row.StorageBytes,
		LimitClasses:          row.LimitClasses,
		LimitMembers:          row.LimitMembers,
		LimitSubjects:         row.LimitSubjects,
		LimitStorageBytes:     row.LimitStorageBytes,
		CreatedAt:             row.CreatedAt.Time,
		UpdatedAt:             row.UpdatedAt.Time,
	}
	if row.SubscriptionExpiresAt.Valid {
		sch.SubscriptionExpiresAt = row.SubscriptionExpiresAt.Time
	}
	return sch
}

type schoolRepository struct {
	db *sqlx.DB
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *sql.DB) school.Repository {
	return &schoolRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo *schoolRepository) CreateSchool(sch school.School) (school.School, error) {
	query := `
		INSERT INTO school (` + schoolColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	_, err := repo.db.Exec(query,
		sch.ID, sch.Name, sch.Description, string(sch.Plan),
		sch.BillingCustomerID, sch.BillingSubscriptionID, sch.BillingPriceID,
		null.TimeFromPtr(timePtr(sch.SubscriptionExpiresAt)), null.NewString(sch.BillingManagerID, sch.BillingManagerID != ""),
		sch.ClassCount, sch.MemberCount, sch.SubjectCount, sch.StorageBytes,
		sch.LimitClasses, sch.LimitMembers, sch.LimitSubjects, sch.LimitStorageBytes,
		sch.CreatedAt, sch.UpdatedAt,
	)
	if err != nil {
		return school.School{}, errors.Wrap(err, "inserting school")
	}
	return sch, nil
}

func (repo *schoolRepository) get(where string, arg interface{}) (school.School, error) {
	var row schoolRow
	query := `SELECT ` + schoolColumns + ` FROM school WHERE ` + where
	if err := repo.db.Get(&row, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return school.School{}, school.ErrNotFound
		}
		return school.School{}, errors.Wrap(err, "getting school")
	}
	return row.toSchool(), nil
}

func (repo *schoolRepository) GetSchoolByID(id string) (school.School, error) {
	return repo.get("id = $1", id)
}

func (repo *schoolRepository) GetSchoolByCustomerID(customerID string) (school.School, error) {
	if customerID == "" {
		return school.School{}, school.ErrNotFound
	}
	return repo.get("billing_customer_id = $1", customerID)
}

func (repo *schoolRepository) GetSchoolBySubscriptionID(subscriptionID string) (school.School, error) {
	if subscriptionID == "" {
		return school.School{}, school.ErrNotFound
	}
	return repo.get("billing_subscription_id = $1", subscriptionID)
}

func (repo *schoolRepository) QueryAllSchools() ([]school.School, error) {
	var rows []schoolRow
	query := `SELECT ` + schoolColumns + ` FROM school ORDER BY created_at`
	if err := repo.db.Select(&rows, query); err != nil {
		return nil, errors.Wrap(err, "querying schools")
	}
	schools := make([]school.School, 0, len(rows))
	for _, row := range rows {
		schools = append(schools, row.toSchool())
	}
	return schools, nil
}

func (repo *schoolRepository) ApplyPlanChange(id string, change school.PlanChange) (school.School, error) {
	query := `
		UPDATE school
		SET plan                    = $2,
			billing_subscription_id = $3,
			billing_price_id        = $4,
			subscription_expires_at = $5,
			limit_classes           = $6,
			limit_members           = $7,
			limit_subjects          = $8,
			limit_storage_bytes     = $9,
			updated_at              = now()
		WHERE id = $1
		RETURNING ` + schoolColumns
	var row schoolRow
	err := repo.db.Get(&row, query,
		id, string(change.Plan), change.SubscriptionID, change.PriceID,
		null.TimeFromPtr(timePtr(change.ExpiresAt)),
		change.Limits.MaxClasses, change.Limits.MaxMembers, change.Limits.MaxSubjects, change.Limits.MaxStorageBytes,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return school.School{}, school.ErrNotFound
		}
		return school.School{}, errors.Wrap(err, "applying plan change")
	}
	return row.toSchool(), nil
}

func (repo *schoolRepository) SetBillingCustomer(id, customerID string) (school.School, error) {
	// the empty-handle guard keeps the handle write-once even if two
	// instances race past the service check
	query := `
		UPDATE school
		SET billing_customer_id = $2, updated_at = now()
		WHERE id = $1 AND (billing_customer_id = '' OR billing_customer_id = $2)
		RETURNING ` + schoolColumns
	var row schoolRow
	if err := repo.db.Get(&row, query, id, customerID); err != nil {
		if err == sql.ErrNoRows {
			if _, getErr := repo.GetSchoolByID(id); getErr != nil {
				return school.School{}, getErr
			}
			return school.School{}, school.ErrCustomerAssigned
		}
		return school.School{}, errors.Wrap(err, "setting billing customer")
	}
	return row.toSchool(), nil
}

func (repo *schoolRepository) SetBillingManager(id, userID string) (school.School, error) {
	query := `
		UPDATE school
		SET billing_manager_id = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + schoolColumns
	var row schoolRow
	if err := repo.db.Get(&row, query, id, null.NewString(userID, userID != "")); err != nil {
		if err == sql.ErrNoRows {
			return school.School{}, school.ErrNotFound
		}
		return school.School{}, errors.Wrap(err, "setting billing manager")
	}
	return row.toSchool(), nil
}

var usageColumns = map[quota.Resource]string{
	quota.ResourceClasses:  "class_count",
	quota.ResourceMembers:  "member_count",
	quota.ResourceSubjects: "subject_count",
	quota.ResourceStorage:  "storage_bytes",
}

func (repo *schoolRepository) AdjustUsage(id string, res quota.Resource, delta int64) (school.School, error) {
	col, ok := usageColumns[res]
	if !ok {
		return school.School{}, errors.Errorf("unknown resource: %s", res)
	}

	// the storage guard re-checks the ceiling in SQL; with several API
	// instances the in-process lock alone cannot serialize the write
	guard := ""
	if res == quota.ResourceStorage && delta > 0 {
		guard = " AND storage_bytes + $2 <= limit_storage_bytes"
	}

	query := fmt.Sprintf(`
		UPDATE school
		SET %[1]s = GREATEST(0, %[1]s + $2), updated_at = now()
		WHERE id = $1%[2]s
		RETURNING `+schoolColumns, col, guard)
	var row schoolRow
	if err := repo.db.Get(&row, query, id, delta); err != nil {
		if err == sql.ErrNoRows {
			sch, getErr := repo.GetSchoolByID(id)
			if getErr != nil {
				return school.School{}, getErr
			}
			return school.School{}, &quota.LimitError{Resource: res, Limit: sch.LimitStorageBytes}
		}
		return school.School{}, errors.Wrap(err, "adjusting usage")
	}
	return row.toSchool(), nil
}
