package sqlxrepos

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/user"
)

const userColumns = `id, school_id, name, email, is_active, roles, password_hash,
	created_at, updated_at, last_login`

type userRow struct {
	ID           string         `db:"id"`
	SchoolID     null.String    `db:"school_id"`
	Name         string         `db:"name"`
	Email        string         `db:"email"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    null.Time      `db:"created_at"`
	UpdatedAt    null.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func (row userRow) toUser() user.User {
	usr := user.User{
		ID:           row.ID,
		SchoolID:     row.SchoolID.String,
		Name:         row.Name,
		Email:        row.Email,
		IsActive:     row.IsActive,
		Roles:        row.Roles,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt.Time,
		UpdatedAt:    row.UpdatedAt.Time,
	}
	if row.LastLogin.Valid {
		usr.LastLogin = row.LastLogin.Time
	}
	return usr
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sql.DB) user.Repository {
	return &userRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo *userRepository) CheckEmailUniqueness(email string, excludedUsers ...user.User) error {
	excluded := make([]string, 0, len(excludedUsers))
	for _, usr := range excludedUsers {
		excluded = append(excluded, usr.ID)
	}

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM "user" WHERE email = $1 AND NOT (id = ANY ($2)))`
	if err := repo.db.Get(&exists, query, email, pq.Array(excluded)); err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if exists {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(usr user.User) (user.User, error) {
	query := `
		INSERT INTO "user" (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := repo.db.Exec(query,
		usr.ID, null.NewString(usr.SchoolID, usr.SchoolID != ""), usr.Name, usr.Email,
		usr.IsActive, pq.Array(usr.Roles), usr.PasswordHash,
		usr.CreatedAt, usr.UpdatedAt, null.TimeFromPtr(timePtr(usr.LastLogin)),
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) get(where string, arg interface{}) (user.User, error) {
	var row userRow
	query := `SELECT ` + userColumns + ` FROM "user" WHERE ` + where
	if err := repo.db.Get(&row, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) GetUserByID(id string) (user.User, error) {
	return repo.get("id = $1", id)
}

func (repo *userRepository) GetUserByEmail(email string) (user.User, error) {
	return repo.get("email = $1", email)
}

func (repo *userRepository) QueryUsersBySchool(schoolID string) ([]user.User, error) {
	var rows []userRow
	query := `SELECT ` + userColumns + ` FROM "user" WHERE school_id = $1 ORDER BY created_at`
	if err := repo.db.Select(&rows, query, schoolID); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(usr user.User) (user.User, error) {
	query := `
		UPDATE "user"
		SET name = $2, email = $3, is_active = $4, roles = $5, password_hash = $6, updated_at = $7
		WHERE id = $1
		RETURNING ` + userColumns
	var row userRow
	err := repo.db.Get(&row, query,
		usr.ID, usr.Name, usr.Email, usr.IsActive, pq.Array(usr.Roles), usr.PasswordHash, usr.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) SetLastLogin(usr user.User, at time.Time) (user.User, error) {
	query := `UPDATE "user" SET last_login = $2 WHERE id = $1 RETURNING ` + userColumns
	var row userRow
	if err := repo.db.Get(&row, query, usr.ID, at); err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "setting last login")
	}
	return row.toUser(), nil
}

// timePtr converts a zero time to nil so it lands as SQL NULL.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
