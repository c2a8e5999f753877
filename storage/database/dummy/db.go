package dummydb

import (
	"sync"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/school"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/user"
)

type (
	DB struct {
		school *schoolTable
		user   *userTable
	}

	schoolTable struct {
		sync.RWMutex
		table map[string]*school.School
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}
)

func Open() (*DB, error) {
	db := &DB{
		school: &schoolTable{table: make(map[string]*school.School)},
		user:   &userTable{table: make(map[string]*user.User)},
	}
	return db, nil
}
