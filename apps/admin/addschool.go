package main

import (
	"fmt"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/school"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/user"
)

// addSchool creates a school on the free plan along with its owner
// account, and makes the owner the billing manager.
func (cli *commandLine) addSchool(name, description, email, ownerName, pwd string) error {
	email = core.CleanString(email, true /* lower */)
	if ownerName == "" {
		ownerName = email
	}

	sch, err := cli.schoolSvc.Create(school.NewSchool{
		Name:        core.CleanString(name),
		Description: core.CleanString(description),
	})
	if err != nil {
		return err
	}

	owner, err := cli.usrSvc.Create(user.NewUser{
		SchoolID:        sch.ID,
		Name:            ownerName,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		Roles:           []string{user.RoleAdminOwner},
	})
	if err != nil {
		return err
	}

	if _, err = cli.schoolSvc.SetBillingManager(sch.ID, owner.ID); err != nil {
		return err
	}

	fmt.Printf("school %q created (id %s) on the %s plan; owner %s\n", sch.Name, sch.ID, sch.Plan, owner.Email)
	return nil
}
