package main

import (
	"time"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core"
)

func (cli *commandLine) resetPassword(email, pwd string) error {
	usr, err := cli.usrSvc.GetByEmail(core.CleanString(email, true /* lower */))
	if err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	if _, err = cli.usrSvc.Update(usr); err != nil {
		return err
	}
	return nil
}
