package main

import (
	"context"
	"fmt"

	"github.com/trezcool/presensi/core/registry"
)

// addUser creates an operator, or resets the password of an existing one and reactivates it.
func (cli *commandLine) addUser(uname, name, pwd string) error {
	op, err := cli.registry.SaveOperator(context.Background(), registry.NewOperator{
		Username: uname,
		Name:     name,
		Password: pwd,
	})
	if err != nil {
		return err
	}
	fmt.Printf("operator %q saved\n", op.Username)
	return nil
}
