package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/registry"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp       = errors.New("help provided")
	errNoDatabase = errors.New("migrate needs a database: set DATABASE_ENGINE")
)

type commandLine struct {
	conf       *core.Config
	logger     core.Logger
	db         *sql.DB // nil with in-memory storage
	registry   *registry.Service
	validate   *validator.Validate
	translator ut.Translator
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  serve                                - start the API server")
	fmt.Println("  migrate COMMAND [ARGS]               - run a goose migration command (up, down, status, redo...)")
	fmt.Println("  adduser -username USERNAME [-name N] - create an operator or reset their password")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserUname := addUserCmd.String("username", "", "The operator's username. The password will be prompted next.")
	addUserName := addUserCmd.String("name", "", "The operator's full name.")

	switch args[1] {
	case "serve":
		return cli.serve()
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" {
			addUserCmd.Usage()
			return errHelp
		}
		fmt.Print("Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserUname, *addUserName, string(pwd))
	default:
		cli.printUsage()
		return errHelp
	}
}
