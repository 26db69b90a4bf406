package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/importer"
	"github.com/trezcool/presensi/core/mapping"
	"github.com/trezcool/presensi/services/restapi"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp        = errors.New("help provided")
	errNotLoggedIn = errors.New("not logged in: run `reconcile login -username USERNAME` first")
)

type commandLine struct {
	client     *restapi.Client
	mapping    *mapping.Service
	importer   *importer.Service
	prompter   core.Prompter
	logger     core.Logger
	validate   *validator.Validate
	translator ut.Translator
	out        io.Writer
}

func newCommandLine(
	conf *core.Config,
	client *restapi.Client,
	prompter core.Prompter,
	logger core.Logger,
	validate *validator.Validate,
	translator ut.Translator,
	out io.Writer,
) *commandLine {
	mappingSvc := mapping.NewService(client, mapping.NewStore(logger), mapping.Options{
		Concurrency: conf.Backend.BatchConcurrency,
		RateLimit:   conf.Backend.RateLimit,
		Logger:      logger,
		Validate:    validate,
		Translator:  translator,
	})
	return &commandLine{
		client:     client,
		mapping:    mappingSvc,
		importer:   importer.NewService(client, mappingSvc, logger, validate, translator),
		prompter:   prompter,
		logger:     logger,
		validate:   validate,
		translator: translator,
		out:        out,
	}
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	fmt.Fprintf(cli.out, format, args...)
}

func (cli *commandLine) printUsage() {
	cli.printf("Usage:\n")
	cli.printf("  login -username USERNAME                           - log in, the password is prompted next\n")
	cli.printf("  logout                                             - forget the stored credentials\n")
	cli.printf("  students [-search Q]                               - list the student roster\n")
	cli.printf("  suggestions [-status S] [-search Q]                - list mapping suggestions (all|pending|verified|rejected)\n")
	cli.printf("  verify -id N[,N...]                                - verify suggestions\n")
	cli.printf("  reject -id N[,N...]                                - reject suggestions\n")
	cli.printf("  map -machine-user ID -nis NIS                      - map a machine user to a student manually\n")
	cli.printf("  candidates -machine-user ID [-limit N]             - rank the roster against a machine user\n")
	cli.printf("  automap                                            - recompute suggestions for unmapped machine users\n")
	cli.printf("  import -step STEP -file F [-machine M] [-period P] - run one import step (master-data|machine-users|attendance)\n")
	cli.printf("  preview -file F -machine M                         - preview an attendance file\n")
	cli.printf("  wizard [-students F] [-users F] [-attendance F] [-machine M] [-period P] - walk the four import steps\n")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	loginCmd := flag.NewFlagSet("login", flag.ContinueOnError)
	loginUname := loginCmd.String("username", "", "The operator's username. The password will be prompted next.")

	studentsCmd := flag.NewFlagSet("students", flag.ContinueOnError)
	studentsSearch := studentsCmd.String("search", "", "NIS prefix or part of the name.")

	suggestionsCmd := flag.NewFlagSet("suggestions", flag.ContinueOnError)
	suggestionsStatus := suggestionsCmd.String("status", "all", "all|pending|verified|rejected")
	suggestionsSearch := suggestionsCmd.String("search", "", "Machine user or student id/name.")

	verifyCmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	verifyIDs := verifyCmd.String("id", "", "Comma separated suggestion ids.")

	rejectCmd := flag.NewFlagSet("reject", flag.ContinueOnError)
	rejectIDs := rejectCmd.String("id", "", "Comma separated suggestion ids.")

	mapCmd := flag.NewFlagSet("map", flag.ContinueOnError)
	mapMachineUser := mapCmd.String("machine-user", "", "The machine user id.")
	mapNIS := mapCmd.String("nis", "", "The student's NIS.")

	candidatesCmd := flag.NewFlagSet("candidates", flag.ContinueOnError)
	candidatesMachineUser := candidatesCmd.String("machine-user", "", "The machine user id.")
	candidatesLimit := candidatesCmd.Int("limit", 5, "How many candidates to show.")

	importCmd := flag.NewFlagSet("import", flag.ContinueOnError)
	importStep := importCmd.String("step", "", "master-data|machine-users|attendance")
	importFile := importCmd.String("file", "", "The file to upload.")
	importMachine := importCmd.String("machine", "", "The biometric machine code.")
	importPeriod := importCmd.String("period", "", "Attendance period, YYYY-MM.")

	previewCmd := flag.NewFlagSet("preview", flag.ContinueOnError)
	previewFile := previewCmd.String("file", "", "The attendance file.")
	previewMachine := previewCmd.String("machine", "", "The biometric machine code.")

	wizardCmd := flag.NewFlagSet("wizard", flag.ContinueOnError)
	wizardFiles := wizardFlags{
		students:   wizardCmd.String("students", "", "Student master data file."),
		users:      wizardCmd.String("users", "", "Machine users file."),
		attendance: wizardCmd.String("attendance", "", "Attendance logs file."),
		machine:    wizardCmd.String("machine", "", "The biometric machine code."),
		period:     wizardCmd.String("period", "", "Attendance period, YYYY-MM."),
	}

	parse := func(fs *flag.FlagSet) error {
		fs.SetOutput(cli.out)
		return fs.Parse(args[2:])
	}

	switch args[1] {
	case "login":
		if err := parse(loginCmd); err != nil {
			return err
		}
		if *loginUname == "" {
			loginCmd.Usage()
			return errHelp
		}
		cli.printf("Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		cli.printf("\n")
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			loginCmd.Usage()
			return errHelp
		}
		return cli.login(ctx, *loginUname, string(pwd))
	case "logout":
		return cli.logout()
	}

	if !cli.client.Session().Authenticated() {
		switch args[1] {
		case "students", "suggestions", "verify", "reject", "map", "candidates", "automap", "import", "preview", "wizard":
			return errNotLoggedIn
		}
	}

	switch args[1] {
	case "students":
		if err := parse(studentsCmd); err != nil {
			return err
		}
		return cli.students(ctx, *studentsSearch)
	case "suggestions":
		if err := parse(suggestionsCmd); err != nil {
			return err
		}
		return cli.suggestions(ctx, *suggestionsStatus, *suggestionsSearch)
	case "verify":
		if err := parse(verifyCmd); err != nil {
			return err
		}
		return cli.transition(ctx, "verify", *verifyIDs)
	case "reject":
		if err := parse(rejectCmd); err != nil {
			return err
		}
		return cli.transition(ctx, "reject", *rejectIDs)
	case "map":
		if err := parse(mapCmd); err != nil {
			return err
		}
		if *mapMachineUser == "" || *mapNIS == "" {
			mapCmd.Usage()
			return errHelp
		}
		return cli.manualMap(ctx, *mapMachineUser, *mapNIS)
	case "candidates":
		if err := parse(candidatesCmd); err != nil {
			return err
		}
		if *candidatesMachineUser == "" {
			candidatesCmd.Usage()
			return errHelp
		}
		return cli.candidates(ctx, *candidatesMachineUser, *candidatesLimit)
	case "automap":
		return cli.autoMap(ctx)
	case "import":
		if err := parse(importCmd); err != nil {
			return err
		}
		if *importStep == "" || *importFile == "" {
			importCmd.Usage()
			return errHelp
		}
		return cli.importFile(ctx, *importStep, *importFile, *importMachine, *importPeriod)
	case "preview":
		if err := parse(previewCmd); err != nil {
			return err
		}
		if *previewFile == "" {
			previewCmd.Usage()
			return errHelp
		}
		return cli.preview(ctx, *previewFile, *previewMachine)
	case "wizard":
		if err := parse(wizardCmd); err != nil {
			return err
		}
		return cli.wizard(ctx, wizardFiles)
	default:
		cli.printUsage()
		return errHelp
	}
}

// parseIDs reads a comma separated list of suggestion ids.
func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "id", Error: fmt.Sprintf("%q is not a suggestion id", part)})
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "id", Error: "this field is required"})
	}
	return ids, nil
}
