package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/importer"
	"github.com/trezcool/presensi/core/mapping"
)

type wizardFlags struct {
	students   *string
	users      *string
	attendance *string
	machine    *string
	period     *string
}

func (cli *commandLine) printResult(res importer.StepResult) {
	b := res.Batch
	cli.printf("%s: %d of %d record(s) imported from %s (batch %s)\n", res.Step.Title(), b.Imported, b.Total, b.Filename, b.ID)
	if p := res.Partial(); p != nil {
		for _, re := range p.Errors {
			cli.printf("  row %d: %s\n", re.Row, re.Message)
		}
	}
}

func (cli *commandLine) runStep(ctx context.Context, step importer.Step, path, machine, period string) (importer.StepResult, error) {
	up, err := importer.ReadUpload(path)
	if err != nil {
		return importer.StepResult{}, err
	}
	switch step {
	case importer.StepMasterData:
		return cli.importer.ImportMasterData(ctx, up)
	case importer.StepSyncUsers:
		return cli.importer.SyncMachineUsers(ctx, up, machine)
	case importer.StepAttendance:
		return cli.importer.ImportAttendance(ctx, up, machine, period)
	default:
		return importer.StepResult{}, core.NewValidationError(nil, core.FieldError{
			Field: "step",
			Error: fmt.Sprintf("%s has no file to import", step),
		})
	}
}

// importFile runs a single upload step outside of the wizard.
func (cli *commandLine) importFile(ctx context.Context, rawStep, path, machine, period string) error {
	step, err := importer.ParseStep(rawStep)
	if err != nil {
		return err
	}
	res, err := cli.runStep(ctx, step, path, machine, period)
	if err != nil {
		return err
	}
	cli.printResult(res)
	return nil
}

func (cli *commandLine) printPreview(pv importer.Preview) error {
	cli.printf("%d log(s) from %d user(s): %d unmapped, %d not found\n", pv.TotalLogs, pv.TotalUsers, pv.UnmappedUsers, pv.UsersNotFound)
	tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MACHINE USER\tNAME\tLOGS\tSTUDENT")
	for _, u := range pv.Users {
		student := "-"
		if u.Mapped {
			student = u.NIS
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", u.MachineUserID, u.MachineUserName, u.Logs, student)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, re := range pv.Errors {
		cli.printf("  row %d: %s\n", re.Row, re.Message)
	}
	return nil
}

func (cli *commandLine) preview(ctx context.Context, path, machine string) error {
	up, err := importer.ReadUpload(path)
	if err != nil {
		return err
	}
	pv, err := cli.importer.PreviewAttendance(ctx, up, machine)
	if err != nil {
		return err
	}
	return cli.printPreview(pv)
}

// wizard walks the four import steps in order. A step without a file is skipped.
func (cli *commandLine) wizard(ctx context.Context, f wizardFlags) error {
	wz := cli.importer.Wizard()
	wz.Reset()

	files := map[importer.Step]string{
		importer.StepMasterData: *f.students,
		importer.StepSyncUsers:  *f.users,
		importer.StepAttendance: *f.attendance,
	}

	for range importer.Steps {
		step := wz.Current()
		cli.printf("[%d/%d] %s\n", int(step), len(importer.Steps), step.Title())

		var err error
		switch step {
		case importer.StepMapping:
			err = cli.wizardMapping(ctx)
		case importer.StepAttendance:
			err = cli.wizardAttendance(ctx, files[step], *f.machine, *f.period)
		default:
			err = cli.wizardUpload(ctx, step, files[step], *f.machine)
		}
		if err != nil {
			return err
		}
		wz.Next()
	}
	cli.printf("Import complete: %d batch(es) recorded\n", cli.importer.History().Len())
	return nil
}

func (cli *commandLine) wizardUpload(ctx context.Context, step importer.Step, path, machine string) error {
	if path == "" {
		cli.printf("  skipped, no file given\n")
		return nil
	}
	ok, err := cli.prompter.Confirm(ctx, fmt.Sprintf("Upload %s?", path))
	if err != nil || !ok {
		return err
	}
	res, err := cli.runStep(ctx, step, path, machine, "")
	if err != nil {
		return err
	}
	cli.printResult(res)
	return nil
}

// wizardMapping offers to verify every pending high confidence suggestion at once.
// Failed ids are reported and the operator decides whether the wizard goes on.
func (cli *commandLine) wizardMapping(ctx context.Context) error {
	sum, err := cli.importer.LoadMappings(ctx)
	if err != nil {
		return err
	}
	cli.printSummary(sum)

	var ids []int64
	for _, sg := range cli.mapping.Store().List() {
		if band, ok := sg.Band(); ok && band == mapping.BandHigh && sg.Status == mapping.StatusPending {
			ids = append(ids, sg.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	ok, err := cli.prompter.Confirm(ctx, fmt.Sprintf("Verify %d high confidence suggestion(s)?", len(ids)))
	if err != nil || !ok {
		return err
	}
	res, err := cli.mapping.VerifySelected(ctx, mapping.NewSelection(ids...))
	if err != nil {
		return err
	}
	if batchErr := cli.reportBatch("verify", res); batchErr != nil {
		cli.printf("%v\n", batchErr)
		ok, err := cli.prompter.Confirm(ctx, "Continue anyway?")
		if err != nil {
			return err
		}
		if !ok {
			return batchErr
		}
	}
	return nil
}

func (cli *commandLine) wizardAttendance(ctx context.Context, path, machine, period string) error {
	if path == "" {
		cli.printf("  skipped, no file given\n")
		return nil
	}
	up, err := importer.ReadUpload(path)
	if err != nil {
		return err
	}
	pv, err := cli.importer.PreviewAttendance(ctx, up, machine)
	if err != nil {
		return err
	}
	if err = cli.printPreview(pv); err != nil {
		return err
	}

	question := fmt.Sprintf("Import %d log(s)?", pv.TotalLogs)
	if !pv.Clean() {
		question = "Some users are not mapped, their logs will be rejected. Import anyway?"
	}
	ok, err := cli.prompter.Confirm(ctx, question)
	if err != nil || !ok {
		return err
	}

	res, err := cli.importer.ImportAttendance(ctx, up, machine, period)
	if err != nil {
		return err
	}
	cli.printResult(res)
	return nil
}
