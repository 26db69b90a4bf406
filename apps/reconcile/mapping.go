package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/mapping"
	"github.com/trezcool/presensi/core/roster"
	"github.com/trezcool/presensi/services/restapi"
)

func (cli *commandLine) login(ctx context.Context, uname, pwd string) error {
	op, err := cli.client.Login(ctx, cli.validate, cli.translator, restapi.LoginRequest{Username: uname, Password: pwd})
	if err != nil {
		return err
	}
	name := op.Name
	if name == "" {
		name = op.Username
	}
	cli.printf("Logged in as %s\n", name)
	return nil
}

func (cli *commandLine) logout() error {
	if err := cli.client.Logout(); err != nil {
		return err
	}
	cli.printf("Logged out\n")
	return nil
}

func (cli *commandLine) students(ctx context.Context, search string) error {
	students, err := cli.client.ListStudents(ctx, search)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NIS\tNAME\tCLASS")
	for _, st := range students {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", st.NIS, st.Name, st.ClassName)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	cli.printf("%d student(s)\n", len(students))
	return nil
}

func (cli *commandLine) printSuggestions(list []mapping.Suggestion) error {
	tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMACHINE USER\tNAME\tSTUDENT\tCONFIDENCE\tSTATUS")
	for _, sg := range list {
		student := "-"
		if sg.SuggestedStudent != nil {
			student = sg.SuggestedStudent.NIS + " " + sg.SuggestedStudent.Name
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			sg.ID, sg.MachineUser.ID, sg.MachineUser.Name, student, sg.ConfidenceLabel(), sg.Status)
	}
	return tw.Flush()
}

func (cli *commandLine) printSummary(sum mapping.Summary) {
	cli.printf("%d suggestion(s): %d pending, %d verified, %d rejected; %d high, %d medium, %d low, %d without match\n",
		sum.Total,
		sum.ByStatus[mapping.StatusPending], sum.ByStatus[mapping.StatusVerified], sum.ByStatus[mapping.StatusRejected],
		sum.ByBand[mapping.BandHigh], sum.ByBand[mapping.BandMedium], sum.ByBand[mapping.BandLow], sum.NoMatch)
}

func (cli *commandLine) suggestions(ctx context.Context, status, search string) error {
	filter, err := mapping.ParseFilter(status)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "status", Error: err.Error()})
	}
	skipped, err := cli.mapping.Refresh(ctx, mapping.Query{Status: filter, Search: search})
	if err != nil {
		return err
	}

	list := mapping.Filter(cli.mapping.Store().List(), filter)
	if err := cli.printSuggestions(list); err != nil {
		return err
	}
	cli.printSummary(mapping.Summarize(list))
	if skipped > 0 {
		cli.printf("%d malformed record(s) skipped\n", skipped)
	}
	return nil
}

var pastTense = map[string]string{"verify": "verified", "reject": "rejected"}

// transition verifies or rejects suggestions. Several ids run as a batch, after confirmation.
func (cli *commandLine) transition(ctx context.Context, action, rawIDs string) error {
	ids, err := parseIDs(rawIDs)
	if err != nil {
		return err
	}
	if _, err = cli.mapping.Refresh(ctx, mapping.Query{Status: mapping.FilterAll}); err != nil {
		return err
	}

	if len(ids) == 1 {
		if action == "verify" {
			err = cli.mapping.Verify(ctx, ids[0])
		} else {
			err = cli.mapping.Reject(ctx, ids[0])
		}
		if err != nil {
			return err
		}
		cli.printf("Suggestion %d %s\n", ids[0], pastTense[action])
		return nil
	}

	ok, err := cli.prompter.Confirm(ctx, fmt.Sprintf("%s %d suggestions?", action, len(ids)))
	if err != nil {
		return err
	}
	if !ok {
		cli.printf("Aborted\n")
		return nil
	}

	sel := mapping.NewSelection(ids...)
	var res mapping.BatchResult
	if action == "verify" {
		res, err = cli.mapping.VerifySelected(ctx, sel)
	} else {
		res, err = cli.mapping.RejectSelected(ctx, sel)
	}
	if err != nil {
		return err
	}
	return cli.reportBatch(action, res)
}

func (cli *commandLine) reportBatch(action string, res mapping.BatchResult) error {
	cli.printf("%d suggestion(s) %s\n", len(res.Succeeded), pastTense[action])
	if res.OK() {
		return nil
	}
	for _, id := range res.FailedIDs() {
		cli.printf("  %d: %v\n", id, res.Failed[id])
	}
	return errors.Errorf("%d suggestion(s) could not be %s", len(res.Failed), pastTense[action])
}

func (cli *commandLine) manualMap(ctx context.Context, machineUserID, nis string) error {
	if _, err := cli.mapping.Refresh(ctx, mapping.Query{Status: mapping.FilterAll}); err != nil {
		return err
	}
	sg, err := cli.mapping.ManualMap(ctx, machineUserID, nis)
	if err != nil {
		return err
	}
	name := ""
	if sg.SuggestedStudent != nil {
		name = sg.SuggestedStudent.Name
	}
	cli.printf("Machine user %s mapped to %s %s\n", machineUserID, nis, name)
	return nil
}

// candidates ranks the roster against the name the device recorded for the machine user.
func (cli *commandLine) candidates(ctx context.Context, machineUserID string, limit int) error {
	if _, err := cli.mapping.Refresh(ctx, mapping.Query{Status: mapping.FilterAll}); err != nil {
		return err
	}
	entries := cli.mapping.Store().ByMachineUser(machineUserID)
	if len(entries) == 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "machine-user", Error: "unknown machine user " + machineUserID})
	}
	name := entries[0].MachineUser.Name

	r, err := roster.Fetch(ctx, cli.client)
	if err != nil {
		return err
	}

	cli.printf("Candidates for %s %q:\n", machineUserID, name)
	tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NIS\tNAME\tCLASS\tSCORE")
	for _, c := range r.Candidates(name, limit) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%% (%s)\n", c.Student.NIS, c.Student.Name, c.Student.ClassName, c.Score, mapping.Classify(c.Score))
	}
	return tw.Flush()
}

func (cli *commandLine) autoMap(ctx context.Context) error {
	res, err := cli.client.AutoMap(ctx)
	if err != nil {
		return err
	}
	cli.printf("Auto-map: %d suggested, %d without match\n", res.Suggested, res.Unmatched)
	return nil
}
