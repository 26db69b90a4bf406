package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/mapping"
)

func (svc *Service) table(req ImportRequest, cols columns) ([]record, error) {
	recs, err := readTable(req.format(), req.Data, cols)
	if errors.Cause(err) == errUnsupportedFormat {
		return nil, core.NewValidationError(nil, core.FieldError{
			Field: "file",
			Error: fmt.Sprintf("unsupported file format %q", strings.ToUpper(req.format())),
		})
	}
	if err != nil {
		return nil, core.NewValidationError(err, core.FieldError{Field: "file", Error: err.Error()})
	}
	return recs, nil
}

func newBatch(kind BatchKind, req ImportRequest) Batch {
	return Batch{
		ID:          uuid.New().String(),
		Kind:        kind,
		Filename:    req.Filename,
		MachineCode: req.MachineCode,
		Period:      req.Period,
		Errors:      []core.RecordError{},
		CreatedAt:   nowFunc().UTC(),
	}
}

func (b *Batch) fail(line int, format string, args ...interface{}) {
	b.Errors = append(b.Errors, core.RecordError{Row: line, Message: fmt.Sprintf(format, args...)})
	b.Failed++
}

func (svc *Service) saveBatch(ctx context.Context, b Batch) (Batch, error) {
	b.Total = b.Imported + b.Failed
	b, err := svc.repo.CreateBatch(ctx, b)
	if err != nil {
		return Batch{}, errors.Wrap(err, "recording batch")
	}
	args := []interface{}{"batch", b.ID, "kind", b.Kind, "imported", b.Imported, "failed", b.Failed}
	if b.Failed > 0 {
		svc.warn("import finished with errors", args...)
	} else {
		svc.info("import finished", args...)
	}
	return b, nil
}

// ImportStudents loads the student master data. Rows are validated one by one:
// a bad row is reported and skipped, the rest is imported.
func (svc *Service) ImportStudents(ctx context.Context, req ImportRequest) (Batch, error) {
	if err := req.Validate(svc.validate, svc.translator, false); err != nil {
		return Batch{}, err
	}
	recs, err := svc.table(req, studentColumns)
	if err != nil {
		return Batch{}, err
	}

	batch := newBatch(KindStudents, req)
	seen := make(map[string]int, len(recs))
	students := make([]Student, 0, len(recs))
	for _, rec := range recs {
		st := Student{
			NIS:       strings.ToUpper(rec.get("nis")),
			Name:      rec.get("name"),
			ClassID:   rec.get("class_id"),
			ClassName: rec.get("class_name"),
		}
		switch {
		case st.NIS == "":
			batch.fail(rec.line, "missing nis")
			continue
		case svc.validate.Var(st.NIS, "nis") != nil:
			batch.fail(rec.line, "invalid nis %q", st.NIS)
			continue
		case st.Name == "":
			batch.fail(rec.line, "missing name for nis %s", st.NIS)
			continue
		}
		if line, dup := seen[st.NIS]; dup {
			batch.fail(rec.line, "duplicate nis %s, first seen on row %d", st.NIS, line)
			continue
		}
		seen[st.NIS] = rec.line
		students = append(students, st)
	}

	if len(students) > 0 {
		if err = svc.repo.UpsertStudents(ctx, students...); err != nil {
			return Batch{}, errors.Wrap(err, "saving students")
		}
	}
	batch.Imported = len(students)
	return svc.saveBatch(ctx, batch)
}

// ImportMachineUsers loads the accounts enrolled on a device, then runs auto-map
// so that the new accounts come with suggestions.
func (svc *Service) ImportMachineUsers(ctx context.Context, req ImportRequest) (Batch, error) {
	if err := req.Validate(svc.validate, svc.translator, true); err != nil {
		return Batch{}, err
	}
	recs, err := svc.table(req, machineUserColumns)
	if err != nil {
		return Batch{}, err
	}

	batch := newBatch(KindMachineUsers, req)
	seen := make(map[string]bool, len(recs))
	users := make([]MachineUser, 0, len(recs))
	for _, rec := range recs {
		mu := MachineUser{
			ID:          rec.get("id"),
			MachineCode: req.MachineCode,
			Name:        rec.get("name"),
			Department:  rec.get("department"),
		}
		switch {
		case mu.ID == "":
			batch.fail(rec.line, "missing machine user id")
			continue
		case mu.Name == "":
			batch.fail(rec.line, "missing name for machine user %s", mu.ID)
			continue
		case seen[mu.ID]:
			batch.fail(rec.line, "duplicate machine user id %s", mu.ID)
			continue
		}
		seen[mu.ID] = true
		users = append(users, mu)
	}

	if len(users) > 0 {
		if err = svc.repo.UpsertMachineUsers(ctx, users...); err != nil {
			return Batch{}, errors.Wrap(err, "saving machine users")
		}
	}
	batch.Imported = len(users)
	if batch, err = svc.saveBatch(ctx, batch); err != nil {
		return Batch{}, err
	}

	if _, err = svc.AutoMap(ctx); err != nil {
		return Batch{}, errors.Wrap(err, "auto-mapping new machine users")
	}
	return batch, nil
}

type logLine struct {
	line      int
	userID    string
	timestamp time.Time
}

func (svc *Service) attendanceLines(req ImportRequest, batch *Batch) ([]logLine, error) {
	recs, err := svc.table(req, attendanceColumns)
	if err != nil {
		return nil, err
	}

	lines := make([]logLine, 0, len(recs))
	for _, rec := range recs {
		id := rec.get("id")
		if id == "" {
			batch.fail(rec.line, "missing machine user id")
			continue
		}
		raw := rec.get("timestamp")
		if raw == "" {
			raw = strings.TrimSpace(rec.get("date") + " " + rec.get("time"))
		}
		ts, err := parseTimestamp(raw)
		if err != nil {
			batch.fail(rec.line, "%v", err)
			continue
		}
		lines = append(lines, logLine{line: rec.line, userID: id, timestamp: ts})
	}
	return lines, nil
}

// verifiedNIS maps each machine user with a verified link to its student.
func (svc *Service) verifiedNIS(ctx context.Context) (map[string]string, error) {
	links, err := svc.repo.QueryLinks(ctx, LinkFilter{Status: mapping.StatusVerified})
	if err != nil {
		return nil, errors.Wrap(err, "querying verified links")
	}
	out := make(map[string]string, len(links))
	for _, l := range links {
		out[l.MachineUserID] = l.StudentNIS
	}
	return out, nil
}

// PreviewAttendance summarizes an attendance file per machine user without importing it.
func (svc *Service) PreviewAttendance(ctx context.Context, req ImportRequest) (Preview, error) {
	if err := req.Validate(svc.validate, svc.translator, true); err != nil {
		return Preview{}, err
	}

	var scratch Batch
	lines, err := svc.attendanceLines(req, &scratch)
	if err != nil {
		return Preview{}, err
	}
	users, err := svc.machineUsersByID(ctx)
	if err != nil {
		return Preview{}, err
	}
	mapped, err := svc.verifiedNIS(ctx)
	if err != nil {
		return Preview{}, err
	}

	byUser := make(map[string]*PreviewUser)
	for _, ll := range lines {
		pu, ok := byUser[ll.userID]
		if !ok {
			mu, known := users[ll.userID]
			pu = &PreviewUser{MachineUserID: ll.userID, MachineUserName: mu.Name, Known: known}
			pu.NIS, pu.Mapped = mapped[ll.userID]
			byUser[ll.userID] = pu
		}
		pu.Logs++
	}

	pv := Preview{
		TotalLogs: len(lines),
		Users:     make([]PreviewUser, 0, len(byUser)),
		Errors:    scratch.Errors,
	}
	for _, pu := range byUser {
		switch {
		case !pu.Known:
			pv.UsersNotFound++
		case !pu.Mapped:
			pv.UnmappedUsers++
		}
		pv.Users = append(pv.Users, *pu)
	}
	sort.Slice(pv.Users, func(i, j int) bool { return lessID(pv.Users[i].MachineUserID, pv.Users[j].MachineUserID) })
	pv.TotalUsers = len(pv.Users)
	if pv.Errors == nil {
		pv.Errors = []core.RecordError{}
	}
	return pv, nil
}

// ImportAttendance stores the logs of mapped machine users. Logs of unknown or
// unmapped accounts, and logs outside the requested period, are reported per row.
func (svc *Service) ImportAttendance(ctx context.Context, req ImportRequest) (Batch, error) {
	if err := req.Validate(svc.validate, svc.translator, true); err != nil {
		return Batch{}, err
	}

	batch := newBatch(KindAttendance, req)
	lines, err := svc.attendanceLines(req, &batch)
	if err != nil {
		return Batch{}, err
	}
	users, err := svc.machineUsersByID(ctx)
	if err != nil {
		return Batch{}, err
	}
	mapped, err := svc.verifiedNIS(ctx)
	if err != nil {
		return Batch{}, err
	}

	logs := make([]AttendanceLog, 0, len(lines))
	for _, ll := range lines {
		if _, ok := users[ll.userID]; !ok {
			batch.fail(ll.line, "unknown machine user %s", ll.userID)
			continue
		}
		nis, ok := mapped[ll.userID]
		if !ok {
			batch.fail(ll.line, "machine user %s is not mapped to a student", ll.userID)
			continue
		}
		if req.Period != "" && ll.timestamp.Format("2006-01") != req.Period {
			batch.fail(ll.line, "log of %s is outside period %s", ll.timestamp.Format("2006-01-02"), req.Period)
			continue
		}
		logs = append(logs, AttendanceLog{
			MachineCode:   req.MachineCode,
			MachineUserID: ll.userID,
			StudentNIS:    nis,
			Timestamp:     ll.timestamp,
			BatchID:       batch.ID,
		})
	}

	if len(logs) > 0 {
		if err = svc.repo.CreateAttendanceLogs(ctx, logs...); err != nil {
			return Batch{}, errors.Wrap(err, "saving attendance logs")
		}
	}
	batch.Imported = len(logs)
	sort.SliceStable(batch.Errors, func(i, j int) bool { return batch.Errors[i].Row < batch.Errors[j].Row })
	return svc.saveBatch(ctx, batch)
}

// lessID orders device ids numerically when both are numbers.
func lessID(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
