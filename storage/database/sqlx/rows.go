package sqlxrepos

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/mapping"
	"github.com/trezcool/presensi/core/registry"
)

type (
	operatorRow struct {
		ID           int       `db:"id"`
		Username     string    `db:"username"`
		Name         string    `db:"name"`
		IsActive     bool      `db:"is_active"`
		PasswordHash []byte    `db:"password_hash"`
		CreatedAt    time.Time `db:"created_at"`
		LastLogin    null.Time `db:"last_login"`
	}

	studentRow struct {
		NIS       string      `db:"nis"`
		Name      string      `db:"name"`
		ClassID   null.String `db:"class_id"`
		ClassName null.String `db:"class_name"`
	}

	machineUserRow struct {
		ID          string      `db:"id"`
		MachineCode string      `db:"machine_code"`
		Name        string      `db:"name"`
		Department  null.String `db:"department"`
	}

	linkRow struct {
		ID            int64       `db:"id"`
		MachineUserID string      `db:"machine_user_id"`
		StudentNIS    null.String `db:"student_nis"`
		Score         null.Int    `db:"score"`
		Status        string      `db:"status"`
		Manual        bool        `db:"manual"`
		CreatedAt     time.Time   `db:"created_at"`
		UpdatedAt     time.Time   `db:"updated_at"`
	}

	attendanceRow struct {
		MachineCode   string    `db:"machine_code"`
		MachineUserID string    `db:"machine_user_id"`
		StudentNIS    string    `db:"student_nis"`
		LoggedAt      time.Time `db:"logged_at"`
		BatchID       string    `db:"batch_id"`
	}

	batchRow struct {
		ID          string         `db:"id"`
		Kind        string         `db:"kind"`
		Filename    string         `db:"filename"`
		MachineCode null.String    `db:"machine_code"`
		Period      null.String    `db:"period"`
		Total       int            `db:"total"`
		Imported    int            `db:"imported"`
		Failed      int            `db:"failed"`
		Errors      types.JSONText `db:"errors"`
		CreatedAt   time.Time      `db:"created_at"`
	}
)

func toOperatorRow(op registry.Operator) operatorRow {
	return operatorRow{
		ID:           op.ID,
		Username:     op.Username,
		Name:         op.Name,
		IsActive:     op.IsActive,
		PasswordHash: op.PasswordHash,
		CreatedAt:    op.CreatedAt.UTC(),
		LastLogin:    null.NewTime(op.LastLogin.UTC(), !op.LastLogin.IsZero()),
	}
}

func (row operatorRow) model() registry.Operator {
	op := registry.Operator{
		ID:           row.ID,
		Username:     row.Username,
		Name:         row.Name,
		IsActive:     row.IsActive,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt.UTC(),
	}
	if row.LastLogin.Valid {
		op.LastLogin = row.LastLogin.Time.UTC()
	}
	return op
}

func toStudentRow(st registry.Student) studentRow {
	return studentRow{
		NIS:       st.NIS,
		Name:      st.Name,
		ClassID:   null.NewString(st.ClassID, st.ClassID != ""),
		ClassName: null.NewString(st.ClassName, st.ClassName != ""),
	}
}

func (row studentRow) model() registry.Student {
	return registry.Student{NIS: row.NIS, Name: row.Name, ClassID: row.ClassID.String, ClassName: row.ClassName.String}
}

func toMachineUserRow(mu registry.MachineUser) machineUserRow {
	return machineUserRow{
		ID:          mu.ID,
		MachineCode: mu.MachineCode,
		Name:        mu.Name,
		Department:  null.NewString(mu.Department, mu.Department != ""),
	}
}

func (row machineUserRow) model() registry.MachineUser {
	return registry.MachineUser{ID: row.ID, MachineCode: row.MachineCode, Name: row.Name, Department: row.Department.String}
}

// toLinkRow stores no score for links without a student.
func toLinkRow(l registry.Link) linkRow {
	return linkRow{
		ID:            l.ID,
		MachineUserID: l.MachineUserID,
		StudentNIS:    null.NewString(l.StudentNIS, l.HasStudent()),
		Score:         null.NewInt(l.Score, l.HasStudent()),
		Status:        string(l.Status),
		Manual:        l.Manual,
		CreatedAt:     l.CreatedAt.UTC(),
		UpdatedAt:     l.UpdatedAt.UTC(),
	}
}

func (row linkRow) model() registry.Link {
	return registry.Link{
		ID:            row.ID,
		MachineUserID: row.MachineUserID,
		StudentNIS:    row.StudentNIS.String,
		Score:         row.Score.Int,
		Status:        mapping.Status(row.Status),
		Manual:        row.Manual,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}

func toAttendanceRow(l registry.AttendanceLog) attendanceRow {
	return attendanceRow{
		MachineCode:   l.MachineCode,
		MachineUserID: l.MachineUserID,
		StudentNIS:    l.StudentNIS,
		LoggedAt:      l.Timestamp.UTC(),
		BatchID:       l.BatchID,
	}
}

func toBatchRow(b registry.Batch) (batchRow, error) {
	errs := b.Errors
	if errs == nil {
		errs = []core.RecordError{}
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return batchRow{}, errors.Wrap(err, "encoding batch errors")
	}
	return batchRow{
		ID:          b.ID,
		Kind:        string(b.Kind),
		Filename:    b.Filename,
		MachineCode: null.NewString(b.MachineCode, b.MachineCode != ""),
		Period:      null.NewString(b.Period, b.Period != ""),
		Total:       b.Total,
		Imported:    b.Imported,
		Failed:      b.Failed,
		Errors:      types.JSONText(data),
		CreatedAt:   b.CreatedAt.UTC(),
	}, nil
}

func (row batchRow) model() (registry.Batch, error) {
	b := registry.Batch{
		ID:          row.ID,
		Kind:        registry.BatchKind(row.Kind),
		Filename:    row.Filename,
		MachineCode: row.MachineCode.String,
		Period:      row.Period.String,
		Total:       row.Total,
		Imported:    row.Imported,
		Failed:      row.Failed,
		Errors:      []core.RecordError{},
		CreatedAt:   row.CreatedAt.UTC(),
	}
	if len(row.Errors) > 0 {
		if err := row.Errors.Unmarshal(&b.Errors); err != nil {
			return registry.Batch{}, errors.Wrap(err, "decoding batch errors")
		}
	}
	return b, nil
}
