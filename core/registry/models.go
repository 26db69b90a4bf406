// Package registry is the server side of the reconciliation workflow: the
// records a school keeps about its students, its attendance machines and the
// links between the two.
package registry

import (
	"strconv"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/mapping"
)

type Operator struct {
	ID           int       `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Name         string    `json:"name" db:"name"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	PasswordHash []byte    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"` // UTC
	LastLogin    time.Time `json:"last_login" db:"last_login"` // UTC
}

func (op *Operator) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	op.PasswordHash = hash
	return nil
}

func (op *Operator) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(op.PasswordHash, []byte(pwd))
}

// Identity is what log entries and tokens carry about an operator.
func (op Operator) Identity() core.Operator {
	return core.Operator{ID: strconv.Itoa(op.ID), Username: op.Username, Name: op.Name}
}

// NewOperator contains information needed to create or reset an Operator.
type NewOperator struct {
	Username string `json:"username" validate:"notblank,min=3"`
	Name     string `json:"name"`
	Password string `json:"password" validate:"required,min=6"`
}

func (no *NewOperator) Validate(validate *validator.Validate, translator ut.Translator) error {
	no.Username = core.CleanString(no.Username, true /* lower */)
	no.Name = core.CleanString(no.Name)
	return core.ValidateStruct(validate, translator, no)
}

type Student struct {
	NIS       string `json:"nis" db:"nis"`
	Name      string `json:"name" db:"name"`
	ClassID   string `json:"class_id,omitempty" db:"class_id"`
	ClassName string `json:"class_name,omitempty" db:"class_name"`
}

// MachineUser is an account enrolled on a biometric device.
type MachineUser struct {
	ID          string `json:"machine_user_id" db:"id"`
	MachineCode string `json:"machine_code" db:"machine_code"`
	Name        string `json:"machine_user_name" db:"name"`
	Department  string `json:"department,omitempty" db:"department"`
}

// Link ties a machine user to a student. Links without a student record
// that no candidate was found; their Score is meaningless.
type Link struct {
	ID            int64
	MachineUserID string
	StudentNIS    string
	Score         int
	Status        mapping.Status
	Manual        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (l Link) HasStudent() bool { return l.StudentNIS != "" }

type LinkFilter struct {
	Status        mapping.Status // "" = any
	MachineUserID string
}

type AttendanceLog struct {
	MachineCode   string    `json:"machine_code"`
	MachineUserID string    `json:"machine_user_id"`
	StudentNIS    string    `json:"nis"`
	Timestamp     time.Time `json:"timestamp"`
	BatchID       string    `json:"batch_id"`
}

// BatchKind names what an import batch loaded.
type BatchKind string

const (
	KindStudents     BatchKind = "master-data"
	KindMachineUsers BatchKind = "machine-users"
	KindAttendance   BatchKind = "attendance"
)

// Batch is an import run. Batches are append-only.
type Batch struct {
	ID          string             `json:"id"`
	Kind        BatchKind          `json:"kind"`
	Filename    string             `json:"filename"`
	MachineCode string             `json:"machine_code,omitempty"`
	Period      string             `json:"period,omitempty"`
	Total       int                `json:"total"`
	Imported    int                `json:"imported"`
	Failed      int                `json:"failed"`
	Errors      []core.RecordError `json:"errors"`
	CreatedAt   time.Time          `json:"created_at"`
}

// ImportRequest carries an uploaded file and the fields sent along with it.
type ImportRequest struct {
	Filename    string `json:"filename" validate:"notblank"`
	MachineCode string `json:"machine_code"`
	Period      string `json:"period" validate:"omitempty,datetime=2006-01"`
	Data        []byte `json:"file" validate:"required,min=1"`
}

func (ir *ImportRequest) Validate(validate *validator.Validate, translator ut.Translator, needMachine bool) error {
	ir.Filename = core.CleanString(ir.Filename)
	ir.MachineCode = core.CleanString(ir.MachineCode)
	ir.Period = core.CleanString(ir.Period)
	if err := core.ValidateStruct(validate, translator, ir); err != nil {
		return err
	}
	if needMachine && ir.MachineCode == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "machine_code", Error: "this field is required"})
	}
	return nil
}

func (ir ImportRequest) format() string {
	i := strings.LastIndex(ir.Filename, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(ir.Filename[i+1:])
}

// PreviewUser aggregates the logs of one machine user in an attendance file.
type PreviewUser struct {
	MachineUserID   string `json:"machine_user_id"`
	MachineUserName string `json:"machine_user_name"`
	Logs            int    `json:"logs"`
	Mapped          bool   `json:"mapped"`
	NIS             string `json:"nis,omitempty"`
	Known           bool   `json:"-"`
}

type Preview struct {
	TotalLogs     int                `json:"total_logs"`
	TotalUsers    int                `json:"total_users"`
	UnmappedUsers int                `json:"unmapped_users"`
	UsersNotFound int                `json:"users_not_found"`
	Users         []PreviewUser      `json:"users"`
	Errors        []core.RecordError `json:"errors"`
}

type AutoMapResult struct {
	Suggested int `json:"suggested"`
	Unmatched int `json:"unmatched"`
}
