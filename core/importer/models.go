package importer

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
)

// Upload is a file handed to an import step.
type Upload struct {
	Filename string `json:"filename" validate:"notblank"`
	Data     []byte `json:"file" validate:"required,min=1"`
}

// ReadUpload loads a file from disk.
func ReadUpload(path string) (Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Upload{}, errors.Wrapf(err, "reading %s", path)
	}
	return Upload{Filename: filepath.Base(path), Data: data}, nil
}

// Format is the lower-cased file extension, without the dot.
func (up Upload) Format() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(up.Filename)), ".")
}

// formats accepted by each step
var stepFormats = map[Step][]string{
	StepMasterData: {"csv", "xlsx", "xls"},
	StepSyncUsers:  {"csv", "xlsx", "xls", "dat", "txt"},
	StepAttendance: {"csv", "xlsx", "xls", "dat", "txt"},
}

type (
	MasterDataRequest struct {
		Upload
	}

	MachineUsersRequest struct {
		Upload
		MachineCode string `json:"machine_code" validate:"notblank"`
	}

	// AttendanceRequest serves both the preview and the import of attendance logs.
	// Period (YYYY-MM) is only used by the import.
	AttendanceRequest struct {
		Upload
		MachineCode string `json:"machine_code" validate:"notblank"`
		Period      string `json:"period" validate:"omitempty,datetime=2006-01"`
	}
)

func validateUpload(validate *validator.Validate, translator ut.Translator, step Step, req interface{}, up Upload) error {
	if err := core.ValidateStruct(validate, translator, req); err != nil {
		return err
	}
	for _, f := range stepFormats[step] {
		if up.Format() == f {
			return nil
		}
	}
	return core.NewValidationError(nil, core.FieldError{
		Field: "filename",
		Error: "unsupported file format " + strings.ToUpper(up.Format()) + ", expected one of " + strings.ToUpper(strings.Join(stepFormats[step], ", ")),
	})
}

func (r *MasterDataRequest) Validate(validate *validator.Validate, translator ut.Translator) error {
	r.Filename = core.CleanString(r.Filename)
	return validateUpload(validate, translator, StepMasterData, r, r.Upload)
}

func (r *MachineUsersRequest) Validate(validate *validator.Validate, translator ut.Translator) error {
	r.Filename = core.CleanString(r.Filename)
	r.MachineCode = core.CleanString(r.MachineCode)
	return validateUpload(validate, translator, StepSyncUsers, r, r.Upload)
}

func (r *AttendanceRequest) Validate(validate *validator.Validate, translator ut.Translator) error {
	r.Filename = core.CleanString(r.Filename)
	r.MachineCode = core.CleanString(r.MachineCode)
	r.Period = core.CleanString(r.Period)
	return validateUpload(validate, translator, StepAttendance, r, r.Upload)
}

// Summary is the backend's report of a committed import.
type Summary struct {
	Total    int                `json:"total"`
	Imported int                `json:"imported"`
	Failed   int                `json:"failed"`
	Errors   []core.RecordError `json:"errors"`
}

// PreviewUser is one machine user found in an attendance file.
type PreviewUser struct {
	MachineUserID   string `json:"machine_user_id"`
	MachineUserName string `json:"machine_user_name"`
	Logs            int    `json:"logs"`
	Mapped          bool   `json:"mapped"`
	NIS             string `json:"nis,omitempty"`
}

// Preview summarizes an attendance file without committing it.
type Preview struct {
	TotalLogs     int                `json:"total_logs"`
	TotalUsers    int                `json:"total_users"`
	UnmappedUsers int                `json:"unmapped_users"`
	UsersNotFound int                `json:"users_not_found"`
	Users         []PreviewUser      `json:"users"`
	Errors        []core.RecordError `json:"errors"`
}

// Clean reports whether every user is mapped and every line parsed.
func (p Preview) Clean() bool {
	return p.UnmappedUsers == 0 && p.UsersNotFound == 0 && len(p.Errors) == 0
}

// Batch is one committed import. Batches are never mutated once recorded.
type Batch struct {
	ID          string             `json:"id"`
	Step        Step               `json:"step"`
	Format      string             `json:"format"`
	Filename    string             `json:"filename"`
	Period      string             `json:"period,omitempty"`
	MachineCode string             `json:"machine_code,omitempty"`
	Total       int                `json:"total"`
	Imported    int                `json:"imported"`
	Failed      int                `json:"failed"`
	Errors      []core.RecordError `json:"errors"`
	CreatedAt   time.Time          `json:"created_at"`
}

func (b Batch) clone() Batch {
	c := b
	c.Errors = append([]core.RecordError(nil), b.Errors...)
	return c
}

// StepResult is the outcome of a step runner. Partial failures are part of the result, not an error.
type StepResult struct {
	Step  Step
	Batch Batch
}

// Partial returns the per-record failures of the step, or nil when every record was imported.
func (r StepResult) Partial() *core.PartialImportError {
	if r.Batch.Failed == 0 && len(r.Batch.Errors) == 0 {
		return nil
	}
	return &core.PartialImportError{
		Imported: r.Batch.Imported,
		Total:    r.Batch.Total,
		Errors:   append([]core.RecordError(nil), r.Batch.Errors...),
	}
}
