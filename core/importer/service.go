package importer

import (
	"context"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/mapping"
)

// mockable
var nowFunc = time.Now

type (
	// Backend is the import part of the attendance REST API.
	Backend interface {
		ImportMasterData(ctx context.Context, req MasterDataRequest) (Summary, error)
		ImportMachineUsers(ctx context.Context, req MachineUsersRequest) (Summary, error)
		PreviewAttendance(ctx context.Context, req AttendanceRequest) (Preview, error)
		ImportAttendance(ctx context.Context, req AttendanceRequest) (Summary, error)
	}

	// Mapper runs the mapping step; implemented by *mapping.Service.
	Mapper interface {
		Refresh(ctx context.Context, q mapping.Query) (int, error)
		Store() *mapping.Store
	}

	Service struct {
		backend    Backend
		mapper     Mapper
		history    *History
		wizard     *Wizard
		logger     core.Logger
		validate   *validator.Validate
		translator ut.Translator
	}
)

func NewService(backend Backend, mapper Mapper, logger core.Logger, validate *validator.Validate, translator ut.Translator) *Service {
	if validate == nil || translator == nil {
		validate, translator = core.NewValidator()
	}
	return &Service{
		backend:    backend,
		mapper:     mapper,
		history:    NewHistory(),
		wizard:     NewWizard(),
		logger:     logger,
		validate:   validate,
		translator: translator,
	}
}

func (svc *Service) History() *History {
	return svc.history
}

func (svc *Service) Wizard() *Wizard {
	return svc.wizard
}

// ImportMasterData uploads the student & class roster file.
func (svc *Service) ImportMasterData(ctx context.Context, up Upload) (StepResult, error) {
	req := MasterDataRequest{Upload: up}
	if err := req.Validate(svc.validate, svc.translator); err != nil {
		return StepResult{}, err
	}
	sum, err := svc.backend.ImportMasterData(ctx, req)
	if err != nil {
		return StepResult{}, errors.Wrap(err, "importing master data")
	}
	return svc.record(StepMasterData, req.Upload, "", "", sum), nil
}

// SyncMachineUsers uploads the user list exported from a biometric device.
func (svc *Service) SyncMachineUsers(ctx context.Context, up Upload, machineCode string) (StepResult, error) {
	req := MachineUsersRequest{Upload: up, MachineCode: machineCode}
	if err := req.Validate(svc.validate, svc.translator); err != nil {
		return StepResult{}, err
	}
	sum, err := svc.backend.ImportMachineUsers(ctx, req)
	if err != nil {
		return StepResult{}, errors.Wrap(err, "syncing machine users")
	}
	return svc.record(StepSyncUsers, req.Upload, req.MachineCode, "", sum), nil
}

// LoadMappings fetches the pending suggestions reviewed during the mapping step.
func (svc *Service) LoadMappings(ctx context.Context) (mapping.Summary, error) {
	if svc.mapper == nil {
		return mapping.Summary{}, errors.New("no mapping service configured")
	}
	skipped, err := svc.mapper.Refresh(ctx, mapping.Query{Status: mapping.FilterAll})
	if err != nil {
		return mapping.Summary{}, errors.Wrap(err, "loading mapping suggestions")
	}
	if skipped > 0 {
		svc.warn("skipped malformed suggestions", "count", skipped)
	}
	return mapping.Summarize(svc.mapper.Store().List()), nil
}

// PreviewAttendance parses an attendance file on the backend without committing it.
func (svc *Service) PreviewAttendance(ctx context.Context, up Upload, machineCode string) (Preview, error) {
	req := AttendanceRequest{Upload: up, MachineCode: machineCode}
	if err := req.Validate(svc.validate, svc.translator); err != nil {
		return Preview{}, err
	}
	pv, err := svc.backend.PreviewAttendance(ctx, req)
	if err != nil {
		return Preview{}, errors.Wrap(err, "previewing attendance")
	}
	return pv, nil
}

// ImportAttendance commits an attendance file for the given period (YYYY-MM, optional).
func (svc *Service) ImportAttendance(ctx context.Context, up Upload, machineCode, period string) (StepResult, error) {
	req := AttendanceRequest{Upload: up, MachineCode: machineCode, Period: period}
	if err := req.Validate(svc.validate, svc.translator); err != nil {
		return StepResult{}, err
	}
	sum, err := svc.backend.ImportAttendance(ctx, req)
	if err != nil {
		return StepResult{}, errors.Wrap(err, "importing attendance")
	}
	return svc.record(StepAttendance, req.Upload, req.MachineCode, req.Period, sum), nil
}

func (svc *Service) record(step Step, up Upload, machineCode, period string, sum Summary) StepResult {
	if sum.Total < sum.Imported+sum.Failed {
		sum.Total = sum.Imported + sum.Failed
	}
	b := Batch{
		ID:          uuid.New().String(),
		Step:        step,
		Format:      up.Format(),
		Filename:    up.Filename,
		Period:      period,
		MachineCode: machineCode,
		Total:       sum.Total,
		Imported:    sum.Imported,
		Failed:      sum.Failed,
		Errors:      append([]core.RecordError{}, sum.Errors...),
		CreatedAt:   nowFunc().UTC(),
	}
	svc.history.append(b)

	res := StepResult{Step: step, Batch: b}
	if p := res.Partial(); p != nil {
		svc.warn("import partially failed", "step", step.String(), "batch", b.ID, "error", p.Error())
	} else if svc.logger != nil {
		svc.logger.Info("import committed", "step", step.String(), "batch", b.ID, "imported", b.Imported)
	}
	return res
}

func (svc *Service) warn(msg string, args ...interface{}) {
	if svc.logger != nil {
		svc.logger.Warn(msg, args...)
	}
}
