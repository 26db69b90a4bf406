package registry

import (
	"context"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
)

var (
	nowFunc = time.Now // mockable

	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccountDeactivated   = errors.New("account deactivated")
)

// minAutoMapScore is the lowest ranking score auto-map still suggests.
const minAutoMapScore = 40

type Service struct {
	repo       Repository
	logger     core.Logger
	validate   *validator.Validate
	translator ut.Translator
}

func NewService(repo Repository, logger core.Logger, validate *validator.Validate, translator ut.Translator) *Service {
	if validate == nil || translator == nil {
		validate, translator = core.NewValidator()
	}
	return &Service{repo: repo, logger: logger, validate: validate, translator: translator}
}

// Authenticate checks the operator's credentials and records the login.
func (svc *Service) Authenticate(ctx context.Context, username, password string) (Operator, error) {
	op, err := svc.repo.GetOperatorByUsername(ctx, core.CleanString(username, true /* lower */))
	if err != nil {
		if IsNotFound(err) {
			return Operator{}, ErrAuthenticationFailed
		}
		return Operator{}, errors.Wrap(err, "finding operator by username")
	}
	if err = op.CheckPassword(password); err != nil {
		return Operator{}, ErrAuthenticationFailed
	}
	if !op.IsActive {
		return Operator{}, ErrAccountDeactivated
	}

	op.LastLogin = nowFunc().UTC()
	if op, err = svc.repo.UpdateOperator(ctx, op); err != nil {
		return Operator{}, errors.Wrap(err, "setting last login")
	}
	return op, nil
}

func (svc *Service) GetOperator(ctx context.Context, id int) (Operator, error) {
	return svc.repo.GetOperatorByID(ctx, id)
}

// SaveOperator creates an operator, or resets the password of an existing one.
func (svc *Service) SaveOperator(ctx context.Context, no NewOperator) (Operator, error) {
	if err := no.Validate(svc.validate, svc.translator); err != nil {
		return Operator{}, err
	}

	op, err := svc.repo.GetOperatorByUsername(ctx, no.Username)
	exists := err == nil
	if err != nil && !IsNotFound(err) {
		return Operator{}, errors.Wrap(err, "finding operator by username")
	}
	if !exists {
		op = Operator{Username: no.Username, CreatedAt: nowFunc().UTC()}
	}
	if no.Name != "" {
		op.Name = no.Name
	}
	op.IsActive = true
	if err = op.SetPassword(no.Password); err != nil {
		return Operator{}, errors.Wrap(err, "hashing password")
	}

	if exists {
		op, err = svc.repo.UpdateOperator(ctx, op)
		return op, errors.Wrap(err, "updating operator")
	}
	op, err = svc.repo.CreateOperator(ctx, op)
	if err != nil {
		return Operator{}, errors.Wrap(err, "creating operator")
	}
	svc.info("operator created", "username", op.Username)
	return op, nil
}

func (svc *Service) Students(ctx context.Context, search string) ([]Student, error) {
	students, err := svc.repo.QueryStudents(ctx, core.CleanString(search))
	if err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []Student{}
	}
	return students, nil
}

func (svc *Service) Batches(ctx context.Context) ([]Batch, error) {
	batches, err := svc.repo.QueryBatches(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying batches")
	}
	if batches == nil {
		batches = []Batch{}
	}
	return batches, nil
}

func (svc *Service) info(msg string, args ...interface{}) {
	if svc.logger != nil {
		svc.logger.Info(msg, args...)
	}
}

func (svc *Service) warn(msg string, args ...interface{}) {
	if svc.logger != nil {
		svc.logger.Warn(msg, args...)
	}
}
