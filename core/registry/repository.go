package registry

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core/mapping"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrOperatorNotFound    = errors.Wrap(ErrNotFound, "operator")
	ErrStudentNotFound     = errors.Wrap(ErrNotFound, "student")
	ErrMachineUserNotFound = errors.Wrap(ErrNotFound, "machine user")
	ErrLinkNotFound        = errors.Wrap(ErrNotFound, "suggestion")

	// ErrStatusConflict is returned by Repository.TransitionLink when the link
	// is no longer in the expected status.
	ErrStatusConflict = errors.New("status conflict")
)

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type Repository interface {
	CreateOperator(ctx context.Context, op Operator) (Operator, error)
	GetOperatorByID(ctx context.Context, id int) (Operator, error)
	GetOperatorByUsername(ctx context.Context, username string) (Operator, error)
	UpdateOperator(ctx context.Context, op Operator) (Operator, error)

	// UpsertStudents inserts the students, replacing those with the same NIS.
	UpsertStudents(ctx context.Context, students ...Student) error
	GetStudent(ctx context.Context, nis string) (Student, error)
	// QueryStudents returns all students ordered by name. search, when set, does a
	// case-insensitive match on the NIS prefix or anywhere in the name.
	QueryStudents(ctx context.Context, search string) ([]Student, error)

	UpsertMachineUsers(ctx context.Context, users ...MachineUser) error
	GetMachineUser(ctx context.Context, id string) (MachineUser, error)
	QueryMachineUsers(ctx context.Context) ([]MachineUser, error)

	CreateLink(ctx context.Context, link Link) (Link, error)
	GetLink(ctx context.Context, id int64) (Link, error)
	// QueryLinks returns links ordered by ID.
	QueryLinks(ctx context.Context, filter LinkFilter) ([]Link, error)
	// TransitionLink moves a link from one status to another atomically.
	TransitionLink(ctx context.Context, id int64, from, to mapping.Status) (Link, error)
	DeleteLinks(ctx context.Context, ids ...int64) error

	CreateAttendanceLogs(ctx context.Context, logs ...AttendanceLog) error
	CountAttendanceLogs(ctx context.Context, machineCode string) (int, error)

	CreateBatch(ctx context.Context, batch Batch) (Batch, error)
	// QueryBatches returns batches, most recent first.
	QueryBatches(ctx context.Context) ([]Batch, error)
}
