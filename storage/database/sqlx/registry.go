// Package sqlxrepos implements the registry repository on Postgres with sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core/mapping"
	"github.com/trezcool/presensi/core/registry"
)

// attendance logs are inserted in chunks to stay under the bind parameter limit
const insertChunk = 1000

var nowFunc = time.Now // mockable

type registryRepository struct {
	db *sqlx.DB
}

var _ registry.Repository = (*registryRepository)(nil) // interface compliance check

func NewRegistryRepository(db *sqlx.DB) registry.Repository {
	return &registryRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to the given not found error
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// inTx runs fn in a transaction, rolled back when fn fails.
func (repo *registryRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func (repo *registryRepository) insertReturningID(ctx context.Context, query string, arg interface{}, id interface{}) error {
	stmt, err := repo.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "preparing insert")
	}
	defer func() { _ = stmt.Close() }()
	return stmt.GetContext(ctx, id, arg)
}

// Operators

const operatorColumns = `id, username, name, is_active, password_hash, created_at, last_login`

func (repo *registryRepository) CreateOperator(ctx context.Context, op registry.Operator) (registry.Operator, error) {
	row := toOperatorRow(op)
	err := repo.insertReturningID(ctx, `
		INSERT INTO operator (username, name, is_active, password_hash, created_at, last_login)
		VALUES (:username, :name, :is_active, :password_hash, :created_at, :last_login)
		RETURNING id`, row, &row.ID)
	if err != nil {
		return registry.Operator{}, errors.Wrap(err, "inserting operator")
	}
	return row.model(), nil
}

func (repo *registryRepository) GetOperatorByID(ctx context.Context, id int) (registry.Operator, error) {
	var row operatorRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+operatorColumns+` FROM operator WHERE id = $1`, id)
	if err != nil {
		return registry.Operator{}, trapNoRowsErr(err, registry.ErrOperatorNotFound, "finding operator by ID")
	}
	return row.model(), nil
}

func (repo *registryRepository) GetOperatorByUsername(ctx context.Context, username string) (registry.Operator, error) {
	var row operatorRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+operatorColumns+` FROM operator WHERE username = $1`, username)
	if err != nil {
		return registry.Operator{}, trapNoRowsErr(err, registry.ErrOperatorNotFound, "finding operator by username")
	}
	return row.model(), nil
}

func (repo *registryRepository) UpdateOperator(ctx context.Context, op registry.Operator) (registry.Operator, error) {
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE operator
		SET username = :username, name = :name, is_active = :is_active,
			password_hash = :password_hash, last_login = :last_login
		WHERE id = :id`, toOperatorRow(op))
	if err != nil {
		return registry.Operator{}, errors.Wrap(err, "updating operator")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return registry.Operator{}, registry.ErrOperatorNotFound
	}
	return op, nil
}

// Students

func (repo *registryRepository) UpsertStudents(ctx context.Context, students ...registry.Student) error {
	return repo.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, st := range students {
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO student (nis, name, class_id, class_name)
				VALUES (:nis, :name, :class_id, :class_name)
				ON CONFLICT (nis) DO UPDATE
				SET name = EXCLUDED.name, class_id = EXCLUDED.class_id, class_name = EXCLUDED.class_name`,
				toStudentRow(st))
			if err != nil {
				return errors.Wrapf(err, "upserting student %s", st.NIS)
			}
		}
		return nil
	})
}

func (repo *registryRepository) GetStudent(ctx context.Context, nis string) (registry.Student, error) {
	var row studentRow
	if err := repo.db.GetContext(ctx, &row, `SELECT nis, name, class_id, class_name FROM student WHERE nis = $1`, nis); err != nil {
		return registry.Student{}, trapNoRowsErr(err, registry.ErrStudentNotFound, "finding student")
	}
	return row.model(), nil
}

func (repo *registryRepository) QueryStudents(ctx context.Context, search string) ([]registry.Student, error) {
	var rows []studentRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT nis, name, class_id, class_name FROM student
		WHERE $1::text = '' OR nis ILIKE $1 || '%' OR name ILIKE '%' || $1 || '%'
		ORDER BY lower(name), nis`, search)
	if err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	students := make([]registry.Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, row.model())
	}
	return students, nil
}

// Machine users

func (repo *registryRepository) UpsertMachineUsers(ctx context.Context, users ...registry.MachineUser) error {
	return repo.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, mu := range users {
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO machine_user (id, machine_code, name, department)
				VALUES (:id, :machine_code, :name, :department)
				ON CONFLICT (id) DO UPDATE
				SET machine_code = EXCLUDED.machine_code, name = EXCLUDED.name, department = EXCLUDED.department`,
				toMachineUserRow(mu))
			if err != nil {
				return errors.Wrapf(err, "upserting machine user %s", mu.ID)
			}
		}
		return nil
	})
}

func (repo *registryRepository) GetMachineUser(ctx context.Context, id string) (registry.MachineUser, error) {
	var row machineUserRow
	if err := repo.db.GetContext(ctx, &row, `SELECT id, machine_code, name, department FROM machine_user WHERE id = $1`, id); err != nil {
		return registry.MachineUser{}, trapNoRowsErr(err, registry.ErrMachineUserNotFound, "finding machine user")
	}
	return row.model(), nil
}

func (repo *registryRepository) QueryMachineUsers(ctx context.Context) ([]registry.MachineUser, error) {
	var rows []machineUserRow
	if err := repo.db.SelectContext(ctx, &rows, `SELECT id, machine_code, name, department FROM machine_user ORDER BY id`); err != nil {
		return nil, errors.Wrap(err, "querying machine users")
	}
	users := make([]registry.MachineUser, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.model())
	}
	return users, nil
}

// Links

const linkColumns = `id, machine_user_id, student_nis, score, status, manual, created_at, updated_at`

func (repo *registryRepository) CreateLink(ctx context.Context, link registry.Link) (registry.Link, error) {
	row := toLinkRow(link)
	err := repo.insertReturningID(ctx, `
		INSERT INTO mapping_link (machine_user_id, student_nis, score, status, manual, created_at, updated_at)
		VALUES (:machine_user_id, :student_nis, :score, :status, :manual, :created_at, :updated_at)
		RETURNING id`, row, &row.ID)
	if err != nil {
		return registry.Link{}, errors.Wrap(err, "inserting link")
	}
	return row.model(), nil
}

func (repo *registryRepository) GetLink(ctx context.Context, id int64) (registry.Link, error) {
	var row linkRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+linkColumns+` FROM mapping_link WHERE id = $1`, id); err != nil {
		return registry.Link{}, trapNoRowsErr(err, registry.ErrLinkNotFound, "finding link")
	}
	return row.model(), nil
}

func (repo *registryRepository) QueryLinks(ctx context.Context, filter registry.LinkFilter) ([]registry.Link, error) {
	var rows []linkRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT `+linkColumns+` FROM mapping_link
		WHERE ($1::text = '' OR status = $1) AND ($2::text = '' OR machine_user_id = $2)
		ORDER BY id`, string(filter.Status), filter.MachineUserID)
	if err != nil {
		return nil, errors.Wrap(err, "querying links")
	}
	links := make([]registry.Link, 0, len(rows))
	for _, row := range rows {
		links = append(links, row.model())
	}
	return links, nil
}

func (repo *registryRepository) TransitionLink(ctx context.Context, id int64, from, to mapping.Status) (registry.Link, error) {
	var row linkRow
	err := repo.db.GetContext(ctx, &row, `
		UPDATE mapping_link SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING `+linkColumns, string(to), nowFunc().UTC(), id, string(from))
	if err == nil {
		return row.model(), nil
	}
	if errors.Cause(err) != sql.ErrNoRows {
		return registry.Link{}, errors.Wrap(err, "updating link status")
	}
	if _, err = repo.GetLink(ctx, id); err != nil {
		return registry.Link{}, err
	}
	return registry.Link{}, registry.ErrStatusConflict
}

func (repo *registryRepository) DeleteLinks(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM mapping_link WHERE id IN (?)`, ids)
	if err != nil {
		return errors.Wrap(err, "building delete")
	}
	_, err = repo.db.ExecContext(ctx, repo.db.Rebind(query), args...)
	return errors.Wrap(err, "deleting links")
}

// Attendance & batches

func (repo *registryRepository) CreateAttendanceLogs(ctx context.Context, logs ...registry.AttendanceLog) error {
	rows := make([]attendanceRow, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, toAttendanceRow(l))
	}
	return repo.inTx(ctx, func(tx *sqlx.Tx) error {
		for start := 0; start < len(rows); start += insertChunk {
			end := start + insertChunk
			if end > len(rows) {
				end = len(rows)
			}
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO attendance_log (machine_code, machine_user_id, student_nis, logged_at, batch_id)
				VALUES (:machine_code, :machine_user_id, :student_nis, :logged_at, :batch_id)`, rows[start:end])
			if err != nil {
				return errors.Wrap(err, "inserting attendance logs")
			}
		}
		return nil
	})
}

func (repo *registryRepository) CountAttendanceLogs(ctx context.Context, machineCode string) (int, error) {
	var n int
	err := repo.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM attendance_log WHERE $1::text = '' OR machine_code = $1`, machineCode)
	return n, errors.Wrap(err, "counting attendance logs")
}

func (repo *registryRepository) CreateBatch(ctx context.Context, batch registry.Batch) (registry.Batch, error) {
	row, err := toBatchRow(batch)
	if err != nil {
		return registry.Batch{}, err
	}
	_, err = repo.db.NamedExecContext(ctx, `
		INSERT INTO import_batch (id, kind, filename, machine_code, period, total, imported, failed, errors, created_at)
		VALUES (:id, :kind, :filename, :machine_code, :period, :total, :imported, :failed, :errors, :created_at)`, row)
	if err != nil {
		return registry.Batch{}, errors.Wrap(err, "inserting batch")
	}
	return row.model()
}

func (repo *registryRepository) QueryBatches(ctx context.Context) ([]registry.Batch, error) {
	var rows []batchRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT id, kind, filename, machine_code, period, total, imported, failed, errors, created_at
		FROM import_batch ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, errors.Wrap(err, "querying batches")
	}
	batches := make([]registry.Batch, 0, len(rows))
	for _, row := range rows {
		b, err := row.model()
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}
