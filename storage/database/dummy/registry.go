package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/mapping"
	"github.com/trezcool/presensi/core/registry"
)

type registryRepository struct {
	db *DB
}

var _ registry.Repository = (*registryRepository)(nil) // interface compliance check

func NewRegistryRepository(db *DB) registry.Repository {
	return &registryRepository{db: db}
}

// Operators

func (repo *registryRepository) CreateOperator(_ context.Context, op registry.Operator) (registry.Operator, error) {
	tbl := repo.db.operator
	tbl.Lock()
	defer tbl.Unlock()

	tbl.pkCount++
	op.ID = tbl.pkCount
	tbl.table[op.ID] = &op
	return op, nil
}

func (repo *registryRepository) GetOperatorByID(_ context.Context, id int) (registry.Operator, error) {
	tbl := repo.db.operator
	tbl.RLock()
	defer tbl.RUnlock()

	if op, ok := tbl.table[id]; ok {
		return *op, nil
	}
	return registry.Operator{}, registry.ErrOperatorNotFound
}

func (repo *registryRepository) GetOperatorByUsername(_ context.Context, username string) (registry.Operator, error) {
	tbl := repo.db.operator
	tbl.RLock()
	defer tbl.RUnlock()

	for _, op := range tbl.table {
		if op.Username == username {
			return *op, nil
		}
	}
	return registry.Operator{}, registry.ErrOperatorNotFound
}

func (repo *registryRepository) UpdateOperator(_ context.Context, op registry.Operator) (registry.Operator, error) {
	tbl := repo.db.operator
	tbl.Lock()
	defer tbl.Unlock()

	if _, ok := tbl.table[op.ID]; !ok {
		return registry.Operator{}, registry.ErrOperatorNotFound
	}
	tbl.table[op.ID] = &op
	return op, nil
}

// Students

func (repo *registryRepository) UpsertStudents(_ context.Context, students ...registry.Student) error {
	tbl := repo.db.student
	tbl.Lock()
	defer tbl.Unlock()

	for i := range students {
		st := students[i]
		tbl.table[st.NIS] = &st
	}
	return nil
}

func (repo *registryRepository) GetStudent(_ context.Context, nis string) (registry.Student, error) {
	tbl := repo.db.student
	tbl.RLock()
	defer tbl.RUnlock()

	if st, ok := tbl.table[nis]; ok {
		return *st, nil
	}
	return registry.Student{}, registry.ErrStudentNotFound
}

func (repo *registryRepository) QueryStudents(_ context.Context, search string) ([]registry.Student, error) {
	tbl := repo.db.student
	tbl.RLock()
	defer tbl.RUnlock()

	search = strings.ToLower(search)
	students := make([]registry.Student, 0, len(tbl.table))
	for _, st := range tbl.table {
		if search == "" ||
			strings.HasPrefix(strings.ToLower(st.NIS), search) ||
			strings.Contains(strings.ToLower(st.Name), search) {
			students = append(students, *st)
		}
	}
	sort.Slice(students, func(i, j int) bool {
		fi, fj := core.FoldName(students[i].Name), core.FoldName(students[j].Name)
		if fi != fj {
			return fi < fj
		}
		return students[i].NIS < students[j].NIS
	})
	return students, nil
}

// Machine users

func (repo *registryRepository) UpsertMachineUsers(_ context.Context, users ...registry.MachineUser) error {
	tbl := repo.db.machineUser
	tbl.Lock()
	defer tbl.Unlock()

	for i := range users {
		mu := users[i]
		tbl.table[mu.ID] = &mu
	}
	return nil
}

func (repo *registryRepository) GetMachineUser(_ context.Context, id string) (registry.MachineUser, error) {
	tbl := repo.db.machineUser
	tbl.RLock()
	defer tbl.RUnlock()

	if mu, ok := tbl.table[id]; ok {
		return *mu, nil
	}
	return registry.MachineUser{}, registry.ErrMachineUserNotFound
}

func (repo *registryRepository) QueryMachineUsers(_ context.Context) ([]registry.MachineUser, error) {
	tbl := repo.db.machineUser
	tbl.RLock()
	defer tbl.RUnlock()

	users := make([]registry.MachineUser, 0, len(tbl.table))
	for _, mu := range tbl.table {
		users = append(users, *mu)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// Links

func (repo *registryRepository) CreateLink(_ context.Context, link registry.Link) (registry.Link, error) {
	tbl := repo.db.link
	tbl.Lock()
	defer tbl.Unlock()

	tbl.pkCount++
	link.ID = tbl.pkCount
	tbl.table[link.ID] = &link
	return link, nil
}

func (repo *registryRepository) GetLink(_ context.Context, id int64) (registry.Link, error) {
	tbl := repo.db.link
	tbl.RLock()
	defer tbl.RUnlock()

	if link, ok := tbl.table[id]; ok {
		return *link, nil
	}
	return registry.Link{}, registry.ErrLinkNotFound
}

func (repo *registryRepository) QueryLinks(_ context.Context, filter registry.LinkFilter) ([]registry.Link, error) {
	tbl := repo.db.link
	tbl.RLock()
	defer tbl.RUnlock()

	links := make([]registry.Link, 0, len(tbl.table))
	for _, link := range tbl.table {
		if filter.Status != "" && link.Status != filter.Status {
			continue
		}
		if filter.MachineUserID != "" && link.MachineUserID != filter.MachineUserID {
			continue
		}
		links = append(links, *link)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].ID < links[j].ID })
	return links, nil
}

func (repo *registryRepository) TransitionLink(_ context.Context, id int64, from, to mapping.Status) (registry.Link, error) {
	tbl := repo.db.link
	tbl.Lock()
	defer tbl.Unlock()

	link, ok := tbl.table[id]
	if !ok {
		return registry.Link{}, registry.ErrLinkNotFound
	}
	if link.Status != from {
		return registry.Link{}, registry.ErrStatusConflict
	}
	link.Status = to
	link.UpdatedAt = nowFunc().UTC()
	return *link, nil
}

func (repo *registryRepository) DeleteLinks(_ context.Context, ids ...int64) error {
	tbl := repo.db.link
	tbl.Lock()
	defer tbl.Unlock()

	for _, id := range ids {
		delete(tbl.table, id)
	}
	return nil
}

// Attendance & batches

func (repo *registryRepository) CreateAttendanceLogs(_ context.Context, logs ...registry.AttendanceLog) error {
	tbl := repo.db.attendance
	tbl.Lock()
	defer tbl.Unlock()

	tbl.rows = append(tbl.rows, logs...)
	return nil
}

func (repo *registryRepository) CountAttendanceLogs(_ context.Context, machineCode string) (int, error) {
	tbl := repo.db.attendance
	tbl.RLock()
	defer tbl.RUnlock()

	var n int
	for _, l := range tbl.rows {
		if machineCode == "" || l.MachineCode == machineCode {
			n++
		}
	}
	return n, nil
}

func (repo *registryRepository) CreateBatch(_ context.Context, batch registry.Batch) (registry.Batch, error) {
	tbl := repo.db.batch
	tbl.Lock()
	defer tbl.Unlock()

	batch.Errors = append([]core.RecordError{}, batch.Errors...)
	tbl.rows = append(tbl.rows, batch)
	return batch, nil
}

func (repo *registryRepository) QueryBatches(_ context.Context) ([]registry.Batch, error) {
	tbl := repo.db.batch
	tbl.RLock()
	defer tbl.RUnlock()

	batches := make([]registry.Batch, 0, len(tbl.rows))
	for i := len(tbl.rows) - 1; i >= 0; i-- {
		batches = append(batches, tbl.rows[i])
	}
	return batches, nil
}
