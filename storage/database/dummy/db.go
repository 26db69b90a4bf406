// Package dummydb keeps the registry in memory. It backs the mock API in
// development and the tests.
package dummydb

import (
	"sync"
	"time"

	"github.com/trezcool/presensi/core/registry"
)

var nowFunc = time.Now // mockable

type (
	DB struct {
		operator    *operatorTable
		student     *studentTable
		machineUser *machineUserTable
		link        *linkTable
		attendance  *attendanceTable
		batch       *batchTable
	}

	operatorTable struct {
		sync.RWMutex
		pkCount int
		table   map[int]*registry.Operator
	}

	studentTable struct {
		sync.RWMutex
		table map[string]*registry.Student // by NIS
	}

	machineUserTable struct {
		sync.RWMutex
		table map[string]*registry.MachineUser
	}

	linkTable struct {
		sync.RWMutex
		pkCount int64
		table   map[int64]*registry.Link
	}

	attendanceTable struct {
		sync.RWMutex
		rows []registry.AttendanceLog
	}

	batchTable struct {
		sync.RWMutex
		rows []registry.Batch
	}
)

func Open() *DB {
	return &DB{
		operator:    &operatorTable{table: make(map[int]*registry.Operator)},
		student:     &studentTable{table: make(map[string]*registry.Student)},
		machineUser: &machineUserTable{table: make(map[string]*registry.MachineUser)},
		link:        &linkTable{table: make(map[int64]*registry.Link)},
		attendance:  &attendanceTable{},
		batch:       &batchTable{},
	}
}
