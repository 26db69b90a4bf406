package mapping

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
)

var errDuplicateID = errors.New("duplicate id")

// Store holds the locally cached page of suggestions.
// Reads return copies; the store is only mutated by Load and by the action Service.
type Store struct {
	mu     sync.RWMutex
	items  []Suggestion
	index  map[int64]int
	logger core.Logger
}

func NewStore(logger core.Logger) *Store {
	return &Store{
		index:  make(map[int64]int),
		logger: logger,
	}
}

// Load replaces the store content with a backend page.
// Schema-invalid records and repeated ids are skipped and counted; the first record of an id wins.
func (s *Store) Load(records []RawSuggestion) (skipped int) {
	items := make([]Suggestion, 0, len(records))
	index := make(map[int64]int, len(records))

	for i, rec := range records {
		sg, err := rec.Normalize()
		if err == nil {
			if _, dup := index[sg.ID]; dup {
				err = errors.Wrapf(errDuplicateID, "%d", sg.ID)
			}
		}
		if err != nil {
			skipped++
			if s.logger != nil {
				s.logger.Warn("skipping suggestion", "position", i, "id", int64(rec.ID), "error", err)
			}
			continue
		}
		index[sg.ID] = len(items)
		items = append(items, sg)
	}

	s.mu.Lock()
	s.items = items
	s.index = index
	s.mu.Unlock()
	return skipped
}

func (s *Store) List() []Suggestion {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]Suggestion, 0, len(s.items))
	for _, sg := range s.items {
		list = append(list, sg.clone())
	}
	return list
}

func (s *Store) ByStatus(status Status) []Suggestion {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]Suggestion, 0)
	for _, sg := range s.items {
		if sg.Status == status {
			list = append(list, sg.clone())
		}
	}
	return list
}

func (s *Store) Count(status Status) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, sg := range s.items {
		if sg.Status == status {
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) Get(id int64) (Suggestion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[id]
	if !ok {
		return Suggestion{}, false
	}
	return s.items[pos].clone(), true
}

// ByMachineUser returns the suggestions recorded for a machine user, in store order.
func (s *Store) ByMachineUser(machineUserID string) []Suggestion {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []Suggestion
	for _, sg := range s.items {
		if sg.MachineUser.ID == machineUserID {
			list = append(list, sg.clone())
		}
	}
	return list
}

func (s *Store) setStatus(id int64, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[id]
	if !ok {
		return false
	}
	s.items[pos].Status = status
	return true
}

// upsert replaces the entry with the same id, or else every entry of the same machine user, or else appends.
func (s *Store) upsert(sg Suggestion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos, ok := s.index[sg.ID]; ok {
		s.items[pos] = sg.clone()
		return
	}

	items := s.items[:0:0]
	replaced := false
	for _, cur := range s.items {
		if cur.MachineUser.ID != sg.MachineUser.ID {
			items = append(items, cur)
			continue
		}
		if !replaced {
			items = append(items, sg.clone())
			replaced = true
		}
	}
	if !replaced {
		items = append(items, sg.clone())
	}

	s.items = items
	s.index = make(map[int64]int, len(items))
	for i, cur := range items {
		s.index[cur.ID] = i
	}
}
