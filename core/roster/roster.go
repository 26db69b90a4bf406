package roster

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
)

var ErrNotFound = errors.New("student not found")

// Backend lists the roster.
type Backend interface {
	ListStudents(ctx context.Context, search string) ([]Student, error)
}

// Roster is a read-only view over the students, indexed by NIS.
type Roster struct {
	students []Student
	byNIS    map[string]int
}

// New builds a roster sorted by name; students without NIS are dropped and
// the last occurrence of a duplicated NIS wins.
func New(students []Student) *Roster {
	r := &Roster{byNIS: make(map[string]int, len(students))}
	for _, s := range students {
		if s.NIS == "" {
			continue
		}
		if pos, ok := r.byNIS[s.NIS]; ok {
			r.students[pos] = s
			continue
		}
		r.byNIS[s.NIS] = len(r.students)
		r.students = append(r.students, s)
	}

	sort.SliceStable(r.students, func(i, j int) bool {
		return core.FoldName(r.students[i].Name) < core.FoldName(r.students[j].Name)
	})
	for i, s := range r.students {
		r.byNIS[s.NIS] = i
	}
	return r
}

// Fetch loads the full roster from the backend.
func Fetch(ctx context.Context, backend Backend) (*Roster, error) {
	students, err := backend.ListStudents(ctx, "")
	if err != nil {
		return nil, errors.Wrap(err, "listing students")
	}
	return New(students), nil
}

func (r *Roster) Len() int {
	return len(r.students)
}

func (r *Roster) Students() []Student {
	return append([]Student(nil), r.students...)
}

func (r *Roster) ByNIS(nis string) (Student, error) {
	pos, ok := r.byNIS[strings.TrimSpace(nis)]
	if !ok {
		return Student{}, ErrNotFound
	}
	return r.students[pos], nil
}

// Search matches q against folded names and NIS prefixes. An empty q returns everyone.
func (r *Roster) Search(q string) []Student {
	fq := core.FoldName(q)
	nq := strings.TrimSpace(q)
	if fq == "" && nq == "" {
		return r.Students()
	}

	var out []Student
	for _, s := range r.students {
		if (nq != "" && strings.HasPrefix(s.NIS, nq)) ||
			(fq != "" && strings.Contains(core.FoldName(s.Name), fq)) {
			out = append(out, s)
		}
	}
	return out
}

// Candidates ranks the whole roster against a machine user name.
func (r *Roster) Candidates(name string, limit int) []Candidate {
	return Rank(name, r.students, limit)
}
