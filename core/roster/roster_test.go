package roster

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var students = []Student{
	{NIS: "1003", Name: "Citra Lestari", ClassID: "2", ClassName: "X-B"},
	{NIS: "1001", Name: "Budi Santoso", ClassID: "1", ClassName: "X-A"},
	{NIS: "1002", Name: "Ani Wijaya", ClassID: "1", ClassName: "X-A"},
	{NIS: "2001", Name: "Muhammad Fa'iz Al-Ghifári", ClassID: "3", ClassName: "XI-A"},
	{NIS: "", Name: "Ghost"},
}

func TestStudent_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Student
		wantErr bool
	}{
		{
			name: "flat",
			data: `{"nis": "1001", "name": " Budi ", "class_id": 1, "class_name": "X-A"}`,
			want: Student{NIS: "1001", Name: "Budi", ClassID: "1", ClassName: "X-A"},
		},
		{
			name: "numeric nis and nested class",
			data: `{"nis": 1002, "name": "Ani", "class": {"id": "7", "name": "XII-IPA"}}`,
			want: Student{NIS: "1002", Name: "Ani", ClassID: "7", ClassName: "XII-IPA"},
		},
		{
			name: "null class",
			data: `{"nis": "1003", "name": "Citra", "class_id": null, "class": null}`,
			want: Student{NIS: "1003", Name: "Citra"},
		},
		{name: "bad nis", data: `{"nis": {}, "name": "x"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Student
			err := json.Unmarshal([]byte(tt.data), &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRoster(t *testing.T) {
	r := New(students)

	assert.Equal(t, 4, r.Len(), "students without nis are dropped")
	assert.Equal(t, []string{"1002", "1001", "1003", "2001"}, nisOf(r.Students()), "sorted by name")

	s, err := r.ByNIS(" 1003 ")
	require.NoError(t, err)
	assert.Equal(t, "Citra Lestari", s.Name)
	_, err = r.ByNIS("9999")
	assert.Equal(t, ErrNotFound, err)

	tests := []struct {
		q    string
		want []string
	}{
		{q: "", want: []string{"1002", "1001", "1003", "2001"}},
		{q: "santoso", want: []string{"1001"}},
		{q: "FAIZ", want: []string{"2001"}},
		{q: "ghifari", want: []string{"2001"}},
		{q: "100", want: []string{"1002", "1001", "1003"}},
		{q: "zzz", want: nil},
	}
	for _, tt := range tests {
		t.Run("search "+tt.q, func(t *testing.T) {
			assert.Equal(t, tt.want, nisOf(r.Search(tt.q)))
		})
	}
}

func TestNew_DuplicateNIS(t *testing.T) {
	r := New([]Student{{NIS: "1", Name: "Old"}, {NIS: "1", Name: "New"}})
	assert.Equal(t, 1, r.Len())
	s, err := r.ByNIS("1")
	require.NoError(t, err)
	assert.Equal(t, "New", s.Name)
}

func TestScore(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{a: "Budi Santoso", b: "Budi Santoso", want: 100},
		{a: "BUDI SANTOSO", b: "budi  santoso", want: 100},
		{a: "Santoso Budi", b: "Budi Santoso", want: 100},
		{a: "Budi S", b: "Budi Santoso", want: 90},
		{a: "Muhammad Faiz Al Ghifari", b: "Muhammad Fa'iz Al-Ghifári", want: 100},
		{a: "", b: "Budi", want: 0},
		{a: "!!!", b: "Budi", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.a, tt.b))
			assert.Equal(t, tt.want, Score(tt.b, tt.a), "symmetric")
		})
	}

	assert.Less(t, Score("Ani", "Budi Santoso"), 70)
}

func TestRank(t *testing.T) {
	cands := Rank("BUDI S", students, 2)
	require.Len(t, cands, 2)
	assert.Equal(t, "1001", cands[0].Student.NIS)
	assert.Equal(t, 90, cands[0].Score)
	assert.GreaterOrEqual(t, cands[0].Score, cands[1].Score)

	all := Rank("BUDI S", students, 0)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
	}
	assert.Empty(t, Rank("", students, 5))
}

type fakeBackend struct {
	students []Student
	err      error
}

func (fb fakeBackend) ListStudents(context.Context, string) ([]Student, error) {
	return fb.students, fb.err
}

func TestFetch(t *testing.T) {
	r, err := Fetch(context.Background(), fakeBackend{students: students})
	require.NoError(t, err)
	assert.Equal(t, 4, r.Len())

	cands := r.Candidates("citra lestari", 1)
	require.Len(t, cands, 1)
	assert.Equal(t, "1003", cands[0].Student.NIS)

	_, err = Fetch(context.Background(), fakeBackend{err: errors.New("down")})
	assert.Error(t, err)
}

func nisOf(list []Student) []string {
	var out []string
	for _, s := range list {
		out = append(out, s.NIS)
	}
	return out
}
