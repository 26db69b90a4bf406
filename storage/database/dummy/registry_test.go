package dummydb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/presensi/core/mapping"
	"github.com/trezcool/presensi/core/registry"
)

func TestRegistryRepository_Links(t *testing.T) {
	repo := NewRegistryRepository(Open())
	ctx := context.Background()

	for _, mu := range []string{"3", "1", "2"} {
		_, err := repo.CreateLink(ctx, registry.Link{MachineUserID: mu, StudentNIS: "S" + mu, Status: mapping.StatusPending})
		require.NoError(t, err)
	}

	links, err := repo.QueryLinks(ctx, registry.LinkFilter{})
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{links[0].ID, links[1].ID, links[2].ID})

	got, err := repo.TransitionLink(ctx, 2, mapping.StatusPending, mapping.StatusVerified)
	require.NoError(t, err)
	assert.Equal(t, mapping.StatusVerified, got.Status)
	assert.False(t, got.UpdatedAt.IsZero())

	_, err = repo.TransitionLink(ctx, 2, mapping.StatusPending, mapping.StatusRejected)
	assert.Equal(t, registry.ErrStatusConflict, err)
	_, err = repo.TransitionLink(ctx, 42, mapping.StatusPending, mapping.StatusRejected)
	assert.True(t, registry.IsNotFound(err))

	verified, err := repo.QueryLinks(ctx, registry.LinkFilter{Status: mapping.StatusVerified})
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, "1", verified[0].MachineUserID)

	require.NoError(t, repo.DeleteLinks(ctx, 1, 3))
	links, err = repo.QueryLinks(ctx, registry.LinkFilter{MachineUserID: "3"})
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestRegistryRepository_QueryStudents(t *testing.T) {
	repo := NewRegistryRepository(Open())
	ctx := context.Background()

	require.NoError(t, repo.UpsertStudents(ctx,
		registry.Student{NIS: "2024002", Name: "Siti Aminah"},
		registry.Student{NIS: "2024001", Name: "Budi Santoso"},
		registry.Student{NIS: "2023001", Name: "Ahmad Fauzi"},
	))
	require.NoError(t, repo.UpsertStudents(ctx, registry.Student{NIS: "2024001", Name: "Budi Santoso", ClassName: "7A"}))

	tests := []struct {
		name   string
		search string
		want   []string
	}{
		{name: "all, by name", want: []string{"2023001", "2024001", "2024002"}},
		{name: "nis prefix", search: "2024", want: []string{"2024001", "2024002"}},
		{name: "name", search: "siti", want: []string{"2024002"}},
		{name: "nothing", search: "zzz", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			students, err := repo.QueryStudents(ctx, tt.search)
			require.NoError(t, err)
			got := make([]string, 0, len(students))
			for _, st := range students {
				got = append(got, st.NIS)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	st, err := repo.GetStudent(ctx, "2024001")
	require.NoError(t, err)
	assert.Equal(t, "7A", st.ClassName, "upsert replaces")
}

func TestRegistryRepository_Batches(t *testing.T) {
	repo := NewRegistryRepository(Open())
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := repo.CreateBatch(ctx, registry.Batch{ID: id})
		require.NoError(t, err)
	}
	batches, err := repo.QueryBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "b", batches[0].ID, "most recent first")
}
