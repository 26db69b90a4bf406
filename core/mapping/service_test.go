package mapping

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/presensi/core"
)

// fakeBackend keeps the server side list and records the mutating calls it receives.
type fakeBackend struct {
	mu       sync.Mutex
	items    []Suggestion
	fail     map[int64]error
	listErr  error
	calls    []string
	gate     chan struct{} // when set, mutations block until it is closed
	entered  chan int64
	mapReply *RawSuggestion
	nextID   int64
}

var _ Backend = (*fakeBackend)(nil)

func newFakeBackend(items ...Suggestion) *fakeBackend {
	return &fakeBackend{items: items, fail: make(map[int64]error), nextID: 1000}
}

func (fb *fakeBackend) ListSuggestions(_ context.Context, q Query) ([]RawSuggestion, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.listErr != nil {
		return nil, fb.listErr
	}

	data, err := json.Marshal(Filter(fb.items, q.Status))
	if err != nil {
		return nil, err
	}
	var records []RawSuggestion
	err = json.Unmarshal(data, &records)
	return records, err
}

func (fb *fakeBackend) mutate(op string, id int64, status Status) error {
	if fb.entered != nil {
		fb.entered <- id
	}
	if fb.gate != nil {
		<-fb.gate
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.calls = append(fb.calls, op)
	if err := fb.fail[id]; err != nil {
		return err
	}
	for i := range fb.items {
		if fb.items[i].ID == id {
			fb.items[i].Status = status
		}
	}
	return nil
}

func (fb *fakeBackend) VerifySuggestion(_ context.Context, id int64) error {
	return fb.mutate("verify", id, StatusVerified)
}

func (fb *fakeBackend) RejectSuggestion(_ context.Context, id int64) error {
	return fb.mutate("reject", id, StatusRejected)
}

func (fb *fakeBackend) ManualMap(_ context.Context, req ManualMapRequest) (RawSuggestion, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.calls = append(fb.calls, "manual")
	if fb.mapReply != nil {
		return *fb.mapReply, nil
	}

	score := 100
	sg := Suggestion{
		ID:               fb.nextID,
		MachineUser:      MachineUser{ID: req.MachineUserID},
		SuggestedStudent: &SuggestedStudent{NIS: req.StudentNIS, Name: "Mapped"},
		ConfidenceScore:  &score,
		Status:           StatusVerified,
	}
	fb.nextID++

	items := fb.items[:0:0]
	for _, cur := range fb.items {
		if cur.MachineUser.ID == req.MachineUserID {
			sg.MachineUser = cur.MachineUser
			continue
		}
		items = append(items, cur)
	}
	fb.items = append(items, sg)

	data, _ := json.Marshal(sg)
	var raw RawSuggestion
	err := json.Unmarshal(data, &raw)
	return raw, err
}

func (fb *fakeBackend) callCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.calls)
}

func setup(t *testing.T, items ...Suggestion) (*Service, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend(items...)
	svc := NewService(backend, NewStore(nil), Options{Concurrency: 2})
	_, err := svc.Refresh(context.Background(), Query{})
	require.NoError(t, err)
	return svc, backend
}

func statusOf(t *testing.T, svc *Service, id int64) Status {
	t.Helper()
	sg, ok := svc.Store().Get(id)
	require.True(t, ok, "suggestion %d not in store", id)
	return sg.Status
}

func TestService_Verify(t *testing.T) {
	ctx := context.Background()
	svc, backend := setup(t,
		suggestion(1, "m1", StatusPending, "1001", 95),
		suggestion(2, "m2", StatusPending, "", 0),
		suggestion(3, "m3", StatusRejected, "1003", 88),
	)

	require.NoError(t, svc.Verify(ctx, 1))
	assert.Equal(t, StatusVerified, statusOf(t, svc, 1))

	// verified is terminal; a second verify is refused before any network call
	calls := backend.callCount()
	err := svc.Verify(ctx, 1)
	assert.True(t, core.IsInvalidState(err), "got %v", err)
	assert.Equal(t, calls, backend.callCount())
	assert.Equal(t, StatusVerified, statusOf(t, svc, 1))

	tests := []struct {
		name      string
		id        int64
		wantState bool
		wantValid bool
	}{
		{name: "no suggested student", id: 2, wantState: true},
		{name: "already rejected", id: 3, wantState: true},
		{name: "unknown id", id: 42, wantValid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Verify(ctx, tt.id)
			assert.Equal(t, tt.wantState, core.IsInvalidState(err), "err = %v", err)
			assert.Equal(t, tt.wantValid, core.IsValidation(err), "err = %v", err)
			assert.Equal(t, calls, backend.callCount())
		})
	}
}

func TestService_Reject(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t, suggestion(1, "m1", StatusPending, "1001", 60))

	require.NoError(t, svc.Reject(ctx, 1))
	assert.Equal(t, StatusRejected, statusOf(t, svc, 1))
	assert.True(t, core.IsInvalidState(svc.Verify(ctx, 1)))
	assert.True(t, core.IsInvalidState(svc.Reject(ctx, 1)))
}

func TestService_NetworkFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	svc, backend := setup(t, suggestion(1, "m1", StatusPending, "1001", 95))
	backend.fail[1] = core.NewNetworkError("verify", http.StatusBadGateway, "upstream down", nil)

	err := svc.Verify(ctx, 1)
	require.Error(t, err)
	assert.True(t, core.IsNetwork(err))
	assert.Equal(t, http.StatusBadGateway, core.StatusCode(err))
	assert.Equal(t, StatusPending, statusOf(t, svc, 1))
	assert.False(t, svc.Busy(1))

	// the operator retries
	delete(backend.fail, 1)
	require.NoError(t, svc.Verify(ctx, 1))
	assert.Equal(t, StatusVerified, statusOf(t, svc, 1))
}

func TestService_RefreshFailureAfterMutation(t *testing.T) {
	ctx := context.Background()
	svc, backend := setup(t, suggestion(1, "m1", StatusPending, "1001", 95))
	backend.listErr = errors.New("list down")

	require.NoError(t, svc.Verify(ctx, 1), "a committed mutation is not failed by its refresh")
	assert.Equal(t, StatusVerified, statusOf(t, svc, 1))
}

func TestService_SingleFlight(t *testing.T) {
	ctx := context.Background()
	svc, backend := setup(t,
		suggestion(1, "m1", StatusPending, "1001", 95),
		suggestion(2, "m2", StatusPending, "1002", 91),
	)
	backend.gate = make(chan struct{})
	backend.entered = make(chan int64, 1)

	done := make(chan error, 1)
	go func() { done <- svc.Verify(ctx, 1) }()
	assert.Equal(t, int64(1), <-backend.entered)

	assert.True(t, svc.Busy(1))
	assert.False(t, svc.Busy(2))
	assert.Equal(t, ErrRequestInFlight, svc.Verify(ctx, 1))
	assert.Equal(t, ErrRequestInFlight, svc.Reject(ctx, 1))
	_, err := svc.ManualMap(ctx, "m1", "1009")
	assert.Equal(t, ErrRequestInFlight, err)

	close(backend.gate)
	require.NoError(t, <-done)
	assert.False(t, svc.Busy(1))
	assert.Equal(t, StatusVerified, statusOf(t, svc, 1))
	assert.Equal(t, 1, backend.callCount(), "the refused requests never reached the backend")
}

func TestService_CloseDiscardsLateResults(t *testing.T) {
	ctx := context.Background()
	svc, backend := setup(t, suggestion(1, "m1", StatusPending, "1001", 95))
	backend.gate = make(chan struct{})
	backend.entered = make(chan int64, 1)

	done := make(chan error, 1)
	go func() { done <- svc.Verify(ctx, 1) }()
	<-backend.entered

	svc.Close()
	close(backend.gate)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("verify did not return")
	}
	assert.Equal(t, StatusPending, statusOf(t, svc, 1), "late result must not touch the store")
	assert.Equal(t, ErrServiceClosed, svc.Verify(ctx, 1))
}

func TestService_ManualMap(t *testing.T) {
	ctx := context.Background()

	t.Run("suggestion without match", func(t *testing.T) {
		svc, _ := setup(t, suggestion(5, "7", StatusPending, "", 0))

		sg, err := svc.ManualMap(ctx, "7", "123456")
		require.NoError(t, err)
		assert.Equal(t, StatusVerified, sg.Status)
		require.NotNil(t, sg.SuggestedStudent)
		assert.Equal(t, "123456", sg.SuggestedStudent.NIS)

		local := svc.Store().ByMachineUser("7")
		require.Len(t, local, 1)
		assert.Equal(t, StatusVerified, local[0].Status)
		assert.Equal(t, "123456", local[0].SuggestedStudent.NIS)
	})

	t.Run("overrides a verified link", func(t *testing.T) {
		svc, _ := setup(t, suggestion(5, "7", StatusVerified, "1001", 92))

		_, err := svc.ManualMap(ctx, " 7 ", "2002")
		require.NoError(t, err)
		local := svc.Store().ByMachineUser("7")
		require.Len(t, local, 1)
		assert.Equal(t, "2002", local[0].SuggestedStudent.NIS)
	})

	t.Run("empty server reply falls back to local record", func(t *testing.T) {
		svc, backend := setup(t, suggestion(5, "7", StatusPending, "", 0))
		backend.mapReply = &RawSuggestion{}
		backend.listErr = errors.New("list down")

		sg, err := svc.ManualMap(ctx, "7", "123456")
		require.NoError(t, err)
		assert.Equal(t, int64(5), sg.ID)
		assert.Equal(t, StatusVerified, statusOf(t, svc, 5))
	})

	t.Run("invalid input", func(t *testing.T) {
		svc, backend := setup(t)
		tests := []struct {
			name, machineUserID, nis string
		}{
			{name: "blank machine user", machineUserID: "  ", nis: "123456"},
			{name: "missing nis", machineUserID: "7", nis: ""},
			{name: "malformed nis", machineUserID: "7", nis: "1 2"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.ManualMap(ctx, tt.machineUserID, tt.nis)
				assert.True(t, core.IsValidation(err), "err = %v", err)
			})
		}
		assert.Equal(t, 0, backend.callCount())
	})
}

func TestService_VerifySelected(t *testing.T) {
	ctx := context.Background()

	t.Run("partial failure is never a false success", func(t *testing.T) {
		svc, backend := setup(t,
			suggestion(1, "m1", StatusPending, "1001", 95),
			suggestion(2, "m2", StatusPending, "1002", 60),
		)
		backend.fail[2] = core.NewNetworkError("verify", http.StatusInternalServerError, "boom", nil)

		sel := NewSelection(1, 2)
		res, err := svc.VerifySelected(ctx, sel)
		require.NoError(t, err)

		assert.False(t, res.OK())
		assert.Equal(t, []int64{1}, res.Succeeded)
		assert.Equal(t, []int64{2}, res.FailedIDs())
		assert.True(t, core.IsNetwork(res.Failed[2]))
		assert.Equal(t, StatusVerified, statusOf(t, svc, 1))
		assert.Equal(t, StatusPending, statusOf(t, svc, 2))
		assert.Equal(t, []int64{2}, sel.IDs(), "failed ids stay selected")
	})

	t.Run("full success clears the selection", func(t *testing.T) {
		svc, _ := setup(t,
			suggestion(1, "m1", StatusPending, "1001", 95),
			suggestion(2, "m2", StatusPending, "1002", 75),
			suggestion(3, "m3", StatusPending, "1003", 72),
		)
		sel := NewSelection(1, 2, 3)
		res, err := svc.VerifySelected(ctx, sel)
		require.NoError(t, err)
		assert.True(t, res.OK())
		assert.Equal(t, []int64{1, 2, 3}, res.Succeeded)
		assert.Equal(t, 0, sel.Len())
		assert.Equal(t, 3, svc.Store().Count(StatusVerified))
	})

	t.Run("ineligible ids fail individually", func(t *testing.T) {
		svc, _ := setup(t,
			suggestion(1, "m1", StatusPending, "1001", 95),
			suggestion(2, "m2", StatusVerified, "1002", 95),
		)
		res, err := svc.RejectSelected(ctx, NewSelection(1, 2))
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, res.Succeeded)
		assert.True(t, core.IsInvalidState(res.Failed[2]))
		assert.Equal(t, StatusRejected, statusOf(t, svc, 1))
		assert.Equal(t, StatusVerified, statusOf(t, svc, 2))
	})

	t.Run("ids sharing a machine user are sent one after the other", func(t *testing.T) {
		svc, backend := setup(t,
			suggestion(1, "m1", StatusPending, "1001", 95),
			suggestion(2, "m1", StatusPending, "1002", 91),
			suggestion(3, "m2", StatusPending, "1003", 93),
		)
		res, err := svc.RejectSelected(ctx, NewSelection(1, 2, 3))
		require.NoError(t, err)
		assert.True(t, res.OK(), "failed: %v", res.Failed)
		assert.Equal(t, []int64{1, 2, 3}, res.Succeeded)
		assert.Equal(t, 3, backend.callCount())
		assert.Equal(t, 3, svc.Store().Count(StatusRejected))
	})

	t.Run("empty selection", func(t *testing.T) {
		svc, backend := setup(t)
		_, err := svc.VerifySelected(ctx, NewSelection())
		assert.True(t, core.IsValidation(err))
		_, err = svc.RejectSelected(ctx, nil)
		assert.True(t, core.IsValidation(err))
		assert.Equal(t, 0, backend.callCount())
	})
}

func TestService_BatchLocksTheList(t *testing.T) {
	ctx := context.Background()
	svc, backend := setup(t,
		suggestion(1, "m1", StatusPending, "1001", 95),
		suggestion(2, "m2", StatusPending, "1002", 95),
	)
	backend.gate = make(chan struct{})
	backend.entered = make(chan int64, 2)

	done := make(chan BatchResult, 1)
	go func() {
		res, _ := svc.VerifySelected(ctx, NewSelection(1))
		done <- res
	}()
	<-backend.entered

	assert.True(t, svc.BatchRunning())
	assert.True(t, svc.Busy(2), "the whole list is disabled during a batch")
	assert.Equal(t, ErrRequestInFlight, svc.Verify(ctx, 2))
	_, err := svc.VerifySelected(ctx, NewSelection(2))
	assert.Equal(t, ErrBatchInFlight, err)

	close(backend.gate)
	res := <-done
	assert.Equal(t, []int64{1}, res.Succeeded)
	assert.False(t, svc.BatchRunning())
	require.NoError(t, svc.Verify(ctx, 2))
}

func TestService_RateLimitedBatch(t *testing.T) {
	backend := newFakeBackend(
		suggestion(1, "m1", StatusPending, "1001", 95),
		suggestion(2, "m2", StatusPending, "1002", 95),
	)
	svc := NewService(backend, NewStore(nil), Options{Concurrency: 1, RateLimit: 1000})
	_, err := svc.Refresh(context.Background(), Query{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sel := NewSelection(1, 2)
	res, err := svc.VerifySelected(ctx, sel)
	require.NoError(t, err)
	// a cancelled context stops the limiter before any request is sent
	assert.Empty(t, res.Succeeded)
	assert.Equal(t, []int64{1, 2}, res.FailedIDs())
	assert.Equal(t, 0, backend.callCount())
	assert.Equal(t, []int64{1, 2}, sel.IDs())
	assert.Equal(t, 2, svc.Store().Count(StatusPending))
}
