package mapping

import (
	"context"
	"sort"
	"strconv"
	"sync"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/trezcool/presensi/core"
)

var (
	// errors
	ErrNotFound         = errors.New("suggestion not found")
	ErrEmptySelection   = errors.New("no suggestion selected")
	ErrRequestInFlight  = errors.New("a request for this suggestion is already in flight")
	ErrBatchInFlight    = errors.New("a batch action is already in flight")
	ErrServiceClosed    = errors.New("mapping service closed")
	errMalformedMapping = errors.New("malformed manual map response")
)

const defaultConcurrency = 4

type (
	// Backend is the subset of the attendance REST API the mapping actions consume.
	Backend interface {
		ListSuggestions(ctx context.Context, q Query) ([]RawSuggestion, error)
		VerifySuggestion(ctx context.Context, id int64) error
		RejectSuggestion(ctx context.Context, id int64) error
		ManualMap(ctx context.Context, req ManualMapRequest) (RawSuggestion, error)
	}

	Options struct {
		Concurrency int     // max parallel requests of a batch
		RateLimit   float64 // batch requests per second, 0 means unpaced
		Logger      core.Logger
		Validate    *validator.Validate
		Translator  ut.Translator
	}

	// Service runs operator actions against the backend and reconciles the Store afterwards.
	// Local state changes only after the backend confirmed a mutation.
	Service struct {
		backend     Backend
		store       *Store
		logger      core.Logger
		validate    *validator.Validate
		translator  ut.Translator
		limiter     *rate.Limiter
		concurrency int

		mu       sync.Mutex
		inflight map[string]struct{}
		batching bool
		closed   bool
		query    Query
	}

	// BatchResult reports a batch action per id. An id is either in Succeeded or in Failed.
	BatchResult struct {
		Succeeded []int64
		Failed    map[int64]error
	}
)

func (r BatchResult) OK() bool {
	return len(r.Failed) == 0
}

// FailedIDs returns the ids that failed, in ascending order.
func (r BatchResult) FailedIDs() []int64 {
	ids := make([]int64, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func NewService(backend Backend, store *Store, opts Options) *Service {
	svc := &Service{
		backend:     backend,
		store:       store,
		logger:      opts.Logger,
		validate:    opts.Validate,
		translator:  opts.Translator,
		concurrency: opts.Concurrency,
		inflight:    make(map[string]struct{}),
		query:       Query{Status: FilterAll},
	}
	if svc.concurrency <= 0 {
		svc.concurrency = defaultConcurrency
	}
	if opts.RateLimit > 0 {
		svc.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), svc.concurrency)
	}
	if svc.validate == nil || svc.translator == nil {
		svc.validate, svc.translator = core.NewValidator()
	}
	return svc
}

func (svc *Service) Store() *Store {
	return svc.store
}

// Refresh re-fetches the suggestions matching q and replaces the store content.
// The query is remembered and reused by the refresh following each mutation.
func (svc *Service) Refresh(ctx context.Context, q Query) (skipped int, err error) {
	if q.Status == "" {
		q.Status = FilterAll
	}
	svc.mu.Lock()
	svc.query = q
	svc.mu.Unlock()
	return svc.refresh(ctx, q)
}

func (svc *Service) refresh(ctx context.Context, q Query) (int, error) {
	records, err := svc.backend.ListSuggestions(ctx, q)
	if err != nil {
		return 0, errors.Wrap(err, "listing suggestions")
	}
	if svc.isClosed() {
		return 0, ErrServiceClosed
	}
	return svc.store.Load(records), nil
}

// refreshAfterMutation never fails the mutation itself: the backend already committed it.
func (svc *Service) refreshAfterMutation(ctx context.Context) {
	svc.mu.Lock()
	q := svc.query
	svc.mu.Unlock()

	if _, err := svc.refresh(ctx, q); err != nil && err != ErrServiceClosed {
		svc.warn("refreshing suggestions after mutation", "error", err)
	}
}

// Busy reports whether a mutating request for the suggestion is outstanding,
// or a batch action is running.
func (svc *Service) Busy(id int64) bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.batching {
		return true
	}
	if _, ok := svc.inflight[suggestionKey(id)]; ok {
		return true
	}
	if sg, ok := svc.store.Get(id); ok {
		_, ok = svc.inflight[machineUserKey(sg.MachineUser.ID)]
		return ok
	}
	return false
}

// BatchRunning reports whether a batch action is outstanding.
func (svc *Service) BatchRunning() bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.batching
}

// Close detaches the service from its store. Outstanding requests are not cancelled,
// but their results are discarded.
func (svc *Service) Close() {
	svc.mu.Lock()
	svc.closed = true
	svc.mu.Unlock()
}

func (svc *Service) isClosed() bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.closed
}

func (svc *Service) Verify(ctx context.Context, id int64) error {
	return svc.transition(ctx, opVerify, id, false)
}

func (svc *Service) Reject(ctx context.Context, id int64) error {
	return svc.transition(ctx, opReject, id, false)
}

type transitionOp struct {
	name   string
	target Status
	call   func(b Backend, ctx context.Context, id int64) error
}

var (
	opVerify = transitionOp{name: "verify", target: StatusVerified, call: Backend.VerifySuggestion}
	opReject = transitionOp{name: "reject", target: StatusRejected, call: Backend.RejectSuggestion}
)

func (svc *Service) transition(ctx context.Context, op transitionOp, id int64, inBatch bool) error {
	sg, ok := svc.store.Get(id)
	if !ok {
		return core.NewValidationError(ErrNotFound, core.FieldError{Field: "id", Error: ErrNotFound.Error()})
	}

	keys := []string{suggestionKey(id), machineUserKey(sg.MachineUser.ID)}
	if err := svc.acquire(inBatch, keys...); err != nil {
		return err
	}
	defer svc.release(keys...)

	// re-read under the in-flight guard: a request that just completed may have changed the status
	sg, ok = svc.store.Get(id)
	if !ok {
		return core.NewValidationError(ErrNotFound, core.FieldError{Field: "id", Error: ErrNotFound.Error()})
	}
	if sg.Status != StatusPending {
		return core.NewInvalidStateError(op.name, id, string(sg.Status), "suggestion is not pending")
	}
	if sg.SuggestedStudent == nil {
		return core.NewInvalidStateError(op.name, id, string(sg.Status), "suggestion has no suggested student")
	}

	if err := op.call(svc.backend, ctx, id); err != nil {
		return errors.Wrapf(err, "%s suggestion %d", op.name, id)
	}
	if svc.isClosed() {
		svc.debug("discarding late result", "op", op.name, "id", id)
		return nil
	}

	svc.store.setStatus(id, op.target)
	svc.info("suggestion updated", "op", op.name, "id", id, "status", op.target)
	if !inBatch {
		svc.refreshAfterMutation(ctx)
	}
	return nil
}

// ManualMap links a machine user to a student regardless of the current suggestion.
// The server's record replaces the local entries of that machine user.
func (svc *Service) ManualMap(ctx context.Context, machineUserID, studentNIS string) (Suggestion, error) {
	req := ManualMapRequest{MachineUserID: machineUserID, StudentNIS: studentNIS}
	if err := req.Validate(svc.validate, svc.translator); err != nil {
		return Suggestion{}, err
	}

	existing := svc.store.ByMachineUser(req.MachineUserID)
	keys := []string{machineUserKey(req.MachineUserID)}
	for _, sg := range existing {
		keys = append(keys, suggestionKey(sg.ID))
	}
	if err := svc.acquire(false, keys...); err != nil {
		return Suggestion{}, err
	}
	defer svc.release(keys...)

	raw, err := svc.backend.ManualMap(ctx, req)
	if err != nil {
		return Suggestion{}, errors.Wrapf(err, "mapping machine user %s", req.MachineUserID)
	}

	sg, err := raw.Normalize()
	if err != nil {
		// some deployments answer with an empty body; fall back to the local record
		if len(existing) == 0 {
			return Suggestion{}, errors.Wrap(errMalformedMapping, err.Error())
		}
		sg = existing[0]
	}
	sg.Status = StatusVerified
	if sg.SuggestedStudent == nil || sg.SuggestedStudent.NIS != req.StudentNIS {
		sg.SuggestedStudent = &SuggestedStudent{NIS: req.StudentNIS}
	}
	if sg.ConfidenceScore == nil {
		score := 100
		sg.ConfidenceScore = &score
	}

	if svc.isClosed() {
		svc.debug("discarding late result", "op", "manual_map", "machine_user_id", req.MachineUserID)
		return sg, nil
	}

	svc.store.upsert(sg)
	svc.info("machine user mapped", "machine_user_id", req.MachineUserID, "nis", req.StudentNIS)
	svc.refreshAfterMutation(ctx)
	return sg, nil
}

func (svc *Service) VerifySelected(ctx context.Context, sel *Selection) (BatchResult, error) {
	return svc.batch(ctx, opVerify, sel)
}

func (svc *Service) RejectSelected(ctx context.Context, sel *Selection) (BatchResult, error) {
	return svc.batch(ctx, opReject, sel)
}

// batch applies op to every selected id with bounded concurrency.
// Succeeded ids leave the selection; failed ids stay selected for a retry.
func (svc *Service) batch(ctx context.Context, op transitionOp, sel *Selection) (BatchResult, error) {
	if sel == nil || sel.Len() == 0 {
		return BatchResult{}, core.NewValidationError(ErrEmptySelection, core.FieldError{Field: "selection", Error: ErrEmptySelection.Error()})
	}

	svc.mu.Lock()
	if svc.batching {
		svc.mu.Unlock()
		return BatchResult{}, ErrBatchInFlight
	}
	svc.batching = true
	svc.mu.Unlock()
	defer func() {
		svc.mu.Lock()
		svc.batching = false
		svc.mu.Unlock()
	}()

	ids := sel.IDs()
	res := BatchResult{Failed: make(map[int64]error)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(svc.concurrency)
	for _, group := range svc.groupByMachineUser(ids) {
		group := group
		g.Go(func() error {
			for _, id := range group {
				err := svc.pace(ctx)
				if err == nil {
					err = svc.transition(ctx, op, id, true)
				}

				mu.Lock()
				if err != nil {
					res.Failed[id] = err
				} else {
					res.Succeeded = append(res.Succeeded, id)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Succeeded, func(i, j int) bool { return res.Succeeded[i] < res.Succeeded[j] })
	if res.OK() {
		sel.Clear()
	} else {
		sel.Remove(res.Succeeded...)
		svc.warn("batch partially failed", "op", op.name, "succeeded", len(res.Succeeded), "failed", len(res.Failed))
	}

	if len(res.Succeeded) > 0 && !svc.isClosed() {
		svc.refreshAfterMutation(ctx)
	}
	return res, nil
}

// groupByMachineUser splits a batch into runs that share a machine user.
// A run is sent one id at a time, since each request holds its machine user.
func (svc *Service) groupByMachineUser(ids []int64) [][]int64 {
	var groups [][]int64
	pos := make(map[string]int)
	for _, id := range ids {
		sg, ok := svc.store.Get(id)
		if !ok {
			groups = append(groups, []int64{id})
			continue
		}
		if i, seen := pos[sg.MachineUser.ID]; seen {
			groups[i] = append(groups[i], id)
			continue
		}
		pos[sg.MachineUser.ID] = len(groups)
		groups = append(groups, []int64{id})
	}
	return groups
}

func (svc *Service) pace(ctx context.Context) error {
	if svc.limiter == nil {
		return nil
	}
	return errors.Wrap(svc.limiter.Wait(ctx), "waiting for rate limiter")
}

// acquire reserves every key or none of them.
func (svc *Service) acquire(inBatch bool, keys ...string) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.closed {
		return ErrServiceClosed
	}
	if svc.batching && !inBatch {
		return ErrRequestInFlight
	}
	for _, k := range keys {
		if _, busy := svc.inflight[k]; busy {
			return ErrRequestInFlight
		}
	}
	for _, k := range keys {
		svc.inflight[k] = struct{}{}
	}
	return nil
}

func (svc *Service) release(keys ...string) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, k := range keys {
		delete(svc.inflight, k)
	}
}

func suggestionKey(id int64) string {
	return "s:" + strconv.FormatInt(id, 10)
}

func machineUserKey(id string) string {
	return "m:" + id
}

func (svc *Service) debug(msg string, args ...interface{}) {
	if svc.logger != nil {
		svc.logger.Debug(msg, args...)
	}
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
