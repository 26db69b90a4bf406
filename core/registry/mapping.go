package registry

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/mapping"
	"github.com/trezcool/presensi/core/roster"
)

// Suggestions lists the links as suggestions, ordered by ID.
// search matches machine user ids and names, student NIS and names.
func (svc *Service) Suggestions(ctx context.Context, status mapping.Status, search string) ([]mapping.Suggestion, error) {
	links, err := svc.repo.QueryLinks(ctx, LinkFilter{Status: status})
	if err != nil {
		return nil, errors.Wrap(err, "querying links")
	}
	users, err := svc.machineUsersByID(ctx)
	if err != nil {
		return nil, err
	}
	students, err := svc.studentsByNIS(ctx)
	if err != nil {
		return nil, err
	}

	q := core.FoldName(search)
	out := make([]mapping.Suggestion, 0, len(links))
	for _, link := range links {
		sg := suggestionOf(link, users[link.MachineUserID], students[link.StudentNIS])
		if q != "" && !matches(sg, q) {
			continue
		}
		out = append(out, sg)
	}
	return out, nil
}

func matches(sg mapping.Suggestion, q string) bool {
	fields := []string{sg.MachineUser.ID, sg.MachineUser.Name}
	if sg.SuggestedStudent != nil {
		fields = append(fields, sg.SuggestedStudent.NIS, sg.SuggestedStudent.Name)
	}
	for _, f := range fields {
		if strings.Contains(core.FoldName(f), q) {
			return true
		}
	}
	return false
}

func suggestionOf(link Link, mu MachineUser, st Student) mapping.Suggestion {
	sg := mapping.Suggestion{
		ID:          link.ID,
		MachineUser: mapping.MachineUser{ID: link.MachineUserID, Name: mu.Name, Department: mu.Department},
		Status:      link.Status,
	}
	if link.HasStudent() {
		score := link.Score
		sg.SuggestedStudent = &mapping.SuggestedStudent{NIS: link.StudentNIS, Name: st.Name}
		sg.ConfidenceScore = &score
	}
	return sg
}

func (svc *Service) suggestion(ctx context.Context, link Link) (mapping.Suggestion, error) {
	mu, err := svc.repo.GetMachineUser(ctx, link.MachineUserID)
	if err != nil && !IsNotFound(err) {
		return mapping.Suggestion{}, errors.Wrap(err, "finding machine user")
	}
	var st Student
	if link.HasStudent() {
		if st, err = svc.repo.GetStudent(ctx, link.StudentNIS); err != nil && !IsNotFound(err) {
			return mapping.Suggestion{}, errors.Wrap(err, "finding student")
		}
	}
	return suggestionOf(link, mu, st), nil
}

func (svc *Service) machineUsersByID(ctx context.Context) (map[string]MachineUser, error) {
	users, err := svc.repo.QueryMachineUsers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying machine users")
	}
	byID := make(map[string]MachineUser, len(users))
	for _, mu := range users {
		byID[mu.ID] = mu
	}
	return byID, nil
}

func (svc *Service) studentsByNIS(ctx context.Context) (map[string]Student, error) {
	students, err := svc.repo.QueryStudents(ctx, "")
	if err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	byNIS := make(map[string]Student, len(students))
	for _, st := range students {
		byNIS[st.NIS] = st
	}
	return byNIS, nil
}

// AutoMap suggests a student for every machine user without a pending or verified link.
// Students the operator already rejected for a machine user are not suggested again.
func (svc *Service) AutoMap(ctx context.Context) (AutoMapResult, error) {
	var res AutoMapResult

	users, err := svc.repo.QueryMachineUsers(ctx)
	if err != nil {
		return res, errors.Wrap(err, "querying machine users")
	}
	links, err := svc.repo.QueryLinks(ctx, LinkFilter{})
	if err != nil {
		return res, errors.Wrap(err, "querying links")
	}
	students, err := svc.repo.QueryStudents(ctx, "")
	if err != nil {
		return res, errors.Wrap(err, "querying students")
	}

	settled := make(map[string]bool)
	rejected := make(map[string]map[string]bool)
	for _, link := range links {
		if link.Status != mapping.StatusRejected {
			settled[link.MachineUserID] = true
			continue
		}
		if rejected[link.MachineUserID] == nil {
			rejected[link.MachineUserID] = make(map[string]bool)
		}
		rejected[link.MachineUserID][link.StudentNIS] = true
	}

	for _, mu := range users {
		if settled[mu.ID] {
			continue
		}
		pool := make([]roster.Student, 0, len(students))
		for _, st := range students {
			if !rejected[mu.ID][st.NIS] {
				pool = append(pool, roster.Student{NIS: st.NIS, Name: st.Name})
			}
		}

		link := Link{MachineUserID: mu.ID, Status: mapping.StatusPending}
		if best := roster.Rank(mu.Name, pool, 1); len(best) > 0 && best[0].Score >= minAutoMapScore {
			link.StudentNIS = best[0].Student.NIS
			link.Score = best[0].Score
			res.Suggested++
		} else {
			res.Unmatched++
		}
		link.CreatedAt = nowFunc().UTC()
		link.UpdatedAt = link.CreatedAt
		if _, err = svc.repo.CreateLink(ctx, link); err != nil {
			return res, errors.Wrapf(err, "creating link for machine user %s", mu.ID)
		}
	}

	svc.info("auto-map done", "suggested", res.Suggested, "unmatched", res.Unmatched)
	return res, nil
}

func (svc *Service) Verify(ctx context.Context, id int64) (mapping.Suggestion, error) {
	return svc.transition(ctx, "verify suggestion", id, mapping.StatusVerified)
}

func (svc *Service) Reject(ctx context.Context, id int64) (mapping.Suggestion, error) {
	return svc.transition(ctx, "reject suggestion", id, mapping.StatusRejected)
}

func (svc *Service) transition(ctx context.Context, op string, id int64, to mapping.Status) (mapping.Suggestion, error) {
	link, err := svc.repo.GetLink(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return mapping.Suggestion{}, ErrLinkNotFound
		}
		return mapping.Suggestion{}, errors.Wrap(err, "finding link")
	}
	if link.Status != mapping.StatusPending {
		return mapping.Suggestion{}, core.NewInvalidStateError(op, id, string(link.Status), "suggestion is not pending")
	}
	if !link.HasStudent() {
		return mapping.Suggestion{}, core.NewInvalidStateError(op, id, string(link.Status), "no student suggested")
	}

	link, err = svc.repo.TransitionLink(ctx, id, mapping.StatusPending, to)
	if err != nil {
		if errors.Cause(err) == ErrStatusConflict {
			return mapping.Suggestion{}, core.NewInvalidStateError(op, id, "", "suggestion is not pending")
		}
		return mapping.Suggestion{}, errors.Wrapf(err, "%s %d", op, id)
	}
	return svc.suggestion(ctx, link)
}

// ManualMap links a machine user to a student chosen by the operator.
// The link is a new verified record; it supersedes every other link of the machine user.
func (svc *Service) ManualMap(ctx context.Context, req mapping.ManualMapRequest) (mapping.Suggestion, error) {
	if err := req.Validate(svc.validate, svc.translator); err != nil {
		return mapping.Suggestion{}, err
	}

	if _, err := svc.repo.GetMachineUser(ctx, req.MachineUserID); err != nil {
		if IsNotFound(err) {
			return mapping.Suggestion{}, core.NewValidationError(nil, core.FieldError{Field: "machine_user_id", Error: "unknown machine user"})
		}
		return mapping.Suggestion{}, errors.Wrap(err, "finding machine user")
	}
	if _, err := svc.repo.GetStudent(ctx, req.StudentNIS); err != nil {
		if IsNotFound(err) {
			return mapping.Suggestion{}, core.NewValidationError(nil, core.FieldError{Field: "student_nis", Error: "unknown student"})
		}
		return mapping.Suggestion{}, errors.Wrap(err, "finding student")
	}

	previous, err := svc.repo.QueryLinks(ctx, LinkFilter{MachineUserID: req.MachineUserID})
	if err != nil {
		return mapping.Suggestion{}, errors.Wrap(err, "querying links")
	}

	now := nowFunc().UTC()
	link, err := svc.repo.CreateLink(ctx, Link{
		MachineUserID: req.MachineUserID,
		StudentNIS:    req.StudentNIS,
		Score:         100,
		Status:        mapping.StatusVerified,
		Manual:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return mapping.Suggestion{}, errors.Wrap(err, "creating link")
	}

	if len(previous) > 0 {
		ids := make([]int64, 0, len(previous))
		for _, l := range previous {
			ids = append(ids, l.ID)
		}
		if err = svc.repo.DeleteLinks(ctx, ids...); err != nil {
			return mapping.Suggestion{}, errors.Wrap(err, "deleting superseded links")
		}
	}

	svc.info("manual mapping", "machine_user_id", req.MachineUserID, "nis", req.StudentNIS, "superseded", len(previous))
	return svc.suggestion(ctx, link)
}
