package mapping

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	errMissingID          = errors.New("missing id")
	errMalformedRecord    = errors.New("malformed record")
	errMissingMachineUser = errors.New("missing machine_user")
	errUnknownStatus      = errors.New("unknown status")
	errScoreWithoutMatch  = errors.New("suggested_student without confidence_score")
)

// RawSuggestion is the backend's wire shape of a Suggestion.
// It tolerates the variations the backend emits (ids as numbers or strings,
// scores as floats, nulls for absent objects) and is turned into the
// canonical shape by Normalize.
type RawSuggestion struct {
	ID               flexInt         `json:"id"`
	MachineUser      *rawMachineUser `json:"machine_user"`
	SuggestedStudent *rawStudent     `json:"suggested_student"`
	ConfidenceScore  *flexFloat      `json:"confidence_score"`
	Status           string          `json:"status"`

	decodeErr error
}

// UnmarshalJSON never fails on a record that is an object of the wrong shape:
// the failure is kept and reported by Normalize, so one bad record does not
// cost the rest of its page.
func (r *RawSuggestion) UnmarshalJSON(data []byte) error {
	type plain RawSuggestion
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		*r = RawSuggestion{decodeErr: errors.Wrap(errMalformedRecord, err.Error())}
		return nil
	}
	*r = RawSuggestion(p)
	r.decodeErr = nil
	return nil
}

type rawMachineUser struct {
	ID         flexString `json:"machine_user_id"`
	Name       string     `json:"machine_user_name"`
	Department *string    `json:"department"`
}

type rawStudent struct {
	NIS  flexString `json:"nis"`
	Name string     `json:"name"`
}

// Normalize validates the record and converts it into a Suggestion.
func (r RawSuggestion) Normalize() (Suggestion, error) {
	if r.decodeErr != nil {
		return Suggestion{}, r.decodeErr
	}
	if r.ID <= 0 {
		return Suggestion{}, errMissingID
	}
	if r.MachineUser == nil || strings.TrimSpace(string(r.MachineUser.ID)) == "" {
		return Suggestion{}, errMissingMachineUser
	}

	s := Suggestion{
		ID: int64(r.ID),
		MachineUser: MachineUser{
			ID:   strings.TrimSpace(string(r.MachineUser.ID)),
			Name: strings.TrimSpace(r.MachineUser.Name),
		},
		Status: Status(strings.ToLower(strings.TrimSpace(r.Status))),
	}
	if r.MachineUser.Department != nil {
		s.MachineUser.Department = strings.TrimSpace(*r.MachineUser.Department)
	}

	if s.Status == "" {
		s.Status = StatusPending
	}
	if !s.Status.Valid() {
		return Suggestion{}, errors.Wrapf(errUnknownStatus, "%q", r.Status)
	}

	// a score without a student is meaningless and is dropped
	if r.SuggestedStudent == nil || strings.TrimSpace(string(r.SuggestedStudent.NIS)) == "" {
		return s, nil
	}
	s.SuggestedStudent = &SuggestedStudent{
		NIS:  strings.TrimSpace(string(r.SuggestedStudent.NIS)),
		Name: strings.TrimSpace(r.SuggestedStudent.Name),
	}

	var score int
	switch {
	case r.ConfidenceScore != nil:
		score = clampScore(float64(*r.ConfidenceScore))
	case s.Status == StatusVerified:
		// operator-asserted links carry no model score
		score = 100
	default:
		return Suggestion{}, errScoreWithoutMatch
	}
	s.ConfidenceScore = &score
	return s, nil
}

func clampScore(f float64) int {
	score := int(math.Round(f))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// flexString accepts a JSON string or number.
type flexString string

func (fs *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*fs = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*fs = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrap(err, "expected string or number")
	}
	*fs = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (fi *flexInt) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		*fi = 0
		return nil
	}
	n, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid integer %q", string(s))
	}
	*fi = flexInt(n)
	return nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (ff *flexFloat) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		*ff = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return errors.Wrapf(err, "invalid number %q", string(s))
	}
	*ff = flexFloat(f)
	return nil
}
