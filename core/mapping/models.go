package mapping

import (
	"fmt"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/presensi/core"
)

// Status of a Suggestion. A suggestion starts pending and leaves it only through an operator action.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

var AllStatuses = []Status{StatusPending, StatusVerified, StatusRejected}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusRejected:
		return true
	default:
		return false
	}
}

// NoMatchLabel is displayed in place of a confidence score when no student was suggested.
const NoMatchLabel = "No match"

// MachineUser is an account recorded by a biometric attendance device.
type MachineUser struct {
	ID         string `json:"machine_user_id"`
	Name       string `json:"machine_user_name"`
	Department string `json:"department,omitempty"`
}

// SuggestedStudent is the roster entry a machine user may be linked to.
type SuggestedStudent struct {
	NIS  string `json:"nis"`
	Name string `json:"name"`
}

// Suggestion is one candidate link between a machine user and a student.
// ConfidenceScore is set if and only if SuggestedStudent is set.
type Suggestion struct {
	ID               int64             `json:"id"`
	MachineUser      MachineUser       `json:"machine_user"`
	SuggestedStudent *SuggestedStudent `json:"suggested_student"`
	ConfidenceScore  *int              `json:"confidence_score,omitempty"`
	Status           Status            `json:"status"`
}

func (s Suggestion) HasMatch() bool {
	return s.SuggestedStudent != nil
}

// Band classifies the confidence score; ok is false when there is no match.
func (s Suggestion) Band() (band Band, ok bool) {
	if s.SuggestedStudent == nil || s.ConfidenceScore == nil {
		return "", false
	}
	return Classify(*s.ConfidenceScore), true
}

// ConfidenceLabel renders the score for display, e.g. "95% (High)", or NoMatchLabel.
func (s Suggestion) ConfidenceLabel() string {
	band, ok := s.Band()
	if !ok {
		return NoMatchLabel
	}
	return fmt.Sprintf("%d%% (%s)", *s.ConfidenceScore, band)
}

func (s Suggestion) clone() Suggestion {
	c := s
	if s.SuggestedStudent != nil {
		st := *s.SuggestedStudent
		c.SuggestedStudent = &st
	}
	if s.ConfidenceScore != nil {
		score := *s.ConfidenceScore
		c.ConfidenceScore = &score
	}
	return c
}

// ManualMapRequest links a machine user to a student chosen by the operator.
type ManualMapRequest struct {
	MachineUserID string `json:"machine_user_id" validate:"notblank"`
	StudentNIS    string `json:"student_nis" validate:"required,nis"`
}

func (mr *ManualMapRequest) Validate(validate *validator.Validate, translator ut.Translator) error {
	mr.MachineUserID = core.CleanString(mr.MachineUserID)
	mr.StudentNIS = strings.ToUpper(core.CleanString(mr.StudentNIS))
	return core.ValidateStruct(validate, translator, mr)
}

// Query selects which suggestions the backend returns.
type Query struct {
	Status FilterBand
	Search string
}
