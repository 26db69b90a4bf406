package roster

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Student is a roster entry. NIS is unique across the roster.
type Student struct {
	NIS       string `json:"nis"`
	Name      string `json:"name"`
	ClassID   string `json:"class_id,omitempty"`
	ClassName string `json:"class_name,omitempty"`
}

// rawStudent is the /students wire shape: ids come as numbers or strings
// and the class is either flattened or nested.
type rawStudent struct {
	NIS       json.RawMessage `json:"nis"`
	Name      string          `json:"name"`
	ClassID   json.RawMessage `json:"class_id"`
	ClassName string          `json:"class_name"`
	Class     *struct {
		ID   json.RawMessage `json:"id"`
		Name string          `json:"name"`
	} `json:"class"`
}

var errMissingNIS = errors.New("student without nis")

func (s *Student) UnmarshalJSON(data []byte) error {
	var raw rawStudent
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	nis, err := scalarString(raw.NIS)
	if err != nil {
		return errors.Wrap(err, "decoding nis")
	}
	classID, err := scalarString(raw.ClassID)
	if err != nil {
		return errors.Wrap(err, "decoding class_id")
	}
	className := raw.ClassName
	if raw.Class != nil {
		if classID == "" {
			if classID, err = scalarString(raw.Class.ID); err != nil {
				return errors.Wrap(err, "decoding class.id")
			}
		}
		if className == "" {
			className = raw.Class.Name
		}
	}

	*s = Student{
		NIS:       strings.TrimSpace(nis),
		Name:      strings.TrimSpace(raw.Name),
		ClassID:   strings.TrimSpace(classID),
		ClassName: strings.TrimSpace(className),
	}
	return nil
}

func scalarString(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if data[0] == '"' {
		var s string
		err := json.Unmarshal(data, &s)
		return s, err
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// Candidate is a student ranked against a machine user name.
type Candidate struct {
	Student Student `json:"student"`
	Score   int     `json:"score"` // 0-100
}
