package restapi

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// decode is the response normalizer: every body goes through it exactly once.
// The backend answers either with the payload itself or with {"data": payload};
// both decode to the same value.
func decode(body []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	payload := unwrap(body)
	if len(payload) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(payload, out), "decoding response")
}

func unwrap(body []byte) []byte {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return body
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return body
	}
	if data, ok := env["data"]; ok {
		return bytes.TrimSpace(data)
	}
	return body
}

// in runes
const maxErrorMessage = 200

// errorMessage extracts a human readable message from an error body.
func errorMessage(body []byte) string {
	payload := unwrap(body)
	if len(payload) == 0 {
		return ""
	}

	var obj struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}
	if payload[0] == '{' && json.Unmarshal(payload, &obj) == nil {
		var s string
		if len(obj.Error) > 0 && json.Unmarshal(obj.Error, &s) == nil && s != "" {
			return s
		}
		if len(obj.Error) > 0 && obj.Error[0] == '{' {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(obj.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
		}
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Detail != "" {
			return obj.Detail
		}
	}

	msg := strings.TrimSpace(string(payload))
	if utf8.RuneCountInString(msg) > maxErrorMessage {
		msg = string([]rune(msg)[:maxErrorMessage]) + "..."
	}
	return msg
}

// flexID accepts an identifier sent as a JSON string or number.
type flexID string

func (id *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrap(err, "expected string or number")
	}
	*id = flexID(n.String())
	return nil
}
