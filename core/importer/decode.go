package importer

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
)

// recordErrors decodes a list of per-record errors given either as
// plain strings or as {row, message} objects.
type recordErrors []core.RecordError

func (re *recordErrors) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return errors.Wrap(err, "decoding errors")
	}

	out := make([]core.RecordError, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '"' {
			var msg string
			if err := json.Unmarshal(item, &msg); err != nil {
				return err
			}
			out = append(out, core.RecordError{Message: msg})
			continue
		}
		var obj struct {
			Row     json.RawMessage `json:"row"`
			Line    json.RawMessage `json:"line"`
			Message string          `json:"message"`
			Error   string          `json:"error"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return errors.Wrap(err, "decoding record error")
		}
		row, err := intOf(obj.Row)
		if err != nil {
			return err
		}
		if row == 0 {
			if row, err = intOf(obj.Line); err != nil {
				return err
			}
		}
		msg := obj.Message
		if msg == "" {
			msg = obj.Error
		}
		out = append(out, core.RecordError{Row: row, Message: msg})
	}
	*re = out
	return nil
}

// countOrList is a counter the backend sends either as a number or as the list being counted.
type countOrList int

func (cl *countOrList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*cl = countOrList(len(items))
		return nil
	}
	n, err := intOf(data)
	*cl = countOrList(n)
	return err
}

func intOf(data json.RawMessage) (int, error) {
	s, err := scalarString(data)
	if err != nil || s == "" {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	return n, errors.Wrapf(err, "invalid integer %q", s)
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
		return "", errors.Wrap(err, "expected string or number")
	}
	return n.String(), nil
}

type rawSummary struct {
	Total    *countOrList `json:"total"`
	Imported countOrList  `json:"imported"`
	Failed   *countOrList `json:"failed"`
	Errors   recordErrors `json:"errors"`
}

func (s *Summary) UnmarshalJSON(data []byte) error {
	var raw rawSummary
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	sum := Summary{Imported: int(raw.Imported), Errors: []core.RecordError(raw.Errors)}
	if sum.Errors == nil {
		sum.Errors = []core.RecordError{}
	}
	if raw.Failed != nil {
		sum.Failed = int(*raw.Failed)
	} else {
		sum.Failed = len(sum.Errors)
	}
	if raw.Total != nil {
		sum.Total = int(*raw.Total)
	} else {
		sum.Total = sum.Imported + sum.Failed
	}
	*s = sum
	return nil
}

type rawPreviewUser struct {
	MachineUserID   json.RawMessage `json:"machine_user_id"`
	MachineUserName string          `json:"machine_user_name"`
	Name            string          `json:"name"`
	Logs            countOrList     `json:"logs"`
	Mapped          bool            `json:"mapped"`
	NIS             json.RawMessage `json:"nis"`
}

type rawPreview struct {
	TotalLogs     countOrList      `json:"total_logs"`
	TotalUsers    countOrList      `json:"total_users"`
	UnmappedUsers countOrList      `json:"unmapped_users"`
	UsersNotFound countOrList      `json:"users_not_found"`
	Users         []rawPreviewUser `json:"users"`
	Errors        recordErrors     `json:"errors"`
}

func (p *Preview) UnmarshalJSON(data []byte) error {
	var raw rawPreview
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	pv := Preview{
		TotalLogs:     int(raw.TotalLogs),
		TotalUsers:    int(raw.TotalUsers),
		UnmappedUsers: int(raw.UnmappedUsers),
		UsersNotFound: int(raw.UsersNotFound),
		Users:         make([]PreviewUser, 0, len(raw.Users)),
		Errors:        []core.RecordError(raw.Errors),
	}
	if pv.Errors == nil {
		pv.Errors = []core.RecordError{}
	}
	for _, ru := range raw.Users {
		id, err := scalarString(ru.MachineUserID)
		if err != nil {
			return errors.Wrap(err, "decoding machine_user_id")
		}
		nis, err := scalarString(ru.NIS)
		if err != nil {
			return errors.Wrap(err, "decoding nis")
		}
		name := ru.MachineUserName
		if name == "" {
			name = ru.Name
		}
		pv.Users = append(pv.Users, PreviewUser{
			MachineUserID:   id,
			MachineUserName: name,
			Logs:            int(ru.Logs),
			Mapped:          ru.Mapped || nis != "",
			NIS:             nis,
		})
	}
	if pv.TotalUsers == 0 {
		pv.TotalUsers = len(pv.Users)
	}
	*p = pv
	return nil
}
