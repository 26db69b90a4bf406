package registry

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
)

// record is one data line of an uploaded table, keyed by canonical column name.
type record struct {
	line   int
	values map[string]string
}

func (r record) get(col string) string {
	return core.CleanString(r.values[col])
}

// columns maps each canonical column name to the header spellings accepted for it.
type columns struct {
	aliases    map[string][]string
	positional []string // column order of header-less device exports
}

var (
	studentColumns = columns{
		aliases: map[string][]string{
			"nis":        {"nis", "no induk", "nomor induk", "student nis"},
			"name":       {"name", "nama", "student name", "nama siswa"},
			"class_id":   {"class id", "kelas id", "id kelas"},
			"class_name": {"class", "class name", "kelas", "nama kelas"},
		},
		positional: []string{"nis", "name", "class_id", "class_name"},
	}
	machineUserColumns = columns{
		aliases: map[string][]string{
			"id":         {"machine user id", "user id", "userid", "pin", "id", "no"},
			"name":       {"machine user name", "name", "nama"},
			"department": {"department", "dept", "departemen", "bagian"},
		},
		positional: []string{"id", "name", "department"},
	}
	attendanceColumns = columns{
		aliases: map[string][]string{
			"id":        {"machine user id", "user id", "userid", "pin", "id", "no"},
			"timestamp": {"timestamp", "datetime", "date time", "waktu", "check time", "checktime"},
			"date":      {"date", "tanggal"},
			"time":      {"time", "jam"},
		},
		positional: []string{"id", "timestamp"},
	}
)

func (c columns) lookup(header string) (string, bool) {
	h := core.FoldName(strings.ReplaceAll(header, "_", " "))
	for col, names := range c.aliases {
		for _, name := range names {
			if h == name {
				return col, true
			}
		}
	}
	return "", false
}

var errUnsupportedFormat = errors.New("unsupported file format")

// readTable parses a CSV upload or a tab separated device export (.dat, .txt).
// A first line naming at least one known column is a header; otherwise the
// positional column order applies.
func readTable(format string, data []byte, cols columns) ([]record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true
	switch format {
	case "csv":
		r.Comma = sniffComma(data)
	case "dat", "txt":
		r.Comma = '\t'
	default:
		return nil, errUnsupportedFormat
	}

	var (
		out    []record
		header []string
		line   int
	)
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading table")
		}
		line, _ = r.FieldPos(0)
		if blank(fields) {
			continue
		}

		if header == nil {
			known := false
			names := make([]string, len(fields))
			for i, f := range fields {
				if col, ok := cols.lookup(f); ok {
					names[i] = col
					known = true
				}
			}
			if known {
				header = names
				continue
			}
			header = cols.positional
		}

		rec := record{line: line, values: make(map[string]string, len(header))}
		for i, f := range fields {
			if i < len(header) && header[i] != "" {
				rec.values[header[i]] = f
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// sniffComma picks ';' for spreadsheets exported with a comma decimal separator.
func sniffComma(data []byte) rune {
	first := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		first = data[:i]
	}
	if bytes.Count(first, []byte{';'}) > bytes.Count(first, []byte{','}) {
		return ';'
	}
	return ','
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05",
	"02-01-2006 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04",
}

// parseTimestamp reads the clock of an attendance device; zone-less values are taken as UTC.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("invalid timestamp %q", s)
}
