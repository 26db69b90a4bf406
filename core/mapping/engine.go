package mapping

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Band is the three-way classification of a confidence score.
type Band string

const (
	BandHigh   Band = "High"
	BandMedium Band = "Medium"
	BandLow    Band = "Low"
)

const (
	highThreshold   = 90
	mediumThreshold = 70
)

// Classify maps a confidence score onto its band. The bands partition every int.
func Classify(score int) Band {
	switch {
	case score >= highThreshold:
		return BandHigh
	case score >= mediumThreshold:
		return BandMedium
	default:
		return BandLow
	}
}

// FilterBand selects suggestions by status.
type FilterBand string

const (
	FilterAll      FilterBand = "all"
	FilterPending  FilterBand = "pending"
	FilterVerified FilterBand = "verified"
	FilterRejected FilterBand = "rejected"
)

var ErrUnknownFilter = errors.New("unknown filter")

// ParseFilter accepts a filter name case-insensitively; the empty string means FilterAll.
func ParseFilter(s string) (FilterBand, error) {
	switch f := FilterBand(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterPending, FilterVerified, FilterRejected:
		return f, nil
	default:
		return "", errors.Wrapf(ErrUnknownFilter, "%q", s)
	}
}

// Filter returns the suggestions matching band, preserving order.
func Filter(list []Suggestion, band FilterBand) []Suggestion {
	out := make([]Suggestion, 0, len(list))
	for _, sg := range list {
		if band == FilterAll || band == "" || Status(band) == sg.Status {
			out = append(out, sg)
		}
	}
	return out
}

// Selection is the set of suggestion ids checked for a batch action.
type Selection struct {
	ids map[int64]struct{}
}

func NewSelection(ids ...int64) *Selection {
	sel := &Selection{ids: make(map[int64]struct{})}
	sel.SelectAll(ids)
	return sel
}

// Toggle flips the membership of id and reports whether it is now selected.
func (sel *Selection) Toggle(id int64) bool {
	if _, ok := sel.ids[id]; ok {
		delete(sel.ids, id)
		return false
	}
	sel.ids[id] = struct{}{}
	return true
}

func (sel *Selection) SelectAll(ids []int64) {
	for _, id := range ids {
		sel.ids[id] = struct{}{}
	}
}

func (sel *Selection) Remove(ids ...int64) {
	for _, id := range ids {
		delete(sel.ids, id)
	}
}

func (sel *Selection) Clear() {
	sel.ids = make(map[int64]struct{})
}

func (sel *Selection) Has(id int64) bool {
	_, ok := sel.ids[id]
	return ok
}

func (sel *Selection) Len() int {
	return len(sel.ids)
}

// IDs returns the selected ids in ascending order.
func (sel *Selection) IDs() []int64 {
	ids := make([]int64, 0, len(sel.ids))
	for id := range sel.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IDsOf lists the ids of suggestions, e.g. to select a filtered page.
func IDsOf(list []Suggestion) []int64 {
	ids := make([]int64, 0, len(list))
	for _, sg := range list {
		ids = append(ids, sg.ID)
	}
	return ids
}

// Summary holds the dashboard counters of a suggestion list.
type Summary struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	ByBand   map[Band]int   `json:"by_band"`
	NoMatch  int            `json:"no_match"`
}

func Summarize(list []Suggestion) Summary {
	sum := Summary{
		Total:    len(list),
		ByStatus: make(map[Status]int, len(AllStatuses)),
		ByBand:   make(map[Band]int, 3),
	}
	for _, st := range AllStatuses {
		sum.ByStatus[st] = 0
	}
	for _, b := range []Band{BandHigh, BandMedium, BandLow} {
		sum.ByBand[b] = 0
	}
	for _, sg := range list {
		sum.ByStatus[sg.Status]++
		if band, ok := sg.Band(); ok {
			sum.ByBand[band]++
		} else {
			sum.NoMatch++
		}
	}
	return sum
}
