package roster

import (
	"math"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/presensi/core"
)

// abbreviation matches ("BUDI S" for "Budi Santoso") never reach full confidence
const abbreviationWeight = 0.9

// Score estimates, from 0 to 100, how likely two person names designate the same person.
// Devices truncate, reorder and upper-case names, so the best of a character,
// a sorted-token and an abbreviation comparison is kept.
func Score(a, b string) int {
	fa, fb := core.FoldName(a), core.FoldName(b)
	if fa == "" || fb == "" {
		return 0
	}
	if fa == fb {
		return 100
	}

	best := ratio(fa, fb)
	if r := ratio(sortedTokens(fa), sortedTokens(fb)); r > best {
		best = r
	}
	if r := abbreviationRatio(fa, fb); r > best {
		best = r
	}
	return int(math.Round(best * 100))
}

func ratio(a, b string) float64 {
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).Ratio()
}

func sortedTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// abbreviationRatio is non-zero when every token of the shorter name is a prefix
// of a distinct token of the longer one, in order.
func abbreviationRatio(a, b string) float64 {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	if len(ta) == 0 {
		return 0
	}
	if !prefixesOf(ta, tb) && (len(ta) != len(tb) || !prefixesOf(tb, ta)) {
		return 0
	}
	return abbreviationWeight * float64(len(ta)) / float64(len(tb))
}

func prefixesOf(short, long []string) bool {
	j := 0
	for _, tok := range short {
		for j < len(long) && !strings.HasPrefix(long[j], tok) {
			j++
		}
		if j == len(long) {
			return false
		}
		j++
	}
	return true
}

// Rank scores every student against name and returns the best matches first.
// Students scoring 0 are left out; limit <= 0 means no limit.
func Rank(name string, students []Student, limit int) []Candidate {
	cands := make([]Candidate, 0, len(students))
	for _, s := range students {
		if score := Score(name, s.Name); score > 0 {
			cands = append(cands, Candidate{Student: s, Score: score})
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Student.NIS < cands[j].Student.NIS
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	return cands
}
