package tracker

import (
	"sort"

	"golang.org/x/exp/slices"
)

// Candidate is an invite whose use count grew between two snapshots
type Candidate struct {
	Code      string  `json:"code"`
	InviterID *string `json:"inviter_id"`
	Delta     int     `json:"delta"`
}

// Result of comparing two snapshots of one guild.
//
// Candidates are ordered by delta, highest first, then by code. Codes that
// appear in only one of the snapshots are listed in Expired or Created and
// are never candidates.
type Result struct {
	Candidates []Candidate
	Expired    []string
	Created    []string
}

// Attribute compares old and current and reports which invites were used.
func Attribute(old, current Snapshot) Result {
	var result Result
	for code, record := range current {
		previous, ok := old[code]
		if !ok {
			result.Created = append(result.Created, code)
			continue
		}
		// a decrease is an external reset, not a join
		if delta := record.Uses - previous.Uses; delta > 0 {
			result.Candidates = append(result.Candidates, Candidate{
				Code:      code,
				InviterID: record.InviterID,
				Delta:     delta,
			})
		}
	}
	for code := range old {
		if _, ok := current[code]; !ok {
			result.Expired = append(result.Expired, code)
		}
	}

	sort.Slice(result.Candidates, func(i, j int) bool {
		a, b := result.Candidates[i], result.Candidates[j]
		if a.Delta != b.Delta {
			return a.Delta > b.Delta
		}
		return a.Code < b.Code
	})
	slices.Sort(result.Expired)
	slices.Sort(result.Created)
	return result
}

// Candidate returns the only candidate, nil when there are none or several.
func (r Result) Candidate() *Candidate {
	if len(r.Candidates) != 1 {
		return nil
	}
	return &r.Candidates[0]
}

// AmbiguousCount is the delta of a single candidate that was used more than
// once between snapshots, zero otherwise.
func (r Result) AmbiguousCount() int {
	if c := r.Candidate(); c != nil && c.Delta > 1 {
		return c.Delta
	}
	return 0
}

// Race reports several invites used between snapshots
func (r Result) Race() bool {
	return len(r.Candidates) > 1
}

// Uses is the total number of uses observed
func (r Result) Uses() (uses int) {
	for _, c := range r.Candidates {
		uses += c.Delta
	}
	return
}
