package validators

import (
	"encoding/json"
	"sort"
)

// NominationRecord is a single nomination as returned by the query API.
// StakedAmount is the decimal string representation of the bonded balance.
type NominationRecord struct {
	ValidatorController string `json:"validatorController"`
	ValidatorStash      string `json:"validatorStash"`
	NominatorController string `json:"nominatorController"`
	NominatorStash      string `json:"nominatorStash"`
	StakedAmount        string `json:"stakedAmount"`
}

// ValidatorRecord is an active validator for a session.
// Preferences are kept opaque until presentation needs them.
type ValidatorRecord struct {
	Controller  string          `json:"controller"`
	Stash       string          `json:"stash"`
	Preferences json.RawMessage `json:"preferences,omitempty"`
}

// OfflineMarker flags a validator reported offline during the session.
type OfflineMarker struct {
	ValidatorID string `json:"validatorId"`
}

// NominatorSet holds nominator stash ids, deduplicated.
type NominatorSet map[string]struct{}

// Len returns the number of distinct nominators.
func (s NominatorSet) Len() int {
	return len(s)
}

// Has reports whether the stash is in the set.
func (s NominatorSet) Has(stash string) bool {
	_, ok := s[stash]
	return ok
}

// Sorted returns the nominator stashes in lexical order.
func (s NominatorSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TableRow is the joined view of one validator for a session.
// Preferences is nil when no ValidatorRecord matched the stash; callers must
// treat that as unknown, not as zero commission.
type TableRow struct {
	ValidatorController   string
	ValidatorStash        string
	Nominators            NominatorSet
	StakedAmount          Amount
	Preferences           *Preferences
	WasOfflineThisSession bool
}

func (r *TableRow) equal(o *TableRow) bool {
	if r.ValidatorController != o.ValidatorController ||
		r.ValidatorStash != o.ValidatorStash ||
		r.WasOfflineThisSession != o.WasOfflineThisSession {
		return false
	}
	if !r.StakedAmount.Equal(o.StakedAmount) {
		return false
	}
	if (r.Preferences == nil) != (o.Preferences == nil) {
		return false
	}
	if r.Preferences != nil && string(r.Preferences.Raw) != string(o.Preferences.Raw) {
		return false
	}
	if r.Nominators.Len() != o.Nominators.Len() {
		return false
	}
	for k := range r.Nominators {
		if !o.Nominators.Has(k) {
			return false
		}
	}
	return true
}

// Rows maps validator stash to its row. A Rows value returned by JoinRows is
// never modified afterwards and may be shared between readers.
type Rows map[string]*TableRow

// Equal compares two row mappings by key and value, ignoring iteration order.
func (r Rows) Equal(o Rows) bool {
	if len(r) != len(o) {
		return false
	}
	for k, row := range r {
		other, ok := o[k]
		if !ok || !row.equal(other) {
			return false
		}
	}
	return true
}

// Sorted returns rows ordered by staked amount (descending), then stash.
func (r Rows) Sorted() []*TableRow {
	out := make([]*TableRow, 0, len(r))
	for _, row := range r {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StakedAmount.Equal(out[j].StakedAmount) {
			return out[i].StakedAmount.GT(out[j].StakedAmount)
		}
		return out[i].ValidatorStash < out[j].ValidatorStash
	})
	return out
}

// JoinStats counts what the join consumed and what it had to skip.
type JoinStats struct {
	Validators     int `json:"validators"`
	Nominations    int `json:"nominations"`
	OfflineMarkers int `json:"offlineMarkers"`

	SkippedValidators   int `json:"skippedValidators"`
	DuplicateValidators int `json:"duplicateValidators"`
	SkippedNominations  int `json:"skippedNominations"`
	InvalidStakes       int `json:"invalidStakes"`
	OrphanNominations   int `json:"orphanNominations"`
	SynthesizedRows     int `json:"synthesizedRows"`
	UnknownOffline      int `json:"unknownOffline"`
}

// Skipped returns the total number of records the join ignored.
func (s JoinStats) Skipped() int {
	return s.SkippedValidators + s.DuplicateValidators + s.SkippedNominations + s.InvalidStakes + s.UnknownOffline
}

// JoinResult is the output of JoinRows.
type JoinResult struct {
	Rows  Rows
	Stats JoinStats
}
