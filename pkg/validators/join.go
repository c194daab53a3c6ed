package validators

import (
	"strings"
)

// Loaded states which input collections are known. The zero value means
// nothing is loaded; AllLoaded is what JoinRows uses.
type Loaded struct {
	Nominations bool
	Offline     bool
	Validators  bool
}

// AllLoaded marks every collection as known.
var AllLoaded = Loaded{Nominations: true, Offline: true, Validators: true}

// JoinRows merges nominations, offline markers and validator records of a
// session into one row per validator stash.
//
// Nominations that point at a stash with no validator record still produce a
// row (without preferences) so that no stake is dropped. Offline markers never
// create rows. Records missing identity fields are skipped and counted in the
// returned stats. nil slices are treated as empty and inputs are never mutated.
func JoinRows(nominations []NominationRecord, offline []OfflineMarker, validators []ValidatorRecord) JoinResult {
	return JoinPartial(AllLoaded, nominations, offline, validators)
}

// JoinPartial is JoinRows for callers that may only have some collections.
// Collections flagged as not loaded are ignored even if non-nil.
func JoinPartial(loaded Loaded, nominations []NominationRecord, offline []OfflineMarker, validators []ValidatorRecord) JoinResult {
	var stats JoinStats
	rows := make(Rows, len(validators))

	if loaded.Validators {
		for i := range validators {
			v := &validators[i]
			stats.Validators++
			controller, stash := strings.TrimSpace(v.Controller), strings.TrimSpace(v.Stash)
			if controller == "" || stash == "" {
				stats.SkippedValidators++
				continue
			}
			if _, exists := rows[stash]; exists {
				stats.DuplicateValidators++
				continue
			}
			rows[stash] = &TableRow{
				ValidatorController: controller,
				ValidatorStash:      stash,
				Nominators:          NominatorSet{},
				StakedAmount:        ZeroAmount(),
				Preferences:         newPreferences(v.Preferences),
			}
		}
	}

	if loaded.Nominations {
		synthesized := map[string]struct{}{}
		for i := range nominations {
			n := &nominations[i]
			stats.Nominations++
			validatorStash, nominatorStash := strings.TrimSpace(n.ValidatorStash), strings.TrimSpace(n.NominatorStash)
			if validatorStash == "" || nominatorStash == "" {
				stats.SkippedNominations++
				continue
			}
			amount, ok := ParseAmount(n.StakedAmount)
			if !ok {
				stats.InvalidStakes++
				continue
			}

			row, exists := rows[validatorStash]
			if !exists {
				stats.SynthesizedRows++
				synthesized[validatorStash] = struct{}{}
				row = &TableRow{
					ValidatorController: strings.TrimSpace(n.ValidatorController),
					ValidatorStash:      validatorStash,
					Nominators:          NominatorSet{},
					StakedAmount:        ZeroAmount(),
				}
				rows[validatorStash] = row
			}
			if _, orphan := synthesized[validatorStash]; orphan {
				stats.OrphanNominations++
				if row.ValidatorController == "" {
					row.ValidatorController = strings.TrimSpace(n.ValidatorController)
				}
			}

			row.StakedAmount = row.StakedAmount.Add(amount)
			row.Nominators[nominatorStash] = struct{}{}
		}
	}

	if loaded.Offline {
		for i := range offline {
			stats.OfflineMarkers++
			id := strings.TrimSpace(offline[i].ValidatorID)
			row, ok := rows[id]
			if id == "" || !ok {
				stats.UnknownOffline++
				continue
			}
			row.WasOfflineThisSession = true
		}
	}

	return JoinResult{Rows: rows, Stats: stats}
}
