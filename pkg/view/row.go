// Package view turns joined rows into the shape shown to users, both over
// HTTP and in the terminal.
package view

import (
	"github.com/nomidot/valtable/pkg/session"
	"github.com/nomidot/valtable/pkg/validators"
)

// CommissionUnknown is shown when a row has no validator record.
const CommissionUnknown = "unknown"

// CommissionInvalid is shown when the preferences payload cannot be decoded.
const CommissionInvalid = "invalid"

// Options controls formatting.
type Options struct {
	Decimals       uint8
	Unit           string
	WithNominators bool
}

// Known says which derived columns are backed by loaded data. Unknown
// columns are rendered as null rather than as zero.
type Known struct {
	Stake   bool
	Offline bool
}

// AllKnown is used for complete tables.
var AllKnown = Known{Stake: true, Offline: true}

// Row is one validator as presented.
type Row struct {
	ValidatorStash      string   `json:"validatorStash"`
	ValidatorController string   `json:"validatorController"`
	StakedAmount        *string  `json:"stakedAmount"`
	StakedFormatted     *string  `json:"stakedFormatted"`
	NominatorCount      *int     `json:"nominatorCount"`
	Nominators          []string `json:"nominators,omitempty"`
	Commission          string   `json:"commission"`
	Blocked             *bool    `json:"blocked"`
	WasOffline          *bool    `json:"wasOfflineThisSession"`
}

// KnownFromTable derives column availability from the table's pending queries.
func KnownFromTable(t *session.Table) Known {
	k := AllKnown
	for _, q := range t.Pending {
		switch q {
		case session.QueryNominations:
			k.Stake = false
		case session.QueryOffline:
			k.Offline = false
		}
	}
	return k
}

// FromTable presents a session table. It returns an empty slice for tables
// that have not been joined yet.
func FromTable(t *session.Table, opts Options) []Row {
	if t == nil || !t.Joined() {
		return []Row{}
	}
	return Build(t.Rows, KnownFromTable(t), opts)
}

// Build presents rows ordered by stake, highest first.
func Build(rows validators.Rows, known Known, opts Options) []Row {
	sorted := rows.Sorted()
	out := make([]Row, 0, len(sorted))
	for _, r := range sorted {
		out = append(out, buildRow(r, known, opts))
	}
	return out
}

func buildRow(r *validators.TableRow, known Known, opts Options) Row {
	row := Row{
		ValidatorStash:      r.ValidatorStash,
		ValidatorController: r.ValidatorController,
		Commission:          CommissionUnknown,
	}

	if known.Stake {
		amount := r.StakedAmount.String()
		formatted := validators.FormatBalance(r.StakedAmount, opts.Decimals, opts.Unit)
		count := r.Nominators.Len()
		row.StakedAmount = &amount
		row.StakedFormatted = &formatted
		row.NominatorCount = &count
		if opts.WithNominators {
			row.Nominators = r.Nominators.Sorted()
		}
	}

	if known.Offline {
		offline := r.WasOfflineThisSession
		row.WasOffline = &offline
	}

	if r.Preferences != nil {
		prefs, err := r.Preferences.Decode()
		if err != nil {
			row.Commission = CommissionInvalid
		} else {
			blocked := prefs.Blocked
			row.Commission = prefs.CommissionPercent()
			row.Blocked = &blocked
		}
	}

	return row
}
