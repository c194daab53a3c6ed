package session

import (
	"github.com/cespare/xxhash/v2"

	"github.com/nomidot/valtable/pkg/validators"
)

var sep = []byte{0}

func writeFields(d *xxhash.Digest, fields ...string) {
	for _, f := range fields {
		_, _ = d.WriteString(f)
		_, _ = d.Write(sep)
	}
}

func digestNominations(records []validators.NominationRecord) uint64 {
	d := xxhash.New()
	for _, r := range records {
		writeFields(d, r.ValidatorController, r.ValidatorStash, r.NominatorController, r.NominatorStash, r.StakedAmount)
	}
	return d.Sum64()
}

func digestOffline(records []validators.OfflineMarker) uint64 {
	d := xxhash.New()
	for _, r := range records {
		writeFields(d, r.ValidatorID)
	}
	return d.Sum64()
}

func digestValidators(records []validators.ValidatorRecord) uint64 {
	d := xxhash.New()
	for _, r := range records {
		writeFields(d, r.Controller, r.Stash, string(r.Preferences))
	}
	return d.Sum64()
}
