package rpc

import (
	"context"

	"github.com/nomidot/valtable/pkg/validators"
)

// Client captures the staking queries the validators table is built from.
// Each query resolves independently; callers decide when to join.
type Client interface {
	NominationsBySession(ctx context.Context, session uint32) ([]validators.NominationRecord, error)
	OfflineValidatorsBySession(ctx context.Context, session uint32) ([]validators.OfflineMarker, error)
	ValidatorsBySession(ctx context.Context, session uint32) ([]validators.ValidatorRecord, error)
	LatestSession(ctx context.Context) (uint32, error)
}
