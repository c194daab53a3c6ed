package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/nomidot/valtable/pkg/validators"
)

// ErrNoSession is returned when the indexer has not recorded any session yet.
var ErrNoSession = errors.New("no session indexed")

func sessionVars(session uint32) map[string]any {
	return map[string]any{"sessionIndex": session}
}

// NominationsBySession returns all nominations recorded for a session.
func (c *HTTPClient) NominationsBySession(ctx context.Context, session uint32) ([]validators.NominationRecord, error) {
	var data struct {
		Nominations []validators.NominationRecord `json:"nominations"`
	}
	if err := c.doGraphQL(ctx, nominationsOperation, nominationsQuery, sessionVars(session), &data); err != nil {
		return nil, fmt.Errorf("fetch nominations for session %d: %w", session, err)
	}
	if data.Nominations == nil {
		data.Nominations = []validators.NominationRecord{}
	}
	return data.Nominations, nil
}

// OfflineValidatorsBySession returns the validators reported offline during a session.
func (c *HTTPClient) OfflineValidatorsBySession(ctx context.Context, session uint32) ([]validators.OfflineMarker, error) {
	var data struct {
		OfflineValidators []validators.OfflineMarker `json:"offlineValidators"`
	}
	if err := c.doGraphQL(ctx, offlineOperation, offlineQuery, sessionVars(session), &data); err != nil {
		return nil, fmt.Errorf("fetch offline validators for session %d: %w", session, err)
	}
	if data.OfflineValidators == nil {
		data.OfflineValidators = []validators.OfflineMarker{}
	}
	return data.OfflineValidators, nil
}

// ValidatorsBySession returns the active validator set of a session.
func (c *HTTPClient) ValidatorsBySession(ctx context.Context, session uint32) ([]validators.ValidatorRecord, error) {
	var data struct {
		Validators []validators.ValidatorRecord `json:"validators"`
	}
	if err := c.doGraphQL(ctx, validatorsOperation, validatorsQuery, sessionVars(session), &data); err != nil {
		return nil, fmt.Errorf("fetch validators for session %d: %w", session, err)
	}
	if data.Validators == nil {
		data.Validators = []validators.ValidatorRecord{}
	}
	return data.Validators, nil
}

// LatestSession returns the index of the most recent session known to the indexer.
func (c *HTTPClient) LatestSession(ctx context.Context) (uint32, error) {
	var data struct {
		Sessions []struct {
			Index uint32 `json:"index"`
		} `json:"sessions"`
	}
	if err := c.doGraphQL(ctx, latestSessionOperation, latestSessionQuery, nil, &data); err != nil {
		return 0, fmt.Errorf("fetch latest session: %w", err)
	}
	if len(data.Sessions) == 0 {
		return 0, ErrNoSession
	}
	return data.Sessions[len(data.Sessions)-1].Index, nil
}
