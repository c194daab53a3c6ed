package rpc

// GraphQL documents for the staking indexer. Every session scoped query takes
// the session index as $sessionIndex.

const (
	nominationsOperation = "CurrentNominations"
	nominationsQuery     = `query CurrentNominations($sessionIndex: Int!) {
  nominations(where: { session: { index: $sessionIndex } }) {
    validatorController
    validatorStash
    nominatorController
    nominatorStash
    stakedAmount
  }
}`

	offlineOperation = "OfflineValidators"
	offlineQuery     = `query OfflineValidators($sessionIndex: Int!) {
  offlineValidators(where: { session: { index: $sessionIndex } }) {
    validatorId
  }
}`

	validatorsOperation = "CurrentValidators"
	validatorsQuery     = `query CurrentValidators($sessionIndex: Int!) {
  validators(where: { session: { index: $sessionIndex } }) {
    controller
    stash
    preferences
  }
}`

	latestSessionOperation = "LatestSession"
	latestSessionQuery     = `query LatestSession {
  sessions(last: 1) {
    index
  }
}`
)
