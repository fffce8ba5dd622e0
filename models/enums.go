package models

// DebtSyncState is one participant's synchronization state against the
// caller's local ledger row.
type DebtSyncState string

const (
	// DebtSyncStateZero: the expected sum is zero, nothing to track.
	DebtSyncStateZero DebtSyncState = "ZERO"
	// DebtSyncStateNonExistent: a non-zero sum with no local row yet.
	DebtSyncStateNonExistent DebtSyncState = "NON_EXISTENT"
	// DebtSyncStateDesynced: a local row exists but diverged from the
	// expected amount/currency/date/receipt.
	DebtSyncStateDesynced DebtSyncState = "DESYNCED"
	// DebtSyncStateSynced: the local row matches on all four fields.
	DebtSyncStateSynced DebtSyncState = "SYNCED"
)

// DebtSyncAction is the single action a state permits, if any.
type DebtSyncAction string

const (
	DebtSyncActionNone   DebtSyncAction = ""
	DebtSyncActionCreate DebtSyncAction = "create"
	DebtSyncActionUpdate DebtSyncAction = "update"
)

type DebtEventAction string

const (
	DebtEventActionCreated  DebtEventAction = "created"
	DebtEventActionUpdated  DebtEventAction = "updated"
	DebtEventActionAccepted DebtEventAction = "accepted"
)

type OutboxPublishStatus string

const (
	OutboxPublishStatusPending OutboxPublishStatus = "Pending"
	OutboxPublishStatusSent    OutboxPublishStatus = "Sent"
	OutboxPublishStatusFailed  OutboxPublishStatus = "Failed"
)

// ErrorCodeNotFound tags acceptance results for ids that resolve to no
// eligible foreign row.
const ErrorCodeNotFound = "NOT_FOUND"
