package domain

import "time"

// TxState is a step of a single transaction run.
type TxState string

const (
	TxStateIdle              TxState = "idle"
	TxStateEstimating        TxState = "estimating"
	TxStateAwaitingSignature TxState = "awaiting_signature"
	TxStateSubmitted         TxState = "submitted"
	TxStateConfirmed         TxState = "confirmed"
	TxStateRejected          TxState = "rejected"
	TxStateFailed            TxState = "failed"
)

// IsTerminal reports whether no further transition can happen.
func (s TxState) IsTerminal() bool {
	return s == TxStateConfirmed || s == TxStateRejected || s == TxStateFailed
}

// TxStatus is the terminal status of a transaction run.
type TxStatus string

const (
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusRejected  TxStatus = "rejected"
	TxStatusFailed    TxStatus = "failed"
)

// State returns the terminal run state matching s.
func (s TxStatus) State() TxState {
	switch s {
	case TxStatusConfirmed:
		return TxStateConfirmed
	case TxStatusRejected:
		return TxStateRejected
	default:
		return TxStateFailed
	}
}

// TransactionOutcome is the result of one run. SyncErr is set when the
// post-confirmation balance refresh failed; it never changes Status.
type TransactionOutcome struct {
	ID         string
	Kind       OperationKind
	Status     TxStatus
	Err        error
	TxHash     string
	GasUsed    uint64
	SyncErr    error
	FinishedAt time.Time
}
