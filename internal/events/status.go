package events

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vadiminshakov/bankdapp/internal/domain"
)

const defaultJournalSize = 512

// AccountChanged is emitted by the provider session whenever the wallet selection changes.
// Connected is false when the wallet exposes no account anymore.
type AccountChanged struct {
	Account   common.Address
	Connected bool
}

// StatusType identifies a status event.
type StatusType string

const (
	StatusSnapshot       StatusType = "snapshot"
	StatusOutcome        StatusType = "outcome"
	StatusSyncError      StatusType = "sync_error"
	StatusAccountChanged StatusType = "account_changed"
)

// StatusEvent is what the presentation layer renders: a new snapshot, a
// transaction outcome, a sync error or an account switch.
// Errors are carried as category and message, never as raw provider text.
type StatusEvent struct {
	Timestamp time.Time               `json:"ts"`
	Type      StatusType              `json:"type"`
	Account   string                  `json:"account,omitempty"`
	Snapshot  *domain.BalanceSnapshot `json:"snapshot,omitempty"`
	Outcome   *OutcomeView            `json:"outcome,omitempty"`
	Category  domain.ErrorCategory    `json:"category,omitempty"`
	Message   string                  `json:"message,omitempty"`
}

// OutcomeView is the serializable form of a transaction outcome.
type OutcomeView struct {
	ID           string               `json:"id"`
	Kind         domain.OperationKind `json:"kind"`
	Status       domain.TxStatus      `json:"status"`
	TxHash       string               `json:"tx_hash,omitempty"`
	GasUsed      uint64               `json:"gas_used,omitempty"`
	Category     domain.ErrorCategory `json:"category,omitempty"`
	Message      string               `json:"message,omitempty"`
	SyncCategory domain.ErrorCategory `json:"sync_category,omitempty"`
	SyncMessage  string               `json:"sync_message,omitempty"`
}

// NewOutcomeView converts an outcome into its display form.
func NewOutcomeView(o domain.TransactionOutcome) *OutcomeView {
	return &OutcomeView{
		ID:           o.ID,
		Kind:         o.Kind,
		Status:       o.Status,
		TxHash:       o.TxHash,
		GasUsed:      o.GasUsed,
		Category:     domain.Category(o.Err),
		Message:      domain.Describe(o.Err),
		SyncCategory: domain.Category(o.SyncErr),
		SyncMessage:  domain.Describe(o.SyncErr),
	}
}

// SnapshotEvent builds a snapshot status event.
func SnapshotEvent(s domain.BalanceSnapshot) StatusEvent {
	return StatusEvent{
		Timestamp: time.Now().UTC(),
		Type:      StatusSnapshot,
		Account:   s.Account.Hex(),
		Snapshot:  &s,
	}
}

// OutcomeEvent builds a transaction outcome status event.
func OutcomeEvent(o domain.TransactionOutcome) StatusEvent {
	view := NewOutcomeView(o)
	return StatusEvent{
		Timestamp: time.Now().UTC(),
		Type:      StatusOutcome,
		Outcome:   view,
		Category:  view.Category,
		Message:   view.Message,
	}
}

// SyncErrorEvent builds a sync error status event.
// The account is left out when no wallet is connected.
func SyncErrorEvent(account common.Address, err error) StatusEvent {
	ev := StatusEvent{
		Timestamp: time.Now().UTC(),
		Type:      StatusSyncError,
		Category:  domain.Category(err),
		Message:   domain.Describe(err),
	}
	if account != (common.Address{}) {
		ev.Account = account.Hex()
	}
	return ev
}

// AccountChangedEvent builds an account switch status event.
func AccountChangedEvent(ev AccountChanged) StatusEvent {
	s := StatusEvent{
		Timestamp: time.Now().UTC(),
		Type:      StatusAccountChanged,
	}
	if ev.Connected {
		s.Account = ev.Account.Hex()
	}
	return s
}

// StatusRecord bundles an event with its journal index.
type StatusRecord struct {
	Index uint64
	Event StatusEvent
}

// Status is the error/status channel: it keeps a bounded in-memory journal of
// the session's events and fans them out to live subscribers.
type Status struct {
	*Broadcaster[StatusEvent]

	mu      sync.RWMutex
	records []StatusRecord
	next    uint64
	limit   int
}

// NewStatus creates a status channel keeping up to limit events.
func NewStatus(limit int) *Status {
	if limit < 1 {
		limit = defaultJournalSize
	}
	return &Status{
		Broadcaster: NewBroadcaster[StatusEvent](256),
		next:        1,
		limit:       limit,
	}
}

// Publish journals ev and sends it to subscribers.
func (s *Status) Publish(ev StatusEvent) {
	s.mu.Lock()
	s.records = append(s.records, StatusRecord{Index: s.next, Event: ev})
	s.next++
	if len(s.records) > s.limit {
		s.records = append([]StatusRecord(nil), s.records[len(s.records)-s.limit:]...)
	}
	s.mu.Unlock()

	s.Broadcaster.Publish(ev)
}

// EventsAfter returns journaled events with an index greater than index.
func (s *Status) EventsAfter(index uint64) []StatusRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StatusRecord, 0)
	for _, r := range s.records {
		if r.Index > index {
			out = append(out, r)
		}
	}
	return out
}

// Latest returns the most recent event, if any.
func (s *Status) Latest() (StatusEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return StatusEvent{}, false
	}
	return s.records[len(s.records)-1].Event, true
}
