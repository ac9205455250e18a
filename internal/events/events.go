// Package events captures ledger notifications emitted by the registry,
// admission queue, and exchange. External observers reconstruct history from
// these; nothing in the core reads them back for decisions.
package events

import (
	"time"

	"cardvault/pkg/domain"
)

// Action identifies what happened.
type Action string

const (
	ActionRecordCreated Action = "record_created"
	ActionPriceChanged  Action = "price_changed"
	ActionGradeSet      Action = "grade_set"
	ActionTransferred   Action = "transferred"

	ActionListed    Action = "listed"
	ActionUnlisted  Action = "unlisted"
	ActionPurchased Action = "purchased"

	ActionEnqueued     Action = "certification_enqueued"
	ActionDequeued     Action = "certification_dequeued"
	ActionFinalized    Action = "certification_finalized"
	ActionQueueCleared Action = "queue_cleared"
	ActionFeeWithdrawn Action = "fees_withdrawn"

	ActionCallerAuthorized    Action = "caller_authorization_changed"
	ActionCertifierAuthorized Action = "certifier_authorization_changed"
	ActionFeeRateChanged      Action = "fee_rate_changed"
	ActionPauseChanged        Action = "pause_changed"
)

// Event is a single ledger notification. Attrs carries action-specific
// values (price, grade, buyer, seller, ...) as strings so sinks stay
// schema-free.
type Event struct {
	ID        string            `json:"id"`
	Action    Action            `json:"action"`
	TokenID   domain.TokenID    `json:"token_id,omitempty"`
	Actor     domain.Address    `json:"actor,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}
