package models

import (
	"time"

	"cardvault/pkg/domain"
)

// QueueEntry records one certification request. At most one live (pending,
// currently enqueued) entry exists per token; a completed entry is retired
// and stays around as the finalization record.
type QueueEntry struct {
	TokenID     domain.TokenID `json:"token_id"`
	Requester   domain.Address `json:"requester"`
	RequestTime time.Time      `json:"request_time"`
	Completed   bool           `json:"completed"`
	FinalGrade  string         `json:"final_grade,omitempty"`
}

// FeeAccount tracks the queue's fee accounting. Withdrawable balance never
// exceeds collected, unreturned fees.
type FeeAccount struct {
	Collected uint64 `json:"collected"`
	Withdrawn uint64 `json:"withdrawn"`
}

// Withdrawable returns the amount still available to the administrator.
func (f FeeAccount) Withdrawable() uint64 {
	return f.Collected - f.Withdrawn
}
