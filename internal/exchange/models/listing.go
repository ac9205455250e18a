package models

import (
	"time"

	"cardvault/pkg/domain"
)

// Listing is the marketplace availability flag for a record. Listings are
// never deleted, only toggled; the flag persists across ownership changes
// unless the owner clears it.
type Listing struct {
	TokenID domain.TokenID `json:"token_id"`
	Listed  bool           `json:"listed"`
}

// PurchaseRecord is one completed sale. The sequence per token is
// append-only.
type PurchaseRecord struct {
	Buyer     domain.Address `json:"buyer"`
	Seller    domain.Address `json:"seller"`
	Price     uint64         `json:"price"`
	Timestamp time.Time      `json:"timestamp"`
}
