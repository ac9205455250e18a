package domain

import (
	"fmt"
	"strconv"
	"strings"

	dErrors "cardvault/pkg/domain-errors"
)

// TokenID identifies a single record in the registry. IDs are allocated
// monotonically by the record store; 0 is never a valid id.
type TokenID uint64

func (t TokenID) IsZero() bool { return t == 0 }

func (t TokenID) String() string { return strconv.FormatUint(uint64(t), 10) }

// ParseTokenID parses a decimal token id from a trust boundary (URL params,
// request bodies). Rejects empty input, non-numeric input, and 0.
func ParseTokenID(raw string) (TokenID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "token id is required")
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid token id %q", raw))
	}
	if n == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "token id must be positive")
	}
	return TokenID(n), nil
}

// Address identifies a ledger account: issuer, owners, certifiers, the fee
// recipient. The canonical form is 0x followed by 40 lowercase hex characters.
type Address string

// ZeroAddress is the null identity. A record's owner is never the zero
// address once created; callers resolving to it are rejected.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

func (a Address) IsZero() bool { return a == "" || a == ZeroAddress }

func (a Address) String() string { return string(a) }

// ParseAddress validates and canonicalizes an address at a trust boundary.
func ParseAddress(raw string) (Address, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}
	if !strings.HasPrefix(raw, "0x") || len(raw) != 42 {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid address %q", raw))
	}
	for _, c := range raw[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid address %q", raw))
		}
	}
	addr := Address(raw)
	if addr == ZeroAddress {
		return "", dErrors.New(dErrors.CodeInvalidInput, "zero address is not a valid caller")
	}
	return addr, nil
}
