package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

// UngradedValue is the grade string reported for records that have not been
// certified yet.
const UngradedValue = "ungraded"

// maxGradeLen bounds grade strings. Validation is deliberately permissive:
// any non-empty value within the bound is accepted, numeric or not.
const maxGradeLen = 16

// GradeState is a one-way marker: a record is either ungraded or carries a
// finalized grade. The zero value is ungraded; the only transition is through
// Finalize, so "re-grading" is unrepresentable.
type GradeState struct {
	graded bool
	value  string
}

// Graded returns a finalized state. Callers validate the value first with
// ValidateGradeValue.
func Graded(value string) GradeState {
	return GradeState{graded: true, value: value}
}

func (g GradeState) IsGraded() bool { return g.graded }

// Value returns the grade string, or UngradedValue before certification.
func (g GradeState) Value() string {
	if !g.graded {
		return UngradedValue
	}
	return g.value
}

func (g GradeState) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Graded bool   `json:"graded"`
		Value  string `json:"value"`
	}{g.graded, g.Value()})
}

func (g *GradeState) UnmarshalJSON(data []byte) error {
	var raw struct {
		Graded bool   `json:"graded"`
		Value  string `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Graded {
		*g = Graded(raw.Value)
	} else {
		*g = GradeState{}
	}
	return nil
}

// ValidateGradeValue checks a candidate grade string at the trust boundary.
func ValidateGradeValue(value string) error {
	if value == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "grade cannot be empty")
	}
	if len(value) > maxGradeLen {
		return dErrors.Newf(dErrors.CodeInvalidInput, "grade must be at most %d characters", maxGradeLen)
	}
	return nil
}

// Record is the canonical on-ledger representation of one collectible asset.
//
// Invariants:
//   - ID is unique and monotonically assigned by the store
//   - Name and MetadataPointer are non-empty; Price is positive
//   - Owner is never the zero address once created
//   - Once Grade.IsGraded(), Grade and MetadataPointer never change again
type Record struct {
	ID              domain.TokenID `json:"id"`
	Name            string         `json:"name"`
	MetadataPointer string         `json:"metadata_pointer"`
	Grade           GradeState     `json:"grade"`
	CreatedAt       time.Time      `json:"created_at"`
	Price           uint64         `json:"price"`
	Owner           domain.Address `json:"owner"`
}

// NewRecord validates inputs and builds an ungraded record. The store
// allocates the ID on create.
func NewRecord(owner domain.Address, name, metadataPointer string, price uint64, now time.Time) (*Record, error) {
	if owner.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "owner cannot be the zero address")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "name cannot be empty")
	}
	if metadataPointer == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "metadata pointer cannot be empty")
	}
	if price == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "price must be positive")
	}
	return &Record{
		Name:            name,
		MetadataPointer: metadataPointer,
		CreatedAt:       now,
		Price:           price,
		Owner:           owner,
	}, nil
}

// CanFinalizeGrade reports whether the one-way grading transition is still
// available.
func (r *Record) CanFinalizeGrade() error {
	if r.Grade.IsGraded() {
		return dErrors.Newf(dErrors.CodeAlreadyGraded, "record %d is already graded", r.ID)
	}
	return nil
}

// ApplyGrade performs the irreversible transition: sets the grade and
// replaces the metadata pointer. Call CanFinalizeGrade first.
func (r *Record) ApplyGrade(value, newPointer string) {
	r.Grade = Graded(value)
	r.MetadataPointer = newPointer
}

// IntegrityHash is a stable digest over the record's authoritative fields.
// Buyers compare it (or the pointer directly) against the state they decided
// on before committing funds.
func (r *Record) IntegrityHash() string {
	h := sha256.Sum256(fmt.Appendf(nil, "%d|%s|%s|%s|%d|%s",
		r.ID, r.Name, r.MetadataPointer, r.Grade.Value(), r.Price, r.Owner))
	return hex.EncodeToString(h[:])
}

// ProvenanceEntry is one step of a record's append-only ownership history.
// Price is the transfer price, 0 for the creation entry.
type ProvenanceEntry struct {
	Owner     domain.Address `json:"owner"`
	Timestamp time.Time      `json:"timestamp"`
	Price     uint64         `json:"price"`
}
