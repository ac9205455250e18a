// Package blobstore holds the off-ledger payloads that record pointers
// reference. Blobs are content-addressed: the CID is derived from the bytes,
// so a pointer stored in the registry pins exactly one payload forever.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	dErrors "cardvault/pkg/domain-errors"
)

const cidPrefix = "sha256:"

// CID computes the content identifier for a payload.
func CID(data []byte) string {
	sum := sha256.Sum256(data)
	return cidPrefix + hex.EncodeToString(sum[:])
}

// ValidateCID checks the shape of a content identifier.
func ValidateCID(cid string) error {
	rest, ok := strings.CutPrefix(cid, cidPrefix)
	if !ok {
		return dErrors.Newf(dErrors.CodeInvalidInput, "cid must start with %q", cidPrefix)
	}
	if len(rest) != sha256.Size*2 {
		return dErrors.New(dErrors.CodeInvalidInput, "cid digest has wrong length")
	}
	if _, err := hex.DecodeString(rest); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "cid digest is not hex")
	}
	return nil
}

// Store is a content-addressed blob store.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, cid string) ([]byte, error)
	Has(ctx context.Context, cid string) (bool, error)
}

// InMemory keeps blobs in process memory.
type InMemory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewInMemory() *InMemory {
	return &InMemory{blobs: make(map[string][]byte)}
}

func (s *InMemory) Put(_ context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "blob payload is empty")
	}
	cid := CID(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[cid]; !ok {
		stored := make([]byte, len(data))
		copy(stored, data)
		s.blobs[cid] = stored
	}
	return cid, nil
}

func (s *InMemory) Get(_ context.Context, cid string) ([]byte, error) {
	if err := ValidateCID(cid); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[cid]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("blob %s not found", cid))
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *InMemory) Has(_ context.Context, cid string) (bool, error) {
	if err := ValidateCID(cid); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[cid]
	return ok, nil
}
