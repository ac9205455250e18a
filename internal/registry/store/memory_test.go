package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cardvault/internal/registry/models"
	"cardvault/pkg/domain"
	"cardvault/pkg/platform/sentinel"
)

type RecordStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *RecordStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestRecordStoreSuite(t *testing.T) {
	suite.Run(t, new(RecordStoreSuite))
}

var (
	ownerA = domain.Address("0x00000000000000000000000000000000000000aa")
	ownerB = domain.Address("0x00000000000000000000000000000000000000bb")
)

func (s *RecordStoreSuite) newRecord(name string) *models.Record {
	record, err := models.NewRecord(ownerA, name, "sha256:"+name, 100, time.Now())
	s.Require().NoError(err)
	return record
}

func (s *RecordStoreSuite) TestCreate() {
	s.Run("allocates monotonic ids starting at 1", func() {
		first := s.newRecord("first")
		second := s.newRecord("second")
		s.Require().NoError(s.store.Create(s.ctx, first))
		s.Require().NoError(s.store.Create(s.ctx, second))
		s.Equal(domain.TokenID(1), first.ID)
		s.Equal(domain.TokenID(2), second.ID)
	})

	s.Run("appends the creation provenance entry", func() {
		record := s.newRecord("provenance")
		s.Require().NoError(s.store.Create(s.ctx, record))

		history, err := s.store.History(s.ctx, record.ID)
		s.Require().NoError(err)
		s.Require().Len(history, 1)
		s.Equal(ownerA, history[0].Owner)
		s.Zero(history[0].Price)
	})
}

func (s *RecordStoreSuite) TestGet() {
	s.Run("returns a copy of the stored record", func() {
		record := s.newRecord("card")
		s.Require().NoError(s.store.Create(s.ctx, record))

		got, err := s.store.Get(s.ctx, record.ID)
		s.Require().NoError(err)
		got.Price = 9999

		again, err := s.store.Get(s.ctx, record.ID)
		s.Require().NoError(err)
		s.Equal(uint64(100), again.Price)
	})

	s.Run("returns ErrNotFound for unknown id", func() {
		_, err := s.store.Get(s.ctx, 404)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *RecordStoreSuite) TestUpdate() {
	s.Run("overwrites mutable fields", func() {
		record := s.newRecord("card")
		s.Require().NoError(s.store.Create(s.ctx, record))

		record.Price = 250
		record.ApplyGrade("PSA 9", "sha256:regraded")
		s.Require().NoError(s.store.Update(s.ctx, record))

		got, err := s.store.Get(s.ctx, record.ID)
		s.Require().NoError(err)
		s.Equal(uint64(250), got.Price)
		s.True(got.Grade.IsGraded())
		s.Equal("sha256:regraded", got.MetadataPointer)
	})

	s.Run("returns ErrNotFound for unknown id", func() {
		missing := s.newRecord("ghost")
		missing.ID = 404
		s.Require().ErrorIs(s.store.Update(s.ctx, missing), sentinel.ErrNotFound)
	})
}

func (s *RecordStoreSuite) TestTransfer() {
	s.Run("updates owner and appends provenance atomically", func() {
		record := s.newRecord("card")
		s.Require().NoError(s.store.Create(s.ctx, record))

		at := time.Now()
		s.Require().NoError(s.store.Transfer(s.ctx, record.ID, ownerB, 175, at))

		got, err := s.store.Get(s.ctx, record.ID)
		s.Require().NoError(err)
		s.Equal(ownerB, got.Owner)

		history, err := s.store.History(s.ctx, record.ID)
		s.Require().NoError(err)
		s.Require().Len(history, 2)
		s.Equal(ownerB, history[1].Owner)
		s.Equal(uint64(175), history[1].Price)
	})

	s.Run("returns ErrNotFound for unknown id", func() {
		err := s.store.Transfer(s.ctx, 404, ownerB, 10, time.Now())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *RecordStoreSuite) TestHistoryIsACopy() {
	record := s.newRecord("card")
	s.Require().NoError(s.store.Create(s.ctx, record))

	history, err := s.store.History(s.ctx, record.ID)
	s.Require().NoError(err)
	history[0].Price = 9999

	again, err := s.store.History(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Zero(again[0].Price)
}

func (s *RecordStoreSuite) TestAuthorizedCallers() {
	allowed, err := s.store.IsAuthorizedCaller(s.ctx, ownerB)
	s.Require().NoError(err)
	s.False(allowed)

	s.Require().NoError(s.store.SetAuthorizedCaller(s.ctx, ownerB, true))
	allowed, err = s.store.IsAuthorizedCaller(s.ctx, ownerB)
	s.Require().NoError(err)
	s.True(allowed)

	s.Require().NoError(s.store.SetAuthorizedCaller(s.ctx, ownerB, false))
	allowed, err = s.store.IsAuthorizedCaller(s.ctx, ownerB)
	s.Require().NoError(err)
	s.False(allowed)
}
