package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"cardvault/internal/admission/models"
	admstore "cardvault/internal/admission/store"
	"cardvault/internal/funds"
	"cardvault/internal/ledger"
	regservice "cardvault/internal/registry/service"
	regstore "cardvault/internal/registry/store"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

var (
	issuer    = domain.Address("0x00000000000000000000000000000000000000a1")
	collector = domain.Address("0x00000000000000000000000000000000000000aa")
	stranger  = domain.Address("0x00000000000000000000000000000000000000bb")
	certifier = domain.Address("0x00000000000000000000000000000000000000c1")
	identity  = domain.Address("0x00000000000000000000000000000000000000b1")
	vault     = domain.Address("0x00000000000000000000000000000000000000b2")
	treasury  = domain.Address("0x00000000000000000000000000000000000000b3")
)

const minFee = 5

// The admission tests run against a real registry service on the same
// sequencer, the way main wires them.
type AdmissionServiceSuite struct {
	suite.Suite
	ctx      context.Context
	registry *regservice.Service
	service  *Service
	book     *funds.InMemoryBook
}

func (s *AdmissionServiceSuite) SetupTest() {
	s.ctx = context.Background()
	seq := &ledger.Sequencer{}
	s.book = funds.NewInMemoryBook()
	s.registry = regservice.New(regstore.NewInMemory(), seq, issuer)
	s.Require().NoError(s.registry.RegisterAuthorizedCaller(s.ctx, issuer, identity, true))

	s.service = New(admstore.NewInMemory(), seq, s.registry, s.book, identity, vault, minFee)
	s.Require().NoError(s.service.RegisterCertifier(s.ctx, certifier, "certifier-secret", true))

	s.Require().NoError(s.book.Deposit(s.ctx, collector, 1000))
}

func TestAdmissionServiceSuite(t *testing.T) {
	suite.Run(t, new(AdmissionServiceSuite))
}

func (s *AdmissionServiceSuite) mint(name string) domain.TokenID {
	record, err := s.registry.Create(s.ctx, issuer, collector, name, "sha256:"+name, 100)
	s.Require().NoError(err)
	return record.ID
}

func (s *AdmissionServiceSuite) balance(addr domain.Address) uint64 {
	balance, err := s.book.Balance(s.ctx, addr)
	s.Require().NoError(err)
	return balance
}

func (s *AdmissionServiceSuite) TestEnqueue() {
	s.Run("collects the minimum fee and refunds the excess", func() {
		id := s.mint("slab-me")
		before := s.balance(collector)

		s.Require().NoError(s.service.Enqueue(s.ctx, collector, id, minFee+7))

		s.Equal(before-minFee, s.balance(collector), "only the minimum is kept")
		s.Equal(uint64(minFee), s.balance(vault))

		fees, err := s.service.Fees(s.ctx)
		s.Require().NoError(err)
		s.Equal(uint64(minFee), fees.Collected)
	})

	s.Run("rejects a non-owner", func() {
		id := s.mint("not-yours")
		err := s.service.Enqueue(s.ctx, stranger, id, minFee)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("deduplicates a queued token", func() {
		id := s.mint("queued-once")
		s.Require().NoError(s.service.Enqueue(s.ctx, collector, id, minFee))

		before := s.balance(collector)
		err := s.service.Enqueue(s.ctx, collector, id, minFee)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyQueued))
		s.Equal(before, s.balance(collector), "rejected request takes no fee")
	})

	s.Run("rejects an already graded record", func() {
		id := s.mint("pre-graded")
		s.Require().NoError(s.registry.SetGradeFromAuthorizedCaller(s.ctx, identity, id, "PSA 9", "sha256:done"))

		err := s.service.Enqueue(s.ctx, collector, id, minFee)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyGraded))
	})

	s.Run("rejects a fee below the minimum", func() {
		id := s.mint("cheapskate")
		before := s.balance(collector)

		err := s.service.Enqueue(s.ctx, collector, id, minFee-1)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFee))
		s.Equal(before, s.balance(collector))
	})

	s.Run("rejects when the owner cannot cover the fee", func() {
		id := s.mint("broke")
		drain := s.balance(collector)
		s.Require().NoError(s.book.Transfer(s.ctx, collector, treasury, drain))

		err := s.service.Enqueue(s.ctx, collector, id, minFee)
		s.True(dErrors.HasCode(err, dErrors.CodePaymentFailed))

		s.Require().NoError(s.book.Transfer(s.ctx, treasury, collector, drain))
	})
}

// brokenQueueStore fails Push after the fee has been collected.
type brokenQueueStore struct {
	*admstore.InMemory
}

func (brokenQueueStore) Push(context.Context, models.QueueEntry) error {
	return errors.New("queue storage failed")
}

func (s *AdmissionServiceSuite) TestEnqueueUnwindsFeesOnPushFailure() {
	seq := &ledger.Sequencer{}
	book := funds.NewInMemoryBook()
	registry := regservice.New(regstore.NewInMemory(), seq, issuer)
	svc := New(brokenQueueStore{admstore.NewInMemory()}, seq, registry, book, identity, vault, minFee)
	s.Require().NoError(book.Deposit(s.ctx, collector, 100))

	record, err := registry.Create(s.ctx, issuer, collector, "unstorable", "sha256:unstorable", 100)
	s.Require().NoError(err)

	err = svc.Enqueue(s.ctx, collector, record.ID, minFee)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	balance, err := book.Balance(s.ctx, collector)
	s.Require().NoError(err)
	s.Equal(uint64(100), balance, "fee refunded")

	fees, err := svc.Fees(s.ctx)
	s.Require().NoError(err)
	s.Zero(fees.Collected, "collected counter reversed")
}

func (s *AdmissionServiceSuite) TestDequeue() {
	s.Run("hands tokens out in FIFO order", func() {
		first := s.mint("first")
		second := s.mint("second")
		s.Require().NoError(s.service.Enqueue(s.ctx, collector, first, minFee))
		s.Require().NoError(s.service.Enqueue(s.ctx, collector, second, minFee))

		head, ok, err := s.service.Peek(s.ctx)
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Equal(first, head)

		got, err := s.service.Dequeue(s.ctx, certifier)
		s.Require().NoError(err)
		s.Equal(first, got)

		got, err = s.service.Dequeue(s.ctx, certifier)
		s.Require().NoError(err)
		s.Equal(second, got)
	})

	s.Run("rejects a non-certifier", func() {
		_, err := s.service.Dequeue(s.ctx, stranger)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("reports an empty queue", func() {
		_, err := s.service.Dequeue(s.ctx, certifier)
		s.True(dErrors.HasCode(err, dErrors.CodeQueueEmpty))
	})
}

func (s *AdmissionServiceSuite) TestFinalize() {
	s.Run("writes the grade through the privileged path", func() {
		id := s.mint("gradable")
		s.Require().NoError(s.service.Enqueue(s.ctx, collector, id, minFee))

		dequeued, err := s.service.Dequeue(s.ctx, certifier)
		s.Require().NoError(err)
		s.Equal(id, dequeued)

		s.Require().NoError(s.service.Finalize(s.ctx, certifier, id, "PSA 10", "sha256:slabbed"))

		graded, err := s.registry.IsGraded(s.ctx, id)
		s.Require().NoError(err)
		s.True(graded)

		entry, err := s.service.GetEntry(s.ctx, id)
		s.Require().NoError(err)
		s.True(entry.Completed)
		s.Equal("PSA 10", entry.FinalGrade)
	})

	s.Run("rejects a record that was never enqueued", func() {
		id := s.mint("never-queued")
		err := s.service.Finalize(s.ctx, certifier, id, "10", "sha256:x")
		s.True(dErrors.HasCode(err, dErrors.CodeNoRequest))
	})

	s.Run("rejects a second finalization", func() {
		id := s.mint("done-once")
		s.Require().NoError(s.service.Enqueue(s.ctx, collector, id, minFee))
		s.Require().NoError(s.service.Finalize(s.ctx, certifier, id, "9", "sha256:v2"))

		err := s.service.Finalize(s.ctx, certifier, id, "10", "sha256:v3")
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyCompleted))
	})

	s.Run("rejects a non-certifier", func() {
		id := s.mint("protected")
		s.Require().NoError(s.service.Enqueue(s.ctx, collector, id, minFee))

		err := s.service.Finalize(s.ctx, stranger, id, "10", "sha256:x")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("out-of-order finalization leaves the head in place", func() {
		first := s.mint("head-token")
		second := s.mint("tail-token")
		s.Require().NoError(s.service.Enqueue(s.ctx, collector, first, minFee))
		s.Require().NoError(s.service.Enqueue(s.ctx, collector, second, minFee))

		s.Require().NoError(s.service.Finalize(s.ctx, certifier, second, "8", "sha256:tail"))

		head, ok, err := s.service.Peek(s.ctx)
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Equal(first, head)
	})

	s.Run("invalid grade propagates from the registry", func() {
		id := s.mint("bad-grade")
		s.Require().NoError(s.service.Enqueue(s.ctx, collector, id, minFee))

		err := s.service.Finalize(s.ctx, certifier, id, "", "sha256:x")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

		// The entry stays pending for a retry with a valid grade.
		entry, err2 := s.service.GetEntry(s.ctx, id)
		s.Require().NoError(err2)
		s.False(entry.Completed)
	})
}

func (s *AdmissionServiceSuite) TestEmergencyClear() {
	id := s.mint("doomed")
	s.Require().NoError(s.service.Enqueue(s.ctx, collector, id, minFee))

	s.Require().NoError(s.service.EmergencyClear(s.ctx))

	_, ok, err := s.service.Peek(s.ctx)
	s.Require().NoError(err)
	s.False(ok)

	// The token can be enqueued again after the clear.
	s.Require().NoError(s.service.Enqueue(s.ctx, collector, id, minFee))
}

func (s *AdmissionServiceSuite) TestCertifierSecrets() {
	s.Run("verifies the registered secret", func() {
		s.Require().NoError(s.service.VerifyCertifierSecret(s.ctx, certifier, "certifier-secret"))
	})

	s.Run("rejects a wrong secret", func() {
		err := s.service.VerifyCertifierSecret(s.ctx, certifier, "guess")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("rejects an unknown certifier", func() {
		err := s.service.VerifyCertifierSecret(s.ctx, stranger, "anything")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("revocation removes the account", func() {
		s.Require().NoError(s.service.RegisterCertifier(s.ctx, certifier, "", false))
		err := s.service.VerifyCertifierSecret(s.ctx, certifier, "certifier-secret")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *AdmissionServiceSuite) TestWithdraw() {
	id := s.mint("fee-source")
	s.Require().NoError(s.service.Enqueue(s.ctx, collector, id, minFee))

	s.Run("moves collected fees out of the vault", func() {
		s.Require().NoError(s.service.Withdraw(s.ctx, treasury, minFee))
		s.Equal(uint64(minFee), s.balance(treasury))
		s.Zero(s.balance(vault))

		fees, err := s.service.Fees(s.ctx)
		s.Require().NoError(err)
		s.Zero(fees.Withdrawable())
	})

	s.Run("rejects overdrawing", func() {
		err := s.service.Withdraw(s.ctx, treasury, 1)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("rejects a zero amount", func() {
		err := s.service.Withdraw(s.ctx, treasury, 0)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
