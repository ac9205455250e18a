package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"cardvault/internal/admission/models"
	"cardvault/internal/events"
	"cardvault/internal/funds"
	"cardvault/internal/ledger"
	"cardvault/internal/platform/metrics"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/sentinel"
	"cardvault/pkg/secrets"
)

// Store is the persistence contract for queue state, the certifier
// allow-list, and fee accounting.
type Store interface {
	Push(ctx context.Context, entry models.QueueEntry) error
	Peek(ctx context.Context) (domain.TokenID, bool, error)
	Advance(ctx context.Context) (domain.TokenID, bool, error)
	GetEntry(ctx context.Context, id domain.TokenID) (*models.QueueEntry, error)
	Complete(ctx context.Context, id domain.TokenID, finalGrade string) error
	IsQueued(ctx context.Context, id domain.TokenID) (bool, error)
	Depth(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	SetCertifier(ctx context.Context, addr domain.Address, secretHash string, allowed bool) error
	IsCertifier(ctx context.Context, addr domain.Address) (bool, error)
	CertifierSecretHash(ctx context.Context, addr domain.Address) (string, error)
	AddCollected(ctx context.Context, amount uint64) error
	SubCollected(ctx context.Context, amount uint64) error
	AddWithdrawn(ctx context.Context, amount uint64) error
	Fees(ctx context.Context) (models.FeeAccount, error)
}

// RegistryGateway is the explicit call contract into the registry: read
// ownership and grade state, and write the final grade through the single
// privileged path.
type RegistryGateway interface {
	OwnerOf(ctx context.Context, id domain.TokenID) (domain.Address, error)
	IsGraded(ctx context.Context, id domain.TokenID) (bool, error)
	SetGradeFromAuthorizedCaller(ctx context.Context, caller domain.Address, id domain.TokenID, grade, newMetadataPointer string) error
}

// EventPublisher emits ledger notifications.
type EventPublisher interface {
	Emit(ctx context.Context, event events.Event) error
}

// Service orchestrates third-party certification: a strict FIFO with dedup
// and authorization, feeding grades back into the registry.
type Service struct {
	store    Store
	seq      *ledger.Sequencer
	registry RegistryGateway
	book     funds.Book

	// identity is the address this component presents on the registry's
	// authorized-caller allow-list; vault holds collected fees.
	identity domain.Address
	vault    domain.Address
	minFee   uint64

	logger    *slog.Logger
	publisher EventPublisher
	metrics   *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithEventPublisher(publisher EventPublisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs the admission queue service.
func New(store Store, seq *ledger.Sequencer, registry RegistryGateway, book funds.Book, identity, vault domain.Address, minFee uint64, opts ...Option) *Service {
	s := &Service{
		store:    store,
		seq:      seq,
		registry: registry,
		book:     book,
		identity: identity,
		vault:    vault,
		minFee:   minFee,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identity returns the address the queue presents to the registry.
func (s *Service) Identity() domain.Address { return s.identity }

// Enqueue admits a certification request for a record the caller owns. fee
// is the attached amount; anything above the configured minimum is returned
// to the caller, and only the minimum is kept as a collected fee.
func (s *Service) Enqueue(ctx context.Context, caller domain.Address, id domain.TokenID, fee uint64) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		owner, err := s.registry.OwnerOf(ctx, id)
		if err != nil {
			return err
		}
		if owner != caller {
			return dErrors.New(dErrors.CodeUnauthorized, "only the record owner can request certification")
		}
		queued, err := s.store.IsQueued(ctx, id)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check queue membership")
		}
		if queued {
			return dErrors.Newf(dErrors.CodeAlreadyQueued, "record %d is already queued", id)
		}
		graded, err := s.registry.IsGraded(ctx, id)
		if err != nil {
			return err
		}
		if graded {
			return dErrors.Newf(dErrors.CodeAlreadyGraded, "record %d is already graded", id)
		}
		if fee < s.minFee {
			return dErrors.Newf(dErrors.CodeInsufficientFee, "fee %d below minimum %d", fee, s.minFee)
		}

		// Collect the attached fee, then return the excess. Both moves
		// stay inside this sequenced operation.
		if err := s.book.Transfer(ctx, caller, s.vault, fee); err != nil {
			return err
		}
		if excess := fee - s.minFee; excess > 0 {
			if err := s.book.Transfer(ctx, s.vault, caller, excess); err != nil {
				// Undo the collection so a failed refund has no effect.
				_ = s.book.Transfer(ctx, s.vault, caller, fee)
				return err
			}
		}
		if err := s.store.AddCollected(ctx, s.minFee); err != nil {
			_ = s.book.Transfer(ctx, s.vault, caller, s.minFee)
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record collected fee")
		}

		entry := models.QueueEntry{
			TokenID:     id,
			Requester:   caller,
			RequestTime: time.Now().UTC(),
		}
		if err := s.store.Push(ctx, entry); err != nil {
			// Mirror both fee effects: the refund and the collected counter.
			_ = s.book.Transfer(ctx, s.vault, caller, s.minFee)
			_ = s.store.SubCollected(ctx, s.minFee)
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Newf(dErrors.CodeAlreadyQueued, "record %d is already queued", id)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to enqueue")
		}

		s.emit(ctx, events.Event{
			Action:  events.ActionEnqueued,
			TokenID: id,
			Actor:   caller,
			Attrs:   map[string]string{"fee": strconv.FormatUint(s.minFee, 10)},
		})
		s.updateDepth(ctx)
		return nil
	})
}

// Peek returns the head of the queue without advancing it. Read-only.
func (s *Service) Peek(ctx context.Context) (domain.TokenID, bool, error) {
	var (
		id     domain.TokenID
		exists bool
	)
	err := s.seq.Do(ctx, func(ctx context.Context) error {
		var err error
		id, exists, err = s.store.Peek(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to peek queue")
		}
		return nil
	})
	return id, exists, err
}

// Dequeue hands the head token to an allow-listed certifier. Advances the
// head and clears the presence flag; grading is finalized separately.
func (s *Service) Dequeue(ctx context.Context, caller domain.Address) (domain.TokenID, error) {
	var id domain.TokenID
	err := s.seq.Do(ctx, func(ctx context.Context) error {
		if err := s.requireCertifier(ctx, caller); err != nil {
			return err
		}
		next, ok, err := s.store.Advance(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to advance queue")
		}
		if !ok {
			return dErrors.New(dErrors.CodeQueueEmpty, "no certification requests pending")
		}
		id = next

		s.emit(ctx, events.Event{
			Action:  events.ActionDequeued,
			TokenID: id,
			Actor:   caller,
		})
		s.updateDepth(ctx)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Finalize writes the grade through the registry's privileged path and
// retires the queue entry. Registry failures (AlreadyGraded, InvalidInput,
// Unauthorized) propagate unchanged.
//
// The head advances only when the finalized token is currently at the head:
// certifiers finalizing out of order leave the head in place, and the queue
// tolerates the resulting relaxed ordering rather than enforcing strict
// FIFO completion.
func (s *Service) Finalize(ctx context.Context, caller domain.Address, id domain.TokenID, grade, newMetadataPointer string) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		if err := s.requireCertifier(ctx, caller); err != nil {
			return err
		}
		entry, err := s.store.GetEntry(ctx, id)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeNoRequest, "record %d was never enqueued", id)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load queue entry")
		}
		if entry.Completed {
			return dErrors.Newf(dErrors.CodeAlreadyCompleted, "record %d certification already completed", id)
		}

		if err := s.registry.SetGradeFromAuthorizedCaller(ctx, s.identity, id, grade, newMetadataPointer); err != nil {
			return err
		}
		if err := s.store.Complete(ctx, id, grade); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to retire queue entry")
		}

		s.emit(ctx, events.Event{
			Action:  events.ActionFinalized,
			TokenID: id,
			Actor:   caller,
			Attrs: map[string]string{
				"grade":     grade,
				"requester": entry.Requester.String(),
			},
		})
		if s.metrics != nil {
			s.metrics.GradesFinalized.Inc()
		}
		s.updateDepth(ctx)
		return nil
	})
}

// GetEntry returns the queue entry for a token, pending or completed.
func (s *Service) GetEntry(ctx context.Context, id domain.TokenID) (*models.QueueEntry, error) {
	var entry *models.QueueEntry
	err := s.seq.Do(ctx, func(ctx context.Context) error {
		e, err := s.store.GetEntry(ctx, id)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeNoRequest, "record %d was never enqueued", id)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load queue entry")
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// EmergencyClear drops every pending request and resets the queue.
// Completed entries are untouched. Administrative override; the transport
// layer gates it behind the admin token.
func (s *Service) EmergencyClear(ctx context.Context) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		if err := s.store.Clear(ctx); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear queue")
		}
		s.emit(ctx, events.Event{Action: events.ActionQueueCleared})
		s.updateDepth(ctx)
		return nil
	})
}

// RegisterCertifier adds or removes a certifier account. The API secret is
// stored as a bcrypt hash and checked when the certifier requests a caller
// token.
func (s *Service) RegisterCertifier(ctx context.Context, addr domain.Address, secret string, allowed bool) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		if addr.IsZero() {
			return dErrors.New(dErrors.CodeInvalidInput, "address cannot be the zero address")
		}
		hash := ""
		if allowed {
			var err error
			hash, err = secrets.Hash(secret)
			if err != nil {
				return err
			}
		}
		if err := s.store.SetCertifier(ctx, addr, hash, allowed); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update certifier allow-list")
		}
		s.emit(ctx, events.Event{
			Action: events.ActionCertifierAuthorized,
			Attrs: map[string]string{
				"address": addr.String(),
				"allowed": strconv.FormatBool(allowed),
			},
		})
		return nil
	})
}

// VerifyCertifierSecret checks an allow-listed certifier's API secret.
// Used by the token endpoint when minting certifier caller tokens.
func (s *Service) VerifyCertifierSecret(ctx context.Context, addr domain.Address, secret string) error {
	hash, err := s.store.CertifierSecretHash(ctx, addr)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeUnauthorized, "not an allow-listed certifier")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certifier secret")
	}
	if err := secrets.Verify(secret, hash); err != nil {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid certifier secret")
	}
	return nil
}

// Fees returns the queue's fee account. Read-only.
func (s *Service) Fees(ctx context.Context) (models.FeeAccount, error) {
	var account models.FeeAccount
	err := s.seq.Do(ctx, func(ctx context.Context) error {
		a, err := s.store.Fees(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load fee account")
		}
		account = a
		return nil
	})
	return account, err
}

// Withdraw moves collected fees to the given address. The withdrawable
// balance never exceeds collected, unreturned fees.
func (s *Service) Withdraw(ctx context.Context, to domain.Address, amount uint64) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		if amount == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "withdrawal amount must be positive")
		}
		account, err := s.store.Fees(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load fee account")
		}
		if amount > account.Withdrawable() {
			return dErrors.Newf(dErrors.CodeInvalidInput, "withdrawal %d exceeds withdrawable balance %d", amount, account.Withdrawable())
		}
		if err := s.book.Transfer(ctx, s.vault, to, amount); err != nil {
			return err
		}
		if err := s.store.AddWithdrawn(ctx, amount); err != nil {
			_ = s.book.Transfer(ctx, to, s.vault, amount)
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record withdrawal")
		}
		s.emit(ctx, events.Event{
			Action: events.ActionFeeWithdrawn,
			Attrs: map[string]string{
				"to":     to.String(),
				"amount": strconv.FormatUint(amount, 10),
			},
		})
		return nil
	})
}

func (s *Service) requireCertifier(ctx context.Context, caller domain.Address) error {
	allowed, err := s.store.IsCertifier(ctx, caller)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check certifier allow-list")
	}
	if !allowed {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not an allow-listed certifier")
	}
	return nil
}

func (s *Service) updateDepth(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if depth, err := s.store.Depth(ctx); err == nil {
		s.metrics.QueueDepth.Set(float64(depth))
	}
}

func (s *Service) emit(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "event emission failed",
			"action", event.Action, "token_id", event.TokenID, "error", err.Error())
	}
}
