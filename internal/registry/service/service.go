package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"cardvault/internal/events"
	"cardvault/internal/ledger"
	"cardvault/internal/platform/metrics"
	regcache "cardvault/internal/registry/cache"
	"cardvault/internal/registry/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/sentinel"
)

// Store is the persistence contract for records, provenance, and the
// authorized-caller allow-list.
type Store interface {
	Create(ctx context.Context, record *models.Record) error
	Get(ctx context.Context, id domain.TokenID) (*models.Record, error)
	Update(ctx context.Context, record *models.Record) error
	Transfer(ctx context.Context, id domain.TokenID, to domain.Address, price uint64, at time.Time) error
	History(ctx context.Context, id domain.TokenID) ([]models.ProvenanceEntry, error)
	SetAuthorizedCaller(ctx context.Context, addr domain.Address, allowed bool) error
	IsAuthorizedCaller(ctx context.Context, addr domain.Address) (bool, error)
}

// Lister is the exchange hook invoked right after minting so new records
// appear on the marketplace without a second caller round-trip.
type Lister interface {
	AutoList(ctx context.Context, id domain.TokenID, owner domain.Address) error
}

// EventPublisher emits ledger notifications.
type EventPublisher interface {
	Emit(ctx context.Context, event events.Event) error
}

// Service owns the canonical record store: identity, metadata pointer,
// price, grade, provenance.
type Service struct {
	store  Store
	seq    *ledger.Sequencer
	issuer domain.Address
	cache  regcache.RecordCache

	lister    Lister
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

func WithCache(c regcache.RecordCache) Option {
	return func(s *Service) { s.cache = c }
}

// SetLister attaches the exchange auto-list hook after construction. The
// exchange needs the registry to build, so main wires the hook in a second
// step; the registry never imports the exchange.
func (s *Service) SetLister(l Lister) { s.lister = l }

// New constructs the registry service. issuer is the only address permitted
// to mint records and manage the authorized-caller set.
func New(store Store, seq *ledger.Sequencer, issuer domain.Address, opts ...Option) *Service {
	s := &Service{
		store:  store,
		seq:    seq,
		issuer: issuer,
		cache:  regcache.Noop{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create mints a record for owner. Issuing authority only.
func (s *Service) Create(ctx context.Context, caller, owner domain.Address, name, metadataPointer string, price uint64) (*models.Record, error) {
	var record *models.Record
	err := s.seq.Do(ctx, func(ctx context.Context) error {
		if caller != s.issuer {
			return dErrors.New(dErrors.CodeUnauthorized, "only the issuing authority can create records")
		}
		r, err := models.NewRecord(owner, name, metadataPointer, price, time.Now().UTC())
		if err != nil {
			return err
		}
		if err := s.store.Create(ctx, r); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create record")
		}
		record = r

		s.emit(ctx, events.Event{
			Action:  events.ActionRecordCreated,
			TokenID: r.ID,
			Actor:   caller,
			Attrs: map[string]string{
				"owner":   r.Owner.String(),
				"name":    r.Name,
				"pointer": r.MetadataPointer,
				"price":   strconv.FormatUint(r.Price, 10),
			},
		})
		if s.metrics != nil {
			s.metrics.RecordsCreated.Inc()
		}

		if s.lister != nil {
			if err := s.lister.AutoList(ctx, r.ID, r.Owner); err != nil {
				// Listing is a convenience, not part of the mint's
				// atomic unit. The record exists either way.
				s.logger.WarnContext(ctx, "auto-list after mint failed",
					"token_id", r.ID, "error", err.Error())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// SetPrice updates the asking price. Current owner only.
func (s *Service) SetPrice(ctx context.Context, caller domain.Address, id domain.TokenID, newPrice uint64) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		if newPrice == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "price must be positive")
		}
		record, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if record.Owner != caller {
			return dErrors.New(dErrors.CodeUnauthorized, "only the owner can set the price")
		}
		record.Price = newPrice
		if err := s.store.Update(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update price")
		}
		s.cache.Invalidate(ctx, id)

		s.emit(ctx, events.Event{
			Action:  events.ActionPriceChanged,
			TokenID: id,
			Actor:   caller,
			Attrs:   map[string]string{"price": strconv.FormatUint(newPrice, 10)},
		})
		return nil
	})
}

// SetGradeFromAuthorizedCaller finalizes the grade and replaces the metadata
// pointer. Only addresses on the authorized-caller allow-list (the admission
// queue's delegated contracts) may invoke it, and only once per record.
func (s *Service) SetGradeFromAuthorizedCaller(ctx context.Context, caller domain.Address, id domain.TokenID, grade, newMetadataPointer string) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		allowed, err := s.store.IsAuthorizedCaller(ctx, caller)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check caller authorization")
		}
		if !allowed {
			return dErrors.New(dErrors.CodeUnauthorized, "caller is not authorized to set grades")
		}
		if err := models.ValidateGradeValue(grade); err != nil {
			return err
		}
		if newMetadataPointer == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "metadata pointer cannot be empty")
		}
		record, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := record.CanFinalizeGrade(); err != nil {
			return err
		}
		record.ApplyGrade(grade, newMetadataPointer)
		if err := s.store.Update(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store grade")
		}
		s.cache.Invalidate(ctx, id)

		s.emit(ctx, events.Event{
			Action:  events.ActionGradeSet,
			TokenID: id,
			Actor:   caller,
			Attrs: map[string]string{
				"grade":   grade,
				"pointer": newMetadataPointer,
			},
		})
		return nil
	})
}

// Transfer moves ownership directly. Current owner only; purchases go
// through ExecuteTransfer instead.
func (s *Service) Transfer(ctx context.Context, caller domain.Address, id domain.TokenID, to domain.Address) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		record, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if record.Owner != caller {
			return dErrors.New(dErrors.CodeUnauthorized, "only the owner can transfer")
		}
		return s.transfer(ctx, record, caller, to)
	})
}

// ExecuteTransfer is the trusted call path used by the exchange during
// purchase. The exchange has already validated listing, payment, and seller
// state; this only re-checks existence and the zero-address invariant.
func (s *Service) ExecuteTransfer(ctx context.Context, id domain.TokenID, to domain.Address) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		record, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		return s.transfer(ctx, record, record.Owner, to)
	})
}

func (s *Service) transfer(ctx context.Context, record *models.Record, from, to domain.Address) error {
	if to.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "cannot transfer to the zero address")
	}
	if to == record.Owner {
		return dErrors.New(dErrors.CodeInvalidInput, "cannot transfer to the current owner")
	}
	if err := s.store.Transfer(ctx, record.ID, to, record.Price, time.Now().UTC()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "record %d not found", record.ID)
		}
		if errors.Is(err, sentinel.ErrUnavailable) {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "record store unavailable")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to transfer ownership")
	}
	s.cache.Invalidate(ctx, record.ID)

	s.emit(ctx, events.Event{
		Action:  events.ActionTransferred,
		TokenID: record.ID,
		Actor:   from,
		Attrs: map[string]string{
			"to":    to.String(),
			"price": strconv.FormatUint(record.Price, 10),
		},
	})
	return nil
}

// Get returns the record for the public read endpoints, consulting the
// record cache first. Staleness is bounded by the cache TTL; anything that
// gates a mutation reads through Lookup instead.
func (s *Service) Get(ctx context.Context, id domain.TokenID) (*models.Record, error) {
	if record, ok := s.cache.Get(ctx, id); ok {
		return record, nil
	}
	record, err := s.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, record)
	return record, nil
}

// Lookup returns the authoritative record, reading the store inside the
// sequence. Ownership, pointer, and price checks made by other operations
// use this path so a stale cache entry can never satisfy them.
func (s *Service) Lookup(ctx context.Context, id domain.TokenID) (*models.Record, error) {
	var record *models.Record
	err := s.seq.Do(ctx, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		record = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetPointer returns the current metadata pointer.
func (s *Service) GetPointer(ctx context.Context, id domain.TokenID) (string, error) {
	record, err := s.Lookup(ctx, id)
	if err != nil {
		return "", err
	}
	return record.MetadataPointer, nil
}

// GetPrice returns the current asking price.
func (s *Service) GetPrice(ctx context.Context, id domain.TokenID) (uint64, error) {
	record, err := s.Lookup(ctx, id)
	if err != nil {
		return 0, err
	}
	return record.Price, nil
}

// OwnerOf returns the current owner.
func (s *Service) OwnerOf(ctx context.Context, id domain.TokenID) (domain.Address, error) {
	record, err := s.Lookup(ctx, id)
	if err != nil {
		return "", err
	}
	return record.Owner, nil
}

// IsGraded reports whether the record has been certified.
func (s *Service) IsGraded(ctx context.Context, id domain.TokenID) (bool, error) {
	record, err := s.Lookup(ctx, id)
	if err != nil {
		return false, err
	}
	return record.Grade.IsGraded(), nil
}

// IntegrityHash returns the digest of the record's authoritative fields.
func (s *Service) IntegrityHash(ctx context.Context, id domain.TokenID) (string, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return record.IntegrityHash(), nil
}

// GetHistory returns the append-only provenance sequence.
func (s *Service) GetHistory(ctx context.Context, id domain.TokenID) ([]models.ProvenanceEntry, error) {
	var entries []models.ProvenanceEntry
	err := s.seq.Do(ctx, func(ctx context.Context) error {
		e, err := s.store.History(ctx, id)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeNotFound, "record %d not found", id)
			}
			if errors.Is(err, sentinel.ErrUnavailable) {
				return dErrors.Wrap(err, dErrors.CodeUnavailable, "record store unavailable")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load history")
		}
		entries = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// RegisterAuthorizedCaller adds or removes an address from the grade-setting
// allow-list. Issuing authority only.
func (s *Service) RegisterAuthorizedCaller(ctx context.Context, caller, addr domain.Address, allowed bool) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		if caller != s.issuer {
			return dErrors.New(dErrors.CodeUnauthorized, "only the issuing authority can manage authorized callers")
		}
		if addr.IsZero() {
			return dErrors.New(dErrors.CodeInvalidInput, "address cannot be the zero address")
		}
		if err := s.store.SetAuthorizedCaller(ctx, addr, allowed); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update authorized callers")
		}
		s.emit(ctx, events.Event{
			Action: events.ActionCallerAuthorized,
			Actor:  caller,
			Attrs: map[string]string{
				"address": addr.String(),
				"allowed": strconv.FormatBool(allowed),
			},
		})
		return nil
	})
}

func (s *Service) load(ctx context.Context, id domain.TokenID) (*models.Record, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "record %d not found", id)
		}
		if errors.Is(err, sentinel.ErrUnavailable) {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "record store unavailable")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load record")
	}
	return record, nil
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
