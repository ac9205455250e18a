package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cardvault/internal/events"
	"cardvault/internal/exchange/models"
	"cardvault/internal/funds"
	"cardvault/internal/ledger"
	"cardvault/internal/platform/metrics"
	regmodels "cardvault/internal/registry/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

// maxFeeRateBps caps the exchange fee at 10%.
const maxFeeRateBps = 1000

// Store is the persistence contract for listings and purchase histories.
type Store interface {
	IsListed(ctx context.Context, id domain.TokenID) (bool, error)
	SetListed(ctx context.Context, id domain.TokenID, listed bool) error
	ListedCount(ctx context.Context) (int, error)
	AppendPurchase(ctx context.Context, id domain.TokenID, record models.PurchaseRecord) error
	Purchases(ctx context.Context, id domain.TokenID) ([]models.PurchaseRecord, error)
}

// RegistryGateway is the explicit call contract into the registry: read the
// authoritative record state and execute the ownership transfer.
type RegistryGateway interface {
	// Lookup reads the record inside the sequence, never through a cache.
	Lookup(ctx context.Context, id domain.TokenID) (*regmodels.Record, error)
	ExecuteTransfer(ctx context.Context, id domain.TokenID, to domain.Address) error
}

// EventPublisher emits ledger notifications.
type EventPublisher interface {
	Emit(ctx context.Context, event events.Event) error
}

// Service is the exchange: listings plus the atomic swap of ownership for
// payment.
type Service struct {
	store    Store
	seq      *ledger.Sequencer
	registry RegistryGateway
	book     funds.Book
	guard    *ledger.Guard
	tracer   trace.Tracer

	// vault receives nothing in normal operation; Drain exists as the
	// administrative escape hatch for funds that end up stranded there.
	vault domain.Address

	feeRateBps   uint64
	feeRecipient domain.Address
	paused       bool

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

// New constructs the exchange service.
func New(store Store, seq *ledger.Sequencer, registry RegistryGateway, book funds.Book, vault, feeRecipient domain.Address, feeRateBps uint64, opts ...Option) (*Service, error) {
	if feeRateBps > maxFeeRateBps {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "fee rate %d exceeds %d bps", feeRateBps, maxFeeRateBps)
	}
	s := &Service{
		store:        store,
		seq:          seq,
		registry:     registry,
		book:         book,
		guard:        ledger.NewGuard(),
		tracer:       otel.Tracer("cardvault/exchange"),
		vault:        vault,
		feeRateBps:   feeRateBps,
		feeRecipient: feeRecipient,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// List puts a record on the market. Current owner only.
func (s *Service) List(ctx context.Context, caller domain.Address, id domain.TokenID) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		record, err := s.registry.Lookup(ctx, id)
		if err != nil {
			return err
		}
		if record.Owner != caller {
			return dErrors.New(dErrors.CodeUnauthorized, "only the owner can list")
		}
		return s.setListed(ctx, caller, id, true)
	})
}

// Unlist takes a record off the market. Current owner only.
func (s *Service) Unlist(ctx context.Context, caller domain.Address, id domain.TokenID) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		record, err := s.registry.Lookup(ctx, id)
		if err != nil {
			return err
		}
		if record.Owner != caller {
			return dErrors.New(dErrors.CodeUnauthorized, "only the owner can unlist")
		}
		return s.setListed(ctx, caller, id, false)
	})
}

// AutoList is the trusted hook the registry invokes right after minting. It
// is idempotent: already-listed is not an error on this path.
func (s *Service) AutoList(ctx context.Context, id domain.TokenID, owner domain.Address) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		listed, err := s.store.IsListed(ctx, id)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check listing")
		}
		if listed {
			return nil
		}
		return s.setListed(ctx, owner, id, true)
	})
}

func (s *Service) setListed(ctx context.Context, actor domain.Address, id domain.TokenID, listed bool) error {
	current, err := s.store.IsListed(ctx, id)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check listing")
	}
	if listed && current {
		return dErrors.Newf(dErrors.CodeAlreadyListed, "record %d is already listed", id)
	}
	if !listed && !current {
		return dErrors.Newf(dErrors.CodeNotListed, "record %d is not listed", id)
	}
	if err := s.store.SetListed(ctx, id, listed); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update listing")
	}

	action := events.ActionListed
	if !listed {
		action = events.ActionUnlisted
	}
	s.emit(ctx, events.Event{Action: action, TokenID: id, Actor: actor})
	s.updateListings(ctx)
	return nil
}

// IsListed reports the listing flag. Read-only.
func (s *Service) IsListed(ctx context.Context, id domain.TokenID) (bool, error) {
	var listed bool
	err := s.seq.Do(ctx, func(ctx context.Context) error {
		l, err := s.store.IsListed(ctx, id)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check listing")
		}
		listed = l
		return nil
	})
	return listed, err
}

// Purchases returns the append-only sale history for a token.
func (s *Service) Purchases(ctx context.Context, id domain.TokenID) ([]models.PurchaseRecord, error) {
	var records []models.PurchaseRecord
	err := s.seq.Do(ctx, func(ctx context.Context) error {
		r, err := s.store.Purchases(ctx, id)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load purchases")
		}
		records = r
		return nil
	})
	return records, err
}

// Purchase atomically swaps ownership for payment. expectedPointer is the
// metadata pointer the buyer decided on; if the registry's pointer has moved
// since (for example the record was graded in between), the purchase fails
// StaleState and nothing happens. payment must exactly equal the
// authoritative price. Every failure rolls back the entire operation.
func (s *Service) Purchase(ctx context.Context, buyer domain.Address, id domain.TokenID, expectedPointer string, payment uint64) error {
	ctx, span := s.tracer.Start(ctx, "exchange.purchase", trace.WithAttributes(
		attribute.Int64("token_id", int64(id)),
		attribute.String("buyer", buyer.String()),
	))
	defer span.End()

	err := s.seq.Do(ctx, func(ctx context.Context) error {
		if err := s.guard.Acquire(id); err != nil {
			return err
		}
		defer s.guard.Release(id)
		return s.purchase(ctx, buyer, id, expectedPointer, payment)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	return err
}

func (s *Service) purchase(ctx context.Context, buyer domain.Address, id domain.TokenID, expectedPointer string, payment uint64) error {
	if s.paused {
		return dErrors.New(dErrors.CodePaused, "exchange is paused")
	}
	listed, err := s.store.IsListed(ctx, id)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check listing")
	}
	if !listed {
		return dErrors.Newf(dErrors.CodeNotListed, "record %d is not listed", id)
	}

	// Authoritative state, read at the moment of transfer. Cross-operation
	// checks are never cached: the buyer's view may be arbitrarily stale.
	record, err := s.registry.Lookup(ctx, id)
	if err != nil {
		return err
	}
	price := record.Price
	if price == 0 {
		return dErrors.Newf(dErrors.CodeNotForSale, "record %d has no price", id)
	}
	if payment != price {
		return dErrors.Newf(dErrors.CodePaymentMismatch, "payment %d does not match price %d", payment, price)
	}
	if record.MetadataPointer != expectedPointer {
		return dErrors.Newf(dErrors.CodeStaleState, "record %d metadata pointer has changed", id)
	}
	seller := record.Owner
	if seller.IsZero() || seller == buyer {
		return dErrors.New(dErrors.CodeInvalidSeller, "record has no valid seller for this buyer")
	}

	fee := price * s.feeRateBps / 10000
	sellerAmount := price - fee

	// The buyer's balance is checked before anything moves so the payment
	// split cannot fail halfway. Balance moves settle before the ownership
	// transfer: a payment failure then unwinds cleanly with no provenance
	// trace, and a transfer failure unwinds the balance moves exactly.
	available, err := s.book.Balance(ctx, buyer)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read buyer balance")
	}
	if available < price {
		return dErrors.Newf(dErrors.CodePaymentFailed, "buyer balance %d below price %d", available, price)
	}
	if err := s.book.Transfer(ctx, buyer, s.feeRecipient, fee); err != nil {
		return dErrors.Wrap(err, dErrors.CodePaymentFailed, "fee transfer failed")
	}
	if err := s.book.Transfer(ctx, buyer, seller, sellerAmount); err != nil {
		_ = s.book.Transfer(ctx, s.feeRecipient, buyer, fee)
		return dErrors.Wrap(err, dErrors.CodePaymentFailed, "seller payment failed")
	}
	if err := s.registry.ExecuteTransfer(ctx, id, buyer); err != nil {
		_ = s.book.Transfer(ctx, seller, buyer, sellerAmount)
		_ = s.book.Transfer(ctx, s.feeRecipient, buyer, fee)
		return err
	}

	sale := models.PurchaseRecord{
		Buyer:     buyer,
		Seller:    seller,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.AppendPurchase(ctx, id, sale); err != nil {
		// Store append is the last fallible write; compensate everything.
		_ = s.registry.ExecuteTransfer(ctx, id, seller)
		_ = s.book.Transfer(ctx, seller, buyer, sellerAmount)
		_ = s.book.Transfer(ctx, s.feeRecipient, buyer, fee)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append purchase record")
	}

	// Listing stays active post-sale; the new owner can unlist.
	s.emit(ctx, events.Event{
		Action:  events.ActionPurchased,
		TokenID: id,
		Actor:   buyer,
		Attrs: map[string]string{
			"seller": seller.String(),
			"price":  strconv.FormatUint(price, 10),
			"fee":    strconv.FormatUint(fee, 10),
		},
	})
	if s.metrics != nil {
		s.metrics.Purchases.Inc()
		s.metrics.PurchaseVolume.Add(float64(price))
	}
	return nil
}

// SetFeeRate updates the exchange fee. Bounded at 10%.
func (s *Service) SetFeeRate(ctx context.Context, bps uint64) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		if bps > maxFeeRateBps {
			return dErrors.Newf(dErrors.CodeInvalidInput, "fee rate %d exceeds %d bps", bps, maxFeeRateBps)
		}
		s.feeRateBps = bps
		s.emit(ctx, events.Event{
			Action: events.ActionFeeRateChanged,
			Attrs:  map[string]string{"bps": strconv.FormatUint(bps, 10)},
		})
		return nil
	})
}

// SetFeeRecipient updates where fees go.
func (s *Service) SetFeeRecipient(ctx context.Context, addr domain.Address) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		if addr.IsZero() {
			return dErrors.New(dErrors.CodeInvalidInput, "fee recipient cannot be the zero address")
		}
		s.feeRecipient = addr
		return nil
	})
}

// SetPaused gates the purchase path.
func (s *Service) SetPaused(ctx context.Context, paused bool) error {
	return s.seq.Do(ctx, func(ctx context.Context) error {
		s.paused = paused
		s.emit(ctx, events.Event{
			Action: events.ActionPauseChanged,
			Attrs:  map[string]string{"paused": strconv.FormatBool(paused)},
		})
		return nil
	})
}

// Drain moves any balance stranded in the exchange vault to the given
// address. Administrative escape hatch.
func (s *Service) Drain(ctx context.Context, to domain.Address) (uint64, error) {
	var amount uint64
	err := s.seq.Do(ctx, func(ctx context.Context) error {
		balance, err := s.book.Balance(ctx, s.vault)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read vault balance")
		}
		if balance == 0 {
			return nil
		}
		if err := s.book.Transfer(ctx, s.vault, to, balance); err != nil {
			return err
		}
		amount = balance
		return nil
	})
	return amount, err
}

func (s *Service) updateListings(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if n, err := s.store.ListedCount(ctx); err == nil {
		s.metrics.ActiveListings.Set(float64(n))
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
