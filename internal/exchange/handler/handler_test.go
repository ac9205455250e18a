package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"cardvault/internal/exchange/models"
	exservice "cardvault/internal/exchange/service"
	exstore "cardvault/internal/exchange/store"
	"cardvault/internal/funds"
	"cardvault/internal/ledger"
	regmodels "cardvault/internal/registry/models"
	regservice "cardvault/internal/registry/service"
	regstore "cardvault/internal/registry/store"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/testutil"
)

var (
	issuer       = domain.Address("0x00000000000000000000000000000000000000a1")
	seller       = domain.Address("0x00000000000000000000000000000000000000aa")
	buyer        = domain.Address("0x00000000000000000000000000000000000000bb")
	vault        = domain.Address("0x00000000000000000000000000000000000000e1")
	feeRecipient = domain.Address("0x00000000000000000000000000000000000000fe")
)

const adminToken = "admin-test-token"

type tokenValidator map[string]domain.Address

func (v tokenValidator) ValidateToken(tokenString string) (domain.Address, error) {
	addr, ok := v[tokenString]
	if !ok {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return addr, nil
}

type ExchangeHandlerSuite struct {
	suite.Suite
	ctx      context.Context
	registry *regservice.Service
	service  *exservice.Service
	book     *funds.InMemoryBook
	router   chi.Router
}

func (s *ExchangeHandlerSuite) SetupTest() {
	s.ctx = context.Background()
	seq := &ledger.Sequencer{}
	s.book = funds.NewInMemoryBook()
	s.registry = regservice.New(regstore.NewInMemory(), seq, issuer)

	var err error
	s.service, err = exservice.New(exstore.NewInMemory(), seq, s.registry, s.book, vault, feeRecipient, 250)
	s.Require().NoError(err)
	s.registry.SetLister(s.service)
	s.Require().NoError(s.book.Deposit(s.ctx, buyer, 1000))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	validator := tokenValidator{
		"seller-token": seller,
		"buyer-token":  buyer,
	}
	s.router = chi.NewRouter()
	New(s.service, logger, validator, adminToken).Register(s.router)
}

func TestExchangeHandlerSuite(t *testing.T) {
	suite.Run(t, new(ExchangeHandlerSuite))
}

func (s *ExchangeHandlerSuite) mint(name string) *regmodels.Record {
	record, err := s.registry.Create(s.ctx, issuer, seller, name, "sha256:"+name, 100)
	s.Require().NoError(err)
	return record
}

func (s *ExchangeHandlerSuite) withToken(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func (s *ExchangeHandlerSuite) withAdmin(req *http.Request) *http.Request {
	req.Header.Set("X-Admin-Token", adminToken)
	return req
}

func (s *ExchangeHandlerSuite) TestListingLifecycle() {
	s.mint("rotated")

	s.Run("new records are listed", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/market/1")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		testutil.AssertJSONContains(s.T(), rr, "listed", true)
	})

	s.Run("owner unlists", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/market/1/unlist", nil)
		rr := testutil.DoRequest(s.router, s.withToken(req, "seller-token"))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
	})

	s.Run("non-owner cannot relist", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/market/1/list", nil)
		rr := testutil.DoRequest(s.router, s.withToken(req, "buyer-token"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, string(dErrors.CodeUnauthorized))
	})

	s.Run("owner relists", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/market/1/list", nil)
		rr := testutil.DoRequest(s.router, s.withToken(req, "seller-token"))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
	})

	s.Run("double listing conflicts", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/market/1/list", nil)
		rr := testutil.DoRequest(s.router, s.withToken(req, "seller-token"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, string(dErrors.CodeAlreadyListed))
	})
}

func (s *ExchangeHandlerSuite) TestPurchase() {
	record := s.mint("sold-online")

	s.Run("buyer purchases at the listed price", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/market/1/purchase", purchaseRequest{
			ExpectedPointer: record.MetadataPointer,
			Payment:         100,
		})
		rr := testutil.DoRequest(s.router, s.withToken(req, "buyer-token"))

		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
		owner, err := s.registry.OwnerOf(s.ctx, record.ID)
		s.Require().NoError(err)
		s.Equal(buyer, owner)
	})

	s.Run("purchase history is public", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/market/1/purchases")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[struct {
			Purchases []models.PurchaseRecord `json:"purchases"`
		}](s.T(), rr)
		s.Require().Len(resp.Purchases, 1)
		s.Equal(buyer, resp.Purchases[0].Buyer)
		s.Equal(seller, resp.Purchases[0].Seller)
	})

	s.Run("mismatched payment is rejected", func() {
		other := s.mint("haggled")
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/market/2/purchase", purchaseRequest{
			ExpectedPointer: other.MetadataPointer,
			Payment:         50,
		})
		rr := testutil.DoRequest(s.router, s.withToken(req, "buyer-token"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodePaymentMismatch))
	})

	s.Run("stale pointer conflicts", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/market/2/purchase", purchaseRequest{
			ExpectedPointer: "sha256:outdated",
			Payment:         100,
		})
		rr := testutil.DoRequest(s.router, s.withToken(req, "buyer-token"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, string(dErrors.CodeStaleState))
	})

	s.Run("requires authentication", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/market/2/purchase", purchaseRequest{Payment: 100})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})
}

func (s *ExchangeHandlerSuite) TestAdminRoutes() {
	s.Run("admin routes reject a missing token", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPut, "/market/paused", setPausedRequest{Paused: true})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusForbidden)
	})

	s.Run("pausing blocks purchases", func() {
		record := s.mint("frozen-out")

		req := testutil.NewJSONRequest(s.T(), http.MethodPut, "/market/paused", setPausedRequest{Paused: true})
		rr := testutil.DoRequest(s.router, s.withAdmin(req))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

		req = testutil.NewJSONRequest(s.T(), http.MethodPost, "/market/1/purchase", purchaseRequest{
			ExpectedPointer: record.MetadataPointer,
			Payment:         100,
		})
		rr = testutil.DoRequest(s.router, s.withToken(req, "buyer-token"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, string(dErrors.CodePaused))
	})

	s.Run("fee rate above the cap is rejected", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPut, "/market/fee-rate", setFeeRateRequest{Bps: 5000})
		rr := testutil.DoRequest(s.router, s.withAdmin(req))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
	})

	s.Run("drain reports the moved amount", func() {
		s.Require().NoError(s.book.Deposit(s.ctx, vault, 17))

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/market/drain", drainRequest{To: issuer.String()})
		rr := testutil.DoRequest(s.router, s.withAdmin(req))

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		testutil.AssertJSONContains(s.T(), rr, "amount", float64(17))
	})
}
