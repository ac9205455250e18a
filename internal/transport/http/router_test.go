package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"cardvault/internal/blobstore"
	"cardvault/internal/funds"
	fundshandler "cardvault/internal/funds/handler"
	jwttoken "cardvault/internal/jwt_token"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/testutil"
)

const adminToken = "admin-test-token"

var (
	certifierAddr = domain.Address("0x00000000000000000000000000000000000000c1")
	callerAddr    = domain.Address("0x00000000000000000000000000000000000000aa")
)

// stubVerifier accepts one address/secret pair.
type stubVerifier struct {
	addr   domain.Address
	secret string
}

func (v *stubVerifier) VerifyCertifierSecret(_ context.Context, addr domain.Address, secret string) error {
	if addr != v.addr || secret != v.secret {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid certifier secret")
	}
	return nil
}

type RouterSuite struct {
	suite.Suite
	jwtService *jwttoken.JWTService
	health     map[string]HealthCheck
	router     http.Handler
}

func (s *RouterSuite) SetupTest() {
	s.jwtService = jwttoken.NewJWTService("test-signing-key", "cardvault", "cardvault")
	s.health = map[string]HealthCheck{}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier := &stubVerifier{addr: certifierAddr, secret: "certifier-secret"}
	h := NewHandler(s.jwtService, verifier, adminToken, logger, s.health)
	s.router = NewRouter(h, prometheus.NewRegistry())
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) TestTokenEndpoint() {
	s.Run("certifier secret mints a certifier token", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/token", tokenRequest{
			Address: certifierAddr.String(),
			Secret:  "certifier-secret",
		})
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[tokenResponse](s.T(), rr)
		s.Equal("Bearer", resp.TokenType)
		s.Equal(jwttoken.RoleCertifier, resp.Role)

		claims, err := s.jwtService.ValidateToken(resp.AccessToken)
		s.Require().NoError(err)
		s.Equal(certifierAddr.String(), claims.Address)
		s.Equal(jwttoken.RoleCertifier, claims.Role)
	})

	s.Run("wrong certifier secret is rejected", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/token", tokenRequest{
			Address: certifierAddr.String(),
			Secret:  "guess",
		})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, string(dErrors.CodeUnauthorized))
	})

	s.Run("admin header mints a caller token for any address", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/token", tokenRequest{
			Address: callerAddr.String(),
		})
		req.Header.Set("X-Admin-Token", adminToken)
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[tokenResponse](s.T(), rr)
		s.Equal(jwttoken.RoleCaller, resp.Role)

		addr, err := s.jwtService.ExtractAddressFromToken(resp.AccessToken)
		s.Require().NoError(err)
		s.Equal(callerAddr, addr)
	})

	s.Run("no secret and no admin header is rejected", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/token", tokenRequest{
			Address: callerAddr.String(),
		})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, string(dErrors.CodeUnauthorized))
	})

	s.Run("malformed address is rejected", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/token", tokenRequest{
			Address: "0xnope",
		})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
	})
}

func (s *RouterSuite) TestHealth() {
	s.Run("reports ok with healthy components", func() {
		s.health["postgres"] = func(context.Context) error { return nil }

		req := testutil.NewRequest(s.T(), http.MethodGet, "/healthz")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[struct {
			Status     string            `json:"status"`
			Components map[string]string `json:"components"`
		}](s.T(), rr)
		s.Equal("ok", resp.Components["postgres"])
	})

	s.Run("degrades to 503 when a component fails", func() {
		s.health["postgres"] = func(context.Context) error { return nil }
		s.health["redis"] = func(context.Context) error { return errors.New("connection refused") }

		req := testutil.NewRequest(s.T(), http.MethodGet, "/healthz")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
		resp := testutil.UnmarshalResponse[struct {
			Components map[string]string `json:"components"`
		}](s.T(), rr)
		s.Equal("ok", resp.Components["postgres"])
		s.Equal("connection refused", resp.Components["redis"])
	})
}

func (s *RouterSuite) TestMetricsEndpoint() {
	req := testutil.NewRequest(s.T(), http.MethodGet, "/metrics")
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
}

// Domain handlers register subtrees on the shared router; two of them side
// by side must not collide, and both trees must stay routable.
func TestRouterCombinesRegistrars(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jwtService := jwttoken.NewJWTService("test-signing-key", "cardvault", "cardvault")
	verifier := &stubVerifier{addr: certifierAddr, secret: "certifier-secret"}
	h := NewHandler(jwtService, verifier, adminToken, logger, nil)

	book := funds.NewInMemoryBook()
	require.NoError(t, book.Deposit(context.Background(), callerAddr, 250))

	router := NewRouter(h, prometheus.NewRegistry(),
		fundshandler.New(book, logger, adminToken),
		blobstore.NewHandler(blobstore.NewInMemory(), logger),
	)

	req := testutil.NewRequest(t, http.MethodGet, "/funds/"+callerAddr.String())
	rr := testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	req = httptest.NewRequest(http.MethodPost, "/blobs", strings.NewReader("pointer payload"))
	rr = testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusCreated)

	req = testutil.NewRequest(t, http.MethodGet, "/healthz")
	rr = testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)
}
