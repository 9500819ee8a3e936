package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"propertyescrow/pkg/auth"
	"propertyescrow/pkg/config"
	"propertyescrow/pkg/escrow"
	"propertyescrow/pkg/events"
	"propertyescrow/pkg/metrics"
	"propertyescrow/pkg/parties"
	"propertyescrow/pkg/registry"
)

var (
	sellerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	inspectorAddr = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	lenderAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	buyerAddr     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	escrowAddr    = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	registryAddr  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t       *testing.T
	router  *gin.Engine
	auth    *auth.Authenticator
	journal *events.MemoryJournal
	metrics *metrics.EscrowMetrics
}

func newTestServer(t *testing.T, ping func(context.Context) error) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	journal := events.NewMemoryJournal()
	b := &backend{
		addrs: config.Addresses{
			Escrow:          escrowAddr,
			Registry:        registryAddr,
			SellerAuthority: sellerAddr,
			Inspector:       inspectorAddr,
			LoanProvider:    lenderAddr,
		},
		registry: registry.NewMemoryRegistry(registryAddr),
		store:    escrow.NewMemoryStore(),
		parties:  parties.NewMemoryPartyRepository(),
		journal:  journal,
	}

	hub := events.NewHub(zap.NewNop())
	m := metrics.NewEscrowMetrics()
	engine, err := b.newEngine(context.Background(), zap.NewNop(), m, escrow.MultiEmitter{hub, journalEmitter{journal}})
	require.NoError(t, err)

	authenticator := auth.NewAuthenticator(auth.Config{Secret: "router-test-secret", Issuer: "propertyescrow"})
	router := newRouter(config.Config{}, zap.NewNop(), routerDeps{
		escrow:        engine,
		registry:      b.registry,
		parties:       parties.NewPartyService(b.parties),
		hub:           hub,
		journal:       journal,
		metrics:       m,
		authenticator: authenticator,
		ping:          ping,
	})
	return &testServer{t: t, router: router, auth: authenticator, journal: journal, metrics: m}
}

// journalEmitter appends synchronously so assertions need no worker.
type journalEmitter struct {
	journal events.Journal
}

func (j journalEmitter) Emit(evt escrow.Event) {
	_ = j.journal.Append(context.Background(), evt)
}

func (s *testServer) do(method, path string, caller *common.Address, body string) (int, envelope) {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		token, err := s.auth.Issue(*caller)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func addr(a common.Address) *common.Address { return &a }

func TestRouter_FullSettlementOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	code, env := s.do(http.MethodPost, "/properties", addr(sellerAddr), `{"metadata_uri":"ipfs://house-1"}`)
	require.Equal(t, http.StatusCreated, code, env.Message)
	var minted struct {
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &minted))

	code, env = s.do(http.MethodPost, fmt.Sprintf("/properties/%d/approve", minted.ID), addr(sellerAddr),
		fmt.Sprintf(`{"spender":%q}`, escrowAddr.Hex()))
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = s.do(http.MethodPost, "/listings", addr(sellerAddr), fmt.Sprintf(
		`{"asset_id":%d,"buyer":%q,"purchase_price":"10","down_payment":"5"}`, minted.ID, buyerAddr.Hex()))
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, env = s.do(http.MethodPost, fmt.Sprintf("/listings/%d/deposit", minted.ID), addr(buyerAddr), `{"amount":"5"}`)
	require.Equal(t, http.StatusOK, code, env.Message)
	code, env = s.do(http.MethodPost, "/escrow/fund", addr(lenderAddr), `{"amount":"5"}`)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = s.do(http.MethodPut, fmt.Sprintf("/listings/%d/inspection", minted.ID), addr(inspectorAddr), `{"passed":true}`)
	require.Equal(t, http.StatusOK, code, env.Message)

	for _, approver := range []common.Address{buyerAddr, sellerAddr, lenderAddr} {
		code, env = s.do(http.MethodPost, fmt.Sprintf("/listings/%d/approve", minted.ID), addr(approver), "")
		require.Equal(t, http.StatusOK, code, env.Message)
	}

	code, env = s.do(http.MethodPost, fmt.Sprintf("/listings/%d/finalize", minted.ID), addr(buyerAddr), "")
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = s.do(http.MethodGet, fmt.Sprintf("/properties/%d/owner", minted.ID), nil, "")
	require.Equal(t, http.StatusOK, code)
	var owner struct {
		Owner string `json:"owner"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &owner))
	require.Equal(t, buyerAddr.Hex(), owner.Owner)

	code, env = s.do(http.MethodGet, "/escrow/proceeds/"+sellerAddr.Hex(), nil, "")
	require.Equal(t, http.StatusOK, code)
	var proceeds struct {
		Amount string `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &proceeds))
	require.Equal(t, "10", proceeds.Amount)

	code, env = s.do(http.MethodGet, fmt.Sprintf("/events?asset_id=%d", minted.ID), nil, "")
	require.Equal(t, http.StatusOK, code)
	var history []escrow.Event
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.NotEmpty(t, history)
	require.Equal(t, escrow.EventTypeListed, history[0].Type)
	require.Equal(t, escrow.EventTypeFinalized, history[len(history)-1].Type)
}

func TestRouter_MutatingRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, nil)

	code, _ := s.do(http.MethodPost, "/escrow/fund", nil, `{"amount":"5"}`)
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(http.MethodPost, "/properties", nil, `{"metadata_uri":"ipfs://x"}`)
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(http.MethodGet, "/listings", nil, "")
	require.Equal(t, http.StatusOK, code)
}

func TestRouter_Healthz(t *testing.T) {
	s := newTestServer(t, nil)
	code, env := s.do(http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	down := newTestServer(t, func(context.Context) error { return errors.New("connection refused") })
	code, env = down.do(http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.False(t, env.Success)
}

func TestRouter_Metrics(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(http.MethodPost, "/escrow/fund", addr(lenderAddr), `{"amount":"7"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "propertyescrow_engine_pooled_balance_wei 7")
}

func TestCORSConfig(t *testing.T) {
	c := corsConfig(config.Config{CORSAllowCredentials: true})
	require.True(t, c.AllowAllOrigins)
	require.False(t, c.AllowCredentials)
	require.Empty(t, c.AllowOrigins)

	c = corsConfig(config.Config{
		CORSAllowedOrigins:   []string{"https://app.example.com", ""},
		CORSAllowCredentials: true,
	})
	require.False(t, c.AllowAllOrigins)
	require.True(t, c.AllowCredentials)
	require.Equal(t, []string{"https://app.example.com"}, c.AllowOrigins)
	require.Equal(t, 12*time.Hour, c.MaxAge)
}
