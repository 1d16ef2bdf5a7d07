package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/gold"
	"github.com/alanyoungcy/parimutuel/internal/parimutuel"
	"github.com/alanyoungcy/parimutuel/internal/server"
	"github.com/alanyoungcy/parimutuel/internal/server/handler"
	"github.com/alanyoungcy/parimutuel/internal/service"
)

const adminKey = "test-admin-key"

type api struct {
	t   *testing.T
	srv *httptest.Server
}

func newAPI(t *testing.T, balances map[string]int64) *api {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := gold.NewMemoryLedger(balances)
	engine := parimutuel.NewEngine(parimutuel.DefaultLimits(), g, nil, 256, logger)

	s := server.NewServer(server.Config{AdminAPIKey: adminKey}, server.Handlers{
		Health:  handler.NewHealthHandler(nil, logger),
		Status:  handler.NewStatusHandler(service.NewStatusService(engine, "server", "memory", "memory", nil)),
		Markets: handler.NewMarketHandler(service.NewMarketService(engine, nil, logger), logger),
		Bets:    handler.NewBetHandler(service.NewBetService(engine, g, nil, logger), logger),
	}, nil, nil, logger)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &api{t: t, srv: srv}
}

func (a *api) do(method, path, body string, admin bool) (int, map[string]any) {
	a.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, r)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(a.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func marketBody(deadline time.Time) string {
	b, _ := json.Marshal(map[string]any{
		"question":        "Will the knight win the duel?",
		"outcomes":        []string{"Yes", "No"},
		"bettingDeadline": deadline,
		"resolutionTime":  deadline.Add(time.Hour),
	})
	return string(b)
}

func TestAPI_MarketLifecycle(t *testing.T) {
	a := newAPI(t, map[string]int64{"alice": 1000, "bob": 1000})
	deadline := time.Now().Add(time.Hour).UTC()

	code, _ := a.do(http.MethodPost, "/api/markets", marketBody(deadline), false)
	assert.Equal(t, http.StatusUnauthorized, code, "market creation is admin only")

	code, m := a.do(http.MethodPost, "/api/markets", marketBody(deadline), true)
	require.Equal(t, http.StatusCreated, code)
	assert.EqualValues(t, 1, m["id"])
	assert.EqualValues(t, 500, m["houseFeeBps"])

	code, _ = a.do(http.MethodPost, "/api/markets/1/bets", `{"bettorId":"alice","outcomeIndex":0,"amount":100}`, false)
	require.Equal(t, http.StatusCreated, code)
	code, bet := a.do(http.MethodPost, "/api/markets/1/bets", `{"bettorId":"bob","outcomeIndex":1,"amount":300}`, false)
	require.Equal(t, http.StatusCreated, code)
	assert.EqualValues(t, 0, bet["oddsAtBet"])

	code, snap := a.do(http.MethodGet, "/api/markets/1", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{40000.0, 13333.0}, snap["odds"])
	assert.Equal(t, []any{2500.0, 7500.0}, snap["impliedBps"])

	code, preview := a.do(http.MethodGet, "/api/markets/1/preview?outcome=0&amount=100", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 237, preview["payout"])
	assert.EqualValues(t, 25000, preview["newOdds"])

	code, _ = a.do(http.MethodPost, "/api/markets/1/claim", `{"bettorId":"alice"}`, false)
	assert.Equal(t, http.StatusConflict, code, "claim before resolution")

	code, res := a.do(http.MethodPost, "/api/markets/1/resolve", `{"winningOutcome":1}`, true)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 380, res["netPool"])

	code, body := a.do(http.MethodPost, "/api/markets/1/resolve", `{"winningOutcome":0}`, true)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "state", body["kind"])

	code, claim := a.do(http.MethodPost, "/api/markets/1/claim", `{"bettorId":"bob"}`, false)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 380, claim["amount"])

	code, claim = a.do(http.MethodPost, "/api/markets/1/claim", `{"bettorId":"bob"}`, false)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, claim["amount"], "second claim pays nothing")

	code, bal := a.do(http.MethodGet, "/api/bettors/bob/balance", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1080, bal["balance"])

	code, pos := a.do(http.MethodGet, "/api/markets/1/positions/alice", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{100.0, 0.0}, pos["staked"])

	code, list := a.do(http.MethodGet, "/api/markets?status=resolved", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, list["total"])

	code, st := a.do(http.MethodGet, "/api/status", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, st["totalBets"])
	assert.EqualValues(t, 1, st["settledMarkets"])
}

func TestAPI_ErrorMapping(t *testing.T) {
	a := newAPI(t, map[string]int64{"alice": 50})
	code, _ := a.do(http.MethodPost, "/api/markets", marketBody(time.Now().Add(time.Hour)), true)
	require.Equal(t, http.StatusCreated, code)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		kind   string
	}{
		{"unknown market", http.MethodGet, "/api/markets/99", "", http.StatusNotFound, "not_found"},
		{"bad id", http.MethodGet, "/api/markets/abc", "", http.StatusBadRequest, "validation"},
		{"invalid outcome", http.MethodPost, "/api/markets/1/bets", `{"bettorId":"alice","outcomeIndex":5,"amount":20}`, http.StatusBadRequest, "validation"},
		{"too small", http.MethodPost, "/api/markets/1/bets", `{"bettorId":"alice","outcomeIndex":0,"amount":9}`, http.StatusBadRequest, "validation"},
		{"too large", http.MethodPost, "/api/markets/1/bets", `{"bettorId":"alice","outcomeIndex":0,"amount":100001}`, http.StatusBadRequest, "validation"},
		{"insufficient gold", http.MethodPost, "/api/markets/1/bets", `{"bettorId":"alice","outcomeIndex":0,"amount":60}`, http.StatusPaymentRequired, "resource"},
		{"unknown field", http.MethodPost, "/api/markets/1/bets", `{"bettorId":"alice","outcomeIndex":0,"amount":20,"odds":1}`, http.StatusBadRequest, "validation"},
		{"missing outcome", http.MethodPost, "/api/markets/1/bets", `{"bettorId":"alice","amount":20}`, http.StatusBadRequest, "validation"},
		{"preview overflow", http.MethodGet, "/api/markets/1/preview?outcome=0&amount=9223372036854775807", "", http.StatusBadRequest, "validation"},
		{"preview above max bet", http.MethodGet, "/api/markets/1/preview?outcome=0&amount=100001", "", http.StatusBadRequest, "validation"},
		{"preview without amount", http.MethodGet, "/api/markets/1/preview?outcome=0", "", http.StatusBadRequest, "validation"},
		{"one outcome", http.MethodPost, "/api/markets", `{"question":"q","outcomes":["only"],"bettingDeadline":"2030-01-01T00:00:00Z","resolutionTime":"2030-01-02T00:00:00Z"}`, http.StatusBadRequest, "validation"},
		{"fee too high", http.MethodPost, "/api/markets", `{"question":"q","outcomes":["a","b"],"bettingDeadline":"2030-01-01T00:00:00Z","resolutionTime":"2030-01-02T00:00:00Z","houseFeeBps":5000}`, http.StatusBadRequest, "validation"},
		{"unknown status", http.MethodGet, "/api/markets?status=open", "", http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := a.do(tt.method, tt.path, tt.body, true)
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.kind, body["kind"])
		})
	}
}

func TestAPI_ClosedMarket(t *testing.T) {
	a := newAPI(t, map[string]int64{"alice": 500})
	code, _ := a.do(http.MethodPost, "/api/markets", marketBody(time.Now().Add(-time.Minute)), true)
	require.Equal(t, http.StatusCreated, code)

	code, body := a.do(http.MethodPost, "/api/markets/1/bets", `{"bettorId":"alice","outcomeIndex":0,"amount":20}`, false)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["error"], domain.ErrMarketClosed.Error())

	code, _ = a.do(http.MethodPost, "/api/markets/1/cancel", "", true)
	require.Equal(t, http.StatusOK, code)
	code, _ = a.do(http.MethodPost, "/api/markets/1/cancel", "", true)
	assert.Equal(t, http.StatusConflict, code)
}

func TestAPI_WalletBettorNormalised(t *testing.T) {
	const checksummed = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	a := newAPI(t, nil)

	code, body := a.do(http.MethodPost, "/api/admin/gold/"+strings.ToLower(checksummed), `{"amount":250}`, true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, checksummed, body["bettorId"])

	code, body = a.do(http.MethodGet, "/api/bettors/"+checksummed+"/balance", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 250, body["balance"])

	code, body = a.do(http.MethodGet, "/api/bettors/player-one/balance", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "player-one", body["bettorId"])
}

func TestAPI_Health(t *testing.T) {
	a := newAPI(t, nil)
	code, body := a.do(http.MethodGet, "/api/health", "", false)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}
