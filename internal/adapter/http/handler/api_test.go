package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpHandler "wallet-ledger/internal/adapter/http/handler"
	"wallet-ledger/internal/adapter/storage/memory"
	redisStorage "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/service"
	"wallet-ledger/internal/worker"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testApp wires the real router, services and settlement workers over the
// in-memory ledger store and miniredis.
type testApp struct {
	server   *httptest.Server
	tokenSvc ports.TokenService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	log := zerolog.Nop()

	queue := redisStorage.NewSettlementQueue(rdb, redisStorage.QueueOptions{Block: 20 * time.Millisecond}, log)
	require.NoError(t, queue.EnsureGroup(ctx))

	store := memory.NewStore()
	walletRepo := memory.NewWalletRepo(store)
	txRepo := memory.NewTransactionRepo(store)

	registry := prometheus.NewRegistry()
	metrics := service.NewMetrics(registry)
	tokenSvc := service.NewJWTTokenService("test-jwt-secret-key-32bytes!!", time.Hour, "test-issuer")

	submissionSvc := service.NewSubmissionService(walletRepo, txRepo, queue,
		redisStorage.NewIdempotencyCache(rdb), time.Hour, metrics, log)
	settlementSvc := service.NewSettlementService(txRepo, walletRepo, store, metrics, log)

	pool := worker.NewPool(queue, settlementSvc, worker.Options{
		Workers: 2,
		Retry:   worker.DefaultRetryPolicy(),
	}, metrics, log)
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      service.NewWalletService(walletRepo, log),
		SubmissionSvc:  submissionSvc,
		ReportingSvc:   service.NewReportingService(txRepo, walletRepo),
		TokenSvc:       tokenSvc,
		HealthCheckers: []ports.HealthChecker{redisStorage.NewHealthCheck(rdb)},
		Registry:       registry,
		Logger:         log,
	})
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
	})

	return &testApp{server: server, tokenSvc: tokenSvc}
}

// client is an authenticated API caller.
type client struct {
	t     *testing.T
	base  string
	token string
}

func (a *testApp) newClient(t *testing.T) *client {
	token, _, err := a.tokenSvc.Generate(uuid.New())
	require.NoError(t, err)
	return &client{t: t, base: a.server.URL, token: token}
}

func (c *client) do(method, path string, body interface{}, headers map[string]string) (int, map[string]interface{}) {
	c.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (c *client) data(method, path string, body interface{}, wantStatus int) map[string]interface{} {
	c.t.Helper()
	status, out := c.do(method, path, body, nil)
	require.Equal(c.t, wantStatus, status, "%s %s: %v", method, path, out)
	return out["data"].(map[string]interface{})
}

func (c *client) createWallet(currency string) string {
	return c.data(http.MethodPost, "/api/v1/wallets", map[string]string{"currency": currency}, http.StatusCreated)["id"].(string)
}

func (c *client) balance(walletID string) string {
	return c.data(http.MethodGet, "/api/v1/wallets/"+walletID, nil, http.StatusOK)["balance"].(string)
}

// awaitStatus polls the transaction until it leaves PROCESSING.
func (c *client) awaitStatus(txID string) string {
	c.t.Helper()
	var status string
	require.Eventually(c.t, func() bool {
		status = c.data(http.MethodGet, "/api/v1/transactions/"+txID, nil, http.StatusOK)["status"].(string)
		return status != "PROCESSING"
	}, 5*time.Second, 20*time.Millisecond)
	return status
}

func TestAPI_HealthCheck(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Get(app.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestAPI_Unauthenticated(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Get(app.server.URL + "/api/v1/wallets")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_ReplenishWithdrawTransfer(t *testing.T) {
	app := newTestApp(t)
	alice := app.newClient(t)
	bob := app.newClient(t)

	src := alice.createWallet("USD")
	dst := bob.createWallet("USD")
	eur := bob.createWallet("EUR")

	// Duplicate currency wallet
	status, out := alice.do(http.MethodPost, "/api/v1/wallets", map[string]string{"currency": "USD"}, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "WAL_002", out["error_code"])

	txn := alice.data(http.MethodPost, "/api/v1/transactions/replenish",
		map[string]string{"wallet_id": src, "amount": "100.00"}, http.StatusCreated)
	assert.Equal(t, "PROCESSING", txn["status"])
	assert.Equal(t, "COMPLETED", alice.awaitStatus(txn["id"].(string)))
	assert.Equal(t, "100.00", alice.balance(src))

	// Guard: not enough funds is rejected synchronously
	status, out = alice.do(http.MethodPost, "/api/v1/transactions/withdraw",
		map[string]string{"wallet_id": src, "amount": "150.00"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "TXN_001", out["error_code"])

	// Guard: cross-currency transfer
	status, out = alice.do(http.MethodPost, "/api/v1/transactions/transfer",
		map[string]string{"from_wallet_id": src, "to_wallet_id": eur, "amount": "1.00"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "TXN_002", out["error_code"])

	// Guard: transferring out of someone else's wallet
	status, out = bob.do(http.MethodPost, "/api/v1/transactions/transfer",
		map[string]string{"from_wallet_id": src, "to_wallet_id": dst, "amount": "1.00"}, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "WAL_001", out["error_code"])

	transfer := alice.data(http.MethodPost, "/api/v1/transactions/transfer",
		map[string]string{"from_wallet_id": src, "to_wallet_id": dst, "amount": "30.00"}, http.StatusCreated)
	withdraw := alice.data(http.MethodPost, "/api/v1/transactions/withdraw",
		map[string]string{"wallet_id": src, "amount": "20.00"}, http.StatusCreated)

	assert.Equal(t, "COMPLETED", alice.awaitStatus(transfer["id"].(string)))
	assert.Equal(t, "COMPLETED", alice.awaitStatus(withdraw["id"].(string)))
	assert.Equal(t, "50.00", alice.balance(src))
	assert.Equal(t, "30.00", bob.balance(dst))

	// The receiver can read the transfer, a stranger cannot.
	assert.Equal(t, "COMPLETED", bob.data(http.MethodGet, "/api/v1/transactions/"+transfer["id"].(string), nil, http.StatusOK)["status"])
	stranger := app.newClient(t)
	status, _ = stranger.do(http.MethodGet, "/api/v1/transactions/"+transfer["id"].(string), nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	stats := alice.data(http.MethodGet, "/api/v1/transactions/stats", nil, http.StatusOK)
	assert.Equal(t, float64(3), stats["total_transactions"])
	assert.Equal(t, float64(3), stats["completed"])
	totals := stats["totals"].([]interface{})
	require.Len(t, totals, 1)
	usd := totals[0].(map[string]interface{})
	assert.Equal(t, "USD", usd["currency"])
	assert.Equal(t, "100.00", usd["replenished"])
	assert.Equal(t, "20.00", usd["withdrawn"])
	assert.Equal(t, "30.00", usd["transferred"])

	list := alice.data(http.MethodGet, "/api/v1/transactions?type=TRANSFER", nil, http.StatusOK)
	assert.Equal(t, float64(1), list["count"])
}

func TestAPI_IdempotentSubmission(t *testing.T) {
	app := newTestApp(t)
	alice := app.newClient(t)
	wallet := alice.createWallet("USD")

	body := map[string]string{"wallet_id": wallet, "amount": "10.00"}
	headers := map[string]string{"Idempotency-Key": "topup-1"}

	status, first := alice.do(http.MethodPost, "/api/v1/transactions/replenish", body, headers)
	require.Equal(t, http.StatusCreated, status)
	status, second := alice.do(http.MethodPost, "/api/v1/transactions/replenish", body, headers)
	require.Equal(t, http.StatusCreated, status)

	firstID := first["data"].(map[string]interface{})["id"].(string)
	assert.Equal(t, firstID, second["data"].(map[string]interface{})["id"])

	alice.awaitStatus(firstID)
	assert.Equal(t, "10.00", alice.balance(wallet))
}

func TestAPI_DeactivatedWalletRejectsSubmissions(t *testing.T) {
	app := newTestApp(t)
	alice := app.newClient(t)
	wallet := alice.createWallet("USD")

	deactivated := alice.data(http.MethodPost, "/api/v1/wallets/"+wallet+"/deactivate", nil, http.StatusOK)
	assert.Equal(t, false, deactivated["is_active"])

	status, out := alice.do(http.MethodPost, "/api/v1/transactions/replenish",
		map[string]string{"wallet_id": wallet, "amount": "5.00"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "WAL_003", out["error_code"])
}
