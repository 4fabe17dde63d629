package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"protectedpay/internal/config"
	"protectedpay/internal/hmacauth"
	"protectedpay/internal/idempotency"
	"protectedpay/internal/protectedpay"
	"protectedpay/internal/wallet"
)

const testSecret = "test-secret"

var bob = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

// stubReader answers eth_getBalance with a settable value.
type stubReader struct {
	mu  sync.Mutex
	wei *big.Int
}

func (r *stubReader) Set(wei *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wei = wei
}

func (r *stubReader) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return new(big.Int).Set(r.wei), nil
}

type harness struct {
	srv     *Server
	client  *protectedpay.FakeClient
	wallet  *wallet.Manager
	store   *idempotency.MemoryStore
	balance *stubReader
}

func newHarness(t *testing.T, approver wallet.Approver) *harness {
	t.Helper()
	cfg := &config.AppConfig{
		Deployment: config.DefaultDeployment(),
		Service: config.ServiceConfig{
			HMACSecret:         testSecret,
			HMACClockSkew:      time.Minute,
			IdempotencyWindow:  time.Minute,
			CORSAllowedOrigins: []string{"*"},
		},
		Chain: config.ChainConfig{ReadConcurrency: 4},
	}
	chain := cfg.Deployment.WalletChain()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	balance := &stubReader{wei: big.NewInt(2e18)}
	provider, err := wallet.NewKeyedProvider(wallet.KeyedProviderConfig{
		Key:           key,
		Chains:        []wallet.ChainParams{chain},
		ActiveChainID: chain.ChainID,
		Approver:      approver,
		Dial: func(context.Context, string) (wallet.BalanceReader, error) {
			return balance, nil
		},
	})
	if err != nil {
		t.Fatalf("keyed provider: %v", err)
	}
	manager := wallet.NewManager(provider, chain, nil)
	t.Cleanup(manager.Close)

	h := &harness{
		client:  protectedpay.NewFakeClient(),
		wallet:  manager,
		store:   idempotency.NewMemoryStore(),
		balance: balance,
	}
	h.srv = NewServer(Options{Config: cfg, Client: h.client, Wallet: manager, Store: h.store})
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) post(t *testing.T, path, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	hmacauth.SignRequest(req, testSecret, payload, time.Now())
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	return h.do(req)
}

func (h *harness) get(path string) *httptest.ResponseRecorder {
	return h.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (h *harness) connect(t *testing.T) common.Address {
	t.Helper()
	rec := h.post(t, "/api/v1/session/connect", "", struct{}{})
	if rec.Code != http.StatusOK {
		t.Fatalf("connect: expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	session, ok := h.wallet.Current()
	if !ok {
		t.Fatalf("expected a session after connect")
	}
	return session.Address
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestWriteRequiresSignature(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)
	h.connect(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", strings.NewReader(`{"recipient":"alice","amount":"1"}`))
	req.Header.Set(HeaderIdempotencyKey, "k")
	rec := h.do(req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if n := len(h.client.Calls); n != 0 {
		t.Fatalf("expected no contract calls, got %d", n)
	}
}

func TestSendIsIdempotent(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)
	h.connect(t)

	body := sendRequest{Recipient: bob.Hex(), Amount: "0.25", Remarks: "lunch"}
	rec := h.post(t, "/api/v1/transfers", "send-1", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	first := rec.Body.Bytes()

	rec2 := h.post(t, "/api/v1/transfers", "send-1", body)
	if rec2.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201 got %d", rec2.Code)
	}
	if !bytes.Equal(first, rec2.Body.Bytes()) {
		t.Fatalf("expected same response body on idempotent request")
	}
	if n := len(h.client.CallsTo("SendToAddress")); n != 1 {
		t.Fatalf("expected one send, got %d", n)
	}

	var receipt protectedpay.Receipt
	decode(t, rec, &receipt)
	if len(receipt.Events) != 1 || receipt.Events[0].Amount != "0.25" {
		t.Fatalf("unexpected receipt events %+v", receipt.Events)
	}
}

func TestMissingIdempotencyKey(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)
	h.connect(t)

	rec := h.post(t, "/api/v1/users/register", "", registerRequest{Username: "alice"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestInFlightKeyConflicts(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)
	h.connect(t)

	ok, err := h.store.Reserve(context.Background(), idempotencyKey(opSend, "busy"), time.Now().Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}

	rec := h.post(t, "/api/v1/transfers", "busy", sendRequest{Recipient: bob.Hex(), Amount: "1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if n := len(h.client.CallsTo("SendToAddress")); n != 0 {
		t.Fatalf("expected no send while key is in flight, got %d", n)
	}
}

func TestFailedWriteReleasesKey(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)
	h.connect(t)
	h.client.Errors["SendToAddress"] = protectedpay.ErrInsufficientFunds

	body := sendRequest{Recipient: bob.Hex(), Amount: "100"}
	rec := h.post(t, "/api/v1/transfers", "retry-me", body)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 got %d", rec.Code)
	}
	var errResp errorResponse
	decode(t, rec, &errResp)
	if errResp.Kind != "insufficient_funds" || errResp.Error != "Insufficient funds for transaction" {
		t.Fatalf("unexpected error body %+v", errResp)
	}

	delete(h.client.Errors, "SendToAddress")
	rec = h.post(t, "/api/v1/transfers", "retry-me", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 on explicit re-invoke got %d", rec.Code)
	}
	if n := len(h.client.CallsTo("SendToAddress")); n != 2 {
		t.Fatalf("expected two send attempts, got %d", n)
	}
}

func TestBroadcastFailureKeepsKey(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)
	h.connect(t)
	h.client.Errors["SendToAddress"] = &protectedpay.Error{
		Kind:    protectedpay.KindUnavailable,
		Message: "transaction 0xabc was submitted but not confirmed: request timed out",
		TxHash:  "0xabc",
	}

	body := sendRequest{Recipient: bob.Hex(), Amount: "1"}
	first := h.post(t, "/api/v1/transfers", "same-key", body)
	if first.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", first.Code)
	}

	delete(h.client.Errors, "SendToAddress")
	second := h.post(t, "/api/v1/transfers", "same-key", body)
	if second.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected the stored 503 got %d", second.Code)
	}
	var errResp errorResponse
	decode(t, second, &errResp)
	if errResp.TxHash != "0xabc" || errResp.Kind != "unavailable" {
		t.Fatalf("unexpected replayed body %+v", errResp)
	}
	if n := len(h.client.CallsTo("SendToAddress")); n != 1 {
		t.Fatalf("expected a single broadcast, got %d", n)
	}
}

func TestWriteWithoutSession(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)

	rec := h.post(t, "/api/v1/savings-pots", "pot-1", createSavingsPotRequest{Name: "trip", TargetAmount: "1"})
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 got %d", rec.Code)
	}
}

func TestConnectRejected(t *testing.T) {
	h := newHarness(t, func(context.Context, wallet.ApprovalRequest) (bool, error) { return false, nil })

	rec := h.post(t, "/api/v1/session/connect", "", struct{}{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
	if _, ok := h.wallet.Current(); ok {
		t.Fatalf("expected no session")
	}

	var resp sessionResponse
	decode(t, h.get("/api/v1/session"), &resp)
	if resp.Connected {
		t.Fatalf("expected disconnected session")
	}
}

func TestTransferReads(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)
	me := h.connect(t)

	rec := h.post(t, "/api/v1/transfers", "t-1", sendRequest{Recipient: bob.Hex(), Amount: "1.5"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", rec.Code, rec.Body.String())
	}
	var receipt protectedpay.Receipt
	decode(t, rec, &receipt)
	id := receipt.Events[0].ID

	var transfer protectedpay.Transfer
	decode(t, h.get("/api/v1/transfers/"+id.Hex()), &transfer)
	if transfer.Sender != me || transfer.Recipient != bob || transfer.Amount != "1.5" {
		t.Fatalf("unexpected transfer %+v", transfer)
	}

	var listed struct {
		Transfers []protectedpay.Transfer `json:"transfers"`
	}
	decode(t, h.get("/api/v1/accounts/"+me.Hex()+"/refundable-transfers"), &listed)
	if len(listed.Transfers) != 1 || listed.Transfers[0].ID != id {
		t.Fatalf("expected the sent transfer to be refundable, got %+v", listed.Transfers)
	}

	listed.Transfers = nil
	decode(t, h.get("/api/v1/accounts/"+bob.Hex()+"/refundable-transfers"), &listed)
	if len(listed.Transfers) != 0 {
		t.Fatalf("recipient must not see refundable transfers, got %+v", listed.Transfers)
	}

	if rec := h.get("/api/v1/transfers/0x1234"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id got %d", rec.Code)
	}
	if rec := h.get("/api/v1/accounts/nobody/pending-transfers"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed address got %d", rec.Code)
	}
}

func TestGroupPaymentProgress(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)
	me := h.connect(t)

	rec := h.post(t, "/api/v1/group-payments", "g-1", createGroupPaymentRequest{
		Recipient: bob.Hex(), NumParticipants: 2, TotalAmount: "1.0", Remarks: "gift",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var receipt protectedpay.Receipt
	decode(t, rec, &receipt)
	id := receipt.Events[0].ID

	rec = h.post(t, "/api/v1/group-payments/"+id.Hex()+"/contributions", "g-1-c", contributeRequest{Amount: "0.5"})
	if rec.Code != http.StatusOK {
		t.Fatalf("contribute: %d %s", rec.Code, rec.Body.String())
	}

	var payment groupPaymentResponse
	decode(t, h.get("/api/v1/group-payments/"+id.Hex()), &payment)
	if payment.Progress != 0.5 || payment.AmountCollected != "0.5" {
		t.Fatalf("unexpected payment %+v", payment)
	}

	var contribution struct {
		Contributed bool   `json:"contributed"`
		Amount      string `json:"amount"`
	}
	decode(t, h.get("/api/v1/group-payments/"+id.Hex()+"/contributions/"+me.Hex()), &contribution)
	if !contribution.Contributed || contribution.Amount != "0.5" {
		t.Fatalf("unexpected contribution %+v", contribution)
	}

	rec = h.post(t, "/api/v1/group-payments/"+id.Hex()+"/contributions", "g-1-c2", contributeRequest{Amount: "0.5"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a second contribution got %d", rec.Code)
	}
	var errResp errorResponse
	decode(t, rec, &errResp)
	if errResp.Reason != "Already contributed" {
		t.Fatalf("unexpected revert reason %q", errResp.Reason)
	}
}

func TestEventStream(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	if err := h.srv.StartEvents(context.Background()); err != nil {
		t.Fatalf("start events: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.srv.hub.size() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	id := protectedpay.WireID{1}
	h.client.Emit(protectedpay.Event{Type: protectedpay.EventPotBroken, ID: id, Owner: &bob, Amount: "3.0"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got protectedpay.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Type != protectedpay.EventPotBroken || got.ID != id || got.Amount != "3.0" {
		t.Fatalf("unexpected event %+v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if n := h.client.Subscribers(); n != 0 {
		t.Fatalf("expected subscription released, %d left", n)
	}
}

func TestEventStreamResubscribes(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)
	h.srv.resubscribeDelay = time.Millisecond

	if err := h.srv.StartEvents(context.Background()); err != nil {
		t.Fatalf("start events: %v", err)
	}
	waitSubscribers(t, h.client, 1)

	h.client.DropSubscriptions(protectedpay.ErrUnavailable)

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(h.srv.metrics.resubscribes) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription was not reopened")
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitSubscribers(t, h.client, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if n := h.client.Subscribers(); n != 0 {
		t.Fatalf("expected subscription released, %d left", n)
	}
}

func TestRestartEventsReplacesSubscription(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)
	ctx := context.Background()

	if err := h.srv.StartEvents(ctx); err != nil {
		t.Fatalf("start events: %v", err)
	}
	if err := h.srv.RestartEvents(ctx); err != nil {
		t.Fatalf("restart events: %v", err)
	}
	waitSubscribers(t, h.client, 1)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_ = h.srv.Shutdown(shutdownCtx)
}

func waitSubscribers(t *testing.T, client *protectedpay.FakeClient, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for client.Subscribers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", want, client.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionRefreshesBalance(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)

	var resp sessionResponse
	decode(t, h.get("/api/v1/session"), &resp)
	if resp.Connected {
		t.Fatalf("expected no session")
	}

	h.connect(t)
	h.balance.Set(big.NewInt(5e17))

	resp = sessionResponse{}
	decode(t, h.get("/api/v1/session"), &resp)
	if !resp.Connected || resp.Session == nil || resp.Session.Balance != "0.5" {
		t.Fatalf("expected refreshed balance 0.5, got %+v", resp.Session)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)

	if rec := h.get("/api/v1/health"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	h.client.Errors["Ping"] = errors.New("dial tcp: connection refused")
	rec := h.get("/api/v1/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	decode(t, rec, &resp)
	if resp.Status != "degraded" {
		t.Fatalf("expected degraded got %q", resp.Status)
	}
}

func TestMetricsCountWrites(t *testing.T) {
	h := newHarness(t, wallet.AutoApprove)
	h.connect(t)
	h.post(t, "/api/v1/users/register", "r-1", registerRequest{Username: "alice"})
	h.post(t, "/api/v1/users/register", "r-1", registerRequest{Username: "alice"})

	body := h.get("/api/v1/metrics").Body.String()
	for _, want := range []string{
		`protectedpay_writes_total{operation="register",result="confirmed"} 1`,
		`protectedpay_idempotent_hits_total{result="replayed"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}
