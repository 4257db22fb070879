package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/veristas-relay/internal/attest"
	"github.com/0gfoundation/veristas-relay/internal/auth"
	"github.com/0gfoundation/veristas-relay/internal/chain"
	"github.com/0gfoundation/veristas-relay/internal/chain/chaintest"
	"github.com/0gfoundation/veristas-relay/internal/entrypoint"
	"github.com/0gfoundation/veristas-relay/internal/ftso"
	"github.com/0gfoundation/veristas-relay/internal/reward"
	"github.com/0gfoundation/veristas-relay/internal/userop"
)

var (
	operatorAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	senderAddr   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func init() {
	gin.SetMode(gin.TestMode)
}

func word(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

// newRouter wires the real pipeline onto a stub ledger whose entry point
// reports nonce 7 and whose price feed reports 0.25.
func newRouter(t *testing.T, authMW gin.HandlerFunc) (*gin.Engine, *chaintest.Ledger) {
	t.Helper()
	ledger := chaintest.New(operatorAddr)
	ledger.CallFunc = func(to common.Address, _ []byte) ([]byte, error) {
		switch to {
		case entrypoint.DefaultAddress:
			return word(7), nil
		case ftso.DefaultAddress:
			out := append(word(25), word(2)...)
			return append(out, word(1_700_000_000)...), nil
		}
		return nil, errors.New("unexpected call")
	}

	log := zap.NewNop()
	resolver := entrypoint.NewResolver(ledger, entrypoint.DefaultAddress)
	assembler := userop.NewAssembler(resolver, common.Address{}, log)
	svc := reward.NewService(reward.Deps{
		Committer: attest.NewCommitter(ledger, attest.Options{}, log),
		Prices:    ftso.NewClient(ledger, ftso.DefaultAddress, ftso.FLRUSD, log),
		Assembler: assembler,
		Submitter: entrypoint.NewSubmitter(ledger, entrypoint.DefaultAddress, nil, log),
		ChainID:   ledger.ChainID(),
	}, reward.DefaultAmount, log)

	h := NewHandler(Options{
		Rewards:    svc,
		Preparer:   assembler,
		Nonces:     resolver,
		EntryPoint: entrypoint.DefaultAddress,
		ChainID:    ledger.ChainID(),
		Auth:       authMW,
	}, log)

	r := gin.New()
	r.Use(RequestID(log))
	h.Register(r.Group("/api"))
	return r, ledger
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return m
}

// ── Quote ─────────────────────────────────────────────────────────────────────

func TestQuoteReward(t *testing.T) {
	r, _ := newRouter(t, nil)
	w := do(r, http.MethodGet, "/api/quote-reward", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	want := `{"rewardAmount":10,"flrPrice":0.25,"priceSource":"ftso"}`
	if got := w.Body.String(); got != want {
		t.Errorf("got %s\nwant %s", got, want)
	}
}

// ── Verify and reward ─────────────────────────────────────────────────────────

func TestVerify_VerificationOnly(t *testing.T) {
	r, ledger := newRouter(t, nil)
	w := do(r, http.MethodPost, "/api/verify-and-reward", `{"reviewText":"Great service!"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	m := decode(t, w)
	if m["success"] != true || m["verificationOnly"] != true {
		t.Errorf("unexpected body: %v", m)
	}
	if m["message"] != reward.MessageVerificationOnly {
		t.Errorf("message = %v", m["message"])
	}
	att := m["attestation"].(map[string]any)
	if att["reviewHash"] != attest.ReviewHash("Great service!").Hex() {
		t.Errorf("reviewHash = %v", att["reviewHash"])
	}
	if _, ok := m["txHash"]; ok {
		t.Error("txHash should be absent without a user operation")
	}
	if n := len(ledger.Sent()); n != 1 {
		t.Errorf("sent %d txs, want 1 (commitment only)", n)
	}
}

func TestVerify_WithUserOp(t *testing.T) {
	r, ledger := newRouter(t, nil)
	body := fmt.Sprintf(`{"reviewText":"Great service!","userOp":{"sender":%q,"callData":"0xb61d27f6","signature":"0x"}}`, senderAddr.Hex())
	w := do(r, http.MethodPost, "/api/verify-and-reward", body)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	m := decode(t, w)
	if m["txHash"] == nil || m["receipt"] == nil || m["userOpHash"] == nil {
		t.Errorf("relay fields missing: %v", m)
	}
	sent := ledger.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d txs, want 2", len(sent))
	}
	if *sent[1].To() != entrypoint.DefaultAddress {
		t.Errorf("second tx to %s, want entry point", sent[1].To().Hex())
	}
}

func TestVerify_BadJSON(t *testing.T) {
	r, ledger := newRouter(t, nil)
	w := do(r, http.MethodPost, "/api/verify-and-reward", `{"reviewText":`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
	if ledger.Interactions() != 0 {
		t.Error("ledger touched on malformed body")
	}
}

func TestVerify_EmptyText400(t *testing.T) {
	r, ledger := newRouter(t, nil)
	w := do(r, http.MethodPost, "/api/verify-and-reward", `{"reviewText":"  "}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
	if decode(t, w)["error"] == "" {
		t.Error("error message missing")
	}
	if ledger.Interactions() != 0 {
		t.Error("ledger touched on empty text")
	}
}

func TestVerify_BadQuantity400(t *testing.T) {
	r, _ := newRouter(t, nil)
	body := fmt.Sprintf(`{"reviewText":"ok","userOp":{"sender":%q,"nonce":"-1"}}`, senderAddr.Hex())
	w := do(r, http.MethodPost, "/api/verify-and-reward", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestVerify_OversizedQuantity400(t *testing.T) {
	r, ledger := newRouter(t, nil)
	body := fmt.Sprintf(`{"reviewText":"ok","userOp":{"sender":%q,"callGasLimit":"0x1%s"}}`,
		senderAddr.Hex(), strings.Repeat("0", 64))
	w := do(r, http.MethodPost, "/api/verify-and-reward", body)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400: %s", w.Code, w.Body.String())
	}
	if n := ledger.Interactions(); n != 0 {
		t.Errorf("ledger interactions: got %d want 0", n)
	}
}

func TestVerify_CommitFailure500(t *testing.T) {
	r, ledger := newRouter(t, nil)
	ledger.BroadcastErr = map[common.Address]error{operatorAddr: errors.New("insufficient funds")}

	w := do(r, http.MethodPost, "/api/verify-and-reward", `{"reviewText":"ok"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", w.Code)
	}
	if msg, _ := decode(t, w)["error"].(string); !strings.Contains(msg, "insufficient funds") {
		t.Errorf("error = %q", msg)
	}
}

func TestVerify_Timeout504(t *testing.T) {
	r, ledger := newRouter(t, nil)
	ledger.WaitErr = &chain.TimeoutError{Timeout: time.Second}

	w := do(r, http.MethodPost, "/api/verify-and-reward", `{"reviewText":"ok"}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status %d, want 504", w.Code)
	}
}

func TestVerify_SignedReviewer(t *testing.T) {
	r, _ := newRouter(t, auth.Middleware(auth.NewMemoryNonces(), "verify-and-reward"))

	w := do(r, http.MethodPost, "/api/verify-and-reward", `{"reviewText":"ok"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned: status %d, want 401", w.Code)
	}

	key, _ := crypto.GenerateKey()
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()
	body := []byte(`{"reviewText":"ok"}`)
	headers, err := auth.BuildHeaders(body, "verify-and-reward", "n-1", time.Minute,
		func(msg []byte) ([]byte, error) { return auth.Sign(msg, key) }, wallet)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/verify-and-reward", bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("signed: status %d: %s", w.Code, w.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&reward.ValidationError{Reason: "x"}, http.StatusBadRequest},
		{&reward.StageError{Stage: "commit", Err: &chain.TimeoutError{}}, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&reward.StageError{Stage: "submit", Err: entrypoint.ErrReverted}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("%v: got %d want %d", tc.err, got, tc.want)
		}
	}
}

// ── User operation helpers ────────────────────────────────────────────────────

func TestPrepare(t *testing.T) {
	r, ledger := newRouter(t, nil)
	body := fmt.Sprintf(`{"sender":%q,"callData":"0xb61d27f6"}`, senderAddr.Hex())
	w := do(r, http.MethodPost, "/api/userop/prepare", body)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	m := decode(t, w)
	op := m["userOp"].(map[string]any)
	if op["nonce"] != "0x7" {
		t.Errorf("nonce = %v, want 0x7", op["nonce"])
	}
	if op["callData"] != "0xb61d27f6" || op["initCode"] != "0x" {
		t.Errorf("unexpected op: %v", op)
	}
	if m["userOpHash"] == nil {
		t.Error("userOpHash missing")
	}
	if len(ledger.Sent()) != 0 {
		t.Error("prepare must not broadcast")
	}
}

func TestPrepare_BadSender(t *testing.T) {
	r, _ := newRouter(t, nil)
	w := do(r, http.MethodPost, "/api/userop/prepare", `{"sender":"0x1234"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestNonce(t *testing.T) {
	r, _ := newRouter(t, nil)
	w := do(r, http.MethodGet, "/api/userop/nonce/"+senderAddr.Hex(), "")

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	m := decode(t, w)
	if m["nonce"] != "7" || m["sender"] != senderAddr.Hex() {
		t.Errorf("unexpected body: %v", m)
	}

	w = do(r, http.MethodGet, "/api/userop/nonce/not-an-address", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad sender: status %d, want 400", w.Code)
	}
}

// ── Request id ────────────────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	r, _ := newRouter(t, nil)

	w := do(r, http.MethodGet, "/api/quote-reward", "")
	if id := w.Header().Get(HeaderRequestID); len(id) != 26 {
		t.Errorf("generated id %q is not a ULID", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/quote-reward", nil)
	req.Header.Set(HeaderRequestID, "caller-id")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(HeaderRequestID); got != "caller-id" {
		t.Errorf("got %q, want caller-id", got)
	}
}
