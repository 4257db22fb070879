package userop

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ── mock nonce source ─────────────────────────────────────────────────────────

type mockNonces struct {
	values map[common.Address]int64
	err    error
	calls  int
}

func (m *mockNonces) GetNonce(_ context.Context, sender common.Address, key *big.Int) (*big.Int, error) {
	m.calls++
	if key.Sign() != 0 {
		return nil, errors.New("unexpected nonce key")
	}
	if m.err != nil {
		return nil, m.err
	}
	return big.NewInt(m.values[sender]), nil
}

var testPaymaster = common.HexToAddress("0x3333333333333333333333333333333333333333")

// ── Prepare ───────────────────────────────────────────────────────────────────

func TestPrepare_Defaults(t *testing.T) {
	nonces := &mockNonces{values: map[common.Address]int64{testSender: 4}}
	a := NewAssembler(nonces, common.Address{}, zap.NewNop())

	callData := []byte{0x01, 0x02}
	op, err := a.Prepare(context.Background(), testSender, callData, nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if op.Nonce.Int64() != 4 {
		t.Errorf("nonce: got %s want 4", op.Nonce)
	}
	checks := []struct {
		name string
		got  *big.Int
		want int64
	}{
		{"callGasLimit", op.CallGasLimit, 100_000},
		{"verificationGasLimit", op.VerificationGasLimit, 150_000},
		{"preVerificationGas", op.PreVerificationGas, 50_000},
		{"maxFeePerGas", op.MaxFeePerGas, 300_000_000_000},
		{"maxPriorityFeePerGas", op.MaxPriorityFeePerGas, 50_000_000_000},
	}
	for _, c := range checks {
		if c.got.Int64() != c.want {
			t.Errorf("%s: got %s want %d", c.name, c.got, c.want)
		}
	}
	if !bytes.Equal(op.CallData, callData) {
		t.Errorf("callData: got %x", op.CallData)
	}
	if len(op.InitCode) != 0 || len(op.PaymasterAndData) != 0 || len(op.Signature) != 0 {
		t.Error("initCode, paymasterAndData and signature should be empty")
	}

	// Defaults are copies.
	op.CallGasLimit.SetInt64(1)
	if DefaultCallGasLimit.Int64() != 100_000 {
		t.Fatal("Prepare leaked the policy constant")
	}
}

func TestPrepare_Paymaster(t *testing.T) {
	a := NewAssembler(&mockNonces{}, testPaymaster, zap.NewNop())
	op, err := a.Prepare(context.Background(), testSender, nil, []byte{0xfe})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !bytes.Equal(op.PaymasterAndData, testPaymaster.Bytes()) {
		t.Errorf("paymasterAndData: got %x want %x", op.PaymasterAndData, testPaymaster.Bytes())
	}
	if !bytes.Equal(op.InitCode, []byte{0xfe}) {
		t.Errorf("initCode: got %x", op.InitCode)
	}
}

func TestPrepare_NonceErrorPropagates(t *testing.T) {
	cause := errors.New("rpc down")
	a := NewAssembler(&mockNonces{err: cause}, common.Address{}, zap.NewNop())
	if _, err := a.Prepare(context.Background(), testSender, nil, nil); !errors.Is(err, cause) {
		t.Fatalf("expected rpc error, got %v", err)
	}
}

// ── Monotonicity ──────────────────────────────────────────────────────────────

func TestResolveNonce_NeverDecreases(t *testing.T) {
	nonces := &mockNonces{values: map[common.Address]int64{testSender: 5}}
	a := NewAssembler(nonces, common.Address{}, zap.NewNop())
	ctx := context.Background()

	var last int64 = -1
	// The node view moves backwards (reorg or lagging replica).
	for _, onchain := range []int64{5, 6, 3, 6, 2, 9} {
		nonces.values[testSender] = onchain
		op, err := a.Prepare(ctx, testSender, nil, nil)
		if err != nil {
			t.Fatalf("Prepare: %v", err)
		}
		if op.Nonce.Int64() < last {
			t.Fatalf("nonce went backwards: %d after %d", op.Nonce.Int64(), last)
		}
		last = op.Nonce.Int64()
	}
	if last != 9 {
		t.Errorf("final nonce: got %d want 9", last)
	}
}

func TestAdvance_SkipsIncludedNonce(t *testing.T) {
	nonces := &mockNonces{values: map[common.Address]int64{testSender: 0}}
	a := NewAssembler(nonces, common.Address{}, zap.NewNop())
	ctx := context.Background()

	op, err := a.Prepare(ctx, testSender, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	a.Advance(testSender, op.Nonce)

	// Node still reports 0.
	next, err := a.Prepare(ctx, testSender, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if next.Nonce.Int64() != 1 {
		t.Errorf("nonce after advance: got %s want 1", next.Nonce)
	}

	// Advancing with an older nonce never lowers the floor.
	a.Advance(testSender, big.NewInt(0))
	again, _ := a.Prepare(ctx, testSender, nil, nil)
	if again.Nonce.Int64() != 1 {
		t.Errorf("nonce after stale advance: got %s want 1", again.Nonce)
	}
}

func TestResolveNonce_PerSender(t *testing.T) {
	other := common.HexToAddress("0x4444444444444444444444444444444444444444")
	nonces := &mockNonces{values: map[common.Address]int64{testSender: 10, other: 1}}
	a := NewAssembler(nonces, common.Address{}, zap.NewNop())

	if _, err := a.Prepare(context.Background(), testSender, nil, nil); err != nil {
		t.Fatal(err)
	}
	op, err := a.Prepare(context.Background(), other, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if op.Nonce.Int64() != 1 {
		t.Errorf("other sender nonce: got %s want 1", op.Nonce)
	}
}

// ── Complete ──────────────────────────────────────────────────────────────────

func TestComplete_FillsMissing(t *testing.T) {
	nonces := &mockNonces{values: map[common.Address]int64{testSender: 3}}
	a := NewAssembler(nonces, testPaymaster, zap.NewNop())

	p := &Partial{Sender: testSender.Hex()}
	op, err := a.Complete(context.Background(), p)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if op.Nonce.Int64() != 3 {
		t.Errorf("nonce: got %s want 3", op.Nonce)
	}
	if op.VerificationGasLimit.Int64() != 150_000 {
		t.Errorf("verificationGasLimit: got %s", op.VerificationGasLimit)
	}
	if !bytes.Equal(op.PaymasterAndData, testPaymaster.Bytes()) {
		t.Errorf("paymasterAndData: got %x", op.PaymasterAndData)
	}
	if !op.Complete() {
		t.Error("completed op should have every quantity set")
	}
}

func TestComplete_PassThrough(t *testing.T) {
	nonces := &mockNonces{}
	a := NewAssembler(nonces, testPaymaster, zap.NewNop())

	sig := Bytes{0xaa, 0xbb}
	noPaymaster := Bytes{}
	p := &Partial{
		Sender:           testSender.Hex(),
		Nonce:            NewQuantity(big.NewInt(42)),
		CallGasLimit:     NewQuantity(big.NewInt(7)),
		Signature:        &sig,
		PaymasterAndData: &noPaymaster,
	}
	op, err := a.Complete(context.Background(), p)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if nonces.calls != 0 {
		t.Errorf("nonce source called %d times for a caller-supplied nonce", nonces.calls)
	}
	if op.Nonce.Int64() != 42 || op.CallGasLimit.Int64() != 7 {
		t.Errorf("overrides lost: nonce=%s callGasLimit=%s", op.Nonce, op.CallGasLimit)
	}
	if !bytes.Equal(op.Signature, []byte{0xaa, 0xbb}) {
		t.Errorf("signature: got %x", op.Signature)
	}
	if len(op.PaymasterAndData) != 0 {
		t.Errorf("explicit empty paymasterAndData replaced: %x", op.PaymasterAndData)
	}
}
