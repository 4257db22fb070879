package chain_test

// Exercises chain.Client against the in-process go-ethereum simulated
// backend. No external node is needed.

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"go.uber.org/zap"

	"github.com/0gfoundation/veristas-relay/internal/chain"
	"github.com/0gfoundation/veristas-relay/internal/operator"
)

// ── test keys (Anvil default accounts) ────────────────────────────────────────

const (
	operatorKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	otherKeyHex    = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

// The go-ethereum simulated backend always uses chainID 1337.
var simChainID = big.NewInt(1337)

// ── helpers ───────────────────────────────────────────────────────────────────

func newSimClient(t *testing.T, timeout time.Duration) (*chain.Client, *simulated.Backend, *operator.Account) {
	t.Helper()

	acct, err := operator.FromHex(operatorKeyHex)
	if err != nil {
		t.Fatalf("operator key: %v", err)
	}
	balance, _ := new(big.Int).SetString("1000000000000000000000", 10)
	backend := simulated.NewBackend(types.GenesisAlloc{
		acct.Address: {Balance: balance},
	}, simulated.WithBlockGasLimit(30_000_000))
	t.Cleanup(func() { backend.Close() })

	c, err := chain.NewClient(context.Background(), backend.Client(), acct, timeout, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, backend, acct
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestNewClient_ChainID(t *testing.T) {
	c, _, acct := newSimClient(t, 0)
	if c.ChainID().Cmp(simChainID) != 0 {
		t.Errorf("chain id: got %s want %s", c.ChainID(), simChainID)
	}
	if c.Address() != acct.Address {
		t.Errorf("address: got %s want %s", c.Address().Hex(), acct.Address.Hex())
	}
}

func TestBalance(t *testing.T) {
	c, _, _ := newSimClient(t, 0)
	bal, err := c.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	want, _ := new(big.Int).SetString("1000000000000000000000", 10)
	if bal.Cmp(want) != 0 {
		t.Errorf("balance: got %s want %s", bal, want)
	}
}

func TestBroadcast_SelfTxIncluded(t *testing.T) {
	ctx := context.Background()
	c, backend, acct := newSimClient(t, 5*time.Second)

	payload := common.HexToHash("0xabcdef").Bytes()
	tx, err := c.Broadcast(ctx, acct.Address, big.NewInt(0), payload)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	backend.Commit()

	receipt, err := c.WaitIncluded(ctx, tx)
	if err != nil {
		t.Fatalf("WaitIncluded: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.Errorf("status: got %d want 1", receipt.Status)
	}
	if receipt.TxHash != tx.Hash() {
		t.Errorf("tx hash: got %s want %s", receipt.TxHash.Hex(), tx.Hash().Hex())
	}
	if receipt.BlockNumber == nil || receipt.BlockNumber.Sign() == 0 {
		t.Errorf("block number: got %v", receipt.BlockNumber)
	}

	mined, _, err := backend.Client().TransactionByHash(ctx, tx.Hash())
	if err != nil {
		t.Fatalf("TransactionByHash: %v", err)
	}
	if !bytes.Equal(mined.Data(), payload) {
		t.Errorf("data: got %x want %x", mined.Data(), payload)
	}
	if *mined.To() != acct.Address {
		t.Errorf("to: got %s want self", mined.To().Hex())
	}
	if mined.Type() != types.DynamicFeeTxType {
		t.Errorf("tx type: got %d want dynamic fee", mined.Type())
	}
}

func TestBroadcast_SequentialNonces(t *testing.T) {
	ctx := context.Background()
	c, _, acct := newSimClient(t, 0)

	for want := uint64(0); want < 3; want++ {
		tx, err := c.Broadcast(ctx, acct.Address, nil, nil)
		if err != nil {
			t.Fatalf("Broadcast %d: %v", want, err)
		}
		if tx.Nonce() != want {
			t.Errorf("nonce: got %d want %d", tx.Nonce(), want)
		}
	}
}

func TestBroadcast_ConcurrentNoncesDistinct(t *testing.T) {
	ctx := context.Background()
	c, backend, acct := newSimClient(t, 5*time.Second)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[uint64]bool{}
		txs  []*types.Transaction
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := c.Broadcast(ctx, acct.Address, nil, []byte{0x01})
			if err != nil {
				t.Errorf("Broadcast: %v", err)
				return
			}
			mu.Lock()
			seen[tx.Nonce()] = true
			txs = append(txs, tx)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("distinct nonces: got %d want %d", len(seen), n)
	}
	backend.Commit()
	for _, tx := range txs {
		if _, err := c.WaitIncluded(ctx, tx); err != nil {
			t.Errorf("WaitIncluded %s: %v", tx.Hash().Hex(), err)
		}
	}
}

func TestWaitIncluded_Timeout(t *testing.T) {
	ctx := context.Background()
	c, _, acct := newSimClient(t, 50*time.Millisecond)

	tx, err := c.Broadcast(ctx, acct.Address, nil, nil)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	// No Commit: the tx stays pending.
	_, err = c.WaitIncluded(ctx, tx)

	var te *chain.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected *chain.TimeoutError, got %v", err)
	}
	if te.TxHash != tx.Hash() {
		t.Errorf("timeout tx: got %s want %s", te.TxHash.Hex(), tx.Hash().Hex())
	}
}

func TestWaitIncluded_CallerDeadline(t *testing.T) {
	c, _, acct := newSimClient(t, time.Minute)

	tx, err := c.Broadcast(context.Background(), acct.Address, nil, nil)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.WaitIncluded(ctx, tx)

	var te *chain.TimeoutError
	if errors.As(err, &te) {
		t.Fatalf("caller deadline reported as inclusion timeout: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestBroadcast_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newSimClient(t, 0)

	other, err := operator.FromHex(otherKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	huge, _ := new(big.Int).SetString("1000000000000000000000000", 10)
	if _, err := c.Broadcast(ctx, other.Address, huge, nil); err == nil {
		t.Fatal("expected error sending more than the balance")
	}
}

func TestCall_NoCode(t *testing.T) {
	c, _, _ := newSimClient(t, 0)
	out, err := c.Call(context.Background(), common.HexToAddress("0x00000000000000000000000000000000000000ff"), []byte{0x12, 0x34, 0x56, 0x78})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("output: got %x want empty", out)
	}
}

func TestReadError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(&chain.ReadError{Contract: common.HexToAddress("0x01"), Method: "getNonce", Err: cause})
	if !errors.Is(err, cause) {
		t.Error("ReadError should unwrap to its cause")
	}
}
