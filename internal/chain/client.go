package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/0gfoundation/veristas-relay/internal/config"
	"github.com/0gfoundation/veristas-relay/internal/operator"
)

// DefaultInclusionTimeout bounds WaitIncluded when no timeout is configured.
const DefaultInclusionTimeout = 120 * time.Second

// Backend is the subset of the go-ethereum client API the relay uses.
// *ethclient.Client and simulated.Client both satisfy it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client is the single ledger collaborator of the relay. It owns the
// operating account and serializes every transaction sent from it.
type Client struct {
	backend Backend
	account *operator.Account
	chainID *big.Int
	timeout time.Duration
	log     *zap.Logger

	mu        sync.Mutex // guards nextNonce/haveNonce and the send path
	nextNonce uint64
	haveNonce bool
}

// Dial connects to the configured RPC endpoint and checks that it serves the
// configured chain.
func Dial(ctx context.Context, cfg config.ChainConfig, acct *operator.Account, log *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c, err := NewClient(ctx, eth, acct, time.Duration(cfg.InclusionTimeoutSec)*time.Second, log)
	if err != nil {
		eth.Close()
		return nil, err
	}
	if cfg.ChainID != 0 && c.chainID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain id mismatch: rpc reports %s, config has %d", c.chainID, cfg.ChainID)
	}
	return c, nil
}

// NewClient wraps an existing backend. A zero timeout selects
// DefaultInclusionTimeout.
func NewClient(ctx context.Context, backend Backend, acct *operator.Account, timeout time.Duration, log *zap.Logger) (*Client, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("ChainID: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultInclusionTimeout
	}
	return &Client{
		backend: backend,
		account: acct,
		chainID: chainID,
		timeout: timeout,
		log:     log,
	}, nil
}

// Address returns the operating account address.
func (c *Client) Address() common.Address { return c.account.Address }

// ChainID returns the chain ID reported by the RPC endpoint.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Balance returns the operating account balance at the latest block.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, c.account.Address, nil)
	if err != nil {
		return nil, fmt.Errorf("BalanceAt: %w", err)
	}
	return bal, nil
}

// Call performs a read-only eth_call against the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.backend.CallContract(ctx, ethereum.CallMsg{
		From: c.account.Address,
		To:   &to,
		Data: data,
	}, nil)
}

// Broadcast signs and sends a transaction from the operating account.
// Sends are serialized so two concurrent callers never pick the same
// sequence number.
func (c *Client) Broadcast(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.account.Address
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("PendingNonceAt: %w", err)
	}
	if c.haveNonce && c.nextNonce > nonce {
		nonce = c.nextNonce
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	unsigned, err := c.buildTx(ctx, nonce, to, value, gas, data)
	if err != nil {
		return nil, err
	}
	tx, err := types.SignTx(unsigned, types.LatestSignerForChainID(c.chainID), c.account.Key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		// The node may have seen a different view of our nonce; re-read next time.
		c.haveNonce = false
		return nil, fmt.Errorf("send tx: %w", err)
	}
	c.nextNonce = nonce + 1
	c.haveNonce = true

	c.log.Debug("tx broadcast",
		zap.String("tx", tx.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gas),
	)
	return tx, nil
}

// buildTx picks dynamic fees when the chain reports a base fee and falls
// back to a legacy gas price otherwise. maxFee = 2*baseFee + tip.
func (c *Client) buildTx(ctx context.Context, nonce uint64, to common.Address, value *big.Int, gas uint64, data []byte) (*types.Transaction, error) {
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("HeaderByNumber: %w", err)
	}

	if head.BaseFee == nil {
		price, err := c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("SuggestGasPrice: %w", err)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    value,
			Gas:      gas,
			GasPrice: price,
			Data:     data,
		}), nil
	}

	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("SuggestGasTipCap: %w", err)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		To:        &to,
		Value:     value,
		Gas:       gas,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      data,
	}), nil
}

// WaitIncluded blocks until tx has one confirmation. The receipt is returned
// whatever its status; callers decide what a revert means for them.
func (c *Client) WaitIncluded(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.backend, tx)
	if err != nil {
		// Only our own deadline is an inclusion timeout; a caller that gave
		// up first gets its context error.
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("wait mined %s: %w", tx.Hash().Hex(), cerr)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{TxHash: tx.Hash(), Timeout: c.timeout}
		}
		return nil, fmt.Errorf("wait mined: %w", err)
	}
	return receipt, nil
}
