// Package ftso reads reference prices from the Flare FTSOv2 contract.
package ftso

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// DefaultAddress is FtsoV2 on Coston2.
	DefaultAddress = common.HexToAddress("0x3d893C53D9e8056135C26C8c638B76C8b60Df726")
	// FLRUSD is the FLR/USD feed id (category 0x01, "FLR/USD").
	FLRUSD = MustFeedID("0x01464c522f55534400000000000000000000000000")
)

const (
	SourceFTSO     = "ftso"
	SourceFallback = "fallback"
)

// Fallback is served whenever the feed cannot be read. Price is advisory,
// so a failed read never propagates.
func Fallback() Quote {
	return Quote{
		Price:    decimal.RequireFromString("0.015"),
		Decimals: 5,
		Raw:      "1500",
		Source:   SourceFallback,
	}
}

const ftsoABIJSON = `[
  {"type":"function","name":"getFeedById","stateMutability":"payable",
   "inputs":[{"name":"_feedId","type":"bytes21"}],
   "outputs":[{"name":"_value","type":"uint256"},{"name":"_decimals","type":"int8"},{"name":"_timestamp","type":"uint64"}]}
]`

var ftsoABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(ftsoABIJSON))
	if err != nil {
		panic(fmt.Sprintf("ftso: parse abi: %v", err))
	}
	return parsed
}()

// FeedID is an FTSOv2 bytes21 feed identifier.
type FeedID [21]byte

// ParseFeedID decodes a 0x-prefixed 21-byte hex id.
func ParseFeedID(s string) (FeedID, error) {
	var id FeedID
	raw, err := hexutil.Decode(s)
	if err != nil {
		return id, fmt.Errorf("feed id %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("feed id %q: want 21 bytes, got %d", s, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func MustFeedID(s string) FeedID {
	id, err := ParseFeedID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Quote is a point-in-time price read. It is never cached.
type Quote struct {
	Price     decimal.Decimal
	Decimals  int8
	Raw       string
	Timestamp uint64
	Source    string
}

func (q Quote) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Price     json.Number `json:"price"`
		Decimals  int8        `json:"decimals"`
		Raw       string      `json:"raw"`
		Timestamp uint64      `json:"timestamp,omitempty"`
		Source    string      `json:"source"`
	}{
		Price:     json.Number(q.Price.String()),
		Decimals:  q.Decimals,
		Raw:       q.Raw,
		Timestamp: q.Timestamp,
		Source:    q.Source,
	})
}

// Caller performs read-only contract calls.
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

type Client struct {
	ledger  Caller
	address common.Address
	feed    FeedID
	log     *zap.Logger
}

func NewClient(ledger Caller, address common.Address, feed FeedID, log *zap.Logger) *Client {
	return &Client{ledger: ledger, address: address, feed: feed, log: log}
}

// GetPrice reads the configured feed. On any failure it logs and returns
// Fallback().
func (c *Client) GetPrice(ctx context.Context) Quote {
	q, err := c.read(ctx)
	if err != nil {
		c.log.Warn("ftso read failed, serving fallback price",
			zap.String("contract", c.address.Hex()),
			zap.String("feed", hexutil.Encode(c.feed[:])),
			zap.Error(err),
		)
		return Fallback()
	}
	c.log.Debug("ftso price",
		zap.String("price", q.Price.String()),
		zap.Uint64("timestamp", q.Timestamp),
	)
	return q
}

func (c *Client) read(ctx context.Context) (Quote, error) {
	data, err := ftsoABI.Pack("getFeedById", c.feed)
	if err != nil {
		return Quote{}, fmt.Errorf("pack getFeedById: %w", err)
	}
	out, err := c.ledger.Call(ctx, c.address, data)
	if err != nil {
		return Quote{}, fmt.Errorf("getFeedById: %w", err)
	}
	vals, err := ftsoABI.Unpack("getFeedById", out)
	if err != nil {
		return Quote{}, fmt.Errorf("unpack getFeedById: %w", err)
	}
	value, ok1 := vals[0].(*big.Int)
	decimals, ok2 := vals[1].(int8)
	ts, ok3 := vals[2].(uint64)
	if !ok1 || !ok2 || !ok3 {
		return Quote{}, fmt.Errorf("unexpected getFeedById output types %T %T %T", vals[0], vals[1], vals[2])
	}
	return Quote{
		Price:     decimal.NewFromBigInt(value, -int32(decimals)),
		Decimals:  decimals,
		Raw:       value.String(),
		Timestamp: ts,
		Source:    SourceFTSO,
	}, nil
}
