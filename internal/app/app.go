// Package app assembles the review pipeline from configuration. Both the
// relay server and the operator CLI build their components here.
package app

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0gfoundation/veristas-relay/internal/attest"
	"github.com/0gfoundation/veristas-relay/internal/config"
	"github.com/0gfoundation/veristas-relay/internal/entrypoint"
	"github.com/0gfoundation/veristas-relay/internal/events"
	"github.com/0gfoundation/veristas-relay/internal/ftso"
	"github.com/0gfoundation/veristas-relay/internal/metrics"
	"github.com/0gfoundation/veristas-relay/internal/reward"
	"github.com/0gfoundation/veristas-relay/internal/userop"
)

// Ledger is the union of what the pipeline components need. chain.Client
// satisfies it.
type Ledger interface {
	Address() common.Address
	ChainID() *big.Int
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	Broadcast(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error)
	WaitIncluded(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Extras are the optional collaborators. Zero values select in-process
// defaults.
type Extras struct {
	Guard     entrypoint.Guard
	Publisher events.Publisher
	Metrics   *metrics.Metrics
}

type App struct {
	EntryPoint common.Address
	ChainID    *big.Int
	Resolver   *entrypoint.Resolver
	Assembler  *userop.Assembler
	Submitter  *entrypoint.Submitter
	Committer  *attest.Committer
	Prices     *ftso.Client
	Service    *reward.Service
}

// New builds every pipeline component on top of ledger.
func New(cfg *config.Config, ledger Ledger, extras Extras, log *zap.Logger) (*App, error) {
	entryPoint, err := parseAddress("ENTRY_POINT_ADDRESS", cfg.EntryPoint.Address, true)
	if err != nil {
		return nil, err
	}
	paymaster, err := parseAddress("PAYMASTER_ADDRESS", cfg.EntryPoint.PaymasterAddress, false)
	if err != nil {
		return nil, err
	}
	hub, err := parseAddress("FDC_HUB_ADDRESS", cfg.Attestation.HubAddress, false)
	if err != nil {
		return nil, err
	}
	ftsoAddr, err := parseAddress("FTSO_ADDRESS", cfg.FTSO.Address, true)
	if err != nil {
		return nil, err
	}
	feed, err := ftso.ParseFeedID(cfg.FTSO.FeedID)
	if err != nil {
		return nil, fmt.Errorf("invalid FTSO_FEED_ID: %w", err)
	}
	fee := new(big.Int)
	if cfg.Attestation.HubFee != "" {
		if _, ok := fee.SetString(cfg.Attestation.HubFee, 10); !ok || fee.Sign() < 0 {
			return nil, fmt.Errorf("invalid FDC_HUB_FEE %q", cfg.Attestation.HubFee)
		}
	}

	guard := extras.Guard
	if guard == nil {
		guard = entrypoint.NewMemoryGuard(entrypoint.DefaultClaimTTL)
	}

	a := &App{EntryPoint: entryPoint, ChainID: ledger.ChainID()}
	a.Resolver = entrypoint.NewResolver(ledger, entryPoint)
	a.Assembler = userop.NewAssembler(a.Resolver, paymaster, log.Named("userop"))
	a.Submitter = entrypoint.NewSubmitter(ledger, entryPoint, guard, log.Named("relay"))
	a.Committer = attest.NewCommitter(ledger, attest.Options{
		Hub:    hub,
		Submit: cfg.Attestation.SubmitToHub,
		Fee:    fee,
	}, log.Named("attest"))
	a.Prices = ftso.NewClient(ledger, ftsoAddr, feed, log.Named("ftso"))
	a.Service = reward.NewService(reward.Deps{
		Committer: a.Committer,
		Prices:    a.Prices,
		Assembler: a.Assembler,
		Submitter: a.Submitter,
		Publisher: extras.Publisher,
		Metrics:   extras.Metrics,
		ChainID:   a.ChainID,
	}, cfg.Reward.Amount, log.Named("reward"))
	return a, nil
}

func parseAddress(name, raw string, required bool) (common.Address, error) {
	if raw == "" {
		if required {
			return common.Address{}, fmt.Errorf("required config missing: %s", name)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s %q", name, raw)
	}
	return common.HexToAddress(raw), nil
}
