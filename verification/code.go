// Package verification decides whether the GreenDish contract is deployed on
// the connected chain and how well it matches the expected interface.
package verification

import (
	"context"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/greendish/clients"
	"github.com/vitwit/greendish/logger"
	"github.com/vitwit/greendish/metrics"
	"github.com/vitwit/greendish/types"
)

// CodeProbe checks for bytecode at an address. It never returns an error:
// every failure is folded into one of the three CodeProbeResult values.
type CodeProbe struct {
	fallback Fallback
	logger   logger.Logger
	metrics  metrics.Recorder
}

func NewCodeProbe(fallback Fallback, l logger.Logger, m metrics.Recorder) *CodeProbe {
	return &CodeProbe{
		fallback: fallback,
		logger:   logger.OrNoop(l),
		metrics:  metrics.OrNoop(m),
	}
}

// Probe asks provider for the code at address. Empty code or a failed query
// is double-checked against the network's own RPC endpoint:
//
//	primary non-empty                 -> Exists
//	primary empty/failed, fallback has code -> Indeterminate
//	both empty                        -> NotDeployed
//
// A failed fallback counts as inconclusive.
func (p *CodeProbe) Probe(
	ctx context.Context,
	provider clients.Provider,
	network types.NetworkDescriptor,
	address common.Address,
) types.CodeProbeResult {
	start := time.Now()
	chain := strconv.FormatUint(network.ChainID, 10)
	log := p.logger.With(map[string]any{"chain_id": network.ChainID, "address": address.Hex()})

	result := p.probe(ctx, provider, network, address, log)

	p.metrics.IncCounter(metrics.EventCodeProbe, map[string]string{"result": string(result), "chain_id": chain})
	p.metrics.ObserveLatency(metrics.EventCodeProbe, time.Since(start), map[string]string{"chain_id": chain})
	log.Debug("code probe finished", map[string]any{"result": string(result)})
	return result
}

func (p *CodeProbe) probe(
	ctx context.Context,
	provider clients.Provider,
	network types.NetworkDescriptor,
	address common.Address,
	log logger.Logger,
) types.CodeProbeResult {
	var (
		code       []byte
		primaryErr error
	)
	if provider == nil {
		primaryErr = errNoProvider
	} else {
		code, primaryErr = provider.CodeAt(ctx, address)
	}
	if primaryErr == nil && len(code) > 0 {
		return types.CodeExists
	}
	if primaryErr != nil {
		log.Warn("primary code query failed", map[string]any{"error": primaryErr})
	}

	if p.fallback == nil {
		return primaryOnly(primaryErr)
	}

	p.metrics.IncCounter(metrics.EventFallbackUsed, map[string]string{"chain_id": strconv.FormatUint(network.ChainID, 10)})
	fallbackCode, err := p.fallback.GetCode(ctx, network, address)
	switch {
	case err != nil:
		log.Warn("fallback code query inconclusive", map[string]any{"error": err})
		return primaryOnly(primaryErr)
	case len(fallbackCode) > 0:
		log.Warn("provider reports no code but network RPC does", map[string]any{"bytes": len(fallbackCode)})
		return types.CodeIndeterminate
	default:
		return types.CodeNotDeployed
	}
}

// primaryOnly is the verdict when the fallback could not contribute.
func primaryOnly(primaryErr error) types.CodeProbeResult {
	if primaryErr != nil {
		return types.CodeIndeterminate
	}
	return types.CodeNotDeployed
}
