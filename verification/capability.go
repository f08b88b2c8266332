package verification

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/greendish/logger"
	"github.com/vitwit/greendish/metrics"
	"github.com/vitwit/greendish/types"
)

var errNoProvider = errors.New("no provider")

// ContractReader is the read surface the capability probe exercises.
type ContractReader interface {
	// AreTokenRewardsAvailable is the method only a GreenDish contract has.
	AreTokenRewardsAvailable(ctx context.Context) (bool, error)
	Owner(ctx context.Context) (common.Address, error)
	TotalSupply(ctx context.Context) (*big.Int, error)
}

// CapabilityProbe classifies a deployed contract by which reads succeed.
type CapabilityProbe struct {
	logger  logger.Logger
	metrics metrics.Recorder
}

func NewCapabilityProbe(l logger.Logger, m metrics.Recorder) *CapabilityProbe {
	return &CapabilityProbe{logger: logger.OrNoop(l), metrics: metrics.OrNoop(m)}
}

// Probe runs the reads one after another. A failing read only clears its own
// flag; a nil reader yields an all-false report.
func (p *CapabilityProbe) Probe(ctx context.Context, reader ContractReader, chainID uint64) types.CapabilityReport {
	start := time.Now()
	var report types.CapabilityReport

	if reader != nil {
		if err := safeRead(func() error {
			_, err := reader.AreTokenRewardsAvailable(ctx)
			return err
		}); err == nil {
			report.HasExpectedReadMethod = true
		} else {
			p.logger.Debug("expected read failed", map[string]any{"error": err})
		}

		if err := safeRead(func() error {
			_, err := reader.Owner(ctx)
			return err
		}); err == nil {
			report.OwnerReadable = true
		} else {
			p.logger.Debug("owner read failed", map[string]any{"error": err})
		}

		if err := safeRead(func() error {
			_, err := reader.TotalSupply(ctx)
			return err
		}); err == nil {
			report.SupplyReadable = true
		} else {
			p.logger.Debug("supply read failed", map[string]any{"error": err})
		}
	}

	chain := strconv.FormatUint(chainID, 10)
	p.metrics.IncCounter(metrics.EventCapabilityProbe, map[string]string{
		"result":   string(report.Compatibility()),
		"chain_id": chain,
	})
	p.metrics.ObserveLatency(metrics.EventCapabilityProbe, time.Since(start), map[string]string{"chain_id": chain})
	return report
}

// safeRead turns a panicking read into an error.
func safeRead(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read panicked: %v", r)
		}
	}()
	return fn()
}
