// Package registration submits restaurant registrations to the GreenDish
// contract and waits for them to be mined.
package registration

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/greendish/clients"
	"github.com/vitwit/greendish/contract"
	"github.com/vitwit/greendish/logger"
	"github.com/vitwit/greendish/metrics"
	"github.com/vitwit/greendish/types"
	"github.com/vitwit/greendish/utils"
)

// Binding is the live session state a registration runs against.
type Binding struct {
	Account  common.Address
	ChainID  uint64
	Contract *contract.GreenDish
	Provider clients.Provider
}

// Source hands out the current Binding, or a GreenDishError explaining why
// there is none.
type Source interface {
	Binding() (Binding, error)
}

// Registrar submits restaurant registrations.
type Registrar interface {
	Register(ctx context.Context, reg types.RestaurantRegistration) (*types.RegistrationResult, error)
}

// Service manages restaurant registration against the session's contract
type Service struct {
	source       Source
	logger       logger.Logger
	metrics      metrics.Recorder
	timeout      time.Duration
	pollInterval time.Duration
}

type Option func(*Service)

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = logger.OrNoop(l) }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Service) { s.metrics = metrics.OrNoop(m) }
}

// WithTimeout bounds the whole registration including the receipt wait.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Service) { s.pollInterval = d }
}

// NewService creates a new registration service
func NewService(source Source, opts ...Option) *Service {
	s := &Service{
		source:       source,
		logger:       logger.NoopLogger{},
		metrics:      metrics.NoopRecorder{},
		timeout:      2 * time.Minute,
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates reg, checks the contract is deployed, submits
// restaurantRegister and waits for the receipt. Every failure is returned as
// a single *types.GreenDishError.
func (s *Service) Register(ctx context.Context, reg types.RestaurantRegistration) (*types.RegistrationResult, error) {
	start := time.Now()
	result, err := s.register(ctx, reg)

	labels := map[string]string{"result": "success"}
	if result != nil {
		labels["chain_id"] = strconv.FormatUint(result.ChainID, 10)
	}
	if err != nil {
		labels["result"] = errorCode(err)
	}
	s.metrics.IncCounter(metrics.EventRegistration, labels)
	s.metrics.ObserveLatency(metrics.EventRegistration, time.Since(start), labels)

	if err != nil {
		s.logger.Error("restaurant registration failed", map[string]any{"error": err})
		return nil, err
	}
	s.logger.Info("restaurant registered", map[string]any{
		"tx_hash":  result.TxHash,
		"block":    result.BlockNumber,
		"chain_id": result.ChainID,
	})
	return result, nil
}

func (s *Service) register(ctx context.Context, reg types.RestaurantRegistration) (*types.RegistrationResult, error) {
	// Create timeout context
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := utils.ValidateStruct(&reg, types.ErrInvalidRegistration); err != nil {
		return nil, err
	}

	if s.source == nil {
		return nil, types.NewError(types.ErrWalletNotInstalled, "Wallet not connected. Please connect your wallet first.", nil)
	}
	b, err := s.source.Binding()
	if err != nil {
		return nil, contract.ClassifyTxError(err)
	}
	if b.Contract == nil {
		return nil, types.NewError(types.ErrContractNotDeployed,
			"Contract not connected. Please make sure you're on the correct network.", nil)
	}

	if err := preflight(ctx, b.Contract); err != nil {
		return nil, err
	}

	priceWei, err := utils.ToWei(reg.DishPrice)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRegistration, "Failed to convert price to wei", err)
	}

	hash, err := b.Contract.Register(ctx, b.Account, contract.RegisterArgs{
		RestaurantName:    reg.RestaurantName,
		SupplySource:      reg.SupplySource,
		SupplyDetails:     reg.SupplyDetails,
		DishName:          reg.DishName,
		DishMainComponent: reg.DishMainComponent,
		DishCarbonCredits: new(big.Int).SetUint64(reg.DishCarbonCredits),
		DishPriceWei:      priceWei,
	})
	if err != nil {
		return nil, contract.ClassifyTxError(err)
	}
	s.logger.Info("registration submitted", map[string]any{"tx_hash": hash.Hex(), "chain_id": b.ChainID})

	receipt, err := s.WaitForReceipt(ctx, b.Provider, hash)
	if err != nil {
		return nil, err
	}
	if receipt.Status == 0 {
		return nil, types.NewError(types.ErrTransactionReverted,
			fmt.Sprintf("Transaction %s reverted", hash.Hex()), nil)
	}

	return &types.RegistrationResult{
		TxHash:      hash.Hex(),
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
		ChainID:     b.ChainID,
	}, nil
}

// preflight refuses to submit against an address without code.
func preflight(ctx context.Context, g *contract.GreenDish) error {
	code, err := g.Code(ctx)
	if err != nil {
		return types.NewError(types.ErrNetworkMismatch,
			fmt.Sprintf("Could not verify contract at %s. Please check your network connection.", g.Address().Hex()), err)
	}
	if len(code) == 0 {
		return types.NewError(types.ErrContractNotDeployed,
			fmt.Sprintf("No contract found at %s on current network.", g.Address().Hex()), nil)
	}
	return nil
}

// WaitForReceipt polls until hash is mined or ctx is done.
func (s *Service) WaitForReceipt(ctx context.Context, provider clients.Provider, hash common.Hash) (*clients.Receipt, error) {
	if provider == nil {
		return nil, types.NewError(types.ErrTransactionFailed, "no provider to wait for receipt", nil)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := provider.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			s.logger.Warn("receipt query failed", map[string]any{"tx_hash": hash.Hex(), "error": err})
		}

		select {
		case <-ctx.Done():
			return nil, types.NewError(types.ErrTransactionFailed,
				fmt.Sprintf("Transaction %s not mined", hash.Hex()), ctx.Err())
		case <-ticker.C:
		}
	}
}

func errorCode(err error) string {
	var gde *types.GreenDishError
	if errors.As(err, &gde) {
		return gde.Code
	}
	return types.ErrTransactionFailed
}
