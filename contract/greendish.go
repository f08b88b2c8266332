// Package contract binds the GreenDish token contract over a clients.Provider.
package contract

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"

	"github.com/vitwit/greendish/clients"
	"github.com/vitwit/greendish/types"
	"github.com/vitwit/greendish/utils"
	"github.com/vitwit/greendish/wallet"
)

// DefaultAddress is where GreenDish is deployed on Axiomesh Gemini.
const DefaultAddress = "0x6AB06cf2cC7caEd0689E5D914e060F8e014C62c0"

// DefaultGasLimit is the gas override sent with restaurantRegister.
const DefaultGasLimit uint64 = 3_000_000

const defaultTokenDecimals uint8 = 18

var (
	parsedABI abi.ABI
	parseOnce sync.Once
	parseErr  error
)

func greenDish() (abi.ABI, error) {
	parseOnce.Do(func() {
		parsedABI, parseErr = abi.JSON(strings.NewReader(greenDishABI))
	})
	return parsedABI, parseErr
}

// GreenDish is a contract handle bound to one provider. It is discarded
// whenever the session's account or chain changes.
type GreenDish struct {
	address  common.Address
	provider clients.Provider
	abi      abi.ABI
	gasLimit uint64
}

// Option configures a GreenDish handle.
type Option func(*GreenDish)

// WithGasLimit overrides the gas limit sent with writes. Zero lets the
// wallet estimate.
func WithGasLimit(gas uint64) Option {
	return func(g *GreenDish) { g.gasLimit = gas }
}

func New(address common.Address, provider clients.Provider, opts ...Option) (*GreenDish, error) {
	if provider == nil {
		return nil, fmt.Errorf("contract %s: nil provider", address.Hex())
	}
	parsed, err := greenDish()
	if err != nil {
		return nil, fmt.Errorf("parse GreenDish ABI: %w", err)
	}
	g := &GreenDish{
		address:  address,
		provider: provider,
		abi:      parsed,
		gasLimit: DefaultGasLimit,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *GreenDish) Address() common.Address { return g.address }

// Code returns the bytecode at the contract address.
func (g *GreenDish) Code(ctx context.Context) ([]byte, error) {
	return g.provider.CodeAt(ctx, g.address)
}

// call packs method, runs eth_call and unpacks the single return value.
func (g *GreenDish) call(ctx context.Context, method string, args ...any) (any, error) {
	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := g.provider.CallContract(ctx, ethereum.CallMsg{To: &g.address, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	values, err := g.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s: expected 1 return value, got %d", method, len(values))
	}
	return values[0], nil
}

func callAs[T any](ctx context.Context, g *GreenDish, method string, args ...any) (T, error) {
	var zero T
	v, err := g.call(ctx, method, args...)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected return type %T", method, v)
	}
	return out, nil
}

func (g *GreenDish) AreTokenRewardsAvailable(ctx context.Context) (bool, error) {
	return callAs[bool](ctx, g, "areTokenRewardsAvailable")
}

func (g *GreenDish) GetRemainingTokenSupply(ctx context.Context) (*big.Int, error) {
	return callAs[*big.Int](ctx, g, "getRemainingTokenSupply")
}

func (g *GreenDish) Owner(ctx context.Context) (common.Address, error) {
	return callAs[common.Address](ctx, g, "owner")
}

func (g *GreenDish) Name(ctx context.Context) (string, error) {
	return callAs[string](ctx, g, "name")
}

func (g *GreenDish) Symbol(ctx context.Context) (string, error) {
	return callAs[string](ctx, g, "symbol")
}

func (g *GreenDish) Decimals(ctx context.Context) (uint8, error) {
	return callAs[uint8](ctx, g, "decimals")
}

func (g *GreenDish) TotalSupply(ctx context.Context) (*big.Int, error) {
	return callAs[*big.Int](ctx, g, "totalSupply")
}

func (g *GreenDish) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return callAs[*big.Int](ctx, g, "balanceOf", account)
}

// TokenInfo reads the profile page fields concurrently. Reads that fail are
// left empty; decimals falls back to 18.
func (g *GreenDish) TokenInfo(ctx context.Context, account common.Address) types.TokenInfo {
	var (
		name, symbol    string
		decimals        = defaultTokenDecimals
		balance, supply *big.Int
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if v, err := g.Name(egCtx); err == nil {
			name = v
		}
		return nil
	})
	eg.Go(func() error {
		if v, err := g.Symbol(egCtx); err == nil {
			symbol = v
		}
		return nil
	})
	eg.Go(func() error {
		if v, err := g.Decimals(egCtx); err == nil {
			decimals = v
		}
		return nil
	})
	eg.Go(func() error {
		if v, err := g.BalanceOf(egCtx, account); err == nil {
			balance = v
		}
		return nil
	})
	eg.Go(func() error {
		if v, err := g.TotalSupply(egCtx); err == nil {
			supply = v
		}
		return nil
	})
	_ = eg.Wait()

	info := types.TokenInfo{Name: name, Symbol: symbol, Decimals: decimals}
	if balance != nil {
		info.Balance = utils.FormatAmountFromBigInt(balance, int(decimals))
	}
	if supply != nil {
		info.TotalSupply = utils.FormatAmountFromBigInt(supply, int(decimals))
	}
	return info
}

// RewardsStatus reports whether rewards are still minted and how many whole
// tokens remain.
func (g *GreenDish) RewardsStatus(ctx context.Context) (types.RewardsStatus, error) {
	available, err := g.AreTokenRewardsAvailable(ctx)
	if err != nil {
		return types.RewardsStatus{}, err
	}
	remaining, err := g.GetRemainingTokenSupply(ctx)
	if err != nil {
		return types.RewardsStatus{}, err
	}
	return types.RewardsStatus{
		Available:       available,
		RemainingSupply: utils.FormatWholeTokens(remaining, int(defaultTokenDecimals)),
	}, nil
}

// RegisterArgs are the restaurantRegister parameters in on-chain units.
type RegisterArgs struct {
	RestaurantName    string
	SupplySource      types.SupplySource
	SupplyDetails     string
	DishName          string
	DishMainComponent string
	DishCarbonCredits *big.Int
	DishPriceWei      *big.Int
}

// Register submits restaurantRegister from account. It returns as soon as
// the wallet accepts the transaction.
func (g *GreenDish) Register(ctx context.Context, account common.Address, args RegisterArgs) (common.Hash, error) {
	data, err := g.abi.Pack(
		"restaurantRegister",
		args.RestaurantName,
		uint8(args.SupplySource),
		args.SupplyDetails,
		args.DishName,
		args.DishMainComponent,
		args.DishCarbonCredits,
		args.DishPriceWei,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack restaurantRegister: %w", err)
	}

	tx := wallet.TransactionArgs{To: &g.address, Data: data}
	if g.gasLimit > 0 {
		gas := hexutil.Uint64(g.gasLimit)
		tx.Gas = &gas
	}
	return g.provider.Signer(account).SendTransaction(ctx, tx)
}
