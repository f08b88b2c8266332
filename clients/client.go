package clients

import (
	"context"
	"fmt"
	"net/http"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/greendish/types"
	"github.com/vitwit/greendish/wallet"
)

// Adapter names accepted by NewFactory.
const (
	AdapterEthClient = "ethclient"
	AdapterWallet    = "wallet"
)

// Provider is the single chain-access surface the probes and the contract
// binding need. Each adapter implements it once; callers never branch on
// which adapter is behind it.
type Provider interface {
	ChainID(ctx context.Context) (uint64, error)
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	// TransactionReceipt returns ethereum.NotFound while the tx is pending.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	Signer(account common.Address) Signer
	Close()
}

// Signer submits state-changing transactions on behalf of an account.
type Signer interface {
	Address() common.Address
	SendTransaction(ctx context.Context, args wallet.TransactionArgs) (common.Hash, error)
}

// Receipt is the subset of a transaction receipt the registration flow reads.
type Receipt struct {
	TxHash      common.Hash
	Status      uint64
	BlockNumber uint64
	GasUsed     uint64
}

// Factory opens a Provider for the given network.
type Factory func(ctx context.Context, network types.NetworkDescriptor) (Provider, error)

// NewFactory selects the adapter once. Writes always go through w, since
// only the wallet holds keys.
func NewFactory(adapter string, w wallet.Wallet, hc *http.Client) (Factory, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	switch adapter {
	case AdapterEthClient, "":
		return func(ctx context.Context, n types.NetworkDescriptor) (Provider, error) {
			return NewEthClientProvider(ctx, n, w, hc)
		}, nil
	case AdapterWallet:
		return func(context.Context, types.NetworkDescriptor) (Provider, error) {
			return NewWalletProvider(w), nil
		}, nil
	default:
		return nil, &types.GreenDishError{
			Code:    types.ErrProviderIncompatible,
			Message: fmt.Sprintf("unsupported provider adapter %q", adapter),
		}
	}
}

// ReadsNetworkRPC reports whether adapter reads chain state straight from
// the network's first RPC URL.
func ReadsNetworkRPC(adapter string) bool {
	return adapter == AdapterEthClient || adapter == ""
}

// walletSigner routes writes through eth_sendTransaction.
type walletSigner struct {
	w       wallet.Wallet
	account common.Address
}

func (s walletSigner) Address() common.Address { return s.account }

func (s walletSigner) SendTransaction(ctx context.Context, args wallet.TransactionArgs) (common.Hash, error) {
	if s.w == nil {
		return common.Hash{}, &types.GreenDishError{Code: types.ErrWalletNotInstalled, Message: "no wallet available to sign"}
	}
	args.From = s.account
	return wallet.SendTransaction(ctx, s.w, args)
}
