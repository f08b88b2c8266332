package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vitwit/greendish/types"
	"github.com/vitwit/greendish/wallet"
)

var _ Provider = (*EthClientProvider)(nil)

// EthClientProvider reads chain state through go-ethereum's ethclient,
// dialed to the network's primary RPC endpoint.
type EthClientProvider struct {
	rpcURL  string
	network types.NetworkDescriptor
	client  *ethclient.Client
	wallet  wallet.Wallet
}

func NewEthClientProvider(ctx context.Context, network types.NetworkDescriptor, w wallet.Wallet, hc *http.Client) (*EthClientProvider, error) {
	rpcURL := network.PrimaryRPC()
	if rpcURL == "" {
		return nil, fmt.Errorf("network %d has no rpc url", network.ChainID)
	}
	rc, err := rpc.DialOptions(ctx, rpcURL, rpc.WithHTTPClient(hc))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}

	return &EthClientProvider{
		rpcURL:  rpcURL,
		network: network,
		client:  ethclient.NewClient(rc),
		wallet:  w,
	}, nil
}

func (e *EthClientProvider) ChainID(ctx context.Context) (uint64, error) {
	id, err := e.client.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	return id.Uint64(), nil
}

func (e *EthClientProvider) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return e.client.CodeAt(ctx, account, nil)
}

func (e *EthClientProvider) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return e.client.CallContract(ctx, msg, nil)
}

func (e *EthClientProvider) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	r, err := e.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ethereum.NotFound
		}
		return nil, err
	}
	out := &Receipt{TxHash: r.TxHash, Status: r.Status, GasUsed: r.GasUsed}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out, nil
}

func (e *EthClientProvider) Signer(account common.Address) Signer {
	return walletSigner{w: e.wallet, account: account}
}

func (e *EthClientProvider) Close() {
	e.client.Close()
}
