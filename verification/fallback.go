package verification

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/vitwit/greendish/types"
)

// ErrNoIndependentRPC is returned by a SkipPrimary fallback for networks
// with a single RPC URL.
var ErrNoIndependentRPC = errors.New("no rpc url besides the provider's")

// Fallback fetches bytecode without going through the session's provider.
type Fallback interface {
	GetCode(ctx context.Context, network types.NetworkDescriptor, address common.Address) ([]byte, error)
}

// RPCFallback issues a plain eth_getCode against an RPC URL of the network,
// bypassing the wallet entirely.
type RPCFallback struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	skipPrimary bool
}

// NewRPCFallback returns a fallback limited to rps requests per second. A
// non-positive rps disables limiting.
func NewRPCFallback(hc *http.Client, rps float64, burst int) *RPCFallback {
	if hc == nil {
		hc = http.DefaultClient
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &RPCFallback{httpClient: hc, limiter: rate.NewLimiter(limit, burst)}
}

// SkipPrimary makes GetCode query the network's second RPC URL. The
// ethclient adapter already reads code from the first one.
func (f *RPCFallback) SkipPrimary() *RPCFallback {
	f.skipPrimary = true
	return f
}

func (f *RPCFallback) GetCode(ctx context.Context, network types.NetworkDescriptor, address common.Address) ([]byte, error) {
	url := network.PrimaryRPC()
	if f.skipPrimary {
		if len(network.RPCURLs) < 2 {
			return nil, fmt.Errorf("network %d: %w", network.ChainID, ErrNoIndependentRPC)
		}
		url = network.RPCURLs[1]
	}
	if url == "" {
		return nil, fmt.Errorf("network %d has no rpc url", network.ChainID)
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	client, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(f.httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	defer client.Close()

	var code hexutil.Bytes
	if err := client.CallContext(ctx, &code, "eth_getCode", address, "latest"); err != nil {
		return nil, err
	}
	return code, nil
}
