package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NativeCurrency describes the gas token of a chain.
type NativeCurrency struct {
	Name     string `json:"name" yaml:"name"`
	Symbol   string `json:"symbol" yaml:"symbol" validate:"required"`
	Decimals int    `json:"decimals" yaml:"decimals" validate:"gte=0,lte=36"`
}

// NetworkDescriptor is the static metadata for a single chain.
// Descriptors are immutable once registered.
type NetworkDescriptor struct {
	ChainID          uint64         `json:"chainId" yaml:"chainId" validate:"required"`
	ChainName        string         `json:"chainName" yaml:"chainName" validate:"required"`
	RPCURLs          []string       `json:"rpcUrls" yaml:"rpcUrls" validate:"required,min=1,dive,url"`
	NativeCurrency   NativeCurrency `json:"nativeCurrency" yaml:"nativeCurrency"`
	BlockExplorerURL string         `json:"blockExplorerUrl,omitempty" yaml:"blockExplorerUrl,omitempty" validate:"omitempty,url"`
	Testnet          bool           `json:"testnet,omitempty" yaml:"testnet,omitempty"`
}

// PrimaryRPC returns the first registered RPC endpoint.
func (n NetworkDescriptor) PrimaryRPC() string {
	if len(n.RPCURLs) == 0 {
		return ""
	}
	return n.RPCURLs[0]
}

// HexChainID returns the chain id in the 0x-prefixed form wallets expect.
func (n NetworkDescriptor) HexChainID() string {
	return hexutil.EncodeUint64(n.ChainID)
}

// BigChainID returns the chain id as a big.Int for transaction signing.
func (n NetworkDescriptor) BigChainID() *big.Int {
	return new(big.Int).SetUint64(n.ChainID)
}

// AddChainParams is the single parameter object of wallet_addEthereumChain.
type AddChainParams struct {
	ChainID           string           `json:"chainId"`
	ChainName         string           `json:"chainName"`
	RPCURLs           []string         `json:"rpcUrls"`
	NativeCurrency    AddChainCurrency `json:"nativeCurrency"`
	BlockExplorerURLs []string         `json:"blockExplorerUrls,omitempty"`
}

type AddChainCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// SwitchChainParams is the single parameter object of wallet_switchEthereumChain.
type SwitchChainParams struct {
	ChainID string `json:"chainId"`
}
