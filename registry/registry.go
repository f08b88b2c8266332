// Package registry holds the static chain id -> network metadata table.
package registry

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/vitwit/greendish/types"
)

// ErrNetworkNotFound is returned by Lookup for chains that were never registered.
var ErrNetworkNotFound = errors.New("network not found")

const AxiomeshGeminiChainID uint64 = 23413

// DefaultNetworks is the built-in table. Axiomesh Gemini is the network the
// GreenDish contract is deployed on.
var DefaultNetworks = []types.NetworkDescriptor{
	{
		ChainID:   AxiomeshGeminiChainID,
		ChainName: "Axiomesh Gemini",
		RPCURLs:   []string{"https://rpc1.gemini.axiomesh.io"},
		NativeCurrency: types.NativeCurrency{
			Name:     "AXC",
			Symbol:   "AXC",
			Decimals: 18,
		},
		BlockExplorerURL: "https://scan.gemini.axiomesh.io",
		Testnet:          true,
	},
	{
		ChainID:   31337,
		ChainName: "Localhost",
		RPCURLs:   []string{"http://127.0.0.1:8545"},
		NativeCurrency: types.NativeCurrency{
			Name:     "Ether",
			Symbol:   "ETH",
			Decimals: 18,
		},
		Testnet: true,
	},
}

var validate = validator.New()

// Registry is read-only after construction.
type Registry struct {
	networks map[uint64]types.NetworkDescriptor
}

// New builds a registry from the given descriptors. Every descriptor must
// carry at least one RPC URL and chain ids must be unique.
func New(descriptors ...types.NetworkDescriptor) (*Registry, error) {
	r := &Registry{networks: make(map[uint64]types.NetworkDescriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := validate.Struct(d); err != nil {
			return nil, fmt.Errorf("network %d: %w", d.ChainID, err)
		}
		if _, dup := r.networks[d.ChainID]; dup {
			return nil, fmt.Errorf("network %d registered twice", d.ChainID)
		}
		r.networks[d.ChainID] = clone(d)
	}
	return r, nil
}

// Default returns a registry over DefaultNetworks.
func Default() *Registry {
	r, err := New(DefaultNetworks...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the descriptor registered for chainID.
func (r *Registry) Lookup(chainID uint64) (types.NetworkDescriptor, error) {
	d, ok := r.networks[chainID]
	if !ok {
		return types.NetworkDescriptor{}, fmt.Errorf("chain %d: %w", chainID, ErrNetworkNotFound)
	}
	return clone(d), nil
}

// Has reports whether chainID is registered.
func (r *Registry) Has(chainID uint64) bool {
	_, ok := r.networks[chainID]
	return ok
}

// Descriptors returns every registered network ordered by chain id.
func (r *Registry) Descriptors() []types.NetworkDescriptor {
	out := make([]types.NetworkDescriptor, 0, len(r.networks))
	for _, d := range r.networks {
		out = append(out, clone(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// AddChainParams builds the wallet_addEthereumChain payload for chainID.
func (r *Registry) AddChainParams(chainID uint64) (types.AddChainParams, error) {
	d, err := r.Lookup(chainID)
	if err != nil {
		return types.AddChainParams{}, err
	}
	p := types.AddChainParams{
		ChainID:   d.HexChainID(),
		ChainName: d.ChainName,
		RPCURLs:   d.RPCURLs,
		NativeCurrency: types.AddChainCurrency{
			Name:     d.NativeCurrency.Name,
			Symbol:   d.NativeCurrency.Symbol,
			Decimals: d.NativeCurrency.Decimals,
		},
	}
	if p.NativeCurrency.Name == "" {
		p.NativeCurrency.Name = d.NativeCurrency.Symbol
	}
	if d.BlockExplorerURL != "" {
		p.BlockExplorerURLs = []string{d.BlockExplorerURL}
	}
	return p, nil
}

type networksFile struct {
	Networks []types.NetworkDescriptor `yaml:"networks"`
}

// LoadFile reads extra descriptors from a YAML file and merges them over the
// defaults. An entry for an already-known chain replaces the default one.
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read networks file: %w", err)
	}
	return Parse(raw)
}

// Parse is LoadFile without the file system.
func Parse(raw []byte) (*Registry, error) {
	var f networksFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse networks file: %w", err)
	}

	merged := make([]types.NetworkDescriptor, 0, len(DefaultNetworks)+len(f.Networks))
	overridden := make(map[uint64]bool, len(f.Networks))
	for _, d := range f.Networks {
		overridden[d.ChainID] = true
	}
	for _, d := range DefaultNetworks {
		if !overridden[d.ChainID] {
			merged = append(merged, d)
		}
	}
	merged = append(merged, f.Networks...)
	return New(merged...)
}

func clone(d types.NetworkDescriptor) types.NetworkDescriptor {
	d.RPCURLs = slices.Clone(d.RPCURLs)
	return d
}
