package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vitwit/greendish/events"
	"github.com/vitwit/greendish/logger"
	"github.com/vitwit/greendish/types"
	"github.com/vitwit/greendish/utils"
)

var _ Wallet = (*KeyWallet)(nil)

// KeyWallet is a headless wallet holding a single private key. It behaves
// like a browser extension wallet: it only knows the chains it was created
// with or was asked to add, it answers 4902 for anything else, and it
// forwards read methods to the active chain's RPC endpoint.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	hc      *http.Client
	log     logger.Logger

	mu       sync.Mutex
	chainID  uint64
	known    map[uint64]types.NetworkDescriptor
	clients  map[uint64]*rpc.Client
	unlocked bool

	accountsChanged *events.Emitter[[]string]
	chainChanged    *events.Emitter[uint64]
}

// KeyWalletOption configures a KeyWallet.
type KeyWalletOption func(*KeyWallet)

func WithHTTPClient(hc *http.Client) KeyWalletOption {
	return func(w *KeyWallet) { w.hc = hc }
}

func WithWalletLogger(l logger.Logger) KeyWalletOption {
	return func(w *KeyWallet) { w.log = l }
}

// NewKeyWallet creates a wallet for hexKey that starts on initial. initial
// is the only chain the wallet knows about until AddChain is requested.
func NewKeyWallet(hexKey string, initial types.NetworkDescriptor, opts ...KeyWalletOption) (*KeyWallet, error) {
	key, err := utils.ParsePrivateKey(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet key: %w", err)
	}
	if len(initial.RPCURLs) == 0 {
		return nil, fmt.Errorf("chain %d has no rpc url", initial.ChainID)
	}

	w := &KeyWallet{
		key:             key,
		address:         crypto.PubkeyToAddress(key.PublicKey),
		hc:              http.DefaultClient,
		log:             logger.NoopLogger{},
		chainID:         initial.ChainID,
		known:           map[uint64]types.NetworkDescriptor{initial.ChainID: initial},
		clients:         make(map[uint64]*rpc.Client),
		unlocked:        true,
		accountsChanged: events.NewEmitter[[]string](),
		chainChanged:    events.NewEmitter[uint64](),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Address returns the account controlled by the wallet.
func (w *KeyWallet) Address() common.Address { return w.address }

func (w *KeyWallet) OnAccountsChanged(fn func([]string)) events.Subscription {
	return w.accountsChanged.Subscribe(fn)
}

func (w *KeyWallet) OnChainChanged(fn func(uint64)) events.Subscription {
	return w.chainChanged.Subscribe(fn)
}

// Lock hides the account, the way an extension does when the user locks it.
func (w *KeyWallet) Lock() {
	w.mu.Lock()
	w.unlocked = false
	w.mu.Unlock()
	w.accountsChanged.Emit([]string{})
}

// Unlock exposes the account again.
func (w *KeyWallet) Unlock() {
	w.mu.Lock()
	w.unlocked = true
	w.mu.Unlock()
	w.accountsChanged.Emit([]string{w.address.Hex()})
}

func (w *KeyWallet) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	switch method {
	case MethodRequestAccounts, MethodAccounts:
		w.mu.Lock()
		unlocked := w.unlocked
		w.mu.Unlock()
		if !unlocked {
			if method == MethodRequestAccounts {
				return nil, &ProviderRPCError{Code: CodeUserRejected, Message: "user rejected the request"}
			}
			return json.Marshal([]string{})
		}
		return json.Marshal([]string{w.address.Hex()})

	case MethodChainID:
		w.mu.Lock()
		id := w.chainID
		w.mu.Unlock()
		return json.Marshal(hexutil.EncodeUint64(id))

	case MethodSwitchChain:
		var p types.SwitchChainParams
		if err := decodeParam(params, 0, &p); err != nil {
			return nil, err
		}
		return nullResult(w.switchChain(p))

	case MethodAddChain:
		var p types.AddChainParams
		if err := decodeParam(params, 0, &p); err != nil {
			return nil, err
		}
		return nullResult(w.addChain(p))

	case MethodSendTransaction:
		var args TransactionArgs
		if err := decodeParam(params, 0, &args); err != nil {
			return nil, err
		}
		hash, err := w.sendTransaction(ctx, args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(hash)

	default:
		c, err := w.client(ctx)
		if err != nil {
			return nil, err
		}
		var raw json.RawMessage
		if err := c.CallContext(ctx, &raw, method, params...); err != nil {
			return nil, err
		}
		return raw, nil
	}
}

func nullResult(err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	return json.RawMessage("null"), nil
}

func (w *KeyWallet) switchChain(p types.SwitchChainParams) error {
	id, err := hexutil.DecodeUint64(p.ChainID)
	if err != nil {
		return &ProviderRPCError{Code: -32602, Message: fmt.Sprintf("invalid chainId %q", p.ChainID)}
	}

	w.mu.Lock()
	if _, ok := w.known[id]; !ok {
		w.mu.Unlock()
		return &ProviderRPCError{Code: CodeUnrecognizedChain, Message: fmt.Sprintf("Unrecognized chain ID %q", p.ChainID)}
	}
	changed := w.chainID != id
	w.chainID = id
	w.mu.Unlock()

	if changed {
		w.log.Info("wallet switched chain", map[string]any{"chain_id": id})
		w.chainChanged.Emit(id)
	}
	return nil
}

func (w *KeyWallet) addChain(p types.AddChainParams) error {
	id, err := hexutil.DecodeUint64(p.ChainID)
	if err != nil {
		return &ProviderRPCError{Code: -32602, Message: fmt.Sprintf("invalid chainId %q", p.ChainID)}
	}
	if len(p.RPCURLs) == 0 {
		return &ProviderRPCError{Code: -32602, Message: "rpcUrls must not be empty"}
	}

	w.mu.Lock()
	w.known[id] = types.NetworkDescriptor{
		ChainID:        id,
		ChainName:      p.ChainName,
		RPCURLs:        append([]string(nil), p.RPCURLs...),
		NativeCurrency: types.NativeCurrency(p.NativeCurrency),
	}
	if c, ok := w.clients[id]; ok {
		c.Close()
		delete(w.clients, id)
	}
	w.mu.Unlock()

	w.log.Info("wallet added chain", map[string]any{"chain_id": id, "chain_name": p.ChainName})
	return nil
}

// client returns the RPC client of the active chain, dialing it on first use.
func (w *KeyWallet) client(ctx context.Context) (*rpc.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if c, ok := w.clients[w.chainID]; ok {
		return c, nil
	}
	url := w.known[w.chainID].PrimaryRPC()
	if url == "" {
		return nil, &ProviderRPCError{Code: CodeChainDisconnected, Message: "no rpc url for active chain"}
	}
	c, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(w.hc))
	if err != nil {
		return nil, &ProviderRPCError{Code: CodeChainDisconnected, Message: err.Error()}
	}
	w.clients[w.chainID] = c
	return c, nil
}

func (w *KeyWallet) sendTransaction(ctx context.Context, args TransactionArgs) (common.Hash, error) {
	if args.From != (common.Address{}) && args.From != w.address {
		return common.Hash{}, &ProviderRPCError{Code: CodeUnauthorized, Message: "unknown account " + args.From.Hex()}
	}

	rc, err := w.client(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	ec := ethclient.NewClient(rc)

	w.mu.Lock()
	chainID := w.known[w.chainID].BigChainID()
	w.mu.Unlock()

	nonce, err := ec.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := ec.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	value := new(big.Int)
	if args.Value != nil {
		value = args.Value.ToInt()
	}

	var gas uint64
	if args.Gas != nil {
		gas = uint64(*args.Gas)
	} else {
		gas, err = ec.EstimateGas(ctx, ethereum.CallMsg{
			From:  w.address,
			To:    args.To,
			Value: value,
			Data:  args.Data,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("cannot estimate gas: %w", err)
		}
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       args.To,
		Value:    value,
		Data:     args.Data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := ec.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}

	w.log.Debug("wallet broadcast transaction", map[string]any{
		"tx_hash":  signed.Hash().Hex(),
		"chain_id": chainID.Uint64(),
		"gas":      gas,
	})
	return signed.Hash(), nil
}

// Close releases every dialed RPC client.
func (w *KeyWallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, c := range w.clients {
		c.Close()
		delete(w.clients, id)
	}
}
