package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vitwit/greendish/clients"
	"github.com/vitwit/greendish/events"
	"github.com/vitwit/greendish/metrics"
	"github.com/vitwit/greendish/registry"
	"github.com/vitwit/greendish/types"
	"github.com/vitwit/greendish/wallet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	localChain  uint64 = 31337
	geminiChain        = registry.AxiomeshGeminiChainID
)

var (
	alice = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	bob   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

// fakeWallet behaves like an extension wallet that only knows some chains.
type fakeWallet struct {
	mu            sync.Mutex
	accounts      []string
	chainID       uint64
	known         map[uint64]bool
	rejectConnect bool
	accountsErr   error
	requests      []string
	added         []types.AddChainParams

	accountsChanged *events.Emitter[[]string]
	chainChanged    *events.Emitter[uint64]
}

func newFakeWallet(chainID uint64, known ...uint64) *fakeWallet {
	w := &fakeWallet{
		accounts:        []string{alice.Hex()},
		chainID:         chainID,
		known:           map[uint64]bool{chainID: true},
		accountsChanged: events.NewEmitter[[]string](),
		chainChanged:    events.NewEmitter[uint64](),
	}
	for _, id := range known {
		w.known[id] = true
	}
	return w
}

func (w *fakeWallet) Request(_ context.Context, method string, params ...any) (json.RawMessage, error) {
	w.mu.Lock()
	w.requests = append(w.requests, method)
	w.mu.Unlock()

	switch method {
	case wallet.MethodRequestAccounts:
		w.mu.Lock()
		reject := w.rejectConnect
		w.mu.Unlock()
		if reject {
			return nil, &wallet.ProviderRPCError{Code: wallet.CodeUserRejected, Message: "User rejected the request."}
		}
		return json.Marshal(w.accounts)
	case wallet.MethodAccounts:
		w.mu.Lock()
		err := w.accountsErr
		w.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return json.Marshal(w.accounts)
	case wallet.MethodChainID:
		w.mu.Lock()
		defer w.mu.Unlock()
		return json.Marshal(hexutil.EncodeUint64(w.chainID))
	case wallet.MethodSwitchChain:
		p := params[0].(types.SwitchChainParams)
		id, err := hexutil.DecodeUint64(p.ChainID)
		if err != nil {
			return nil, err
		}
		w.mu.Lock()
		if !w.known[id] {
			w.mu.Unlock()
			return nil, &wallet.ProviderRPCError{Code: wallet.CodeUnrecognizedChain, Message: "Unrecognized chain ID"}
		}
		changed := w.chainID != id
		w.chainID = id
		w.mu.Unlock()
		if changed {
			w.chainChanged.Emit(id)
		}
		return json.RawMessage("null"), nil
	case wallet.MethodAddChain:
		p := params[0].(types.AddChainParams)
		id, err := hexutil.DecodeUint64(p.ChainID)
		if err != nil {
			return nil, err
		}
		w.mu.Lock()
		w.known[id] = true
		w.added = append(w.added, p)
		w.mu.Unlock()
		return json.RawMessage("null"), nil
	}
	return nil, &wallet.ProviderRPCError{Code: wallet.CodeUnsupportedMethod, Message: method}
}

func (w *fakeWallet) OnAccountsChanged(fn func([]string)) events.Subscription {
	return w.accountsChanged.Subscribe(fn)
}

func (w *fakeWallet) OnChainChanged(fn func(uint64)) events.Subscription {
	return w.chainChanged.Subscribe(fn)
}

func (w *fakeWallet) methods() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.requests...)
}

// fakeProvider answers every eth_call with the word 1, which decodes as
// true, address 0x..01 and uint256 1.
type fakeProvider struct {
	code    []byte
	gate    chan struct{}
	callErr error
	calls   atomic.Int32
	closed  atomic.Bool
}

func (p *fakeProvider) ChainID(context.Context) (uint64, error) { return 0, nil }

func (p *fakeProvider) CodeAt(ctx context.Context, _ common.Address) ([]byte, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.code, nil
}

func (p *fakeProvider) CallContract(context.Context, ethereum.CallMsg) ([]byte, error) {
	p.calls.Add(1)
	if p.callErr != nil {
		return nil, p.callErr
	}
	return common.LeftPadBytes(big.NewInt(1).Bytes(), 32), nil
}

func (p *fakeProvider) TransactionReceipt(context.Context, common.Hash) (*clients.Receipt, error) {
	return nil, ethereum.NotFound
}

func (p *fakeProvider) Signer(common.Address) clients.Signer { return nil }

func (p *fakeProvider) Close() { p.closed.Store(true) }

type fakeFactory struct {
	mu     sync.Mutex
	make   map[uint64]func() *fakeProvider
	opened []*fakeProvider
}

func (f *fakeFactory) open(_ context.Context, n types.NetworkDescriptor) (clients.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mk, ok := f.make[n.ChainID]
	if !ok {
		return nil, fmt.Errorf("no rpc for chain %d", n.ChainID)
	}
	p := mk()
	f.opened = append(f.opened, p)
	return p, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func (f *fakeFactory) last() *fakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[len(f.opened)-1]
}

func deployed() *fakeProvider    { return &fakeProvider{code: []byte{0x60, 0x80}} }
func notDeployed() *fakeProvider { return &fakeProvider{} }

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) IncCounter(name string, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[name+"/"+labels["result"]]++
}

func (c *countingRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

func (c *countingRecorder) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func newSession(t *testing.T, w wallet.Wallet, f *fakeFactory, m metrics.Recorder) *Session {
	t.Helper()
	cfg := Config{
		Registry:      registry.Default(),
		Factory:       f.open,
		TargetChainID: geminiChain,
		Metrics:       m,
	}
	if w != nil {
		cfg.Wallet = w
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestConnect_ProbesContract(t *testing.T) {
	w := newFakeWallet(geminiChain)
	f := &fakeFactory{make: map[uint64]func() *fakeProvider{geminiChain: deployed}}
	s := newSession(t, w, f, nil)

	require.NoError(t, s.Connect(context.Background()))
	s.Wait()

	snap := s.Snapshot()
	assert.Equal(t, types.StateConnected, snap.Connection.State)
	assert.Equal(t, alice.Hex(), snap.Connection.Account)
	assert.True(t, snap.NetworkValid)
	assert.False(t, snap.Probing)
	assert.Equal(t, types.CodeExists, snap.Code)
	assert.Equal(t, types.ContractDeployedCompatible, snap.Contract)
	assert.Equal(t, types.Compatible, snap.Compatibility)
	assert.True(t, snap.IsRestaurant)
	assert.Equal(t, "Contract Connected", snap.Status.Title)
	require.NotNil(t, snap.Network)
	assert.Equal(t, "Axiomesh Gemini", snap.Network.ChainName)

	b, err := s.Binding()
	require.NoError(t, err)
	assert.Equal(t, alice, b.Account)
	assert.NotNil(t, b.Contract)
}

func TestConnect_NoWallet(t *testing.T) {
	s := newSession(t, nil, &fakeFactory{}, nil)

	var err error
	require.NotPanics(t, func() { err = s.Connect(context.Background()) })
	assert.True(t, types.IsCode(err, types.ErrWalletNotInstalled))

	snap := s.Snapshot()
	assert.Equal(t, types.StateDisconnected, snap.Connection.State)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, types.ErrWalletNotInstalled, snap.LastError.Code)
	assert.Equal(t, types.LevelError, snap.Status.Level)
}

func TestConnect_UserRejects(t *testing.T) {
	w := newFakeWallet(geminiChain)
	w.rejectConnect = true
	rec := &countingRecorder{}
	s := newSession(t, w, &fakeFactory{}, rec)

	err := s.Connect(context.Background())
	assert.True(t, types.IsCode(err, types.ErrUserRejected))
	assert.Equal(t, types.StateDisconnected, s.Snapshot().Connection.State)
	assert.Equal(t, 1, rec.get(metrics.EventWalletConnect+"/"+types.ErrUserRejected))
	assert.Equal(t, 0, w.accountsChanged.Len())
}

func TestConnect_RejectedReconnectReleasesListeners(t *testing.T) {
	w := newFakeWallet(geminiChain)
	f := &fakeFactory{make: map[uint64]func() *fakeProvider{geminiChain: deployed}}
	s := newSession(t, w, f, nil)

	require.NoError(t, s.Connect(context.Background()))
	s.Wait()
	require.Equal(t, 1, w.accountsChanged.Len())
	require.Equal(t, 1, w.chainChanged.Len())

	w.mu.Lock()
	w.rejectConnect = true
	w.mu.Unlock()

	err := s.Connect(context.Background())
	assert.True(t, types.IsCode(err, types.ErrUserRejected))
	assert.Equal(t, types.StateDisconnected, s.Snapshot().Connection.State)
	assert.Equal(t, 0, w.accountsChanged.Len())
	assert.Equal(t, 0, w.chainChanged.Len())

	// a later chain change is ignored, no probe starts
	w.chainChanged.Emit(localChain)
	s.Wait()
	assert.Equal(t, 1, f.count())

	w.mu.Lock()
	w.rejectConnect = false
	w.mu.Unlock()
	require.NoError(t, s.Connect(context.Background()))
	s.Wait()
	assert.Equal(t, 1, w.accountsChanged.Len())
	assert.Equal(t, 1, w.chainChanged.Len())
}

func TestConnect_AfterCloseWithoutWallet(t *testing.T) {
	rec := &countingRecorder{}
	s := newSession(t, nil, &fakeFactory{}, rec)

	var published int
	sub := s.Subscribe(func(types.Snapshot) { published++ })
	defer sub.Unsubscribe()

	s.Close()
	err := s.Connect(context.Background())
	assert.Same(t, errClosed, err)
	assert.Equal(t, 0, published)
	assert.Nil(t, s.Snapshot().LastError)
	assert.Equal(t, 0, rec.get(metrics.EventWalletConnect+"/"+types.ErrWalletNotInstalled))
}

func TestConnect_ListenersAreIdempotent(t *testing.T) {
	w := newFakeWallet(geminiChain)
	f := &fakeFactory{make: map[uint64]func() *fakeProvider{geminiChain: deployed}}
	s := newSession(t, w, f, nil)

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))
	s.Wait()

	assert.Equal(t, 1, w.accountsChanged.Len())
	assert.Equal(t, 1, w.chainChanged.Len())

	s.Close()
	assert.Equal(t, 0, w.accountsChanged.Len())
	assert.Equal(t, 0, w.chainChanged.Len())
}

func TestAccountsChangedEmpty_ClearsContractState(t *testing.T) {
	w := newFakeWallet(geminiChain)
	f := &fakeFactory{make: map[uint64]func() *fakeProvider{geminiChain: deployed}}
	s := newSession(t, w, f, nil)

	require.NoError(t, s.Connect(context.Background()))
	s.Wait()
	provider := f.last()

	w.accountsChanged.Emit([]string{})
	s.Wait()

	snap := s.Snapshot()
	assert.Equal(t, types.StateDisconnected, snap.Connection.State)
	assert.Equal(t, types.ContractUnknown, snap.Contract)
	assert.Nil(t, snap.Capabilities)
	assert.Empty(t, snap.Code)
	assert.Nil(t, snap.Network)
	assert.False(t, snap.IsRestaurant)
	assert.Equal(t, "Wallet Not Connected", snap.Status.Title)
	assert.True(t, provider.closed.Load())

	_, err := s.Binding()
	assert.True(t, types.IsCode(err, types.ErrNotConnected))
	assert.Equal(t, 0, w.accountsChanged.Len())
}

func TestAccountChanged_ReprobesCapabilitiesOnly(t *testing.T) {
	w := newFakeWallet(geminiChain)
	f := &fakeFactory{make: map[uint64]func() *fakeProvider{geminiChain: deployed}}
	s := newSession(t, w, f, nil)

	require.NoError(t, s.Connect(context.Background()))
	s.Wait()
	provider := f.last()
	before := provider.calls.Load()

	w.accountsChanged.Emit([]string{bob.Hex()})
	s.Wait()

	snap := s.Snapshot()
	assert.Equal(t, bob.Hex(), snap.Connection.Account)
	assert.Equal(t, 1, f.count())
	assert.Greater(t, provider.calls.Load(), before)
	assert.Equal(t, types.ContractDeployedCompatible, snap.Contract)
	assert.False(t, provider.closed.Load())
}

func TestChainChanged_OverlappingProbesLastWins(t *testing.T) {
	gate := make(chan struct{})
	w := newFakeWallet(localChain, geminiChain)
	f := &fakeFactory{make: map[uint64]func() *fakeProvider{
		localChain:  notDeployed,
		geminiChain: func() *fakeProvider { return &fakeProvider{code: []byte{0x60}, gate: gate} },
	}}
	rec := &countingRecorder{}
	s := newSession(t, w, f, rec)

	require.NoError(t, s.Connect(context.Background()))
	s.Wait()

	// A: gemini, held at the code query.
	w.chainChanged.Emit(geminiChain)
	require.Eventually(t, func() bool { return f.count() == 2 }, time.Second, time.Millisecond)
	slow := f.last()

	// B: back to local, resolves immediately.
	w.chainChanged.Emit(localChain)
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Connection.ChainID == localChain && !snap.Probing
	}, time.Second, time.Millisecond)

	close(gate)
	s.Wait()

	snap := s.Snapshot()
	assert.Equal(t, localChain, snap.Connection.ChainID)
	assert.Equal(t, types.CodeNotDeployed, snap.Code)
	assert.Equal(t, types.ContractNotDeployed, snap.Contract)
	assert.Nil(t, snap.Capabilities)
	assert.False(t, snap.NetworkValid)
	assert.Equal(t, "Wrong Network", snap.Status.Title)
	assert.Equal(t, 1, rec.get(metrics.EventProbeDiscarded+"/stale"))
	assert.True(t, slow.closed.Load())
}

func TestSnapshots_AreSequenced(t *testing.T) {
	w := newFakeWallet(geminiChain)
	f := &fakeFactory{make: map[uint64]func() *fakeProvider{geminiChain: deployed}}
	s := newSession(t, w, f, nil)

	var (
		mu   sync.Mutex
		seen []types.Snapshot
	)
	sub := s.Subscribe(func(snap types.Snapshot) {
		mu.Lock()
		seen = append(seen, snap)
		mu.Unlock()
	})
	defer sub.Unsubscribe()

	require.NoError(t, s.Connect(context.Background()))
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Sequence, seen[i-1].Sequence)
	}
	assert.Equal(t, types.StateConnecting, seen[0].Connection.State)
	assert.Contains(t, statusTitles(seen), "Checking Contract...")
	assert.Equal(t, "Contract Connected", seen[len(seen)-1].Status.Title)
}

func statusTitles(snaps []types.Snapshot) []string {
	out := make([]string, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.Status.Title)
	}
	return out
}

func TestSwitchNetwork_AddsUnknownChain(t *testing.T) {
	w := newFakeWallet(localChain)
	f := &fakeFactory{make: map[uint64]func() *fakeProvider{
		localChain:  notDeployed,
		geminiChain: deployed,
	}}
	rec := &countingRecorder{}
	s := newSession(t, w, f, rec)

	require.NoError(t, s.Connect(context.Background()))
	s.Wait()

	require.NoError(t, s.SwitchNetwork(context.Background(), geminiChain))
	s.Wait()

	methods := w.methods()
	assert.Equal(t, []string{
		wallet.MethodSwitchChain,
		wallet.MethodAddChain,
		wallet.MethodSwitchChain,
		wallet.MethodChainID,
	}, methods[len(methods)-4:])

	require.Len(t, w.added, 1)
	assert.Equal(t, "0x5b75", w.added[0].ChainID)
	assert.Equal(t, "Axiomesh Gemini", w.added[0].ChainName)
	assert.Equal(t, []string{"https://rpc1.gemini.axiomesh.io"}, w.added[0].RPCURLs)

	snap := s.Snapshot()
	assert.Equal(t, geminiChain, snap.Connection.ChainID)
	assert.True(t, snap.NetworkValid)
	assert.Equal(t, types.ContractDeployedCompatible, snap.Contract)
	assert.Equal(t, 1, rec.get(metrics.EventNetworkSwitch+"/success"))
}

func TestSwitchNetwork_UnknownChain(t *testing.T) {
	w := newFakeWallet(localChain)
	s := newSession(t, w, &fakeFactory{}, nil)

	var err error
	require.NotPanics(t, func() { err = s.SwitchNetwork(context.Background(), 999) })
	assert.True(t, types.IsCode(err, types.ErrUnknownNetwork))
	assert.Empty(t, w.methods())
}

func TestSwitchNetwork_NoWallet(t *testing.T) {
	s := newSession(t, nil, &fakeFactory{}, nil)
	err := s.SwitchNetwork(context.Background(), geminiChain)
	assert.True(t, types.IsCode(err, types.ErrWalletNotInstalled))
}

func TestIncompatibleContract(t *testing.T) {
	w := newFakeWallet(geminiChain)
	f := &fakeFactory{make: map[uint64]func() *fakeProvider{
		geminiChain: func() *fakeProvider {
			return &fakeProvider{code: []byte{0x60}, callErr: errors.New("execution reverted")}
		},
	}}
	s := newSession(t, w, f, nil)

	require.NoError(t, s.Connect(context.Background()))
	s.Wait()

	snap := s.Snapshot()
	assert.Equal(t, types.ContractDeployedIncompatible, snap.Contract)
	assert.Equal(t, types.Incompatible, snap.Compatibility)
	assert.Equal(t, types.ErrContractIncompatible, snap.Warning)
	assert.Equal(t, "Contract Incompatible", snap.Status.Title)
}

func TestUnregisteredChain_IsIndeterminate(t *testing.T) {
	w := newFakeWallet(777)
	s := newSession(t, w, &fakeFactory{}, nil)

	require.NoError(t, s.Connect(context.Background()))
	s.Wait()

	snap := s.Snapshot()
	assert.Nil(t, snap.Network)
	assert.Equal(t, types.CodeIndeterminate, snap.Code)
	assert.Equal(t, types.ContractUnknown, snap.Contract)
	assert.Equal(t, types.ErrUnknownNetwork, snap.Warning)
}

func TestOpen_RestoresGrantedAccount(t *testing.T) {
	w := newFakeWallet(geminiChain)
	f := &fakeFactory{make: map[uint64]func() *fakeProvider{geminiChain: deployed}}
	s := newSession(t, w, f, nil)

	require.NoError(t, s.Open(context.Background()))
	s.Wait()

	assert.Equal(t, types.StateConnected, s.Snapshot().Connection.State)
	assert.NotContains(t, w.methods(), wallet.MethodRequestAccounts)
}

func TestOpen_UnreadableWalletIsError(t *testing.T) {
	w := newFakeWallet(geminiChain)
	w.accountsErr = errors.New("wallet locked")
	f := &fakeFactory{make: map[uint64]func() *fakeProvider{geminiChain: deployed}}
	s := newSession(t, w, f, nil)

	require.NoError(t, s.Open(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, types.StateError, snap.Connection.State)
	assert.Contains(t, snap.Connection.Reason, "wallet locked")
	assert.Equal(t, types.LevelError, snap.Status.Level)
	assert.Equal(t, "Wallet Unavailable", snap.Status.Title)
	assert.Equal(t, 0, f.count())

	require.NoError(t, s.Connect(context.Background()))
	s.Wait()
	assert.Equal(t, types.StateConnected, s.Snapshot().Connection.State)
	assert.Empty(t, s.Snapshot().Connection.Reason)
}

func TestRefresh_ReprobesCurrentChain(t *testing.T) {
	w := newFakeWallet(geminiChain)
	f := &fakeFactory{make: map[uint64]func() *fakeProvider{geminiChain: deployed}}
	s := newSession(t, w, f, nil)

	err := s.Refresh()
	assert.True(t, types.IsCode(err, types.ErrNotConnected))
	assert.Equal(t, 0, f.count())

	require.NoError(t, s.Connect(context.Background()))
	s.Wait()
	before := s.Snapshot().Sequence

	require.NoError(t, s.Refresh())
	s.Wait()

	snap := s.Snapshot()
	assert.Equal(t, 2, f.count())
	assert.True(t, f.opened[0].closed.Load())
	assert.Greater(t, snap.Sequence, before)
	assert.Equal(t, types.ContractDeployedCompatible, snap.Contract)

	s.Close()
	assert.Same(t, errClosed, s.Refresh())
}

func TestDisconnect_IsLocal(t *testing.T) {
	w := newFakeWallet(geminiChain)
	f := &fakeFactory{make: map[uint64]func() *fakeProvider{geminiChain: deployed}}
	s := newSession(t, w, f, nil)

	require.NoError(t, s.Connect(context.Background()))
	s.Wait()
	s.Disconnect()

	assert.Equal(t, types.StateDisconnected, s.Snapshot().Connection.State)
	assert.Equal(t, 0, w.chainChanged.Len())

	// Wallet events after a local disconnect are ignored.
	w.chainChanged.Emit(localChain)
	s.Wait()
	assert.Equal(t, types.StateDisconnected, s.Snapshot().Connection.State)
}

func TestNew_RequiresRegistryAndFactory(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, types.IsCode(err, types.ErrConfigError))

	_, err = New(Config{Registry: registry.Default(), Factory: (&fakeFactory{}).open, TargetChainID: 5})
	assert.True(t, types.IsCode(err, types.ErrConfigError))
	assert.ErrorContains(t, err, "target chain 5 is not registered")
}
