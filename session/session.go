// Package session owns the wallet connection lifecycle and keeps a published
// snapshot of the connection, the network and the GreenDish contract status.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/vitwit/greendish/clients"
	"github.com/vitwit/greendish/contract"
	"github.com/vitwit/greendish/events"
	"github.com/vitwit/greendish/logger"
	"github.com/vitwit/greendish/metrics"
	"github.com/vitwit/greendish/registration"
	"github.com/vitwit/greendish/registry"
	"github.com/vitwit/greendish/types"
	"github.com/vitwit/greendish/verification"
	"github.com/vitwit/greendish/wallet"
)

// Config wires a Session. Registry and Factory are required; a nil Wallet
// models a browser without an injected wallet.
type Config struct {
	Wallet          wallet.Wallet
	Registry        *registry.Registry
	Factory         clients.Factory
	CodeProbe       *verification.CodeProbe
	CapabilityProbe *verification.CapabilityProbe
	ContractAddress common.Address
	TargetChainID   uint64
	GasLimit        uint64
	// ProbeTimeout bounds one probe run. Zero leaves it to the provider.
	ProbeTimeout time.Duration
	Logger       logger.Logger
	Metrics      metrics.Recorder
}

// Session is the single owned connection object. Mutating entry points are
// Connect, Disconnect and SwitchNetwork; everything else reads.
//
// Wallet events and explicit calls may each start a probe on its own
// goroutine. Every probe is stamped with the sequence number current when it
// started and its result is dropped unless that number is still the latest.
type Session struct {
	id       string
	wallet   wallet.Wallet
	registry *registry.Registry
	factory  clients.Factory
	code     *verification.CodeProbe
	caps     *verification.CapabilityProbe
	address  common.Address
	target   uint64
	gasLimit uint64
	timeout  time.Duration
	logger   logger.Logger
	metrics  metrics.Recorder

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	listeners events.Group
	snapshots *events.Emitter[types.Snapshot]
	pubMu     sync.Mutex

	mu            sync.Mutex
	seq           uint64
	conn          types.ConnectionStatus
	network       *types.NetworkDescriptor
	provider      clients.Provider
	providerChain uint64
	fullPending   bool
	contract      *contract.GreenDish
	probe         probeState
	probing       bool
	lastErr       *types.GreenDishError
	listening     bool
	closed        bool
}

// probeState is everything derived from the last applied probe.
type probeState struct {
	code   types.CodeProbeResult
	caps   *types.CapabilityReport
	status types.ContractStatus
	warn   string
}

func New(cfg Config) (*Session, error) {
	if cfg.Registry == nil {
		return nil, types.NewError(types.ErrConfigError, "session requires a network registry", nil)
	}
	if cfg.Factory == nil {
		return nil, types.NewError(types.ErrConfigError, "session requires a provider factory", nil)
	}

	l := logger.OrNoop(cfg.Logger)
	m := metrics.OrNoop(cfg.Metrics)
	if cfg.CodeProbe == nil {
		cfg.CodeProbe = verification.NewCodeProbe(nil, l, m)
	}
	if cfg.CapabilityProbe == nil {
		cfg.CapabilityProbe = verification.NewCapabilityProbe(l, m)
	}
	if cfg.TargetChainID == 0 {
		cfg.TargetChainID = registry.AxiomeshGeminiChainID
	}
	if !cfg.Registry.Has(cfg.TargetChainID) {
		return nil, types.NewError(types.ErrConfigError, fmt.Sprintf("target chain %d is not registered", cfg.TargetChainID), nil)
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = contract.DefaultGasLimit
	}
	if cfg.ContractAddress == (common.Address{}) {
		cfg.ContractAddress = common.HexToAddress(contract.DefaultAddress)
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		id:        id,
		wallet:    cfg.Wallet,
		registry:  cfg.Registry,
		factory:   cfg.Factory,
		code:      cfg.CodeProbe,
		caps:      cfg.CapabilityProbe,
		address:   cfg.ContractAddress,
		target:    cfg.TargetChainID,
		gasLimit:  cfg.GasLimit,
		timeout:   cfg.ProbeTimeout,
		logger:    l.With(map[string]any{"session_id": id}),
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		snapshots: events.NewEmitter[types.Snapshot](),
		conn:      types.Disconnected(),
		probe:     probeState{status: types.ContractUnknown},
	}, nil
}

func (s *Session) ID() string { return s.id }

// Open restores a connection the wallet already granted, without prompting.
func (s *Session) Open(ctx context.Context) error {
	if s.wallet == nil {
		s.publish()
		return nil
	}

	accounts, err := wallet.Accounts(ctx, s.wallet)
	if err != nil {
		s.unavailable("could not read existing wallet accounts", err)
		return nil
	}
	if len(accounts) == 0 {
		s.publish()
		return nil
	}

	chainID, err := wallet.ChainID(ctx, s.wallet)
	if err != nil {
		s.unavailable("could not read wallet chain", err)
		return nil
	}
	s.established(accounts[0], chainID)
	return nil
}

// unavailable records a wallet that is installed but could not be read.
// Connect is still allowed from this state.
func (s *Session) unavailable(reason string, err error) {
	s.logger.Warn(reason, map[string]any{"error": err})

	s.mu.Lock()
	if s.closed || s.conn.IsConnected() {
		s.mu.Unlock()
		return
	}
	s.conn = types.Errored(fmt.Sprintf("%s: %v", reason, err))
	s.mu.Unlock()
	s.publish()
}

// Connect asks the wallet for accounts. Failures leave the session
// Disconnected with LastError set, and are returned for one-time display.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	if s.wallet == nil {
		s.mu.Unlock()
		err := types.NewError(types.ErrWalletNotInstalled, "Please install MetaMask or another Ethereum wallet.", nil)
		s.fail(err)
		return err
	}
	s.conn = types.Connecting()
	s.lastErr = nil
	s.mu.Unlock()
	s.publish()

	accounts, err := wallet.RequestAccounts(ctx, s.wallet)
	if err == nil && len(accounts) == 0 {
		err = errors.New("wallet returned no accounts")
	}
	var chainID uint64
	if err == nil {
		chainID, err = wallet.ChainID(ctx, s.wallet)
	}
	if err != nil {
		gde := classifyConnectError(err)
		s.fail(gde)
		return gde
	}

	s.established(accounts[0], chainID)
	return nil
}

// established moves to Connected and starts a full probe.
func (s *Session) established(account string, chainID uint64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.conn = types.Connected(common.HexToAddress(account).Hex(), chainID)
	s.network = s.lookup(chainID)
	s.lastErr = nil
	s.mu.Unlock()

	s.listen()
	s.metrics.IncCounter(metrics.EventWalletConnect, map[string]string{
		"result":   "success",
		"chain_id": strconv.FormatUint(chainID, 10),
	})
	s.logger.Info("wallet connected", map[string]any{"account": account, "chain_id": chainID})
	s.startProbe(true)
}

func (s *Session) fail(err *types.GreenDishError) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	s.conn = types.Disconnected()
	s.lastErr = err
	s.clearContractLocked()
	s.mu.Unlock()

	s.unlisten()
	s.metrics.IncCounter(metrics.EventWalletConnect, map[string]string{"result": err.Code})
	s.logger.Error("wallet connection failed", map[string]any{"code": err.Code, "error": err})
	s.publish()
}

// Disconnect forgets the account locally. Wallet permissions are untouched.
func (s *Session) Disconnect() {
	s.disconnect("local")
}

func (s *Session) disconnect(reason string) {
	s.mu.Lock()
	was := s.conn.IsConnected()
	s.seq++
	s.conn = types.Disconnected()
	s.lastErr = nil
	s.clearContractLocked()
	s.mu.Unlock()

	s.unlisten()
	if was {
		s.metrics.IncCounter(metrics.EventWalletDisconnect, map[string]string{"result": reason})
		s.logger.Info("wallet disconnected", map[string]any{"reason": reason})
	}
	s.publish()
}

// SwitchNetwork asks the wallet to move to chainID, adding the chain from the
// registry when the wallet does not know it. It never panics; every failure
// is a *types.GreenDishError.
func (s *Session) SwitchNetwork(ctx context.Context, chainID uint64) error {
	err := s.switchNetwork(ctx, chainID)

	labels := map[string]string{"result": "success", "chain_id": strconv.FormatUint(chainID, 10)}
	if err != nil {
		labels["result"] = err.Code
		s.logger.Warn("network switch failed", map[string]any{"chain_id": chainID, "error": err})
		s.metrics.IncCounter(metrics.EventNetworkSwitch, labels)
		return err
	}
	s.metrics.IncCounter(metrics.EventNetworkSwitch, labels)
	return nil
}

func (s *Session) switchNetwork(ctx context.Context, chainID uint64) *types.GreenDishError {
	desc, err := s.registry.Lookup(chainID)
	if err != nil {
		return types.NewError(types.ErrUnknownNetwork, fmt.Sprintf("Chain %d is not a supported network", chainID), err)
	}
	if s.wallet == nil {
		return types.NewError(types.ErrWalletNotInstalled, "Please install MetaMask or another Ethereum wallet.", nil)
	}

	params := types.SwitchChainParams{ChainID: desc.HexChainID()}
	_, err = s.wallet.Request(ctx, wallet.MethodSwitchChain, params)
	if wallet.IsUnrecognizedChain(err) {
		s.logger.Info("wallet does not know chain, adding it", map[string]any{"chain_id": chainID})
		add, aerr := s.registry.AddChainParams(chainID)
		if aerr != nil {
			return types.NewError(types.ErrUnknownNetwork, "Failed to build add-chain request", aerr)
		}
		if _, err = s.wallet.Request(ctx, wallet.MethodAddChain, add); err == nil {
			_, err = s.wallet.Request(ctx, wallet.MethodSwitchChain, params)
		}
	}
	if err != nil {
		if wallet.IsUserRejected(err) {
			return types.NewError(types.ErrUserRejected, "Network switch rejected in wallet.", err)
		}
		return types.NewError(types.ErrNetworkMismatch, fmt.Sprintf("Failed to switch to %s", desc.ChainName), err)
	}

	// Not every wallet emits chainChanged for a programmatic switch.
	if current, err := wallet.ChainID(ctx, s.wallet); err == nil {
		s.onChainChanged(current)
	}
	return nil
}

// Refresh re-runs the full probe on the current chain.
func (s *Session) Refresh() error {
	s.mu.Lock()
	closed, connected := s.closed, s.conn.IsConnected()
	s.mu.Unlock()

	switch {
	case closed:
		return errClosed
	case !connected:
		return types.NewError(types.ErrNotConnected, "Wallet not connected. Please connect your wallet first.", nil)
	}
	s.startProbe(true)
	return nil
}

// Wait blocks until every probe started so far has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close releases listeners, stops waiting on in-flight probes and closes
// the provider. The session is unusable afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.seq++
	s.mu.Unlock()

	s.unlisten()
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	if s.provider != nil {
		s.provider.Close()
		s.provider = nil
	}
	s.contract = nil
	s.mu.Unlock()
}

// Subscribe registers fn for every published snapshot. fn runs on the
// publishing goroutine and must not call back into the session's mutating
// methods.
func (s *Session) Subscribe(fn func(types.Snapshot)) events.Subscription {
	return s.snapshots.Subscribe(fn)
}

// Binding hands the live contract handle to the registration flow.
func (s *Session) Binding() (registration.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.wallet == nil:
		return registration.Binding{}, types.NewError(types.ErrWalletNotInstalled, "Please install MetaMask or another Ethereum wallet.", nil)
	case !s.conn.IsConnected():
		return registration.Binding{}, types.NewError(types.ErrNotConnected, "Wallet not connected. Please connect your wallet first.", nil)
	case s.contract == nil:
		return registration.Binding{}, types.NewError(types.ErrContractNotDeployed,
			"Contract not connected. Please make sure you're on the correct network.", nil)
	}
	return registration.Binding{
		Account:  common.HexToAddress(s.conn.Account),
		ChainID:  s.conn.ChainID,
		Contract: s.contract,
		Provider: s.provider,
	}, nil
}

func (s *Session) listen() {
	s.mu.Lock()
	if s.listening || s.wallet == nil {
		s.mu.Unlock()
		return
	}
	s.listening = true
	s.mu.Unlock()

	s.listeners.Add(s.wallet.OnAccountsChanged(s.onAccountsChanged))
	s.listeners.Add(s.wallet.OnChainChanged(s.onChainChanged))
}

func (s *Session) unlisten() {
	s.mu.Lock()
	s.listening = false
	s.mu.Unlock()
	s.listeners.Close()
}

func (s *Session) onAccountsChanged(accounts []string) {
	if len(accounts) == 0 {
		s.mu.Lock()
		if !s.conn.IsConnected() {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.disconnect("wallet")
		return
	}

	account := common.HexToAddress(accounts[0]).Hex()
	s.mu.Lock()
	if !s.conn.IsConnected() || strings.EqualFold(s.conn.Account, account) {
		s.mu.Unlock()
		return
	}
	s.conn = types.Connected(account, s.conn.ChainID)
	s.mu.Unlock()

	s.logger.Info("wallet account changed", map[string]any{"account": account})
	s.startProbe(false)
}

func (s *Session) onChainChanged(chainID uint64) {
	s.mu.Lock()
	if !s.conn.IsConnected() || s.conn.ChainID == chainID {
		s.mu.Unlock()
		return
	}
	s.conn = types.Connected(s.conn.Account, chainID)
	s.network = s.lookup(chainID)
	s.mu.Unlock()

	s.logger.Info("wallet chain changed", map[string]any{"chain_id": chainID})
	s.startProbe(true)
}

// lookup returns nil for chains outside the registry.
func (s *Session) lookup(chainID uint64) *types.NetworkDescriptor {
	d, err := s.registry.Lookup(chainID)
	if err != nil {
		return nil
	}
	return &d
}

// clearContractLocked drops every probe-derived field. Callers hold mu.
func (s *Session) clearContractLocked() {
	if s.provider != nil {
		s.provider.Close()
		s.provider = nil
	}
	s.providerChain = 0
	s.fullPending = false
	s.contract = nil
	s.network = nil
	s.probe = probeState{status: types.ContractUnknown}
	s.probing = false
}

var errClosed = types.NewError(types.ErrNotConnected, "session closed", nil)
