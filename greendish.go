// Package greendish connects a wallet to the GreenDish restaurant contract on
// Axiomesh Gemini. It wires the network registry, the provider adapter, the
// contract probes, the session state machine and restaurant registration
// from a single configuration.
package greendish

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vitwit/greendish/clients"
	"github.com/vitwit/greendish/config"
	"github.com/vitwit/greendish/contract"
	"github.com/vitwit/greendish/logger"
	"github.com/vitwit/greendish/metrics"
	"github.com/vitwit/greendish/registration"
	"github.com/vitwit/greendish/registry"
	"github.com/vitwit/greendish/server"
	"github.com/vitwit/greendish/session"
	"github.com/vitwit/greendish/types"
	"github.com/vitwit/greendish/verification"
	"github.com/vitwit/greendish/wallet"
)

var _ server.Service = (*GreenDish)(nil)

// GreenDish is the main struct that provides all greendish functionality
type GreenDish struct {
	cfg       *config.Config
	registry  *registry.Registry
	wallet    wallet.Wallet
	keyWallet *wallet.KeyWallet
	session   *session.Session
	registrar registration.Registrar

	logger     logger.Logger
	metrics    metrics.Recorder
	httpClient *http.Client
	promReg    *prometheus.Registry
	gatherer   prometheus.Gatherer
	timeout    time.Duration
	walletSet  bool
}

// New builds a GreenDish instance from cfg. A nil cfg means config.Default().
// Without WithWallet, a KeyWallet is created when cfg carries a private key;
// otherwise the session behaves as if no wallet were installed.
func New(cfg *config.Config, opts ...Option) (*GreenDish, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &GreenDish{
		cfg:        cfg,
		logger:     logger.NoopLogger{},
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(g)
	}

	if err := g.setupMetrics(); err != nil {
		return nil, err
	}

	reg, err := loadRegistry(cfg.Network.NetworksFile)
	if err != nil {
		return nil, types.NewError(types.ErrConfigError, "loading networks", err)
	}
	g.registry = reg

	if err := g.setupWallet(); err != nil {
		return nil, err
	}

	factory, err := clients.NewFactory(cfg.Network.Adapter, g.wallet, g.httpClient)
	if err != nil {
		g.closeWallet()
		return nil, err
	}

	probeTimeout := cfg.Network.ProbeTimeout
	if g.timeout > 0 {
		probeTimeout = g.timeout
	}

	fallback := verification.NewRPCFallback(g.httpClient, cfg.Fallback.RequestsPerSecond, cfg.Fallback.Burst)
	if clients.ReadsNetworkRPC(cfg.Network.Adapter) {
		fallback.SkipPrimary()
	}
	sess, err := session.New(session.Config{
		Wallet:          g.wallet,
		Registry:        g.registry,
		Factory:         factory,
		CodeProbe:       verification.NewCodeProbe(fallback, g.logger, g.metrics),
		CapabilityProbe: verification.NewCapabilityProbe(g.logger, g.metrics),
		ContractAddress: common.HexToAddress(cfg.Contract.Address),
		TargetChainID:   cfg.Network.TargetChainID,
		GasLimit:        cfg.Contract.GasLimit,
		ProbeTimeout:    probeTimeout,
		Logger:          g.logger,
		Metrics:         g.metrics,
	})
	if err != nil {
		g.closeWallet()
		return nil, err
	}
	g.session = sess

	regOpts := []registration.Option{
		registration.WithLogger(g.logger),
		registration.WithMetrics(g.metrics),
	}
	if cfg.Contract.RegistrationTimeout > 0 {
		regOpts = append(regOpts, registration.WithTimeout(cfg.Contract.RegistrationTimeout))
	}
	g.registrar = registration.NewService(sess, regOpts...)

	return g, nil
}

func loadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.Default(), nil
	}
	return registry.LoadFile(path)
}

// setupMetrics installs a Prometheus recorder on a private registry when
// metrics are enabled and no recorder was supplied.
func (g *GreenDish) setupMetrics() error {
	if g.metrics == nil && (g.cfg.Metrics.Enabled || g.promReg != nil) {
		if g.promReg == nil {
			g.promReg = prometheus.NewRegistry()
		}
		rec, err := metrics.NewPrometheusRecorder(g.promReg)
		if err != nil {
			return types.NewError(types.ErrConfigError, "registering metrics", err)
		}
		g.metrics = rec
	}
	if g.promReg != nil {
		g.gatherer = g.promReg
	}
	g.metrics = metrics.OrNoop(g.metrics)
	return nil
}

func (g *GreenDish) setupWallet() error {
	if g.walletSet || g.cfg.Wallet.PrivateKey == "" {
		return nil
	}

	chainID := g.cfg.Wallet.ChainID
	if chainID == 0 {
		chainID = g.cfg.Network.TargetChainID
	}
	initial, err := g.registry.Lookup(chainID)
	if err != nil {
		return types.NewError(types.ErrConfigError, fmt.Sprintf("wallet chain %d is not registered", chainID), err)
	}

	kw, err := wallet.NewKeyWallet(g.cfg.Wallet.PrivateKey, initial,
		wallet.WithHTTPClient(g.httpClient),
		wallet.WithWalletLogger(g.logger),
	)
	if err != nil {
		return types.NewError(types.ErrConfigError, "creating key wallet", err)
	}
	g.keyWallet = kw
	g.wallet = kw
	return nil
}

func (g *GreenDish) closeWallet() {
	if g.keyWallet != nil {
		g.keyWallet.Close()
	}
}

// Open restores a previously granted wallet connection without prompting.
func (g *GreenDish) Open(ctx context.Context) error {
	return g.session.Open(ctx)
}

// Close stops in-flight probes and releases the session and wallet.
func (g *GreenDish) Close() {
	g.session.Close()
	g.closeWallet()
}

func (g *GreenDish) Session() *session.Session { return g.session }

func (g *GreenDish) Registry() *registry.Registry { return g.registry }

func (g *GreenDish) Config() *config.Config { return g.cfg }

// Gatherer returns the Prometheus registry metrics are recorded on, or nil
// when metrics are disabled.
func (g *GreenDish) Gatherer() prometheus.Gatherer { return g.gatherer }

func (g *GreenDish) Snapshot() types.Snapshot { return g.session.Snapshot() }

func (g *GreenDish) Connect(ctx context.Context) error { return g.session.Connect(ctx) }

func (g *GreenDish) Disconnect() { g.session.Disconnect() }

// Refresh re-checks the contract on the current chain without reconnecting.
func (g *GreenDish) Refresh() error { return g.session.Refresh() }

func (g *GreenDish) SwitchNetwork(ctx context.Context, chainID uint64) error {
	return g.session.SwitchNetwork(ctx, chainID)
}

// Wait blocks until every probe started so far has finished.
func (g *GreenDish) Wait() { g.session.Wait() }

func (g *GreenDish) Networks() []types.NetworkDescriptor { return g.registry.Descriptors() }

// Contract returns the contract handle bound by the last successful probe.
func (g *GreenDish) Contract() (*contract.GreenDish, error) {
	b, err := g.session.Binding()
	if err != nil {
		return nil, err
	}
	return b.Contract, nil
}

// TokenInfo reads the reward token details for account. Individual reads
// that fail are left empty.
func (g *GreenDish) TokenInfo(ctx context.Context, account common.Address) (types.TokenInfo, error) {
	c, err := g.Contract()
	if err != nil {
		return types.TokenInfo{}, err
	}
	return c.TokenInfo(ctx, account), nil
}

func (g *GreenDish) RewardsStatus(ctx context.Context) (types.RewardsStatus, error) {
	c, err := g.Contract()
	if err != nil {
		return types.RewardsStatus{}, err
	}
	status, err := c.RewardsStatus(ctx)
	if err != nil {
		return types.RewardsStatus{}, contract.ClassifyTxError(err)
	}
	return status, nil
}

// Register submits a restaurant registration and waits for it to be mined.
func (g *GreenDish) Register(ctx context.Context, reg types.RestaurantRegistration) (*types.RegistrationResult, error) {
	return g.registrar.Register(ctx, reg)
}
