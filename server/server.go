// Package server exposes a session over HTTP: the published snapshot, the
// three mutating entry points, token reads and restaurant registration.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitwit/greendish/logger"
	"github.com/vitwit/greendish/types"
	"github.com/vitwit/greendish/utils"
)

const maxBodyBytes = 1 << 20

// Service is what the HTTP layer needs from a GreenDish instance.
type Service interface {
	Snapshot() types.Snapshot
	Connect(ctx context.Context) error
	Disconnect()
	Refresh() error
	SwitchNetwork(ctx context.Context, chainID uint64) error
	Networks() []types.NetworkDescriptor
	TokenInfo(ctx context.Context, account common.Address) (types.TokenInfo, error)
	RewardsStatus(ctx context.Context) (types.RewardsStatus, error)
	Register(ctx context.Context, reg types.RestaurantRegistration) (*types.RegistrationResult, error)
}

// Server is the HTTP server
type Server struct {
	svc      Service
	gatherer prometheus.Gatherer
	logger   logger.Logger
	timeout  time.Duration
	router   *chi.Mux
}

type Option func(*Server)

// WithGatherer serves /metrics from g. Without it the route is not mounted.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.logger = logger.OrNoop(l) }
}

// WithRequestTimeout bounds every request. Registration waits for a receipt,
// so this should exceed the registration timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// New creates a new server
func New(svc Service, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		logger:  logger.NoopLogger{},
		timeout: 150 * time.Second,
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	if s.timeout > 0 {
		s.router.Use(middleware.Timeout(s.timeout))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)

	s.router.Get("/status", s.handleStatus)
	s.router.Post("/connect", s.handleConnect)
	s.router.Post("/disconnect", s.handleDisconnect)
	s.router.Post("/refresh", s.handleRefresh)
	s.router.Post("/network/{chainID}", s.handleSwitchNetwork)
	s.router.Get("/networks", s.handleNetworks)
	s.router.Get("/token/{account}", s.handleTokenInfo)
	s.router.Get("/rewards", s.handleRewards)
	s.router.Post("/restaurants", s.handleRegister)

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Snapshot())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Connect(r.Context()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Snapshot())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.svc.Disconnect()
	writeJSON(w, http.StatusOK, s.svc.Snapshot())
}

// handleRefresh restarts the contract checks; the returned snapshot is
// still probing.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Refresh(); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.svc.Snapshot())
}

func (s *Server) handleSwitchNetwork(w http.ResponseWriter, r *http.Request) {
	chainID, err := utils.ParseChainID(chi.URLParam(r, "chainID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CHAIN_ID", "chain id must be decimal or 0x-prefixed hex")
		return
	}
	if err := s.svc.SwitchNetwork(r.Context(), chainID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Snapshot())
}

func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"networks": s.svc.Networks()})
}

func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	account, err := utils.ChecksumAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
		return
	}
	info, err := s.svc.TokenInfo(r.Context(), common.HexToAddress(account))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	info.Account = account
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.RewardsStatus(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "failed to read request body")
		return
	}

	reg, err := utils.ParseRegistration(body)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	result, err := s.svc.Register(r.Context(), *reg)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var gde *types.GreenDishError
	if !errors.As(err, &gde) {
		s.logger.Error("unclassified error", map[string]any{
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
			"error":      err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeError(w, statusFor(gde.Code), gde.Code, gde.Message)
}

// statusFor maps a GreenDishError code onto an HTTP status.
func statusFor(code string) int {
	switch code {
	case types.ErrInvalidRegistration, types.ErrUnknownNetwork:
		return http.StatusBadRequest
	case types.ErrUserRejected:
		return http.StatusForbidden
	case types.ErrWalletNotInstalled, types.ErrNotConnected,
		types.ErrNetworkMismatch, types.ErrContractNotDeployed,
		types.ErrContractIncompatible, types.ErrProviderIncompatible:
		return http.StatusConflict
	case types.ErrInsufficientFunds, types.ErrGasEstimationFailed, types.ErrTransactionReverted:
		return http.StatusUnprocessableEntity
	case types.ErrTransactionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
