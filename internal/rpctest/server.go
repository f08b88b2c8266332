// Package rpctest runs an in-process Ethereum JSON-RPC node for tests.
//
// The node is a go-ethereum rpc.Server with an "eth" service registered on
// it, so requests are decoded, dispatched and answered by the same code a
// real geth endpoint uses. Each eth_ method forwards its raw arguments to a
// Handler installed by the test.
package rpctest

import (
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
)

// Handler answers one JSON-RPC method. Returning an *Error produces a
// JSON-RPC error object with that code; any other error is reported with
// code -32000.
type Handler func(params []json.RawMessage) (any, error)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// ErrorCode implements rpc.Error.
func (e *Error) ErrorCode() int { return e.Code }

var _ rpc.Error = (*Error)(nil)

// Server is a fake node. Methods without a handler answer -32601.
type Server struct {
	*httptest.Server

	rpc *rpc.Server

	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]int
}

// NewServer starts a node serving handlers and stops it when t finishes.
func NewServer(t testing.TB, handlers map[string]Handler) *Server {
	t.Helper()
	s := &Server{
		rpc:      rpc.NewServer(),
		handlers: make(map[string]Handler),
		calls:    make(map[string]int),
	}
	for k, v := range handlers {
		s.handlers[k] = v
	}
	if err := s.rpc.RegisterName("eth", &ethService{node: s}); err != nil {
		t.Fatalf("registering eth service: %v", err)
	}
	s.Server = httptest.NewServer(s.rpc)
	t.Cleanup(func() {
		s.Server.Close()
		s.rpc.Stop()
	})
	return s
}

// Handle installs or replaces the handler for method.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
}

// Calls returns how many times method was requested.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Result is a convenience Handler returning a fixed value.
func Result(v any) Handler {
	return func([]json.RawMessage) (any, error) { return v, nil }
}

// dispatch runs the handler for method. Nil optional arguments are dropped
// so handlers see the parameters the client actually sent.
func (s *Server) dispatch(method string, args ...*json.RawMessage) (any, error) {
	s.mu.Lock()
	h, ok := s.handlers[method]
	s.calls[method]++
	s.mu.Unlock()

	if !ok {
		return nil, &Error{Code: -32601, Message: "the method " + method + " does not exist/is not available"}
	}

	params := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		params = append(params, *a)
	}
	return h(params)
}

// ethService is registered under the "eth" namespace. rpc.Server derives
// the wire name from the Go name, so GetCode serves eth_getCode.
type ethService struct {
	node *Server
}

func (e *ethService) ChainId() (any, error) {
	return e.node.dispatch("eth_chainId")
}

func (e *ethService) BlockNumber() (any, error) {
	return e.node.dispatch("eth_blockNumber")
}

func (e *ethService) GasPrice() (any, error) {
	return e.node.dispatch("eth_gasPrice")
}

func (e *ethService) MaxPriorityFeePerGas() (any, error) {
	return e.node.dispatch("eth_maxPriorityFeePerGas")
}

func (e *ethService) GetCode(address json.RawMessage, block *json.RawMessage) (any, error) {
	return e.node.dispatch("eth_getCode", &address, block)
}

func (e *ethService) GetBalance(address json.RawMessage, block *json.RawMessage) (any, error) {
	return e.node.dispatch("eth_getBalance", &address, block)
}

func (e *ethService) GetTransactionCount(address json.RawMessage, block *json.RawMessage) (any, error) {
	return e.node.dispatch("eth_getTransactionCount", &address, block)
}

func (e *ethService) Call(args json.RawMessage, block *json.RawMessage) (any, error) {
	return e.node.dispatch("eth_call", &args, block)
}

func (e *ethService) EstimateGas(args json.RawMessage, block *json.RawMessage) (any, error) {
	return e.node.dispatch("eth_estimateGas", &args, block)
}

func (e *ethService) SendRawTransaction(data json.RawMessage) (any, error) {
	return e.node.dispatch("eth_sendRawTransaction", &data)
}

func (e *ethService) GetTransactionReceipt(hash json.RawMessage) (any, error) {
	return e.node.dispatch("eth_getTransactionReceipt", &hash)
}

func (e *ethService) GetTransactionByHash(hash json.RawMessage) (any, error) {
	return e.node.dispatch("eth_getTransactionByHash", &hash)
}
