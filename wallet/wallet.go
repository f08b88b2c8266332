// Package wallet defines the injected-wallet boundary the session talks to:
// a request/response channel plus account and chain change notifications.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vitwit/greendish/events"
	"github.com/vitwit/greendish/utils"
)

// Wallet methods used by the session.
const (
	MethodRequestAccounts = "eth_requestAccounts"
	MethodAccounts        = "eth_accounts"
	MethodChainID         = "eth_chainId"
	MethodSwitchChain     = "wallet_switchEthereumChain"
	MethodAddChain        = "wallet_addEthereumChain"
	MethodSendTransaction = "eth_sendTransaction"
)

// Provider error codes (EIP-1193 / EIP-3085 / EIP-3326).
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeUnrecognizedChain = 4902
	CodeInternal          = -32603
)

// Wallet is the injected wallet object.
type Wallet interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
	OnAccountsChanged(fn func(accounts []string)) events.Subscription
	OnChainChanged(fn func(chainID uint64)) events.Subscription
}

// ProviderRPCError is the error shape wallets return from Request.
type ProviderRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ProviderRPCError) Error() string {
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

// ErrorCode makes ProviderRPCError satisfy rpc.Error.
func (e *ProviderRPCError) ErrorCode() int { return e.Code }

var _ rpc.Error = (*ProviderRPCError)(nil)

// ErrorCode extracts a JSON-RPC / provider error code from err, if any.
func ErrorCode(err error) (int, bool) {
	var rerr rpc.Error
	if errors.As(err, &rerr) {
		return rerr.ErrorCode(), true
	}
	return 0, false
}

// IsUserRejected reports whether err is a wallet rejection.
func IsUserRejected(err error) bool {
	if code, ok := ErrorCode(err); ok && code == CodeUserRejected {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "user rejected")
}

// IsUnrecognizedChain reports whether err means the wallet does not know the chain.
func IsUnrecognizedChain(err error) bool {
	code, ok := ErrorCode(err)
	return ok && code == CodeUnrecognizedChain
}

// RequestAccounts asks the wallet for permission and returns the granted accounts.
func RequestAccounts(ctx context.Context, w Wallet) ([]string, error) {
	var accounts []string
	if err := call(ctx, w, &accounts, MethodRequestAccounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Accounts returns the accounts already exposed to the caller, without prompting.
func Accounts(ctx context.Context, w Wallet) ([]string, error) {
	var accounts []string
	if err := call(ctx, w, &accounts, MethodAccounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ChainID returns the wallet's active chain.
func ChainID(ctx context.Context, w Wallet) (uint64, error) {
	var hex string
	if err := call(ctx, w, &hex, MethodChainID); err != nil {
		return 0, err
	}
	id, err := hexutil.DecodeUint64(hex)
	if err != nil {
		return 0, fmt.Errorf("decode chain id %q: %w", hex, err)
	}
	return id, nil
}

// TransactionArgs is the eth_sendTransaction parameter object.
type TransactionArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

// SendTransaction asks the wallet to sign and broadcast args.
func SendTransaction(ctx context.Context, w Wallet, args TransactionArgs) (common.Hash, error) {
	var hash string
	if err := call(ctx, w, &hash, MethodSendTransaction, args); err != nil {
		return common.Hash{}, err
	}
	if err := utils.ValidateTransactionHash(hash); err != nil {
		return common.Hash{}, fmt.Errorf("wallet returned a malformed hash: %w", err)
	}
	return common.HexToHash(hash), nil
}

func call(ctx context.Context, w Wallet, out any, method string, params ...any) error {
	raw, err := w.Request(ctx, method, params...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// decodeParam re-decodes a loosely typed request parameter into out.
func decodeParam(params []any, i int, out any) error {
	if len(params) <= i {
		return &ProviderRPCError{Code: -32602, Message: "missing params"}
	}
	raw, err := json.Marshal(params[i])
	if err != nil {
		return &ProviderRPCError{Code: -32602, Message: err.Error()}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderRPCError{Code: -32602, Message: err.Error()}
	}
	return nil
}
