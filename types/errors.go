package types

import (
	"errors"
	"fmt"
)

// GreenDishError is the single user-facing error type of the library.
type GreenDishError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *GreenDishError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *GreenDishError) Unwrap() error { return e.Err }

// NewError builds a GreenDishError wrapping err.
func NewError(code, message string, err error) *GreenDishError {
	return &GreenDishError{Code: code, Message: message, Err: err}
}

// IsCode reports whether err carries the given GreenDishError code.
func IsCode(err error, code string) bool {
	var gde *GreenDishError
	if errors.As(err, &gde) {
		return gde.Code == code
	}
	return false
}

// Common error codes
const (
	ErrUserRejected         = "USER_REJECTED"
	ErrWalletNotInstalled   = "WALLET_NOT_INSTALLED"
	ErrProviderIncompatible = "PROVIDER_INCOMPATIBLE"
	ErrContractNotDeployed  = "CONTRACT_NOT_DEPLOYED"
	ErrContractIncompatible = "CONTRACT_INCOMPATIBLE"
	ErrNetworkMismatch      = "NETWORK_MISMATCH"
	ErrUnknownNetwork       = "UNKNOWN_NETWORK"
	ErrNotConnected         = "NOT_CONNECTED"
	ErrInsufficientFunds    = "INSUFFICIENT_FUNDS"
	ErrGasEstimationFailed  = "GAS_ESTIMATION_FAILED"
	ErrTransactionReverted  = "TRANSACTION_REVERTED"
	ErrTransactionFailed    = "TRANSACTION_FAILED"
	ErrInvalidRegistration  = "INVALID_REGISTRATION"
	ErrConfigError          = "CONFIG_ERROR"
)
