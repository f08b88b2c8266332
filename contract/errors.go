package contract

import (
	"errors"

	"github.com/vitwit/greendish/clients"
	"github.com/vitwit/greendish/types"
	"github.com/vitwit/greendish/wallet"
)

// ClassifyTxError maps a submission failure to the single user-facing
// GreenDishError shown for it. A GreenDishError is returned unchanged.
func ClassifyTxError(err error) *types.GreenDishError {
	if err == nil {
		return nil
	}

	var gde *types.GreenDishError
	if errors.As(err, &gde) {
		return gde
	}

	switch {
	case wallet.IsUserRejected(err) || clients.ErrorContains(err, clients.MsgUserRejected, clients.MsgUserDenied):
		return types.NewError(types.ErrUserRejected, "Transaction rejected in wallet.", err)

	case clients.ErrorContains(err, clients.MsgInsufficientFunds):
		return types.NewError(types.ErrInsufficientFunds,
			"Insufficient funds for gas. Need more funds on your current network.", err)

	case clients.ErrorContains(err,
		clients.MsgCannotEstimateGas,
		clients.MsgGasRequiredExceeds,
		clients.MsgUnpredictableGas,
		clients.MsgExecutionReverted,
	):
		return types.NewError(types.ErrGasEstimationFailed,
			"Contract execution error. This might be due to invalid parameters or contract restrictions.", err)

	case clients.ErrorContains(err, clients.MsgInvalidOpcode):
		return types.NewError(types.ErrContractIncompatible,
			"Contract method execution failed. This might be due to an incompatible contract version or network mismatch.", err)

	default:
		return types.NewError(types.ErrTransactionFailed, "Transaction failed: "+err.Error(), err)
	}
}
