package clients

import "strings"

// Substrings nodes and wallets put in transaction errors. Matching is case
// insensitive.
const (
	// -----------------------------
	// FUNDS
	// -----------------------------
	MsgInsufficientFunds = "insufficient funds"

	// -----------------------------
	// GAS ESTIMATION
	// -----------------------------
	MsgCannotEstimateGas  = "cannot estimate gas"
	MsgGasRequiredExceeds = "gas required exceeds"
	MsgUnpredictableGas   = "unpredictable_gas_limit"

	// -----------------------------
	// EXECUTION
	// -----------------------------
	MsgExecutionReverted = "execution reverted"
	MsgInvalidOpcode     = "invalid opcode"

	// -----------------------------
	// WALLET
	// -----------------------------
	MsgUserRejected = "user rejected"
	MsgUserDenied   = "user denied"
)

// ErrorContains reports whether err's message contains any of markers.
func ErrorContains(err error, markers ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
