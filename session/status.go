package session

import (
	"fmt"

	"github.com/vitwit/greendish/types"
)

// statusMessage renders the banner shown above every page.
func statusMessage(s types.Snapshot, targetName string) types.StatusMessage {
	switch {
	case !s.Connection.IsConnected():
		msg := types.StatusMessage{
			Level:   types.LevelWarning,
			Title:   "Wallet Not Connected",
			Message: "Connect your wallet to interact with the smart contract.",
		}
		switch {
		case s.LastError != nil:
			msg.Level = types.LevelError
			msg.Message = s.LastError.Message
		case s.Connection.State == types.StateError:
			msg.Level = types.LevelError
			msg.Title = "Wallet Unavailable"
			msg.Message = s.Connection.Reason
		}
		return msg

	case !s.NetworkValid:
		return types.StatusMessage{
			Level: types.LevelWarning,
			Title: "Wrong Network",
			Message: fmt.Sprintf("Please switch to the %s network (Chain ID: %d). You're currently on network %d.",
				targetName, s.TargetChainID, s.Connection.ChainID),
		}

	case s.Probing:
		return types.StatusMessage{
			Level:   types.LevelInfo,
			Title:   "Checking Contract...",
			Message: "Verifying the smart contract on the network...",
		}

	case s.Code == types.CodeNotDeployed:
		return types.StatusMessage{
			Level: types.LevelError,
			Title: "Contract Not Found",
			Message: fmt.Sprintf("No contract found at %s. You need to deploy your contract to %s.",
				s.ContractAddress, targetName),
		}

	case s.Code == types.CodeIndeterminate:
		return types.StatusMessage{
			Level: types.LevelWarning,
			Title: "Network Mismatch",
			Message: fmt.Sprintf("Could not confirm the contract at %s. Your wallet may be connected to a different node than the network RPC.",
				s.ContractAddress),
		}

	case s.Contract == types.ContractDeployedCompatible:
		return types.StatusMessage{
			Level:   types.LevelSuccess,
			Title:   "Contract Connected",
			Message: "Smart contract is available and ready to use.",
		}

	case s.Contract == types.ContractDeployedIncompatible:
		return types.StatusMessage{
			Level: types.LevelWarning,
			Title: "Contract Incompatible",
			Message: fmt.Sprintf("A contract exists at %s but it is %s with GreenDish.",
				s.ContractAddress, compatibilityText(s.Compatibility)),
		}

	default:
		return types.StatusMessage{
			Level:   types.LevelError,
			Title:   "Connection Error",
			Message: "Could not verify the smart contract. There might be network issues.",
		}
	}
}

func compatibilityText(c types.Compatibility) string {
	if c == types.PartiallyCompatible {
		return "only partially compatible"
	}
	return "not compatible"
}
