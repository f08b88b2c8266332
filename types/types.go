package types

import (
	"fmt"
	"strings"
)

// ConnectionState enumerates the wallet connection lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// ConnectionStatus is the current wallet connection. Account and ChainID are
// only meaningful when State is StateConnected; Reason only when StateError.
type ConnectionStatus struct {
	State   ConnectionState `json:"state"`
	Account string          `json:"account,omitempty"`
	ChainID uint64          `json:"chainId,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

func Disconnected() ConnectionStatus { return ConnectionStatus{State: StateDisconnected} }

func Connecting() ConnectionStatus { return ConnectionStatus{State: StateConnecting} }

func Connected(account string, chainID uint64) ConnectionStatus {
	return ConnectionStatus{State: StateConnected, Account: account, ChainID: chainID}
}

func Errored(reason string) ConnectionStatus {
	return ConnectionStatus{State: StateError, Reason: reason}
}

func (c ConnectionStatus) IsConnected() bool { return c.State == StateConnected }

func (c ConnectionStatus) String() string {
	switch c.State {
	case StateConnected:
		return fmt.Sprintf("connected(%s, %d)", c.Account, c.ChainID)
	case StateError:
		return fmt.Sprintf("error(%s)", c.Reason)
	default:
		return string(c.State)
	}
}

// ContractStatus is always derived from the last probe run, never set by callers.
type ContractStatus string

const (
	ContractUnknown              ContractStatus = "unknown"
	ContractNotDeployed          ContractStatus = "not_deployed"
	ContractDeployedIncompatible ContractStatus = "deployed_incompatible"
	ContractDeployedCompatible   ContractStatus = "deployed_compatible"
)

// CodeProbeResult is the outcome of a bytecode probe.
type CodeProbeResult string

const (
	CodeExists        CodeProbeResult = "exists"
	CodeNotDeployed   CodeProbeResult = "not_deployed"
	CodeIndeterminate CodeProbeResult = "indeterminate"
)

// Compatibility classifies a deployed contract against the GreenDish interface.
type Compatibility string

const (
	Compatible          Compatibility = "compatible"
	PartiallyCompatible Compatibility = "partially_compatible"
	Incompatible        Compatibility = "incompatible"
)

// CapabilityReport records which advisory reads succeeded. It is produced
// fresh on every probe run.
type CapabilityReport struct {
	HasExpectedReadMethod bool `json:"hasExpectedReadMethod"`
	OwnerReadable         bool `json:"ownerReadable"`
	SupplyReadable        bool `json:"supplyReadable"`
}

// Compatibility derives the displayed classification from the report.
func (r CapabilityReport) Compatibility() Compatibility {
	switch {
	case r.HasExpectedReadMethod:
		return Compatible
	case r.OwnerReadable || r.SupplyReadable:
		return PartiallyCompatible
	default:
		return Incompatible
	}
}

// ContractStatus maps a report on deployed code to a contract status.
func (r CapabilityReport) ContractStatus() ContractStatus {
	if r.HasExpectedReadMethod {
		return ContractDeployedCompatible
	}
	return ContractDeployedIncompatible
}

// StatusLevel is the severity used by the view when rendering Snapshot.Message.
type StatusLevel string

const (
	LevelSuccess StatusLevel = "success"
	LevelInfo    StatusLevel = "info"
	LevelWarning StatusLevel = "warning"
	LevelError   StatusLevel = "error"
)

// StatusMessage is the human-readable rendering of a snapshot.
type StatusMessage struct {
	Level   StatusLevel `json:"level"`
	Title   string      `json:"title"`
	Message string      `json:"message"`
}

// Snapshot is the read-only view of the session published to the view layer.
type Snapshot struct {
	SessionID       string             `json:"sessionId"`
	Sequence        uint64             `json:"sequence"`
	Connection      ConnectionStatus   `json:"connection"`
	Contract        ContractStatus     `json:"contract"`
	ContractAddress string             `json:"contractAddress"`
	Code            CodeProbeResult    `json:"code,omitempty"`
	Capabilities    *CapabilityReport  `json:"capabilities,omitempty"`
	Compatibility   Compatibility      `json:"compatibility,omitempty"`
	Network         *NetworkDescriptor `json:"network,omitempty"`
	NetworkValid    bool               `json:"networkValid"`
	TargetChainID   uint64             `json:"targetChainId"`
	Probing         bool               `json:"probing"`
	IsRestaurant    bool               `json:"isRestaurant"`
	Warning         string             `json:"warning,omitempty"`
	LastError       *GreenDishError    `json:"lastError,omitempty"`
	Status          StatusMessage      `json:"status"`
}

// SupplySource mirrors the on-chain enum of restaurantRegister.
type SupplySource uint8

const (
	SupplyLocalProducer SupplySource = iota
	SupplyImportedProducer
	SupplyGreenProducer
	SupplyOther
)

var supplySourceNames = map[SupplySource]string{
	SupplyLocalProducer:    "local",
	SupplyImportedProducer: "imported",
	SupplyGreenProducer:    "green",
	SupplyOther:            "other",
}

func (s SupplySource) String() string {
	if n, ok := supplySourceNames[s]; ok {
		return n
	}
	return fmt.Sprintf("supply(%d)", uint8(s))
}

// ParseSupplySource accepts either the numeric value or the short name.
func ParseSupplySource(v string) (SupplySource, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for k, n := range supplySourceNames {
		if v == n || v == fmt.Sprint(uint8(k)) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown supply source %q", v)
}

// RestaurantRegistration is the registration form submitted by a restaurant.
type RestaurantRegistration struct {
	RestaurantName    string       `json:"restaurantName" validate:"required,max=128"`
	SupplySource      SupplySource `json:"supplySource" validate:"lte=3"`
	SupplyDetails     string       `json:"supplyDetails" validate:"required,max=1024"`
	DishName          string       `json:"dishName" validate:"required,max=128"`
	DishMainComponent string       `json:"dishMainComponent" validate:"required,max=128"`
	DishCarbonCredits uint64       `json:"dishCarbonCredits" validate:"gte=1,lte=100"`
	// DishPrice is a decimal amount of the native currency, e.g. "0.01".
	DishPrice string `json:"dishPrice" validate:"required,minprice"`
}

// RegistrationResult is returned once the registration transaction is mined.
type RegistrationResult struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
	ChainID     uint64 `json:"chainId"`
}

// TokenInfo is the token data shown on profile pages. Fields that could not
// be read are left empty.
type TokenInfo struct {
	Account     string `json:"account,omitempty"`
	Name        string `json:"name,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	Decimals    uint8  `json:"decimals"`
	Balance     string `json:"balance,omitempty"`
	TotalSupply string `json:"totalSupply,omitempty"`
}

// RewardsStatus reports whether purchases can still mint reward tokens.
type RewardsStatus struct {
	Available       bool   `json:"available"`
	RemainingSupply string `json:"remainingSupply"`
}
