// Package metrics records session and probe events.
package metrics

import "time"

// Event names.
const (
	EventCodeProbe        = "code_probe"
	EventFallbackUsed     = "code_probe_fallback"
	EventCapabilityProbe  = "capability_probe"
	EventProbeDiscarded   = "probe_discarded"
	EventWalletConnect    = "wallet_connect"
	EventWalletDisconnect = "wallet_disconnect"
	EventNetworkSwitch    = "network_switch"
	EventRegistration     = "registration"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
