package session

import (
	"context"
	"strconv"

	"github.com/vitwit/greendish/clients"
	"github.com/vitwit/greendish/contract"
	"github.com/vitwit/greendish/metrics"
	"github.com/vitwit/greendish/types"
	"github.com/vitwit/greendish/wallet"
)

type probeJob struct {
	seq      uint64
	chainID  uint64
	network  types.NetworkDescriptor
	known    bool
	full     bool
	provider clients.Provider
	code     types.CodeProbeResult
}

type probeResult struct {
	probeJob
	// opened is the provider a full probe created; it is closed if the
	// result is discarded.
	opened   clients.Provider
	contract *contract.GreenDish
	caps     *types.CapabilityReport
}

// startProbe stamps a new sequence number and runs the probe in the
// background. A capability-only probe is upgraded to a full one when the
// current provider does not belong to the current chain.
func (s *Session) startProbe(full bool) {
	s.mu.Lock()
	if s.closed || !s.conn.IsConnected() {
		s.mu.Unlock()
		return
	}

	chainID := s.conn.ChainID
	if !full && (s.provider == nil || s.providerChain != chainID || s.fullPending) {
		full = true
	}
	if !full && s.probe.code != types.CodeExists {
		// Nothing deployed to re-check for the new account.
		s.mu.Unlock()
		s.publish()
		return
	}

	s.seq++
	job := probeJob{seq: s.seq, chainID: chainID, full: full}
	if s.network != nil {
		job.network = *s.network
		job.known = true
	} else {
		job.network = types.NetworkDescriptor{ChainID: chainID}
	}

	s.contract = nil
	if full {
		s.fullPending = true
		s.probe = probeState{status: types.ContractUnknown}
	} else {
		job.provider = s.provider
		job.code = s.probe.code
		s.probe.caps = nil
	}
	s.probing = true
	s.wg.Add(1)
	s.mu.Unlock()

	s.publish()
	go s.run(job)
}

func (s *Session) run(job probeJob) {
	defer s.wg.Done()

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res := probeResult{probeJob: job}
	provider := job.provider
	if job.full {
		p, err := s.factory(ctx, job.network)
		if err != nil {
			s.logger.Warn("could not open provider", map[string]any{"chain_id": job.chainID, "error": err})
		} else {
			provider = p
			res.opened = p
		}
		res.code = s.code.Probe(ctx, provider, job.network, s.address)
	}

	if res.code == types.CodeExists && provider != nil {
		g, err := contract.New(s.address, provider, contract.WithGasLimit(s.gasLimit))
		if err != nil {
			s.logger.Error("could not bind contract", map[string]any{"error": err})
		} else {
			report := s.caps.Probe(ctx, g, job.chainID)
			res.contract = g
			res.caps = &report
		}
	}

	s.apply(res)
}

// apply publishes res only if no newer probe has started since it did.
func (s *Session) apply(res probeResult) {
	s.mu.Lock()
	if s.closed || res.seq != s.seq || !s.conn.IsConnected() || s.conn.ChainID != res.chainID {
		latest := s.seq
		s.mu.Unlock()

		if res.opened != nil {
			res.opened.Close()
		}
		s.metrics.IncCounter(metrics.EventProbeDiscarded, map[string]string{
			"result":   "stale",
			"chain_id": strconv.FormatUint(res.chainID, 10),
		})
		s.logger.Debug("discarding stale probe", map[string]any{"seq": res.seq, "latest": latest})
		return
	}

	if res.full {
		if s.provider != nil {
			s.provider.Close()
		}
		s.provider = res.opened
		s.providerChain = res.chainID
		s.fullPending = false
	}
	s.contract = res.contract
	s.probe = derive(res)
	s.probing = false
	status := s.probe.status
	s.mu.Unlock()

	s.logger.Debug("probe applied", map[string]any{
		"seq":      res.seq,
		"chain_id": res.chainID,
		"code":     string(res.code),
		"status":   string(status),
	})
	s.publish()
}

func derive(res probeResult) probeState {
	st := probeState{code: res.code, caps: res.caps, status: types.ContractUnknown}
	switch res.code {
	case types.CodeExists:
		if res.caps == nil {
			st.warn = types.ErrContractIncompatible
			break
		}
		st.status = res.caps.ContractStatus()
		if res.caps.Compatibility() != types.Compatible {
			st.warn = types.ErrContractIncompatible
		}
	case types.CodeNotDeployed:
		st.status = types.ContractNotDeployed
		st.warn = types.ErrContractNotDeployed
	case types.CodeIndeterminate:
		st.warn = types.ErrNetworkMismatch
		if !res.known {
			st.warn = types.ErrUnknownNetwork
		}
	}
	return st
}

// publish emits the current snapshot. pubMu keeps emissions in state order.
func (s *Session) publish() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.snapshots.Emit(s.Snapshot())
}

// Snapshot returns the current read-only view of the session.
func (s *Session) Snapshot() types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := types.Snapshot{
		SessionID:       s.id,
		Sequence:        s.seq,
		Connection:      s.conn,
		Contract:        s.probe.status,
		ContractAddress: s.address.Hex(),
		Code:            s.probe.code,
		TargetChainID:   s.target,
		Probing:         s.probing,
		IsRestaurant:    s.conn.IsConnected(),
		Warning:         s.probe.warn,
	}
	if s.conn.IsConnected() {
		snap.NetworkValid = s.conn.ChainID == s.target
	}
	if s.probe.caps != nil {
		caps := *s.probe.caps
		snap.Capabilities = &caps
		snap.Compatibility = caps.Compatibility()
	}
	if s.network != nil {
		n := *s.network
		n.RPCURLs = append([]string(nil), s.network.RPCURLs...)
		snap.Network = &n
	}
	if s.lastErr != nil {
		e := *s.lastErr
		snap.LastError = &e
	}
	snap.Status = statusMessage(snap, s.targetName())
	return snap
}

func (s *Session) targetName() string {
	if d, err := s.registry.Lookup(s.target); err == nil {
		return d.ChainName
	}
	return "chain " + strconv.FormatUint(s.target, 10)
}

func classifyConnectError(err error) *types.GreenDishError {
	if wallet.IsUserRejected(err) {
		return types.NewError(types.ErrUserRejected, "Connection request rejected in wallet.", err)
	}
	return types.NewError(types.ErrNotConnected, "Failed to connect wallet", err)
}
