// Package pool implements a pooled-stake lottery with manager-only payouts and
// participant disputes settled by an arbitrator.
//
// The transitions live on State and are shared by two engines. Service runs
// them inside PostgreSQL transactions and backs the HTTP API. Contract runs
// them in memory against a caller-supplied Transferer, which lets a winner
// call back into the pool mid-payout; it is the engine embedders and tests
// use when no database is involved.
package pool

import (
	"fmt"
	"math/big"
	"slices"
)

// State is the full contract state of one pool. Its methods validate the
// caller and the round before touching anything, so a returned error always
// leaves the State as it was.
type State struct {
	// Address is the custody address holding the pot.
	Address    Address
	Manager    Address
	Governance Governance
	// Round counts completed payouts.
	Round   uint64
	Players []Address
	Pot     *big.Int
	Dispute *Dispute
}

// NewState returns the state of a freshly deployed pool.
func NewState(address, manager Address, gov Governance) State {
	return State{
		Address:    address,
		Manager:    manager,
		Governance: gov,
		Players:    []Address{},
		Pot:        new(big.Int),
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Players = slices.Clone(s.Players)
	if out.Players == nil {
		out.Players = []Address{}
	}
	out.Pot = cloneAmount(s.Pot)
	if s.Dispute != nil {
		d := *s.Dispute
		out.Dispute = &d
	}
	return out
}

// IsPlayer reports whether addr holds at least one slot in the current round.
func (s *State) IsPlayer(addr Address) bool {
	return slices.Contains(s.Players, addr)
}

// DisputeActive reports whether a dispute is pending.
func (s *State) DisputeActive() bool {
	return s.Dispute != nil
}

// Enter appends caller as a new slot and adds value to the pot.
func (s *State) Enter(caller Address, value *big.Int, policy Policy) error {
	if caller.IsZero() {
		return ErrInvalidAddress
	}
	if caller == s.Address {
		return ErrReservedAddress
	}
	if value == nil || value.Cmp(policy.minimumStake()) <= 0 {
		return ErrInsufficientStake
	}
	s.Players = append(s.Players, caller)
	s.Pot = new(big.Int).Add(cloneAmount(s.Pot), value)
	return nil
}

// StagePayout selects the winner and finalizes the round: players are
// cleared and the pot zeroed before the returned Payout is handed to any
// transfer. Callers restore a Clone taken beforehand if the transfer fails.
func (s *State) StagePayout(caller Address, policy Policy, src RandomnessSource) (Payout, error) {
	if caller != s.Manager {
		return Payout{}, ErrUnauthorized
	}
	if len(s.Players) == 0 {
		return Payout{}, ErrEmptyPool
	}
	if policy.FreezePayoutOnDispute && s.Dispute != nil {
		return Payout{}, ErrDisputeActive
	}

	entropy, err := src.Entropy(EntropyInput{
		Pool:    s.Address,
		Round:   s.Round,
		Players: slices.Clone(s.Players),
	})
	if err != nil {
		return Payout{}, fmt.Errorf("pool: entropy: %w", err)
	}

	payout := Payout{
		Winner: s.Players[selectIndex(entropy, len(s.Players))],
		Amount: cloneAmount(s.Pot),
		Round:  s.Round,
	}

	s.Players = []Address{}
	s.Pot = new(big.Int)
	s.Round++
	return payout, nil
}

// RaiseDispute records a dispute from a current participant.
func (s *State) RaiseDispute(caller Address, reason string) (Event, error) {
	if !s.IsPlayer(caller) {
		return Event{}, ErrNotAParticipant
	}
	if s.Dispute != nil {
		return Event{}, ErrDisputeActive
	}
	s.Dispute = &Dispute{RaisedBy: caller, Reason: reason}
	return DisputeRaised(caller, reason), nil
}

// ResolveDispute clears the pending dispute on behalf of the arbitrator and
// returns it along with the decision event.
func (s *State) ResolveDispute(caller Address, policy Policy) (Dispute, Event, error) {
	if caller != s.Governance.Arbitrator {
		return Dispute{}, Event{}, ErrUnauthorized
	}
	if s.Dispute == nil {
		return Dispute{}, Event{}, ErrNoActiveDispute
	}
	resolved := *s.Dispute
	s.Dispute = nil
	return resolved, Decision(caller, policy.ResolutionAmount), nil
}
