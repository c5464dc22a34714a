package pool

import (
	"encoding/hex"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// Governance holds the descriptive fields fixed when a pool is deployed.
// Nothing mutates them afterwards.
type Governance struct {
	GoverningLaw string
	Jurisdiction string
	Arbitrator   Address
}

// Dispute is the single unresolved dispute a pool may carry.
type Dispute struct {
	RaisedBy Address
	Reason   string
}

// Payout describes a completed winner selection.
type Payout struct {
	Winner Address
	Amount *big.Int
	// Round is the number of the round that was settled.
	Round uint64
}

// EventKind names an observable log record.
type EventKind string

const (
	EventDisputeRaised       EventKind = "DisputeRaised"
	EventArbitrationDecision EventKind = "ArbitrationDecision"
)

// Event is a log record emitted by a successful operation. DisputeRaised
// events carry Raiser and Reason; ArbitrationDecision events carry
// DecisionMaker and Amount.
type Event struct {
	Kind          EventKind
	Raiser        Address
	Reason        string
	DecisionMaker Address
	Amount        *big.Int
}

// DisputeRaised builds the event emitted when a participant contests a round.
func DisputeRaised(raiser Address, reason string) Event {
	return Event{Kind: EventDisputeRaised, Raiser: raiser, Reason: reason}
}

// Decision builds the event shared by payouts and dispute resolutions.
func Decision(maker Address, amount *big.Int) Event {
	return Event{Kind: EventArbitrationDecision, DecisionMaker: maker, Amount: cloneAmount(amount)}
}

// Signature returns the canonical event signature, e.g. "DisputeRaised(address,string)".
func (e Event) Signature() string {
	switch e.Kind {
	case EventDisputeRaised:
		return "DisputeRaised(address,string)"
	case EventArbitrationDecision:
		return "ArbitrationDecision(address,uint256)"
	default:
		return string(e.Kind) + "()"
	}
}

// Topic is the hex Keccak-256 of the signature, the value log consumers
// filter on.
func (e Event) Topic() string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(e.Signature()))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// Payload flattens the event for persistence.
func (e Event) Payload() map[string]any {
	payload := map[string]any{
		"event": string(e.Kind),
		"topic": e.Topic(),
	}
	switch e.Kind {
	case EventDisputeRaised:
		payload["raiser"] = e.Raiser.String()
		payload["reason"] = e.Reason
	case EventArbitrationDecision:
		payload["decision_maker"] = e.DecisionMaker.String()
		payload["amount"] = cloneAmount(e.Amount).String()
	}
	return payload
}

// Policy carries the configurable rules of a pool.
type Policy struct {
	// MinimumStake is exclusive: an entry must carry strictly more.
	MinimumStake *big.Int
	// FreezePayoutOnDispute makes PickWinner fail while a dispute is pending.
	FreezePayoutOnDispute bool
	// ResolutionAmount is reported in the decision event of a resolution.
	ResolutionAmount *big.Int
}

// DefaultMinimumStake is 0.01 ether expressed in wei.
var DefaultMinimumStake = big.NewInt(10_000_000_000_000_000)

// DefaultPolicy returns the rules used when none are configured.
func DefaultPolicy() Policy {
	return Policy{
		MinimumStake:          new(big.Int).Set(DefaultMinimumStake),
		FreezePayoutOnDispute: true,
		ResolutionAmount:      new(big.Int),
	}
}

func (p Policy) minimumStake() *big.Int {
	if p.MinimumStake == nil {
		return new(big.Int)
	}
	return p.MinimumStake
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
