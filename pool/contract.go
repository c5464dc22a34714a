package pool

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Transferer hands value from custody to a recipient. The recipient may run
// arbitrary code, including calls back into the Contract.
type Transferer interface {
	Transfer(ctx context.Context, to Address, amount *big.Int) error
}

// TransferFunc adapts a function to Transferer.
type TransferFunc func(ctx context.Context, to Address, amount *big.Int) error

func (f TransferFunc) Transfer(ctx context.Context, to Address, amount *big.Int) error {
	return f(ctx, to, amount)
}

// Contract is an in-memory pool sharing State transitions with Service.
// Operations are serialized; each either completes or leaves the state
// untouched, including when the Transferer re-enters during a payout.
type Contract struct {
	mu       sync.RWMutex
	state    State
	policy   Policy
	rand     RandomnessSource
	transfer Transferer
	logger   log.FieldLogger
	events   []Event
	// settling is set while the pot is being handed to a winner.
	settling bool
}

type Option func(*Contract)

func WithPolicy(p Policy) Option {
	return func(c *Contract) { c.policy = p }
}

func WithRandomness(src RandomnessSource) Option {
	return func(c *Contract) { c.rand = src }
}

func WithLogger(l log.FieldLogger) Option {
	return func(c *Contract) { c.logger = l }
}

// WithAddress overrides the derived custody address.
func WithAddress(addr Address) Option {
	return func(c *Contract) { c.state.Address = addr }
}

// New deploys a Contract. The deployer becomes the manager.
func New(manager Address, gov Governance, transfer Transferer, opts ...Option) (*Contract, error) {
	if manager.IsZero() || gov.Arbitrator.IsZero() {
		return nil, fmt.Errorf("pool: manager and arbitrator required: %w", ErrInvalidAddress)
	}
	if transfer == nil {
		return nil, fmt.Errorf("pool: transferer required")
	}

	salt := uuid.New()
	c := &Contract{
		state:    NewState(DeriveAddress(manager, salt[:]), manager, gov),
		policy:   DefaultPolicy(),
		transfer: transfer,
		logger:   log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rand == nil {
		c.rand = NewChainedSource()
	}
	return c, nil
}

// Enter adds caller to the current round with the attached value.
func (c *Contract) Enter(ctx context.Context, caller Address, value *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.settling {
		return ErrPayoutInProgress
	}
	if err := c.state.Enter(caller, value, c.policy); err != nil {
		return err
	}
	c.logger.WithFields(log.Fields{
		"pool":   c.state.Address,
		"player": caller,
		"value":  value.String(),
	}).Debug("entry accepted")
	return nil
}

// PickWinner pays the whole pot to a pseudo-randomly selected player. The
// round is finalized before the transfer runs; if the transfer fails the
// round is restored and ErrTransferFailed is returned.
func (c *Contract) PickWinner(ctx context.Context, caller Address) (Payout, error) {
	c.mu.Lock()
	if c.settling {
		c.mu.Unlock()
		return Payout{}, ErrPayoutInProgress
	}
	snapshot := c.state.Clone()
	payout, err := c.state.StagePayout(caller, c.policy, c.rand)
	if err != nil {
		c.mu.Unlock()
		return Payout{}, err
	}
	c.settling = true
	c.mu.Unlock()

	transferErr := c.transfer.Transfer(ctx, payout.Winner, cloneAmount(payout.Amount))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.settling = false

	logger := c.logger.WithFields(log.Fields{
		"pool":   c.state.Address,
		"round":  payout.Round,
		"winner": payout.Winner,
		"amount": payout.Amount.String(),
	})
	if transferErr != nil {
		c.state = snapshot
		logger.WithError(transferErr).Warn("payout rolled back")
		return Payout{}, fmt.Errorf("%w: %w", ErrTransferFailed, transferErr)
	}

	c.events = append(c.events, Decision(caller, payout.Amount))
	logger.Info("payout completed")
	return payout, nil
}

// RaiseDispute lets a current participant contest the round.
func (c *Contract) RaiseDispute(ctx context.Context, caller Address, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.settling {
		return ErrPayoutInProgress
	}
	ev, err := c.state.RaiseDispute(caller, reason)
	if err != nil {
		return err
	}
	c.events = append(c.events, ev)
	c.logger.WithFields(log.Fields{"pool": c.state.Address, "raiser": caller}).Info("dispute raised")
	return nil
}

// ResolveDispute closes the pending dispute. Only the arbitrator may call
// it. The note is logged; the decision event carries the policy's
// resolution amount.
func (c *Contract) ResolveDispute(ctx context.Context, caller Address, note string) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.settling {
		return Event{}, ErrPayoutInProgress
	}
	resolved, ev, err := c.state.ResolveDispute(caller, c.policy)
	if err != nil {
		return Event{}, err
	}
	c.events = append(c.events, ev)
	c.logger.WithFields(log.Fields{
		"pool":       c.state.Address,
		"raiser":     resolved.RaisedBy,
		"outcome":    note,
		"amount":     ev.Amount.String(),
		"arbitrator": caller,
	}).Info("dispute resolved")
	return ev, nil
}

// Players returns the current round's entries in order.
func (c *Contract) Players() []Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.state.Players)
}

// Pot returns the value held for the current round.
func (c *Contract) Pot() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneAmount(c.state.Pot)
}

// ActiveDispute returns the pending dispute, if any.
func (c *Contract) ActiveDispute() (Dispute, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Dispute == nil {
		return Dispute{}, false
	}
	return *c.state.Dispute, true
}

// Events returns every event emitted so far, oldest first.
func (c *Contract) Events() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.events)
}

// State returns a copy of the full contract state.
func (c *Contract) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// Governance returns the metadata fixed at deployment.
func (c *Contract) Governance() Governance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Governance
}

func (c *Contract) GoverningLaw() string { return c.Governance().GoverningLaw }
func (c *Contract) Jurisdiction() string { return c.Governance().Jurisdiction }
func (c *Contract) Arbitrator() Address  { return c.Governance().Arbitrator }

func (c *Contract) Manager() Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Manager
}

func (c *Contract) Address() Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Address
}
