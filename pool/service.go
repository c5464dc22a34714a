package pool

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	"poolflow/dispute"
	"poolflow/timeline"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger moves value between addresses inside a transaction.
type Ledger interface {
	Open(ctx context.Context, tx pgx.Tx, address string) error
	Debit(ctx context.Context, tx pgx.Tx, address string, amount *big.Int) error
	Credit(ctx context.Context, tx pgx.Tx, address string, amount *big.Int) error
}

// DisputeStore records the dispute history.
type DisputeStore interface {
	Create(ctx context.Context, tx pgx.Tx, params dispute.CreateParams) (dispute.Record, error)
	Resolve(ctx context.Context, tx pgx.Tx, params dispute.ResolveParams) (dispute.Record, error)
}

// EventAppender persists emitted events.
type EventAppender interface {
	Append(ctx context.Context, tx pgx.Tx, params timeline.AppendParams) error
}

// Service runs the pool state machine against PostgreSQL. Each operation is
// one transaction holding the pool row lock, so concurrent callers are
// serialized and any failure rolls every write back.
type Service struct {
	pool        TxBeginner
	repo        Repository
	ledger      Ledger
	disputes    DisputeStore
	events      EventAppender
	policy      Policy
	rand        RandomnessSource
	logger      log.FieldLogger
	idGenerator func() string
}

func NewService(pool TxBeginner, repo Repository, ledger Ledger, disputes DisputeStore, events EventAppender, policy Policy) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		ledger:      ledger,
		disputes:    disputes,
		events:      events,
		policy:      policy,
		rand:        NewChainedSource(),
		logger:      log.StandardLogger(),
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithRandomness(src RandomnessSource) *Service {
	s.rand = src
	return s
}

func (s *Service) WithLogger(l log.FieldLogger) *Service {
	s.logger = l
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Policy returns the rules the service applies.
func (s *Service) Policy() Policy {
	return s.policy
}

// DeployParams are the construction parameters of a pool.
type DeployParams struct {
	Manager      Address
	GoverningLaw string
	Jurisdiction string
	Arbitrator   Address
}

// Deploy creates a pool whose manager is the deploying caller and opens its
// custody account.
func (s *Service) Deploy(ctx context.Context, params DeployParams) (State, error) {
	if params.Manager.IsZero() || params.Arbitrator.IsZero() {
		return State{}, fmt.Errorf("pool: manager and arbitrator required: %w", ErrInvalidAddress)
	}
	if strings.TrimSpace(params.GoverningLaw) == "" || strings.TrimSpace(params.Jurisdiction) == "" {
		return State{}, fmt.Errorf("pool: governing law and jurisdiction required")
	}

	st := NewState(
		DeriveAddress(params.Manager, []byte(s.idGenerator())),
		params.Manager,
		Governance{
			GoverningLaw: params.GoverningLaw,
			Jurisdiction: params.Jurisdiction,
			Arbitrator:   params.Arbitrator,
		},
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return State{}, fmt.Errorf("pool: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.ledger.Open(ctx, tx, st.Address.String()); err != nil {
		return State{}, err
	}
	if err := s.repo.Create(ctx, tx, st); err != nil {
		return State{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return State{}, fmt.Errorf("pool: commit deploy: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"pool":       st.Address,
		"manager":    st.Manager,
		"arbitrator": st.Governance.Arbitrator,
	}).Info("pool deployed")
	return st, nil
}

// Get returns the committed state of a pool.
func (s *Service) Get(ctx context.Context, address Address) (State, error) {
	return s.repo.Get(ctx, address)
}

// Players returns the current round's entries in order.
func (s *Service) Players(ctx context.Context, address Address) ([]Address, error) {
	st, err := s.repo.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	return slices.Clone(st.Players), nil
}

// Governance returns the metadata fixed at deployment.
func (s *Service) Governance(ctx context.Context, address Address) (Governance, error) {
	st, err := s.repo.Get(ctx, address)
	if err != nil {
		return Governance{}, err
	}
	return st.Governance, nil
}

// IsReserved reports whether address belongs to a pool's custody account.
// Nobody may register, fund or stake as such an address.
func (s *Service) IsReserved(ctx context.Context, address string) (bool, error) {
	parsed, err := ParseAddress(address)
	if err != nil {
		return false, nil
	}
	return s.repo.Exists(ctx, parsed)
}

// Enter moves value from the caller's wallet into custody and appends the
// caller to the current round. Custody accounts cannot enter.
func (s *Service) Enter(ctx context.Context, address, caller Address, value *big.Int) (State, error) {
	if caller == address {
		return State{}, ErrReservedAddress
	}
	// pools are never removed, so the answer cannot change before commit
	reserved, err := s.repo.Exists(ctx, caller)
	if err != nil {
		return State{}, err
	}
	if reserved {
		return State{}, ErrReservedAddress
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return State{}, fmt.Errorf("pool: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	st, err := s.repo.LoadForUpdate(ctx, tx, address)
	if err != nil {
		return State{}, err
	}
	if err := st.Enter(caller, value, s.policy); err != nil {
		return State{}, err
	}

	if err := s.ledger.Debit(ctx, tx, caller.String(), value); err != nil {
		return State{}, fmt.Errorf("pool: collect stake: %w", err)
	}
	if err := s.ledger.Credit(ctx, tx, st.Address.String(), value); err != nil {
		return State{}, fmt.Errorf("pool: custody stake: %w", err)
	}
	if err := s.repo.InsertEntry(ctx, tx, st.Address, st.Round, len(st.Players)-1, caller, value); err != nil {
		return State{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return State{}, fmt.Errorf("pool: commit entry: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"pool":   st.Address,
		"player": caller,
		"value":  value.String(),
		"slot":   len(st.Players) - 1,
	}).Debug("entry accepted")
	return st, nil
}

// PickWinner pays the pot of the current round to a pseudo-randomly chosen
// player. The round is closed before custody is debited and the winner
// credited; a winner that refuses funds fails the call with
// ErrTransferFailed and nothing is persisted.
func (s *Service) PickWinner(ctx context.Context, address, caller Address) (Payout, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payout{}, fmt.Errorf("pool: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	st, err := s.repo.LoadForUpdate(ctx, tx, address)
	if err != nil {
		return Payout{}, err
	}
	payout, err := st.StagePayout(caller, s.policy, s.rand)
	if err != nil {
		return Payout{}, err
	}
	if err := s.repo.Update(ctx, tx, st); err != nil {
		return Payout{}, err
	}

	if payout.Amount.Sign() > 0 {
		if err := s.ledger.Debit(ctx, tx, st.Address.String(), payout.Amount); err != nil {
			return Payout{}, fmt.Errorf("pool: release custody: %w", err)
		}
		if err := s.ledger.Credit(ctx, tx, payout.Winner.String(), payout.Amount); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"pool":   st.Address,
				"winner": payout.Winner,
			}).Warn("payout rolled back")
			return Payout{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}

	decision := Decision(caller, payout.Amount)
	if err := s.appendEvent(ctx, tx, st.Address, decision); err != nil {
		return Payout{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payout{}, fmt.Errorf("pool: commit payout: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"pool":   st.Address,
		"round":  payout.Round,
		"winner": payout.Winner,
		"amount": payout.Amount.String(),
	}).Info("payout completed")
	return payout, nil
}

// RaiseDispute records a dispute from a participant of the current round.
func (s *Service) RaiseDispute(ctx context.Context, address, caller Address, reason string) (dispute.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return dispute.Record{}, fmt.Errorf("pool: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	st, err := s.repo.LoadForUpdate(ctx, tx, address)
	if err != nil {
		return dispute.Record{}, err
	}
	ev, err := st.RaiseDispute(caller, reason)
	if err != nil {
		return dispute.Record{}, err
	}
	if err := s.repo.Update(ctx, tx, st); err != nil {
		return dispute.Record{}, err
	}

	rec, err := s.disputes.Create(ctx, tx, dispute.CreateParams{
		ID:          s.idGenerator(),
		PoolAddress: st.Address.String(),
		Round:       st.Round,
		RaisedBy:    caller.String(),
		Reason:      reason,
	})
	if err != nil {
		return dispute.Record{}, err
	}
	if err := s.appendEvent(ctx, tx, st.Address, ev); err != nil {
		return dispute.Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return dispute.Record{}, fmt.Errorf("pool: commit dispute: %w", err)
	}

	s.logger.WithFields(log.Fields{"pool": st.Address, "raiser": caller, "dispute": rec.ID}).Info("dispute raised")
	return rec, nil
}

// Resolution is the outcome of ResolveDispute.
type Resolution struct {
	Decision Event
	Record   dispute.Record
}

// ResolveDispute closes the pending dispute on behalf of the arbitrator.
func (s *Service) ResolveDispute(ctx context.Context, address, caller Address, note string) (Resolution, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("pool: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	st, err := s.repo.LoadForUpdate(ctx, tx, address)
	if err != nil {
		return Resolution{}, err
	}
	_, decision, err := st.ResolveDispute(caller, s.policy)
	if err != nil {
		return Resolution{}, err
	}
	if err := s.repo.Update(ctx, tx, st); err != nil {
		return Resolution{}, err
	}

	rec, err := s.disputes.Resolve(ctx, tx, dispute.ResolveParams{
		PoolAddress: st.Address.String(),
		ResolvedBy:  caller.String(),
		OutcomeNote: note,
		Amount:      decision.Amount,
	})
	if err != nil {
		return Resolution{}, err
	}
	if err := s.appendEvent(ctx, tx, st.Address, decision); err != nil {
		return Resolution{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Resolution{}, fmt.Errorf("pool: commit resolution: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"pool":    st.Address,
		"dispute": rec.ID,
		"amount":  decision.Amount.String(),
	}).Info("dispute resolved")
	return Resolution{Decision: decision, Record: rec}, nil
}

func (s *Service) appendEvent(ctx context.Context, tx pgx.Tx, address Address, ev Event) error {
	outboxTopic := timeline.OutboxTopicDecision
	if ev.Kind == EventDisputeRaised {
		outboxTopic = timeline.OutboxTopicDisputeRaised
	}
	err := s.events.Append(ctx, tx, timeline.AppendParams{
		PoolAddress: address.String(),
		Kind:        string(ev.Kind),
		Topic:       ev.Topic(),
		Payload:     ev.Payload(),
		OutboxTopic: outboxTopic,
	})
	if err != nil {
		return fmt.Errorf("pool: append event: %w", err)
	}
	return nil
}
