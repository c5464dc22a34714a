package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"poolflow/dispute"
	"poolflow/timeline"
)

// Writes from the fakes below are queued on the transaction and only land
// when it commits, so a failing operation leaves the stores untouched.

type fakePool struct {
	txs []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakePool) last() *fakeTx {
	return f.txs[len(f.txs)-1]
}

type fakeTx struct {
	rolled    bool
	committed bool
	onCommit  []func()
}

func (f *fakeTx) queue(fn func()) {
	f.onCommit = append(f.onCommit, fn)
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	if f.rolled {
		return pgx.ErrTxClosed
	}
	f.committed = true
	for _, fn := range f.onCommit {
		fn()
	}
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolled = true
	}
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

type fakeRepo struct {
	states  map[Address]State
	entries map[Address][]Address
	ledger  *fakeLedger
}

func newFakeRepo(ledger *fakeLedger) *fakeRepo {
	return &fakeRepo{states: map[Address]State{}, entries: map[Address][]Address{}, ledger: ledger}
}

func (r *fakeRepo) Create(_ context.Context, tx pgx.Tx, st State) error {
	if _, ok := r.states[st.Address]; ok {
		return ErrAlreadyDeployed
	}
	st = st.Clone()
	tx.(*fakeTx).queue(func() { r.states[st.Address] = st })
	return nil
}

func (r *fakeRepo) LoadForUpdate(ctx context.Context, _ pgx.Tx, address Address) (State, error) {
	return r.Get(ctx, address)
}

func (r *fakeRepo) Get(_ context.Context, address Address) (State, error) {
	st, ok := r.states[address]
	if !ok {
		return State{}, ErrNotFound
	}
	st = st.Clone()
	st.Players = append([]Address{}, r.entries[address]...)
	st.Pot = r.ledger.balance(address.String())
	return st, nil
}

func (r *fakeRepo) InsertEntry(_ context.Context, tx pgx.Tx, address Address, _ uint64, _ int, player Address, _ *big.Int) error {
	tx.(*fakeTx).queue(func() { r.entries[address] = append(r.entries[address], player) })
	return nil
}

func (r *fakeRepo) Exists(_ context.Context, address Address) (bool, error) {
	_, ok := r.states[address]
	return ok, nil
}

func (r *fakeRepo) Update(_ context.Context, tx pgx.Tx, st State) error {
	prev, ok := r.states[st.Address]
	if !ok {
		return ErrNotFound
	}
	st = st.Clone()
	tx.(*fakeTx).queue(func() {
		if st.Round != prev.Round {
			r.entries[st.Address] = nil
		}
		r.states[st.Address] = st
	})
	return nil
}

type fakeLedger struct {
	balances map[string]*big.Int
	refuse   map[string]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]*big.Int{}, refuse: map[string]bool{}}
}

func (l *fakeLedger) balance(address string) *big.Int {
	if v, ok := l.balances[address]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (l *fakeLedger) fund(address Address, amount *big.Int) {
	l.balances[address.String()] = new(big.Int).Add(l.balance(address.String()), amount)
}

func (l *fakeLedger) Open(_ context.Context, tx pgx.Tx, address string) error {
	if _, ok := l.balances[address]; ok {
		return errors.New("account exists")
	}
	tx.(*fakeTx).queue(func() { l.balances[address] = new(big.Int) })
	return nil
}

func (l *fakeLedger) Debit(_ context.Context, tx pgx.Tx, address string, amount *big.Int) error {
	if l.balance(address).Cmp(amount) < 0 {
		return errors.New("insufficient funds")
	}
	tx.(*fakeTx).queue(func() { l.balances[address] = new(big.Int).Sub(l.balance(address), amount) })
	return nil
}

func (l *fakeLedger) Credit(_ context.Context, tx pgx.Tx, address string, amount *big.Int) error {
	if l.refuse[address] {
		return errors.New("recipient rejects funds")
	}
	tx.(*fakeTx).queue(func() { l.balances[address] = new(big.Int).Add(l.balance(address), amount) })
	return nil
}

type fakeDisputes struct {
	records []dispute.Record
}

func (f *fakeDisputes) Create(_ context.Context, tx pgx.Tx, params dispute.CreateParams) (dispute.Record, error) {
	rec := dispute.Record{
		ID:          params.ID,
		PoolAddress: params.PoolAddress,
		Round:       params.Round,
		RaisedBy:    params.RaisedBy,
		Reason:      params.Reason,
		Status:      dispute.StatusUnderReview,
	}
	tx.(*fakeTx).queue(func() { f.records = append(f.records, rec) })
	return rec, nil
}

func (f *fakeDisputes) Resolve(_ context.Context, tx pgx.Tx, params dispute.ResolveParams) (dispute.Record, error) {
	for i, rec := range f.records {
		if rec.PoolAddress != params.PoolAddress || rec.Status != dispute.StatusUnderReview {
			continue
		}
		note, by := params.OutcomeNote, params.ResolvedBy
		rec.Status = dispute.StatusResolved
		rec.OutcomeNote = &note
		rec.ResolvedBy = &by
		rec.ResolutionAmount = params.Amount
		idx := i
		tx.(*fakeTx).queue(func() { f.records[idx] = rec })
		return rec, nil
	}
	return dispute.Record{}, dispute.ErrBadStatus
}

type fakeEvents struct {
	appended []timeline.AppendParams
}

func (f *fakeEvents) Append(_ context.Context, tx pgx.Tx, params timeline.AppendParams) error {
	tx.(*fakeTx).queue(func() { f.appended = append(f.appended, params) })
	return nil
}

type serviceFixture struct {
	svc      *Service
	pool     *fakePool
	repo     *fakeRepo
	ledger   *fakeLedger
	disputes *fakeDisputes
	events   *fakeEvents
}

func newServiceFixture(policy Policy) *serviceFixture {
	f := &serviceFixture{
		pool:     &fakePool{},
		ledger:   newFakeLedger(),
		disputes: &fakeDisputes{},
		events:   &fakeEvents{},
	}
	f.repo = newFakeRepo(f.ledger)
	f.svc = NewService(f.pool, f.repo, f.ledger, f.disputes, f.events, policy).
		WithRandomness(IndexSource(0)).
		WithIDGenerator(func() string { return "id-1" })
	return f
}

func (f *serviceFixture) deploy(t *testing.T) State {
	t.Helper()
	st, err := f.svc.Deploy(context.Background(), DeployParams{
		Manager:      manager,
		GoverningLaw: "Texas",
		Jurisdiction: "Travis County",
		Arbitrator:   arbitrator,
	})
	require.NoError(t, err)
	return st
}

func TestService_DeployOpensCustody(t *testing.T) {
	f := newServiceFixture(DefaultPolicy())
	st := f.deploy(t)

	require.Equal(t, DeriveAddress(manager, []byte("id-1")), st.Address)
	require.True(t, f.pool.last().committed)

	gov, err := f.svc.Governance(context.Background(), st.Address)
	require.NoError(t, err)
	require.Equal(t, "Texas", gov.GoverningLaw)
	require.Equal(t, arbitrator, gov.Arbitrator)

	_, err = f.svc.Deploy(context.Background(), DeployParams{Manager: manager, GoverningLaw: "Texas", Jurisdiction: "x"})
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestService_EnterMovesStakeIntoCustody(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(DefaultPolicy())
	st := f.deploy(t)
	f.ledger.fund(addr(0), ether(100))

	_, err := f.svc.Enter(ctx, st.Address, addr(0), ether(20))
	require.NoError(t, err)

	players, err := f.svc.Players(ctx, st.Address)
	require.NoError(t, err)
	require.Equal(t, []Address{addr(0)}, players)
	require.Equal(t, ether(20), f.ledger.balance(st.Address.String()))
	require.Equal(t, ether(80), f.ledger.balance(addr(0).String()))
}

func TestService_EnterRejectedLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(DefaultPolicy())
	st := f.deploy(t)
	f.ledger.fund(addr(0), ether(5))

	_, err := f.svc.Enter(ctx, st.Address, addr(0), ether(10))
	require.ErrorIs(t, err, ErrInsufficientStake)

	_, err = f.svc.Enter(ctx, st.Address, addr(1), ether(20))
	require.Error(t, err, "caller without funds")
	require.True(t, f.pool.last().rolled)

	players, err := f.svc.Players(ctx, st.Address)
	require.NoError(t, err)
	require.Empty(t, players)
	require.Zero(t, f.ledger.balance(st.Address.String()).Sign())
}

func TestService_CustodyCannotEnter(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(DefaultPolicy())
	ids := 0
	f.svc.WithIDGenerator(func() string { ids++; return fmt.Sprintf("id-%d", ids) })
	a := f.deploy(t)
	b := f.deploy(t)
	require.NotEqual(t, a.Address, b.Address)

	for i := 0; i < 3; i++ {
		f.ledger.fund(addr(i), ether(100))
		_, err := f.svc.Enter(ctx, a.Address, addr(i), ether(20))
		require.NoError(t, err)
	}

	_, err := f.svc.Enter(ctx, b.Address, a.Address, ether(60))
	require.ErrorIs(t, err, ErrReservedAddress)
	_, err = f.svc.Enter(ctx, a.Address, a.Address, ether(20))
	require.ErrorIs(t, err, ErrReservedAddress)

	require.Equal(t, ether(60), f.ledger.balance(a.Address.String()))
	require.Zero(t, f.ledger.balance(b.Address.String()).Sign())
	players, err := f.svc.Players(ctx, b.Address)
	require.NoError(t, err)
	require.Empty(t, players)

	payout, err := f.svc.PickWinner(ctx, a.Address, manager)
	require.NoError(t, err)
	require.Equal(t, ether(60), payout.Amount)
	require.Zero(t, f.ledger.balance(a.Address.String()).Sign())

	reserved, err := f.svc.IsReserved(ctx, a.Address.String())
	require.NoError(t, err)
	require.True(t, reserved)
	reserved, err = f.svc.IsReserved(ctx, addr(0).String())
	require.NoError(t, err)
	require.False(t, reserved)
	reserved, err = f.svc.IsReserved(ctx, "not-an-address")
	require.NoError(t, err)
	require.False(t, reserved)
}

func TestService_DeployRefusesExistingAccount(t *testing.T) {
	f := newServiceFixture(DefaultPolicy())
	f.ledger.fund(DeriveAddress(manager, []byte("id-1")), ether(5))

	_, err := f.svc.Deploy(context.Background(), DeployParams{
		Manager:      manager,
		GoverningLaw: "Texas",
		Jurisdiction: "Travis County",
		Arbitrator:   arbitrator,
	})
	require.Error(t, err)
	require.True(t, f.pool.last().rolled)
	_, err = f.svc.Get(context.Background(), DeriveAddress(manager, []byte("id-1")))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_PickWinnerPaysAndAdvancesRound(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(DefaultPolicy())
	f.svc.WithRandomness(IndexSource(1))
	st := f.deploy(t)
	for i := 0; i < 3; i++ {
		f.ledger.fund(addr(i), ether(100))
		_, err := f.svc.Enter(ctx, st.Address, addr(i), ether(20))
		require.NoError(t, err)
	}

	_, err := f.svc.PickWinner(ctx, st.Address, addr(0))
	require.ErrorIs(t, err, ErrUnauthorized)

	payout, err := f.svc.PickWinner(ctx, st.Address, manager)
	require.NoError(t, err)
	require.Equal(t, addr(1), payout.Winner)
	require.Equal(t, ether(60), payout.Amount)
	require.Equal(t, uint64(0), payout.Round)

	require.Equal(t, ether(140), f.ledger.balance(addr(1).String()))
	require.Zero(t, f.ledger.balance(st.Address.String()).Sign())

	after, err := f.svc.Get(ctx, st.Address)
	require.NoError(t, err)
	require.Empty(t, after.Players)
	require.Equal(t, uint64(1), after.Round)

	require.Len(t, f.events.appended, 1)
	ev := f.events.appended[0]
	require.Equal(t, string(EventArbitrationDecision), ev.Kind)
	require.Equal(t, timeline.OutboxTopicDecision, ev.OutboxTopic)
	require.Equal(t, ether(60).String(), ev.Payload["amount"])

	_, err = f.svc.PickWinner(ctx, st.Address, manager)
	require.ErrorIs(t, err, ErrEmptyPool)
}

func TestService_PickWinnerTransferFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(DefaultPolicy())
	st := f.deploy(t)
	f.ledger.fund(addr(0), ether(100))
	_, err := f.svc.Enter(ctx, st.Address, addr(0), ether(30))
	require.NoError(t, err)
	f.ledger.refuse[addr(0).String()] = true

	_, err = f.svc.PickWinner(ctx, st.Address, manager)
	require.ErrorIs(t, err, ErrTransferFailed)
	require.True(t, f.pool.last().rolled)
	require.False(t, f.pool.last().committed)

	after, err := f.svc.Get(ctx, st.Address)
	require.NoError(t, err)
	require.Equal(t, []Address{addr(0)}, after.Players)
	require.Equal(t, ether(30), after.Pot)
	require.Equal(t, uint64(0), after.Round)
	require.Empty(t, f.events.appended)
}

func TestService_DisputeLifecycle(t *testing.T) {
	ctx := context.Background()
	policy := DefaultPolicy()
	policy.ResolutionAmount = big.NewInt(7)
	f := newServiceFixture(policy)
	st := f.deploy(t)
	f.ledger.fund(addr(0), ether(100))
	_, err := f.svc.Enter(ctx, st.Address, addr(0), ether(20))
	require.NoError(t, err)

	_, err = f.svc.RaiseDispute(ctx, st.Address, addr(5), "not mine")
	require.ErrorIs(t, err, ErrNotAParticipant)

	_, err = f.svc.ResolveDispute(ctx, st.Address, arbitrator, "nothing pending")
	require.ErrorIs(t, err, ErrNoActiveDispute)

	rec, err := f.svc.RaiseDispute(ctx, st.Address, addr(0), "draw was unfair")
	require.NoError(t, err)
	require.Equal(t, "draw was unfair", rec.Reason)
	require.Equal(t, addr(0).String(), rec.RaisedBy)

	_, err = f.svc.RaiseDispute(ctx, st.Address, addr(0), "again")
	require.ErrorIs(t, err, ErrDisputeActive)

	_, err = f.svc.PickWinner(ctx, st.Address, manager)
	require.ErrorIs(t, err, ErrDisputeActive)

	_, err = f.svc.ResolveDispute(ctx, st.Address, manager, "not the arbitrator")
	require.ErrorIs(t, err, ErrUnauthorized)

	res, err := f.svc.ResolveDispute(ctx, st.Address, arbitrator, "upheld draw")
	require.NoError(t, err)
	require.Equal(t, arbitrator, res.Decision.DecisionMaker)
	require.Equal(t, big.NewInt(7), res.Decision.Amount)
	require.Equal(t, dispute.StatusResolved, res.Record.Status)
	require.Equal(t, "upheld draw", *res.Record.OutcomeNote)

	after, err := f.svc.Get(ctx, st.Address)
	require.NoError(t, err)
	require.False(t, after.DisputeActive())

	require.Len(t, f.events.appended, 2)
	require.Equal(t, timeline.OutboxTopicDisputeRaised, f.events.appended[0].OutboxTopic)
	require.Equal(t, string(EventArbitrationDecision), f.events.appended[1].Kind)
}
