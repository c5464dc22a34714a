package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyDeployed signals a custody address collision on deploy.
var ErrAlreadyDeployed = errors.New("pool: already deployed")

// Repository persists pool state. Writes run inside the caller's transaction.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, st State) error
	LoadForUpdate(ctx context.Context, tx pgx.Tx, address Address) (State, error)
	Get(ctx context.Context, address Address) (State, error)
	InsertEntry(ctx context.Context, tx pgx.Tx, address Address, round uint64, slot int, player Address, value *big.Int) error
	Update(ctx context.Context, tx pgx.Tx, st State) error
	Exists(ctx context.Context, address Address) (bool, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, st State) error {
	const insertSQL = `
		INSERT INTO pools (address, manager, governing_law, jurisdiction, arbitrator, round)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.Exec(ctx, insertSQL,
		st.Address.String(),
		st.Manager.String(),
		st.Governance.GoverningLaw,
		st.Governance.Jurisdiction,
		st.Governance.Arbitrator.String(),
		int64(st.Round),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyDeployed
		}
		return fmt.Errorf("pool: insert: %w", err)
	}
	return nil
}

// LoadForUpdate locks the pool row for the rest of tx and returns its state.
func (r *PGRepository) LoadForUpdate(ctx context.Context, tx pgx.Tx, address Address) (State, error) {
	return load(ctx, tx, address, true)
}

// Get returns the committed state without locking.
func (r *PGRepository) Get(ctx context.Context, address Address) (State, error) {
	return load(ctx, r.pool, address, false)
}

// Exists reports whether a pool is deployed at address.
func (r *PGRepository) Exists(ctx context.Context, address Address) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pools WHERE address = $1)`, address.String()).Scan(&ok); err != nil {
		return false, fmt.Errorf("pool: check address: %w", err)
	}
	return ok, nil
}

func load(ctx context.Context, q querier, address Address, forUpdate bool) (State, error) {
	query := `
		SELECT p.address, p.manager, p.governing_law, p.jurisdiction, p.arbitrator, p.round,
		       p.dispute_active, p.dispute_reason, p.dispute_raised_by, w.balance::text
		FROM pools p
		JOIN wallets w ON w.address = p.address
		WHERE p.address = $1
	`
	if forUpdate {
		query += " FOR UPDATE OF p"
	}

	var (
		st            State
		addr, manager string
		arbitrator    string
		round         int64
		disputeActive bool
		reason        string
		raisedBy      string
		balance       string
	)
	err := q.QueryRow(ctx, query, address.String()).Scan(
		&addr,
		&manager,
		&st.Governance.GoverningLaw,
		&st.Governance.Jurisdiction,
		&arbitrator,
		&round,
		&disputeActive,
		&reason,
		&raisedBy,
		&balance,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, ErrNotFound
		}
		return State{}, fmt.Errorf("pool: load state: %w", err)
	}

	pot, ok := new(big.Int).SetString(balance, 10)
	if !ok {
		return State{}, fmt.Errorf("pool: malformed custody balance %q", balance)
	}

	st.Address = Address(addr)
	st.Manager = Address(manager)
	st.Governance.Arbitrator = Address(arbitrator)
	st.Round = uint64(round)
	st.Pot = pot
	if disputeActive {
		st.Dispute = &Dispute{RaisedBy: Address(raisedBy), Reason: reason}
	}

	players, err := loadPlayers(ctx, q, st.Address, st.Round)
	if err != nil {
		return State{}, err
	}
	st.Players = players
	return st, nil
}

func loadPlayers(ctx context.Context, q querier, address Address, round uint64) ([]Address, error) {
	rows, err := q.Query(ctx, `
		SELECT player
		FROM pool_entries
		WHERE pool_address = $1 AND round = $2
		ORDER BY slot ASC
	`, address.String(), int64(round))
	if err != nil {
		return nil, fmt.Errorf("pool: list entries: %w", err)
	}
	defer rows.Close()

	players := []Address{}
	for rows.Next() {
		var player string
		if err := rows.Scan(&player); err != nil {
			return nil, fmt.Errorf("pool: scan entry: %w", err)
		}
		players = append(players, Address(player))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pool: iterate entries: %w", err)
	}
	return players, nil
}

func (r *PGRepository) InsertEntry(ctx context.Context, tx pgx.Tx, address Address, round uint64, slot int, player Address, value *big.Int) error {
	const insertSQL = `
		INSERT INTO pool_entries (pool_address, round, slot, player, value)
		VALUES ($1, $2, $3, $4, $5::numeric)
	`
	if _, err := tx.Exec(ctx, insertSQL, address.String(), int64(round), slot, player.String(), value.String()); err != nil {
		return fmt.Errorf("pool: insert entry: %w", err)
	}
	return nil
}

// Update writes the mutable round and dispute fields. Moving to a new round
// empties the player list because entries are keyed by round.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, st State) error {
	var (
		active   bool
		reason   string
		raisedBy string
	)
	if st.Dispute != nil {
		active = true
		reason = st.Dispute.Reason
		raisedBy = st.Dispute.RaisedBy.String()
	}

	const updateSQL = `
		UPDATE pools
		SET round = $2,
		    dispute_active = $3,
		    dispute_reason = $4,
		    dispute_raised_by = $5,
		    updated_at = now()
		WHERE address = $1
	`
	tag, err := tx.Exec(ctx, updateSQL, st.Address.String(), int64(st.Round), active, reason, raisedBy)
	if err != nil {
		return fmt.Errorf("pool: update state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
