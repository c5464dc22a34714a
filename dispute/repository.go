package dispute

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound      = errors.New("dispute: not found")
	ErrBadStatus     = errors.New("dispute: invalid status transition")
	ErrAlreadyActive = errors.New("dispute: another dispute is under review")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id::text, pool_address, round, raised_by, reason, status::text, outcome_note, resolved_by, resolution_amount::text, created_at, updated_at, resolved_at`

func (r *Repository) List(ctx context.Context, poolAddress string, status Status) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM disputes WHERE pool_address = $1`
	args := []any{poolAddress}
	if status != "" {
		query += " AND status = $2::dispute_status"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM disputes WHERE id::text = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return rec, nil
}

// Create inserts a dispute under review inside tx.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Record, error) {
	const query = `
		INSERT INTO disputes (id, pool_address, round, raised_by, reason, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, 'under_review')
		RETURNING ` + recordColumns

	rec, err := scanRecord(tx.QueryRow(ctx, query, params.ID, params.PoolAddress, int64(params.Round), params.RaisedBy, params.Reason))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrAlreadyActive
		}
		return Record{}, fmt.Errorf("dispute: create: %w", err)
	}
	return rec, nil
}

// Resolve closes the dispute under review for the pool inside tx.
func (r *Repository) Resolve(ctx context.Context, tx pgx.Tx, params ResolveParams) (Record, error) {
	amount := params.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	var note *string
	if trimmed := strings.TrimSpace(params.OutcomeNote); trimmed != "" {
		note = &trimmed
	}

	const query = `
		UPDATE disputes
		SET status = 'resolved',
		    outcome_note = $2,
		    resolved_by = $3,
		    resolution_amount = $4::numeric,
		    resolved_at = now(),
		    updated_at = now()
		WHERE pool_address = $1 AND status = 'under_review'
		RETURNING ` + recordColumns

	rec, err := scanRecord(tx.QueryRow(ctx, query, params.PoolAddress, note, params.ResolvedBy, amount.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrBadStatus
		}
		return Record{}, fmt.Errorf("dispute: resolve: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec    Record
		round  int64
		amount *string
	)
	err := row.Scan(&rec.ID, &rec.PoolAddress, &round, &rec.RaisedBy, &rec.Reason, &rec.Status,
		&rec.OutcomeNote, &rec.ResolvedBy, &amount, &rec.CreatedAt, &rec.UpdatedAt, &rec.ResolvedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Round = uint64(round)
	if amount != nil {
		v, ok := new(big.Int).SetString(*amount, 10)
		if !ok {
			return Record{}, fmt.Errorf("dispute: malformed amount %q", *amount)
		}
		rec.ResolutionAmount = v
	}
	return rec, nil
}
