package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested account does not exist.
	ErrNotFound = errors.New("wallet: not found")
	// ErrInsufficientFunds signals a debit larger than the balance.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	// ErrRejected signals the account refuses incoming funds.
	ErrRejected = errors.New("wallet: recipient rejected funds")
	// ErrInvalidAmount signals a non-positive amount.
	ErrInvalidAmount = errors.New("wallet: invalid amount")
	// ErrAccountExists signals a custody account opened over an existing one.
	ErrAccountExists = errors.New("wallet: account already exists")
	// ErrReservedAddress signals a pool custody account used as a personal wallet.
	ErrReservedAddress = errors.New("wallet: address is a pool custody account")
)

// Repository provides balance reads and transactional balance moves.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const accountColumns = `address, balance::text, accepts_funds, created_at, updated_at`

// GetByAddress fetches one account.
func (r *Repository) GetByAddress(ctx context.Context, address string) (Account, error) {
	acct, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM wallets WHERE address = $1`, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("wallet: query by address: %w", err)
	}
	return acct, nil
}

// List fetches up to limit accounts ordered by address.
func (r *Repository) List(ctx context.Context, limit int) ([]Account, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM wallets ORDER BY address ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("wallet: list: %w", err)
	}
	defer rows.Close()

	accounts := make([]Account, 0, limit)
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("wallet: scan account: %w", err)
		}
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wallet: iterate accounts: %w", err)
	}
	return accounts, nil
}

// Deposit credits amount to address, opening the account when missing.
func (r *Repository) Deposit(ctx context.Context, address string, amount *big.Int) (Account, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Account{}, ErrInvalidAmount
	}

	const query = `
		INSERT INTO wallets (address, balance)
		VALUES ($1, $2::numeric)
		ON CONFLICT (address) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance,
		    updated_at = now()
		RETURNING ` + accountColumns

	acct, err := scanAccount(r.pool.QueryRow(ctx, query, address, amount.String()))
	if err != nil {
		return Account{}, fmt.Errorf("wallet: deposit: %w", err)
	}
	return acct, nil
}

// SetAcceptsFunds toggles whether the account may receive credits.
func (r *Repository) SetAcceptsFunds(ctx context.Context, address string, accepts bool) (Account, error) {
	const query = `
		UPDATE wallets
		SET accepts_funds = $2, updated_at = now()
		WHERE address = $1
		RETURNING ` + accountColumns

	acct, err := scanAccount(r.pool.QueryRow(ctx, query, address, accepts))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("wallet: set accepts funds: %w", err)
	}
	return acct, nil
}

// Open creates an empty account inside tx. Custody must start at zero, so
// an address that already holds an account is refused.
func (r *Repository) Open(ctx context.Context, tx pgx.Tx, address string) error {
	if _, err := tx.Exec(ctx, `INSERT INTO wallets (address) VALUES ($1)`, address); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAccountExists
		}
		return fmt.Errorf("wallet: open: %w", err)
	}
	return nil
}

// Debit removes amount from address inside tx.
func (r *Repository) Debit(ctx context.Context, tx pgx.Tx, address string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	tag, err := tx.Exec(ctx, `
		UPDATE wallets
		SET balance = balance - $2::numeric, updated_at = now()
		WHERE address = $1 AND balance >= $2::numeric
	`, address, amount.String())
	if err != nil {
		return fmt.Errorf("wallet: debit: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	exists, err := r.exists(ctx, tx, address)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInsufficientFunds
}

// Credit adds amount to address inside tx. Accounts that do not accept funds
// fail with ErrRejected.
func (r *Repository) Credit(ctx context.Context, tx pgx.Tx, address string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	tag, err := tx.Exec(ctx, `
		UPDATE wallets
		SET balance = balance + $2::numeric, updated_at = now()
		WHERE address = $1 AND accepts_funds
	`, address, amount.String())
	if err != nil {
		return fmt.Errorf("wallet: credit: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	exists, err := r.exists(ctx, tx, address)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrRejected
}

func (r *Repository) exists(ctx context.Context, tx pgx.Tx, address string) (bool, error) {
	var ok bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE address = $1)`, address).Scan(&ok); err != nil {
		return false, fmt.Errorf("wallet: check account: %w", err)
	}
	return ok, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acct    Account
		balance string
	)
	if err := row.Scan(&acct.Address, &balance, &acct.AcceptsFunds, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return Account{}, err
	}
	v, ok := new(big.Int).SetString(balance, 10)
	if !ok {
		return Account{}, fmt.Errorf("wallet: malformed balance %q", balance)
	}
	acct.Balance = v
	return acct, nil
}
