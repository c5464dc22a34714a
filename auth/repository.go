package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrCredentialNotFound signals that no passphrase is registered for the address.
	ErrCredentialNotFound = errors.New("auth: credential not found")
	// ErrAlreadyRegistered signals that the address has already been claimed.
	ErrAlreadyRegistered = errors.New("auth: address already registered")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateCredential(ctx context.Context, address, passphraseHash string) (Credential, error)
	GetCredential(ctx context.Context, address string) (Credential, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateCredential stores the passphrase hash for a new address.
func (r *PGRepository) CreateCredential(ctx context.Context, address, passphraseHash string) (Credential, error) {
	const insertSQL = `
		INSERT INTO credentials (address, passphrase_hash)
		VALUES ($1, $2)
		RETURNING address, passphrase_hash, created_at, updated_at
	`

	cred, err := scanCredential(r.pool.QueryRow(ctx, insertSQL, address, passphraseHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Credential{}, ErrAlreadyRegistered
		}
		return Credential{}, fmt.Errorf("auth: create credential: %w", err)
	}

	return cred, nil
}

// GetCredential retrieves the credential of an address.
func (r *PGRepository) GetCredential(ctx context.Context, address string) (Credential, error) {
	const selectSQL = `
		SELECT address, passphrase_hash, created_at, updated_at
		FROM credentials
		WHERE address = $1
	`

	cred, err := scanCredential(r.pool.QueryRow(ctx, selectSQL, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrCredentialNotFound
		}
		return Credential{}, fmt.Errorf("auth: get credential: %w", err)
	}

	return cred, nil
}

func scanCredential(row pgx.Row) (Credential, error) {
	var cred Credential
	err := row.Scan(
		&cred.Address,
		&cred.PassphraseHash,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		return Credential{}, err
	}
	return cred, nil
}
