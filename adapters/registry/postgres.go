package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/internal/db"
	"github.com/layer-3/cryptolock/ports"
)

const (
	addressConstraint  = "addresses_address_key"
	usernameConstraint = "accounts_username_key"
)

// PostgresRepository stores accounts and addresses in Postgres
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a repository that uses the given db
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

var _ ports.AccountRepository = (*PostgresRepository)(nil)

// GetOwner returns the account owning address on network, or nil if none
func (r *PostgresRepository) GetOwner(ctx context.Context, address string, network core.Network) (*core.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT acc.id, acc.username, acc.created_at
		FROM addresses addr
		JOIN accounts acc ON acc.id = addr.account_id
		WHERE addr.address = $1 AND addr.network = $2`,
		address, string(network),
	)
	return scanAccount(row)
}

// GetAccount returns the account with id, or nil if none
func (r *PostgresRepository) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// AddressExists reports whether address is registered under any network
func (r *PostgresRepository) AddressExists(ctx context.Context, address string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM addresses WHERE address = $1)`, address,
	).Scan(&exists)
	return exists, err
}

// UsernameExists reports whether username is taken
func (r *PostgresRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1)`, username,
	).Scan(&exists)
	return exists, err
}

// CreateWithAddress inserts account and address in one transaction
func (r *PostgresRepository) CreateWithAddress(ctx context.Context, account *core.Account, address *core.Address) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (id, username, created_at) VALUES ($1, $2, $3)`,
		account.ID, account.Username, account.CreatedAt,
	); err != nil {
		return mapInsertError("account", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO addresses (address, network, account_id, created_at) VALUES ($1, $2, $3, $4)`,
		address.Address, string(address.Network), account.ID, address.CreatedAt,
	); err != nil {
		return mapInsertError("address", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account: %w", err)
	}
	return nil
}

func mapInsertError(what string, err error) error {
	if constraint, ok := db.UniqueViolation(err); ok {
		switch constraint {
		case addressConstraint:
			return core.ErrDuplicateAddress
		case usernameConstraint:
			return core.ErrDuplicateUsername
		}
	}
	return fmt.Errorf("failed to insert %s: %w", what, err)
}

func scanAccount(row *sql.Row) (*core.Account, error) {
	var a core.Account
	if err := row.Scan(&a.ID, &a.Username, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
