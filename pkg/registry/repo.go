package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"propertyescrow/pkg/db"
)

type postgresRegistry struct {
	pool    *pgxpool.Pool
	address common.Address
}

// NewPostgresRegistry returns a Registry backed by the properties table.
// Rows are scoped to the registry address so several registries can share a
// database.
func NewPostgresRegistry(pool *pgxpool.Pool, address common.Address) Registry {
	return &postgresRegistry{pool: pool, address: address}
}

func (r *postgresRegistry) Address() common.Address { return r.address }

func (r *postgresRegistry) Mint(ctx context.Context, caller common.Address, metadataURI string) (uint64, error) {
	if caller == (common.Address{}) {
		return 0, ErrZeroAddress
	}
	tx, err := db.Begin(ctx, r.pool)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// ids are allocated as MAX+1, so mints into one registry are serialized
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('properties:' || $1::text))`, r.address.Hex()); err != nil {
		return 0, fmt.Errorf("lock registry: %w", err)
	}

	query := `INSERT INTO properties (registry, token_id, owner, approved, metadata_uri, created_at)
              SELECT $1, COALESCE(MAX(token_id), 0) + 1, $2, '', $3, NOW()
              FROM properties WHERE registry = $1
              RETURNING token_id`

	var id int64
	if err := tx.QueryRow(ctx, query, r.address.Hex(), caller.Hex(), metadataURI).Scan(&id); err != nil {
		return 0, fmt.Errorf("mint property: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("mint property: %w", err)
	}
	return uint64(id), nil
}

func (r *postgresRegistry) Approve(ctx context.Context, caller, spender common.Address, id uint64) error {
	query := `UPDATE properties SET approved = $1 WHERE registry = $2 AND token_id = $3 AND owner = $4`
	cmd, err := r.pool.Exec(ctx, query, spender.Hex(), r.address.Hex(), int64(id), caller.Hex())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.get(ctx, r.pool, id, false); err != nil {
			return err
		}
		return ErrNotOwner
	}
	return nil
}

func (r *postgresRegistry) OwnerOf(ctx context.Context, id uint64) (common.Address, error) {
	p, err := r.get(ctx, r.pool, id, false)
	if err != nil {
		return common.Address{}, err
	}
	return p.Owner, nil
}

// TransferFrom joins a transaction carried on ctx (see db.WithTx), so an
// escrow commit that fails after the transfer also undoes it.
func (r *postgresRegistry) TransferFrom(ctx context.Context, caller, from, to common.Address, id uint64) error {
	tx, err := db.Begin(ctx, r.pool)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	p, err := r.get(ctx, tx, id, true)
	if err != nil {
		return err
	}
	if err := checkTransfer(p, caller, from, to); err != nil {
		return err
	}

	query := `UPDATE properties SET owner = $1, approved = '' WHERE registry = $2 AND token_id = $3`
	if _, err := tx.Exec(ctx, query, to.Hex(), r.address.Hex(), int64(id)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *postgresRegistry) TokenURI(ctx context.Context, id uint64) (string, error) {
	p, err := r.get(ctx, r.pool, id, false)
	if err != nil {
		return "", err
	}
	return p.MetadataURI, nil
}

func (r *postgresRegistry) TotalSupply(ctx context.Context) (uint64, error) {
	var total int64
	row := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM properties WHERE registry = $1", r.address.Hex())
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return uint64(total), nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *postgresRegistry) get(ctx context.Context, q querier, id uint64, forUpdate bool) (Property, error) {
	query := `SELECT token_id, owner, approved, metadata_uri, created_at
              FROM properties
              WHERE registry = $1 AND token_id = $2`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		p                  Property
		tokenID            int64
		owner, approvedHex string
	)
	row := q.QueryRow(ctx, query, r.address.Hex(), int64(id))
	if err := row.Scan(&tokenID, &owner, &approvedHex, &p.MetadataURI, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Property{}, ErrTokenNotFound
		}
		return Property{}, err
	}
	p.ID = uint64(tokenID)
	p.Owner = common.HexToAddress(owner)
	if approvedHex != "" {
		p.Approved = common.HexToAddress(approvedHex)
	}
	return p, nil
}
