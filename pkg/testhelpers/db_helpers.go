package testhelpers

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

var uniqueCounter int64

func nextSuffix() int64 {
	return atomic.AddInt64(&uniqueCounter, 1)
}

// OpenTestPool connects to DATABASE_URL_FOR_TEST or skips the test.
func OpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL_FOR_TEST")
	if dsn == "" {
		t.Skip("DATABASE_URL_FOR_TEST not set; skipping repository tests")
	}

	ctx := context.Background()
	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	t.Cleanup(pool.Close)
	return pool
}

// UniqueAddress returns an address not handed out before in this process.
// Tests scope their rows by address so they can share one database.
func UniqueAddress() common.Address {
	seed := new(big.Int).SetInt64(time.Now().UnixNano())
	seed.Lsh(seed, 32)
	seed.Add(seed, big.NewInt(nextSuffix()))
	return common.BigToAddress(seed)
}

// CreateTestParty inserts a party row and returns its address.
func CreateTestParty(t *testing.T, db *pgxpool.Pool, role string) common.Address {
	t.Helper()

	ctx := context.Background()
	addr := UniqueAddress()
	name := fmt.Sprintf("test-party-%d", nextSuffix())
	email := fmt.Sprintf("%s@example.com", name)

	_, err := db.Exec(ctx, "INSERT INTO parties (address, name, email, role) VALUES ($1, $2, $3, $4)", addr.Hex(), name, email, role)
	require.NoError(t, err)
	return addr
}

// CreateTestProperty mints a property row in the given registry and returns its id.
func CreateTestProperty(t *testing.T, db *pgxpool.Pool, registry, owner common.Address) uint64 {
	t.Helper()

	ctx := context.Background()
	uri := fmt.Sprintf("ipfs://test-property-%d", nextSuffix())

	var id int64
	err := db.QueryRow(ctx, `INSERT INTO properties (registry, token_id, owner, approved, metadata_uri)
              SELECT $1, COALESCE(MAX(token_id), 0) + 1, $2, '', $3 FROM properties WHERE registry = $1
              RETURNING token_id`, registry.Hex(), owner.Hex(), uri).Scan(&id)
	require.NoError(t, err)
	return uint64(id)
}
