package parties

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrPartyNotFound = errors.New("party not found")
	ErrPartyExists   = errors.New("party already registered for that address")
)

type PartyRepository interface {
	CreateParty(ctx context.Context, p Party) (Party, error)
	UpdateParty(ctx context.Context, p Party) (Party, error)
	DeleteParty(ctx context.Context, addr common.Address) error
	GetParty(ctx context.Context, addr common.Address) (Party, error)
	ListParties(ctx context.Context, limit, offset int) ([]Party, int64, error)
}

type postgresPartyRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresPartyRepository(pool *pgxpool.Pool) PartyRepository {
	return &postgresPartyRepository{pool: pool}
}

func (r *postgresPartyRepository) CreateParty(ctx context.Context, p Party) (Party, error) {
	query := `INSERT INTO parties (address, name, email, role, created_at)
              VALUES ($1, $2, $3, $4, NOW())
              RETURNING address, name, email, role, created_at`
	out, err := scanParty(r.pool.QueryRow(ctx, query, p.Address.Hex(), p.Name, p.Email, p.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Party{}, ErrPartyExists
		}
		return Party{}, err
	}
	return out, nil
}

func (r *postgresPartyRepository) UpdateParty(ctx context.Context, p Party) (Party, error) {
	query := `UPDATE parties
              SET name = $1, email = $2, role = $3
              WHERE address = $4
              RETURNING address, name, email, role, created_at`
	out, err := scanParty(r.pool.QueryRow(ctx, query, p.Name, p.Email, p.Role, p.Address.Hex()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrPartyNotFound
		}
		return Party{}, err
	}
	return out, nil
}

func (r *postgresPartyRepository) DeleteParty(ctx context.Context, addr common.Address) error {
	cmd, err := r.pool.Exec(ctx, "DELETE FROM parties WHERE address = $1", addr.Hex())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPartyNotFound
	}
	return nil
}

func (r *postgresPartyRepository) GetParty(ctx context.Context, addr common.Address) (Party, error) {
	query := `SELECT address, name, email, role, created_at FROM parties WHERE address = $1`
	out, err := scanParty(r.pool.QueryRow(ctx, query, addr.Hex()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrPartyNotFound
		}
		return Party{}, err
	}
	return out, nil
}

func (r *postgresPartyRepository) ListParties(ctx context.Context, limit, offset int) ([]Party, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM parties").Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT address, name, email, role, created_at
              FROM parties
              ORDER BY created_at, address
              LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func scanParty(row pgx.Row) (Party, error) {
	var (
		p    Party
		addr string
	)
	if err := row.Scan(&addr, &p.Name, &p.Email, &p.Role, &p.CreatedAt); err != nil {
		return Party{}, err
	}
	p.Address = common.HexToAddress(addr)
	return p, nil
}

// memoryPartyRepository backs the directory when no database is configured.
type memoryPartyRepository struct {
	mu      sync.RWMutex
	parties map[common.Address]Party
}

func NewMemoryPartyRepository() PartyRepository {
	return &memoryPartyRepository{parties: make(map[common.Address]Party)}
}

func (r *memoryPartyRepository) CreateParty(_ context.Context, p Party) (Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.parties[p.Address]; ok {
		return Party{}, ErrPartyExists
	}
	p.CreatedAt = time.Now().UTC()
	r.parties[p.Address] = p
	return p, nil
}

func (r *memoryPartyRepository) UpdateParty(_ context.Context, p Party) (Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.parties[p.Address]
	if !ok {
		return Party{}, ErrPartyNotFound
	}
	p.CreatedAt = existing.CreatedAt
	r.parties[p.Address] = p
	return p, nil
}

func (r *memoryPartyRepository) DeleteParty(_ context.Context, addr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.parties[addr]; !ok {
		return ErrPartyNotFound
	}
	delete(r.parties, addr)
	return nil
}

func (r *memoryPartyRepository) GetParty(_ context.Context, addr common.Address) (Party, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.parties[addr]
	if !ok {
		return Party{}, ErrPartyNotFound
	}
	return p, nil
}

func (r *memoryPartyRepository) ListParties(_ context.Context, limit, offset int) ([]Party, int64, error) {
	r.mu.RLock()
	all := make([]Party, 0, len(r.parties))
	for _, p := range r.parties {
		all = append(all, p)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].Address.Hex() < all[j].Address.Hex()
	})
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}
