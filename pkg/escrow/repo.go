package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"propertyescrow/pkg/db"
)

type postgresStore struct {
	pool   *pgxpool.Pool
	engine string
}

// NewPostgresStore returns a Store writing to the escrow_* tables. Rows are
// keyed by the engine's custody address.
func NewPostgresStore(pool *pgxpool.Pool, engine common.Address) Store {
	return &postgresStore{pool: pool, engine: engine.Hex()}
}

func (s *postgresStore) Load(ctx context.Context) (*State, error) {
	state := NewState()

	rows, err := s.pool.Query(ctx, `SELECT asset_id, buyer, purchase_price::text, down_payment::text, status, inspection_passed, listed_at, finalized_at
              FROM escrow_listings
              WHERE engine = $1
              ORDER BY asset_id`, s.engine)
	if err != nil {
		return nil, fmt.Errorf("load listings: %w", err)
	}
	for rows.Next() {
		var (
			assetID     int64
			buyer       string
			price, down string
			status      int16
			finalizedAt *time.Time
		)
		l := &Listing{Approvals: make(map[common.Address]bool)}
		if err := rows.Scan(&assetID, &buyer, &price, &down, &status, &l.InspectionPassed, &l.ListedAt, &finalizedAt); err != nil {
			rows.Close()
			return nil, err
		}
		l.AssetID = uint64(assetID)
		l.Buyer = common.HexToAddress(buyer)
		l.Status = Status(status)
		if finalizedAt != nil {
			l.FinalizedAt = *finalizedAt
		}
		if err := setDecimal(&l.PurchasePrice, price); err != nil {
			rows.Close()
			return nil, err
		}
		if err := setDecimal(&l.DownPayment, down); err != nil {
			rows.Close()
			return nil, err
		}
		state.Listings[l.AssetID] = l
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	approvals, err := s.pool.Query(ctx, `SELECT asset_id, address FROM escrow_approvals WHERE engine = $1`, s.engine)
	if err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	for approvals.Next() {
		var (
			assetID int64
			addr    string
		)
		if err := approvals.Scan(&assetID, &addr); err != nil {
			approvals.Close()
			return nil, err
		}
		if l, ok := state.Listings[uint64(assetID)]; ok {
			l.Approvals[common.HexToAddress(addr)] = true
		}
	}
	approvals.Close()
	if err := approvals.Err(); err != nil {
		return nil, err
	}

	var balance string
	err = s.pool.QueryRow(ctx, `SELECT balance::text FROM escrow_pool WHERE engine = $1`, s.engine).Scan(&balance)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load pool: %w", err)
	default:
		if err := setDecimal(&state.Balance, balance); err != nil {
			return nil, err
		}
	}

	proceeds, err := s.pool.Query(ctx, `SELECT payee, amount::text FROM escrow_proceeds WHERE engine = $1`, s.engine)
	if err != nil {
		return nil, fmt.Errorf("load proceeds: %w", err)
	}
	defer proceeds.Close()
	for proceeds.Next() {
		var payee, amount string
		if err := proceeds.Scan(&payee, &amount); err != nil {
			return nil, err
		}
		var v uint256.Int
		if err := setDecimal(&v, amount); err != nil {
			return nil, err
		}
		state.Proceeds[common.HexToAddress(payee)] = v
	}
	if err := proceeds.Err(); err != nil {
		return nil, err
	}

	return state, nil
}

func (s *postgresStore) Commit(ctx context.Context, change Change, effect func(context.Context) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if l := change.Listing; l != nil {
		var finalizedAt *time.Time
		if !l.FinalizedAt.IsZero() {
			finalizedAt = &l.FinalizedAt
		}
		query := `INSERT INTO escrow_listings (engine, asset_id, buyer, purchase_price, down_payment, status, inspection_passed, listed_at, finalized_at)
                  VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9)
                  ON CONFLICT (engine, asset_id) DO UPDATE
                  SET status = EXCLUDED.status, inspection_passed = EXCLUDED.inspection_passed, finalized_at = EXCLUDED.finalized_at`
		if _, err := tx.Exec(ctx, query, s.engine, int64(l.AssetID), l.Buyer.Hex(), l.PurchasePrice.Dec(), l.DownPayment.Dec(),
			int16(l.Status), l.InspectionPassed, l.ListedAt, finalizedAt); err != nil {
			return fmt.Errorf("write listing: %w", err)
		}
		for addr, ok := range l.Approvals {
			if !ok {
				continue
			}
			if _, err := tx.Exec(ctx, `INSERT INTO escrow_approvals (engine, asset_id, address) VALUES ($1, $2, $3)
                  ON CONFLICT DO NOTHING`, s.engine, int64(l.AssetID), addr.Hex()); err != nil {
				return fmt.Errorf("write approval: %w", err)
			}
		}
	}

	if change.Balance != nil {
		if _, err := tx.Exec(ctx, `INSERT INTO escrow_pool (engine, balance) VALUES ($1, $2::numeric)
              ON CONFLICT (engine) DO UPDATE SET balance = EXCLUDED.balance`, s.engine, change.Balance.Dec()); err != nil {
			return fmt.Errorf("write pool balance: %w", err)
		}
	}

	if p := change.Payout; p != nil {
		if _, err := tx.Exec(ctx, `INSERT INTO escrow_proceeds (engine, payee, amount) VALUES ($1, $2, $3::numeric)
              ON CONFLICT (engine, payee) DO UPDATE SET amount = escrow_proceeds.amount + EXCLUDED.amount`,
			s.engine, p.Payee.Hex(), p.Amount.Dec()); err != nil {
			return fmt.Errorf("write payout: %w", err)
		}
	}

	if effect != nil {
		if err := effect(db.WithTx(ctx, tx)); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func setDecimal(dst *uint256.Int, s string) error {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return fmt.Errorf("decode amount %q: %w", s, err)
	}
	dst.Set(v)
	return nil
}
