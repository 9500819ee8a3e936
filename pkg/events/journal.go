package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"propertyescrow/pkg/escrow"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
	journalQueueSize    = 256
)

// Journal keeps the history of committed escrow events.
type Journal interface {
	Append(ctx context.Context, evt escrow.Event) error
	// History returns events older than before, oldest first. assetID 0
	// matches every asset.
	History(ctx context.Context, assetID uint64, limit int, before time.Time) ([]escrow.Event, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

type PostgresJournal struct {
	pool *pgxpool.Pool
}

func NewPostgresJournal(pool *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{pool: pool}
}

func (j *PostgresJournal) Append(ctx context.Context, evt escrow.Event) error {
	if j.pool == nil {
		return errors.New("db pool is nil")
	}

	const insertSQL = `
		INSERT INTO escrow_events (id, type, asset_id, actor, attributes, at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := j.pool.Exec(ctxTimeout, insertSQL, evt.ID, evt.Type, int64(evt.AssetID), evt.Actor, evt.Attributes, evt.At); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (j *PostgresJournal) History(ctx context.Context, assetID uint64, limit int, before time.Time) ([]escrow.Event, error) {
	if j.pool == nil {
		return nil, errors.New("db pool is nil")
	}
	limit = clampLimit(limit)

	// Newest page first, then flipped so callers read oldest first.
	const querySQL = `
		SELECT id, type, asset_id, actor, attributes, at
		FROM escrow_events
		WHERE ($1 = 0 OR asset_id = $1)
		  AND at < $2
		ORDER BY at DESC, id DESC
		LIMIT $3
	`
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := j.pool.Query(ctxTimeout, querySQL, int64(assetID), before, limit)
	if err != nil {
		return nil, fmt.Errorf("query event history: %w", err)
	}
	defer rows.Close()

	result := make([]escrow.Event, 0, limit)
	for rows.Next() {
		var (
			evt escrow.Event
			id  int64
		)
		if err := rows.Scan(&evt.ID, &evt.Type, &id, &evt.Actor, &evt.Attributes, &evt.At); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.AssetID = uint64(id)
		result = append(result, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	for i, k := 0, len(result)-1; i < k; i, k = i+1, k-1 {
		result[i], result[k] = result[k], result[i]
	}
	return result, nil
}

// MemoryJournal is the Journal used without a database.
type MemoryJournal struct {
	mu     sync.RWMutex
	events []escrow.Event
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(_ context.Context, evt escrow.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, evt)
	return nil
}

func (j *MemoryJournal) History(_ context.Context, assetID uint64, limit int, before time.Time) ([]escrow.Event, error) {
	limit = clampLimit(limit)

	j.mu.RLock()
	matched := make([]escrow.Event, 0, len(j.events))
	for _, evt := range j.events {
		if assetID != 0 && evt.AssetID != assetID {
			continue
		}
		if !evt.At.Before(before) {
			continue
		}
		matched = append(matched, evt)
	}
	j.mu.RUnlock()

	sort.SliceStable(matched, func(a, b int) bool { return matched[a].At.Before(matched[b].At) })
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

// JournalWriter implements escrow.Emitter by queueing events for Run to
// append, so the engine never waits on the database.
type JournalWriter struct {
	journal Journal
	logger  *zap.Logger
	queue   chan escrow.Event
}

func NewJournalWriter(journal Journal, logger *zap.Logger) *JournalWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JournalWriter{
		journal: journal,
		logger:  logger,
		queue:   make(chan escrow.Event, journalQueueSize),
	}
}

func (w *JournalWriter) Emit(evt escrow.Event) {
	select {
	case w.queue <- evt:
	default:
		w.logger.Warn("journal queue full; event not recorded",
			zap.String("event_id", evt.ID),
			zap.String("event", evt.Type))
	}
}

// Run appends queued events until ctx is cancelled, then drains what is left.
func (w *JournalWriter) Run(ctx context.Context) {
	for {
		select {
		case evt := <-w.queue:
			w.append(ctx, evt)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			for {
				select {
				case evt := <-w.queue:
					w.append(drainCtx, evt)
				default:
					return
				}
			}
		}
	}
}

func (w *JournalWriter) append(ctx context.Context, evt escrow.Event) {
	if err := w.journal.Append(ctx, evt); err != nil {
		w.logger.Error("append event to journal",
			zap.String("event_id", evt.ID),
			zap.String("event", evt.Type),
			zap.Error(err))
	}
}
