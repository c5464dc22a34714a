package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrMissingPool = errors.New("timeline: missing pool address")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append writes the event and its outbox message inside tx. The caller holds
// the pool row lock, which keeps seq gap-free.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, params AppendParams) error {
	if params.PoolAddress == "" {
		return ErrMissingPool
	}
	if params.Kind == "" {
		return fmt.Errorf("timeline: missing event kind")
	}

	payload := params.Payload
	if payload == nil {
		payload = make(map[string]any, 1)
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal payload: %w", err)
	}

	const insertSQL = `
INSERT INTO pool_events (pool_address, seq, kind, topic, payload)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4
FROM pool_events
WHERE pool_address = $1;
`
	if _, err := tx.Exec(ctx, insertSQL, params.PoolAddress, params.Kind, params.Topic, payloadBytes); err != nil {
		return fmt.Errorf("timeline: insert event: %w", err)
	}

	if params.OutboxTopic == "" {
		return nil
	}

	outbox := map[string]any{
		"pool_address": params.PoolAddress,
		"kind":         params.Kind,
		"event":        payload,
	}
	outboxBytes, err := json.Marshal(outbox)
	if err != nil {
		return fmt.Errorf("timeline: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2)`, params.OutboxTopic, outboxBytes); err != nil {
		return fmt.Errorf("timeline: insert outbox message: %w", err)
	}
	return nil
}

// List returns events in sequence order.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Event, error) {
	if filter.PoolAddress == "" {
		return nil, ErrMissingPool
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	const query = `
		SELECT id, pool_address, seq, kind, topic, payload, created_at
		FROM pool_events
		WHERE pool_address = $1
		  AND ($2 = '' OR kind = $2)
		  AND ($3 = '' OR topic = $3)
		  AND seq > $4
		ORDER BY seq ASC
		LIMIT $5
	`
	rows, err := r.pool.Query(ctx, query, filter.PoolAddress, filter.Kind, filter.Topic, filter.AfterSeq, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("timeline: list: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.PoolAddress, &ev.Seq, &ev.Kind, &ev.Topic, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("timeline: scan: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline: iterate: %w", err)
	}
	return events, nil
}
