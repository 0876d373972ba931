package replay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"chatty/internal/durable"
	"chatty/internal/protocol"
)

// DurableBackend stores cursors and events in the relational tables
// durable.Store migrates: replay_cursors(client_id, topic, cursor) and
// replay_events(client_id, topic, cursor, payload, created_at).
type DurableBackend struct {
	store *durable.Store
}

// NewDurableBackend wraps an already-open durable.Store.
func NewDurableBackend(store *durable.Store) *DurableBackend {
	return &DurableBackend{store: store}
}

func (b *DurableBackend) PushEvent(ctx context.Context, clientID, topic string, env *protocol.EventEnvelope, cfg Config) (*protocol.EventEnvelope, error) {
	db := b.store.DB()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	var current uint64
	err = tx.QueryRowContext(ctx,
		`SELECT cursor FROM replay_cursors WHERE client_id = ? AND topic = ?`, clientID, topic,
	).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("select cursor: %w", err)
	}

	next := current + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO replay_cursors(client_id, topic, cursor) VALUES(?, ?, ?)
		 ON CONFLICT(client_id, topic) DO UPDATE SET cursor = excluded.cursor`,
		clientID, topic, next,
	); err != nil {
		return nil, fmt.Errorf("upsert cursor: %w", err)
	}

	out := *env
	out.Cursor = next
	payload, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO replay_events(client_id, topic, cursor, payload) VALUES(?, ?, ?, ?)`,
		clientID, topic, next, payload,
	); err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	if cfg.PerTopicCapacity > 0 && next > uint64(cfg.PerTopicCapacity) {
		threshold := next - uint64(cfg.PerTopicCapacity)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM replay_events WHERE client_id = ? AND topic = ? AND cursor <= ?`,
			clientID, topic, threshold,
		); err != nil {
			return nil, fmt.Errorf("trim events: %w", err)
		}
	}

	if cfg.RetentionSecs > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM replay_events WHERE client_id = ? AND topic = ? AND created_at < datetime('now', ?)`,
			clientID, topic, fmt.Sprintf("-%d seconds", cfg.RetentionSecs),
		); err != nil {
			return nil, fmt.Errorf("retention trim: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &out, nil
}

func (b *DurableBackend) Replay(ctx context.Context, clientID, topic string, lastCursor uint64) (Outcome, error) {
	db := b.store.DB()

	var current uint64
	err := db.QueryRowContext(ctx,
		`SELECT cursor FROM replay_cursors WHERE client_id = ? AND topic = ?`, clientID, topic,
	).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return Outcome{}, fmt.Errorf("select cursor: %w", err)
	}

	var oldest sql.NullInt64
	if err := db.QueryRowContext(ctx,
		`SELECT MIN(cursor) FROM replay_events WHERE client_id = ? AND topic = ?`, clientID, topic,
	).Scan(&oldest); err != nil {
		return Outcome{}, fmt.Errorf("select oldest cursor: %w", err)
	}

	// Mirrors MemoryBackend.Replay: the requested history is available when
	// every cursor after lastCursor still has a row, i.e. lastCursor+1 is
	// not below the oldest surviving cursor, so a resume landing exactly on
	// the eviction boundary is Ok. Anything lower means at least one
	// requested event was already trimmed.
	if !oldest.Valid {
		if lastCursor > 0 {
			return Outcome{Status: protocol.SubReplayNotAvailable, CurrentCursor: current}, nil
		}
	} else if lastCursor > 0 && lastCursor+1 < uint64(oldest.Int64) {
		return Outcome{Status: protocol.SubReplayNotAvailable, CurrentCursor: current}, nil
	}

	rows, err := db.QueryContext(ctx,
		`SELECT payload FROM replay_events WHERE client_id = ? AND topic = ? AND cursor > ? ORDER BY cursor ASC`,
		clientID, topic, lastCursor,
	)
	if err != nil {
		return Outcome{}, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()

	var events []*protocol.EventEnvelope
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return Outcome{}, fmt.Errorf("scan event: %w", err)
		}
		var e protocol.EventEnvelope
		if err := json.Unmarshal(payload, &e); err != nil {
			return Outcome{}, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return Outcome{}, fmt.Errorf("iterate events: %w", err)
	}

	return Outcome{Status: protocol.SubOk, CurrentCursor: current, Events: events}, nil
}
