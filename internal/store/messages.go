package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/virelang/coordination/internal/bus"
)

// AppendMessage inserts one message into the raw log. The payload is
// stored as JSONB with no transformation beyond JSON encoding, so reads
// reconstruct the published shape exactly.
func (s *Store) AppendMessage(ctx context.Context, msg *bus.Message) error {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if len(payload) == 0 || string(payload) == "null" {
		payload = []byte("{}")
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO messages (id, topic, agent, step, schema_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.Topic, msg.Agent, msg.Step, msg.SchemaID, payload, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// MessagesByTopic returns messages for one topic in append order. A
// non-positive limit returns everything.
func (s *Store) MessagesByTopic(ctx context.Context, topic string, limit int) ([]*bus.Message, error) {
	query := `
		SELECT id, topic, agent, step, schema_id, payload, created_at
		FROM messages
		WHERE topic = $1
		ORDER BY seq ASC`
	args := []any{topic}
	if limit > 0 {
		query = `
		SELECT id, topic, agent, step, schema_id, payload, created_at
		FROM (
			SELECT seq, id, topic, agent, step, schema_id, payload, created_at
			FROM messages
			WHERE topic = $1
			ORDER BY seq DESC
			LIMIT $2
		) latest
		ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s messages: %w", topic, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentMessages returns the newest messages across all topics, oldest
// first.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]*bus.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, topic, agent, step, schema_id, payload, created_at
		FROM (
			SELECT seq, id, topic, agent, step, schema_id, payload, created_at
			FROM messages
			ORDER BY seq DESC
			LIMIT $1
		) latest
		ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// CountByTopic returns the number of raw log rows per topic.
func (s *Store) CountByTopic(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT topic, COUNT(*) FROM messages GROUP BY topic`)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var topic string
		var n int64
		if err := rows.Scan(&topic, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[topic] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]*bus.Message, error) {
	var msgs []*bus.Message
	for rows.Next() {
		var msg bus.Message
		var payload []byte
		if err := rows.Scan(&msg.ID, &msg.Topic, &msg.Agent, &msg.Step, &msg.SchemaID, &payload, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &msg.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload for %s: %w", msg.ID, err)
			}
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}
