package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rl1809/registration/internal/core/domain"
)

const outboxColumns = `seq, event_id, event_name, event_key, entity_kind, entity_id, dto_version,
	created_by, created_at, payload, attempts, last_error, published_at`

func (s *SQLStore) insertEvents(ctx context.Context, q DBTX, events []domain.Event) error {
	for _, ev := range events {
		_, err := s.exec(ctx, q, `INSERT INTO outbox (event_id, event_name, event_key, entity_kind, entity_id,
				dto_version, created_by, created_at, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, string(ev.Name), ev.Key, string(ev.EntityKind), ev.EntityID,
			ev.DTOVersion, ev.CreatedBy, toMillis(ev.CreatedAt), string(ev.Payload),
		)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", ev.MsgID(), err)
		}
	}
	return nil
}

// FetchPending returns unpublished events in commit order.
func (s *SQLStore) FetchPending(ctx context.Context, limit int) ([]domain.OutboxRecord, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+outboxColumns+` FROM outbox
		WHERE published_at IS NULL ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, persistErr("fetch outbox", err)
	}
	defer rows.Close()

	var out []domain.OutboxRecord
	for rows.Next() {
		var (
			rec       domain.OutboxRecord
			name      string
			kind      string
			created   int64
			payload   string
			lastError sql.NullString
			published sql.NullInt64
		)
		err := rows.Scan(&rec.Seq, &rec.Event.ID, &name, &rec.Event.Key, &kind, &rec.Event.EntityID,
			&rec.Event.DTOVersion, &rec.Event.CreatedBy, &created, &payload, &rec.Attempts, &lastError, &published)
		if err != nil {
			return nil, persistErr("scan outbox", err)
		}
		rec.Event.Name = domain.EventName(name)
		rec.Event.EntityKind = domain.Kind(kind)
		rec.Event.CreatedAt = fromMillis(created)
		rec.Event.Payload = []byte(payload)
		rec.LastError = lastError.String
		rec.PublishedAt = fromNullMillis(published)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("fetch outbox", err)
	}
	return out, nil
}

func (s *SQLStore) MarkPublished(ctx context.Context, seq int64, at time.Time) error {
	_, err := s.exec(ctx, s.db, `UPDATE outbox SET published_at = ? WHERE seq = ? AND published_at IS NULL`,
		toMillis(at), seq)
	if err != nil {
		return persistErr("mark published", err)
	}
	return nil
}

func (s *SQLStore) MarkFailed(ctx context.Context, seq int64, reason string) error {
	_, err := s.exec(ctx, s.db, `UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE seq = ?`,
		reason, seq)
	if err != nil {
		return persistErr("mark failed", err)
	}
	return nil
}

func (s *SQLStore) Backlog(ctx context.Context) (int, error) {
	var n int
	err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, persistErr("count outbox", err)
	}
	return n, nil
}
