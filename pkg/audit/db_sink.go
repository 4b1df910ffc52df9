package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/lib/pq"
)

// DBSink persists audit events to PostgreSQL
type DBSink struct {
	db *sql.DB
}

var _ Sink = (*DBSink)(nil)

// NewDBSink creates a database-backed sink and ensures its table exists
func NewDBSink(ctx context.Context, db *sql.DB) (*DBSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &DBSink{db: db}
	if err := s.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure codeck_audit_events table: %w", err)
	}
	return s, nil
}

// ensureTable creates the codeck_audit_events table if it doesn't exist
func (s *DBSink) ensureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS codeck_audit_events (
		id BIGSERIAL PRIMARY KEY,
		occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		ip_address VARCHAR(64) NOT NULL,
		session_id VARCHAR(64),
		device_id VARCHAR(255),
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_codeck_audit_events_occurred_at ON codeck_audit_events(occurred_at DESC);
	CREATE INDEX IF NOT EXISTS idx_codeck_audit_events_event_type ON codeck_audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_codeck_audit_events_ip_address ON codeck_audit_events(ip_address);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Write inserts one event
func (s *DBSink) Write(ctx context.Context, event Event) error {
	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO codeck_audit_events (
			occurred_at, event_type, ip_address, session_id, device_id, metadata
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.Time().UTC(), string(event.Kind), event.IP,
		nullString(event.SessionID), nullString(event.DeviceID), metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns events matching filter, oldest first
func (s *DBSink) Search(ctx context.Context, filter SearchFilter) ([]Event, error) {
	query := `
		SELECT occurred_at, event_type, ip_address, session_id, device_id, metadata
		FROM codeck_audit_events
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if len(filter.Kinds) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		args = append(args, pq.Array(kinds))
		argCount++
	}

	if filter.IP != "" {
		query += fmt.Sprintf(" AND ip_address = $%d", argCount)
		args = append(args, filter.IP)
		argCount++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argCount)
		args = append(args, *filter.Since)
		argCount++
	}

	if filter.Until != nil {
		query += fmt.Sprintf(" AND occurred_at <= $%d", argCount)
		args = append(args, *filter.Until)
		argCount++
	}

	order := "ASC"
	if filter.Latest {
		order = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY occurred_at %s, id %s", order, order)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			occurredAt   time.Time
			kind         string
			event        Event
			sessionID    sql.NullString
			deviceID     sql.NullString
			metadataJSON []byte
		)

		if err := rows.Scan(&occurredAt, &kind, &event.IP, &sessionID, &deviceID, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		event.Kind = EventKind(kind)
		event.Timestamp = occurredAt.UnixMilli()
		event.SessionID = sessionID.String
		event.DeviceID = deviceID.String
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	if filter.Latest {
		slices.Reverse(events)
	}

	return events, nil
}

// Flush is a no-op; every Write is its own statement.
func (s *DBSink) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op; the connection pool belongs to the caller.
func (s *DBSink) Close() error {
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
