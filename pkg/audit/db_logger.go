package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/messmate/messmate/pkg/async"
	"github.com/messmate/messmate/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Record writes an event asynchronously; the hot path never blocks on
	// the audit store.
	Record(ctx context.Context, event Event)

	// RecordSync writes an event and waits for the insert. Used where the
	// caller needs the event durably stored before continuing.
	RecordSync(ctx context.Context, event Event) error

	// Query returns stored events matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]*Event, error)
}

// DBLogger persists audit events in PostgreSQL.
type DBLogger struct {
	db     *sql.DB
	logger *observability.Logger

	// writeTimeout bounds each async insert.
	writeTimeout time.Duration
}

// NewDBLogger creates a new DBLogger.
func NewDBLogger(db *sql.DB, logger *observability.Logger) *DBLogger {
	return &DBLogger{db: db, logger: logger, writeTimeout: 10 * time.Second}
}

// Record writes the event in a background goroutine. A failed audit write
// is logged but never fails the calling operation.
func (l *DBLogger) Record(ctx context.Context, event Event) {
	// Detach from the request context so an aborted request still audits.
	async.SafeGo(context.Background(), l.writeTimeout, "audit-write", func(ctx context.Context) error {
		return l.insert(ctx, event)
	})
}

// RecordSync writes the event and waits for the insert.
func (l *DBLogger) RecordSync(ctx context.Context, event Event) error {
	return l.insert(ctx, event)
}

func (l *DBLogger) insert(ctx context.Context, event Event) error {
	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_type, mess_id, actor, resource_id, status, message, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.Type, event.MessID, nullIfEmpty(event.Actor), nullIfEmpty(event.ResourceID),
		event.Status, nullIfEmpty(event.Message), details)
	if err != nil {
		l.logger.WithError(err).WithField("event_type", string(event.Type)).Error("audit write failed")
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Query returns stored events matching the filter, newest first.
func (l *DBLogger) Query(ctx context.Context, filter Filter) ([]*Event, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, event_type, mess_id, actor, resource_id, status, message, details, created_at
		FROM audit_events
		WHERE 1=1`
	args := []interface{}{}

	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if filter.MessID > 0 {
		args = append(args, filter.MessID)
		query += fmt.Sprintf(" AND mess_id = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var actor, resourceID, message sql.NullString
		var details []byte
		if err := rows.Scan(&event.ID, &event.Type, &event.MessID, &actor, &resourceID,
			&event.Status, &message, &details, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Actor = actor.String
		event.ResourceID = resourceID.String
		event.Message = message.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
