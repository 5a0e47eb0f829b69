package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hipercam/hdriver/internal/models"
)

// Event repository errors.
var (
	ErrInvalidEvent = errors.New("invalid event")
)

// EventRepository handles observation event persistence.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// EventQuery defines filters for querying events.
type EventQuery struct {
	Type       *models.EventType  // Filter by event type
	EntityType *models.EntityType // Filter by entity type
	EntityID   *string            // Filter by entity ID
	Since      *time.Time         // Events at or after this time (inclusive)
	Limit      int                // Max results to return (0 = no limit)
}

// Append adds a new event to the log, filling in ID and timestamp when
// missing. Returns ErrInvalidEvent if required fields are missing.
func (r *EventRepository) Append(ctx context.Context, event *models.Event) error {
	if event.Type == "" || event.EntityType == "" || event.EntityID == "" {
		return ErrInvalidEvent
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	} else {
		event.Timestamp = event.Timestamp.UTC()
	}

	var payloadJSON *string
	if len(event.Payload) > 0 {
		s := string(event.Payload)
		payloadJSON = &s
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (
			id, timestamp, type, entity_type, entity_id, payload_json
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.Timestamp.Format(time.RFC3339Nano),
		string(event.Type),
		string(event.EntityType),
		event.EntityID,
		payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns events matching the query, oldest first.
func (r *EventRepository) List(ctx context.Context, query EventQuery) ([]*models.Event, error) {
	sqlQuery := `
		SELECT id, timestamp, type, entity_type, entity_id, payload_json
		FROM events
		WHERE 1=1
	`
	var args []any

	if query.Type != nil {
		sqlQuery += " AND type = ?"
		args = append(args, string(*query.Type))
	}
	if query.EntityType != nil {
		sqlQuery += " AND entity_type = ?"
		args = append(args, string(*query.EntityType))
	}
	if query.EntityID != nil {
		sqlQuery += " AND entity_id = ?"
		args = append(args, *query.EntityID)
	}
	if query.Since != nil {
		sqlQuery += " AND timestamp >= ?"
		args = append(args, query.Since.UTC().Format(time.RFC3339Nano))
	}

	sqlQuery += " ORDER BY timestamp ASC, id ASC"
	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)
	}

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (*models.Event, error) {
	var (
		event       models.Event
		timestamp   string
		payloadJSON sql.NullString
	)

	if err := rows.Scan(
		&event.ID,
		&timestamp,
		(*string)(&event.Type),
		(*string)(&event.EntityType),
		&event.EntityID,
		&payloadJSON,
	); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse event timestamp %q: %w", timestamp, err)
	}
	event.Timestamp = parsed

	if payloadJSON.Valid {
		event.Payload = []byte(payloadJSON.String)
	}

	return &event, nil
}
