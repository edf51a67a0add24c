package registration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// AuditLog records registration audit events. Implementations must be
// safe for concurrent use.
type AuditLog interface {
	Record(ctx context.Context, event *Event) error
}

// EventPublisher mirrors audit events to a stream for downstream
// consumers. Implemented by the Kafka producer.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Repository provides audit event persistence
type Repository struct {
	pool   *pgxpool.Pool
	mirror EventPublisher
	topic  string
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// WithMirror mirrors every recorded event to the given topic after the
// database write. Mirror failures are logged, not propagated.
func (r *Repository) WithMirror(publisher EventPublisher, topic string) *Repository {
	r.mirror = publisher
	r.topic = topic
	return r
}

// Record persists a single audit event
func (r *Repository) Record(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO registration_events
		(id, mrn, event_type, event_data, control_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.MRN,
		event.EventType,
		event.EventData,
		event.ControlID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert registration event: %w", err)
	}

	if r.mirror != nil {
		value, err := json.Marshal(event)
		if err == nil {
			err = r.mirror.Publish(ctx, r.topic, event.MRN, value)
		}
		if err != nil {
			r.logger.Warn("audit event mirror failed",
				zap.String("event_type", string(event.EventType)),
				zap.Error(err))
		}
	}
	return nil
}

// GetEvents retrieves all audit events for a patient MRN
func (r *Repository) GetEvents(ctx context.Context, mrn string) ([]*Event, error) {
	query := `
		SELECT id, mrn, event_type, event_data, control_id, timestamp
		FROM registration_events
		WHERE mrn = $1
		ORDER BY timestamp ASC
	`

	rows, err := r.pool.Query(ctx, query, mrn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		err := rows.Scan(&e.ID, &e.MRN, &e.EventType, &e.EventData, &e.ControlID, &e.Timestamp)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetEventsByType retrieves recent events of one type across patients
func (r *Repository) GetEventsByType(ctx context.Context, eventType EventType, limit int) ([]*Event, error) {
	query := `
		SELECT id, mrn, event_type, event_data, control_id, timestamp
		FROM registration_events
		WHERE event_type = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		err := rows.Scan(&e.ID, &e.MRN, &e.EventType, &e.EventData, &e.ControlID, &e.Timestamp)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
