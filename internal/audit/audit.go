// Package audit keeps an append-only record of administrative money decisions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names an audited action.
type EventType string

const (
	EventRefundApproved       EventType = "refund.approved"
	EventRefundRejected       EventType = "refund.rejected"
	EventDepositPolicyChanged EventType = "deposit_policy.changed"
	EventDepositOverrideSet   EventType = "deposit_override.changed"
)

// Event is an immutable audit record.
type Event struct {
	ID        string          `json:"id"`
	EventType EventType       `json:"event_type"`
	ActorID   string          `json:"actor_id"`
	ActorRole string          `json:"actor_role"`
	SubjectID string          `json:"subject_id"`
	Note      string          `json:"note,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// RefundDetails is stored with refund decisions.
type RefundDetails struct {
	AmountCents int64 `json:"amount_cents"`
	PaidCents   int64 `json:"paid_cents"`
}

// Logger records and reads audit events.
type Logger interface {
	LogEvent(ctx context.Context, event Event) error
	ForSubject(ctx context.Context, subjectID string) ([]Event, error)
}

// Service writes audit events through database/sql.
type Service struct {
	db *sql.DB
}

// NewService creates a new audit service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// LogEvent records an audit event.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	event = fill(event)
	query := `
		INSERT INTO audit_events (
			id, event_type, actor_id, actor_role, subject_id, note, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.EventType),
		event.ActorID,
		event.ActorRole,
		event.SubjectID,
		nullString(event.Note),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to log event: %w", err)
	}
	return nil
}

// ForSubject returns events about one booking or provider, newest first.
func (s *Service) ForSubject(ctx context.Context, subjectID string) ([]Event, error) {
	query := `
		SELECT id, event_type, actor_id, actor_role, subject_id, note, details, created_at
		FROM audit_events
		WHERE subject_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			kind    string
			note    sql.NullString
			details []byte
		)
		if err := rows.Scan(&e.ID, &kind, &e.ActorID, &e.ActorRole, &e.SubjectID, &note, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.EventType = EventType(kind)
		e.Note = note.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MemoryLog is an in-process Logger for development.
type MemoryLog struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (m *MemoryLog) LogEvent(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, fill(event))
	return nil
}

func (m *MemoryLog) ForSubject(ctx context.Context, subjectID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.SubjectID == subjectID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// RefundDecision builds the event for an admin refund ruling.
func RefundDecision(actorID, actorRole, bookingID string, approved bool, amount, paid int64, note string) Event {
	kind := EventRefundRejected
	if approved {
		kind = EventRefundApproved
	}
	details, _ := json.Marshal(RefundDetails{AmountCents: amount, PaidCents: paid})
	return Event{
		EventType: kind,
		ActorID:   actorID,
		ActorRole: actorRole,
		SubjectID: bookingID,
		Note:      note,
		Details:   details,
	}
}

// PolicyChange builds the event for a deposit policy or override write.
func PolicyChange(kind EventType, actorID, actorRole, subjectID string, policy any) Event {
	details, _ := json.Marshal(policy)
	return Event{
		EventType: kind,
		ActorID:   actorID,
		ActorRole: actorRole,
		SubjectID: subjectID,
		Details:   details,
	}
}

func fill(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return e
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
