package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// OutboxEntry represents a pending event.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	Type        string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// Record is an event staged alongside a state change.
type Record struct {
	AggregateID string
	Event       CanonicalEvent
}

// DeliveryHandler emits events to downstream transports.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// Outbox accepts events for later delivery.
type Outbox interface {
	Insert(ctx context.Context, aggregateID string, evt CanonicalEvent) (uuid.UUID, error)
}

// Source is what the Deliverer drains.
type Source interface {
	FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
}

// Execer runs a statement. pgx pools and transactions both satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type outboxDB interface {
	Execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore persists events for reliable delivery.
type OutboxStore struct {
	pool outboxDB
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{pool: pool}
}

func newOutboxStoreWithExec(db outboxDB) *OutboxStore {
	return &OutboxStore{pool: db}
}

const insertOutboxSQL = `
	INSERT INTO outbox (id, aggregate_id, type, payload)
	VALUES ($1, $2, $3, $4)
`

func (s *OutboxStore) Insert(ctx context.Context, aggregateID string, evt CanonicalEvent) (uuid.UUID, error) {
	return InsertWith(ctx, s.pool, Record{AggregateID: aggregateID, Event: evt})
}

// InsertWith writes a record through exec, which may be an open transaction.
func InsertWith(ctx context.Context, exec Execer, rec Record) (uuid.UUID, error) {
	if rec.Event == nil {
		return uuid.Nil, errNilEvent
	}
	data, err := json.Marshal(rec.Event)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	id := uuid.New()
	if _, err := exec.Exec(ctx, insertOutboxSQL, id, rec.AggregateID, rec.Event.EventType(), data); err != nil {
		return uuid.Nil, fmt.Errorf("events: insert outbox: %w", err)
	}
	return id, nil
}

func (s *OutboxStore) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	query := `
		SELECT id, aggregate_id, type, payload, created_at
		FROM outbox
		WHERE delivered_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.AggregateID, &entry.Type, &payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE outbox
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// MemoryOutbox keeps entries in process memory for development and tests.
type MemoryOutbox struct {
	mu        sync.Mutex
	entries   map[uuid.UUID]OutboxEntry
	delivered map[uuid.UUID]bool
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{entries: make(map[uuid.UUID]OutboxEntry), delivered: make(map[uuid.UUID]bool)}
}

func (m *MemoryOutbox) Insert(ctx context.Context, aggregateID string, evt CanonicalEvent) (uuid.UUID, error) {
	if evt == nil {
		return uuid.Nil, errNilEvent
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	entry := OutboxEntry{ID: uuid.New(), AggregateID: aggregateID, Type: evt.EventType(), Payload: data, CreatedAt: time.Now().UTC()}
	m.mu.Lock()
	m.entries[entry.ID] = entry
	m.mu.Unlock()
	return entry.ID, nil
}

func (m *MemoryOutbox) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxEntry
	for id, e := range m.entries {
		if !m.delivered[id] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryOutbox) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok || m.delivered[id] {
		return false, nil
	}
	m.delivered[id] = true
	return true, nil
}

// Entries returns every entry of the given type, delivered or not.
func (m *MemoryOutbox) Entries(eventType string) []OutboxEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxEntry
	for _, e := range m.entries {
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Deliverer polls the outbox and invokes the handler.
type Deliverer struct {
	store     Source
	handler   DeliveryHandler
	logger    *logging.Logger
	batchSize int32
	interval  time.Duration
}

func NewDeliverer(store Source, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:     store,
		handler:   handler,
		logger:    logger,
		batchSize: 25,
		interval:  2 * time.Second,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

func (d *Deliverer) drain(ctx context.Context) {
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return
	}
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.logger.Error("outbox delivery failed", "error", err, "event_id", entry.ID, "type", entry.Type)
			continue
		}
		if ok, err := d.store.MarkDelivered(ctx, entry.ID); err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
		} else if ok {
			d.logger.Debug("outbox delivered", "event_id", entry.ID, "type", entry.Type)
		}
	}
}
