package requests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/events"
	"github.com/erimias46/babrber-frontend-sub000/internal/slots"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	defaultTxRetries       = 3
	activeRequestIndex     = "booking_requests_one_active_idx"
	requestColumns         = `id, customer_id, provider_id, service_id, service_name, status, scheduled_time, duration_minutes, location, distance_meters, service_price_cents, transportation_fee_cents, total_price_cents, notes, deposit_required, deposit_amount_cents, deposit_paid_cents, deposit_payment_intent_id, remainder_amount_cents, remainder_payment_intent_id, payment_intent_id, transfer_id, refund_status, refund_amount_cents, late_payment_refs, cancel_reason, cancelled_by, last_payment_failure, version, created_at, updated_at`
	activeStatusList       = `('pending', 'accepted', 'rescheduled')`
	committedStatusList    = `('accepted', 'rescheduled')`
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore is the durable Store. Create serialises per customer/provider
// pair and Schedule per provider with transaction-scoped advisory locks; the
// partial unique index on active pairs backs up the first.
type PostgresStore struct {
	db         dbtx
	logger     *logging.Logger
	maxRetries int
	backoff    time.Duration
}

func NewPostgresStore(pool *pgxpool.Pool, logger *logging.Logger) *PostgresStore {
	if pool == nil {
		panic("requests: pgx pool required")
	}
	return newPostgresStoreWithDB(pool, logger)
}

func newPostgresStoreWithDB(db dbtx, logger *logging.Logger) *PostgresStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresStore{db: db, logger: logger, maxRetries: defaultTxRetries, backoff: 100 * time.Millisecond}
}

func (s *PostgresStore) Create(ctx context.Context, req *BookingRequest, recs ...events.Record) error {
	return s.runInTxWithRetry(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "pair:"+req.CustomerID+":"+req.ProviderID); err != nil {
			return fmt.Errorf("requests: lock pair: %w", err)
		}
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM booking_requests
				WHERE customer_id = $1 AND provider_id = $2 AND status IN `+activeStatusList+`
			)`, req.CustomerID, req.ProviderID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("requests: check active: %w", err)
		}
		if exists {
			return ErrActiveRequestExists
		}
		args, err := insertArgs(req)
		if err != nil {
			return err
		}
		placeholders := make([]string, len(args))
		for i := range args {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		query := `INSERT INTO booking_requests (` + requestColumns + `) VALUES (` + strings.Join(placeholders, ", ") + `)`
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == activeRequestIndex {
				return ErrActiveRequestExists
			}
			return fmt.Errorf("requests: insert: %w", err)
		}
		return stageRecords(ctx, tx, recs)
	})
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*BookingRequest, error) {
	row := s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM booking_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("requests: select: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]BookingRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.ProviderID != "" {
		args = append(args, f.ProviderID)
		where = append(where, fmt.Sprintf("provider_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	query := `SELECT ` + requestColumns + ` FROM booking_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.queryRequests(ctx, s.db, query, args...)
}

func (s *PostgresStore) Update(ctx context.Context, next *BookingRequest, expectedVersion int64, recs ...events.Record) error {
	return s.runInTxWithRetry(ctx, func(tx pgx.Tx) error {
		if err := updateVersioned(ctx, tx, next, expectedVersion); err != nil {
			return err
		}
		return stageRecords(ctx, tx, recs)
	})
}

func (s *PostgresStore) Schedule(ctx context.Context, next *BookingRequest, expectedVersion int64, buffer time.Duration, recs ...events.Record) error {
	return s.runInTxWithRetry(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "provider:"+next.ProviderID); err != nil {
			return fmt.Errorf("requests: lock provider: %w", err)
		}
		if start, end, ok := next.Window(); ok {
			rows, err := tx.Query(ctx, `
				SELECT scheduled_time, duration_minutes
				FROM booking_requests
				WHERE provider_id = $1 AND id <> $2 AND status IN `+committedStatusList+`
				  AND scheduled_time IS NOT NULL
				  AND scheduled_time < $4
				  AND scheduled_time + make_interval(mins => duration_minutes) > $3`,
				next.ProviderID, next.ID, start.Add(-buffer), end.Add(buffer))
			if err != nil {
				return fmt.Errorf("requests: load committed: %w", err)
			}
			var booked []slots.Window
			for rows.Next() {
				var at time.Time
				var minutes int
				if err := rows.Scan(&at, &minutes); err != nil {
					rows.Close()
					return fmt.Errorf("requests: scan committed: %w", err)
				}
				booked = append(booked, slots.Window{Start: at, End: at.Add(time.Duration(minutes) * time.Minute)})
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return fmt.Errorf("requests: load committed: %w", err)
			}
			if slots.Conflicts(start, end, booked, buffer) {
				return ErrSlotUnavailable
			}
		}
		if err := updateVersioned(ctx, tx, next, expectedVersion); err != nil {
			return err
		}
		return stageRecords(ctx, tx, recs)
	})
}

func (s *PostgresStore) Committed(ctx context.Context, providerID string, from, to time.Time) ([]BookingRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM booking_requests
		WHERE provider_id = $1 AND status IN ` + committedStatusList + `
		  AND scheduled_time IS NOT NULL
		  AND scheduled_time < $3
		  AND scheduled_time + make_interval(mins => duration_minutes) > $2
		ORDER BY scheduled_time`
	return s.queryRequests(ctx, s.db, query, providerID, from, to)
}

func (s *PostgresStore) queryRequests(ctx context.Context, q dbtx, query string, args ...any) ([]BookingRequest, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("requests: query: %w", err)
	}
	defer rows.Close()
	var out []BookingRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("requests: scan: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

const updateSQL = `
	UPDATE booking_requests SET
		status = $3,
		scheduled_time = $4,
		deposit_paid_cents = $5,
		deposit_payment_intent_id = $6,
		remainder_payment_intent_id = $7,
		payment_intent_id = $8,
		transfer_id = $9,
		refund_status = $10,
		refund_amount_cents = $11,
		late_payment_refs = $12,
		cancel_reason = $13,
		cancelled_by = $14,
		last_payment_failure = $15,
		version = $16,
		updated_at = $17
	WHERE id = $1 AND version = $2
`

// updateVersioned writes the mutable columns. Price, deposit split and service
// snapshot are fixed at creation and never rewritten.
func updateVersioned(ctx context.Context, tx pgx.Tx, r *BookingRequest, expectedVersion int64) error {
	failure, err := marshalNullable(r.LastPaymentFailure)
	if err != nil {
		return err
	}
	ct, err := tx.Exec(ctx, updateSQL,
		r.ID, expectedVersion,
		string(r.Status), r.Scheduled,
		r.DepositPaidCents, r.DepositPaymentIntentID, r.RemainderPaymentIntentID, r.PaymentIntentID,
		r.TransferID, string(r.RefundStatus), r.RefundAmountCents, r.LatePaymentRefs,
		r.CancelReason, roleString(r.CancelledBy), failure,
		r.Version, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("requests: update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func stageRecords(ctx context.Context, tx pgx.Tx, recs []events.Record) error {
	for _, rec := range recs {
		if _, err := events.InsertWith(ctx, tx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) runInTxWithRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.runInTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt == s.maxRetries {
			s.logger.Error("transaction failed after max retries", "attempts", attempt+1, "error", err)
			return fmt.Errorf("requests: transaction retries exhausted: %w", err)
		}
		wait := time.Duration(attempt+1) * s.backoff
		s.logger.Warn("retrying transaction", "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *PostgresStore) runInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("requests: begin: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("requests: commit: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}

func insertArgs(r *BookingRequest) ([]any, error) {
	loc, err := json.Marshal(r.Location)
	if err != nil {
		return nil, fmt.Errorf("requests: encode location: %w", err)
	}
	failure, err := marshalNullable(r.LastPaymentFailure)
	if err != nil {
		return nil, err
	}
	return []any{
		r.ID, r.CustomerID, r.ProviderID, r.ServiceID, r.ServiceName, string(r.Status),
		r.Scheduled, r.DurationMinutes, loc, r.DistanceMeters,
		r.ServicePriceCents, r.TransportationFeeCents, r.TotalPriceCents, r.Notes,
		r.DepositRequired, r.DepositAmountCents, r.DepositPaidCents, r.DepositPaymentIntentID,
		r.RemainderAmountCents, r.RemainderPaymentIntentID, r.PaymentIntentID, r.TransferID,
		string(r.RefundStatus), r.RefundAmountCents, r.LatePaymentRefs, r.CancelReason, roleString(r.CancelledBy), failure,
		r.Version, r.CreatedAt, r.UpdatedAt,
	}, nil
}

func scanRequest(row pgx.Row) (*BookingRequest, error) {
	var (
		r            BookingRequest
		status       string
		refundStatus string
		cancelledBy  *string
		loc          []byte
		failure      []byte
	)
	err := row.Scan(
		&r.ID, &r.CustomerID, &r.ProviderID, &r.ServiceID, &r.ServiceName, &status,
		&r.Scheduled, &r.DurationMinutes, &loc, &r.DistanceMeters,
		&r.ServicePriceCents, &r.TransportationFeeCents, &r.TotalPriceCents, &r.Notes,
		&r.DepositRequired, &r.DepositAmountCents, &r.DepositPaidCents, &r.DepositPaymentIntentID,
		&r.RemainderAmountCents, &r.RemainderPaymentIntentID, &r.PaymentIntentID, &r.TransferID,
		&refundStatus, &r.RefundAmountCents, &r.LatePaymentRefs, &r.CancelReason, &cancelledBy, &failure,
		&r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.RefundStatus = RefundStatus(refundStatus)
	if cancelledBy != nil {
		role := actor.Role(*cancelledBy)
		r.CancelledBy = &role
	}
	if len(loc) > 0 {
		if err := json.Unmarshal(loc, &r.Location); err != nil {
			return nil, fmt.Errorf("requests: decode location: %w", err)
		}
	}
	if len(failure) > 0 {
		var f PaymentFailure
		if err := json.Unmarshal(failure, &f); err != nil {
			return nil, fmt.Errorf("requests: decode payment failure: %w", err)
		}
		r.LastPaymentFailure = &f
	}
	return &r, nil
}

func marshalNullable(v *PaymentFailure) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("requests: encode payment failure: %w", err)
	}
	return data, nil
}

func roleString(r *actor.Role) *string {
	if r == nil {
		return nil
	}
	s := string(*r)
	return &s
}
