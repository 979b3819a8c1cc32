package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newOutboxStoreWithExec(mock)

	mock.ExpectExec("INSERT INTO outbox").WithArgs(pgxmock.AnyArg(), "bk-1", TypeBookingCancelled, pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if _, err := store.Insert(context.Background(), "bk-1", BookingCancelledV1{BookingID: "bk-1"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	now := time.Now().UTC()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "aggregate_id", "type", "payload", "created_at"}).AddRow(id, "bk-1", TypeBookingCancelled, []byte(`{"booking_id":"bk-1"}`), now)
	mock.ExpectQuery("SELECT id").WithArgs(int32(10)).WillReturnRows(rows)

	entries, err := store.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("fetch pending failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id {
		t.Fatalf("unexpected entries: %#v", entries)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	if err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if !ok {
		t.Fatal("expected mark delivered to report success")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertWithRejectsNilEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	if _, err := InsertWith(context.Background(), mock, Record{AggregateID: "bk-1"}); !errors.Is(err, errNilEvent) {
		t.Fatalf("expected errNilEvent, got %v", err)
	}
}

type recordingHandler struct {
	seen []string
	fail bool
}

func (h *recordingHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	h.seen = append(h.seen, entry.Type)
	if h.fail {
		return errors.New("boom")
	}
	return nil
}

func TestDelivererMarksOnlySuccessfulEntries(t *testing.T) {
	outbox := NewMemoryOutbox()
	ctx := context.Background()
	if _, err := outbox.Insert(ctx, "bk-1", PayoutReleasedV1{BookingID: "bk-1", TransferID: "tr_1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	failing := &recordingHandler{fail: true}
	NewDeliverer(outbox, failing, nil).drain(ctx)
	if pending, _ := outbox.FetchPending(ctx, 10); len(pending) != 1 {
		t.Fatalf("expected entry to stay pending, got %d", len(pending))
	}

	ok := &recordingHandler{}
	NewDeliverer(outbox, ok, nil).drain(ctx)
	if pending, _ := outbox.FetchPending(ctx, 10); len(pending) != 0 {
		t.Fatalf("expected no pending entries, got %d", len(pending))
	}
	if len(ok.seen) != 1 || ok.seen[0] != TypePayoutReleased {
		t.Fatalf("unexpected deliveries %v", ok.seen)
	}
	if got := outbox.Entries(TypePayoutReleased); len(got) != 1 {
		t.Fatalf("expected entry to remain listed, got %d", len(got))
	}
}
