package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_LogEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db)

	tests := []struct {
		name  string
		event Event
	}{
		{
			name:  "refund approved",
			event: RefundDecision("admin-1", "admin", "bk-1", true, 600, 600, "provider no-show"),
		},
		{
			name:  "refund rejected without note",
			event: RefundDecision("admin-1", "admin", "bk-2", false, 0, 600, ""),
		},
		{
			name:  "policy change",
			event: PolicyChange(EventDepositPolicyChanged, "admin-1", "admin", "platform", map[string]any{"default_value": 25}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectExec("INSERT INTO audit_events").
				WithArgs(sqlmock.AnyArg(), string(tt.event.EventType), "admin-1", "admin", tt.event.SubjectID,
					sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))

			assert.NoError(t, service.LogEvent(context.Background(), tt.event))
		})
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_ForSubject(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "event_type", "actor_id", "actor_role", "subject_id", "note", "details", "created_at"}).
		AddRow("a-1", "refund.approved", "admin-1", "admin", "bk-1", "ok", []byte(`{"amount_cents":600,"paid_cents":600}`), now).
		AddRow("a-2", "refund.rejected", "admin-2", "admin", "bk-1", nil, nil, now.Add(-time.Hour))
	mock.ExpectQuery("SELECT (.+) FROM audit_events").WithArgs("bk-1").WillReturnRows(rows)

	events, err := NewService(db).ForSubject(context.Background(), "bk-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventRefundApproved, events[0].EventType)

	var details RefundDetails
	require.NoError(t, json.Unmarshal(events[0].Details, &details))
	assert.Equal(t, int64(600), details.AmountCents)
	assert.Empty(t, events[1].Note)
	assert.Nil(t, events[1].Details)
}

func TestMemoryLog(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()
	require.NoError(t, log.LogEvent(ctx, RefundDecision("admin-1", "admin", "bk-1", true, 100, 600, "")))
	require.NoError(t, log.LogEvent(ctx, RefundDecision("admin-1", "admin", "bk-2", false, 0, 600, "")))

	events, err := log.ForSubject(ctx, "bk-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].CreatedAt.IsZero())
}
