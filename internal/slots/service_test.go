package slots

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erimias46/babrber-frontend-sub000/internal/availability"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

type stubBookings struct {
	windows  []Window
	lastFrom time.Time
	lastTo   time.Time
}

func (s *stubBookings) CommittedWindows(ctx context.Context, providerID string, from, to time.Time) ([]Window, error) {
	s.lastFrom, s.lastTo = from, to
	return s.windows, nil
}

func newAvailability(t *testing.T) *availability.Manager {
	t.Helper()
	m := availability.NewManager(availability.NewInMemoryRepository(), logging.Default())
	_, err := m.CreateBlock(context.Background(), "p-1", availability.BlockInput{Start: at(9, 0), End: at(12, 0)})
	require.NoError(t, err)
	return m
}

func TestAvailableUsesSettingsAndBookings(t *testing.T) {
	avail := newAvailability(t)
	_, err := avail.PutSettings(context.Background(), "p-1", availability.Settings{SlotIntervalMinutes: 30, BufferMinutes: 15})
	require.NoError(t, err)
	bookings := &stubBookings{windows: []Window{{Start: at(9, 30), End: at(10, 0)}}}

	svc := NewService(avail, bookings, logging.Default())
	out, err := svc.Available(context.Background(), "p-1", day, day.Add(24*time.Hour), 30*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{at(10, 30), at(11, 0), at(11, 30)}, starts(out))
	assert.Equal(t, day.Add(-45*time.Minute), bookings.lastFrom)
}

func TestAvailableWithoutBlocksIsEmpty(t *testing.T) {
	avail := availability.NewManager(availability.NewInMemoryRepository(), logging.Default())
	svc := NewService(avail, &stubBookings{}, logging.Default())

	out, err := svc.Available(context.Background(), "p-1", day, day.Add(24*time.Hour), 30*time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestHandlerListByServiceID(t *testing.T) {
	avail := newAvailability(t)
	catalog, err := avail.CreateService(context.Background(), "p-1", availability.ServiceInput{Name: "Fade", PriceCents: 2500, DurationMinutes: 60})
	require.NoError(t, err)

	h := NewHandler(NewService(avail, &stubBookings{}, logging.Default()), logging.Default())
	r := chi.NewRouter()
	r.Get("/providers/{providerID}/slots", h.List)

	req := httptest.NewRequest(http.MethodGet,
		"/providers/p-1/slots?from=2026-03-02T00:00:00Z&to=2026-03-03T00:00:00Z&serviceId="+catalog.ID, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp slotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []time.Time{at(9, 0), at(9, 30), at(10, 0), at(10, 30), at(11, 0)}, starts(resp.Slots))
}

func TestHandlerRequiresDuration(t *testing.T) {
	avail := newAvailability(t)
	h := NewHandler(NewService(avail, &stubBookings{}, logging.Default()), logging.Default())
	r := chi.NewRouter()
	r.Get("/providers/{providerID}/slots", h.List)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/providers/p-1/slots", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/providers/p-1/slots?serviceDurationMinutes=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
