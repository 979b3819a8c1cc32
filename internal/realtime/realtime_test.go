package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/observability/metrics"
	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

func sampleRequest(version int64) *requests.BookingRequest {
	deposit, remainder := int64(600), int64(2400)
	return &requests.BookingRequest{
		ID:                   "bk-1",
		CustomerID:           "c-1",
		ProviderID:           "p-1",
		Status:               requests.StatusAccepted,
		TotalPriceCents:      3000,
		DepositRequired:      true,
		DepositAmountCents:   &deposit,
		RemainderAmountCents: &remainder,
		Version:              version,
	}
}

// testServer authenticates callers from the "as" query parameter, "role:id".
func testServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	ws := NewHandler(hub, nil, logging.Default())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role, id, ok := strings.Cut(r.URL.Query().Get("as"), ":"); ok {
			r = r.WithContext(actor.WithActor(r.Context(), actor.Actor{ID: id, Role: actor.Role(role)}))
		}
		ws.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, as string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?as=" + as
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt Event
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func TestFromChangeAddsDepositInfoOnAccept(t *testing.T) {
	at := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	env := FromChange(requests.Change{Kind: requests.ChangeAccepted, Request: sampleRequest(2)}, at)

	assert.Equal(t, []string{"customer:c-1", "provider:p-1", actor.AdminKey}, env.Recipients)
	assert.Equal(t, "request:accepted", env.Event.Type)
	assert.Equal(t, int64(2), env.Event.Version)
	require.NotNil(t, env.Event.Deposit)
	assert.Equal(t, requests.PhaseDeposit, env.Event.Deposit.NextPhase)
	assert.Equal(t, int64(600), env.Event.Deposit.NextAmountCents)

	updated := FromChange(requests.Change{Kind: requests.ChangeUpdated, Request: sampleRequest(3)}, at)
	assert.Nil(t, updated.Event.Deposit)
}

func TestHubDeliversToRecipientsOnly(t *testing.T) {
	hub := NewHub(nil, logging.Default())
	srv := testServer(t, hub)

	customerConn := dial(t, srv, "customer:c-1")
	adminConn := dial(t, srv, "admin:a-1")
	otherConn := dial(t, srv, "customer:c-2")
	require.Eventually(t, func() bool {
		return hub.Connections("customer:c-1") == 1 && hub.Connections(actor.AdminKey) == 1 && hub.Connections("customer:c-2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub := NewPublisher(NewLocalBroker(hub), 8, nil, logging.Default())
	go pub.Run(ctx)

	pub.Publish(ctx, requests.Change{Kind: requests.ChangeNew, Request: sampleRequest(1)})

	assert.Equal(t, "request:new", readEvent(t, customerConn).Type)
	assert.Equal(t, "request:new", readEvent(t, adminConn).Type)

	require.NoError(t, otherConn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := otherConn.ReadMessage()
	require.Error(t, err, "uninvolved customers receive nothing")
}

func TestHandlerRejectsAnonymous(t *testing.T) {
	hub := NewHub(nil, logging.Default())
	srv := testServer(t, hub)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubUnregistersOnClose(t *testing.T) {
	reg := prometheus.NewRegistry()
	hub := NewHub(metrics.NewBookingMetrics(reg), logging.Default())
	srv := testServer(t, hub)

	conn := dial(t, srv, "provider:p-1")
	require.Eventually(t, func() bool { return hub.Connections("provider:p-1") == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Connections("provider:p-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

type blockingBroker struct {
	release chan struct{}
}

func (b *blockingBroker) Publish(ctx context.Context, _ Envelope) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestPublisherNeverBlocks(t *testing.T) {
	pub := NewPublisher(&blockingBroker{release: make(chan struct{})}, 2, nil, logging.Default())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			pub.Publish(context.Background(), requests.Change{Kind: requests.ChangeUpdated, Request: sampleRequest(int64(i + 1))})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with a full queue")
	}
	assert.Len(t, pub.queue, 2)
}

type failingBroker struct{ calls int }

func (b *failingBroker) Publish(context.Context, Envelope) error {
	b.calls++
	return errors.New("redis down")
}

func TestPublisherSurvivesBrokerErrors(t *testing.T) {
	broker := &failingBroker{}
	pub := NewPublisher(broker, 4, nil, logging.Default())
	pub.Publish(context.Background(), requests.Change{Kind: requests.ChangeNew, Request: sampleRequest(1)})
	pub.Publish(context.Background(), requests.Change{Kind: requests.ChangeUpdated, Request: sampleRequest(2)})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		pub.Run(ctx)
		close(stopped)
	}()
	require.Eventually(t, func() bool { return len(pub.queue) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-stopped
	assert.Equal(t, 2, broker.calls)
}

func TestRedisBrokerFansOutAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { c.Close() })
		return c
	}

	// Two instances: the event is published on A and the customer is connected to B.
	hubB := NewHub(nil, logging.Default())
	brokerA := NewRedisBroker(newClient(), "test:realtime", NewHub(nil, logging.Default()), logging.Default())
	brokerB := NewRedisBroker(newClient(), "test:realtime", hubB, logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = brokerB.Run(ctx) }()

	srv := testServer(t, hubB)
	conn := dial(t, srv, "customer:c-1")
	require.Eventually(t, func() bool {
		return hubB.Connections("customer:c-1") == 1 && len(mr.PubSubChannels("test:realtime")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	env := FromChange(requests.Change{Kind: requests.ChangeDeclined, Request: sampleRequest(2)}, time.Now().UTC())
	require.NoError(t, brokerA.Publish(ctx, env))

	evt := readEvent(t, conn)
	assert.Equal(t, "request:declined", evt.Type)
	assert.Equal(t, int64(2), evt.Version)
	assert.Equal(t, "bk-1", evt.Request.ID)
}
