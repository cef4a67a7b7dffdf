package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/telbill/robo-ops/internal/core"
	"github.com/telbill/robo-ops/internal/domain/event"
	"github.com/telbill/robo-ops/internal/domain/model"
)

type fakeSnapshots struct {
	snap *core.StateSnapshot
}

func (f *fakeSnapshots) Snapshot(context.Context) (*core.StateSnapshot, error) {
	return f.snap, nil
}

func newHubFixture(t *testing.T) (*Hub, *event.Bus, *httptest.Server) {
	t.Helper()

	bus := event.NewBus(event.BusOptions{})
	t.Cleanup(bus.Stop)

	snaps := &fakeSnapshots{snap: &core.StateSnapshot{
		ActiveRuns: []*model.JobRun{{
			ID:         "run-1",
			ContractID: "contract-1",
			State:      model.RunStateRunning,
		}},
		PendingInvoices: []*model.Invoice{{
			ID:    "invoice-1",
			State: model.ApprovalStatePending,
		}},
	}}

	hub, err := NewHub(HubOptions{Bus: bus, Snapshots: snaps})
	require.NoError(t, err)

	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)
	return hub, bus, srv
}

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	ws, err := websocket.Dial(url, "", "http://localhost/")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func receiveEnvelope(t *testing.T, ws *websocket.Conn) event.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env event.Envelope
	require.NoError(t, websocket.JSON.Receive(ws, &env))
	return env
}

func TestHub_SendsSnapshotFirst(t *testing.T) {
	_, _, srv := newHubFixture(t)
	ws := dialHub(t, srv, "")

	env := receiveEnvelope(t, ws)
	require.Equal(t, event.KindSystemStatus, env.Kind)

	payload, known, err := event.ParsePayload(env)
	require.NoError(t, err)
	require.True(t, known)
	status, ok := payload.(event.SystemStatus)
	require.True(t, ok)
	assert.Equal(t, "ok", status.Status)
	require.Len(t, status.ActiveRuns, 1)
	assert.Equal(t, "run-1", status.ActiveRuns[0].ID)
	require.Len(t, status.PendingInvoices, 1)
	assert.Equal(t, "invoice-1", status.PendingInvoices[0].ID)
}

func TestHub_ForwardsPublishedEvents(t *testing.T) {
	hub, bus, srv := newHubFixture(t)
	ws := dialHub(t, srv, "")

	// snapshot first; once it arrived the subscription is live
	env := receiveEnvelope(t, ws)
	require.Equal(t, event.KindSystemStatus, env.Kind)
	assert.Equal(t, 1, hub.SessionCount())

	bus.Publish(event.New(event.RunCreated{Run: &model.JobRun{
		ID:         "run-9",
		ContractID: "contract-1",
		State:      model.RunStateQueued,
	}}, time.Now()))

	env = receiveEnvelope(t, ws)
	require.Equal(t, event.KindRunCreated, env.Kind)

	payload, known, err := event.ParsePayload(env)
	require.NoError(t, err)
	require.True(t, known)
	created, ok := payload.(event.RunCreated)
	require.True(t, ok)
	assert.Equal(t, "run-9", created.Run.ID)
}

func TestHub_KindQueryNarrowsSubscription(t *testing.T) {
	_, bus, srv := newHubFixture(t)
	ws := dialHub(t, srv, "?kind=invoice-created")

	env := receiveEnvelope(t, ws)
	require.Equal(t, event.KindSystemStatus, env.Kind)

	bus.Publish(event.New(event.RunCreated{Run: &model.JobRun{ID: "run-9"}}, time.Now()))
	bus.Publish(event.New(event.InvoiceCreated{Invoice: &model.Invoice{ID: "invoice-9"}}, time.Now()))

	// the run event was filtered out at the bus, so the invoice arrives next
	env = receiveEnvelope(t, ws)
	assert.Equal(t, event.KindInvoiceCreated, env.Kind)
}

func TestHub_AnswersPing(t *testing.T) {
	_, _, srv := newHubFixture(t)
	ws := dialHub(t, srv, "")

	env := receiveEnvelope(t, ws)
	require.Equal(t, event.KindSystemStatus, env.Kind)

	require.NoError(t, websocket.JSON.Send(ws, event.Envelope{Kind: kindPing, EmittedAt: time.Now()}))

	env = receiveEnvelope(t, ws)
	assert.Equal(t, kindPong, env.Kind)
}

func TestHub_InvalidFilterRejectsSession(t *testing.T) {
	_, _, srv := newHubFixture(t)
	ws := dialHub(t, srv, "?filter=%28%28")

	// the subscription was refused, so the server closes without a snapshot
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env event.Envelope
	err := websocket.JSON.Receive(ws, &env)
	require.Error(t, err)
}

func TestHub_SessionCountDropsOnDisconnect(t *testing.T) {
	hub, _, srv := newHubFixture(t)
	ws := dialHub(t, srv, "")

	env := receiveEnvelope(t, ws)
	require.Equal(t, event.KindSystemStatus, env.Kind)
	require.Equal(t, 1, hub.SessionCount())

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		return hub.SessionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
