package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/nextconvert/compositor/internal/modules/jobs"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startHub(t *testing.T, origins []string) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(origins, zap.NewNop(), metrics.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleConnection))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *gws.Conn, msgType string, payload any) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = data
	}
	require.NoError(t, conn.WriteJSON(Message{Type: msgType, Payload: raw}))
}

func receive(t *testing.T, conn *gws.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// flush waits until every earlier message from this client was handled.
func flush(t *testing.T, conn *gws.Conn) {
	t.Helper()
	send(t, conn, TypePing, nil)
	assert.Equal(t, TypePong, receive(t, conn).Type)
}

func TestHubDeliversSubscribedUpdates(t *testing.T) {
	hub, srv := startHub(t, nil)
	conn := dial(t, srv, nil)

	send(t, conn, TypeSubscribe, SubscribePayload{JobID: "job-1"})
	flush(t, conn)

	require.NoError(t, hub.Notify(context.Background(), jobs.EventProgress, jobs.Snapshot{ID: "job-2", Status: jobs.StatusProcessing}))
	require.NoError(t, hub.Notify(context.Background(), jobs.EventProgress, jobs.Snapshot{
		ID:       "job-1",
		Status:   jobs.StatusProcessing,
		Progress: jobs.Progress{Percent: 40, Stage: "encode"},
	}))

	msg := receive(t, conn)
	assert.Equal(t, TypeProgress, msg.Type)

	var snap jobs.Snapshot
	require.NoError(t, json.Unmarshal(msg.Payload, &snap))
	assert.Equal(t, "job-1", snap.ID)
	assert.Equal(t, 40, snap.Progress.Percent)
}

func TestHubBatchSubscription(t *testing.T) {
	hub, srv := startHub(t, []string{"*"})
	conn := dial(t, srv, nil)

	send(t, conn, TypeSubscribe, SubscribePayload{BatchID: "batch-1"})
	flush(t, conn)

	require.NoError(t, hub.Notify(context.Background(), jobs.EventStatus, jobs.Snapshot{
		ID: "job-9", BatchID: "batch-1", Status: jobs.StatusCompleted,
	}))

	msg := receive(t, conn)
	assert.Equal(t, TypeStatus, msg.Type)

	send(t, conn, TypeUnsubscribe, SubscribePayload{BatchID: "batch-1"})
	flush(t, conn)

	require.NoError(t, hub.Notify(context.Background(), jobs.EventStatus, jobs.Snapshot{ID: "job-10", BatchID: "batch-1"}))
	flush(t, conn)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	_, srv := startHub(t, []string{"https://studio.example.com"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := gws.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dial(t, srv, http.Header{"Origin": {"https://studio.example.com"}})
	flush(t, conn)
}
