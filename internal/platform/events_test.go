package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventServer pushes every message from send to the connected client.
func eventServer(t *testing.T, send <-chan string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for msg := range send {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestEventsProbeTracksSystemInfo(t *testing.T) {
	send := make(chan string, 8)
	srv := eventServer(t, send)

	probe := NewEventsProbe(wsURL(srv), zap.NewNop())
	require.NoError(t, probe.Connect(context.Background()))

	over, err := probe.Overloaded(context.Background())
	require.NoError(t, err)
	assert.False(t, over)

	send <- `{"name":"systemInfo","data":{"isCpuOverloaded":true,"createdAt":"2025-11-20T10:00:00Z"}}`
	assert.Eventually(t, func() bool {
		over, _ := probe.Overloaded(context.Background())
		return over
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, probe.LastEvent().IsZero())

	send <- `not json`
	send <- `{"name":"migrating","data":{}}`
	send <- `{"name":"systemInfo","data":{"isCpuOverloaded":false}}`
	assert.Eventually(t, func() bool {
		over, _ := probe.Overloaded(context.Background())
		return !over
	}, 2*time.Second, 10*time.Millisecond)

	close(send)
	assert.Eventually(t, func() bool {
		_, err := probe.Overloaded(context.Background())
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "server close is reported as a disconnect")

	_, err = probe.Overloaded(context.Background())
	assert.ErrorIs(t, err, ErrEventsDisconnected)
	assert.NoError(t, probe.Close())
}

func TestEventsProbeClose(t *testing.T) {
	send := make(chan string)
	srv := eventServer(t, send)
	defer close(send)

	probe := NewEventsProbe(wsURL(srv), zap.NewNop())
	require.NoError(t, probe.Connect(context.Background()))
	require.NoError(t, probe.Close())
	require.NoError(t, probe.Close())

	_, err := probe.Overloaded(context.Background())
	assert.ErrorIs(t, err, ErrEventsDisconnected)
}

func TestEventsProbeConnectFailure(t *testing.T) {
	probe := NewEventsProbe("ws://127.0.0.1:1/events", zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.Error(t, probe.Connect(ctx))
	assert.NoError(t, probe.Close())

	_, err := probe.Overloaded(context.Background())
	assert.ErrorIs(t, err, ErrEventsDisconnected)
}

func TestEventsProbeCancelledContext(t *testing.T) {
	probe := NewEventsProbe("ws://unused", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := probe.Overloaded(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
