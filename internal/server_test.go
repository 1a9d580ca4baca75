package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanchat/internal/logging"
	"lanchat/internal/models"
	"lanchat/internal/storage"
)

type liveServer struct {
	server  *Server
	engine  *Engine
	hub     *Hub
	metrics *Metrics
	url     string
}

func startLiveServer(t *testing.T) liveServer {
	t.Helper()
	blobs, err := storage.NewDiskBlobs(t.TempDir())
	require.NoError(t, err)
	metrics := NewMetrics()
	hub := NewHub(metrics, logging.Discard())
	engine := NewEngine(&memoryHistory{}, blobs, hub, metrics, logging.Discard())
	engine.Load(testContext(t))
	server := NewServer(engine, hub, blobs, metrics, logging.Discard(), 0)

	httpServer := httptest.NewServer(http.HandlerFunc(server.ServeWS))
	t.Cleanup(httpServer.Close)
	return liveServer{
		server:  server,
		engine:  engine,
		hub:     hub,
		metrics: metrics,
		url:     "ws" + strings.TrimPrefix(httpServer.URL, "http") + DefaultSocketPath,
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func emitFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: raw}))
}

// expectEvent reads frames until one named event arrives.
func expectEvent(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var env Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Event == event {
			return env.Data
		}
	}
}

func TestWebsocket_TwoClientsShareHistory(t *testing.T) {
	live := startLiveServer(t)

	alice := dial(t, live.url)
	assert.JSONEq(t, `[]`, string(expectEvent(t, alice, EventLoadMessages)))
	bob := dial(t, live.url)
	expectEvent(t, bob, EventLoadMessages)

	emitFrame(t, alice, EventSetNickname, "alice")
	emitFrame(t, alice, EventChatMessage, "hello")

	var fromBob models.Message
	require.NoError(t, json.Unmarshal(expectEvent(t, bob, EventChatMessage), &fromBob))
	assert.Equal(t, "alice", fromBob.Nickname)
	assert.Equal(t, "hello", fromBob.Body)

	var fromAlice models.Message
	require.NoError(t, json.Unmarshal(expectEvent(t, alice, EventChatMessage), &fromAlice))
	assert.Equal(t, fromBob, fromAlice)

	require.NoError(t, bob.Close())
	bob = dial(t, live.url)
	var reloaded []models.Message
	require.NoError(t, json.Unmarshal(expectEvent(t, bob, EventLoadMessages), &reloaded))
	require.Len(t, reloaded, 1)
	assert.Equal(t, fromBob, reloaded[0])

	emitFrame(t, bob, EventDeleteMessage, fromBob.ID)
	var deleted models.MessageID
	require.NoError(t, json.Unmarshal(expectEvent(t, alice, EventMessageDeleted), &deleted))
	assert.Equal(t, fromBob.ID, deleted)
	assert.Empty(t, live.engine.Messages())

	carol := dial(t, live.url)
	assert.JSONEq(t, `[]`, string(expectEvent(t, carol, EventLoadMessages)))
	var online []string
	require.NoError(t, json.Unmarshal(expectEvent(t, carol, EventOnlineUsers), &online))
	assert.Equal(t, []string{"alice"}, online)

	require.NoError(t, alice.Close())
	require.NoError(t, json.Unmarshal(expectEvent(t, carol, EventOnlineUsers), &online))
	assert.Empty(t, online)

	assert.Eventually(t, func() bool { return live.hub.Size() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(live.metrics.activeConns) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWebsocket_SnapshotPrecedesLiveEvents(t *testing.T) {
	live := startLiveServer(t)
	ctx := testContext(t)

	stop := make(chan struct{})
	posted := make(chan struct{})
	go func() {
		defer close(posted)
		for {
			select {
			case <-stop:
				return
			default:
			}
			live.engine.PostChat(ctx, "poster", "tick")
			time.Sleep(time.Millisecond)
		}
	}()
	defer func() {
		close(stop)
		<-posted
	}()

	for i := 0; i < 50; i++ {
		conn := dial(t, live.url)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

		var first Envelope
		require.NoError(t, conn.ReadJSON(&first))
		require.Equal(t, EventLoadMessages, first.Event, "connection %d", i)
		var snapshot []models.Message
		require.NoError(t, json.Unmarshal(first.Data, &snapshot))

		var next models.Message
		require.NoError(t, json.Unmarshal(expectEvent(t, conn, EventChatMessage), &next))
		if len(snapshot) > 0 {
			assert.Greater(t, next.ID, snapshot[len(snapshot)-1].ID, "connection %d", i)
		}
		require.NoError(t, conn.Close())
	}
}

func TestWebsocket_MalformedFramesAreIgnored(t *testing.T) {
	live := startLiveServer(t)
	conn := dial(t, live.url)
	expectEvent(t, conn, EventLoadMessages)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{broken")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte(`{"event":"chat message","data":"binary"}`)))
	emitFrame(t, conn, "unknown event", "x")
	emitFrame(t, conn, EventChatMessage, "still here")

	var msg models.Message
	require.NoError(t, json.Unmarshal(expectEvent(t, conn, EventChatMessage), &msg))
	assert.Equal(t, "still here", msg.Body)
	assert.Len(t, live.engine.Messages(), 1)
}

func TestHub_DropsSlowClient(t *testing.T) {
	metrics := NewMetrics()
	hub := NewHub(metrics, logging.Discard())
	slow := &Client{id: "slow", send: make(chan []byte, 1)}
	hub.register(slow)

	hub.Broadcast(EventOnlineUsers, []string{})
	assert.Equal(t, 1, hub.Size())
	hub.Broadcast(EventOnlineUsers, []string{})
	assert.Equal(t, 0, hub.Size())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.droppedClients))

	frame, ok := <-slow.send
	assert.True(t, ok)
	assert.JSONEq(t, `{"event":"update online users","data":[]}`, string(frame))
	_, ok = <-slow.send
	assert.False(t, ok)

	assert.False(t, hub.unregister(slow))
}

func TestHub_SendTargetsOneClient(t *testing.T) {
	hub := NewHub(NewMetrics(), logging.Discard())
	a := &Client{id: "a", send: make(chan []byte, 4)}
	b := &Client{id: "b", send: make(chan []byte, 4)}
	hub.register(a)
	hub.register(b)

	hub.Send("a", EventServerHealth, HealthEvent{Degraded: true, Error: "x"})
	hub.Send("missing", EventServerHealth, HealthEvent{})

	require.Len(t, a.send, 1)
	assert.Empty(t, b.send)
	assert.JSONEq(t, `{"event":"server health","data":{"degraded":true,"error":"x"}}`, string(<-a.send))
}

func TestMetrics_CountsEngineActivity(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := testContext(t)

	f.engine.PostChat(ctx, "c1", "hi")
	msg, _ := f.engine.PostImage(ctx, "c1", FileUpload{StoredFileName: "id-a.png"})
	f.engine.Delete(ctx, msg.ID)
	f.engine.StartUpload(ctx, "c1", "u", "a", 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.messages.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.messages.WithLabelValues("image")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.deleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.uploads.WithLabelValues("in-progress")))

	rec := httptest.NewRecorder()
	f.metrics.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lanchat_messages_total")
}

// testContext mirrors testing.T.Context (Go 1.24+) for older toolchains:
// the returned context is canceled when the test's cleanup runs.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
