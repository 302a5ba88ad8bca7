package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adwski/webrtc-matchmaker/backend/model"
	"github.com/adwski/webrtc-matchmaker/backend/service"
	"github.com/adwski/webrtc-matchmaker/backend/storage/memory"
	sw "github.com/adwski/webrtc-matchmaker/backend/switch"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()

	logger := zerolog.Nop()
	svc := service.NewService(service.Config{
		Store:  memory.NewMemStore(nil),
		Switch: sw.NewSwitch(&logger),
		Logger: &logger,
	})
	srv := NewServer(Config{
		Logger:           &logger,
		SignalingService: svc,
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, svc
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + signalPath
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// expect reads events until one of the given type arrives.
func expect(t *testing.T, conn *websocket.Conn, typ string) model.Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var ev model.Event
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s", typ)
		if ev.Type == typ {
			return ev
		}
	}
}

func roomOf(t *testing.T, ev model.Event) model.RoomSnapshot {
	t.Helper()

	var snap model.RoomSnapshot
	require.NoError(t, json.Unmarshal(ev.Payload, &snap))
	return snap
}

func TestSignalingSession(t *testing.T) {
	ts, svc := newTestServer(t)

	alice := dial(t, ts)
	bob := dial(t, ts)

	require.NoError(t, alice.WriteJSON(model.Event{Type: model.EventJoin, Name: "alice"}))
	joined := roomOf(t, expect(t, alice, model.EventJoined))
	require.Len(t, joined.Members, 1)

	require.NoError(t, bob.WriteJSON(model.Event{Type: model.EventJoin, Name: "bob"}))
	full := roomOf(t, expect(t, bob, model.EventJoined))
	assert.Equal(t, joined.ID, full.ID)

	room := roomOf(t, expect(t, alice, model.EventRoom))
	for len(room.Members) < 2 {
		room = roomOf(t, expect(t, alice, model.EventRoom))
	}
	assert.Equal(t, "alice", room.Members[0].Name)
	assert.Equal(t, "bob", room.Members[1].Name)

	require.NoError(t, alice.WriteJSON(model.Event{Type: model.EventPrepare, RoomID: room.ID}))
	prepared := roomOf(t, expect(t, bob, model.EventPrepared))
	assert.Equal(t, model.RoleHost, prepared.Members[0].Role)
	assert.Equal(t, model.RoleGuest, prepared.Members[1].Role)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`)
	require.NoError(t, alice.WriteJSON(model.Event{Type: model.EventOffer, RoomID: room.ID, Payload: offer}))
	got := expect(t, bob, model.EventOffer)
	assert.JSONEq(t, string(offer), string(got.Payload))

	require.NoError(t, bob.Close())
	expect(t, alice, model.EventPeerLeft)

	require.Eventually(t, func() bool {
		return svc.OnlineCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFrameIsIgnored(t *testing.T) {
	ts, _ := newTestServer(t)

	conn := dial(t, ts)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteJSON(model.Event{Type: model.EventJoin, Name: "carol"}))

	expect(t, conn, model.EventJoined)
}
