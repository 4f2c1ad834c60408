package chat

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/conversations"
	"github.com/edufund/supportchat/backend/internal/messages"
	"github.com/edufund/supportchat/backend/internal/storage"
	"github.com/edufund/supportchat/backend/internal/storage/memory"
)

const (
	secret     = "ws-secret"
	adminEmail = "support@edufund.test"
)

var (
	userA = auth.Identity{ID: "user-a", Email: "a@example.com"}
	admin = auth.Identity{ID: "admin-m", Email: adminEmail, IsAdmin: true}
	userX = auth.Identity{ID: "user-x", Email: "x@example.com"}
)

type env struct {
	srv  *httptest.Server
	dir  *conversations.Directory
	msgs *messages.Service
	hub  *Hub
	conv storage.Conversation
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	dir := conversations.NewDirectory(store)
	hub := NewHub(zap.NewNop())
	svc := messages.NewService(dir, store, hub, zap.NewNop())
	hub.OnDelivered(svc.MarkDelivered)

	resolver := auth.NewResolver(auth.SecretVerifier{Secret: secret}, adminEmail)
	gw := NewGateway(hub, resolver, dir, svc, zap.NewNop(), 300*time.Millisecond)

	r := gin.New()
	RegisterWS(r.Group("/chat"), gw)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	conv, err := dir.GetOrCreate(context.Background(), userA.ID, admin.ID)
	require.NoError(t, err)
	return &env{srv: srv, dir: dir, msgs: svc, hub: hub, conv: conv}
}

func token(t *testing.T, id auth.Identity) string {
	t.Helper()
	tok, err := auth.NewToken(secret, id.ID, id.Email, 5)
	require.NoError(t, err)
	return tok
}

func (e *env) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/chat/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect dials and authenticates with an auth frame.
func (e *env) connect(t *testing.T, id auth.Identity) *websocket.Conn {
	t.Helper()
	conn := e.dial(t, "")
	write(t, conn, EventAuth, "", AuthData{Token: token(t, id)})
	f := readUntil(t, conn, EventAuthSuccess)
	assert.JSONEq(t, `{"userId":"`+id.ID+`"}`, string(f.Data))
	return conn
}

func (e *env) join(t *testing.T, conn *websocket.Conn, conversationID string) {
	t.Helper()
	write(t, conn, EventJoin, "", RoomData{ConversationID: conversationID})
	readUntil(t, conn, EventJoined)
}

func write(t *testing.T, conn *websocket.Conn, typ, ref string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Type: typ, Ref: ref, Data: raw}))
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", typ)
		if f.Type == typ {
			return f
		}
	}
}

// quiet asserts that no frame of type typ shows up within d.
func quiet(t *testing.T, conn *websocket.Conn, typ string, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		assert.NotEqual(t, typ, f.Type, "unexpected %s: %s", typ, f.Data)
	}
}

func TestSendFanOutAndDeliveredReceipt(t *testing.T) {
	e := newEnv(t)
	a := e.connect(t, userA)
	m := e.connect(t, admin)
	e.join(t, a, e.conv.ID)
	e.join(t, m, e.conv.ID)

	write(t, a, EventSend, "r1", SendData{ConversationID: e.conv.ID, Message: "hello"})

	ack := readUntil(t, a, EventAck)
	assert.Equal(t, "r1", ack.Ref)
	var acked struct {
		Ref     string          `json:"ref"`
		Message storage.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(ack.Data, &acked))
	assert.Equal(t, admin.ID, acked.Message.ReceiverID)

	var pushed storage.Message
	require.NoError(t, json.Unmarshal(readUntil(t, m, messages.EventNew).Data, &pushed))
	assert.Equal(t, "hello", pushed.Text)

	var delivered storage.Message
	require.NoError(t, json.Unmarshal(readUntil(t, a, messages.EventDelivered).Data, &delivered))
	assert.Equal(t, pushed.ID, delivered.ID)
	assert.Equal(t, storage.StatusDelivered, delivered.Status)

	write(t, m, EventMarkRead, "r2", ReadData{MessageID: pushed.ID})
	var read storage.Message
	require.NoError(t, json.Unmarshal(readUntil(t, a, messages.EventRead).Data, &read))
	assert.Equal(t, storage.StatusRead, read.Status)
}

func TestNotificationOnPersonalChannel(t *testing.T) {
	e := newEnv(t)
	a := e.connect(t, userA)
	m := e.connect(t, admin)
	e.join(t, a, e.conv.ID)

	write(t, a, EventSend, "", SendData{ConversationID: e.conv.ID, Message: strings.Repeat("x", 80)})

	var n notification
	require.NoError(t, json.Unmarshal(readUntil(t, m, EventNotification).Data, &n))
	assert.Equal(t, e.conv.ID, n.ConversationID)
	assert.Equal(t, userA.Email, n.SenderEmail)
	assert.Equal(t, strings.Repeat("x", previewLength)+"...", n.Preview)

	// the receiver never joined the room, but its connection got the push
	var delivered storage.Message
	require.NoError(t, json.Unmarshal(readUntil(t, a, messages.EventDelivered).Data, &delivered))
	assert.Equal(t, storage.StatusDelivered, delivered.Status)
	assert.Equal(t, admin.ID, delivered.ReceiverID)
}

func TestNoReceiptWhileReceiverOffline(t *testing.T) {
	e := newEnv(t)
	a := e.connect(t, userA)
	e.join(t, a, e.conv.ID)

	write(t, a, EventSend, "r1", SendData{ConversationID: e.conv.ID, Message: "anyone there?"})
	readUntil(t, a, EventAck)
	quiet(t, a, messages.EventDelivered, 200*time.Millisecond)
}

func TestFramesBeforeAuthAreRejected(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "")

	write(t, conn, EventJoin, "j1", RoomData{ConversationID: e.conv.ID})
	f := readUntil(t, conn, EventError)
	assert.Equal(t, "j1", f.Ref)
	assert.Contains(t, string(f.Data), `"code":"unauthenticated"`)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"shout"}`)))
	f = readUntil(t, conn, EventError)
	assert.Contains(t, string(f.Data), `"code":"bad_request"`)
}

func TestBadTokenClosesConnection(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "")

	write(t, conn, EventAuth, "", AuthData{Token: "garbage"})
	f := readUntil(t, conn, EventAuthError)
	assert.Contains(t, string(f.Data), `"code":"unauthenticated"`)

	var next Frame
	err := conn.ReadJSON(&next)
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), err.Error())
}

func TestAuthTimeout(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "")

	f := readUntil(t, conn, EventAuthError)
	assert.Contains(t, string(f.Data), "timeout")
	var next Frame
	assert.Error(t, conn.ReadJSON(&next))
}

func TestQueryTokenAuthenticates(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "?token="+token(t, userA))
	readUntil(t, conn, EventAuthSuccess)

	e.join(t, conn, e.conv.ID)
}

func TestJoinIsGated(t *testing.T) {
	e := newEnv(t)
	x := e.connect(t, userX)
	a := e.connect(t, userA)
	e.join(t, a, e.conv.ID)

	write(t, x, EventJoin, "", RoomData{ConversationID: e.conv.ID})
	f := readUntil(t, x, EventError)
	assert.Contains(t, string(f.Data), `"code":"forbidden"`)

	write(t, x, EventJoin, "", RoomData{ConversationID: "does-not-exist"})
	f = readUntil(t, x, EventError)
	assert.Contains(t, string(f.Data), `"code":"not_found"`)

	write(t, a, EventSend, "", SendData{ConversationID: e.conv.ID, Message: "private"})
	readUntil(t, a, EventAck)
	quiet(t, x, messages.EventNew, 200*time.Millisecond)
}

func TestTypingRelay(t *testing.T) {
	e := newEnv(t)
	a := e.connect(t, userA)
	m := e.connect(t, admin)

	write(t, a, EventTyping, "t0", RoomData{ConversationID: e.conv.ID})
	f := readUntil(t, a, EventError)
	assert.Contains(t, string(f.Data), `"code":"forbidden"`)

	e.join(t, a, e.conv.ID)
	e.join(t, m, e.conv.ID)

	write(t, a, EventTyping, "", RoomData{ConversationID: e.conv.ID})
	f = readUntil(t, m, EventTyping)
	assert.JSONEq(t, `{"conversationId":"`+e.conv.ID+`","userId":"user-a","email":"a@example.com"}`, string(f.Data))

	write(t, a, EventStopTyping, "", RoomData{ConversationID: e.conv.ID})
	f = readUntil(t, m, EventStopTyping)
	assert.JSONEq(t, `{"conversationId":"`+e.conv.ID+`","userId":"user-a"}`, string(f.Data))

	quiet(t, a, EventTyping, 150*time.Millisecond)
}

func TestLeaveStopsRoomEvents(t *testing.T) {
	e := newEnv(t)
	a := e.connect(t, userA)
	m := e.connect(t, admin)
	e.join(t, a, e.conv.ID)
	e.join(t, m, e.conv.ID)

	write(t, m, EventLeave, "", RoomData{ConversationID: e.conv.ID})
	readUntil(t, m, EventLeft)

	write(t, a, EventSend, "", SendData{ConversationID: e.conv.ID, Message: "still there?"})
	readUntil(t, m, EventNotification)
	quiet(t, m, messages.EventNew, 200*time.Millisecond)
}

func TestPresence(t *testing.T) {
	e := newEnv(t)
	m := e.connect(t, admin)

	a := e.connect(t, userA)
	f := readUntil(t, m, EventPresence)
	assert.JSONEq(t, `{"userId":"user-a","status":"online"}`, string(f.Data))
	assert.True(t, e.hub.Online(context.Background(), userA.ID))

	require.NoError(t, a.Close())
	f = readUntil(t, m, EventPresence)
	assert.JSONEq(t, `{"userId":"user-a","status":"offline"}`, string(f.Data))
	assert.False(t, e.hub.Online(context.Background(), userA.ID))
}
