package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/hubchat/hubchat/internal/auth"
	"github.com/hubchat/hubchat/internal/database"
	"github.com/hubchat/hubchat/internal/gate"
	"github.com/hubchat/hubchat/internal/presence"
	"github.com/hubchat/hubchat/internal/pubsub"
	"github.com/hubchat/hubchat/internal/stats"
	"github.com/hubchat/hubchat/internal/testutil"
)

var testSigningKey = []byte("test-signing-key")

type testEnv struct {
	server   *Server
	db       *database.MockHubChatRepository
	su       *stats.MockStatsUpdater
	bus      pubsub.Bus
	presence presence.Store
	resolver *auth.TokenResolver
	ts       *httptest.Server
}

// newTestEnv wires a hub server against miniredis and a mocked
// repository, served over httptest so tests dial real sockets.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := testutil.TestLogger(t)

	db := &database.MockHubChatRepository{}
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(4)

	bus := pubsub.NewRedisBus(rdb, logger)
	store := presence.NewRedisStore(rdb)
	resolver := auth.NewTokenResolver(db, testSigningKey)

	server, err := NewServer(logger, db, bus, store, gate.NewMembershipGate(db), resolver, su, nil)
	if err != nil {
		t.Fatalf("failed to create test server: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/hub/{hubId}", server.ServeWs)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &testEnv{
		server:   server,
		db:       db,
		su:       su,
		bus:      bus,
		presence: store,
		resolver: resolver,
		ts:       ts,
	}
}

func (env *testEnv) dial(t *testing.T, hubId int, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws/hub/" + strconv.Itoa(hubId) + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func (env *testEnv) mintToken(t *testing.T, userId int) string {
	t.Helper()

	token, err := env.resolver.Mint(userId, time.Hour)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	return token
}

// serverFrame is the envelope of every frame a client can receive.
type serverFrame struct {
	Type     string `json:"type"`
	Error    string `json:"error"`
	Action   string `json:"action"`
	IsTyping bool   `json:"is_typing"`
	User     struct {
		Id       int    `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Users []struct {
		Username string `json:"username"`
	} `json:"users"`
	Message struct {
		Id       int    `json:"id"`
		Sender   string `json:"sender"`
		Content  string `json:"content"`
		ParentId *int   `json:"parent_id"`
	} `json:"message"`
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}

	var frame serverFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("failed to decode frame %q: %v", raw, err)
	}
	return frame
}

func TestServeWs_joinAndChat(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.AssertExpectations(t)

	user := database.User{Id: 1, Username: "walt"}
	env.db.On("GetAccountById", 1).Return(user, nil)
	env.db.On("GetHubById", 3).Return(database.Hub{Id: 3, Name: "test-hub", AdminId: 1}, nil)

	env.su.On("Incr", "ActiveSessions").Once()
	env.su.On("Incr", "BroadcastsPublished").Maybe()
	env.su.On("Incr", "MessagesPersisted").Once()
	env.su.On("Decr", "ActiveSessions").Maybe()

	env.db.On("CreateMessage", database.CreateMessageParams{
		HubId:    3,
		SenderId: 1,
		Content:  "hello",
	}).Return(database.Message{
		Id:             10,
		HubId:          3,
		SenderId:       1,
		SenderUsername: "walt",
		Content:        "hello",
		CreatedAt:      time.Now(),
	}, nil).Once()

	conn := env.dial(t, 3, env.mintToken(t, 1))

	snapshot := readFrame(t, conn)
	assert.Equal(t, "online_users", snapshot.Type, "expected online_users as the first frame")
	assert.Len(t, snapshot.Users, 1, "expected only the joining user online")
	assert.Equal(t, "walt", snapshot.Users[0].Username)

	online := readFrame(t, conn)
	assert.Equal(t, "presence", online.Type, "expected own online announce")
	assert.Equal(t, "online", online.Action)
	assert.Equal(t, "walt", online.User.Username)

	err := conn.WriteMessage(websocket.TextMessage, []byte(`{"content":"hello"}`))
	assert.NoError(t, err, "expected no error sending chat frame")

	chat := readFrame(t, conn)
	assert.Equal(t, "chat_message", chat.Type, "expected chat broadcast echoed to sender")
	assert.Equal(t, 10, chat.Message.Id)
	assert.Equal(t, "walt", chat.Message.Sender)
	assert.Equal(t, "hello", chat.Message.Content)
	assert.Nil(t, chat.Message.ParentId)
}

func TestServeWs_rejectsNonMember(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.AssertExpectations(t)

	env.db.On("GetAccountById", 7).Return(database.User{Id: 7, Username: "stranger"}, nil)
	env.db.On("GetHubById", 3).Return(database.Hub{Id: 3, Name: "test-hub", AdminId: 1}, nil)
	env.db.On("IsApprovedMember", 7, 3).Return(false, nil)

	env.su.On("Incr", "AdmissionsRejected").Once()
	defer env.su.AssertExpectations(t)

	conn := env.dial(t, 3, env.mintToken(t, 7))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation),
		"expected policy violation close, got %v", err)

	members, err := env.presence.Members(context.Background(), 3)
	assert.NoError(t, err)
	assert.Empty(t, members, "expected no presence entry for a rejected connection")
}

func TestServeWs_rejectsBadToken(t *testing.T) {
	env := newTestEnv(t)

	env.su.On("Incr", "AdmissionsRejected").Once()
	defer env.su.AssertExpectations(t)

	conn := env.dial(t, 3, "not-a-token")

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation),
		"expected policy violation close, got %v", err)
}

func TestServeWs_invalidHubId(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws/hub/abc?token=whatever"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err, "expected handshake to fail for non-numeric hub id")
	if resp != nil {
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "expected 400 before upgrade")
	}
}

func TestServeWs_typingBroadcast(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.AssertExpectations(t)

	env.db.On("GetAccountById", 1).Return(database.User{Id: 1, Username: "walt"}, nil)
	env.db.On("GetHubById", 3).Return(database.Hub{Id: 3, Name: "test-hub", AdminId: 1}, nil)

	env.su.On("Incr", "ActiveSessions").Once()
	env.su.On("Incr", "BroadcastsPublished").Maybe()
	env.su.On("Decr", "ActiveSessions").Maybe()

	conn := env.dial(t, 3, env.mintToken(t, 1))

	readFrame(t, conn) // online_users
	readFrame(t, conn) // own online announce

	err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing","is_typing":true}`))
	assert.NoError(t, err)

	typing := readFrame(t, conn)
	assert.Equal(t, "typing", typing.Type, "expected typing broadcast")
	assert.True(t, typing.IsTyping)
	assert.Equal(t, "walt", typing.User.Username)

	err = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing","is_typing":false}`))
	assert.NoError(t, err)

	stopped := readFrame(t, conn)
	assert.Equal(t, "typing", stopped.Type)
	assert.False(t, stopped.IsTyping, "expected is_typing false to survive the round trip")
}

func TestServeWs_emptyContentIgnored(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.AssertExpectations(t)

	env.db.On("GetAccountById", 1).Return(database.User{Id: 1, Username: "walt"}, nil)
	env.db.On("GetHubById", 3).Return(database.Hub{Id: 3, Name: "test-hub", AdminId: 1}, nil)

	env.su.On("Incr", "ActiveSessions").Once()
	env.su.On("Incr", "BroadcastsPublished").Maybe()
	env.su.On("Decr", "ActiveSessions").Maybe()

	conn := env.dial(t, 3, env.mintToken(t, 1))

	readFrame(t, conn) // online_users
	readFrame(t, conn) // own online announce

	// an empty chat frame is dropped without persistence or an error;
	// the typing frame after it is the next thing delivered
	err := conn.WriteMessage(websocket.TextMessage, []byte(`{"content":""}`))
	assert.NoError(t, err)

	err = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing","is_typing":true}`))
	assert.NoError(t, err)

	frame := readFrame(t, conn)
	assert.Equal(t, "typing", frame.Type, "expected empty chat frame to produce nothing")

	env.db.AssertNotCalled(t, "CreateMessage", mock.Anything)
}

func TestServeWs_invalidParent(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.AssertExpectations(t)

	env.db.On("GetAccountById", 1).Return(database.User{Id: 1, Username: "walt"}, nil)
	env.db.On("GetHubById", 3).Return(database.Hub{Id: 3, Name: "test-hub", AdminId: 1}, nil)

	parentId := 99
	env.db.On("CreateMessage", database.CreateMessageParams{
		HubId:    3,
		SenderId: 1,
		Content:  "reply",
		ParentId: &parentId,
	}).Return(database.Message{}, database.ErrParentMismatch).Once()

	env.su.On("Incr", "ActiveSessions").Once()
	env.su.On("Incr", "BroadcastsPublished").Maybe()
	env.su.On("Decr", "ActiveSessions").Maybe()

	conn := env.dial(t, 3, env.mintToken(t, 1))

	readFrame(t, conn) // online_users
	readFrame(t, conn) // own online announce

	err := conn.WriteMessage(websocket.TextMessage, []byte(`{"content":"reply","parent":99}`))
	assert.NoError(t, err)

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type, "expected a private error frame")
	assert.Equal(t, "invalid parent message", frame.Error)
}

func TestServeWs_disconnectCleansUp(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.AssertExpectations(t)

	env.db.On("GetAccountById", 1).Return(database.User{Id: 1, Username: "walt"}, nil)
	env.db.On("GetHubById", 3).Return(database.Hub{Id: 3, Name: "test-hub", AdminId: 1}, nil)

	env.su.On("Incr", "ActiveSessions").Once()
	env.su.On("Incr", "BroadcastsPublished").Maybe()
	env.su.On("Decr", "ActiveSessions").Once()
	defer env.su.AssertExpectations(t)

	// second observer on the group to see the offline announce
	sub, err := env.bus.Subscribe(context.Background(), 3)
	assert.NoError(t, err)
	defer sub.Close()

	conn := env.dial(t, 3, env.mintToken(t, 1))
	readFrame(t, conn) // online_users

	conn.Close()

	assert.Eventually(t, func() bool {
		members, err := env.presence.Members(context.Background(), 3)
		return err == nil && len(members) == 0
	}, time.Second, 10*time.Millisecond, "expected presence entry removed after disconnect")

	sawOffline := false
	timeout := time.After(time.Second)
	for !sawOffline {
		select {
		case payload := <-sub.C():
			var frame serverFrame
			assert.NoError(t, json.Unmarshal(payload, &frame))
			if frame.Type == "presence" && frame.Action == "offline" {
				assert.Equal(t, "walt", frame.User.Username)
				sawOffline = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for offline announce")
		}
	}
}

func TestServeWs_lostSubscriptionDisconnects(t *testing.T) {
	env := newTestEnv(t)
	defer env.db.AssertExpectations(t)

	env.db.On("GetAccountById", 1).Return(database.User{Id: 1, Username: "walt"}, nil)
	env.db.On("GetHubById", 3).Return(database.Hub{Id: 3, Name: "test-hub", AdminId: 1}, nil)

	env.su.On("Incr", "ActiveSessions").Once()
	env.su.On("Incr", "BroadcastsPublished").Maybe()
	env.su.On("Decr", "ActiveSessions").Once()
	defer env.su.AssertExpectations(t)

	conn := env.dial(t, 3, env.mintToken(t, 1))
	readFrame(t, conn) // online_users

	env.server.sessionsLock.Lock()
	var sess *Session
	for s := range env.server.sessions {
		sess = s
	}
	env.server.sessionsLock.Unlock()
	if sess == nil {
		t.Fatal("expected a registered session")
	}

	// kill the subscription out from under the session, as a failed
	// bus connection would
	assert.NoError(t, sess.sub.Close())

	// the server must close the connection rather than leave the
	// client on a session that can no longer receive
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.False(t, os.IsTimeout(err), "expected the server to close the connection, got %v", err)
			break
		}
	}

	assert.Eventually(t, func() bool {
		members, err := env.presence.Members(context.Background(), 3)
		return err == nil && len(members) == 0
	}, time.Second, 10*time.Millisecond, "expected presence cleared after the subscription died")
}

func TestShutdown(t *testing.T) {
	env := newTestEnv(t)

	env.db.On("GetAccountById", 1).Return(database.User{Id: 1, Username: "walt"}, nil)
	env.db.On("GetHubById", 3).Return(database.Hub{Id: 3, Name: "test-hub", AdminId: 1}, nil)

	env.su.On("Incr", "ActiveSessions").Once()
	env.su.On("Incr", "BroadcastsPublished").Maybe()
	env.su.On("Decr", "ActiveSessions").Once()
	defer env.su.AssertExpectations(t)

	conn := env.dial(t, 3, env.mintToken(t, 1))
	readFrame(t, conn) // online_users

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := env.server.Shutdown(ctx)
	assert.NoError(t, err, "expected shutdown to drain the session")

	members, err := env.presence.Members(context.Background(), 3)
	assert.NoError(t, err)
	assert.Empty(t, members, "expected presence cleared after shutdown")
}

func TestShutdown_deadline(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// no sessions, so the wait group is already drained; a cancelled
	// context still wins only if the drain has not completed
	err := env.server.Shutdown(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
