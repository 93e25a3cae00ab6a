package http

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/service/chat"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func events(frames []frame, name string) []frame {
	var out []frame
	for _, f := range frames {
		if f.Type == "event" && f.Event == name {
			out = append(out, f)
		}
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketRejectsMissingOrInvalidToken(t *testing.T) {
	ts := startTestServer(t)
	ctx := testContext(t)

	for name, header := range map[string]http.Header{
		"no cookie":     nil,
		"invalid token": {"Cookie": []string{ts.cfg.CookieName + "=garbage"}},
	} {
		t.Run(name, func(t *testing.T) {
			conn, resp, err := websocket.Dial(ctx, ts.wsURL(), &websocket.DialOptions{HTTPHeader: header})
			require.Error(t, err)
			assert.Nil(t, conn)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}

	assert.Empty(t, ts.hub.Presence().OnlineUsers())
}

func TestWebSocketPresenceSnapshots(t *testing.T) {
	ts := startTestServer(t)
	ctx := testContext(t)
	alice, aliceToken := ts.register(t, "alice")
	bob, bobToken := ts.register(t, "bob")

	b1 := ts.dial(ctx, t, bobToken)
	first := readFrame(ctx, t, b1)
	require.Equal(t, proto.EventPresenceSnapshot, first.Event)

	var snap proto.PresenceSnapshot
	require.NoError(t, json.Unmarshal(first.Data, &snap))
	assert.Equal(t, []string{bob}, snap.Users)

	a1 := ts.dial(ctx, t, aliceToken)
	both := slices.Sorted(slices.Values([]string{alice, bob}))
	withUsers := func(users []string) func(frame) bool {
		return func(f frame) bool {
			if !isEvent(proto.EventPresenceSnapshot)(f) {
				return false
			}
			var s proto.PresenceSnapshot
			return json.Unmarshal(f.Data, &s) == nil && slices.Equal(s.Users, users)
		}
	}
	readUntil(ctx, t, b1, withUsers(both))

	require.NoError(t, a1.Close(websocket.StatusNormalClosure, "bye"))
	readUntil(ctx, t, b1, withUsers([]string{bob}))

	require.Eventually(t, func() bool {
		return slices.Equal(ts.hub.Presence().OnlineUsers(), []string{bob})
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocketMessageExcludesAllSenderConnections(t *testing.T) {
	ts := startTestServer(t)
	ctx := testContext(t)
	alice, aliceToken := ts.register(t, "alice")
	bob, bobToken := ts.register(t, "bob")

	conv, err := ts.chat.CreateConversation(ctx, alice, chat.CreateConversationInput{ParticipantIDs: []string{bob}})
	require.NoError(t, err)

	a1 := ts.dial(ctx, t, aliceToken)
	a2 := ts.dial(ctx, t, aliceToken)
	b1 := ts.dial(ctx, t, bobToken)
	for i, conn := range []*websocket.Conn{a1, a2, b1} {
		ack := joinRoom(ctx, t, conn, "join-"+string(rune('a'+i)), conv.ID)
		require.NotNil(t, ack.OK)
		require.True(t, *ack.OK, "join should be acknowledged")
	}

	resp := ts.do(t, http.MethodPost, "/api/chats/"+conv.ID+"/messages", aliceToken, map[string]string{"content": "hello bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent chat.Message
	decodeBody(t, resp, &sent)

	got, _ := readUntil(ctx, t, b1, isEvent(proto.EventMessageNew))
	var delivered chat.Message
	require.NoError(t, json.Unmarshal(got.Data, &delivered))
	assert.Equal(t, sent.ID, delivered.ID)
	assert.Equal(t, "hello bob", delivered.Content)
	assert.Equal(t, alice, delivered.SenderID)

	update, _ := readUntil(ctx, t, b1, isEvent(proto.EventConversationUpdate))
	var summary struct {
		ConversationID string       `json:"conversationId"`
		Payload        chat.Summary `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(update.Data, &summary))
	assert.Equal(t, conv.ID, summary.ConversationID)
	assert.Equal(t, sent.ID, summary.Payload.LastMessage.ID)

	// The summary update is queued after the message, so anything the sender's
	// tabs would have received shows up before it.
	for _, conn := range []*websocket.Conn{a1, a2} {
		_, skipped := readUntil(ctx, t, conn, isEvent(proto.EventConversationUpdate))
		assert.Empty(t, events(skipped, proto.EventMessageNew))
	}
}

func TestWebSocketJoinRejectsNonParticipant(t *testing.T) {
	ts := startTestServer(t)
	ctx := testContext(t)
	alice, _ := ts.register(t, "alice")
	bob, _ := ts.register(t, "bob")
	_, eveToken := ts.register(t, "eve")

	conv, err := ts.chat.CreateConversation(ctx, alice, chat.CreateConversationInput{ParticipantIDs: []string{bob}})
	require.NoError(t, err)

	e1 := ts.dial(ctx, t, eveToken)
	ack := joinRoom(ctx, t, e1, "j1", conv.ID)
	require.NotNil(t, ack.OK)
	assert.False(t, *ack.OK)
	require.NotNil(t, ack.Error)
	assert.Equal(t, "forbidden", ack.Error.Code)
	assert.Empty(t, ts.hub.Rooms().Members(conv.ID))
}

func TestWebSocketRejectsBadFrames(t *testing.T) {
	ts := startTestServer(t)
	ctx := testContext(t)
	_, token := ts.register(t, "alice")

	conn := ts.dial(ctx, t, token)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))
	f, _ := readUntil(ctx, t, conn, func(f frame) bool { return f.Type == "error" })
	assert.Equal(t, "invalid_message", f.Error.Code)

	sendJSON(ctx, t, conn, "shout", "", map[string]string{})
	f, _ = readUntil(ctx, t, conn, func(f frame) bool { return f.Type == "error" })
	assert.Equal(t, "invalid_message", f.Error.Code)

	ack := joinRoom(ctx, t, conn, "empty", "  ")
	require.NotNil(t, ack.OK)
	assert.False(t, *ack.OK)
	assert.Equal(t, "bad_request", ack.Error.Code)

	// The connection stays usable after rejected frames.
	sendJSON(ctx, t, conn, "leave_room", "", map[string]string{"room": "anything"})
	ack = joinRoom(ctx, t, conn, "missing", "no-such-conversation")
	assert.False(t, *ack.OK)
	assert.Equal(t, "forbidden", ack.Error.Code)
}

func TestWebSocketConversationNewOnPersonalChannel(t *testing.T) {
	ts := startTestServer(t)
	ctx := testContext(t)
	_, aliceToken := ts.register(t, "alice")
	bob, bobToken := ts.register(t, "bob")

	b1 := ts.dial(ctx, t, bobToken)
	b2 := ts.dial(ctx, t, bobToken)

	resp := ts.do(t, http.MethodPost, "/api/chats", aliceToken, map[string]any{"participantIds": []string{bob}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var conv chat.Conversation
	decodeBody(t, resp, &conv)

	for _, conn := range []*websocket.Conn{b1, b2} {
		f, _ := readUntil(ctx, t, conn, isEvent(proto.EventConversationNew))
		var got chat.Conversation
		require.NoError(t, json.Unmarshal(f.Data, &got))
		assert.Equal(t, conv.ID, got.ID)
	}
}

// blockingChecker never answers before the join deadline.
type blockingChecker struct{}

func (blockingChecker) IsParticipant(ctx context.Context, _, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestWebSocketJoinTimeoutReportsJoinFailed(t *testing.T) {
	ts := startTestServer(t,
		withChecker(blockingChecker{}),
		withConfig(func(cfg *config.Config) { cfg.JoinTimeout = 20 * time.Millisecond }),
	)
	ctx := testContext(t)
	_, token := ts.register(t, "alice")

	conn := ts.dial(ctx, t, token)
	ack := joinRoom(ctx, t, conn, "slow", "some-conversation")
	require.NotNil(t, ack.OK)
	assert.False(t, *ack.OK)
	require.NotNil(t, ack.Error)
	assert.Equal(t, "join_failed", ack.Error.Code)
	assert.Empty(t, ts.hub.Rooms().Members("some-conversation"))
}

func TestWebSocketRateLimitedJoinIsAcked(t *testing.T) {
	ts := startTestServer(t, withConfig(func(cfg *config.Config) { cfg.InboundRateLimit = 1 }))
	ctx := testContext(t)
	_, token := ts.register(t, "alice")

	conn := ts.dial(ctx, t, token)
	sendJSON(ctx, t, conn, "leave_room", "", map[string]string{"room": "anything"})
	ack := joinRoom(ctx, t, conn, "j1", "anything")
	require.NotNil(t, ack.OK)
	assert.False(t, *ack.OK)
	require.NotNil(t, ack.Error)
	assert.Equal(t, "rate_limited", ack.Error.Code)

	sendJSON(ctx, t, conn, "leave_room", "", map[string]string{"room": "anything"})
	f, _ := readUntil(ctx, t, conn, func(f frame) bool { return f.Type == "error" })
	assert.Equal(t, "rate_limited", f.Error.Code)
}

func TestWebSocketLeaveRoomStopsDelivery(t *testing.T) {
	ts := startTestServer(t)
	ctx := testContext(t)
	alice, aliceToken := ts.register(t, "alice")
	bob, bobToken := ts.register(t, "bob")

	conv, err := ts.chat.CreateConversation(ctx, alice, chat.CreateConversationInput{ParticipantIDs: []string{bob}})
	require.NoError(t, err)

	b1 := ts.dial(ctx, t, bobToken)
	ack := joinRoom(ctx, t, b1, "j1", conv.ID)
	require.True(t, *ack.OK)
	require.Len(t, ts.hub.Rooms().Members(conv.ID), 1)

	sendJSON(ctx, t, b1, "leave_room", "", map[string]string{"room": conv.ID})
	require.Eventually(t, func() bool { return len(ts.hub.Rooms().Members(conv.ID)) == 0 }, timeoutShort, tick)

	resp := ts.do(t, http.MethodPost, "/api/chats/"+conv.ID+"/messages", aliceToken, map[string]string{"content": "still there?"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The summary still reaches bob's personal channel; the room message does not.
	_, skipped := readUntil(ctx, t, b1, isEvent(proto.EventConversationUpdate))
	assert.Empty(t, events(skipped, proto.EventMessageNew))
}

func TestWebSocketCloseLeavesRooms(t *testing.T) {
	ts := startTestServer(t)
	ctx := testContext(t)
	alice, _ := ts.register(t, "alice")
	bob, bobToken := ts.register(t, "bob")

	conv, err := ts.chat.CreateConversation(ctx, alice, chat.CreateConversationInput{ParticipantIDs: []string{bob}})
	require.NoError(t, err)

	b1 := ts.dial(ctx, t, bobToken)
	ack := joinRoom(ctx, t, b1, "j1", conv.ID)
	require.True(t, *ack.OK)
	require.Len(t, ts.hub.Rooms().Members(conv.ID), 1)
	require.Len(t, ts.hub.Rooms().Personal(bob), 1)

	require.NoError(t, b1.Close(websocket.StatusNormalClosure, "bye"))

	require.Eventually(t, func() bool {
		return len(ts.hub.Rooms().Members(conv.ID)) == 0 &&
			len(ts.hub.Rooms().Personal(bob)) == 0 &&
			len(ts.hub.Presence().OnlineUsers()) == 0
	}, timeoutShort, tick)
}
