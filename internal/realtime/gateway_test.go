package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michel-DC/Teamify-sub004/internal/auth"
	"github.com/michel-DC/Teamify-sub004/internal/model"
	"github.com/michel-DC/Teamify-sub004/internal/presence"
	"github.com/michel-DC/Teamify-sub004/internal/service"
	"github.com/michel-DC/Teamify-sub004/internal/store/memory"
	apperrors "github.com/michel-DC/Teamify-sub004/pkg/errors"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
)

const testSecret = "test-secret"

type gatewayFixture struct {
	store    *memory.Store
	hub      *Hub
	tracker  *presence.Tracker
	gw       *Gateway
	verifier *auth.JWTVerifier
}

func newGatewayFixture(t *testing.T, opts GatewayOptions) *gatewayFixture {
	t.Helper()
	log := logger.NewNop()
	st := memory.New()
	hub := NewHub(log)
	announcer := presence.NewAnnouncer(st, hub, log)
	tracker := presence.NewTracker(20*time.Millisecond, announcer.Notify, log)
	unread := service.NewUnreadService(st, nil, time.Minute, log)
	router := service.NewMessageService(st, hub, unread, 1000, log)
	verifier := auth.NewJWTVerifier(testSecret, "")
	gw := NewGateway(verifier, st, router, tracker, hub, opts, log)
	t.Cleanup(func() {
		gw.Shutdown()
		tracker.Stop()
	})
	return &gatewayFixture{store: st, hub: hub, tracker: tracker, gw: gw, verifier: verifier}
}

func (f *gatewayFixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.verifier.Sign(userID, auth.Profile{Name: userID}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *gatewayFixture) connect(t *testing.T, userID string) *Client {
	t.Helper()
	c, err := f.gw.Connect(context.Background(), f.token(t, userID), nil, "test")
	require.NoError(t, err)
	return c
}

func (f *gatewayFixture) conversation(t *testing.T, members ...string) string {
	t.Helper()
	conv, err := f.store.CreateConversation(context.Background(), &model.Conversation{
		Type:    model.ConversationPrivate,
		Members: members,
	})
	require.NoError(t, err)
	return conv.ID
}

func frame(t *testing.T, frameType string, data any) []byte {
	t.Helper()
	raw, err := model.EncodeFrame(frameType, data)
	require.NoError(t, err)
	return raw
}

func framesOfType(t *testing.T, c *Client, frameType string) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	for _, p := range drain(c) {
		var env model.Envelope
		require.NoError(t, json.Unmarshal(p, &env))
		if env.Type == frameType {
			out = append(out, env.Data)
		}
	}
	return out
}

func TestRejectedHandshakeLeavesNoState(t *testing.T) {
	f := newGatewayFixture(t, GatewayOptions{})

	for _, cred := range []string{"", "garbage", "Bearer x.y.z"} {
		c, err := f.gw.Connect(context.Background(), cred, nil, "test")
		assert.Nil(t, c)
		assert.ErrorIs(t, err, apperrors.ErrAuth)
	}

	other := auth.NewJWTVerifier("another-secret", "")
	forged, err := other.Sign("mallory", auth.Profile{}, time.Hour)
	require.NoError(t, err)
	_, err = f.gw.Connect(context.Background(), forged, nil, "test")
	assert.ErrorIs(t, err, apperrors.ErrAuth)

	assert.Equal(t, 0, f.hub.ConnectionCount())
	assert.Equal(t, presence.Offline, f.tracker.State("mallory"))
	assert.Equal(t, 0, f.tracker.Connections("mallory"))
}

func TestConnectSubscribesToMemberships(t *testing.T) {
	f := newGatewayFixture(t, GatewayOptions{})
	conv := f.conversation(t, "a", "b")

	c := f.connect(t, "a")
	connected := framesOfType(t, c, model.FrameConnected)
	require.Len(t, connected, 1)

	var payload model.ConnectedFrame
	require.NoError(t, json.Unmarshal(connected[0], &payload))
	assert.Equal(t, "a", payload.UserID)
	assert.Equal(t, c.ID, payload.ConnectionID)
	assert.Equal(t, []string{conv}, payload.Conversations)
	assert.Equal(t, 1, f.hub.RoomSize(conv))
	assert.Equal(t, presence.Online, f.tracker.State("a"))
}

// lateMemberships adds the user to a new conversation right after the
// handshake snapshot, before the socket is registered.
type lateMemberships struct {
	*memory.Store
	once    sync.Once
	created string
}

func (m *lateMemberships) ListConversationsFor(ctx context.Context, userID string) ([]string, error) {
	rooms, err := m.Store.ListConversationsFor(ctx, userID)
	m.once.Do(func() {
		conv, cerr := m.Store.CreateConversation(ctx, &model.Conversation{
			Type:    model.ConversationPrivate,
			Members: []string{userID, "latecomer"},
		})
		if cerr == nil {
			m.created = conv.ID
		}
	})
	return rooms, err
}

func TestConnectPicksUpConversationCreatedDuringHandshake(t *testing.T) {
	f := newGatewayFixture(t, GatewayOptions{})
	existing := f.conversation(t, "a", "b")
	members := &lateMemberships{Store: f.store}
	gw := NewGateway(f.verifier, members, nil, f.tracker, f.hub, GatewayOptions{}, logger.NewNop())
	t.Cleanup(gw.Shutdown)

	c, err := gw.Connect(context.Background(), f.token(t, "a"), nil, "test")
	require.NoError(t, err)
	require.NotEmpty(t, members.created)

	assert.ElementsMatch(t, []string{existing, members.created}, f.hub.RoomsOf(c))
	assert.Equal(t, 1, f.hub.RoomSize(members.created))

	connected := framesOfType(t, c, model.FrameConnected)
	require.Len(t, connected, 1)
	var payload model.ConnectedFrame
	require.NoError(t, json.Unmarshal(connected[0], &payload))
	assert.ElementsMatch(t, []string{existing, members.created}, payload.Conversations)
}

func TestMultiTabScenarioDeliversOncePerSocket(t *testing.T) {
	f := newGatewayFixture(t, GatewayOptions{})
	conv := f.conversation(t, "A", "B")

	tab1 := f.connect(t, "A")
	tab2 := f.connect(t, "A")
	tabB := f.connect(t, "B")
	for _, c := range []*Client{tab1, tab2, tabB} {
		drain(c)
	}

	f.gw.HandleFrame(context.Background(), tab1, frame(t, model.FrameMessageSend, model.SendFrame{
		ConversationID: conv,
		Content:        "hello",
		ClientRef:      "r1",
	}))

	var got []model.MessageNewFrame
	var acks []json.RawMessage
	for _, c := range []*Client{tab1, tab2, tabB} {
		all := drain(c)
		var news []model.MessageNewFrame
		for _, p := range all {
			var env model.Envelope
			require.NoError(t, json.Unmarshal(p, &env))
			switch env.Type {
			case model.FrameMessageNew:
				var m model.MessageNewFrame
				require.NoError(t, json.Unmarshal(env.Data, &m))
				news = append(news, m)
			case model.FrameMessageAck:
				acks = append(acks, env.Data)
			}
		}
		require.Len(t, news, 1)
		got = append(got, news[0])
	}

	assert.Equal(t, got[0].ID, got[1].ID)
	assert.Equal(t, got[0].ID, got[2].ID)
	assert.True(t, got[0].SentAt.Equal(got[1].SentAt))
	assert.True(t, got[0].SentAt.Equal(got[2].SentAt))
	assert.Equal(t, "hello", got[2].Content)
	assert.Equal(t, "A", got[2].SenderID)

	require.Len(t, acks, 1)
	var ack model.MessageAck
	require.NoError(t, json.Unmarshal(acks[0], &ack))
	assert.Equal(t, "r1", ack.ClientRef)
	assert.Equal(t, got[0].ID, ack.ID)
}

func TestSendFromNonMemberIsRejected(t *testing.T) {
	f := newGatewayFixture(t, GatewayOptions{})
	conv := f.conversation(t, "a", "b")
	c := f.connect(t, "mallory")
	drain(c)

	f.gw.HandleFrame(context.Background(), c, frame(t, model.FrameMessageSend, model.SendFrame{
		ConversationID: conv,
		Content:        "hi",
		ClientRef:      "x",
	}))

	errs := framesOfType(t, c, model.FrameError)
	require.Len(t, errs, 1)
	var e model.ErrorFrame
	require.NoError(t, json.Unmarshal(errs[0], &e))
	assert.Equal(t, string(apperrors.CodeNotMember), e.Code)
	assert.Equal(t, "x", e.ClientRef)
	assert.Equal(t, 0, f.store.MessageCount(conv))
}

func TestJoinRechecksMembership(t *testing.T) {
	f := newGatewayFixture(t, GatewayOptions{})
	c := f.connect(t, "a")
	conv := f.conversation(t, "a", "b")
	foreign := f.conversation(t, "x", "y")
	drain(c)

	f.gw.HandleFrame(context.Background(), c, frame(t, model.FrameConversationJoin, model.JoinFrame{ConversationID: conv}))
	assert.Len(t, framesOfType(t, c, model.FrameJoined), 1)
	assert.Equal(t, 1, f.hub.RoomSize(conv))

	f.gw.HandleFrame(context.Background(), c, frame(t, model.FrameConversationJoin, model.JoinFrame{ConversationID: foreign}))
	assert.Len(t, framesOfType(t, c, model.FrameError), 1)
	assert.Equal(t, 0, f.hub.RoomSize(foreign))
}

func TestControlFrames(t *testing.T) {
	f := newGatewayFixture(t, GatewayOptions{})
	c := f.connect(t, "a")
	drain(c)
	ctx := context.Background()

	f.gw.HandleFrame(ctx, c, frame(t, model.FramePing, nil))
	assert.Len(t, framesOfType(t, c, model.FramePong), 1)

	f.gw.HandleFrame(ctx, c, frame(t, "bogus", nil))
	f.gw.HandleFrame(ctx, c, []byte("{not json"))
	errs := framesOfType(t, c, model.FrameError)
	require.Len(t, errs, 2)
	for _, raw := range errs {
		var e model.ErrorFrame
		require.NoError(t, json.Unmarshal(raw, &e))
		assert.Equal(t, string(apperrors.CodeInvalidArgument), e.Code)
	}
}

func TestInboundRateLimit(t *testing.T) {
	f := newGatewayFixture(t, GatewayOptions{Client: ClientOptions{RateBurst: 2, RateInterval: time.Minute}})
	c := f.connect(t, "a")
	drain(c)

	for i := 0; i < 3; i++ {
		f.gw.handleRaw(c, frame(t, model.FramePing, nil))
	}
	all := drain(c)
	require.Len(t, all, 3)
	assert.Contains(t, string(all[2]), string(apperrors.CodeRateLimited))
}

func TestDisconnectDrivesPresence(t *testing.T) {
	f := newGatewayFixture(t, GatewayOptions{})
	f.conversation(t, "a", "b")
	watcher := f.connect(t, "b")
	drain(watcher)

	c1 := f.connect(t, "a")
	c2 := f.connect(t, "a")
	assert.Len(t, framesOfType(t, watcher, model.FramePresenceOnline), 1)

	f.gw.Disconnect(c1)
	f.gw.Disconnect(c1)
	assert.Equal(t, 1, f.tracker.Connections("a"))

	f.gw.Disconnect(c2)
	offlines := 0
	require.Eventually(t, func() bool {
		offlines += len(framesOfType(t, watcher, model.FramePresenceOffline))
		return offlines > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, offlines)
	assert.Equal(t, presence.Offline, f.tracker.State("a"))
}

func TestServeHTTPEndToEnd(t *testing.T) {
	f := newGatewayFixture(t, GatewayOptions{})
	conv := f.conversation(t, "a", "b")
	srv := httptest.NewServer(f.gw)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, f.hub.ConnectionCount())

	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.token(t, "b"))
	connB, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer connB.Close()

	connA, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+f.token(t, "a"), nil)
	require.NoError(t, err)
	defer connA.Close()

	readUntil := func(conn *websocket.Conn, frameType string) model.Envelope {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		for {
			var env model.Envelope
			require.NoError(t, conn.ReadJSON(&env))
			if env.Type == frameType {
				return env
			}
		}
	}
	readUntil(connA, model.FrameConnected)
	readUntil(connB, model.FrameConnected)

	require.NoError(t, connA.WriteMessage(websocket.TextMessage, frame(t, model.FrameMessageSend, model.SendFrame{
		ConversationID: conv,
		Content:        "over the wire",
	})))

	env := readUntil(connB, model.FrameMessageNew)
	var msg model.MessageNewFrame
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "over the wire", msg.Content)
	assert.Equal(t, uint64(1), msg.Seq)
	readUntil(connA, model.FrameMessageAck)
}
