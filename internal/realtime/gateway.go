package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michel-DC/Teamify-sub004/internal/auth"
	"github.com/michel-DC/Teamify-sub004/internal/model"
	apperrors "github.com/michel-DC/Teamify-sub004/pkg/errors"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
	"github.com/michel-DC/Teamify-sub004/pkg/metrics"
)

// Memberships is the authoritative membership lookup used at handshake and
// on explicit joins.
type Memberships interface {
	ListConversationsFor(ctx context.Context, userID string) ([]string, error)
	IsMember(ctx context.Context, userID, conversationID string) (bool, error)
}

// MessageRouter persists and fans out an inbound message.
type MessageRouter interface {
	Send(ctx context.Context, userID, conversationID, content string) (*model.MessageAck, error)
}

// PresenceTracker receives connection-count deltas.
type PresenceTracker interface {
	Attach(userID string)
	Established(userID string)
	Detach(userID string)
}

// GatewayOptions configures the gateway.
type GatewayOptions struct {
	Client           ClientOptions
	HandshakeTimeout time.Duration
	FrameTimeout     time.Duration
	Origins          *OriginPolicy
}

// Gateway authenticates sockets, subscribes them to their rooms and
// dispatches inbound frames.
type Gateway struct {
	verifier auth.Verifier
	members  Memberships
	router   MessageRouter
	presence PresenceTracker
	hub      *Hub
	upgrader websocket.Upgrader
	opts     GatewayOptions
	log      *logger.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewGateway wires the gateway collaborators.
func NewGateway(verifier auth.Verifier, members Memberships, router MessageRouter, presence PresenceTracker, hub *Hub, opts GatewayOptions, log *logger.Logger) *Gateway {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		verifier: verifier,
		members:  members,
		router:   router,
		presence: presence,
		hub:      hub,
		opts:     opts,
		log:      log.Named("gateway"),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	if opts.Origins != nil {
		g.upgrader.CheckOrigin = opts.Origins.Check
	}
	return g
}

// credentialFrom reads the bearer header, falling back to the token query
// parameter since browsers cannot set headers on websocket requests.
func credentialFrom(r *http.Request) string {
	if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return r.URL.Query().Get("token")
}

// ServeHTTP verifies the credential before upgrading; a rejected handshake
// never touches the hub or the presence tracker.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), g.opts.HandshakeTimeout)
	identity, rooms, err := g.authenticate(ctx, credentialFrom(r))
	cancel()
	if err != nil {
		metrics.HandshakesTotal.WithLabelValues("rejected").Inc()
		status := http.StatusUnauthorized
		if apperrors.CodeOf(err) != apperrors.CodeUnauthenticated {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": apperrors.MessageOf(err)})
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.HandshakesTotal.WithLabelValues("upgrade_failed").Inc()
		g.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := NewClient(conn, identity.UserID, r.RemoteAddr, g.opts.Client, g.log)
	g.attach(c, rooms)
	defer g.Disconnect(c)

	go c.writePump()
	c.readPump(func(raw []byte) { g.handleRaw(c, raw) })
}

// Connect runs the handshake for an already established transport. conn may
// be nil, in which case frames are read from the client's Outbound channel.
func (g *Gateway) Connect(ctx context.Context, credential string, conn *websocket.Conn, addr string) (*Client, error) {
	identity, rooms, err := g.authenticate(ctx, credential)
	if err != nil {
		metrics.HandshakesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	c := NewClient(conn, identity.UserID, addr, g.opts.Client, g.log)
	g.attach(c, rooms)
	return c, nil
}

func (g *Gateway) authenticate(ctx context.Context, credential string) (auth.Identity, []string, error) {
	identity, err := g.verifier.Verify(ctx, credential)
	if err != nil {
		return auth.Identity{}, nil, err
	}
	rooms, err := g.members.ListConversationsFor(ctx, identity.UserID)
	if err != nil {
		return auth.Identity{}, nil, apperrors.Persistence("resolve memberships", err)
	}
	return identity, rooms, nil
}

func (g *Gateway) attach(c *Client, rooms []string) {
	g.presence.Attach(c.UserID)
	g.hub.Register(c, rooms)
	rooms = g.catchUp(c, rooms)
	g.presence.Established(c.UserID)
	metrics.HandshakesTotal.WithLabelValues("accepted").Inc()

	g.reply(c, model.FrameConnected, model.ConnectedFrame{
		UserID:        c.UserID,
		ConnectionID:  c.ID,
		Conversations: rooms,
	})
	g.log.Info("client connected",
		zap.String("connection_id", c.ID), zap.String("user_id", c.UserID), zap.Int("rooms", len(rooms)))
}

// catchUp lists memberships again once c is registered. A conversation
// created after the handshake lookup but before Register had its live join
// published while c was not yet reachable.
func (g *Gateway) catchUp(c *Client, rooms []string) []string {
	ctx, cancel := context.WithTimeout(g.baseCtx, g.opts.HandshakeTimeout)
	defer cancel()

	latest, err := g.members.ListConversationsFor(ctx, c.UserID)
	if err != nil {
		g.log.Warn("membership catch-up failed", zap.String("connection_id", c.ID), zap.Error(err))
		return rooms
	}
	known := make(map[string]struct{}, len(rooms))
	for _, room := range rooms {
		known[room] = struct{}{}
	}
	for _, room := range latest {
		if _, ok := known[room]; ok {
			continue
		}
		g.hub.Join(room, c)
		rooms = append(rooms, room)
	}
	return rooms
}

// Disconnect releases the client's rooms and its presence reference. It is
// idempotent.
func (g *Gateway) Disconnect(c *Client) {
	if !g.hub.Unregister(c) {
		return
	}
	c.Close()
	g.presence.Detach(c.UserID)
	g.log.Info("client disconnected", zap.String("connection_id", c.ID), zap.String("user_id", c.UserID))
}

// HandleFrame processes one inbound frame from c.
func (g *Gateway) HandleFrame(ctx context.Context, c *Client, raw []byte) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		g.replyError(c, apperrors.ErrMalformed, "")
		return
	}

	switch env.Type {
	case model.FrameMessageSend:
		g.handleSend(ctx, c, env.Data)
	case model.FrameConversationJoin:
		g.handleJoin(ctx, c, env.Data)
	case model.FramePing:
		g.reply(c, model.FramePong, model.PongFrame{Timestamp: time.Now().UTC()})
	default:
		g.replyError(c, apperrors.ErrUnknownFrame, "")
	}
}

func (g *Gateway) handleRaw(c *Client, raw []byte) {
	if !c.allow() {
		g.replyError(c, apperrors.ErrRateLimited, "")
		return
	}
	ctx, cancel := context.WithTimeout(g.baseCtx, g.opts.FrameTimeout)
	defer cancel()
	g.HandleFrame(ctx, c, raw)
}

func (g *Gateway) handleSend(ctx context.Context, c *Client, data json.RawMessage) {
	var f model.SendFrame
	if err := json.Unmarshal(data, &f); err != nil || f.ConversationID == "" {
		g.replyError(c, apperrors.ErrMalformed, f.ClientRef)
		return
	}

	ack, err := g.router.Send(ctx, c.UserID, f.ConversationID, f.Content)
	if err != nil {
		g.replyError(c, err, f.ClientRef)
		return
	}
	ack.ClientRef = f.ClientRef
	g.reply(c, model.FrameMessageAck, ack)
}

func (g *Gateway) handleJoin(ctx context.Context, c *Client, data json.RawMessage) {
	var f model.JoinFrame
	if err := json.Unmarshal(data, &f); err != nil || f.ConversationID == "" {
		g.replyError(c, apperrors.ErrMalformed, "")
		return
	}

	ok, err := g.members.IsMember(ctx, c.UserID, f.ConversationID)
	if err != nil {
		g.replyError(c, apperrors.Persistence("membership check", err), "")
		return
	}
	if !ok {
		g.replyError(c, apperrors.ErrNotMember, "")
		return
	}
	g.hub.Join(f.ConversationID, c)
	g.reply(c, model.FrameJoined, model.JoinFrame{ConversationID: f.ConversationID})
}

func (g *Gateway) reply(c *Client, frameType string, data any) {
	payload, err := model.EncodeFrame(frameType, data)
	if err != nil {
		g.log.Error("encode frame", zap.String("type", frameType), zap.Error(err))
		return
	}
	if err := c.Send(payload); err != nil {
		g.log.Debug("reply dropped", zap.String("connection_id", c.ID), zap.Error(err))
	}
}

func (g *Gateway) replyError(c *Client, err error, clientRef string) {
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeUnknown {
		code = apperrors.CodeInternal
	}
	g.reply(c, model.FrameError, model.ErrorFrame{
		Code:      string(code),
		Message:   apperrors.MessageOf(err),
		ClientRef: clientRef,
	})
}

// Shutdown cancels in-flight frame handling and closes every socket.
func (g *Gateway) Shutdown() {
	g.cancel()
	g.hub.Shutdown()
}
