package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/edufund/supportchat/backend/internal/apperr"
	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/conversations"
	"github.com/edufund/supportchat/backend/internal/messages"
)

// opTimeout bounds every store or identity call made for one inbound frame.
const opTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the web app origin; the token is the credential.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway runs websocket sessions: it authenticates the connection, then
// turns inbound frames into calls on the directory and the message store.
type Gateway struct {
	hub         *Hub
	auth        auth.Authenticator
	dir         *conversations.Directory
	msgs        *messages.Service
	log         *zap.Logger
	authTimeout time.Duration
}

func NewGateway(hub *Hub, a auth.Authenticator, dir *conversations.Directory, msgs *messages.Service, log *zap.Logger, authTimeout time.Duration) *Gateway {
	return &Gateway{
		hub:         hub,
		auth:        a,
		dir:         dir,
		msgs:        msgs,
		log:         log.Named("gateway"),
		authTimeout: authTimeout,
	}
}

// RegisterWS mounts GET /ws. The token may come in the first auth frame, as
// ?token= or as a bearer header on the upgrade request.
func RegisterWS(rg *gin.RouterGroup, g *Gateway) {
	rg.GET("/ws", g.ServeWS)
}

func (g *Gateway) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn)
	go client.writePump()

	token := c.Query("token")
	if token == "" {
		token, _ = auth.BearerToken(c.GetHeader("Authorization"))
	}
	if token != "" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), opTimeout)
		g.authenticate(ctx, client, "", token)
		cancel()
	}

	timer := time.AfterFunc(g.authTimeout, func() {
		if client.Session.State() == Connected {
			g.send(client, EventAuthError, "", errorData{Error: "authentication timeout", Code: apperr.Code(apperr.ErrTimeout)})
			client.Shutdown(closePolicyViolation, "authentication timeout")
		}
	})
	defer timer.Stop()

	client.readPump(func(raw []byte) { g.dispatch(client, raw) })
	g.disconnect(client)
}

func (g *Gateway) dispatch(c *Client, raw []byte) {
	f, payload, err := decode(raw)
	if err != nil {
		g.fail(c, f.Ref, err)
		return
	}
	if f.Type != EventAuth && c.Session.State() != Authenticated {
		g.fail(c, f.Ref, fmt.Errorf("%w: authenticate first", apperr.ErrAuth))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	id := c.Session.Identity()

	switch p := payload.(type) {
	case *AuthData:
		g.authenticate(ctx, c, f.Ref, p.Token)
	case *RoomData:
		switch f.Type {
		case EventJoin:
			g.join(ctx, c, f.Ref, p.ConversationID)
		case EventLeave:
			c.Session.Leave(p.ConversationID)
			g.hub.Leave(p.ConversationID, c)
			g.send(c, EventLeft, f.Ref, RoomData{ConversationID: p.ConversationID})
		case EventTyping, EventStopTyping:
			g.typing(c, f.Ref, f.Type, p.ConversationID)
		}
	case *SendData:
		m, err := g.msgs.Append(ctx, id, p.ConversationID, p.ReceiverID, p.Message)
		if err != nil {
			g.fail(c, f.Ref, err)
			return
		}
		g.send(c, EventAck, f.Ref, ackData{Ref: f.Ref, Message: m})
	case *ReadData:
		m, err := g.msgs.MarkRead(ctx, id, p.MessageID)
		if err != nil {
			g.fail(c, f.Ref, err)
			return
		}
		g.send(c, EventAck, f.Ref, ackData{Ref: f.Ref, Message: m})
	}
}

func (g *Gateway) authenticate(ctx context.Context, c *Client, ref, token string) {
	if c.Session.State() != Connected {
		g.fail(c, ref, fmt.Errorf("%w: already authenticated", apperr.ErrInvalidInput))
		return
	}

	id, err := g.auth.Resolve(ctx, token)
	if err != nil {
		g.log.Info("websocket auth failed", zap.String("conn", c.ID), zap.Error(err))
		g.send(c, EventAuthError, ref, errorData{Error: err.Error(), Code: apperr.Code(err)})
		c.Shutdown(closePolicyViolation, "authentication failed")
		return
	}
	if err := c.Session.Authenticate(id); err != nil {
		g.fail(c, ref, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err))
		return
	}

	g.send(c, EventAuthSuccess, ref, map[string]string{"userId": id.ID})
	if g.hub.Attach(ctx, c) {
		go g.announce(id, "online")
	}
}

func (g *Gateway) join(ctx context.Context, c *Client, ref, conversationID string) {
	conv, err := g.dir.Authorize(ctx, c.Session.Identity(), conversationID)
	if err != nil {
		g.fail(c, ref, err)
		return
	}
	if err := c.Session.Join(conv.ID); err != nil {
		g.fail(c, ref, fmt.Errorf("%w: %v", apperr.ErrAuth, err))
		return
	}
	g.hub.Join(conv.ID, c)
	g.send(c, EventJoined, ref, RoomData{ConversationID: conv.ID})
}

func (g *Gateway) typing(c *Client, ref, event, conversationID string) {
	if !c.Session.InRoom(conversationID) {
		g.fail(c, ref, fmt.Errorf("%w: join the conversation first", apperr.ErrForbidden))
		return
	}
	id := c.Session.Identity()
	data := typingData{ConversationID: conversationID, UserID: id.ID}
	if event == EventTyping {
		data.Email = id.Email
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	g.hub.Deliver(Delivery{Room: conversationID, Event: event, Data: raw, ExcludeConn: c.ID})
}

func (g *Gateway) disconnect(c *Client) {
	wasAuthenticated := c.Session.Disconnect()
	c.Close()
	if !wasAuthenticated {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if g.hub.Detach(ctx, c) {
		g.announce(c.Session.Identity(), "offline")
	}
}

// announce tells every counterpart of id that it came online or went offline.
func (g *Gateway) announce(id auth.Identity, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	convs, err := g.dir.ListFor(ctx, id)
	if err != nil {
		g.log.Warn("presence fan-out", zap.String("user", id.ID), zap.Error(err))
		return
	}
	seen := make(map[string]bool)
	for _, conv := range convs {
		other, ok := conv.Other(id.ID)
		if !ok || seen[other] {
			continue
		}
		seen[other] = true
		g.hub.emit("", other, EventPresence, presenceData{UserID: id.ID, Status: status}, nil)
	}
}

func (g *Gateway) send(c *Client, event, ref string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.log.Error("marshal frame data", zap.String("event", event), zap.Error(err))
		return
	}
	payload, err := json.Marshal(Frame{Type: event, Ref: ref, Data: data})
	if err != nil {
		return
	}
	c.Send(payload)
}

func (g *Gateway) fail(c *Client, ref string, err error) {
	code := apperr.Code(err)
	msg := err.Error()
	if code == "internal_error" || errors.Is(err, apperr.ErrUnavailable) {
		g.log.Warn("websocket operation failed", zap.String("conn", c.ID), zap.Error(err))
		if code == "internal_error" {
			msg = "internal server error"
		}
	}
	g.send(c, EventError, ref, errorData{Error: msg, Code: code})
}
