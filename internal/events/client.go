package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/carelink-health/carelink/internal/apperr"
	"github.com/carelink-health/carelink/internal/policy"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// sendBuffer bounds per-peer memory. A peer that falls this far behind
	// starts losing frames — accepted, delivery is at-most-once.
	sendBuffer = 64
)

// ChatAuthorizer re-checks chat access against persisted state before a
// subscription is granted. Implemented by the triage service; returns
// apperr.ErrNotFound or apperr.ErrForbidden.
type ChatAuthorizer interface {
	AuthorizeChatRead(ctx context.Context, actor policy.Actor, chatID uuid.UUID) error
}

// command is the inbound frame. The session identity never comes from here:
// subscribe_district_queue deliberately carries no district id.
type command struct {
	Action string `json:"action"`
	ChatID string `json:"chatId"`
}

type ack struct {
	Type       string `json:"type"`
	ChatID     string `json:"chatId,omitempty"`
	DistrictID string `json:"districtId,omitempty"`
	Timestamp  string `json:"timestamp"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// Client is one websocket peer: an authenticated session bound to a
// connection. Inbound commands are handled one at a time in arrival order;
// outbound frames flow through the send channel so the hub never blocks on
// a slow connection.
type Client struct {
	hub    *Hub
	eval   *policy.Evaluator
	auth   ChatAuthorizer
	conn   *websocket.Conn
	actor  policy.Actor
	send   chan []byte
	logger *zap.Logger
}

func NewClient(hub *Hub, eval *policy.Evaluator, auth ChatAuthorizer, conn *websocket.Conn, actor policy.Actor, logger *zap.Logger) *Client {
	return &Client{
		hub:    hub,
		eval:   eval,
		auth:   auth,
		conn:   conn,
		actor:  actor,
		send:   make(chan []byte, sendBuffer),
		logger: logger.With(zap.String("peer_id", actor.ID.String())),
	}
}

// Send implements Peer. It never blocks: a full buffer means the frame is
// dropped for this peer.
func (c *Client) Send(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Run services the connection until it drops, then tears down every
// subscription. It owns both pumps; the caller just hands over the upgraded
// connection.
func (c *Client) Run(ctx context.Context) {
	defer func() {
		c.hub.Drop(c)
		c.conn.Close()
		c.logger.Info("peer disconnected")
	}()

	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		// A bad or failing command answers with an error payload; the
		// connection itself stays open.
		c.handleCommand(ctx, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleCommand(ctx context.Context, raw []byte) {
	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.sendError("invalid message")
		return
	}

	switch cmd.Action {
	case "subscribe_chat":
		c.subscribeChat(ctx, cmd.ChatID)
	case "unsubscribe_chat":
		c.unsubscribeChat(cmd.ChatID)
	case "subscribe_district_queue":
		c.subscribeDistrictQueue()
	case "broadcast_message":
		// Peers do not publish. Every broadcast originates server-side
		// from a validated mutation; a client-supplied one is untrusted
		// and refused outright.
		c.sendError("unsupported action")
	default:
		c.sendError("unknown action")
	}
}

func (c *Client) subscribeChat(ctx context.Context, rawChatID string) {
	if rawChatID == "" {
		c.sendError("chat id required")
		return
	}
	chatID, err := uuid.Parse(rawChatID)
	if err != nil {
		c.sendError("invalid chat id")
		return
	}

	if err := c.auth.AuthorizeChatRead(ctx, c.actor, chatID); err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			c.sendError("chat not found")
		case errors.Is(err, apperr.ErrForbidden):
			c.sendError("forbidden")
		default:
			c.logger.Error("chat subscription check failed", zap.Error(err))
			c.sendError("internal server error")
		}
		return
	}

	c.hub.Subscribe(c, ChatChannel(chatID))
	c.sendAck(ack{Type: "subscribed", ChatID: chatID.String()})
}

// unsubscribeChat needs no re-authorization — leaving a channel is always
// allowed.
func (c *Client) unsubscribeChat(rawChatID string) {
	chatID, err := uuid.Parse(rawChatID)
	if err != nil {
		c.sendError("invalid chat id")
		return
	}

	c.hub.Unsubscribe(c, ChatChannel(chatID))
	c.sendAck(ack{Type: "unsubscribed", ChatID: chatID.String()})
}

func (c *Client) subscribeDistrictQueue() {
	// District comes from the session, never the request.
	if c.actor.DistrictID == nil || !c.eval.CanSubscribeQueue(c.actor, *c.actor.DistrictID) {
		c.sendError("must be healthcare worker with assigned district")
		return
	}

	c.hub.Subscribe(c, DistrictQueueChannel(*c.actor.DistrictID))
	c.sendAck(ack{Type: "subscribed_queue", DistrictID: c.actor.DistrictID.String()})
}

func (c *Client) sendAck(a ack) {
	a.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	frame, err := json.Marshal(a)
	if err != nil {
		return
	}
	c.Send(frame)
}

func (c *Client) sendError(msg string) {
	frame, err := json.Marshal(errorFrame{Error: msg})
	if err != nil {
		return
	}
	c.Send(frame)
}
