package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/models"
	"chatrelay/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Inbound event names.
const (
	evtJoinRoom         = "joinRoom"
	evtLeaveRoom        = "leaveRoom"
	evtSendMessage      = "sendMessage"
	evtMessageDelivered = "messageDelivered"
	evtMessageSeen      = "messageSeen"
	evtVotePoll         = "votePoll"
	evtPing             = "ping"
)

// Outbound event names.
const (
	evtRecentMessages = "recentMessages"
	evtNewMessage     = "newMessage"
	evtUserJoined     = "userJoined"
	evtUserLeft       = "userLeft"
	evtPollUpdated    = "pollUpdated"
	evtPong           = "pong"
	evtAck            = "ack"
)

// Envelope is the single inbound frame shape; Type selects the event and the
// remaining fields are read per event.
type Envelope struct {
	Type        string                    `json:"type"`
	RoomID      string                    `json:"room_id,omitempty"`
	Recipients  []string                  `json:"recipients,omitempty"`
	Broadcast   bool                      `json:"broadcast,omitempty"`
	AuthorID    string                    `json:"author_id,omitempty"`
	Kind        string                    `json:"kind,omitempty"`
	Content     string                    `json:"content,omitempty"`
	Attachments []service.AttachmentInput `json:"attachments,omitempty"`
	PollOptions []string                  `json:"poll_options,omitempty"`
	MessageID   string                    `json:"message_id,omitempty"`
	UserID      string                    `json:"user_id,omitempty"`
	OptionIndex *int                      `json:"option_index,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway dispatches inbound client events to the message, receipt and poll
// services and hands results to the hub for fan-out.
type Gateway struct {
	hub      *Hub
	msgs     *service.MessageService
	receipts *service.ReceiptService
	polls    *service.PollService
	cfg      config.Config
}

func NewGateway(hub *Hub, msgs *service.MessageService, receipts *service.ReceiptService, polls *service.PollService, cfg config.Config) *Gateway {
	return &Gateway{hub: hub, msgs: msgs, receipts: receipts, polls: polls, cfg: cfg}
}

// Serve upgrades the HTTP request, resolves the optional bearer credential
// (absent or invalid means anonymous), sends the recent-message backlog to
// this socket only, and runs the connection's pumps.
func (g *Gateway) Serve() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		userID := ""
		if tok := auth.BearerFromRequest(c.Request); tok != "" {
			claims, err := auth.ParseToken(tok, g.cfg.JWTSecret)
			if err != nil {
				log.Warn().Err(err).Msg("ws handshake token rejected")
			} else {
				userID = claims.UserID
			}
		}
		client := newClient(uuid.NewString(), g, conn, userID)
		g.hub.Register(client)
		log.Info().Str("conn_id", client.id).Str("user_id", userID).Msg("ws connected")

		go client.writePump()
		g.sendRecent(client)
		client.readPump()
		log.Info().Str("conn_id", client.id).Str("user_id", userID).Msg("ws disconnected")
	}
}

func (g *Gateway) sendRecent(c *Client) {
	recent, err := g.msgs.FindRecent(g.cfg.RecentMessagesLimit)
	if err != nil {
		log.Error().Err(err).Str("conn_id", c.id).Msg("load recent messages")
		return
	}
	g.emit(c, gin.H{"type": evtRecentMessages, "messages": recent})
}

// dispatch runs one inbound frame to completion. Any error becomes a
// structured error ack on the originating connection; it never tears the
// connection down or leaks to other clients.
func (g *Gateway) dispatch(c *Client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.ackErr(c, "", "invalid payload")
		return
	}
	switch env.Type {
	case evtJoinRoom:
		g.handleJoinRoom(c, env)
	case evtLeaveRoom:
		g.handleLeaveRoom(c, env)
	case evtSendMessage:
		g.handleSendMessage(c, env)
	case evtMessageDelivered:
		g.handleReceipt(c, env, models.StatusDelivered)
	case evtMessageSeen:
		g.handleReceipt(c, env, models.StatusSeen)
	case evtVotePoll:
		g.handleVotePoll(c, env)
	case evtPing:
		g.emit(c, gin.H{"type": evtPong, "ts": time.Now().UnixMilli()})
	default:
		g.ackErr(c, env.Type, "unknown event")
	}
}

func (g *Gateway) handleJoinRoom(c *Client, env Envelope) {
	roomID := strings.TrimSpace(env.RoomID)
	if roomID == "" {
		g.ackErr(c, evtJoinRoom, "room_id required")
		return
	}
	online := g.hub.Join(roomID, c)
	evt := mustMarshal(gin.H{"type": evtUserJoined, "room_id": roomID, "conn_id": c.id, "user_id": c.userID, "online": online})
	g.hub.Broadcast(RoomAudience(roomID), evt, c)
	g.ackOK(c, evtJoinRoom, gin.H{"room_id": roomID})
}

func (g *Gateway) handleLeaveRoom(c *Client, env Envelope) {
	roomID := strings.TrimSpace(env.RoomID)
	if roomID == "" {
		g.ackErr(c, evtLeaveRoom, "room_id required")
		return
	}
	online, wasMember := g.hub.Leave(roomID, c)
	// Leaving a room the connection never joined is tolerated, but the
	// members get no spurious userLeft for it.
	if wasMember {
		evt := mustMarshal(gin.H{"type": evtUserLeft, "room_id": roomID, "conn_id": c.id, "user_id": c.userID, "online": online})
		g.hub.Broadcast(RoomAudience(roomID), evt, c)
	}
	g.ackOK(c, evtLeaveRoom, gin.H{"room_id": roomID})
}

// audienceFor picks the explicit broadcast target of a send: room, recipient
// set, or a deliberate broadcast flag. A frame naming none of them is
// rejected rather than defaulted to everyone.
func audienceFor(env Envelope) (Audience, bool) {
	switch {
	case strings.TrimSpace(env.RoomID) != "":
		return RoomAudience(strings.TrimSpace(env.RoomID)), true
	case len(env.Recipients) > 0:
		return RecipientsAudience(env.Recipients...), true
	case env.Broadcast:
		return Everyone(), true
	}
	return Audience{}, false
}

func (g *Gateway) handleSendMessage(c *Client, env Envelope) {
	aud, ok := audienceFor(env)
	if !ok {
		g.ackErr(c, evtSendMessage, "room_id, recipients or broadcast required")
		return
	}
	authorID := env.AuthorID
	if authorID == "" {
		authorID = c.userID
	}
	msg, err := g.msgs.Create(authorID, models.MessageKind(env.Kind), env.Content, env.Attachments, env.PollOptions)
	if err != nil {
		g.fail(c, evtSendMessage, err)
		return
	}
	if len(env.Recipients) > 0 {
		if err := g.msgs.InitReceipts(msg.ID, env.Recipients); err != nil {
			g.fail(c, evtSendMessage, err)
			return
		}
		if msg, err = g.msgs.FindByID(msg.ID); err != nil {
			g.fail(c, evtSendMessage, err)
			return
		}
	}
	metrics.WsMessagesTotal.Inc()
	g.hub.Broadcast(aud, mustMarshal(gin.H{"type": evtNewMessage, "message": msg}), nil)
	g.ackOK(c, evtSendMessage, gin.H{"id": msg.ID})
}

func (g *Gateway) handleReceipt(c *Client, env Envelope, status models.ReceiptStatus) {
	evtName := evtMessageDelivered
	if status == models.StatusSeen {
		evtName = evtMessageSeen
	}
	if env.MessageID == "" || env.UserID == "" {
		g.ackErr(c, evtName, "message_id and user_id required")
		return
	}
	if err := g.receipts.SetStatus(env.MessageID, env.UserID, status); err != nil {
		g.fail(c, evtName, err)
		return
	}
	// Scope the status fan-out to the message's participants, not every
	// connection.
	participants, err := g.msgs.Participants(env.MessageID)
	if err != nil {
		g.fail(c, evtName, err)
		return
	}
	evt := mustMarshal(gin.H{"type": evtName, "message_id": env.MessageID, "user_id": env.UserID, "status": status})
	g.hub.Broadcast(RecipientsAudience(participants...), evt, nil)
	g.ackOK(c, evtName, nil)
}

func (g *Gateway) handleVotePoll(c *Client, env Envelope) {
	voterID := env.UserID
	if voterID == "" {
		voterID = c.userID
	}
	if env.MessageID == "" || voterID == "" || env.OptionIndex == nil {
		g.ackErr(c, evtVotePoll, "message_id, user_id and option_index required")
		return
	}
	options, err := g.polls.Vote(env.MessageID, voterID, *env.OptionIndex)
	if err != nil {
		g.fail(c, evtVotePoll, err)
		return
	}
	var aud Audience
	if roomID := strings.TrimSpace(env.RoomID); roomID != "" {
		aud = RoomAudience(roomID)
	} else {
		participants, err := g.msgs.Participants(env.MessageID)
		if err != nil {
			g.fail(c, evtVotePoll, err)
			return
		}
		aud = RecipientsAudience(participants...)
	}
	evt := mustMarshal(gin.H{"type": evtPollUpdated, "message_id": env.MessageID, "poll_options": options})
	g.hub.Broadcast(aud, evt, nil)
	g.ackOK(c, evtVotePoll, nil)
}

// fail converts a service error into an error ack. Storage errors are logged
// and reported generically; the connection stays open either way.
func (g *Gateway) fail(c *Client, event string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrNotPoll),
		errors.Is(err, service.ErrBadOption):
		g.ackErr(c, event, err.Error())
	default:
		log.Error().Err(err).Str("event", event).Str("conn_id", c.id).Msg("ws event failed")
		g.ackErr(c, event, "internal error")
	}
}

func (g *Gateway) ackOK(c *Client, event string, extra gin.H) {
	payload := gin.H{"type": evtAck, "event": event, "status": "ok"}
	for k, v := range extra {
		payload[k] = v
	}
	g.emit(c, payload)
}

func (g *Gateway) ackErr(c *Client, event string, msg string) {
	g.emit(c, gin.H{"type": evtAck, "event": event, "status": "error", "message": msg})
}

func (g *Gateway) emit(c *Client, v interface{}) {
	if !c.trySend(mustMarshal(v)) {
		g.hub.Unregister(c)
	}
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("marshal ws event")
		return []byte(`{"type":"ack","status":"error","message":"internal error"}`)
	}
	return b
}
