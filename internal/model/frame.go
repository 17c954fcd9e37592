package model

import (
	"encoding/json"
	"time"
)

// Live transport frame types.
const (
	FrameMessageSend      = "message:send"
	FrameMessageNew       = "message:new"
	FrameMessageAck       = "message:ack"
	FramePresenceOnline   = "presence:online"
	FramePresenceOffline  = "presence:offline"
	FrameConversationJoin = "conversation:join"
	FrameJoined           = "conversation:joined"
	FrameNotificationNew  = "notification:new"
	FramePing             = "ping"
	FramePong             = "pong"
	FrameError            = "error"
	FrameConnected        = "connected"
)

// Envelope wraps every frame on the socket.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SendFrame is the inbound message:send payload.
type SendFrame struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	ClientRef      string `json:"clientRef,omitempty"`
}

// JoinFrame is the inbound conversation:join payload.
type JoinFrame struct {
	ConversationID string `json:"conversationId"`
}

// MessageNewFrame is the outbound message:new payload.
type MessageNewFrame struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sentAt"`
	Seq            uint64    `json:"seq"`
}

// PresenceFrame is the outbound presence:online / presence:offline payload.
type PresenceFrame struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// ConnectedFrame is sent once after a successful handshake.
type ConnectedFrame struct {
	UserID        string   `json:"userId"`
	ConnectionID  string   `json:"connectionId"`
	Conversations []string `json:"conversations"`
}

// ErrorFrame reports a rejected inbound frame.
type ErrorFrame struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ClientRef string `json:"clientRef,omitempty"`
}

// PongFrame answers an application ping.
type PongFrame struct {
	Timestamp time.Time `json:"timestamp"`
}

// NewMessageFrame converts a persisted message to its wire form.
func NewMessageFrame(m *Message) MessageNewFrame {
	return MessageNewFrame{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		SentAt:         m.SentAt,
		Seq:            m.Seq,
	}
}

// EncodeFrame marshals a typed payload into an envelope.
func EncodeFrame(frameType string, data any) ([]byte, error) {
	env := Envelope{Type: frameType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
