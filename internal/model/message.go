package model

import (
	"time"
)

// DeliveryState tracks whether a persisted message was handed to the live transport.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "PENDING"
	DeliveryDelivered DeliveryState = "DELIVERED"
)

// Message is an immutable conversation entry. Seq and SentAt are assigned by
// the store and increase strictly within one conversation.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	Seq            uint64        `json:"seq"`
	SentAt         time.Time     `json:"sent_at"`
	DeliveryState  DeliveryState `json:"delivery_state"`
}

// SendMessageRequest is the HTTP request to send a new message.
type SendMessageRequest struct {
	Content   string `json:"content"`
	ClientRef string `json:"client_ref,omitempty"`
}

// MessageAck confirms a persisted message to its sender over the socket.
// Frames use camelCase keys; the REST body is SendMessageResponse.
type MessageAck struct {
	ClientRef      string    `json:"clientRef,omitempty"`
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Seq            uint64    `json:"seq"`
	SentAt         time.Time `json:"sentAt"`
}

// SendMessageResponse is the HTTP response for a sent message.
type SendMessageResponse struct {
	ClientRef      string    `json:"client_ref,omitempty"`
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            uint64    `json:"seq"`
	SentAt         time.Time `json:"sent_at"`
}

// NewSendMessageResponse converts a socket ack to its REST form.
func NewSendMessageResponse(ack *MessageAck) SendMessageResponse {
	return SendMessageResponse{
		ClientRef:      ack.ClientRef,
		ID:             ack.ID,
		ConversationID: ack.ConversationID,
		Seq:            ack.Seq,
		SentAt:         ack.SentAt,
	}
}

// ListMessagesResponse is the response for listing conversation history.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
	LastSeq  uint64    `json:"last_seq"`
}
