// Package model defines data structures for the realtime conversation and
// notification core.
package model

import (
	"sort"
	"time"
)

// ConversationType distinguishes 1:1 and group conversations.
type ConversationType string

const (
	ConversationPrivate ConversationType = "PRIVATE"
	ConversationGroup   ConversationType = "GROUP"
)

// Conversation is a channel grouping members for message exchange.
// Members keep insertion order.
type Conversation struct {
	ID             string           `json:"id"`
	Type           ConversationType `json:"type"`
	OrganizationID string           `json:"organization_id,omitempty"`
	Title          string           `json:"title,omitempty"`
	Members        []string         `json:"members"`
	LastSeq        uint64           `json:"last_seq"`
	CreatedAt      time.Time        `json:"created_at"`
}

// HasMember reports whether userID belongs to the conversation.
func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// IsExactPair reports whether c is a PRIVATE conversation whose member set is
// exactly {a, b}.
func (c *Conversation) IsExactPair(a, b string) bool {
	if c == nil || c.Type != ConversationPrivate || a == b || len(c.Members) != 2 {
		return false
	}
	return c.HasMember(a) && c.HasMember(b) && c.Members[0] != c.Members[1]
}

// PairKey is the order-independent uniqueness key of a private conversation.
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

// CreatePrivateRequest opens (or returns) the 1:1 conversation with another user.
type CreatePrivateRequest struct {
	UserID string `json:"user_id"`
}

// CreateGroupRequest creates a group conversation inside an organization.
type CreateGroupRequest struct {
	OrganizationID string   `json:"organization_id"`
	Title          string   `json:"title"`
	Members        []string `json:"members"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}

// CreateConversationResponse reports whether the conversation already existed.
type CreateConversationResponse struct {
	Conversation *Conversation `json:"conversation"`
	Created      bool          `json:"created"`
}
