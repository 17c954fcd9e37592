// Package store declares the durable collaborators of the realtime core.
// The durable store is the single source of truth for membership, message
// order, reminder deduplication and unread counters; in-memory state elsewhere
// is a rebuildable cache.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/michel-DC/Teamify-sub004/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicatePair is returned when a private conversation for the same
	// unordered pair already exists.
	ErrDuplicatePair = errors.New("store: private conversation already exists")
)

// MembershipStore answers authoritative membership questions.
type MembershipStore interface {
	ListConversationsFor(ctx context.Context, userID string) ([]string, error)
	IsMember(ctx context.Context, userID, conversationID string) (bool, error)
	// FindPrivateConversation returns nil, nil when no PRIVATE conversation
	// with member set exactly {a, b} exists.
	FindPrivateConversation(ctx context.Context, a, b string) (*model.Conversation, error)
}

// ConversationStore persists conversations and their members.
type ConversationStore interface {
	MembershipStore
	CreateConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
}

// MessageStore appends messages and serves history. AppendMessage assigns Seq
// and SentAt under the conversation's write lock, bumps the unread counter of
// every other member, and stores the message as PENDING.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]model.Message, error)
	MarkDelivered(ctx context.Context, messageID string) error
	// MarkConversationRead moves the reader's watermark to the latest message
	// and returns how many unread messages were cleared.
	MarkConversationRead(ctx context.Context, userID, conversationID string) (int, error)
}

// LockedAppender is implemented by backends shared between processes.
// AppendMessageLocked returns with the conversation still locked for every
// process; release must be called once the message has been handed to the
// live fan-out.
type LockedAppender interface {
	AppendMessageLocked(ctx context.Context, msg *model.Message) (*model.Message, func(), error)
}

// NotificationStore persists reminders under the dedup uniqueness constraint.
type NotificationStore interface {
	// RecordReminder atomically inserts the dedup record, the notification
	// and the recipient's counter increment. It returns false, nil when the
	// dedup key already exists.
	RecordReminder(ctx context.Context, rec model.NotificationJobRecord, n *model.Notification) (bool, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID string, ids []string) (int, error)
}

// UnreadStore exposes the per-user unread counter.
type UnreadStore interface {
	UnreadCount(ctx context.Context, userID string) (int, error)
	// RecomputeUnread rebuilds the counter from notifications and message
	// watermarks and returns the new value.
	RecomputeUnread(ctx context.Context, userID string) (int, error)
}

// EventStore lists scheduled events.
type EventStore interface {
	// UpcomingEvents returns events starting in (from, to].
	UpcomingEvents(ctx context.Context, from, to time.Time) ([]model.Event, error)
}

// OrgAccess is the organization access-check capability.
type OrgAccess interface {
	IsOrgMember(ctx context.Context, organizationID, userID string) (bool, error)
}

// Store bundles every collaborator a single backend provides.
type Store interface {
	ConversationStore
	MessageStore
	NotificationStore
	UnreadStore
	EventStore
	OrgAccess
	Ping(ctx context.Context) error
	Close()
}
