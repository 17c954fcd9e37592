// Package memory is an in-process implementation of the store collaborators,
// used for single-instance deployments and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/michel-DC/Teamify-sub004/internal/model"
	"github.com/michel-DC/Teamify-sub004/internal/store"
)

type conversationRow struct {
	conv       model.Conversation
	lastSentAt time.Time
	lastRead   map[string]uint64
}

type jobKey struct {
	eventID, recipientID, milestone string
}

// Store keeps all state in maps guarded by one mutex, which gives the same
// serialization the SQL backend gets from row locks and unique indexes.
type Store struct {
	mu sync.RWMutex

	conversations map[string]*conversationRow
	pairs         map[string]string
	messages      map[string][]*model.Message
	messageIndex  map[string]*model.Message
	jobs          map[jobKey]model.NotificationJobRecord
	notifications map[string][]*model.Notification
	unread        map[string]int
	events        map[string]model.Event
	orgMembers    map[string]map[string]struct{}

	// Now is the clock used for SentAt and CreatedAt.
	Now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		conversations: make(map[string]*conversationRow),
		pairs:         make(map[string]string),
		messages:      make(map[string][]*model.Message),
		messageIndex:  make(map[string]*model.Message),
		jobs:          make(map[jobKey]model.NotificationJobRecord),
		notifications: make(map[string][]*model.Notification),
		unread:        make(map[string]int),
		events:        make(map[string]model.Event),
		orgMembers:    make(map[string]map[string]struct{}),
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// AddEvent registers or replaces a scheduled event.
func (s *Store) AddEvent(e model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Members = append([]string(nil), e.Members...)
	s.events[e.ID] = e
}

// AddOrgMember grants userID access to organizationID.
func (s *Store) AddOrgMember(organizationID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.orgMembers[organizationID]
	if members == nil {
		members = make(map[string]struct{})
		s.orgMembers[organizationID] = members
	}
	members[userID] = struct{}{}
}

// MessageCount returns how many messages a conversation holds.
func (s *Store) MessageCount(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[conversationID])
}

// NotificationCount returns how many notifications a user holds.
func (s *Store) NotificationCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notifications[userID])
}

func cloneConversation(c model.Conversation) *model.Conversation {
	c.Members = append([]string(nil), c.Members...)
	return &c
}

// CreateConversation stores a conversation. For PRIVATE conversations the
// unordered pair is unique.
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *cloneConversation(*conv)
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.Now()
	}
	c.LastSeq = 0

	if c.Type == model.ConversationPrivate {
		key := model.PairKey(c.Members[0], c.Members[1])
		if _, exists := s.pairs[key]; exists {
			return nil, store.ErrDuplicatePair
		}
		s.pairs[key] = c.ID
	}

	row := &conversationRow{conv: c, lastRead: make(map[string]uint64)}
	s.conversations[c.ID] = row
	return cloneConversation(c), nil
}

// GetConversation returns a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneConversation(row.conv), nil
}

// ListConversations returns the conversations userID belongs to, oldest first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Conversation
	for _, row := range s.conversations {
		if row.conv.HasMember(userID) {
			out = append(out, *cloneConversation(row.conv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListConversationsFor returns conversation ids userID belongs to.
func (s *Store) ListConversationsFor(ctx context.Context, userID string) ([]string, error) {
	convs, err := s.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(convs))
	for i := range convs {
		ids[i] = convs[i].ID
	}
	return ids, nil
}

// IsMember reports current membership.
func (s *Store) IsMember(ctx context.Context, userID, conversationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.conversations[conversationID]
	if !ok {
		return false, nil
	}
	return row.conv.HasMember(userID), nil
}

// FindPrivateConversation looks up the pair key and then re-checks that the
// match is PRIVATE with exactly the two requested members.
func (s *Store) FindPrivateConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	if a == b {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pairs[model.PairKey(a, b)]
	if !ok {
		return nil, nil
	}
	row, ok := s.conversations[id]
	if !ok || !row.conv.IsExactPair(a, b) {
		return nil, nil
	}
	return cloneConversation(row.conv), nil
}

// AppendMessage assigns the next sequence and a strictly increasing SentAt.
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.conversations[msg.ConversationID]
	if !ok {
		return nil, store.ErrNotFound
	}

	m := *msg
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	sentAt := s.Now()
	if !sentAt.After(row.lastSentAt) {
		sentAt = row.lastSentAt.Add(time.Microsecond)
	}
	row.conv.LastSeq++
	row.lastSentAt = sentAt
	m.Seq = row.conv.LastSeq
	m.SentAt = sentAt
	m.DeliveryState = model.DeliveryPending

	stored := m
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], &stored)
	s.messageIndex[m.ID] = &stored

	row.lastRead[m.SenderID] = m.Seq
	for _, member := range row.conv.Members {
		if member != m.SenderID {
			s.unread[member]++
		}
	}
	return &m, nil
}

// ListMessages returns up to limit messages with Seq > afterSeq, ascending.
func (s *Store) ListMessages(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Message
	for _, m := range s.messages[conversationID] {
		if m.Seq <= afterSeq {
			continue
		}
		out = append(out, *m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkDelivered transitions a message from PENDING to DELIVERED.
func (s *Store) MarkDelivered(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messageIndex[messageID]
	if !ok {
		return store.ErrNotFound
	}
	m.DeliveryState = model.DeliveryDelivered
	return nil
}

// MarkConversationRead moves userID's watermark to the last message.
func (s *Store) MarkConversationRead(ctx context.Context, userID, conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.conversations[conversationID]
	if !ok || !row.conv.HasMember(userID) {
		return 0, store.ErrNotFound
	}
	prev := row.lastRead[userID]
	cleared := 0
	for _, m := range s.messages[conversationID] {
		if m.Seq > prev && m.SenderID != userID {
			cleared++
		}
	}
	row.lastRead[userID] = row.conv.LastSeq
	s.unread[userID] = max(s.unread[userID]-cleared, 0)
	return cleared, nil
}

// RecordReminder inserts the dedup record first; an existing key skips the
// notification and the counter increment.
func (s *Store) RecordReminder(ctx context.Context, rec model.NotificationJobRecord, n *model.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobKey{rec.EventID, rec.RecipientID, rec.Milestone}
	if _, exists := s.jobs[key]; exists {
		return false, nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.Now()
	}
	s.jobs[key] = rec

	stored := *n
	if stored.ID == "" {
		stored.ID = uuid.Must(uuid.NewV7()).String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = rec.CreatedAt
	}
	n.ID, n.CreatedAt = stored.ID, stored.CreatedAt
	s.notifications[stored.UserID] = append(s.notifications[stored.UserID], &stored)
	s.unread[stored.UserID]++
	return true, nil
}

// ListNotifications returns newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.notifications[userID]
	var out []model.Notification
	for i := len(list) - 1; i >= 0; i-- {
		if unreadOnly && list[i].Read {
			continue
		}
		out = append(out, *list[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkNotificationsRead marks the given (or all) notifications read.
func (s *Store) MarkNotificationsRead(ctx context.Context, userID string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	cleared := 0
	for _, n := range s.notifications[userID] {
		if n.Read {
			continue
		}
		if _, ok := wanted[n.ID]; len(ids) > 0 && !ok {
			continue
		}
		n.Read = true
		cleared++
	}
	s.unread[userID] = max(s.unread[userID]-cleared, 0)
	return cleared, nil
}

// UnreadCount returns the stored counter.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[userID], nil
}

// RecomputeUnread rebuilds the counter from notifications and watermarks.
func (s *Store) RecomputeUnread(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.notifications[userID] {
		if !n.Read {
			count++
		}
	}
	for id, row := range s.conversations {
		if !row.conv.HasMember(userID) {
			continue
		}
		watermark := row.lastRead[userID]
		for _, m := range s.messages[id] {
			if m.Seq > watermark && m.SenderID != userID {
				count++
			}
		}
	}
	s.unread[userID] = count
	return count, nil
}

// UpcomingEvents returns events starting in (from, to], soonest first.
func (s *Store) UpcomingEvents(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Event
	for _, e := range s.events {
		if e.StartsAt.After(from) && !e.StartsAt.After(to) {
			e.Members = append([]string(nil), e.Members...)
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// IsOrgMember reports organization membership.
func (s *Store) IsOrgMember(ctx context.Context, organizationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.orgMembers[organizationID][userID]
	return ok, nil
}
