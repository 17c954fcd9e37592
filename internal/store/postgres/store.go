package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michel-DC/Teamify-sub004/internal/model"
	"github.com/michel-DC/Teamify-sub004/internal/store"
)

const uniqueViolation = "23505"

// Store is the PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ store.Store          = (*Store)(nil)
	_ store.LockedAppender = (*Store)(nil)
)

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

const conversationColumns = `
	c.id, c.type, COALESCE(c.organization_id, ''), COALESCE(c.title, ''), c.last_seq, c.created_at,
	ARRAY(SELECT m.user_id FROM conversation_members m WHERE m.conversation_id = c.id ORDER BY m.position)`

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var (
		c       model.Conversation
		kind    string
		lastSeq int64
	)
	if err := row.Scan(&c.ID, &kind, &c.OrganizationID, &c.Title, &lastSeq, &c.CreatedAt, &c.Members); err != nil {
		return nil, err
	}
	c.Type = model.ConversationType(kind)
	c.LastSeq = uint64(lastSeq)
	return &c, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateConversation inserts the conversation and its members in one
// transaction. A pair_key collision maps to store.ErrDuplicatePair.
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	c := *conv
	c.Members = append([]string(nil), conv.Members...)
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.LastSeq = 0

	var pairKey any
	if c.Type == model.ConversationPrivate {
		pairKey = model.PairKey(c.Members[0], c.Members[1])
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversations (id, type, organization_id, title, pair_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, string(c.Type), nullable(c.OrganizationID), nullable(c.Title), pairKey, c.CreatedAt)
		if err != nil {
			return err
		}
		for i, member := range c.Members {
			if _, err := tx.Exec(ctx, `
				INSERT INTO conversation_members (conversation_id, user_id, position)
				VALUES ($1, $2, $3)`, c.ID, member, i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && c.Type == model.ConversationPrivate {
			return nil, store.ErrDuplicatePair
		}
		return nil, fmt.Errorf("postgres: create conversation: %w", err)
	}
	return &c, nil
}

// GetConversation returns a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns the conversations of userID, oldest first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		JOIN conversation_members cm ON cm.conversation_id = c.id
		WHERE cm.user_id = $1
		ORDER BY c.created_at, c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list conversations: %w", err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListConversationsFor returns the conversation ids of userID.
func (s *Store) ListConversationsFor(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cm.conversation_id
		FROM conversation_members cm
		JOIN conversations c ON c.id = cm.conversation_id
		WHERE cm.user_id = $1
		ORDER BY c.created_at, c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list memberships: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list memberships: %w", err)
	}
	return ids, nil
}

// IsMember reports current membership.
func (s *Store) IsMember(ctx context.Context, userID, conversationID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_members WHERE conversation_id = $1 AND user_id = $2
		)`, conversationID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: is member: %w", err)
	}
	return ok, nil
}

// FindPrivateConversation resolves the pair key and re-checks the member set.
func (s *Store) FindPrivateConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	if a == b {
		return nil, nil
	}
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.pair_key = $1 AND c.type = 'PRIVATE'`,
		model.PairKey(a, b)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find private conversation: %w", err)
	}
	if !c.IsExactPair(a, b) {
		return nil, nil
	}
	return c, nil
}

// AppendMessage takes the conversation row lock to assign the next seq and a
// strictly increasing sent_at, then writes the message and counters in the
// same transaction.
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	return appendMessage(ctx, s.pool, msg)
}

// AppendMessageLocked appends msg while holding a session advisory lock on
// the conversation, taken on the same pooled connection as the append. The
// lock is kept after commit until release is called, so every instance
// sharing the database publishes a conversation's messages in seq order.
func (s *Store) AppendMessageLocked(ctx context.Context, msg *model.Message) (*model.Message, func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: acquire conversation lock: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, msg.ConversationID); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("postgres: conversation lock: %w", err)
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, msg.ConversationID); err != nil {
			// A closed connection is destroyed by the pool, dropping the lock with it.
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}

	m, err := appendMessage(ctx, conn, msg)
	if err != nil {
		release()
		return nil, nil, err
	}
	return m, release, nil
}

func appendMessage(ctx context.Context, db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}, msg *model.Message) (*model.Message, error) {
	m := *msg
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	m.DeliveryState = model.DeliveryPending

	err := pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		var seq int64
		err := tx.QueryRow(ctx, `
			UPDATE conversations
			SET last_seq = last_seq + 1,
			    last_sent_at = GREATEST(clock_timestamp(), COALESCE(last_sent_at, '-infinity'::timestamptz) + interval '1 microsecond')
			WHERE id = $1
			RETURNING last_seq, last_sent_at`, m.ConversationID).Scan(&seq, &m.SentAt)
		if err != nil {
			return err
		}
		m.Seq = uint64(seq)

		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, content, seq, sent_at, delivery_state)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.ID, m.ConversationID, m.SenderID, m.Content, seq, m.SentAt, string(m.DeliveryState)); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO unread_counters (user_id, count)
			SELECT user_id, 1 FROM conversation_members
			WHERE conversation_id = $1 AND user_id <> $2
			ORDER BY user_id
			ON CONFLICT (user_id) DO UPDATE SET count = unread_counters.count + 1`,
			m.ConversationID, m.SenderID); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE conversation_members SET last_read_seq = $3
			WHERE conversation_id = $1 AND user_id = $2`, m.ConversationID, m.SenderID, seq)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: append message: %w", err)
	}
	m.SentAt = m.SentAt.UTC()
	return &m, nil
}

// ListMessages returns messages with seq > afterSeq in ascending order. A
// non-positive limit returns everything.
func (s *Store) ListMessages(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]model.Message, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, sender_id, content, seq, sent_at, delivery_state
		FROM messages
		WHERE conversation_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3`, conversationID, int64(afterSeq), lim)
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var (
			m     model.Message
			seq   int64
			state string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &seq, &m.SentAt, &state); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		m.Seq = uint64(seq)
		m.SentAt = m.SentAt.UTC()
		m.DeliveryState = model.DeliveryState(state)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkDelivered transitions a message to DELIVERED.
func (s *Store) MarkDelivered(ctx context.Context, messageID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET delivery_state = 'DELIVERED' WHERE id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("postgres: mark delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MarkConversationRead moves the member's watermark to the conversation's
// last seq and subtracts the cleared messages from the counter.
func (s *Store) MarkConversationRead(ctx context.Context, userID, conversationID string) (int, error) {
	var cleared int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var prev, last int64
		err := tx.QueryRow(ctx, `
			SELECT cm.last_read_seq, c.last_seq
			FROM conversation_members cm
			JOIN conversations c ON c.id = cm.conversation_id
			WHERE cm.conversation_id = $1 AND cm.user_id = $2
			FOR UPDATE OF cm`, conversationID, userID).Scan(&prev, &last)
		if err != nil {
			return err
		}

		if err := tx.QueryRow(ctx, `
			SELECT count(*) FROM messages
			WHERE conversation_id = $1 AND seq > $2 AND seq <= $3 AND sender_id <> $4`,
			conversationID, prev, last, userID).Scan(&cleared); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE conversation_members SET last_read_seq = $3
			WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID, last); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE unread_counters SET count = GREATEST(count - $2, 0) WHERE user_id = $1`,
			userID, cleared)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: mark conversation read: %w", err)
	}
	return cleared, nil
}

// RecordReminder relies on the notification_jobs primary key: a conflicting
// insert affects no rows and the transaction writes nothing else.
func (s *Store) RecordReminder(ctx context.Context, rec model.NotificationJobRecord, n *model.Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.Must(uuid.NewV7()).String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = rec.CreatedAt
	}

	var created bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO notification_jobs (event_id, recipient_id, milestone, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING`, rec.EventID, rec.RecipientID, rec.Milestone, rec.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO notifications (id, user_id, type, event_id, milestone, title, body, read, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)`,
			n.ID, n.UserID, string(n.Type), nullable(n.EventID), nullable(n.Milestone), n.Title, n.Body, n.CreatedAt); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO unread_counters (user_id, count) VALUES ($1, 1)
			ON CONFLICT (user_id) DO UPDATE SET count = unread_counters.count + 1`, n.UserID); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("postgres: record reminder: %w", err)
	}
	return created, nil
}

// ListNotifications returns newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, COALESCE(event_id, ''), COALESCE(milestone, ''), title, body, read, created_at
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR NOT read)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, userID, unreadOnly, lim)
	if err != nil {
		return nil, fmt.Errorf("postgres: list notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var (
			n    model.Notification
			kind string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &n.EventID, &n.Milestone, &n.Title, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan notification: %w", err)
		}
		n.Type = model.NotificationType(kind)
		n.CreatedAt = n.CreatedAt.UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationsRead marks ids (or every unread notification when ids is
// empty) as read and decrements the counter by the number changed.
func (s *Store) MarkNotificationsRead(ctx context.Context, userID string, ids []string) (int, error) {
	if ids == nil {
		ids = []string{}
	}
	var cleared int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE notifications SET read = true
			WHERE user_id = $1 AND NOT read AND (cardinality($2::text[]) = 0 OR id = ANY($2::text[]))`,
			userID, ids)
		if err != nil {
			return err
		}
		cleared = int(tag.RowsAffected())
		if cleared == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE unread_counters SET count = GREATEST(count - $2, 0) WHERE user_id = $1`,
			userID, cleared)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: mark notifications read: %w", err)
	}
	return cleared, nil
}

// UnreadCount returns the stored counter, zero when absent.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count FROM unread_counters WHERE user_id = $1`, userID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: unread count: %w", err)
	}
	return count, nil
}

// RecomputeUnread rebuilds the counter from unread notifications and
// messages past each membership watermark.
func (s *Store) RecomputeUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO unread_counters (user_id, count)
		SELECT $1,
			(SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT read)
			+ (SELECT count(*)
			   FROM messages msg
			   JOIN conversation_members cm ON cm.conversation_id = msg.conversation_id
			   WHERE cm.user_id = $1 AND msg.seq > cm.last_read_seq AND msg.sender_id <> $1)
		ON CONFLICT (user_id) DO UPDATE SET count = EXCLUDED.count
		RETURNING count`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: recompute unread: %w", err)
	}
	return count, nil
}

// UpcomingEvents returns events starting in (from, to], soonest first.
func (s *Store) UpcomingEvents(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.id, e.organization_id, e.title, e.starts_at,
			ARRAY(SELECT em.user_id FROM event_members em WHERE em.event_id = e.id ORDER BY em.user_id)
		FROM events e
		WHERE e.starts_at > $1 AND e.starts_at <= $2
		ORDER BY e.starts_at`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: upcoming events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.Title, &e.StartsAt, &e.Members); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.StartsAt = e.StartsAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// IsOrgMember reports organization membership.
func (s *Store) IsOrgMember(ctx context.Context, organizationID, userID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM organization_members WHERE organization_id = $1 AND user_id = $2
		)`, organizationID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: is org member: %w", err)
	}
	return ok, nil
}

// UpsertEvent writes an event and replaces its member list.
func (s *Store) UpsertEvent(ctx context.Context, e model.Event) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO events (id, organization_id, title, starts_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET organization_id = EXCLUDED.organization_id,
				title = EXCLUDED.title, starts_at = EXCLUDED.starts_at`,
			e.ID, e.OrganizationID, e.Title, e.StartsAt); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM event_members WHERE event_id = $1`, e.ID); err != nil {
			return err
		}
		for _, member := range e.Members {
			if _, err := tx.Exec(ctx, `
				INSERT INTO event_members (event_id, user_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING`, e.ID, member); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: upsert event: %w", err)
	}
	return nil
}

// AddOrgMember grants organization membership.
func (s *Store) AddOrgMember(ctx context.Context, organizationID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO organization_members (organization_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, organizationID, userID)
	if err != nil {
		return fmt.Errorf("postgres: add org member: %w", err)
	}
	return nil
}
