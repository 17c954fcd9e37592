package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/michel-DC/Teamify-sub004/internal/model"
	"github.com/michel-DC/Teamify-sub004/internal/store"
	apperrors "github.com/michel-DC/Teamify-sub004/pkg/errors"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
	"github.com/michel-DC/Teamify-sub004/pkg/metrics"
	"github.com/michel-DC/Teamify-sub004/pkg/tracing"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// RouterStore is what the conversation router needs from the durable store.
type RouterStore interface {
	store.ConversationStore
	store.MessageStore
}

// MessageService is the conversation router: validate, persist, then fan out.
type MessageService struct {
	store      RouterStore
	bus        Broadcaster
	unread     *UnreadService
	locks      stripedLock
	maxContent int
	logger     *logger.Logger
}

// NewMessageService creates a new message service. A non-positive
// maxContent disables the length check.
func NewMessageService(s RouterStore, bus Broadcaster, unread *UnreadService, maxContent int, log *logger.Logger) *MessageService {
	return &MessageService{
		store:      s,
		bus:        orNop(bus),
		unread:     unread,
		maxContent: maxContent,
		logger:     log.Named("router"),
	}
}

func (s *MessageService) validate(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", apperrors.ErrEmptyContent
	}
	if !utf8.ValidString(trimmed) {
		return "", apperrors.ErrInvalidUTF8
	}
	if s.maxContent > 0 && utf8.RuneCountInString(trimmed) > s.maxContent {
		return "", apperrors.ErrContentTooBig
	}
	return trimmed, nil
}

// Send persists a message from userID and fans it out to the conversation's
// room. The per-conversation lock spans append and hand-off, so every socket
// observes the persisted order.
func (s *MessageService) Send(ctx context.Context, userID, conversationID, content string) (*model.MessageAck, error) {
	ctx, span := tracing.Tracer("service").Start(ctx, "message.send")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID), attribute.String("user.id", userID))

	ack, err := s.send(ctx, userID, conversationID, content)
	result := "ok"
	if err != nil {
		result = strings.ToLower(string(apperrors.CodeOf(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, apperrors.MessageOf(err))
	}
	metrics.MessagesRouted.WithLabelValues(result).Inc()
	return ack, err
}

func (s *MessageService) send(ctx context.Context, userID, conversationID, content string) (*model.MessageAck, error) {
	trimmed, err := s.validate(content)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.IsMember(ctx, userID, conversationID)
	if err != nil {
		return nil, apperrors.Persistence("membership check", err)
	}
	if !ok {
		return nil, apperrors.ErrNotMember
	}

	unlock := s.locks.lock(conversationID)
	msg, release, err := s.append(ctx, &model.Message{
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        trimmed,
	})
	if err != nil {
		unlock()
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.ErrNotMember
		}
		return nil, apperrors.Persistence("append message", err)
	}
	delivered := s.fanOut(ctx, msg)
	release()
	unlock()

	if delivered {
		if err := s.store.MarkDelivered(ctx, msg.ID); err != nil {
			s.logger.Warn("mark delivered failed", zap.String("message_id", msg.ID), zap.Error(err))
		} else {
			msg.DeliveryState = model.DeliveryDelivered
		}
	}
	s.invalidateMembers(ctx, conversationID, userID)

	return &model.MessageAck{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Seq:            msg.Seq,
		SentAt:         msg.SentAt,
	}, nil
}

// append holds the store's cross-process conversation lock when the backend
// has one; the stripe already covers a single process.
func (s *MessageService) append(ctx context.Context, msg *model.Message) (*model.Message, func(), error) {
	if locked, ok := s.store.(store.LockedAppender); ok {
		return locked.AppendMessageLocked(ctx, msg)
	}
	m, err := s.store.AppendMessage(ctx, msg)
	return m, func() {}, err
}

// fanOut is best effort: a failure leaves the message PENDING and recipients
// resync from history.
func (s *MessageService) fanOut(ctx context.Context, msg *model.Message) bool {
	payload, err := model.EncodeFrame(model.FrameMessageNew, model.NewMessageFrame(msg))
	if err != nil {
		s.logger.Error("encode message frame", zap.String("message_id", msg.ID), zap.Error(err))
		return false
	}
	if err := s.bus.PublishRoom(ctx, msg.ConversationID, payload); err != nil {
		metrics.FanoutDeliveries.WithLabelValues("publish_failed").Inc()
		s.logger.Warn("live fan-out failed",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return false
	}
	return true
}

func (s *MessageService) invalidateMembers(ctx context.Context, conversationID, senderID string) {
	if s.unread == nil || s.unread.cache == nil {
		return
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		s.logger.Warn("unread invalidation lookup failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	others := make([]string, 0, len(conv.Members))
	for _, member := range conv.Members {
		if member != senderID {
			others = append(others, member)
		}
	}
	s.unread.Invalidate(ctx, others...)
}

// History returns messages after afterSeq in persisted order.
func (s *MessageService) History(ctx context.Context, userID, conversationID string, afterSeq uint64, limit int) (*model.ListMessagesResponse, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	ok, err := s.store.IsMember(ctx, userID, conversationID)
	if err != nil {
		return nil, apperrors.Persistence("membership check", err)
	}
	if !ok {
		return nil, apperrors.ErrNotMember
	}

	// One extra row tells whether another page exists.
	messages, err := s.store.ListMessages(ctx, conversationID, afterSeq, limit+1)
	if err != nil {
		return nil, apperrors.Persistence("list messages", err)
	}
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	if messages == nil {
		messages = []model.Message{}
	}

	lastSeq := afterSeq
	if n := len(messages); n > 0 {
		lastSeq = messages[n-1].Seq
	}
	return &model.ListMessagesResponse{Messages: messages, HasMore: hasMore, LastSeq: lastSeq}, nil
}

// MarkRead acknowledges every message of a conversation for userID.
func (s *MessageService) MarkRead(ctx context.Context, userID, conversationID string) (int, error) {
	cleared, err := s.store.MarkConversationRead(ctx, userID, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, apperrors.ErrNotMember
	}
	if err != nil {
		return 0, apperrors.Persistence("mark conversation read", err)
	}
	if s.unread != nil {
		s.unread.Invalidate(ctx, userID)
	}
	return cleared, nil
}
