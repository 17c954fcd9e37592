package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/michel-DC/Teamify-sub004/internal/model"
	"github.com/michel-DC/Teamify-sub004/internal/store"
	apperrors "github.com/michel-DC/Teamify-sub004/pkg/errors"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
)

// ConversationService creates and resolves conversations.
type ConversationService struct {
	store  store.ConversationStore
	orgs   store.OrgAccess
	bus    Broadcaster
	logger *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(s store.ConversationStore, orgs store.OrgAccess, bus Broadcaster, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:  s,
		orgs:   orgs,
		bus:    orNop(bus),
		logger: log.Named("conversations"),
	}
}

// FindPrivate returns the PRIVATE conversation whose member set is exactly
// {a, b}, or nil.
func (s *ConversationService) FindPrivate(ctx context.Context, a, b string) (*model.Conversation, error) {
	conv, err := s.store.FindPrivateConversation(ctx, a, b)
	if err != nil {
		return nil, apperrors.Persistence("find private conversation", err)
	}
	if !conv.IsExactPair(a, b) {
		return nil, nil
	}
	return conv, nil
}

// CreatePrivate returns the existing 1:1 conversation between userID and
// otherID, creating it when absent. Concurrent creators converge on one row
// through the store's pair uniqueness.
func (s *ConversationService) CreatePrivate(ctx context.Context, userID, otherID string) (*model.Conversation, bool, error) {
	otherID = strings.TrimSpace(otherID)
	if otherID == "" || otherID == userID {
		return nil, false, apperrors.ErrSelfPrivate
	}

	existing, err := s.FindPrivate(ctx, userID, otherID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	conv, err := s.store.CreateConversation(ctx, &model.Conversation{
		Type:    model.ConversationPrivate,
		Members: []string{userID, otherID},
	})
	if errors.Is(err, store.ErrDuplicatePair) {
		existing, err := s.FindPrivate(ctx, userID, otherID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, apperrors.Persistence("resolve private conversation", store.ErrDuplicatePair)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Persistence("create conversation", err)
	}

	s.joinMembers(ctx, conv)
	s.logger.Info("private conversation created",
		zap.String("conversation_id", conv.ID), zap.String("user_id", userID))
	return conv, true, nil
}

// CreateGroup creates a GROUP conversation in an organization. The creator is
// always a member and every member must pass the organization access check.
func (s *ConversationService) CreateGroup(ctx context.Context, creatorID string, req *model.CreateGroupRequest) (*model.Conversation, error) {
	orgID := strings.TrimSpace(req.OrganizationID)
	if orgID == "" {
		return nil, apperrors.ErrMissingOrg
	}

	members := uniqueMembers(creatorID, req.Members)
	if len(members) < 2 {
		return nil, apperrors.ErrGroupTooSmall
	}

	for _, member := range members {
		ok, err := s.orgs.IsOrgMember(ctx, orgID, member)
		if err != nil {
			return nil, apperrors.Persistence("organization access check", err)
		}
		if !ok {
			return nil, apperrors.ErrForbidden
		}
	}

	conv, err := s.store.CreateConversation(ctx, &model.Conversation{
		Type:           model.ConversationGroup,
		OrganizationID: orgID,
		Title:          strings.TrimSpace(req.Title),
		Members:        members,
	})
	if err != nil {
		return nil, apperrors.Persistence("create conversation", err)
	}

	s.joinMembers(ctx, conv)
	s.logger.Info("group conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("organization_id", orgID),
		zap.Int("members", len(members)))
	return conv, nil
}

func uniqueMembers(creatorID string, requested []string) []string {
	seen := make(map[string]struct{}, len(requested)+1)
	out := make([]string, 0, len(requested)+1)
	for _, id := range append([]string{creatorID}, requested...) {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// joinMembers subscribes the members' live sockets to the new room.
func (s *ConversationService) joinMembers(ctx context.Context, conv *model.Conversation) {
	for _, member := range conv.Members {
		if err := s.bus.JoinUser(ctx, member, conv.ID); err != nil {
			s.logger.Warn("live room join failed",
				zap.String("conversation_id", conv.ID), zap.String("user_id", member), zap.Error(err))
		}
	}
}

// Get returns a conversation the caller belongs to.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("conversation not found")
	}
	if err != nil {
		return nil, apperrors.Persistence("get conversation", err)
	}
	if !conv.HasMember(userID) {
		return nil, apperrors.ErrNotMember
	}
	return conv, nil
}

// List returns the caller's conversations.
func (s *ConversationService) List(ctx context.Context, userID string) (*model.ListConversationsResponse, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, apperrors.Persistence("list conversations", err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return &model.ListConversationsResponse{Conversations: convs, Total: len(convs)}, nil
}
