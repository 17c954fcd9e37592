package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/michel-DC/Teamify-sub004/internal/model"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
)

// Memberships resolves the rooms a user belongs to.
type Memberships interface {
	ListConversationsFor(ctx context.Context, userID string) ([]string, error)
}

// RoomPublisher fans a frame out to a room.
type RoomPublisher interface {
	PublishRoom(ctx context.Context, room string, payload []byte) error
}

// Announcer broadcasts presence transitions to every room the user shares.
type Announcer struct {
	members Memberships
	rooms   RoomPublisher
	timeout time.Duration
	log     *logger.Logger
}

// NewAnnouncer creates an announcer.
func NewAnnouncer(members Memberships, rooms RoomPublisher, log *logger.Logger) *Announcer {
	return &Announcer{members: members, rooms: rooms, timeout: 5 * time.Second, log: log.Named("presence")}
}

// Notify satisfies NotifyFunc. Failures are logged; presence is best effort.
func (a *Announcer) Notify(userID string, state State) {
	frameType := model.FramePresenceOffline
	if state == Online {
		frameType = model.FramePresenceOnline
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	rooms, err := a.members.ListConversationsFor(ctx, userID)
	if err != nil {
		a.log.Warn("presence lookup failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	for _, room := range rooms {
		payload, err := model.EncodeFrame(frameType, model.PresenceFrame{UserID: userID, ConversationID: room})
		if err != nil {
			continue
		}
		if err := a.rooms.PublishRoom(ctx, room, payload); err != nil {
			a.log.Warn("presence broadcast failed",
				zap.String("user_id", userID), zap.String("conversation_id", room), zap.Error(err))
		}
	}
	a.log.Debug("presence broadcast", zap.String("user_id", userID), zap.Stringer("state", state), zap.Int("rooms", len(rooms)))
}
