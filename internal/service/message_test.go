package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michel-DC/Teamify-sub004/internal/cache"
	"github.com/michel-DC/Teamify-sub004/internal/model"
	"github.com/michel-DC/Teamify-sub004/internal/store/memory"
	apperrors "github.com/michel-DC/Teamify-sub004/pkg/errors"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
)

type routerFixture struct {
	store  *flakyStore
	bus    *recordingBus
	cache  *mapCache
	svc    *MessageService
	convID string
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	st := &flakyStore{Store: memory.New()}
	bus := &recordingBus{}
	c := newMapCache()
	unread := NewUnreadService(st, c, time.Minute, logger.NewNop())
	svc := NewMessageService(st, bus, unread, 100, logger.NewNop())

	conv, err := st.CreateConversation(context.Background(), &model.Conversation{
		Type:    model.ConversationPrivate,
		Members: []string{"alice", "bob"},
	})
	require.NoError(t, err)
	return &routerFixture{store: st, bus: bus, cache: c, svc: svc, convID: conv.ID}
}

func TestSendPersistsThenFansOut(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	ack, err := f.svc.Send(ctx, "alice", f.convID, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ack.Seq)
	assert.Equal(t, f.convID, ack.ConversationID)

	frames := f.bus.roomFrames(f.convID)
	require.Len(t, frames, 1)
	assert.Equal(t, ack.ID, frames[0].ID)
	assert.Equal(t, "hello", frames[0].Content)
	assert.Equal(t, "alice", frames[0].SenderID)
	assert.True(t, ack.SentAt.Equal(frames[0].SentAt))

	msgs, err := f.store.ListMessages(ctx, f.convID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.DeliveryDelivered, msgs[0].DeliveryState)
}

func TestSendRejectsNonMember(t *testing.T) {
	f := newRouterFixture(t)

	_, err := f.svc.Send(context.Background(), "mallory", f.convID, "hi")
	assert.ErrorIs(t, err, apperrors.ErrNotMember)
	assert.Equal(t, 0, f.store.MessageCount(f.convID))
	assert.Empty(t, f.bus.roomFrames(f.convID))
}

func TestSendValidatesContent(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, "alice", f.convID, " \n\t ")
	assert.ErrorIs(t, err, apperrors.ErrEmptyContent)

	_, err = f.svc.Send(ctx, "alice", f.convID, strings.Repeat("x", 101))
	assert.ErrorIs(t, err, apperrors.ErrContentTooBig)

	_, err = f.svc.Send(ctx, "alice", f.convID, "bad \xff bytes")
	assert.ErrorIs(t, err, apperrors.ErrInvalidUTF8)

	assert.Equal(t, 0, f.store.MessageCount(f.convID))
}

func TestSendPersistenceFailureSkipsFanOut(t *testing.T) {
	f := newRouterFixture(t)
	f.store.failAppend = true

	_, err := f.svc.Send(context.Background(), "alice", f.convID, "hi")
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
	assert.Empty(t, f.bus.roomFrames(f.convID))
}

func TestSendFanOutFailureKeepsMessagePending(t *testing.T) {
	f := newRouterFixture(t)
	f.bus.fail = errBoom
	ctx := context.Background()

	ack, err := f.svc.Send(ctx, "alice", f.convID, "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, ack.ID)

	msgs, err := f.store.ListMessages(ctx, f.convID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.DeliveryPending, msgs[0].DeliveryState)
}

func TestConcurrentSendsFanOutInPersistedOrder(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := "alice"
			if i%2 == 0 {
				sender = "bob"
			}
			_, err := f.svc.Send(ctx, sender, f.convID, fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	frames := f.bus.roomFrames(f.convID)
	require.Len(t, frames, 50)
	for i := range frames {
		assert.Equal(t, uint64(i+1), frames[i].Seq)
		if i > 0 {
			assert.True(t, frames[i].SentAt.After(frames[i-1].SentAt))
		}
	}
}

func TestSendsFromSeveralInstancesFanOutInPersistedOrder(t *testing.T) {
	st := &sharedLockStore{Store: memory.New()}
	bus := &lockCheckingBus{store: st}
	conv, err := st.CreateConversation(context.Background(), &model.Conversation{
		Type:    model.ConversationPrivate,
		Members: []string{"alice", "bob"},
	})
	require.NoError(t, err)

	instances := []*MessageService{
		NewMessageService(st, bus, nil, 0, logger.NewNop()),
		NewMessageService(st, bus, nil, 0, logger.NewNop()),
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := instances[i%2].Send(context.Background(), "alice", conv.ID, fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	frames := bus.roomFrames(conv.ID)
	require.Len(t, frames, 40)
	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f.Seq)
	}
	assert.Zero(t, bus.unlocked)
	assert.Equal(t, 40, st.releases)
}

func TestSendInvalidatesRecipientUnreadCache(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.Set(ctx, cache.UnreadKey("bob"), "0", 0))

	_, err := f.svc.Send(ctx, "alice", f.convID, "hi")
	require.NoError(t, err)

	assert.False(t, f.cache.has(cache.UnreadKey("bob")))
	n, err := f.svc.unread.Count(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHistoryPagesBySeq(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.svc.Send(ctx, "alice", f.convID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	page, err := f.svc.History(ctx, "bob", f.convID, 0, 3)
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.True(t, page.HasMore)
	assert.Equal(t, uint64(3), page.LastSeq)

	rest, err := f.svc.History(ctx, "bob", f.convID, page.LastSeq, 3)
	require.NoError(t, err)
	require.Len(t, rest.Messages, 2)
	assert.False(t, rest.HasMore)
	assert.Equal(t, "m4", rest.Messages[1].Content)

	_, err = f.svc.History(ctx, "mallory", f.convID, 0, 3)
	assert.ErrorIs(t, err, apperrors.ErrNotMember)
}

func TestMarkReadClearsUnread(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Send(ctx, "alice", f.convID, "hi")
		require.NoError(t, err)
	}

	cleared, err := f.svc.MarkRead(ctx, "bob", f.convID)
	require.NoError(t, err)
	assert.Equal(t, 3, cleared)

	n, err := f.svc.unread.Count(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = f.svc.MarkRead(ctx, "mallory", f.convID)
	assert.ErrorIs(t, err, apperrors.ErrNotMember)
}
