package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/michel-DC/Teamify-sub004/internal/cache"
	"github.com/michel-DC/Teamify-sub004/internal/model"
	"github.com/michel-DC/Teamify-sub004/internal/store/memory"
)

type published struct {
	target  string
	payload []byte
}

type recordingBus struct {
	mu    sync.Mutex
	rooms []published
	users []published
	joins []string
	fail  error
}

func (b *recordingBus) PublishRoom(_ context.Context, room string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.rooms = append(b.rooms, published{room, payload})
	return nil
}

func (b *recordingBus) PublishUser(_ context.Context, userID string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.users = append(b.users, published{userID, payload})
	return nil
}

func (b *recordingBus) JoinUser(_ context.Context, userID, room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joins = append(b.joins, userID+"->"+room)
	return nil
}

func (b *recordingBus) roomFrames(room string) []model.MessageNewFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.MessageNewFrame
	for _, p := range b.rooms {
		if p.target != room {
			continue
		}
		var env model.Envelope
		if err := json.Unmarshal(p.payload, &env); err != nil || env.Type != model.FrameMessageNew {
			continue
		}
		var f model.MessageNewFrame
		if err := json.Unmarshal(env.Data, &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

func (b *recordingBus) userFrames(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.users {
		if p.target == userID {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")

// flakyStore fails selected operations of an otherwise working memory store.
type flakyStore struct {
	*memory.Store
	failAppend     bool
	failRecipients map[string]bool
}

func (f *flakyStore) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if f.failAppend {
		return nil, errBoom
	}
	return f.Store.AppendMessage(ctx, msg)
}

func (f *flakyStore) RecordReminder(ctx context.Context, rec model.NotificationJobRecord, n *model.Notification) (bool, error) {
	if f.failRecipients[rec.RecipientID] {
		return false, errBoom
	}
	return f.Store.RecordReminder(ctx, rec, n)
}

// sharedLockStore stands in for a database shared by several instances: its
// conversation lock is held from append until release.
type sharedLockStore struct {
	*memory.Store
	mu       sync.Mutex
	held     bool
	releases int
}

func (l *sharedLockStore) AppendMessageLocked(ctx context.Context, msg *model.Message) (*model.Message, func(), error) {
	l.mu.Lock()
	l.held = true
	m, err := l.Store.AppendMessage(ctx, msg)
	release := func() {
		l.held = false
		l.releases++
		l.mu.Unlock()
	}
	if err != nil {
		release()
		return nil, nil, err
	}
	return m, release, nil
}

// lockCheckingBus fails the test if a room frame is published while the
// shared lock is not held.
type lockCheckingBus struct {
	recordingBus
	store    *sharedLockStore
	unlocked int
}

func (b *lockCheckingBus) PublishRoom(ctx context.Context, room string, payload []byte) error {
	if !b.store.held {
		b.unlocked++
	}
	return b.recordingBus.PublishRoom(ctx, room, payload)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
	gets int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string]string)}
}

func (c *mapCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return v, nil
}

func (c *mapCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Del(_ context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := c.data[k]; ok {
			delete(c.data, k)
			n++
		}
	}
	return n, nil
}

func (c *mapCache) Ping(context.Context) error { return nil }
func (c *mapCache) Close() error               { return nil }

func (c *mapCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}
