// Package service provides business logic for the conversation and
// notification core.
package service

import (
	"context"
	"hash/fnv"
	"sync"
)

// Broadcaster fans live frames out. The hub implements it for a single
// instance; the NATS bus implements it across instances.
type Broadcaster interface {
	PublishRoom(ctx context.Context, room string, payload []byte) error
	PublishUser(ctx context.Context, userID string, payload []byte) error
	JoinUser(ctx context.Context, userID, room string) error
}

type nopBroadcaster struct{}

func (nopBroadcaster) PublishRoom(context.Context, string, []byte) error { return nil }
func (nopBroadcaster) PublishUser(context.Context, string, []byte) error { return nil }
func (nopBroadcaster) JoinUser(context.Context, string, string) error    { return nil }

func orNop(b Broadcaster) Broadcaster {
	if b == nil {
		return nopBroadcaster{}
	}
	return b
}

const lockStripes = 256

// stripedLock serializes work per key with a fixed set of mutexes. Two keys
// may share a stripe, which only costs throughput.
type stripedLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLock) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
