package world

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/l1jgo/gamegate/internal/metrics"
)

var ErrNotOnline = errors.New("entity not online")

// Conn is the send side of a client connection. The registry never owns
// or closes it.
type Conn interface {
	ConnID() uint64
	Send(msgType uint16, payload []byte) error
	IsClosed() bool
}

// OnlineEntity is an entity currently attached to a live connection.
type OnlineEntity struct {
	EntityID   int64
	IdentityID int64 // owning account
	Name       string
	Level      int32
	SceneID    int32
	RoomID     int32
	X, Y, Z    float32
	Conn       Conn
}

// BroadcastResult reports what happened to each targeted connection.
type BroadcastResult struct {
	Delivered int
	Failed    int
	Skipped   int // connection already closed
}

type OnlineOptions struct {
	Shards               int // rounded up to a power of two
	BroadcastConcurrency int
}

func (o OnlineOptions) withDefaults() OnlineOptions {
	if o.Shards <= 0 {
		o.Shards = 32
	}
	n := 1
	for n < o.Shards {
		n <<= 1
	}
	o.Shards = n
	if o.BroadcastConcurrency <= 0 {
		o.BroadcastConcurrency = 64
	}
	return o
}

type entityShard struct {
	mu sync.RWMutex
	m  map[int64]*OnlineEntity
}

type connShard struct {
	mu sync.RWMutex
	m  map[uint64]int64
}

// OnlineRegistry indexes online entities by entity id and by connection id.
// Both indices are sharded; mutations lock the entity shard first and the
// connection shard second, so the two indices always agree.
type OnlineRegistry struct {
	opts     OnlineOptions
	mask     uint64
	entities []entityShard
	conns    []connShard
	count    atomic.Int64

	metrics metrics.Sink
	log     *zap.Logger
}

func NewOnlineRegistry(opts OnlineOptions, sink metrics.Sink, log *zap.Logger) *OnlineRegistry {
	opts = opts.withDefaults()
	if sink == nil {
		sink = metrics.Nop{}
	}
	r := &OnlineRegistry{
		opts:     opts,
		mask:     uint64(opts.Shards - 1),
		entities: make([]entityShard, opts.Shards),
		conns:    make([]connShard, opts.Shards),
		metrics:  sink,
		log:      log,
	}
	for i := range r.entities {
		r.entities[i].m = make(map[int64]*OnlineEntity)
		r.conns[i].m = make(map[uint64]int64)
	}
	return r
}

func (r *OnlineRegistry) entityShard(id int64) *entityShard {
	return &r.entities[uint64(id)&r.mask]
}

func (r *OnlineRegistry) connShard(connID uint64) *connShard {
	return &r.conns[connID&r.mask]
}

// Add registers e. It is a no-op returning false when the entity id or the
// connection is already registered.
func (r *OnlineRegistry) Add(e OnlineEntity) bool {
	if e.Conn == nil {
		return false
	}
	connID := e.Conn.ConnID()

	es := r.entityShard(e.EntityID)
	cs := r.connShard(connID)
	es.mu.Lock()
	cs.mu.Lock()
	defer es.mu.Unlock()
	defer cs.mu.Unlock()

	if _, ok := es.m[e.EntityID]; ok {
		r.log.Warn("entity already online", zap.Int64("entity", e.EntityID))
		return false
	}
	if _, ok := cs.m[connID]; ok {
		r.log.Warn("connection already has an online entity",
			zap.Uint64("conn", connID), zap.Int64("entity", e.EntityID))
		return false
	}
	stored := e
	es.m[e.EntityID] = &stored
	cs.m[connID] = e.EntityID
	r.count.Add(1)
	r.metrics.OnlineChanged(1)
	return true
}

// Remove drops the entity and its connection mapping.
func (r *OnlineRegistry) Remove(entityID int64) (OnlineEntity, bool) {
	es := r.entityShard(entityID)
	es.mu.Lock()
	defer es.mu.Unlock()

	e, ok := es.m[entityID]
	if !ok {
		return OnlineEntity{}, false
	}
	connID := e.Conn.ConnID()
	cs := r.connShard(connID)
	cs.mu.Lock()
	if id, ok := cs.m[connID]; ok && id == entityID {
		delete(cs.m, connID)
	}
	cs.mu.Unlock()

	delete(es.m, entityID)
	r.count.Add(-1)
	r.metrics.OnlineChanged(-1)
	return *e, true
}

// RemoveByConn drops whatever entity is attached to the connection.
func (r *OnlineRegistry) RemoveByConn(connID uint64) (OnlineEntity, bool) {
	for {
		cs := r.connShard(connID)
		cs.mu.RLock()
		entityID, ok := cs.m[connID]
		cs.mu.RUnlock()
		if !ok {
			return OnlineEntity{}, false
		}

		es := r.entityShard(entityID)
		es.mu.Lock()
		e, ok := es.m[entityID]
		if !ok || e.Conn.ConnID() != connID {
			// Raced with a concurrent Remove; look again.
			es.mu.Unlock()
			continue
		}
		cs.mu.Lock()
		delete(cs.m, connID)
		cs.mu.Unlock()
		delete(es.m, entityID)
		es.mu.Unlock()

		r.count.Add(-1)
		r.metrics.OnlineChanged(-1)
		return *e, true
	}
}

// Get returns a copy of the entity.
func (r *OnlineRegistry) Get(entityID int64) (OnlineEntity, bool) {
	es := r.entityShard(entityID)
	es.mu.RLock()
	defer es.mu.RUnlock()
	e, ok := es.m[entityID]
	if !ok {
		return OnlineEntity{}, false
	}
	return *e, true
}

func (r *OnlineRegistry) GetByConn(connID uint64) (OnlineEntity, bool) {
	cs := r.connShard(connID)
	cs.mu.RLock()
	entityID, ok := cs.m[connID]
	cs.mu.RUnlock()
	if !ok {
		return OnlineEntity{}, false
	}
	e, ok := r.Get(entityID)
	if !ok || e.Conn.ConnID() != connID {
		return OnlineEntity{}, false
	}
	return e, true
}

// Update applies fn to the stored entity under its shard lock. EntityID and
// Conn changes made by fn are discarded.
func (r *OnlineRegistry) Update(entityID int64, fn func(*OnlineEntity)) bool {
	es := r.entityShard(entityID)
	es.mu.Lock()
	defer es.mu.Unlock()
	e, ok := es.m[entityID]
	if !ok {
		return false
	}
	id, conn := e.EntityID, e.Conn
	fn(e)
	e.EntityID, e.Conn = id, conn
	return true
}

func (r *OnlineRegistry) Count() int {
	return int(r.count.Load())
}

// Snapshot copies every entity matching pred (nil matches all). Later
// registry changes do not affect the returned slice.
func (r *OnlineRegistry) Snapshot(pred func(*OnlineEntity) bool) []OnlineEntity {
	out := make([]OnlineEntity, 0, r.Count())
	for i := range r.entities {
		es := &r.entities[i]
		es.mu.RLock()
		for _, e := range es.m {
			if pred == nil || pred(e) {
				out = append(out, *e)
			}
		}
		es.mu.RUnlock()
	}
	return out
}

// Broadcast sends one message to every entity matching pred. Sends run
// concurrently; a failing connection is logged and counted but never stops
// the others. It returns after every send was attempted; cancelling ctx
// does not stop delivery to live recipients.
func (r *OnlineRegistry) Broadcast(ctx context.Context, msgType uint16, payload []byte, pred func(*OnlineEntity) bool) BroadcastResult {
	targets := r.Snapshot(pred)

	var delivered, failed, skipped atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.opts.BroadcastConcurrency)
	for i := range targets {
		e := &targets[i]
		if e.Conn.IsClosed() {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			if err := e.Conn.Send(msgType, payload); err != nil {
				failed.Add(1)
				r.metrics.BroadcastFailed()
				r.log.Debug("broadcast send failed",
					zap.Int64("entity", e.EntityID), zap.Error(err))
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	g.Wait()

	return BroadcastResult{
		Delivered: int(delivered.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}
}

// SendTo delivers one message to a single online entity.
func (r *OnlineRegistry) SendTo(entityID int64, msgType uint16, payload []byte) error {
	e, ok := r.Get(entityID)
	if !ok {
		return ErrNotOnline
	}
	return e.Conn.Send(msgType, payload)
}

// Close removes every entity. Connections are left to their owners.
func (r *OnlineRegistry) Close() {
	for i := range r.entities {
		es := &r.entities[i]
		es.mu.Lock()
		for id, e := range es.m {
			cs := r.connShard(e.Conn.ConnID())
			cs.mu.Lock()
			delete(cs.m, e.Conn.ConnID())
			cs.mu.Unlock()
			delete(es.m, id)
			r.count.Add(-1)
			r.metrics.OnlineChanged(-1)
		}
		es.mu.Unlock()
	}
}

// InScene matches entities in the given scene, excluding one entity id.
func InScene(sceneID int32, except int64) func(*OnlineEntity) bool {
	return func(e *OnlineEntity) bool {
		return e.SceneID == sceneID && e.EntityID != except
	}
}
