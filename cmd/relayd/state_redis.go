package main

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/devshiv17/relay-server/internal/obs"
	"github.com/redis/go-redis/v9"
)

const (
	redisSessionPrefix = "relay:session:"
	redisPairedKey     = "relay:paired_total"
	redisTimeoutsKey   = "relay:timeouts_total"
	redisBytesKey      = "relay:bytes_total"
)

// sessionRecord is the JSON form of a session stored in Redis. Connection
// handles stay with the instance that accepted them; the record is metadata.
type sessionRecord struct {
	State  string    `json:"state"` // "waiting" or "active"
	PeerID string    `json:"peer_id"`
	Role   string    `json:"role"`
	Remote string    `json:"remote"`
	Since  time.Time `json:"since"`
}

// redisLedger implements sessionLedger on Redis so several relay instances
// can present one combined dashboard. Waiting/active counts in getStats are
// local to this instance (its connections are the only ones it can count
// authoritatively); the totals are fleet-wide Redis counters.
type redisLedger struct {
	client *redis.Client
	keyTTL time.Duration

	mu      sync.Mutex
	waiting map[string]struct{}
	active  map[string]struct{}
	closing bool
	ready   bool
}

func newRedisLedger(addr, password string, db int) (*redisLedger, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &redisLedger{
		client:  client,
		keyTTL:  5 * time.Minute,
		waiting: make(map[string]struct{}),
		active:  make(map[string]struct{}),
	}, nil
}

func (r *redisLedger) putRecord(sessionID string, rec sessionRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		obs.Error("redis.record.marshal", obs.Fields{"err": err.Error(), "session": sessionID})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Set(ctx, redisSessionPrefix+sessionID, data, r.keyTTL).Err(); err != nil {
		obs.Error("redis.record.set", obs.Fields{"err": err.Error(), "session": sessionID})
	}
}

func (r *redisLedger) delRecord(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Del(ctx, redisSessionPrefix+sessionID).Err(); err != nil {
		obs.Error("redis.record.del", obs.Fields{"err": err.Error(), "session": sessionID})
	}
}

func (r *redisLedger) markWaiting(sessionID, peerID, role, remote string) {
	r.mu.Lock()
	r.waiting[sessionID] = struct{}{}
	r.mu.Unlock()
	r.putRecord(sessionID, sessionRecord{State: "waiting", PeerID: peerID, Role: role, Remote: remote, Since: time.Now()})
}

func (r *redisLedger) markPaired(sessionID string) {
	r.mu.Lock()
	delete(r.waiting, sessionID)
	r.active[sessionID] = struct{}{}
	r.mu.Unlock()
	r.putRecord(sessionID, sessionRecord{State: "active", Since: time.Now()})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Incr(ctx, redisPairedKey).Err(); err != nil {
		obs.Error("redis.counter.paired", obs.Fields{"err": err.Error()})
	}
}

func (r *redisLedger) markDone(sessionID string, bytesAB, bytesBA uint64) {
	r.mu.Lock()
	delete(r.active, sessionID)
	r.mu.Unlock()
	r.delRecord(sessionID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.IncrBy(ctx, redisBytesKey, int64(bytesAB+bytesBA)).Err(); err != nil {
		obs.Error("redis.counter.bytes", obs.Fields{"err": err.Error()})
	}
}

func (r *redisLedger) dropWaiting(sessionID string, timedOut bool) {
	r.mu.Lock()
	delete(r.waiting, sessionID)
	r.mu.Unlock()
	r.delRecord(sessionID)
	if timedOut {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.client.Incr(ctx, redisTimeoutsKey).Err(); err != nil {
			obs.Error("redis.counter.timeouts", obs.Fields{"err": err.Error()})
		}
	}
}

func (r *redisLedger) setReady(ready bool) {
	r.mu.Lock()
	r.ready = ready
	r.mu.Unlock()
}

func (r *redisLedger) setClosing(closing bool) {
	r.mu.Lock()
	r.closing = closing
	r.mu.Unlock()
}

func (r *redisLedger) isReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

func (r *redisLedger) isClosing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closing
}

func (r *redisLedger) getStats() ledgerStats {
	r.mu.Lock()
	st := ledgerStats{Waiting: len(r.waiting), Active: len(r.active)}
	r.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st.PairedTotal = r.counter(ctx, redisPairedKey)
	st.Timeouts = r.counter(ctx, redisTimeoutsKey)
	st.BytesTotal = uint64(r.counter(ctx, redisBytesKey))
	return st
}

func (r *redisLedger) counter(ctx context.Context, key string) int64 {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			obs.Error("redis.counter.get", obs.Fields{"err": err.Error(), "key": key})
		}
		return 0
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// startMaintenance periodically extends the TTL of records this instance
// still owns, so live sessions outlast keyTTL but orphans from a crashed
// instance expire on their own.
func (r *redisLedger) startMaintenance(ctx context.Context) {
	ticker := time.NewTicker(r.keyTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshOwned()
		}
	}
}

func (r *redisLedger) refreshOwned() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.waiting)+len(r.active))
	for id := range r.waiting {
		ids = append(ids, id)
	}
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range ids {
		if err := r.client.Expire(ctx, redisSessionPrefix+id, r.keyTTL).Err(); err != nil {
			obs.Error("redis.record.expire", obs.Fields{"err": err.Error(), "session": id})
		}
	}
}
