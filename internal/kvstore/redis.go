package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the pooled Redis client, mirroring the pool and
// timeout knobs the teacher's cache client applies.
type RedisConfig struct {
	URL string

	PoolSize        int
	MinIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.PoolSize <= 0 {
		c.PoolSize = 25
	}
	if c.MinIdleConns <= 0 {
		c.MinIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = time.Minute
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.MinRetryBackoff <= 0 {
		c.MinRetryBackoff = 8 * time.Millisecond
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = 512 * time.Millisecond
	}
	return c
}

// RedisStore is the Store adapter backed by a pooled go-redis client.
type RedisStore struct {
	client *redis.Client
}

const (
	heartbeatsKey = "heartbeats"
)

func sessKey(clientID string) string { return "sess:" + clientID }
func bufKey(clientID string) string  { return "buf:" + clientID }

// NewRedisStore dials Redis and pings it before returning, matching the
// teacher's cache client's "verify on construct" behaviour.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	cfg = cfg.withDefaults()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("kvstore: parse redis url: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.ConnMaxLifetime = cfg.ConnMaxLifetime
	opts.ConnMaxIdleTime = cfg.ConnMaxIdleTime
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.MaxRetries = cfg.MaxRetries
	opts.MinRetryBackoff = cfg.MinRetryBackoff
	opts.MaxRetryBackoff = cfg.MaxRetryBackoff

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("kvstore: ping redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) PutSessionRecord(ctx context.Context, clientID string, rec SessionRecord, ttl time.Duration) error {
	key := sessKey(clientID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"nodeId":     rec.NodeID,
		"lastOffset": rec.LastOffset,
		"lastSeen":   rec.LastSeen,
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kvstore: put session record %s: %w", clientID, err)
	}
	return nil
}

func (s *RedisStore) GetSessionRecord(ctx context.Context, clientID string) (SessionRecord, bool, error) {
	res, err := s.client.HGetAll(ctx, sessKey(clientID)).Result()
	if err != nil {
		return SessionRecord{}, false, fmt.Errorf("kvstore: get session record %s: %w", clientID, err)
	}
	if len(res) == 0 {
		return SessionRecord{}, false, nil
	}
	offset, _ := strconv.ParseInt(res["lastOffset"], 10, 64)
	seen, _ := strconv.ParseInt(res["lastSeen"], 10, 64)
	return SessionRecord{NodeID: res["nodeId"], LastOffset: offset, LastSeen: seen}, true, nil
}

func (s *RedisStore) DeleteSessionRecord(ctx context.Context, clientID string) error {
	if err := s.client.Del(ctx, sessKey(clientID)).Err(); err != nil {
		return fmt.Errorf("kvstore: delete session record %s: %w", clientID, err)
	}
	return nil
}

func (s *RedisStore) AppendBuffer(ctx context.Context, clientID string, envelope []byte, maxLen int64, minAge time.Duration, ttl time.Duration) error {
	key := bufKey(clientID)
	pipe := s.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{"msg": envelope},
	})
	pipe.XTrimMaxLen(ctx, key, maxLen)
	minID := streamIDFloor(time.Now().Add(-minAge))
	pipe.XTrimMinID(ctx, key, minID)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kvstore: append buffer %s: %w", clientID, err)
	}
	return nil
}

func (s *RedisStore) ReadBuffer(ctx context.Context, clientID string) ([]BufferEntry, error) {
	msgs, err := s.client.XRange(ctx, bufKey(clientID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: read buffer %s: %w", clientID, err)
	}
	out := make([]BufferEntry, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values["msg"].(string)
		out = append(out, BufferEntry{StreamID: m.ID, Envelope: []byte(raw)})
	}
	return out, nil
}

func (s *RedisStore) DeleteBufferEntries(ctx context.Context, clientID string, streamIDs []string) error {
	if len(streamIDs) == 0 {
		return nil
	}
	if err := s.client.XDel(ctx, bufKey(clientID), streamIDs...).Err(); err != nil {
		return fmt.Errorf("kvstore: delete buffer entries %s: %w", clientID, err)
	}
	return nil
}

func (s *RedisStore) Heartbeat(ctx context.Context, nodeID string, nowMillis int64, ttl time.Duration) error {
	if err := s.client.HSet(ctx, heartbeatsKey, nodeID, nowMillis).Err(); err != nil {
		return fmt.Errorf("kvstore: heartbeat %s: %w", nodeID, err)
	}
	return s.client.HExpire(ctx, heartbeatsKey, ttl, nodeID).Err()
}

func (s *RedisStore) ListHeartbeats(ctx context.Context) (map[string]int64, error) {
	res, err := s.client.HGetAll(ctx, heartbeatsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: list heartbeats: %w", err)
	}
	out := make(map[string]int64, len(res))
	for k, v := range res {
		n, _ := strconv.ParseInt(v, 10, 64)
		out[k] = n
	}
	return out, nil
}

// renewLeaseScript atomically extends a lease's TTL iff holder still owns
// it, mirroring the teacher's leader-election Lua renew pattern.
const renewLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("EXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// releaseLeaseScript atomically deletes a lease iff holder still owns it.
const releaseLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

func leaseKey(name string) string { return "lease:" + name }

func (s *RedisStore) TryAcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, leaseKey(name), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: acquire lease %s: %w", name, err)
	}
	return ok, nil
}

func (s *RedisStore) RenewLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	res, err := s.client.Eval(ctx, renewLeaseScript, []string{leaseKey(name)}, holder, int(ttl.Seconds())).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: renew lease %s: %w", name, err)
	}
	n, _ := res.(int64)
	return n != 0, nil
}

func (s *RedisStore) ReleaseLease(ctx context.Context, name, holder string) (bool, error) {
	res, err := s.client.Eval(ctx, releaseLeaseScript, []string{leaseKey(name)}, holder).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: release lease %s: %w", name, err)
	}
	n, _ := res.(int64)
	return n != 0, nil
}

func (s *RedisStore) CurrentLeaseHolder(ctx context.Context, name string) (string, error) {
	v, err := s.client.Get(ctx, leaseKey(name)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("kvstore: get lease holder %s: %w", name, err)
	}
	return v, nil
}

// streamIDFloor converts a wall-clock time to the smallest Redis stream ID
// at that millisecond, suitable as an XTRIM MINID argument.
func streamIDFloor(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10) + "-0"
}
