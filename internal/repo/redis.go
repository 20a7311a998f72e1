package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sir_venger/docupload/internal/models"
)

const (
	redisSessionPrefix = "upload:session:"
	redisLockPrefix    = "upload:lock:"
	redisExpiryIndex   = "upload:sessions:expiry"

	// sessions outlive their ExpiresAt so the reaper still finds their remote token
	redisRetention = 24 * time.Hour
	lockPoll       = 20 * time.Millisecond
)

var (
	unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// ErrLockLost is returned when a session lock expired or was taken over
// before the write under it reached Redis. Nothing is written in that case.
var ErrLockLost = errors.New("session lock lost")

// RedisStore keeps sessions in Redis, shared by every service instance.
// Per-key serialization uses a SET NX lock owned by a random token; the
// holder keeps extending it while the mutation runs.
type RedisStore struct {
	client  redis.UniversalClient
	lockTTL time.Duration
}

// NewRedisStore wraps an existing client. lockTTL is the lease a crashed
// holder keeps the key for; a live holder renews it every lockTTL/3.
func NewRedisStore(client redis.UniversalClient, lockTTL time.Duration) *RedisStore {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &RedisStore{client: client, lockTTL: lockTTL}
}

// DialRedis creates a client and checks connectivity.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return c, nil
}

var _ Store = (*RedisStore)(nil)

type redisLock struct {
	key   string
	token string
	stop  context.CancelFunc
	done  chan struct{}
}

func (s *RedisStore) lock(ctx context.Context, key string) (*redisLock, error) {
	lockKey := redisLockPrefix + key
	token := uuid.NewString()

	for {
		ok, err := s.client.SetNX(ctx, lockKey, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPoll):
		}
	}

	renewCtx, stop := context.WithCancel(context.Background())
	l := &redisLock{key: lockKey, token: token, stop: stop, done: make(chan struct{})}
	go s.keepAlive(renewCtx, l)
	return l, nil
}

// keepAlive extends the lease until stopped or until the lock is no longer ours.
func (s *RedisStore) keepAlive(ctx context.Context, l *redisLock) {
	defer close(l.done)

	t := time.NewTicker(s.lockTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := renewScript.Run(ctx, s.client, []string{l.key}, l.token, s.lockTTL.Milliseconds()).Int64()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

func (s *RedisStore) unlock(l *redisLock) {
	l.stop()
	<-l.done

	// release with a fresh context so a cancelled request still unlocks
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = unlockScript.Run(releaseCtx, s.client, []string{l.key}, l.token).Err()
}

// owned runs write in a MULTI block that only commits while l is still held.
func (s *RedisStore) owned(ctx context.Context, l *redisLock, write func(redis.Pipeliner) error) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		owner, err := tx.Get(ctx, l.key).Result()
		if errors.Is(err, redis.Nil) || (err == nil && owner != l.token) {
			return ErrLockLost
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, write)
		return err
	}, l.key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrLockLost
	}
	return err
}

func (s *RedisStore) save(ctx context.Context, l *redisLock, sess models.UploadSession) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := time.Until(sess.ExpiresAt) + redisRetention
	if sess.ExpiresAt.IsZero() {
		ttl = 0
	}

	return s.owned(ctx, l, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisSessionPrefix+sess.Key, payload, ttl)
		if !sess.ExpiresAt.IsZero() {
			pipe.ZAdd(ctx, redisExpiryIndex, redis.Z{Score: float64(sess.ExpiresAt.UnixMilli()), Member: sess.Key})
		}
		return nil
	})
}

func (s *RedisStore) remove(ctx context.Context, l *redisLock, key string) (int64, error) {
	var del *redis.IntCmd
	err := s.owned(ctx, l, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, redisSessionPrefix+key)
		pipe.ZRem(ctx, redisExpiryIndex, key)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return del.Val(), nil
}

func (s *RedisStore) Create(ctx context.Context, sess models.UploadSession) error {
	l, err := s.lock(ctx, sess.Key)
	if err != nil {
		return err
	}
	defer s.unlock(l)
	return s.save(ctx, l, sess)
}

func (s *RedisStore) Get(ctx context.Context, key string) (models.UploadSession, error) {
	b, err := s.client.Get(ctx, redisSessionPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.UploadSession{}, models.ErrNotFound
	}
	if err != nil {
		return models.UploadSession{}, err
	}

	var sess models.UploadSession
	if err := json.Unmarshal(b, &sess); err != nil {
		return models.UploadSession{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) Update(ctx context.Context, key string, fn Mutation) error {
	l, err := s.lock(ctx, key)
	if err != nil {
		return err
	}
	defer s.unlock(l)

	sess, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	remove, fnErr := fn(&sess)
	switch {
	case remove:
		if _, err := s.remove(ctx, l, key); err != nil {
			return err
		}
	case fnErr == nil:
		if err := s.save(ctx, l, sess); err != nil {
			return err
		}
	}
	return fnErr
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	l, err := s.lock(ctx, key)
	if err != nil {
		return err
	}
	defer s.unlock(l)

	n, err := s.remove(ctx, l, key)
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *RedisStore) Expired(ctx context.Context, now time.Time, limit int) ([]models.UploadSession, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	keys, err := s.client.ZRangeByScore(ctx, redisExpiryIndex, by).Result()
	if err != nil {
		return nil, err
	}

	out := make([]models.UploadSession, 0, len(keys))
	for _, key := range keys {
		sess, err := s.Get(ctx, key)
		if errors.Is(err, models.ErrNotFound) {
			s.client.ZRem(ctx, redisExpiryIndex, key)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
