package repo

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sir_venger/docupload/internal/models"
)

func newSession(ttl time.Duration) models.UploadSession {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return models.UploadSession{
		Key:         uuid.NewString(),
		RemoteToken: "tok-" + uuid.NewString(),
		FileMeta: models.FileMeta{
			Office:      "berlin",
			LogicalID:   "A-17",
			DisplayName: "Jane Doe",
			SubmittedAt: now,
			FileName:    "diploma.pdf",
		},
		FileSize:    10,
		ChunkSize:   4,
		TotalChunks: 3,
		Status:      models.StatusUploading,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// runStoreContract exercises the behaviour every Store implementation shares.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("create get delete", func(t *testing.T) {
		sess := newSession(time.Hour)
		require.NoError(t, s.Create(ctx, sess))

		got, err := s.Get(ctx, sess.Key)
		require.NoError(t, err)
		assert.Equal(t, sess.RemoteToken, got.RemoteToken)
		assert.Equal(t, sess.Office, got.Office)
		assert.Equal(t, 3, got.TotalChunks)

		require.NoError(t, s.Delete(ctx, sess.Key))
		_, err = s.Get(ctx, sess.Key)
		require.ErrorIs(t, err, models.ErrNotFound)
		require.ErrorIs(t, s.Delete(ctx, sess.Key), models.ErrNotFound)
	})

	t.Run("create overwrites", func(t *testing.T) {
		sess := newSession(time.Hour)
		require.NoError(t, s.Create(ctx, sess))
		sess.RemoteToken = "second"
		require.NoError(t, s.Create(ctx, sess))

		got, err := s.Get(ctx, sess.Key)
		require.NoError(t, err)
		assert.Equal(t, "second", got.RemoteToken)
		require.NoError(t, s.Delete(ctx, sess.Key))
	})

	t.Run("update saves only on success", func(t *testing.T) {
		sess := newSession(time.Hour)
		require.NoError(t, s.Create(ctx, sess))

		require.NoError(t, s.Update(ctx, sess.Key, func(u *models.UploadSession) (bool, error) {
			u.UploadedChunks = 1
			u.UploadedBytes = 4
			return false, nil
		}))

		boom := errors.New("boom")
		err := s.Update(ctx, sess.Key, func(u *models.UploadSession) (bool, error) {
			u.UploadedChunks = 99
			return false, boom
		})
		require.ErrorIs(t, err, boom)

		got, err := s.Get(ctx, sess.Key)
		require.NoError(t, err)
		assert.Equal(t, 1, got.UploadedChunks)
		assert.Equal(t, int64(4), got.UploadedBytes)
		require.NoError(t, s.Delete(ctx, sess.Key))
	})

	t.Run("update remove deletes even on error", func(t *testing.T) {
		sess := newSession(time.Hour)
		require.NoError(t, s.Create(ctx, sess))

		err := s.Update(ctx, sess.Key, func(*models.UploadSession) (bool, error) {
			return true, models.ErrBackend
		})
		require.ErrorIs(t, err, models.ErrBackend)

		_, err = s.Get(ctx, sess.Key)
		require.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("update unknown key", func(t *testing.T) {
		called := false
		err := s.Update(ctx, uuid.NewString(), func(*models.UploadSession) (bool, error) {
			called = true
			return false, nil
		})
		require.ErrorIs(t, err, models.ErrNotFound)
		assert.False(t, called)
	})

	t.Run("same key updates are serialized", func(t *testing.T) {
		sess := newSession(time.Hour)
		require.NoError(t, s.Create(ctx, sess))

		const workers = 16
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.Update(ctx, sess.Key, func(u *models.UploadSession) (bool, error) {
					// read-modify-write with a pause widens any race window
					n := u.UploadedChunks
					time.Sleep(time.Millisecond)
					u.UploadedChunks = n + 1
					return false, nil
				}))
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, sess.Key)
		require.NoError(t, err)
		assert.Equal(t, workers, got.UploadedChunks)
		require.NoError(t, s.Delete(ctx, sess.Key))
	})

	t.Run("expired", func(t *testing.T) {
		live := newSession(time.Hour)
		stale := newSession(-time.Minute)
		require.NoError(t, s.Create(ctx, live))
		require.NoError(t, s.Create(ctx, stale))

		out, err := s.Expired(ctx, time.Now(), 100)
		require.NoError(t, err)

		var keys []string
		for _, e := range out {
			keys = append(keys, e.Key)
		}
		assert.Contains(t, keys, stale.Key)
		assert.NotContains(t, keys, live.Key)

		require.NoError(t, s.Delete(ctx, live.Key))
		require.NoError(t, s.Delete(ctx, stale.Key))
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	runStoreContract(t, s)
	assert.Zero(t, s.Len())
}

func TestMemoryStore_ExpiredLimitOrdersOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	older := newSession(-2 * time.Hour)
	newer := newSession(-time.Hour)
	require.NoError(t, s.Create(ctx, newer))
	require.NoError(t, s.Create(ctx, older))

	out, err := s.Expired(ctx, time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, older.Key, out[0].Key)
}

func TestMemoryStore_UpdateHonoursCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	sess := newSession(time.Hour)
	require.NoError(t, s.Create(context.Background(), sess))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Update(ctx, sess.Key, func(*models.UploadSession) (bool, error) {
		t.Fatal("mutation must not run")
		return false, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPGStore(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, dsn))
	s, err := NewPGStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	runStoreContract(t, s)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	c, err := DialRedis(ctx, addr, "", 0)
	require.NoError(t, err)
	s := NewRedisStore(c, 10*time.Second)
	t.Cleanup(func() { _ = s.Close() })

	runStoreContract(t, s)
}

func TestRedisStore_LockOutlivesTTL(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	c, err := DialRedis(ctx, addr, "", 0)
	require.NoError(t, err)
	s := NewRedisStore(c, 150*time.Millisecond)
	t.Cleanup(func() { _ = s.Close() })

	sess := newSession(time.Hour)
	require.NoError(t, s.Create(ctx, sess))

	var inside, overlaps int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, sess.Key, func(u *models.UploadSession) (bool, error) {
				mu.Lock()
				inside++
				if inside > 1 {
					overlaps++
				}
				mu.Unlock()

				// well past the lease; renewal keeps the key ours
				time.Sleep(600 * time.Millisecond)
				u.UploadedChunks++

				mu.Lock()
				inside--
				mu.Unlock()
				return false, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, overlaps)
	got, err := s.Get(ctx, sess.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UploadedChunks)
}

func TestRedisStore_LostLockSkipsWrite(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	c, err := DialRedis(ctx, addr, "", 0)
	require.NoError(t, err)
	s := NewRedisStore(c, 10*time.Second)
	t.Cleanup(func() { _ = s.Close() })

	sess := newSession(time.Hour)
	require.NoError(t, s.Create(ctx, sess))

	err = s.Update(ctx, sess.Key, func(u *models.UploadSession) (bool, error) {
		// another instance took the key over
		require.NoError(t, c.Set(ctx, redisLockPrefix+sess.Key, "someone-else", time.Minute).Err())
		u.UploadedChunks = 3
		return false, nil
	})
	require.ErrorIs(t, err, ErrLockLost)

	got, err := s.Get(ctx, sess.Key)
	require.NoError(t, err)
	assert.Zero(t, got.UploadedChunks)
	require.NoError(t, c.Del(ctx, redisLockPrefix+sess.Key).Err())
}
