package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestCache(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewManager(client, Config{DefaultTTL: time.Minute}, zap.NewNop())
}

func TestManager_SetAndGet(t *testing.T) {
	_, m := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))

	val, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestManager_GetMiss(t *testing.T) {
	_, m := setupTestCache(t)

	_, err := m.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_JSONRoundTrip(t *testing.T) {
	_, m := setupTestCache(t)
	ctx := context.Background()

	type profile struct {
		Level  string   `json:"level"`
		Topics []string `json:"topics"`
	}

	in := profile{Level: "beginner", Topics: []string{"go", "redis"}}
	require.NoError(t, m.SetJSON(ctx, ProfileKey("u1"), in, ProfileTTL))

	var out profile
	require.NoError(t, m.GetJSON(ctx, ProfileKey("u1"), &out))
	assert.Equal(t, in, out)
}

func TestManager_TTLExpiry(t *testing.T) {
	mr, m := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, PerformanceKey("u1"), "stats", PerformanceTTL))

	mr.FastForward(PerformanceTTL + time.Second)

	_, err := m.Get(ctx, PerformanceKey("u1"))
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_ZeroTTLUsesDefault(t *testing.T) {
	mr, m := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", 0))

	mr.FastForward(2 * time.Minute)

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_Delete(t *testing.T) {
	_, m := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", "v", 0))
	require.NoError(t, m.Set(ctx, "k2", "v", 0))

	require.NoError(t, m.Delete(ctx, "k1", "k2"))

	_, err := m.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Deleting nothing and deleting absent keys are both fine.
	require.NoError(t, m.Delete(ctx))
	require.NoError(t, m.Delete(ctx, "gone"))
}

func TestManager_InvalidateUser(t *testing.T) {
	_, m := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, ProfileKey("u1"), "p", 0))
	require.NoError(t, m.Set(ctx, JourneyKey("u1"), "j", 0))
	require.NoError(t, m.Set(ctx, MasteryKey("u1", "algebra"), "m", 0))
	require.NoError(t, m.Set(ctx, ProfileKey("u2"), "other", 0))

	deleted, err := m.InvalidateUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	_, err = m.Get(ctx, ProfileKey("u1"))
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Other users are untouched.
	val, err := m.Get(ctx, ProfileKey("u2"))
	require.NoError(t, err)
	assert.Equal(t, "other", val)
}

func TestManager_ClosedRejectsOperations(t *testing.T) {
	_, m := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, m.Set(ctx, "k", "v", 0))
	assert.Error(t, m.Ping(ctx))
}

func TestManager_RecorderCountsHitsAndMisses(t *testing.T) {
	_, m := setupTestCache(t)
	ctx := context.Background()

	rec := &countingRecorder{hits: map[string]int{}, misses: map[string]int{}}
	m.SetRecorder(rec)

	require.NoError(t, m.Set(ctx, ProfileKey("u1"), "p", 0))

	_, err := m.Get(ctx, ProfileKey("u1"))
	require.NoError(t, err)
	_, err = m.Get(ctx, QuizKey("u1", "go"))
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.Equal(t, 1, rec.hits["profile"])
	assert.Equal(t, 1, rec.misses["quiz"])
}

type countingRecorder struct {
	hits   map[string]int
	misses map[string]int
}

func (r *countingRecorder) CacheHit(class string)  { r.hits[class]++ }
func (r *countingRecorder) CacheMiss(class string) { r.misses[class]++ }

func TestKeyClass(t *testing.T) {
	assert.Equal(t, "profile", KeyClass(ProfileKey("u1")))
	assert.Equal(t, "mastery", KeyClass(MasteryKey("u1", "algebra")))
	assert.Equal(t, "quiz", KeyClass(QuizKey("u1", "go")))
	assert.Equal(t, "other", KeyClass("job:123"))
}
