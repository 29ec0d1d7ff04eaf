package cooldown

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/suggestd/pkg/models"
)

type item struct {
	hash string
	id   string
}

func (i item) ConceptKey() string { return i.hash }

// failingStore fails every call.
type failingStore struct{}

func (failingStore) ShownSince(context.Context, string, string, time.Time) (map[string]time.Time, error) {
	return nil, errors.New("store down")
}

func (failingStore) LastShown(context.Context, string, string, string) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("store down")
}

func (failingStore) Upsert(context.Context, models.CooldownEntry) error {
	return errors.New("store down")
}

type MemorySuite struct {
	suite.Suite
	store  *MemStore
	memory *Memory
	now    time.Time
	ctx    context.Context
}

func TestMemorySuite(t *testing.T) {
	suite.Run(t, new(MemorySuite))
}

func (s *MemorySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemStore()
	s.memory = NewMemory(s.store, zerolog.Nop())
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.memory.SetClock(func() time.Time { return s.now })
}

func (s *MemorySuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func (s *MemorySuite) TestKind() {
	s.Equal("goal:new", Kind(models.SurfaceGoal, StreamNew))
	s.Equal("habit:reinforcement", Kind(models.SurfaceHabit, StreamReinforcement))
}

func (s *MemorySuite) TestIsSuppressedWithinWindow() {
	s.memory.MarkShown(s.ctx, "u1", "goal:new", "abc", "c1")

	suppressed, err := s.memory.IsSuppressed(s.ctx, "u1", "goal:new", "abc", DefaultNewWindow)
	s.Require().NoError(err)
	s.True(suppressed)

	s.advance(DefaultNewWindow - time.Second)
	suppressed, err = s.memory.IsSuppressed(s.ctx, "u1", "goal:new", "abc", DefaultNewWindow)
	s.Require().NoError(err)
	s.True(suppressed)

	s.advance(2 * time.Second)
	suppressed, err = s.memory.IsSuppressed(s.ctx, "u1", "goal:new", "abc", DefaultNewWindow)
	s.Require().NoError(err)
	s.False(suppressed, "window elapsed")
}

func (s *MemorySuite) TestNamespacesAreIndependent() {
	s.memory.MarkShown(s.ctx, "u1", "goal:reinforcement", "abc", "g1")

	suppressed, err := s.memory.IsSuppressed(s.ctx, "u1", "goal:new", "abc", DefaultNewWindow)
	s.Require().NoError(err)
	s.False(suppressed)

	suppressed, err = s.memory.IsSuppressed(s.ctx, "u2", "goal:reinforcement", "abc", DefaultReinforcementWindow)
	s.Require().NoError(err)
	s.False(suppressed, "other users are unaffected")
}

func (s *MemorySuite) TestMarkShownIsIdempotent() {
	s.memory.MarkShown(s.ctx, "u1", "goal:new", "abc", "c1")
	s.memory.MarkShown(s.ctx, "u1", "goal:new", "abc", "c1")
	s.Equal(1, s.store.Len())
}

func (s *MemorySuite) TestGuardNonEmptyKeepsSingleSuppressedItem() {
	s.memory.MarkShown(s.ctx, "u1", "goal:new", "h1", "c1")

	res := Filter(s.ctx, s.memory, "u1", "goal:new", DefaultNewWindow, []item{{hash: "h1", id: "c1"}}, GuardNonEmpty)
	s.True(res.Bypassed)
	s.Equal([]item{{hash: "h1", id: "c1"}}, res.Kept)
	s.Empty(res.Suppressed)
}

func (s *MemorySuite) TestDayOneSuppressionWhenAnotherItemSurvives() {
	// Day 0: A is shown.
	res := Filter(s.ctx, s.memory, "u1", "goal:new", DefaultNewWindow, []item{{hash: "hA", id: "A"}}, GuardNonEmpty)
	s.Require().Len(res.Kept, 1)
	s.memory.MarkShown(s.ctx, "u1", "goal:new", "hA", "A")

	// Day 1: A and B are candidates; only B is shown.
	s.advance(24 * time.Hour)
	res = Filter(s.ctx, s.memory, "u1", "goal:new", DefaultNewWindow, []item{{hash: "hA", id: "A"}, {hash: "hB", id: "B"}}, GuardNonEmpty)
	s.False(res.Bypassed)
	s.Equal([]item{{hash: "hB", id: "B"}}, res.Kept)
	s.Equal([]item{{hash: "hA", id: "A"}}, res.Suppressed)

	// Day 4: the window has elapsed.
	s.advance(3 * 24 * time.Hour)
	res = Filter(s.ctx, s.memory, "u1", "goal:new", DefaultNewWindow, []item{{hash: "hA", id: "A"}, {hash: "hB", id: "B"}}, GuardNonEmpty)
	s.Len(res.Kept, 2)
}

func (s *MemorySuite) TestAllowEmptyReturnsNothing() {
	s.memory.MarkShown(s.ctx, "u1", "goal:reinforcement", "h1", "g1")

	res := Filter(s.ctx, s.memory, "u1", "goal:reinforcement", DefaultReinforcementWindow, []item{{hash: "h1", id: "g1"}}, AllowEmpty)
	s.False(res.Bypassed)
	s.Empty(res.Kept)
	s.Len(res.Suppressed, 1)
}

func (s *MemorySuite) TestEmptyInput() {
	res := Filter[item](s.ctx, s.memory, "u1", "goal:new", DefaultNewWindow, nil, GuardNonEmpty)
	s.Empty(res.Kept)
	s.False(res.Bypassed)
}

func TestFilter_StoreFailureDisablesSuppression(t *testing.T) {
	m := NewMemory(failingStore{}, zerolog.Nop())
	items := []item{{hash: "h1"}, {hash: "h2"}}

	res := Filter(context.Background(), m, "u1", "goal:new", DefaultNewWindow, items, AllowEmpty)
	assert.Equal(t, items, res.Kept)

	_, err := m.IsSuppressed(context.Background(), "u1", "goal:new", "h1", DefaultNewWindow)
	assert.Error(t, err)

	// Write failures are swallowed.
	m.MarkShown(context.Background(), "u1", "goal:new", "h1", "c1")
}

func TestWindows(t *testing.T) {
	w := DefaultWindows()
	assert.Equal(t, 3*24*time.Hour, w.For(StreamNew))
	assert.Equal(t, 7*24*time.Hour, w.For(StreamReinforcement))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("SUGGESTD_TEST_REDIS")
	if addr == "" {
		t.Skip("SUGGESTD_TEST_REDIS not set")
	}

	pool := NewRedisPool(addr, 2)
	store := NewRedisStore(pool, "suggestd-test-"+time.Now().Format("150405.000"), time.Hour)
	defer store.Close()

	ctx := context.Background()
	shownAt := time.Now().Truncate(time.Second)

	_, ok, err := store.LastShown(ctx, "u1", "goal:new", "h1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Upsert(ctx, models.CooldownEntry{UserID: "u1", Kind: "goal:new", ConceptHash: "h1", ItemID: "c1", LastShownAt: shownAt}))
	require.NoError(t, store.Upsert(ctx, models.CooldownEntry{UserID: "u1", Kind: "goal:new", ConceptHash: "h1", ItemID: "c1", LastShownAt: shownAt}))

	last, ok, err := store.LastShown(ctx, "u1", "goal:new", "h1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, last.Equal(shownAt))

	shown, err := store.ShownSince(ctx, "u1", "goal:new", shownAt.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, shown, 1)

	shown, err = store.ShownSince(ctx, "u1", "goal:new", shownAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, shown)
}

func TestRedisStore_TrimsExpiredConcepts(t *testing.T) {
	addr := os.Getenv("SUGGESTD_TEST_REDIS")
	if addr == "" {
		t.Skip("SUGGESTD_TEST_REDIS not set")
	}

	pool := NewRedisPool(addr, 2)
	store := NewRedisStore(pool, "suggestd-trim-"+time.Now().Format("150405.000"), time.Hour)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	require.NoError(t, store.Upsert(ctx, models.CooldownEntry{UserID: "u1", Kind: "goal:new", ConceptHash: "old", ItemID: "c0", LastShownAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, store.Upsert(ctx, models.CooldownEntry{UserID: "u1", Kind: "goal:new", ConceptHash: "fresh", ItemID: "c1", LastShownAt: now}))

	_, ok, err := store.LastShown(ctx, "u1", "goal:new", "old")
	require.NoError(t, err)
	assert.False(t, ok, "entries older than the ttl are trimmed")

	conn := pool.Get()
	defer conn.Close()
	exists, err := redis.Bool(conn.Do("HEXISTS", store.itemsKey("u1", "goal:new"), "old"))
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = redis.Bool(conn.Do("HEXISTS", store.itemsKey("u1", "goal:new"), "fresh"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRedisStore_UpsertReportsFailedCommand(t *testing.T) {
	addr := os.Getenv("SUGGESTD_TEST_REDIS")
	if addr == "" {
		t.Skip("SUGGESTD_TEST_REDIS not set")
	}

	pool := NewRedisPool(addr, 2)
	store := NewRedisStore(pool, "suggestd-wrongtype-"+time.Now().Format("150405.000"), time.Hour)
	defer store.Close()

	conn := pool.Get()
	defer conn.Close()
	_, err := conn.Do("SET", store.itemsKey("u1", "goal:new"), "not a hash")
	require.NoError(t, err)

	err = store.Upsert(context.Background(), models.CooldownEntry{UserID: "u1", Kind: "goal:new", ConceptHash: "h1", ItemID: "c1", LastShownAt: time.Now()})
	assert.Error(t, err, "WRONGTYPE inside the transaction is not success")
}

func TestExecError(t *testing.T) {
	assert.NoError(t, execError([]any{int64(1), int64(0), int64(1)}))
	assert.NoError(t, execError(nil))

	err := execError([]any{int64(1), redis.Error("WRONGTYPE Operation against a key holding the wrong kind of value")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command 1")
	assert.Contains(t, err.Error(), "WRONGTYPE")
}
