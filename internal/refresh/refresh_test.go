package refresh

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	c.now = c.now.Add(d)
	c.mutex.Unlock()
}

func newTestCache(clock *fakeClock) *Cache[int] {
	return New[int](Options{HardTTL: time.Minute, Now: clock.Now})
}

func counter() (func() (int, error), *atomic.Int32) {
	var calls atomic.Int32
	return func() (int, error) {
		return int(calls.Add(1)), nil
	}, &calls
}

func TestGetOrCreateCachesFreshValue(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(clock)
	create, calls := counter()

	first, err := cache.GetOrCreate("k", create)
	require.NoError(t, err)
	second, err := cache.GetOrCreate("k", create)
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSoftExpiryServesStaleAndRefreshesOnce(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(clock)
	create, calls := counter()

	_, err := cache.GetOrCreate("k", create)
	require.NoError(t, err)

	clock.Advance(40 * time.Second)
	for i := 0; i < 5; i++ {
		value, err := cache.GetOrCreate("k", create)
		require.NoError(t, err)
		assert.Equal(t, 1, value, "stale value is served during refresh")
	}
	cache.wait()

	assert.Equal(t, int32(2), calls.Load())
	value, err := cache.GetOrCreate("k", create)
	require.NoError(t, err)
	assert.Equal(t, 2, value)
}

func TestHardExpiryRecomputes(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(clock)
	create, calls := counter()

	_, err := cache.GetOrCreate("k", create)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	value, err := cache.GetOrCreate("k", create)
	require.NoError(t, err)
	assert.Equal(t, 2, value)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFailedCreateIsNotCached(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(clock)

	_, err := cache.GetOrCreate("k", func() (int, error) {
		return 0, errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())

	value, err := cache.GetOrCreate("k", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, value)
}

func TestFailedRefreshKeepsValueAndRetries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(clock)

	_, err := cache.GetOrCreate("k", func() (int, error) { return 1, nil })
	require.NoError(t, err)

	clock.Advance(45 * time.Second)
	failing := func() (int, error) { return 0, errors.New("boom") }
	value, err := cache.GetOrCreate("k", failing)
	require.NoError(t, err)
	assert.Equal(t, 1, value)
	cache.wait()

	value, err = cache.GetOrCreate("k", func() (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, value)
	cache.wait()

	value, err = cache.GetOrCreate("k", failing)
	require.NoError(t, err)
	assert.Equal(t, 2, value)
}

func TestConcurrentMissesShareComputation(t *testing.T) {
	cache := New[int](Options{})
	release := make(chan struct{})
	var calls atomic.Int32
	create := func() (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			value, err := cache.GetOrCreate("k", create)
			assert.NoError(t, err)
			results[index] = value
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, value := range results {
		assert.Equal(t, 42, value)
	}
}

func TestDefaultsAndInvalidate(t *testing.T) {
	cache := New[string](Options{SoftTTL: time.Hour})
	assert.Equal(t, DefaultHardTTL, cache.hardTTL)
	assert.Equal(t, DefaultHardTTL/2, cache.softTTL)

	_, err := cache.GetOrCreate("k", func() (string, error) { return "v", nil })
	require.NoError(t, err)
	cache.Invalidate("k")
	assert.Equal(t, 0, cache.Len())
}

func TestInvalidateDuringComputeDropsResult(t *testing.T) {
	cache := New[string](Options{})
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan string, 1)
	go func() {
		value, err := cache.GetOrCreate("k", func() (string, error) {
			close(started)
			<-release
			return "old", nil
		})
		assert.NoError(t, err)
		done <- value
	}()

	<-started
	cache.Invalidate("k")
	close(release)
	assert.Equal(t, "old", <-done, "the running computation still answers its caller")
	assert.Equal(t, 0, cache.Len())

	value, err := cache.GetOrCreate("k", func() (string, error) { return "new", nil })
	require.NoError(t, err)
	assert.Equal(t, "new", value)
}

func TestInvalidateStartsFreshComputation(t *testing.T) {
	cache := New[string](Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _ = cache.GetOrCreate("k", func() (string, error) {
			close(started)
			<-release
			return "old", nil
		})
	}()

	<-started
	cache.Invalidate("k")
	value, err := cache.GetOrCreate("k", func() (string, error) { return "new", nil })
	require.NoError(t, err)
	assert.Equal(t, "new", value)
}

// wait blocks until background refreshes have finished.
func (c *Cache[T]) wait() {
	c.background.Wait()
}
