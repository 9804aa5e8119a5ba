package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locallens/resolve-cli/internal/model"
)

func result(addr string) *model.PipelineResult {
	return &model.PipelineResult{RawAddress: addr, Fused: 0.8}
}

func TestKey_NormalizesAddress(t *testing.T) {
	assert.Equal(t, Key("12 MG Road", nil), Key("  12   mg ROAD  ", nil))
}

func TestKey_AddonOrderInsensitive(t *testing.T) {
	a := Key("12 MG Road", []string{"safety", "deliverability"})
	b := Key("12 MG Road", []string{"deliverability", "safety"})
	assert.Equal(t, a, b)
}

func TestKey_AddonSetChangesKey(t *testing.T) {
	assert.NotEqual(t, Key("12 MG Road", nil), Key("12 MG Road", []string{"safety"}))
}

func TestKey_PunctuationInAddressDoesNotCollide(t *testing.T) {
	// An address containing separator-looking punctuation must not produce
	// the same key as a different address with addons.
	assert.NotEqual(t, Key("12 mg road|safety", nil), Key("12 mg road", []string{"safety"}))
	assert.NotEqual(t, Key("12 mg road,deliverability", []string{"safety"}),
		Key("12 mg road", []string{"deliverability", "safety"}))
}

func TestGetPut(t *testing.T) {
	c := New(10, time.Minute)

	key := Key("12 MG Road", nil)
	assert.Nil(t, c.Get(key))

	c.Put(key, result("12 MG Road"))
	got := c.Get(key)
	require.NotNil(t, got)
	assert.Equal(t, "12 MG Road", got.RawAddress)
}

func TestTTLExpiration(t *testing.T) {
	c := New(10, 30*time.Millisecond)

	key := Key("12 MG Road", nil)
	c.Put(key, result("12 MG Road"))
	require.NotNil(t, c.Get(key))

	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, c.Get(key))

	// Expired entry is fully removed.
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCapacityEviction(t *testing.T) {
	c := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("addr-%d", i), result("x"))
	}
	// Touch addr-0 so addr-1 becomes the LRU entry.
	require.NotNil(t, c.Get("addr-0"))

	c.Put("addr-3", result("x"))

	assert.NotNil(t, c.Get("addr-0"))
	assert.Nil(t, c.Get("addr-1"))
	assert.NotNil(t, c.Get("addr-2"))
	assert.NotNil(t, c.Get("addr-3"))
	assert.Equal(t, 3, c.Stats().Entries)
}

func TestPutSameKeyUpdates(t *testing.T) {
	c := New(10, time.Minute)

	c.Put("k", result("old"))
	c.Put("k", result("new"))

	got := c.Get("k")
	require.NotNil(t, got)
	assert.Equal(t, "new", got.RawAddress)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestStats(t *testing.T) {
	c := New(10, time.Minute)

	c.Put("k", result("x"))
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	s := c.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 0.0001)
	assert.Equal(t, 10, s.Capacity)
}

func TestPurge(t *testing.T) {
	c := New(10, time.Minute)

	c.Put("a", result("x"))
	c.Put("b", result("y"))
	c.Purge()

	assert.Equal(t, 0, c.Stats().Entries)
	assert.Nil(t, c.Get("a"))
}

func TestConcurrentAccess(t *testing.T) {
	c := New(100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("addr-%d", j%50)
				if j%2 == 0 {
					c.Put(key, result(key))
				} else {
					c.Get(key)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Stats().Entries, 100)
}

func TestNewDefaults(t *testing.T) {
	c := New(0, 0)
	s := c.Stats()
	assert.Equal(t, 1000, s.Capacity)
}
