package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemory_SetGetDelete(t *testing.T) {
	c := NewMemory(time.Minute)
	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("k", []byte("v"), 0)
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, 1, c.Len())

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)

	c.Set("a", []byte("1"), 0)
	c.Set("b", []byte("2"), 0)
	c.Clear()
	assert.Zero(t, c.Len())
}

func TestMemory_Expiry(t *testing.T) {
	c := NewMemory(time.Minute)
	c.Set("k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestMemory_NonPositiveTTLStillExpires(t *testing.T) {
	for _, ttl := range []time.Duration{0, -time.Second} {
		c := NewMemory(ttl)
		c.Set("k", []byte("v"), 0)
		item, ok := c.cache.Items()["k"]
		assert.True(t, ok)
		assert.NotZero(t, item.Expiration, "ttl %v", ttl)
		assert.WithinDuration(t, time.Now().Add(DefaultTTL), time.Unix(0, item.Expiration), time.Minute)
	}
}

func TestKey(t *testing.T) {
	body := []byte(`{"problem":{}}`)
	a := Key("t1", "exhaustive", body)
	assert.Equal(t, a, Key("t1", "exhaustive", body))
	assert.NotEqual(t, a, Key("t2", "exhaustive", body))
	assert.NotEqual(t, a, Key("t1", "best-effort", body))
	assert.Contains(t, a, "vrpdiag:v1:")
}
