// ABOUTME: Tests for the TTL dedupe cache
// ABOUTME: Duplicate detection, TTL expiry, and size-bound eviction

package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_FirstSightIsNotDuplicate(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Close()

	assert.False(t, c.Seen("e1"))
	assert.True(t, c.Seen("e1"))
	assert.False(t, c.Seen("e2"), "distinct ids are independent")
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	defer c.Close()

	assert.False(t, c.Seen("e1"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.Seen("e1"), "an expired id reads as fresh")
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 2)
	defer c.Close()

	assert.False(t, c.Seen("e1"))
	assert.False(t, c.Seen("e2"))
	assert.False(t, c.Seen("e3"), "e3 evicts e1")

	assert.False(t, c.Seen("e1"), "evicted id reads as fresh")
	assert.True(t, c.Seen("e3"))
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	assert.NotPanics(t, func() { c.Close() })
}

func TestCache_ConcurrentSeen(t *testing.T) {
	c := New(time.Minute, 1024)
	defer c.Close()

	done := make(chan int, 8)
	for i := 0; i < 8; i++ {
		go func() {
			dups := 0
			if c.Seen("shared") {
				dups++
			}
			done <- dups
		}()
	}

	total := 0
	for i := 0; i < 8; i++ {
		total += <-done
	}
	assert.Equal(t, 7, total, "exactly one goroutine wins the first sight")
}
