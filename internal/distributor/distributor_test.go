package distributor

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributeFanOut(t *testing.T) {
	d := New(zerolog.Nop())

	var mu sync.Mutex
	received := make(map[int][]byte)

	for i := 0; i < 5; i++ {
		i := i
		d.AddConsumer(func(frame []byte) {
			mu.Lock()
			defer mu.Unlock()
			received[i] = frame
		})
	}

	d.Distribute([]byte("hello"))

	require.Len(t, received, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, []byte("hello"), received[i])
	}
}

func TestConsumerPanicIsolation(t *testing.T) {
	d := New(zerolog.Nop())

	var calledB, calledC bool
	a := func(frame []byte) { panic("boom") }
	b := func(frame []byte) { calledB = true }
	c := func(frame []byte) { calledC = true }

	d.AddConsumer(a)
	d.AddConsumer(b)
	d.AddConsumer(c)

	require.NotPanics(t, func() {
		d.Distribute([]byte("x"))
	})
	assert.True(t, calledB)
	assert.True(t, calledC)
}

// TestAddConsumerDistinctRegistrationsPerCall pins testable property 4: N
// AddConsumer calls, even ones wrapping the same function literal, each
// produce an independent registration that a single Distribute invokes
// exactly once.
func TestAddConsumerDistinctRegistrationsPerCall(t *testing.T) {
	d := New(zerolog.Nop())
	count := 0
	fn := func(frame []byte) { count++ }

	tok1 := d.AddConsumer(fn)
	tok2 := d.AddConsumer(fn)
	require.NotEqual(t, tok1, tok2)
	require.Equal(t, 2, d.Len())

	d.Distribute([]byte("x"))
	assert.Equal(t, 2, count)
}

func TestRemoveConsumerIdempotent(t *testing.T) {
	d := New(zerolog.Nop())
	fn := func(frame []byte) {}

	d.RemoveConsumer(Token(999)) // no-op, not registered

	tok := d.AddConsumer(fn)
	require.Equal(t, 1, d.Len())

	d.RemoveConsumer(tok)
	d.RemoveConsumer(tok) // second remove is a no-op
	assert.Equal(t, 0, d.Len())
}

// TestRemoveConsumerByTokenIsPrecise verifies that removing one
// registration's token does not disturb a second registration built from
// the same function literal.
func TestRemoveConsumerByTokenIsPrecise(t *testing.T) {
	d := New(zerolog.Nop())
	count := 0
	fn := func(frame []byte) { count++ }

	tok1 := d.AddConsumer(fn)
	d.AddConsumer(fn)

	d.RemoveConsumer(tok1)
	require.Equal(t, 1, d.Len())

	d.Distribute([]byte("x"))
	assert.Equal(t, 1, count)
}
