package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndDone(t *testing.T) {
	r := NewSessionRegistry()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Register("session-1", "evt-1", cancel)
	r.Register("session-1", "evt-2", cancel)
	assert.Equal(t, 2, r.Active("session-1"))

	r.Done("session-1", "evt-1")
	assert.Equal(t, 1, r.Active("session-1"))
	r.Done("session-1", "evt-2")
	assert.Equal(t, 0, r.Active("session-1"))

	// Unknown entries are ignored.
	r.Done("session-9", "evt-1")
}

func TestSessionRegistry_RemoveCancelsWatches(t *testing.T) {
	r := NewSessionRegistry()
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	ctx3, cancel3 := context.WithCancel(context.Background())
	defer cancel3()

	r.Register("session-1", "evt-1", cancel1)
	r.Register("session-1", "evt-2", cancel2)
	r.Register("session-2", "evt-3", cancel3)

	r.Remove("session-1")

	assert.ErrorIs(t, ctx1.Err(), context.Canceled)
	assert.ErrorIs(t, ctx2.Err(), context.Canceled)
	assert.NoError(t, ctx3.Err())
	assert.Equal(t, 0, r.Active("session-1"))
	assert.Equal(t, 1, r.Active("session-2"))
}
