package shield

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-shield/internal/shield/domain"
	"github.com/haukened/rr-shield/internal/shield/session"
)

func TestRegistry_AddLookup(t *testing.T) {
	r := NewRegistry()
	a, b := session.NewMemory("a"), session.NewMemory("b")

	idA, added := r.Add(a)
	assert.True(t, added)
	idB, added := r.Add(b)
	assert.True(t, added)
	assert.NotEqual(t, idA, idB)

	again, added := r.Add(a)
	assert.False(t, added)
	assert.Equal(t, idA, again)
	assert.Equal(t, 2, r.Len())

	got, ok := r.Lookup(b)
	require.True(t, ok)
	assert.Equal(t, idB, got)

	_, ok = r.Lookup(session.NewMemory("c"))
	assert.False(t, ok)
}

func TestRegistry_InvalidateAndForEach(t *testing.T) {
	r := NewRegistry()
	s := []*session.Memory{session.NewMemory("a"), session.NewMemory("b"), session.NewMemory("c")}
	for _, x := range s {
		r.Add(x)
	}
	idB, _ := r.Lookup(s[1])
	r.Invalidate(idB)
	r.Invalidate(SessionID(99))

	var seen []domain.Session
	r.ForEach(func(id SessionID, sess domain.Session) {
		seen = append(seen, sess)
		// callbacks may re-enter the registry
		r.Invalidate(id)
	})
	assert.Equal(t, []domain.Session{s[0], s[2]}, seen)
	assert.Equal(t, 0, r.Len())

	_, ok := r.Lookup(s[1])
	assert.False(t, ok)

	id, added := r.Add(s[1])
	assert.True(t, added, "invalidated entries can be revived")
	assert.Equal(t, idB, id)
	assert.Equal(t, 1, r.Len())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "acquiring", StateAcquiring.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "rebuilding", StateRebuilding.String())
	assert.Equal(t, "unknown", State(42).String())
}
