package pipeline

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}

	a := g.NewID()
	b := g.NewID()

	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("id-1", "id-2")

	assert.Equal(t, "id-1", g.NewID())
	assert.Equal(t, "id-2", g.NewID())
	assert.Panics(t, func() { g.NewID() }, "exhausted generator should panic")
}
