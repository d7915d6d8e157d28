package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_EmitInOrder(t *testing.T) {
	t.Parallel()

	var s Set[int]
	var got []string
	s.Add(func(v int) { got = append(got, "a") })
	s.Add(func(v int) { got = append(got, "b") })
	s.Add(func(v int) { got = append(got, "c") })

	s.Emit(1)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSet_Remove(t *testing.T) {
	t.Parallel()

	var s Set[string]
	calls := 0
	remove := s.Add(func(string) { calls++ })

	s.Emit("x")
	remove()
	remove()
	s.Emit("y")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, s.Len())
}

func TestSet_PanicIsContained(t *testing.T) {
	t.Parallel()

	var s Set[int]
	var got int
	s.Add(func(int) { panic("boom") })
	s.Add(func(v int) { got = v })

	assert.NotPanics(t, func() { s.Emit(7) })
	assert.Equal(t, 7, got)
}
