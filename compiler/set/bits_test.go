package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitsBasic(t *testing.T) {
	s := MakeBits(1, 65, 129)

	assert.True(t, s.IsSet(1))
	assert.True(t, s.IsSet(65))
	assert.True(t, s.IsSet(129))
	assert.False(t, s.IsSet(2))
	assert.Equal(t, 3, s.Size())

	s.Clear(65)
	assert.False(t, s.IsSet(65))
	assert.Equal(t, 2, s.Size())
}

func TestBitsMerge(t *testing.T) {
	a := MakeBits(1, 2)
	b := MakeBits(2, 200)

	changed := a.Merge(b)
	assert.True(t, changed)
	assert.Equal(t, 3, a.Size())

	changed = a.Merge(b)
	assert.False(t, changed)
}

func TestBitsEqualRange(t *testing.T) {
	a := MakeBits(3, 70)
	b := MakeBits(3)

	assert.False(t, a.Equal(b))

	b.Set(70)
	assert.True(t, a.Equal(b))

	got := []int(nil)
	a.Range(func(k int) bool {
		got = append(got, k)
		return true
	})

	assert.Equal(t, []int{3, 70}, got)
}

func TestBitsIntersects(t *testing.T) {
	a := MakeBits(5, 100)
	b := MakeBits(100)
	c := MakeBits(6)

	assert.True(t, a.Intersects(b))
	assert.False(t, a.Intersects(c))
}

func TestBitsCopy(t *testing.T) {
	a := MakeBits(1, 99)
	b := a.Copy()

	b.Set(2)

	assert.False(t, a.IsSet(2))
	assert.True(t, b.IsSet(99))
}
