package mapslicehelp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func TestLastElement(t *testing.T) {
	assert.Nil(t, LastElement([]int{}))
	last := LastElement([]int{1, 2, 3})
	if assert.NotNil(t, last) {
		assert.Equal(t, 3, *last)
	}
}

func TestAsKeys(t *testing.T) {
	keys := AsKeys([]string{"a", "b", "a"})
	assert.Len(t, keys, 2)
	assert.Contains(t, keys, "b")
}

func TestOrderedMap(t *testing.T) {
	m := orderedmap.New[string, int]()
	m.Set("z", 1)
	m.Set("a", 2)
	assert.Equal(t, []string{"z", "a"}, OrderedMapKeys(m))
	assert.Nil(t, OrderedMapKeys[string, int](nil))
	assert.Equal(t, []int{2, 0, 1}, OrderedMapValues(m, []string{"a", "missing", "z"}))

	src := orderedmap.New[string, int]()
	src.Set("b", 3)
	src.Set("z", 4)
	MergeOrdered(m, src)
	assert.Equal(t, []string{"z", "a", "b"}, OrderedMapKeys(m))
	assert.Equal(t, []int{4, 2, 3}, OrderedMapValues(m, OrderedMapKeys(m)))
	MergeOrdered(m, nil)
	assert.Equal(t, 3, m.Len())
}

func TestReverseClone(t *testing.T) {
	tests := []struct {
		name string
		in   [][2]float64
		want [][2]float64
	}{
		{name: "nil", in: nil, want: nil},
		{name: "single", in: [][2]float64{{1, 1}}, want: [][2]float64{{1, 1}}},
		{name: "ring", in: [][2]float64{{0, 0}, {1, 0}, {1, 1}}, want: [][2]float64{{1, 1}, {1, 0}, {0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := append([][2]float64(nil), tt.in...)
			assert.Equal(t, tt.want, ReverseClone(tt.in))
			assert.Equal(t, in, tt.in)
		})
	}
}
