package mapslicehelp

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/exp/constraints"
)

func LastElement[T any](elements []T) *T {
	length := len(elements)
	if length > 0 {
		return &elements[length-1]
	}
	return nil
}

func AsKeys[T constraints.Ordered](elements []T) map[T]any {
	mapped := make(map[T]any, len(elements))
	for _, element := range elements {
		mapped[element] = struct{}{}
	}
	return mapped
}

func OrderedMapKeys[K comparable, V any](m *orderedmap.OrderedMap[K, V]) []K {
	if m == nil {
		return nil
	}
	l := make([]K, m.Len())
	i := 0
	for p := m.Oldest(); p != nil; p = p.Next() {
		l[i] = p.Key
		i++
	}
	return l
}

// OrderedMapValues returns the values for keys, the zero value for absent keys.
func OrderedMapValues[K comparable, V any](m *orderedmap.OrderedMap[K, V], keys []K) []V {
	l := make([]V, len(keys))
	if m == nil {
		return l
	}
	for i, k := range keys {
		l[i], _ = m.Get(k)
	}
	return l
}

// MergeOrdered copies the pairs of src into dst, keeping the position of keys dst already has.
func MergeOrdered[K comparable, V any](dst, src *orderedmap.OrderedMap[K, V]) {
	if src == nil {
		return
	}
	for p := src.Oldest(); p != nil; p = p.Next() {
		dst.Set(p.Key, p.Value)
	}
}

func ReverseClone[S ~[]E, E any](s S) S {
	if s == nil {
		return nil
	}
	l := len(s)
	c := make(S, l)
	for i := 0; i < l; i++ {
		c[l-1-i] = s[i]
	}
	return c
}
