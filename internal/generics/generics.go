// Package generics holds small generic container helpers.
package generics

import (
	"cmp"
	"iter"
	"maps"
	"slices"
)

// Collect materializes a sequence into a slice.
func Collect[V any](seq iter.Seq[V]) []V {
	var result []V
	for v := range seq {
		result = append(result, v)
	}
	return result
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[Map ~map[K]V, K cmp.Ordered, V any](m Map) []K {
	keys := Collect(maps.Keys(m))
	slices.Sort(keys)
	return keys
}
