package types

import (
	"fmt"
	"sort"

	"github.com/mitchellh/hashstructure"
)

type Hashable interface {
	Hash() string
}

type (
	// Set keeps unique elements keyed by their hash. Elements implementing
	// Hashable control their own identity, everything else is hashed structurally.
	Set[T comparable] struct {
		hash    map[string]nothing
		storage map[string]T
	}

	nothing struct{}
)

func NewSet[T comparable](initial ...T) *Set[T] {
	s := &Set[T]{
		hash:    make(map[string]nothing),
		storage: make(map[string]T),
	}

	s.Insert(initial...)
	return s
}

func (st *Set[T]) Hash(elem T) string {
	if hashable, yes := any(elem).(Hashable); yes {
		return hashable.Hash()
	}

	uniqueHash, err := hashstructure.Hash(elem, nil)
	if err != nil {
		return fmt.Sprint(elem)
	}

	return fmt.Sprintf("%d", uniqueHash)
}

func (st *Set[T]) Exists(element T) bool {
	_, exists := st.hash[st.Hash(element)]
	return exists
}

func (st *Set[T]) Insert(elements ...T) {
	for _, elem := range elements {
		hash := st.Hash(elem)
		if _, exists := st.hash[hash]; exists {
			continue
		}

		st.hash[hash] = nothing{}
		st.storage[hash] = elem
	}
}

func (st *Set[T]) Len() int {
	return len(st.hash)
}

// Array returns the elements ordered by hash so repeated calls are stable.
func (st *Set[T]) Array() []T {
	keys := make([]string, 0, len(st.storage))
	for k := range st.storage {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	arr := make([]T, 0, len(keys))
	for _, k := range keys {
		arr = append(arr, st.storage[k])
	}

	return arr
}
