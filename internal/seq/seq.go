// Package seq has small helpers over ordered slices: moving an element and
// order-preserving set operations.
package seq

import (
	"errors"
	"fmt"
)

var ErrInvalidMove = errors.New("invalid move")

// Move relocates the element at from to index to, shifting the elements in
// between one slot toward from. Both indices must be in range.
func Move[T any](s []T, from, to int) {
	if from < 0 || from >= len(s) || to < 0 || to >= len(s) {
		panic(fmt.Sprintf("seq.Move: index out of range [%d -> %d] with length %d", from, to, len(s)))
	}
	if from == to {
		return
	}
	moved := s[from]
	if from < to {
		for i := from; i < to; i++ {
			s[i] = s[i+1]
		}
	} else {
		for i := from; i > to; i-- {
			s[i] = s[i-1]
		}
	}
	s[to] = moved
}

// CheckMove validates moving the element at index by delta within a slice of
// length n and returns the target index.
func CheckMove(n, index, delta int) (int, error) {
	switch {
	case index < 0 || index >= n:
		return 0, fmt.Errorf("%w: index %d out of range", ErrInvalidMove, index)
	case delta == 0:
		return 0, fmt.Errorf("%w: zero move", ErrInvalidMove)
	case index+delta < 0 || index+delta >= n:
		return 0, fmt.Errorf("%w: %d by %d leaves [0, %d)", ErrInvalidMove, index, delta, n)
	}
	return index + delta, nil
}

// Index returns the position of v in s, or -1.
func Index[T comparable](s []T, v T) int {
	for i, e := range s {
		if e == v {
			return i
		}
	}
	return -1
}

func Contains[T comparable](s []T, v T) bool {
	return Index(s, v) >= 0
}

// Dedupe returns s without repeated elements, keeping first occurrences.
func Dedupe[T comparable](s []T) []T {
	seen := make(map[T]struct{}, len(s))
	out := make([]T, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Difference returns the elements of a missing from b, in a's order.
func Difference[T comparable](a, b []T) []T {
	exclude := NewSet(b...)
	out := make([]T, 0, len(a))
	for _, v := range a {
		if !exclude.Has(v) {
			out = append(out, v)
		}
	}
	return out
}

// Intersection returns the elements of a also in b, in a's order.
func Intersection[T comparable](a, b []T) []T {
	include := NewSet(b...)
	out := make([]T, 0, len(a))
	for _, v := range a {
		if include.Has(v) {
			out = append(out, v)
		}
	}
	return out
}

// Union returns a followed by the elements of b not in a, without repeats.
func Union[T comparable](a, b []T) []T {
	return Dedupe(append(append(make([]T, 0, len(a)+len(b)), a...), b...))
}

// Remove returns s without any occurrence of v.
func Remove[T comparable](s []T, v T) []T {
	out := make([]T, 0, len(s))
	for _, e := range s {
		if e != v {
			out = append(out, e)
		}
	}
	return out
}

// SameSet reports whether a and b hold the same distinct elements.
func SameSet[T comparable](a, b []T) bool {
	as, bs := NewSet(a...), NewSet(b...)
	if len(as) != len(bs) {
		return false
	}
	for v := range as {
		if !bs.Has(v) {
			return false
		}
	}
	return true
}

type Set[T comparable] map[T]struct{}

func NewSet[T comparable](values ...T) Set[T] {
	s := make(Set[T], len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

func (s Set[T]) Add(v T) {
	s[v] = struct{}{}
}
