/*
 * Copyright 2016 ClusterHQ
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package rangelist holds an ordered, strictly non-overlapping,
// tail-coalescing sequence of sector ranges, and the iterator interface
// callers use to feed the delta engine the set of currently allocated
// disk ranges.
package rangelist

import (
	"github.com/sectorimg/imgdelta/sector"
)

type node struct {
	r    sector.Range
	next *node
}

// List is a forward-only, tail-tracked range list with a sentinel head that
// never coalesces, so Append never needs a nil check on the tail.
type List struct {
	head *node
	tail *node
}

// New returns an empty range list.
func New() *List {
	sentinel := &node{r: sector.Range{Start: sector.MaxSector, Size: 0}}
	return &List{head: sentinel, tail: sentinel}
}

// Append adds size sectors starting at start to the list. If the new range
// directly abuts the current tail, the tail grows in place (coalescing);
// otherwise a new tail node is allocated. size must be > 0.
func (l *List) Append(start sector.Sector, size uint32) error {
	r := sector.Range{Start: start, Size: size}
	if err := r.Validate(); err != nil {
		return err
	}

	if l.tail != l.head && l.tail.r.End() == start {
		l.tail.r.Size += size
		return nil
	}

	n := &node{r: r}
	l.tail.next = n
	l.tail = n
	return nil
}

// AppendRange is a convenience wrapper around Append.
func (l *List) AppendRange(r sector.Range) error {
	return l.Append(r.Start, r.Size)
}

// Ranges materializes the list into a plain slice, in ascending order.
func (l *List) Ranges() []sector.Range {
	var out []sector.Range
	for n := l.head.next; n != nil; n = n.next {
		out = append(out, n.r)
	}
	return out
}

// Len returns the number of (already-coalesced) entries in the list.
func (l *List) Len() int {
	n := 0
	for cur := l.head.next; cur != nil; cur = cur.next {
		n++
	}
	return n
}

// Free drops all nodes, returning the list to its initial empty state.
func (l *List) Free() {
	sentinel := &node{r: sector.Range{Start: sector.MaxSector, Size: 0}}
	l.head = sentinel
	l.tail = sentinel
}

// Iterator is the "input range list" interface external collaborators
// (filesystem free-space probes) implement to hand the delta engine the
// set of currently allocated sectors, in ascending non-overlapping order.
type Iterator interface {
	// Next returns the next range and true, or the zero Range and false
	// once the iterator is exhausted.
	Next() (sector.Range, bool)
}

// SliceIterator adapts a plain, already-sorted slice of ranges to Iterator.
// It is the typical way to feed a List (or a directly-constructed slice)
// into the delta engine.
type SliceIterator struct {
	ranges []sector.Range
	pos    int
}

var _ Iterator = (*SliceIterator)(nil)

// NewSliceIterator wraps ranges, which must already be sorted, non-overlapping
// and absolute.
func NewSliceIterator(ranges []sector.Range) *SliceIterator {
	return &SliceIterator{ranges: ranges}
}

// Next implements Iterator.
func (s *SliceIterator) Next() (sector.Range, bool) {
	if s.pos >= len(s.ranges) {
		return sector.Range{}, false
	}
	r := s.ranges[s.pos]
	s.pos++
	return r, true
}

// Drain reads every remaining range out of an Iterator into a slice. Used
// by callers materializing a whole Iterator up front for the delta engine,
// which takes its input as a slice so it can carve/split ranges during the
// walk.
func Drain(it Iterator) ([]sector.Range, error) {
	var out []sector.Range
	for {
		r, ok := it.Next()
		if !ok {
			break
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if len(out) > 0 {
			prev := out[len(out)-1]
			if r.Start < prev.End() {
				return nil, errOutOfOrder(prev, r)
			}
		}
		out = append(out, r)
	}
	return out, nil
}
