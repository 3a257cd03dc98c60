/*
 * Copyright 2025 CloudWeGo Authors
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

// Package zlist implements a growable array that lives entirely inside a
// zonealloc.Allocator. A List is a handle, so lists can be stored in other
// allocator blocks and survive Clone, CopyFrom and Serialize of their allocator.
package zlist

import (
	"github.com/cloudwego/memzone/zonealloc"
)

const minGrowCap = 4

type header struct {
	len  uint32
	cap  uint32
	data zonealloc.MemPtr
}

// List is a handle to a list of V in an allocator.
// type V must NOT contain pointers, the allocator memory is not scanned by the GC.
type List[V any] struct {
	p zonealloc.MemPtr
}

// New allocates an empty list with room for capacity items.
func New[V any](a *zonealloc.Allocator, capacity int) (List[V], error) {
	p, err := zonealloc.Alloc[header](a)
	if err != nil {
		return List[V]{}, err
	}
	data := zonealloc.NullPtr
	if capacity > 0 {
		if data, err = zonealloc.AllocArray[V](a, capacity); err != nil {
			a.Free(p)
			return List[V]{}, err
		}
	}
	*zonealloc.Ref[header](a, p) = header{cap: uint32(capacity), data: data}
	return List[V]{p: p}, nil
}

// FromHandle returns the list whose header block is p.
func FromHandle[V any](p zonealloc.MemPtr) List[V] {
	return List[V]{p: p}
}

// Handle returns the handle of the list header.
func (l List[V]) Handle() zonealloc.MemPtr {
	return l.p
}

func (l List[V]) header(a *zonealloc.Allocator) *header {
	return zonealloc.Ref[header](a, l.p)
}

// Len returns the number of items.
func (l List[V]) Len(a *zonealloc.Allocator) int {
	return int(l.header(a).len)
}

// Cap returns the number of items the list holds without growing.
func (l List[V]) Cap(a *zonealloc.Allocator) int {
	return int(l.header(a).cap)
}

// Items returns the items as a slice. It must not be kept across calls that
// allocate, free or copy memory of a.
func (l List[V]) Items(a *zonealloc.Allocator) []V {
	h := l.header(a)
	return zonealloc.Slice[V](a, h.data, int(h.len))
}

// Get returns the ith item.
func (l List[V]) Get(a *zonealloc.Allocator, i int) (v V, ok bool) {
	items := l.Items(a)
	if i < 0 || i >= len(items) {
		return v, false
	}
	return items[i], true
}

// Set replaces the ith item.
func (l List[V]) Set(a *zonealloc.Allocator, i int, v V) bool {
	items := l.Items(a)
	if i < 0 || i >= len(items) {
		return false
	}
	items[i] = v
	return true
}

// Append adds v at the end, doubling the capacity when the list is full.
// The item block may move; the list handle stays valid.
func (l List[V]) Append(a *zonealloc.Allocator, v V) error {
	h := *l.header(a)
	if h.len == h.cap {
		ncap := int(h.cap) * 2
		if ncap < minGrowCap {
			ncap = minGrowCap
		}
		data, err := zonealloc.ReallocArray[V](a, h.data, ncap)
		if err != nil {
			return err
		}
		h.data, h.cap = data, uint32(ncap)
	}
	h.len++
	*l.header(a) = h
	zonealloc.Slice[V](a, h.data, int(h.len))[h.len-1] = v
	return nil
}

// RemoveAtSwapBack removes the ith item by moving the last item into its place.
func (l List[V]) RemoveAtSwapBack(a *zonealloc.Allocator, i int) bool {
	h := l.header(a)
	items := zonealloc.Slice[V](a, h.data, int(h.len))
	if i < 0 || i >= len(items) {
		return false
	}
	items[i] = items[len(items)-1]
	h.len--
	return true
}

// Do calls f on each item in order.
func (l List[V]) Do(a *zonealloc.Allocator, f func(i int, v *V)) {
	items := l.Items(a)
	for i := range items {
		f(i, &items[i])
	}
}

// Reset empties the list and keeps its capacity.
func (l List[V]) Reset(a *zonealloc.Allocator) {
	l.header(a).len = 0
}

// Dispose frees the items and the header. l must not be used afterwards.
func (l List[V]) Dispose(a *zonealloc.Allocator) {
	if !l.p.IsValid() {
		return
	}
	if data := l.header(a).data; data.IsValid() {
		a.Free(data)
	}
	a.Free(l.p)
}
