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

package zonealloc

import (
	"fmt"
	"math/bits"
	"sync"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// ArenaSource carves zones out of one preallocated arena with a buddy system.
// Zones are rounded up to a power of two between MinZoneSize and the maximum
// zone size. When the arena is exhausted Alloc fails, which bounds the memory
// of every allocator sharing the source. It is safe for concurrent use, so an
// allocator and its clones may share one ArenaSource.
type ArenaSource struct {
	mu       sync.Mutex
	arena    []byte
	start    uintptr
	maxOrder int
	// free holds the offsets of free blocks per order, order 0 being MinZoneSize.
	free []map[int]struct{}
	// used maps the offset of every handed out block to its order.
	used map[int]int
}

var minZoneShift = bits.TrailingZeros(uint(MinZoneSize))

// NewArenaSource returns a source managing arenaSize bytes. maxZoneSize must be
// a power of two no less than MinZoneSize and arenaSize a multiple of it.
func NewArenaSource(arenaSize, maxZoneSize int) (*ArenaSource, error) {
	if maxZoneSize < MinZoneSize || maxZoneSize&(maxZoneSize-1) != 0 {
		return nil, fmt.Errorf("%w: max zone size %d is not a power of two >= %d",
			ErrInvalidSize, maxZoneSize, MinZoneSize)
	}
	if arenaSize < maxZoneSize || arenaSize%maxZoneSize != 0 {
		return nil, fmt.Errorf("%w: arena size %d is not a multiple of %d",
			ErrInvalidSize, arenaSize, maxZoneSize)
	}
	s := &ArenaSource{
		arena:    dirtmake.Bytes(arenaSize, arenaSize),
		maxOrder: bits.TrailingZeros(uint(maxZoneSize)) - minZoneShift,
		used:     make(map[int]int),
	}
	s.start = uintptr(unsafe.Pointer(unsafe.SliceData(s.arena)))
	s.free = make([]map[int]struct{}, s.maxOrder+1)
	for i := range s.free {
		s.free[i] = make(map[int]struct{})
	}
	for off := 0; off < arenaSize; off += maxZoneSize {
		s.free[s.maxOrder][off] = struct{}{}
	}
	return s, nil
}

func (s *ArenaSource) blockSize(order int) int {
	return MinZoneSize << order
}

func orderFor(size int) int {
	if size <= MinZoneSize {
		return 0
	}
	return bits.Len(uint(size-1)) - minZoneShift
}

// Alloc returns size bytes of the arena. The capacity of the returned buffer is
// the whole buddy block.
func (s *ArenaSource) Alloc(size int) ([]byte, error) {
	order := orderFor(size)
	if order > s.maxOrder {
		return nil, fmt.Errorf("zone of %d bytes exceeds arena block of %d", size, s.blockSize(s.maxOrder))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	found := -1
	for o := order; o <= s.maxOrder; o++ {
		if len(s.free[o]) > 0 {
			found = o
			break
		}
	}
	if found < 0 {
		return nil, fmt.Errorf("arena exhausted, %d of %d bytes free", s.availableLocked(), len(s.arena))
	}
	off := s.pop(found)
	// split, the upper halves stay free
	for found > order {
		found--
		s.free[found][off+s.blockSize(found)] = struct{}{}
	}
	s.used[off] = order
	return s.arena[off : off+size : off+s.blockSize(order)], nil
}

// pop takes the lowest free offset of order so the arena fills from the front.
func (s *ArenaSource) pop(order int) int {
	off := -1
	for o := range s.free[order] {
		if off < 0 || o < off {
			off = o
		}
	}
	delete(s.free[order], off)
	return off
}

// Free returns a zone to the arena, merging it with its free buddies.
// It panics if buf was not handed out by s or was already freed.
func (s *ArenaSource) Free(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	off := int(uintptr(unsafe.Pointer(unsafe.SliceData(buf))) - s.start)

	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.used[off]
	if !ok || off < 0 || off >= len(s.arena) {
		panic("zonealloc: arena double free or foreign zone")
	}
	delete(s.used, off)
	for ; order < s.maxOrder; order++ {
		buddy := off ^ s.blockSize(order)
		if _, free := s.free[order][buddy]; !free {
			break
		}
		delete(s.free[order], buddy)
		off &^= s.blockSize(order)
	}
	s.free[order][off] = struct{}{}
}

// Available returns the free bytes of the arena.
func (s *ArenaSource) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availableLocked()
}

func (s *ArenaSource) availableLocked() int {
	n := 0
	for o, m := range s.free {
		n += len(m) * s.blockSize(o)
	}
	return n
}
