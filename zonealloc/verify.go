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

// BlockInfo describes one block reported by Walk.
type BlockInfo struct {
	Zone   uint32
	Offset uint32 // block header offset inside the zone
	Size   uint32 // header included
	Free   bool
}

// Ptr returns the handle of a used block.
func (b BlockInfo) Ptr() MemPtr {
	return MemPtr{ZoneID: b.Zone, Offset: b.Offset + blockHeaderSize}
}

// Stats is a snapshot of allocator usage. Sizes include block headers.
type Stats struct {
	Zones       int // live zones
	NullZones   int // freed registry slots
	Reserved    int
	Used        int
	Free        int
	UsedBlocks  int
	FreeBlocks  int
	LargestFree int
	Version     uint16
}

// Walk calls fn for every block of every zone in address order until fn returns false.
// fn must not call back into the allocator.
func (a *Allocator) Walk(fn func(BlockInfo) bool) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.walkLocked(fn)
}

func (a *Allocator) walkLocked(fn func(BlockInfo) bool) {
	for i, z := range a.zones() {
		if z == nil {
			continue
		}
		for b := z.next(sentinelOffset); b != sentinelOffset; b = z.next(b) {
			info := BlockInfo{Zone: uint32(i), Offset: b, Size: z.blockSize(b), Free: z.state(b) == stateFree}
			if !fn(info) {
				return
			}
		}
	}
}

// Stats walks every zone and returns usage figures.
func (a *Allocator) Stats() Stats {
	a.lock.Lock()
	defer a.lock.Unlock()

	s := Stats{Version: a.version}
	for _, z := range a.zones() {
		if z == nil {
			s.NullZones++
			continue
		}
		s.Zones++
		s.Reserved += z.size()
	}
	a.walkLocked(func(b BlockInfo) bool {
		if b.Free {
			s.Free += int(b.Size)
			s.FreeBlocks++
			if int(b.Size) > s.LargestFree {
				s.LargestFree = int(b.Size)
			}
		} else {
			s.Used += int(b.Size)
			s.UsedBlocks++
		}
		return true
	})
	return s
}

// ReservedSize returns the total size of all zones.
func (a *Allocator) ReservedSize() int {
	return a.Stats().Reserved
}

// UsedSize returns the total size of used blocks.
func (a *Allocator) UsedSize() int {
	return a.Stats().Used
}

// FreeSize returns the total size of free blocks.
func (a *Allocator) FreeSize() int {
	return a.Stats().Free
}

// CheckHeap verifies the structure of every zone: blocks tile the zone without
// gaps or overlaps, links are symmetric, no two free blocks are adjacent and the
// rover points at a block of the zone. It returns a *HeapError for the first
// problem found.
func (a *Allocator) CheckHeap() error {
	a.lock.Lock()
	defer a.lock.Unlock()
	for i, z := range a.zones() {
		if z == nil {
			continue
		}
		if err := z.check(); err != nil {
			err.Zone = uint32(i)
			return err
		}
	}
	return nil
}

func (z *zone) check() *HeapError {
	if len(z.buf) > MaxZoneSize {
		return &HeapError{Msg: "zone larger than MaxZoneSize"}
	}
	size := uint32(len(z.buf))
	if size < firstPayloadOffset || size%alignment != 0 {
		return &HeapError{Msg: "bad zone length"}
	}
	if z.u32(zoneSizeOff) != size {
		return &HeapError{Msg: "size field does not match zone length"}
	}
	if z.state(sentinelOffset) != stateUsed || z.blockSize(sentinelOffset) != 0 {
		return &HeapError{Offset: sentinelOffset, Msg: "bad sentinel"}
	}

	rover, roverFound := z.rover(), z.rover() == sentinelOffset
	prev, prevFree := uint32(sentinelOffset), false
	want := uint32(firstBlockOffset)
	for b := z.next(sentinelOffset); b != sentinelOffset; b = z.next(b) {
		if b != want {
			return &HeapError{Offset: b, Msg: "gap or overlap before block"}
		}
		if size-b < blockHeaderSize {
			return &HeapError{Offset: b, Msg: "header crosses zone end"}
		}
		bs := z.blockSize(b)
		if bs < blockHeaderSize || bs%alignment != 0 || bs > size-b {
			return &HeapError{Offset: b, Msg: "bad block size"}
		}
		if z.magic(b) != blockMagic {
			return &HeapError{Offset: b, Msg: "bad magic"}
		}
		if z.prev(b) != prev {
			return &HeapError{Offset: b, Msg: "prev link mismatch"}
		}
		free := false
		switch z.state(b) {
		case stateFree:
			free = true
		case stateUsed:
		default:
			return &HeapError{Offset: b, Msg: "bad block state"}
		}
		if free && prevFree {
			return &HeapError{Offset: b, Msg: "adjacent free blocks"}
		}
		if b == rover {
			roverFound = true
		}
		prev, prevFree = b, free
		want = b + bs
	}
	if want != size {
		return &HeapError{Msg: "blocks do not cover the zone"}
	}
	if z.prev(sentinelOffset) != prev {
		return &HeapError{Offset: sentinelOffset, Msg: "sentinel prev link mismatch"}
	}
	if !roverFound {
		return &HeapError{Offset: rover, Msg: "rover outside block list"}
	}
	return nil
}
