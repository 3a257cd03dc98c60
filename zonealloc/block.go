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

import "encoding/binary"

// Zone layout, every field little-endian:
//
//	0   zone size   uint32
//	4   rover       uint32 (block offset where the next first-fit search starts)
//	8   sentinel    block header, size 0, always used
//	24  first block
//
// Block header:
//
//	+0  size   uint32 (header included)
//	+4  next   uint32
//	+8  prev   uint32
//	+12 state  uint8
//	+13 pad    uint8
//	+14 magic  uint16
//
// All metadata lives inside the zone bytes, so copying a zone verbatim copies its
// whole block list.
const (
	alignment       = 8
	blockHeaderSize = 16

	zoneSizeOff    = 0
	zoneRoverOff   = 4
	zoneHeaderSize = 8

	sentinelOffset     = zoneHeaderSize
	firstBlockOffset   = sentinelOffset + blockHeaderSize
	firstPayloadOffset = firstBlockOffset + blockHeaderSize

	hdrSize  = 0
	hdrNext  = 4
	hdrPrev  = 8
	hdrState = 12
	hdrMagic = 14

	blockMagic uint16 = 0x5A0E

	// MinFragment is the largest leftover that is granted with a block instead of
	// being split off as a new free block.
	MinFragment = 64

	// maxRequest bounds a single allocation so block sizes fit an int32.
	maxRequest = 1<<30 - blockHeaderSize
)

const (
	stateFree uint8 = 1
	stateUsed uint8 = 2
)

func alignUp(n int) int {
	return (n + alignment - 1) &^ (alignment - 1)
}

// blockSizeFor returns the block size, header included, that serves a payload of size bytes.
func blockSizeFor(size int) (uint32, error) {
	if size < 0 || size > maxRequest {
		return 0, ErrInvalidSize
	}
	return uint32(alignUp(size + blockHeaderSize)), nil
}

func (z *zone) u32(off uint32) uint32 {
	return binary.LittleEndian.Uint32(z.buf[off:])
}

func (z *zone) putU32(off, v uint32) {
	binary.LittleEndian.PutUint32(z.buf[off:], v)
}

func (z *zone) blockSize(b uint32) uint32 { return z.u32(b + hdrSize) }
func (z *zone) next(b uint32) uint32      { return z.u32(b + hdrNext) }
func (z *zone) prev(b uint32) uint32      { return z.u32(b + hdrPrev) }
func (z *zone) state(b uint32) uint8      { return z.buf[b+hdrState] }

func (z *zone) magic(b uint32) uint16 {
	return binary.LittleEndian.Uint16(z.buf[b+hdrMagic:])
}

func (z *zone) setBlockSize(b, v uint32) { z.putU32(b+hdrSize, v) }
func (z *zone) setNext(b, v uint32)      { z.putU32(b+hdrNext, v) }
func (z *zone) setPrev(b, v uint32)      { z.putU32(b+hdrPrev, v) }
func (z *zone) setState(b uint32, s uint8) {
	z.buf[b+hdrState] = s
}

func (z *zone) rover() uint32     { return z.u32(zoneRoverOff) }
func (z *zone) setRover(b uint32) { z.putU32(zoneRoverOff, b) }

func (z *zone) writeHeader(b, size, next, prev uint32, state uint8) {
	z.putU32(b+hdrSize, size)
	z.putU32(b+hdrNext, next)
	z.putU32(b+hdrPrev, prev)
	z.buf[b+hdrState] = state
	z.buf[b+hdrState+1] = 0
	binary.LittleEndian.PutUint16(z.buf[b+hdrMagic:], blockMagic)
}

// format turns the whole zone into one free block bounded by the sentinel.
func (z *zone) format() {
	size := uint32(len(z.buf))
	z.putU32(zoneSizeOff, size)
	z.writeHeader(sentinelOffset, 0, firstBlockOffset, firstBlockOffset, stateUsed)
	z.writeHeader(firstBlockOffset, size-firstBlockOffset, sentinelOffset, sentinelOffset, stateFree)
	z.setRover(firstBlockOffset)
}

// malloc finds the first free block of at least need bytes, starting at the rover.
// It returns the payload offset, or false when the zone has no such block.
func (z *zone) malloc(need uint32) (uint32, bool) {
	start := z.rover()
	b := start
	for {
		if z.state(b) == stateFree && z.blockSize(b) >= need {
			z.take(b, need)
			return b + blockHeaderSize, true
		}
		b = z.next(b)
		if b == start {
			return 0, false
		}
	}
}

// take marks the free block b used, splitting off the tail when more than
// MinFragment bytes would be left over.
func (z *zone) take(b, need uint32) {
	if extra := z.blockSize(b) - need; extra > MinFragment {
		tail := b + need
		next := z.next(b)
		z.writeHeader(tail, extra, next, b, stateFree)
		z.setPrev(next, tail)
		z.setNext(b, tail)
		z.setBlockSize(b, need)
	}
	z.setState(b, stateUsed)
	z.setRover(z.next(b))
}

// free releases the used block b and merges it with its free neighbours.
// The backward merge is skipped when freePrev is false so b keeps its offset.
// It returns the offset of the resulting free block.
func (z *zone) free(b uint32, freePrev bool) uint32 {
	z.setState(b, stateFree)
	if freePrev {
		// the sentinel is always used, so it is never merged
		if p := z.prev(b); z.state(p) == stateFree {
			z.absorb(p, b)
			b = p
		}
	}
	if n := z.next(b); z.state(n) == stateFree {
		z.absorb(b, n)
	}
	return b
}

// absorb merges block n into its predecessor b.
func (z *zone) absorb(b, n uint32) {
	z.setBlockSize(b, z.blockSize(b)+z.blockSize(n))
	nn := z.next(n)
	z.setNext(b, nn)
	z.setPrev(nn, b)
	if z.rover() == n {
		z.setRover(b)
	}
	// stale handles to n must not look like a live block
	binary.LittleEndian.PutUint16(z.buf[n+hdrMagic:], 0)
	z.buf[n+hdrState] = 0
}

// extend grows the used block b in place by absorbing its free successor.
// The caller holds the allocator lock across both steps.
func (z *zone) extend(b, need uint32) bool {
	n := z.next(b)
	if z.state(n) != stateFree || z.blockSize(b)+z.blockSize(n) < need {
		return false
	}
	z.free(b, false)
	z.take(b, need)
	return true
}

// empty reports whether the zone consists of a single free block.
func (z *zone) empty() bool {
	first := z.next(sentinelOffset)
	return z.state(first) == stateFree && z.next(first) == sentinelOffset
}

// blockOf returns the block header offset of a payload offset, or false when the
// offset cannot address a block of this zone.
func (z *zone) blockOf(off uint32) (uint32, bool) {
	if off < firstPayloadOffset || off%alignment != 0 || int(off) > len(z.buf) {
		return 0, false
	}
	return off - blockHeaderSize, true
}
