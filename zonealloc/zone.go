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
	"log/slog"
)

// MinZoneSize is the floor applied to Option.InitialSize.
const MinZoneSize = 4 << 10

// MaxZoneSize is the largest zone, one block of the largest request. Zone sizes
// are stored as 32 bit fields in the zone header and the snapshot stream.
const MaxZoneSize = maxRequest + blockHeaderSize + firstBlockOffset

// minRegistryCap is the smallest capacity of a grown zone registry.
const minRegistryCap = 4

type zone struct {
	buf []byte
}

func (z *zone) size() int {
	return len(z.buf)
}

// registry is the immutable zone table. Mutations publish a new registry so
// lock-free resolves never observe a partially updated slice.
type registry struct {
	zones []*zone
}

func (a *Allocator) zones() []*zone {
	return a.reg.Load().zones
}

// newZoneBuffer obtains size bytes from the source without formatting them.
func (a *Allocator) newZoneBuffer(size int) (*zone, error) {
	buf, err := a.src.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("%w: zone of %d bytes: %v", ErrOutOfMemory, size, err)
	}
	if len(buf) < size {
		return nil, fmt.Errorf("%w: source returned %d bytes, want %d", ErrOutOfMemory, len(buf), size)
	}
	buf = buf[:size]
	if a.clearZones {
		clear(buf)
	}
	return &zone{buf: buf}, nil
}

// createZone returns a zone holding one free block, at least minSize bytes long.
func (a *Allocator) createZone(minSize int) (*zone, error) {
	size := alignUp(minSize)
	if size < firstPayloadOffset {
		size = firstPayloadOffset
	}
	z, err := a.newZoneBuffer(size)
	if err != nil {
		return nil, err
	}
	z.format()
	return z, nil
}

// growZone returns a zone of newSize bytes holding the same blocks at the same
// offsets as z. The added space extends the trailing block when it is free,
// otherwise it becomes a new trailing free block. z is released when replaced.
func (a *Allocator) growZone(z *zone, newSize int) (*zone, error) {
	newSize = alignUp(newSize)
	if newSize <= z.size() {
		return z, nil
	}
	nz, err := a.newZoneBuffer(newSize)
	if err != nil {
		return nil, err
	}
	old := uint32(copy(nz.buf, z.buf))
	delta := uint32(newSize) - old

	last := nz.prev(sentinelOffset)
	if nz.state(last) == stateFree || delta < blockHeaderSize {
		nz.setBlockSize(last, nz.blockSize(last)+delta)
	} else {
		nz.writeHeader(old, delta, sentinelOffset, last, stateFree)
		nz.setNext(last, old)
		nz.setPrev(sentinelOffset, old)
	}
	nz.putU32(zoneSizeOff, uint32(newSize))
	a.freeZone(z)
	return nz, nil
}

// freeZone returns the zone memory to its source.
func (a *Allocator) freeZone(z *zone) {
	if z == nil || z.buf == nil {
		return
	}
	a.src.Free(z.buf)
	z.buf = nil
}

// addZone registers z and returns its zone id. With reuseNulls the first empty
// slot is reused, keeping ids dense. The caller holds the lock.
func (a *Allocator) addZone(z *zone, reuseNulls bool) uint32 {
	zones := a.zones()
	if reuseNulls {
		for i, x := range zones {
			if x == nil {
				a.setZone(uint32(i), z)
				return uint32(i)
			}
		}
	}
	c := cap(zones)
	if len(zones) == c {
		c *= 2
		if c < minRegistryCap {
			c = minRegistryCap
		}
	}
	nz := make([]*zone, len(zones)+1, c)
	copy(nz, zones)
	nz[len(zones)] = z
	a.reg.Store(&registry{zones: nz})
	return uint32(len(zones))
}

// setZone replaces the zone at id. The caller holds the lock.
func (a *Allocator) setZone(id uint32, z *zone) {
	zones := a.zones()
	nz := make([]*zone, len(zones), cap(zones))
	copy(nz, zones)
	nz[id] = z
	a.reg.Store(&registry{zones: nz})
}

// releaseZone unregisters and frees an empty zone. The caller holds the lock.
func (a *Allocator) releaseZone(id uint32, z *zone) {
	a.setZone(id, nil)
	size := z.size()
	a.freeZone(z)
	a.logger.Debug("zone freed", slog.Uint64("zone", uint64(id)), slog.Int("size", size))
}
