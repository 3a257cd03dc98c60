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

// Package zonealloc implements a relocatable, zone based memory allocator.
//
// Memory is handed out as MemPtr handles made of a zone id and an offset, never
// as pointers, so every handle stays valid when zones are added, removed, copied
// with CopyFrom or rebuilt by Deserialize. Blocks are carved from zones with a
// first-fit search that starts at a per-zone rover, split when the leftover is
// larger than MinFragment and coalesced with free neighbours on Free.
//
// Alloc, Realloc and Free serialize through one spin lock per Allocator. Resolve,
// Ref, Slice and the Mem* helpers take no lock: callers must not write the same
// handle from two goroutines at once.
//
// Types used with Ref, Slice and the generic helpers must not contain Go pointers.
package zonealloc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Allocator is a heap made of one or more zones.
type Allocator struct {
	lock spinLock
	reg  atomic.Pointer[registry]

	initialSize int
	zoneLimit   int
	version     uint16

	boundsCheck bool
	clearZones  bool
	res         resolver
	src         ZoneSource
	logger      *slog.Logger
}

// NewAllocator creates an allocator holding one empty zone of opt.InitialSize bytes.
// A nil opt uses DefaultOption.
func NewAllocator(opt *Option) (*Allocator, error) {
	a := newAllocator(opt)
	z, err := a.createZone(a.initialSize)
	if err != nil {
		return nil, err
	}
	a.addZone(z, false)
	a.logger.Debug("zone created", slog.Uint64("zone", 0), slog.Int("size", z.size()))
	return a, nil
}

// newAllocator returns an allocator with an empty registry.
func newAllocator(opt *Option) *Allocator {
	o := opt.normalize()
	a := &Allocator{
		initialSize: o.InitialSize,
		zoneLimit:   o.SnapshotZoneLimit,
		boundsCheck: o.BoundsCheck,
		clearZones:  o.ClearZones,
		src:         o.Source,
		logger:      o.Logger,
	}
	if o.BoundsCheck {
		a.res = checkedResolver{}
	} else {
		a.res = fastResolver{}
	}
	a.reg.Store(&registry{})
	return a
}

// Alloc allocates a block with room for size bytes. A new zone of
// max(size, InitialSize) is added when no existing zone has enough free space.
// The payload is not zeroed.
func (a *Allocator) Alloc(size int) (MemPtr, error) {
	need, err := blockSizeFor(size)
	if err != nil {
		return NullPtr, fmt.Errorf("%w: alloc %d bytes", err, size)
	}
	a.lock.Lock()
	p, err := a.allocLocked(need)
	a.lock.Unlock()
	return p, err
}

func (a *Allocator) allocLocked(need uint32) (MemPtr, error) {
	for i, z := range a.zones() {
		if z == nil {
			continue
		}
		if off, ok := z.malloc(need); ok {
			return MemPtr{ZoneID: uint32(i), Offset: off}, nil
		}
	}

	size := int(need) + firstBlockOffset
	if size < a.initialSize {
		size = a.initialSize
	}
	z, err := a.createZone(size)
	if err != nil {
		return NullPtr, err
	}
	id := a.addZone(z, true)
	a.logger.Debug("zone created", slog.Uint64("zone", uint64(id)), slog.Int("size", z.size()))

	off, ok := z.malloc(need)
	if !ok {
		panic("zonealloc: new zone cannot hold the request")
	}
	return MemPtr{ZoneID: id, Offset: off}, nil
}

// usedBlock locates the used block of p. A block that is not in use is reported
// with ErrDoubleFree. The caller holds the lock.
func (a *Allocator) usedBlock(p MemPtr) (*zone, uint32, error) {
	zones := a.zones()
	if !p.IsValid() || int(p.ZoneID) >= len(zones) || zones[p.ZoneID] == nil {
		return nil, 0, invalidHandle(p, "unknown zone")
	}
	z := zones[p.ZoneID]
	b, ok := z.blockOf(p.Offset)
	if !ok {
		return nil, 0, invalidHandle(p, "offset out of zone")
	}
	if a.boundsCheck && z.magic(b) != blockMagic {
		return nil, 0, invalidHandle(p, "no block header")
	}
	if z.state(b) != stateUsed {
		return nil, 0, fmt.Errorf("%w: %s", ErrDoubleFree, p)
	}
	return z, b, nil
}

// Free releases the block of p and reports whether p addressed a block.
// A zone left without used blocks is released. Freeing a block twice panics;
// with BoundsCheck other invalid handles panic too.
func (a *Allocator) Free(p MemPtr) bool {
	a.lock.Lock()
	defer a.lock.Unlock()

	z, b, err := a.usedBlock(p)
	if err != nil {
		if a.boundsCheck || errors.Is(err, ErrDoubleFree) {
			panic(err)
		}
		return false
	}
	z.free(b, true)
	if z.empty() {
		a.releaseZone(p.ZoneID, z)
	}
	return true
}

// Realloc resizes the block of p to hold size bytes and returns its handle.
//
// The handle is unchanged when the block already has the capacity, or when the
// following free block can absorb the growth. Otherwise the payload moves to a
// new block and p is freed. Callers must always continue with the returned handle.
// A null p behaves like Alloc.
func (a *Allocator) Realloc(p MemPtr, size int) (MemPtr, error) {
	if !p.IsValid() {
		return a.Alloc(size)
	}
	need, err := blockSizeFor(size)
	if err != nil {
		return NullPtr, fmt.Errorf("%w: realloc %s to %d bytes", err, p, size)
	}

	a.lock.Lock()
	z, b, err := a.usedBlock(p)
	if err != nil {
		a.lock.Unlock()
		if a.boundsCheck || errors.Is(err, ErrDoubleFree) {
			panic(err)
		}
		return NullPtr, err
	}
	have := z.blockSize(b)
	if have >= need || z.extend(b, need) {
		a.lock.Unlock()
		return p, nil
	}
	np, err := a.allocLocked(need)
	a.lock.Unlock()
	if err != nil {
		return NullPtr, err
	}

	a.MemMove(np, 0, p, 0, int(have-blockHeaderSize))
	a.Free(p)
	return np, nil
}

// Size returns the payload capacity of the block of p, which may exceed the
// requested size.
func (a *Allocator) Size(p MemPtr) uint32 {
	z, b, err := lookup(a.zones(), p)
	if err != nil {
		if a.boundsCheck {
			panic(err)
		}
		return 0
	}
	return z.blockSize(b) - blockHeaderSize
}

// Resolve returns the bytes of p starting at offset. The view is only valid until
// the next call that allocates, frees or copies memory.
//
// With BoundsCheck the view ends at the block capacity and invalid handles panic.
func (a *Allocator) Resolve(p MemPtr, offset int) []byte {
	return a.res.resolve(a.zones(), p)[offset:]
}

// Valid reports whether p addresses a block in use.
func (a *Allocator) Valid(p MemPtr) bool {
	_, _, err := lookup(a.zones(), p)
	return err == nil
}

// Version is incremented every time the allocator is overwritten by CopyFrom.
func (a *Allocator) Version() uint16 {
	return a.version
}

// InitialSize returns the minimum zone size.
func (a *Allocator) InitialSize() int {
	return a.initialSize
}

// ZoneCount returns the number of registry slots, freed zones included.
func (a *Allocator) ZoneCount() int {
	return len(a.zones())
}

// Dispose releases every zone. The allocator is empty afterwards and
// grows again on the next Alloc.
func (a *Allocator) Dispose() {
	a.lock.Lock()
	defer a.lock.Unlock()
	for _, z := range a.zones() {
		a.freeZone(z)
	}
	a.reg.Store(&registry{})
}
