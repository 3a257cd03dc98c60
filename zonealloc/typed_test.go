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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vec3 struct {
	X, Y, Z float64
}

type entityRecord struct {
	ID      uint32
	Version uint16
	Flags   uint16
	Pos     vec3
	Parent  MemPtr
}

func TestAllocRef(t *testing.T) {
	a := newTestAllocator(t, MinZoneSize)
	p, err := Alloc[entityRecord](a)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int(a.Size(p)), int(unsafe.Sizeof(entityRecord{})+unsafe.Alignof(entityRecord{})))

	r := Ref[entityRecord](a, p)
	*r = entityRecord{ID: 7, Version: 2, Pos: vec3{1, 2, 3}, Parent: p}
	assert.Equal(t, uintptr(0), uintptr(unsafe.Pointer(r))%unsafe.Alignof(*r))

	// a second allocation does not disturb the first
	q, err := Alloc[entityRecord](a)
	require.NoError(t, err)
	Ref[entityRecord](a, q).ID = 8

	got := Ref[entityRecord](a, p)
	assert.Equal(t, uint32(7), got.ID)
	assert.Equal(t, vec3{1, 2, 3}, got.Pos)
	assert.Equal(t, p, got.Parent)
}

func TestRefAt(t *testing.T) {
	a := newTestAllocator(t, MinZoneSize)
	p, err := AllocArray[uint64](a, 4)
	require.NoError(t, err)
	*RefAt[uint64](a, p, 8) = 42
	assert.Equal(t, []uint64{0, 42, 0, 0}, Slice[uint64](a, p, 4))
}

func TestAllocArraySlice(t *testing.T) {
	a := newTestAllocator(t, MinZoneSize)
	p, err := AllocArray[int32](a, 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, a.Size(p), uint32(40))

	s := Slice[int32](a, p, 10)
	for i := range s {
		s[i] = int32(i * i)
	}
	mustAlloc(t, a, 16) // force ReallocArray to move

	p, err = ReallocArray[int32](a, p, 100)
	require.NoError(t, err)
	s = Slice[int32](a, p, 100)
	for i := 0; i < 10; i++ {
		assert.Equal(t, int32(i*i), s[i])
	}
	assert.Nil(t, Slice[int32](a, p, 0))
	assert.Panics(t, func() { Slice[int32](a, p, 1000) }, "beyond capacity")
	require.NoError(t, a.CheckHeap())
}

func TestMemOps(t *testing.T) {
	a := newTestAllocator(t, MinZoneSize)
	src := mustAlloc(t, a, 64)
	dst := mustAlloc(t, a, 64)
	fill(a.Resolve(src, 0)[:64], 1)

	a.MemCopy(dst, 8, src, 0, 32)
	assert.Equal(t, a.Resolve(src, 0)[:32], a.Resolve(dst, 8)[:32])
	assert.Equal(t, make([]byte, 8), a.Resolve(dst, 0)[:8])

	a.MemClear(dst, 8, 16)
	assert.Equal(t, make([]byte, 16), a.Resolve(dst, 8)[:16])
	assert.Equal(t, a.Resolve(src, 16)[:16], a.Resolve(dst, 24)[:16])

	// overlapping move inside one block
	a.MemMove(src, 4, src, 0, 32)
	want := make([]byte, 32)
	fill(want, 1)
	assert.Equal(t, want, a.Resolve(src, 4)[:32])

	assert.Panics(t, func() { a.MemCopy(src, 4, src, 0, 32) }, "overlap")
	assert.Panics(t, func() { a.MemClear(dst, 60, 16) }, "beyond capacity")

	a.MemCopy(dst, 0, src, 0, 0)
	a.MemMove(dst, 0, src, 0, 0)
	a.MemClear(dst, 0, 0)
}

func TestCheckedViewsStopAtBlock(t *testing.T) {
	a := newTestAllocator(t, MinZoneSize)
	p := mustAlloc(t, a, 64)
	q := mustAlloc(t, a, 64)
	fill(a.Resolve(q, 0)[:64], 5)

	v := a.Resolve(p, 0)
	assert.Len(t, v, 64)
	assert.Equal(t, 64, cap(v))
	assert.Equal(t, 24, cap(a.Resolve(p, 40)))

	assert.Panics(t, func() { _ = a.Resolve(p, 0)[:200] })
	assert.Panics(t, func() { Slice[uint64](a, p, 9) })
	assert.Panics(t, func() { RefAt[uint64](a, p, 60) })
	assert.Panics(t, func() { RefAt[uint64](a, p, 64) })
	assert.Panics(t, func() { a.MemClear(p, 60, 40) })
	assert.Panics(t, func() { a.MemCopy(p, 32, q, 0, 64) })
	assert.Panics(t, func() { a.MemMove(q, 0, p, 8, 64) })

	assert.Len(t, Slice[uint64](a, p, 8), 8)
	*RefAt[uint64](a, p, 56) = 1
	require.NoError(t, a.CheckHeap())
	verifyFill(t, a.Resolve(q, 0)[:64], 5)
}

func TestAllocArrayInvalidLength(t *testing.T) {
	a := newTestAllocator(t, MinZoneSize)
	p := mustAlloc(t, a, 8)
	tests := []struct {
		name string
		n    int
	}{
		{"negative", -1},
		{"wraps_to_zero", 1 << 61},
		{"wraps_to_small", 1<<61 + 1},
		{"over_max_request", maxRequest/8 + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AllocArray[int64](a, tt.n)
			assert.ErrorIs(t, err, ErrInvalidSize)
			_, err = ReallocArray[int64](a, p, tt.n)
			assert.ErrorIs(t, err, ErrInvalidSize)
		})
	}
	assert.True(t, a.Valid(p))

	// zero sized values never overflow
	z, err := AllocArray[struct{}](a, 1<<61)
	require.NoError(t, err)
	assert.True(t, z.IsValid())
}
