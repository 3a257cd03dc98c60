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
	"unsafe"
)

func sizeAlignOf[T any]() (int, int) {
	var v T
	return int(unsafe.Sizeof(v)), int(unsafe.Alignof(v))
}

// Alloc allocates a block for one T. An extra align-of-T bytes are reserved.
func Alloc[T any](a *Allocator) (MemPtr, error) {
	size, align := sizeAlignOf[T]()
	return a.Alloc(size + align)
}

// arrayBytes returns the byte size of n values of T, rejecting sizes that
// overflow or exceed a single allocation.
func arrayBytes[T any](n int) (int, error) {
	size, _ := sizeAlignOf[T]()
	if n < 0 || (size != 0 && n > maxRequest/size) {
		return 0, fmt.Errorf("%w: array of %d values of %d bytes", ErrInvalidSize, n, size)
	}
	return size * n, nil
}

// AllocArray allocates a block for n values of T.
func AllocArray[T any](a *Allocator, n int) (MemPtr, error) {
	size, err := arrayBytes[T](n)
	if err != nil {
		return NullPtr, err
	}
	return a.Alloc(size)
}

// ReallocArray resizes the block of p to hold n values of T.
func ReallocArray[T any](a *Allocator, p MemPtr, n int) (MemPtr, error) {
	size, err := arrayBytes[T](n)
	if err != nil {
		return NullPtr, err
	}
	return a.Realloc(p, size)
}

// Ref returns the T stored at the start of the block of p.
// The pointer must not be kept across calls that allocate, free or copy memory.
func Ref[T any](a *Allocator, p MemPtr) *T {
	return RefAt[T](a, p, 0)
}

// RefAt returns the T stored offset bytes into the block of p.
func RefAt[T any](a *Allocator, p MemPtr, offset int) *T {
	size, _ := sizeAlignOf[T]()
	v := a.Resolve(p, offset)[:size]
	return (*T)(unsafe.Pointer(unsafe.SliceData(v)))
}

// Slice returns the block of p as n values of T.
// The slice must not be kept across calls that allocate, free or copy memory.
func Slice[T any](a *Allocator, p MemPtr, n int) []T {
	if n == 0 {
		return nil
	}
	size, _ := sizeAlignOf[T]()
	v := a.Resolve(p, 0)[:size*n]
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(v))), n)
}

// MemCopy copies n bytes from src+srcOffset to dst+dstOffset. The ranges must not
// overlap; with BoundsCheck an overlap panics.
func (a *Allocator) MemCopy(dst MemPtr, dstOffset int, src MemPtr, srcOffset int, n int) {
	if n == 0 {
		return
	}
	d := a.Resolve(dst, dstOffset)[:n]
	s := a.Resolve(src, srcOffset)[:n]
	if a.boundsCheck && dst.ZoneID == src.ZoneID {
		do, so := int(dst.Offset)+dstOffset, int(src.Offset)+srcOffset
		if do < so+n && so < do+n {
			panic(fmt.Sprintf("zonealloc: MemCopy overlapping ranges %s+%d and %s+%d len %d",
				dst, dstOffset, src, srcOffset, n))
		}
	}
	copy(d, s)
}

// MemMove copies n bytes from src+srcOffset to dst+dstOffset. The ranges may overlap.
func (a *Allocator) MemMove(dst MemPtr, dstOffset int, src MemPtr, srcOffset int, n int) {
	if n == 0 {
		return
	}
	copy(a.Resolve(dst, dstOffset)[:n], a.Resolve(src, srcOffset)[:n])
}

// MemClear zeroes n bytes at dst+offset.
func (a *Allocator) MemClear(dst MemPtr, offset int, n int) {
	if n == 0 {
		return
	}
	clear(a.Resolve(dst, offset)[:n])
}
