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

import "strconv"

// MemPtr is a relocatable handle to a block allocated by an Allocator.
//
// It is the only reference that stays valid while zones are added, removed or
// copied. Raw views returned by Resolve, Ref or Slice must not be kept across any
// call that may allocate, reallocate, free, copy or deserialize.
type MemPtr struct {
	ZoneID uint32
	Offset uint32
}

// NullPtr is the zero handle. It never refers to an allocation.
var NullPtr = MemPtr{}

// IsValid reports whether p may refer to an allocation.
// Offset zero is reserved inside every zone.
func (p MemPtr) IsValid() bool {
	return p.Offset != 0
}

func (p MemPtr) String() string {
	if !p.IsValid() {
		return "MemPtr(null)"
	}
	return "MemPtr(" + strconv.FormatUint(uint64(p.ZoneID), 10) + ":" +
		strconv.FormatUint(uint64(p.Offset), 10) + ")"
}
