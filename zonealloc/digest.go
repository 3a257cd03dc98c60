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
	"encoding/binary"

	"github.com/bytedance/gopkg/util/xxhash3"
)

// Digest hashes the registry shape and every zone byte. Two allocators with the
// same digest hold the same state with overwhelming probability, which lets
// rollback code compare snapshots without a byte by byte walk.
// The version is not part of the digest.
func (a *Allocator) Digest() uint64 {
	a.lock.Lock()
	defer a.lock.Unlock()

	zones := a.zones()
	sums := make([]byte, 16*len(zones))
	for i, z := range zones {
		if z == nil {
			continue
		}
		binary.LittleEndian.PutUint64(sums[16*i:], uint64(z.size()))
		binary.LittleEndian.PutUint64(sums[16*i+8:], xxhash3.Hash(z.buf))
	}
	return xxhash3.Hash(sums)
}
