/*
 * Copyright 2016 ClusterHQ
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

package deltaengine

import (
	"github.com/sectorimg/imgdelta/sector"
	"github.com/sectorimg/imgdelta/signature"
)

// AnnotateChunks back-fills ChunkNo on every region of sig with the index
// of the output chunk (from chunkBoundaries, ascending and non-overlapping)
// that holds the region's first sector, setting signature.ChunkSpanBit
// when the region's data continues past that chunk's end. Chunk packing
// itself is outside this package; callers that do pack chunks (or that
// already know the chunk layout some other way) call this once packing
// decisions are final. Regions starting before the first chunk, after the
// last, or in a gap between chunks keep their existing ChunkNo (0 for a
// freshly computed signature) and are the caller's responsibility to
// reconcile against its packing scheme.
func AnnotateChunks(sig *signature.Signature, chunkBoundaries []sector.Range) {
	if sig == nil || len(chunkBoundaries) == 0 {
		return
	}

	chunkIdx := 0
	for i := range sig.Regions {
		r := &sig.Regions[i]
		for chunkIdx < len(chunkBoundaries)-1 && r.Start >= chunkBoundaries[chunkIdx].End() {
			chunkIdx++
		}
		if r.Start < chunkBoundaries[chunkIdx].Start || r.Start >= chunkBoundaries[chunkIdx].End() {
			continue
		}

		r.ChunkNo = int32(chunkIdx)
		if r.End() > chunkBoundaries[chunkIdx].End() {
			r.ChunkNo |= signature.ChunkSpanBit
		}
	}
}
