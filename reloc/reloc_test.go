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

package reloc_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorimg/imgdelta/reloc"
	"github.com/sectorimg/imgdelta/sector"
)

// rawEncode builds a wire-format relocation entry directly, independent of
// the package's own (unexported) codec, so round-trip tests aren't
// circular.
func rawEncode(width sector.Width, rel reloc.Relocation) []byte {
	if width == sector.Width32 {
		buf := make([]byte, 12)
		putUint32LE(buf[0:4], uint32(rel.Type))
		putUint32LE(buf[4:8], uint32(rel.Sector))
		putUint16LE(buf[8:10], rel.SectOff)
		putUint16LE(buf[10:12], rel.Size)
		return buf
	}
	buf := make([]byte, 16)
	putUint32LE(buf[0:4], uint32(rel.Type))
	putUint64LE(buf[4:12], uint64(rel.Sector))
	putUint16LE(buf[12:14], rel.SectOff)
	putUint16LE(buf[14:16], rel.Size)
	return buf
}

func rawEncodeAll(width sector.Width, entries []reloc.Relocation) []byte {
	var out []byte
	for _, e := range entries {
		out = append(out, rawEncode(width, e)...)
	}
	return out
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func putUint16LE(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// TestAddFromChunkHeaderRoundTrip verifies that extracting a table's
// entries into a chunk-header payload and re-parsing them with
// AddFromChunkHeader recovers the same relocations, for both supported
// widths.
func TestAddFromChunkHeaderRoundTrip(t *testing.T) {
	for _, width := range []sector.Width{sector.Width32, sector.Width64} {
		entries := []reloc.Relocation{
			{Type: reloc.FBSDDisklabel, Sector: 10, SectOff: 0, Size: 4},
			{Type: reloc.AddPartitionOffset, Sector: 20, SectOff: 8, Size: 2},
		}

		src := reloc.NewTable()
		hdr := reloc.ChunkHeader{RelocCount: uint32(len(entries))}
		require.NoError(t, src.AddFromChunkHeader(hdr, width, rawEncodeAll(width, entries)))

		var extractHdr reloc.ChunkHeader
		payload := src.ExtractIntoChunkHeader(&extractHdr, 0, 100)
		assert.Equal(t, uint32(len(entries)), extractHdr.RelocCount)

		dst := reloc.NewTable()
		require.NoError(t, dst.AddFromChunkHeader(extractHdr, width, payload))
		assert.Equal(t, entries, dst.Entries())
	}
}

func TestValidateRejectsOutOfSectorSpan(t *testing.T) {
	r := reloc.Relocation{Sector: 5, SectOff: 500, Size: 100}
	require.Error(t, r.Validate())
}

func TestAddFromChunkHeaderRejectsShortPayload(t *testing.T) {
	table := reloc.NewTable()
	hdr := reloc.ChunkHeader{RelocCount: 2}
	err := table.AddFromChunkHeader(hdr, sector.Width32, make([]byte, 4))
	require.Error(t, err)
}

func TestAddFromChunkHeaderPinsWidth(t *testing.T) {
	table := reloc.NewTable()
	hdr := reloc.ChunkHeader{RelocCount: 0}
	require.NoError(t, table.AddFromChunkHeader(hdr, sector.Width32, nil))
	assert.Equal(t, sector.Width32, table.Width())

	err := table.AddFromChunkHeader(hdr, sector.Width64, nil)
	require.Error(t, err)
}

func TestAddFromChunkHeaderRejectsDecreasingSectors(t *testing.T) {
	entries := []reloc.Relocation{
		{Type: reloc.FBSDDisklabel, Sector: 50, Size: 1},
		{Type: reloc.FBSDDisklabel, Sector: 10, Size: 1},
	}
	table := reloc.NewTable()
	hdr := reloc.ChunkHeader{RelocCount: uint32(len(entries))}
	err := table.AddFromChunkHeader(hdr, sector.Width32, rawEncodeAll(sector.Width32, entries))
	require.Error(t, err)
}

func writeRaw(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}

// TestWriteFileReadFileRoundTrip verifies a table written with WriteFile
// reloads with ReadFile to an equal set of entries and the same pinned
// width.
func TestWriteFileReadFileRoundTrip(t *testing.T) {
	entries := []reloc.Relocation{
		{Type: reloc.FBSDDisklabel, Sector: 10, SectOff: 0, Size: 4},
		{Type: reloc.XOR16Checksum, Sector: 30, SectOff: 2, Size: 2},
	}
	src := reloc.NewTable()
	hdr := reloc.ChunkHeader{RelocCount: uint32(len(entries))}
	require.NoError(t, src.AddFromChunkHeader(hdr, sector.Width64, rawEncodeAll(sector.Width64, entries)))

	path := filepath.Join(t.TempDir(), "relocs.bin")
	require.NoError(t, src.WriteFile(path))

	loaded, err := reloc.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sector.Width64, loaded.Width())
	assert.Equal(t, entries, loaded.Entries())
}

func TestReadFileRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	require.NoError(t, writeRaw(path, []byte("xxxx\x00\x00\x00\x00\x00\x00\x00\x00")))
	_, err := reloc.ReadFile(path)
	require.Error(t, err)
}

func TestInrange(t *testing.T) {
	entries := []reloc.Relocation{
		{Type: reloc.FBSDDisklabel, Sector: 10, Size: 1},
		{Type: reloc.FBSDDisklabel, Sector: 50, Size: 1},
	}
	table := reloc.NewTable()
	hdr := reloc.ChunkHeader{RelocCount: uint32(len(entries))}
	require.NoError(t, table.AddFromChunkHeader(hdr, sector.Width32, rawEncodeAll(sector.Width32, entries)))

	assert.Equal(t, 1, table.Inrange(0, 20))
	assert.Equal(t, 2, table.Inrange(0, 60))
	assert.Equal(t, 0, table.Inrange(100, 10))
}
