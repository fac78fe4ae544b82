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

// Package blockhash is the block hasher (C7): it seeks a disk image to a
// sector range, reads it with retry-on-short-read, applies any overlapping
// fixups, and digests the result. It is the only package that touches the
// disk file directly on the read side.
package blockhash

import (
	"io"
	"os"

	"github.com/sectorimg/imgdelta/fixup"
	"github.com/sectorimg/imgdelta/hashkind"
	"github.com/sectorimg/imgdelta/internal/ferrors"
	"github.com/sectorimg/imgdelta/sector"
)

// HashRange reads [start, start+size) from disk, applies any fixups that
// overlap it, and returns the digest of the (possibly patched) bytes. size
// must not exceed hashBlockSize: the delta engine never asks for more than
// one hash block at a time. scratch, if long enough, is reused to avoid an
// allocation per call; otherwise HashRange allocates its own buffer.
func HashRange(disk *os.File, start sector.Sector, size uint32, hashBlockSize uint32, kind hashkind.Kind, fixups fixup.Set, scratch []byte) ([]byte, error) {
	if size > hashBlockSize {
		return nil, ferrors.Wrap(ferrors.ErrBadSignature,
			"hash range of %d sectors exceeds hash block size %d", size, hashBlockSize)
	}

	r := sector.Range{Start: start, Size: size}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	byteStart := r.ByteStart()
	byteSize := r.ByteSize()

	buf := scratch
	if int64(cap(buf)) < byteSize {
		buf = make([]byte, byteSize)
	} else {
		buf = buf[:byteSize]
	}

	if err := readFullAt(disk, buf, byteStart); err != nil {
		return nil, err
	}

	if fixups != nil && fixups.HasFixup(start, size) {
		if err := fixups.Apply(uint64(byteStart), uint64(byteSize), buf); err != nil {
			return nil, err
		}
	}

	return hashkind.Compute(kind, buf)
}

// readFullAt seeks to off and reads len(buf) bytes, retrying on short reads
// (a disk device may legitimately return less than requested per call) and
// failing with ErrShortRead if EOF arrives before buf is full.
func readFullAt(f *os.File, buf []byte, off int64) error {
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return ferrors.Wrap(ferrors.ErrIoError, "seeking to byte %d: %v", off, err)
	}

	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if err == io.EOF {
				return ferrors.Wrap(ferrors.ErrShortRead,
					"read %d of %d bytes at offset %d before EOF", total, len(buf), off)
			}
			return ferrors.Wrap(ferrors.ErrIoError, "reading at offset %d: %v", off, err)
		}
		if n == 0 {
			return ferrors.Wrap(ferrors.ErrShortRead,
				"read returned 0 bytes with %d of %d remaining at offset %d", len(buf)-total, len(buf), off)
		}
	}
	return nil
}
