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

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sectorimg/imgdelta/internal/ferrors"
	"github.com/sectorimg/imgdelta/rangelist"
	"github.com/sectorimg/imgdelta/sector"
)

// readRangesFile parses a plain "start size" per line description of the
// sectors a caller considers currently allocated, standing in for the
// filesystem-specific free-space probe this module doesn't own.
func readRangesFile(path string) ([]sector.Range, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrIoError, "opening ranges file %s: %v", path, err)
	}
	defer f.Close()

	var ranges []sector.Range
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, ferrors.Wrap(ferrors.ErrBadSignature, "%s:%d: expected \"start size\", got %q", path, lineNo, line)
		}
		start, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.ErrBadSignature, "%s:%d: bad start sector %q: %v", path, lineNo, fields[0], err)
		}
		size, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.ErrBadSignature, "%s:%d: bad size %q: %v", path, lineNo, fields[1], err)
		}
		ranges = append(ranges, sector.Range{Start: sector.Sector(start), Size: uint32(size)})
	}
	if err := scanner.Err(); err != nil {
		return nil, ferrors.Wrap(ferrors.ErrIoError, "reading ranges file %s: %v", path, err)
	}

	return rangelist.Drain(rangelist.NewSliceIterator(ranges))
}

func writeRangesFile(path string, ranges []sector.Range) error {
	f, err := os.Create(path)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrIoError, "creating ranges file %s: %v", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, r := range ranges {
		if _, err := fmt.Fprintf(w, "%d %d\n", uint64(r.Start), r.Size); err != nil {
			return ferrors.Wrap(ferrors.ErrIoError, "writing ranges file %s: %v", path, err)
		}
	}
	return w.Flush()
}
