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

package rangelist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorimg/imgdelta/rangelist"
	"github.com/sectorimg/imgdelta/sector"
)

// TestListCoalesces verifies that appending an adjacent range grows the
// tail node in place instead of allocating a new entry.
func TestListCoalesces(t *testing.T) {
	l := rangelist.New()
	require.NoError(t, l.Append(0, 10))
	require.NoError(t, l.Append(10, 5))
	require.NoError(t, l.Append(20, 5))

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, []sector.Range{
		{Start: 0, Size: 15},
		{Start: 20, Size: 5},
	}, l.Ranges())
}

func TestListRejectsZeroSize(t *testing.T) {
	l := rangelist.New()
	require.Error(t, l.Append(0, 0))
}

func TestListFree(t *testing.T) {
	l := rangelist.New()
	require.NoError(t, l.Append(0, 10))
	l.Free()
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Ranges())
}

func TestDrainOrdered(t *testing.T) {
	ranges := []sector.Range{
		{Start: 0, Size: 10},
		{Start: 10, Size: 5},
		{Start: 100, Size: 1},
	}
	out, err := rangelist.Drain(rangelist.NewSliceIterator(ranges))
	require.NoError(t, err)
	assert.Equal(t, ranges, out)
}

// TestDrainRejectsOverlap verifies that the delta engine's input feed is
// rejected outright rather than silently reordered when ranges arrive
// overlapping or out of order.
func TestDrainRejectsOverlap(t *testing.T) {
	ranges := []sector.Range{
		{Start: 10, Size: 10},
		{Start: 15, Size: 5},
	}
	_, err := rangelist.Drain(rangelist.NewSliceIterator(ranges))
	require.Error(t, err)
}

func TestDrainEmpty(t *testing.T) {
	out, err := rangelist.Drain(rangelist.NewSliceIterator(nil))
	require.NoError(t, err)
	assert.Empty(t, out)
}
