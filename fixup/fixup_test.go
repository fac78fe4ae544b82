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

package fixup_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorimg/imgdelta/fixup"
	"github.com/sectorimg/imgdelta/sector"
)

func TestHasFixupOverlap(t *testing.T) {
	set := fixup.NewOrdered()
	require.NoError(t, set.Add(fixup.Fixup{ByteStart: 1024, ByteSize: 512, Payload: make([]byte, 512)}))

	assert.True(t, set.HasFixup(sector.Sector(2), 1))
	assert.False(t, set.HasFixup(sector.Sector(10), 1))
}

// TestApplyClipsToOverlap verifies that Apply only patches the bytes of buf
// that actually fall within the fixup's declared span, leaving the rest of
// buf untouched.
func TestApplyClipsToOverlap(t *testing.T) {
	set := fixup.NewOrdered()
	payload := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	require.NoError(t, set.Add(fixup.Fixup{ByteStart: 2, ByteSize: 4, Payload: payload}))

	buf := make([]byte, 8)
	require.NoError(t, set.Apply(0, 8, buf))

	assert.Equal(t, []byte{0, 0, 0xAA, 0xBB, 0xCC, 0xDD, 0, 0}, buf)
}

func TestApplyPartialOverlap(t *testing.T) {
	set := fixup.NewOrdered()
	payload := []byte{0x11, 0x22, 0x33, 0x44}
	require.NoError(t, set.Add(fixup.Fixup{ByteStart: 0, ByteSize: 4, Payload: payload}))

	buf := make([]byte, 2)
	require.NoError(t, set.Apply(2, 2, buf))

	assert.Equal(t, []byte{0x33, 0x44}, buf)
}

func TestAddRejectsZeroSize(t *testing.T) {
	set := fixup.NewOrdered()
	err := set.Add(fixup.Fixup{ByteStart: 0, ByteSize: 0})
	require.Error(t, err)
}

// TestSaveRestoreDiscardsChanges verifies the delta engine's error-path
// rollback: fixups added after Save vanish when Restore(false) is called.
func TestSaveRestoreDiscardsChanges(t *testing.T) {
	set := fixup.NewOrdered()
	require.NoError(t, set.Add(fixup.Fixup{ByteStart: 0, ByteSize: 1, Payload: []byte{1}}))

	set.Save()
	require.NoError(t, set.Add(fixup.Fixup{ByteStart: 100 * sector.Size, ByteSize: 1, Payload: []byte{2}}))
	assert.True(t, set.HasFixup(sector.Sector(100), 1))

	set.Restore(false)
	assert.False(t, set.HasFixup(sector.Sector(100), 1))
	assert.True(t, set.HasFixup(sector.Sector(0), 1))
}

func TestSaveRestoreKeepsChanges(t *testing.T) {
	set := fixup.NewOrdered()
	set.Save()
	require.NoError(t, set.Add(fixup.Fixup{ByteStart: 0, ByteSize: 1, Payload: []byte{9}}))
	set.Restore(true)

	assert.True(t, set.HasFixup(sector.Sector(0), 1))
}
