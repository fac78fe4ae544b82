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

// Package stats is the delta computer's optional, pluggable diagnostic
// sink (C9): shared/only/changed sector totals, compare counts and gap
// accounting. Never required for correctness.
package stats

// Sink receives sector accounting events as the delta engine walks the
// signature and the currently-allocated range list. Implementations must
// be safe to call from a single goroutine only, matching the engine's
// single-threaded, synchronous execution model.
type Sink interface {
	// AddShared accounts for n sectors whose hash-block matched the old
	// signature and so were not emitted to the delta.
	AddShared(n uint64)
	// AddOrigOnly accounts for n sectors described by the old signature
	// that are no longer allocated.
	AddOrigOnly(n uint64)
	// AddChanged accounts for n sectors emitted to the delta because
	// their content (or comparability) changed.
	AddChanged(n uint64)
	// AddNew accounts for n sectors allocated now with no prior signature
	// coverage at all.
	AddNew(n uint64)
	// IncHashCompare counts one full hash-block read-and-compare.
	IncHashCompare()
	// IncFixupForced counts one region forced to "changed" by an
	// overlapping fixup instead of a hash comparison.
	IncFixupForced()
	// IncNoCompare counts one region marked "changed" because the current
	// allocation only partially covered it and hash_free_mode was off.
	IncNoCompare()
	// AddGap accounts for n sectors of signature coverage with no
	// corresponding current allocation (a subset of AddOrigOnly's sectors,
	// tracked separately for gap-accounting diagnostics).
	AddGap(n uint64)
}

// Counters is the default Sink: plain running totals. The delta engine is
// single-threaded so no synchronization is needed.
type Counters struct {
	SharedSectors     uint64
	OrigOnlySectors   uint64
	ChangedSectors    uint64
	NewSectors        uint64
	HashCompares      uint64
	FixupForced       uint64
	NoCompare         uint64
	GapSectors        uint64
}

var _ Sink = &Counters{}

// AddShared implements Sink.
func (c *Counters) AddShared(n uint64) { c.SharedSectors += n }

// AddOrigOnly implements Sink.
func (c *Counters) AddOrigOnly(n uint64) { c.OrigOnlySectors += n }

// AddChanged implements Sink.
func (c *Counters) AddChanged(n uint64) { c.ChangedSectors += n }

// AddNew implements Sink.
func (c *Counters) AddNew(n uint64) { c.NewSectors += n }

// IncHashCompare implements Sink.
func (c *Counters) IncHashCompare() { c.HashCompares++ }

// IncFixupForced implements Sink.
func (c *Counters) IncFixupForced() { c.FixupForced++ }

// IncNoCompare implements Sink.
func (c *Counters) IncNoCompare() { c.NoCompare++ }

// AddGap implements Sink.
func (c *Counters) AddGap(n uint64) { c.GapSectors += n }

type noopSink struct{}

// AddShared implements Sink.
func (noopSink) AddShared(uint64) {}

// AddOrigOnly implements Sink.
func (noopSink) AddOrigOnly(uint64) {}

// AddChanged implements Sink.
func (noopSink) AddChanged(uint64) {}

// AddNew implements Sink.
func (noopSink) AddNew(uint64) {}

// IncHashCompare implements Sink.
func (noopSink) IncHashCompare() {}

// IncFixupForced implements Sink.
func (noopSink) IncFixupForced() {}

// IncNoCompare implements Sink.
func (noopSink) IncNoCompare() {}

// AddGap implements Sink.
func (noopSink) AddGap(uint64) {}

// Noop is a Sink that discards everything, used when the caller doesn't
// want diagnostics.
var Noop Sink = noopSink{}
