// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package varcall

import (
	"github.com/grailbio/varcall/circular"
	"github.com/grailbio/varcall/variant"
)

// window is a fixed-size circular buffer of per-position sample
// accumulators, sized to the next power of 2 above maxReadSpan. This is the
// same strategy pileup/snp.pileupMutable uses to bound memory to the widest
// single read span instead of the whole reference (pileup/snp/pileup.go's
// "Implementation strategy" comment): a read starting at position p cannot
// overlap any position >= p+maxReadSpan, so once the scan has moved maxReadSpan
// past a position, that position's accumulator can be flushed and reused.
type window struct {
	rows []map[string]variant.Sample
	mask int
	// lastFlushed is the highest reference position already flushed, so
	// flushThrough knows which rows to emit and clear as the scan moves
	// forward; lastRef is only reinitialized by reset.
	lastRef     int
	lastFlushed int
}

func newWindow(maxReadSpan int) *window {
	n := circular.NextExp2(maxReadSpan)
	return &window{
		rows:        make([]map[string]variant.Sample, n),
		mask:        n - 1,
		lastRef:     -1,
		lastFlushed: -1,
	}
}

func (w *window) add(refPos int, sample string, key variant.AlleleKey, obs variant.Observation) {
	row := refPos & w.mask
	if w.rows[row] == nil {
		w.rows[row] = make(map[string]variant.Sample)
	}
	s := w.rows[row][sample]
	if s == nil {
		s = make(variant.Sample)
		w.rows[row][sample] = s
	}
	s[key] = append(s[key], obs)
}

// flushThrough calls emit(pos, samples) for every buffered position in
// [lastFlushed+1, through), in ascending order, then clears those rows.
// Positions with no buffered observations are skipped — the caller decides
// whether "no coverage" is reportable.
func (w *window) flushThrough(through int, emit func(pos int, samples map[string]variant.Sample)) {
	for pos := w.lastFlushed + 1; pos < through; pos++ {
		row := pos & w.mask
		if samples := w.rows[row]; samples != nil {
			emit(pos, samples)
			w.rows[row] = nil
		}
	}
	if through-1 > w.lastFlushed {
		w.lastFlushed = through - 1
	}
}

// flushAll drains every remaining buffered position below limit, used at
// end-of-shard; positions at or beyond limit stay buffered.
func (w *window) flushAll(limit int, emit func(pos int, samples map[string]variant.Sample)) {
	w.flushThrough(limit, emit)
}

// reset clears the window for reuse on a new reference sequence.
func (w *window) reset() {
	for i := range w.rows {
		w.rows[i] = nil
	}
	w.lastRef = -1
	w.lastFlushed = -1
}
