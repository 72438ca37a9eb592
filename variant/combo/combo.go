// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package combo defines GenotypeCombo — a joint assignment of one genotype
// to every sample with data at a site — together with the banded
// and expectation-maximization search strategies that build and rank combos.
package combo

import (
	"sort"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/varcall/variant"
	"github.com/grailbio/varcall/variant/likelihood"
	"github.com/grailbio/varcall/variant/prior"
)

// Entry is one (sample, chosen-genotype) pair within a combo. SDL is a
// non-owning pointer into the sample's sorted SampleDataLikelihood slice, so
// that marginalization can write back into the same slice the search stage
// read from.
type Entry struct {
	Sample string
	SDL *likelihood.SampleDataLikelihood
}

// GenotypeCombo is an ordered sequence of (sample, chosen-genotype) pairs
// covering every sample with data at the site. Entries is kept in the
// search's sampleOrder (caller.Call passes the sample names sorted), both
// because Key requires a
// stable ordering for combo-identity hashing, and because the reported
// combo's per-sample genotypes must be attributable back to named samples.
type GenotypeCombo struct {
	Entries []Entry

	LogDataLikelihood float64
	LogPriorHWE float64
	LogPriorFreq float64
	LogPriorObs float64
	LogPosterior float64 // LogDataLikelihood + the three prior terms
}

// NewCombo builds a GenotypeCombo from entries, computing its data
// likelihood and three prior terms and total log posterior.
// samples supplies each entry's raw observations, needed by the
// binomial/allele-balance prior terms.
func NewCombo(entries []Entry, samples map[string]variant.Sample, toggles prior.Toggles) GenotypeCombo {
	c := GenotypeCombo{Entries: entries}
	priorEntries := make([]prior.GenotypeEntry, len(entries))
	for i, e := range entries {
		c.LogDataLikelihood += e.SDL.LogProb
		priorEntries[i] = prior.GenotypeEntry{
			Genotype: e.SDL.Genotype,
			Sample: samples[e.Sample],
		}
	}
	c.LogPriorHWE, c.LogPriorFreq, c.LogPriorObs = prior.Log(priorEntries, toggles)
	c.LogPosterior = c.LogDataLikelihood + c.LogPriorHWE + c.LogPriorFreq + c.LogPriorObs
	return c
}

// IsHomozygous reports whether every sample in the combo is assigned the
// same homozygous genotype — i.e. there is no variation *between* samples,
// since p(variant) measures between-sample variation rather than deviation
// from the reference. A combo where every sample is individually homozygous
// but for *different* alleles is NOT all-homozygous by this definition.
func (c GenotypeCombo) IsHomozygous() bool {
	if len(c.Entries) == 0 {
		return true
	}
	first := c.Entries[0].SDL.Genotype
	if !first.Homozygous() {
		return false
	}
	firstKey := first.Alleles[0].Key()
	for _, e := range c.Entries[1:] {
		g := e.SDL.Genotype
		if !g.Homozygous() || g.Alleles[0].Key() != firstKey {
			return false
		}
	}
	return true
}

// Key returns a stable 64-bit identity hash for the combo, computed over
// Entries in their stored (= sampleOrder) order, multiset-hashing each
// entry's genotype. Grounded on
// encoding/bamprovider/concurrentmap.go's use of blainsmith/seahash for
// hashing composite map keys.
func (c GenotypeCombo) Key() uint64 {
	buf := make([]byte, 0, 32*len(c.Entries))
	for _, e := range c.Entries {
		buf = append(buf, e.Sample...)
		buf = append(buf, 0)
		for _, a := range e.SDL.Genotype.Alleles {
			buf = append(buf, a.Base...)
			buf = append(buf, byte(a.Kind), byte(a.Length))
		}
		buf = append(buf, 0xff)
	}
	return seahash.Sum64(buf)
}

// ByPosteriorThenInsertion sorts combos descending by LogPosterior, falling
// back to original insertion order on exact ties.
type ByPosteriorThenInsertion struct {
	Combos []GenotypeCombo
	// order[i] is the position Combos[i] was first produced in, for stable
	// tie-breaking after a non-stable sort would otherwise scramble it.
	order []int
}

// NewSortable wraps combos for a stable posterior sort.
func NewSortable(combos []GenotypeCombo) *ByPosteriorThenInsertion {
	order := make([]int, len(combos))
	for i := range order {
		order[i] = i
	}
	return &ByPosteriorThenInsertion{Combos: combos, order: order}
}

func (s *ByPosteriorThenInsertion) Len() int { return len(s.Combos) }
func (s *ByPosteriorThenInsertion) Less(i, j int) bool {
	if s.Combos[i].LogPosterior != s.Combos[j].LogPosterior {
		return s.Combos[i].LogPosterior > s.Combos[j].LogPosterior
	}
	return s.order[i] < s.order[j]
}
func (s *ByPosteriorThenInsertion) Swap(i, j int) {
	s.Combos[i], s.Combos[j] = s.Combos[j], s.Combos[i]
	s.order[i], s.order[j] = s.order[j], s.order[i]
}

// SortByPosterior sorts combos descending by posterior with stable
// tie-breaking and returns the result.
func SortByPosterior(combos []GenotypeCombo) []GenotypeCombo {
	s := NewSortable(combos)
	sort.Stable(s)
	return s.Combos
}

// Dedup removes combos whose Key has already been seen, preserving the
// first occurrence's position.
func Dedup(combos []GenotypeCombo) []GenotypeCombo {
	seen := make(map[uint64]bool, len(combos))
	out := combos[:0]
	for _, c := range combos {
		k := c.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}
