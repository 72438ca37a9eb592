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

// Package genotype enumerates candidate genotypes — unordered multisets of
// alleles of fixed cardinality (ploidy) — over a candidate allele set.
package genotype

import (
	"sort"

	"github.com/grailbio/varcall/variant"
)

// Genotype is an unordered multiset of alleles of fixed cardinality equal to
// a sample's ploidy. Alleles is kept sorted by AlleleKey so that
// two Genotypes with the same multiset compare equal field-by-field.
type Genotype struct {
	Alleles []variant.Allele
	// counts caches the allele-count map ; built lazily since most genotypes are
	// constructed once and never need it.
	counts map[variant.AlleleKey]int
}

// Ploidy returns the genotype's cardinality.
func (g Genotype) Ploidy() int {
	return len(g.Alleles)
}

// Homozygous reports whether every element of g is the same allele.
func (g Genotype) Homozygous() bool {
	if len(g.Alleles) == 0 {
		return true
	}
	first := g.Alleles[0].Key()
	for _, a := range g.Alleles[1:] {
		if a.Key() != first {
			return false
		}
	}
	return true
}

// AlleleCounts returns the allele -> multiplicity map for g.
func (g *Genotype) AlleleCounts() map[variant.AlleleKey]int {
	if g.counts != nil {
		return g.counts
	}
	counts := make(map[variant.AlleleKey]int, len(g.Alleles))
	for _, a := range g.Alleles {
		counts[a.Key()]++
	}
	g.counts = counts
	return counts
}

// Equal reports multiset equality between g and other.
func (g Genotype) Equal(other Genotype) bool {
	if len(g.Alleles) != len(other.Alleles) {
		return false
	}
	for i, a := range g.Alleles {
		if !a.Equal(other.Alleles[i]) {
			return false
		}
	}
	return true
}

// ContainsKey reports whether any element of g has the given equivalence
// key.
func (g Genotype) ContainsKey(key variant.AlleleKey) bool {
	for _, a := range g.Alleles {
		if a.Key() == key {
			return true
		}
	}
	return false
}

// HasSupportingObservations reports whether at least one allele in g has at
// least one supporting observation in sample.
func (g Genotype) HasSupportingObservations(sample variant.Sample) bool {
	for _, a := range g.Alleles {
		if len(sample[a.Key()]) > 0 {
			return true
		}
	}
	return false
}

// HasSupportingObservationsForAllAlleles reports whether every distinct
// allele in g has at least one supporting observation in sample.
func (g Genotype) HasSupportingObservationsForAllAlleles(sample variant.Sample) bool {
	for key := range g.AlleleCounts() {
		if len(sample[key]) == 0 {
			return false
		}
	}
	return true
}

func newGenotype(alleles []variant.Allele) Genotype {
	sorted := make([]variant.Allele, len(alleles))
	copy(sorted, alleles)
	sort.Slice(sorted, func(i, j int) bool {
		return lessKey(sorted[i].Key(), sorted[j].Key())
	})
	return Genotype{Alleles: sorted}
}

func lessKey(a, b variant.AlleleKey) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Base != b.Base {
		return a.Base < b.Base
	}
	return a.Length < b.Length
}

// Enumerator generates every multiset of a given ploidy over a candidate
// allele set, caching results keyed by ploidy for the lifetime of one site.
// An Enumerator must not be reused across sites since the candidate allele
// set changes from site to site.
type Enumerator struct {
	cache map[int][]Genotype
}

// NewEnumerator returns a fresh, empty-cache Enumerator.
func NewEnumerator() *Enumerator {
	return &Enumerator{cache: make(map[int][]Genotype)}
}

// AllPossibleGenotypes returns every multiset of size ploidy over alleles;
// there are exactly C(len(alleles)+ploidy-1, ploidy) of them. Results are cached by ploidy.
func (e *Enumerator) AllPossibleGenotypes(ploidy int, alleles []variant.Allele) []Genotype {
	if cached, ok := e.cache[ploidy]; ok {
		return cached
	}
	result := generateMultisets(ploidy, alleles)
	e.cache[ploidy] = result
	return result
}

// generateMultisets enumerates all C(k+p-1, p) multisets of size p over the
// k alleles, via the standard "choose with repetition, non-decreasing
// index" recursion.
func generateMultisets(ploidy int, alleles []variant.Allele) []Genotype {
	if ploidy <= 0 || len(alleles) == 0 {
		return nil
	}
	n := NChooseMultiset(len(alleles), ploidy)
	out := make([]Genotype, 0, n)
	combo := make([]variant.Allele, ploidy)
	var rec func(start, depth int)
	rec = func(start, depth int) {
		if depth == ploidy {
			out = append(out, newGenotype(combo))
			return
		}
		for i := start; i < len(alleles); i++ {
			combo[depth] = alleles[i]
			rec(i, depth+1)
		}
	}
	rec(0, 0)
	return out
}

// NChooseMultiset returns C(n+k-1, k), the number of size-k multisets
// drawable from n distinct items.
func NChooseMultiset(n, k int) int {
	return binomial(n+k-1, k)
}

func binomial(n, k int) int {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	result := 1
	for i := 0; i < k; i++ {
		result = result * (n - i) / (i + 1)
	}
	return result
}
