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
package combo_test

import (
	"testing"

	"github.com/grailbio/varcall/variant"
	"github.com/grailbio/varcall/variant/combo"
	"github.com/grailbio/varcall/variant/genotype"
	"github.com/grailbio/varcall/variant/likelihood"
	"github.com/grailbio/varcall/variant/prior"
	"github.com/stretchr/testify/assert"
)

var refA = variant.Allele{Kind: variant.Reference, Base: "A", Length: 1}
var altG = variant.Allele{Kind: variant.SNP, Base: "G", Length: 1}

func findGenotype(homozygousTo *variant.Allele) genotype.Genotype {
	e := genotype.NewEnumerator()
	for _, g := range e.AllPossibleGenotypes(2, []variant.Allele{refA, altG}) {
		if homozygousTo == nil {
			if !g.Homozygous() {
				return g
			}
			continue
		}
		if g.Homozygous() && g.Alleles[0].Equal(*homozygousTo) {
			return g
		}
	}
	panic("not found")
}

func sdl(sample string, g genotype.Genotype, logProb float64) *likelihood.SampleDataLikelihood {
	return &likelihood.SampleDataLikelihood{Sample: sample, Genotype: g, LogProb: logProb}
}

func TestIsHomozygousTrueWhenAllSamplesShareOneAllele(t *testing.T) {
	hom := findGenotype(&refA)
	c := combo.GenotypeCombo{Entries: []combo.Entry{
		{Sample: "s1", SDL: sdl("s1", hom, -1)},
		{Sample: "s2", SDL: sdl("s2", hom, -1)},
	}}
	assert.True(t, c.IsHomozygous())
}

func TestIsHomozygousFalseWhenHomozygousForDifferentAlleles(t *testing.T) {
	homA := findGenotype(&refA)
	homG := findGenotype(&altG)
	c := combo.GenotypeCombo{Entries: []combo.Entry{
		{Sample: "s1", SDL: sdl("s1", homA, -1)},
		{Sample: "s2", SDL: sdl("s2", homG, -1)},
	}}
	assert.False(t, c.IsHomozygous())
}

func TestIsHomozygousFalseWhenAnySampleHeterozygous(t *testing.T) {
	hom := findGenotype(&refA)
	het := findGenotype(nil)
	c := combo.GenotypeCombo{Entries: []combo.Entry{
		{Sample: "s1", SDL: sdl("s1", hom, -1)},
		{Sample: "s2", SDL: sdl("s2", het, -1)},
	}}
	assert.False(t, c.IsHomozygous())
}

func TestKeyStableAndOrderSensitive(t *testing.T) {
	hom := findGenotype(&refA)
	het := findGenotype(nil)
	c1 := combo.GenotypeCombo{Entries: []combo.Entry{
		{Sample: "s1", SDL: sdl("s1", hom, -1)},
		{Sample: "s2", SDL: sdl("s2", het, -2)},
	}}
	c2 := combo.GenotypeCombo{Entries: []combo.Entry{
		{Sample: "s1", SDL: sdl("s1", hom, -1)},
		{Sample: "s2", SDL: sdl("s2", het, -2)},
	}}
	assert.Equal(t, c1.Key(), c2.Key())

	c3 := combo.GenotypeCombo{Entries: []combo.Entry{
		{Sample: "s2", SDL: sdl("s2", het, -2)},
		{Sample: "s1", SDL: sdl("s1", hom, -1)},
	}}
	// Key is sensitive to the stored entry order, so swapping entry order changes the key.
	assert.NotEqual(t, c1.Key(), c3.Key())
}

func TestDedupRemovesRepeatedKeyKeepingFirst(t *testing.T) {
	hom := findGenotype(&refA)
	a := combo.GenotypeCombo{Entries: []combo.Entry{{Sample: "s1", SDL: sdl("s1", hom, -1)}}, LogPosterior: -1}
	b := combo.GenotypeCombo{Entries: []combo.Entry{{Sample: "s1", SDL: sdl("s1", hom, -1)}}, LogPosterior: -99}
	out := combo.Dedup([]combo.GenotypeCombo{a, b})
	assert.Len(t, out, 1)
	assert.Equal(t, -1.0, out[0].LogPosterior)
}

func TestSortByPosteriorDescendingStable(t *testing.T) {
	hom := findGenotype(&refA)
	het := findGenotype(nil)
	c1 := combo.GenotypeCombo{Entries: []combo.Entry{{Sample: "s1", SDL: sdl("s1", hom, -1)}}, LogPosterior: -5}
	c2 := combo.GenotypeCombo{Entries: []combo.Entry{{Sample: "s1", SDL: sdl("s1", het, -1)}}, LogPosterior: -1}
	c3 := combo.GenotypeCombo{Entries: []combo.Entry{{Sample: "s1", SDL: sdl("s1", hom, -1)}}, LogPosterior: -1}
	out := combo.SortByPosterior([]combo.GenotypeCombo{c1, c2, c3})
	assert.Equal(t, -1.0, out[0].LogPosterior)
	assert.Equal(t, -1.0, out[1].LogPosterior)
	assert.Equal(t, -5.0, out[2].LogPosterior)
	// Among the tied -1 entries, insertion order (c2 before c3) is preserved.
	assert.True(t, out[0].Entries[0].SDL.Genotype.Equal(het))
	assert.True(t, out[1].Entries[0].SDL.Genotype.Equal(hom))
}

func TestNewComboSumsDataLikelihoodAndPriors(t *testing.T) {
	hom := findGenotype(&refA)
	entries := []combo.Entry{
		{Sample: "s1", SDL: sdl("s1", hom, -2.0)},
		{Sample: "s2", SDL: sdl("s2", hom, -3.0)},
	}
	samples := map[string]variant.Sample{
		"s1": {},
		"s2": {},
	}
	c := combo.NewCombo(entries, samples, prior.Toggles{})
	assert.Equal(t, -5.0, c.LogDataLikelihood)
	assert.Equal(t, 0.0, c.LogPriorHWE)
	assert.Equal(t, c.LogDataLikelihood, c.LogPosterior)
}
