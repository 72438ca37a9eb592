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
package genotype_test

import (
	"testing"

	"github.com/grailbio/varcall/variant"
	"github.com/grailbio/varcall/variant/genotype"
	"github.com/stretchr/testify/assert"
)

func refAlt(bases ...string) []variant.Allele {
	out := make([]variant.Allele, len(bases))
	for i, b := range bases {
		k := variant.SNP
		if i == 0 {
			k = variant.Reference
		}
		out[i] = variant.Allele{Kind: k, Base: b, Length: 1}
	}
	return out
}

func TestAllPossibleGenotypesCount(t *testing.T) {
	alleles := refAlt("A", "G", "C")
	e := genotype.NewEnumerator()
	gs := e.AllPossibleGenotypes(2, alleles)
	assert.Equal(t, genotype.NChooseMultiset(3, 2), len(gs))

	// uniqueness
	seen := map[string]bool{}
	for _, g := range gs {
		key := ""
		for _, a := range g.Alleles {
			key += a.Base
		}
		assert.False(t, seen[key], "duplicate genotype %v", g)
		seen[key] = true
	}
}

func TestAllPossibleGenotypesCached(t *testing.T) {
	alleles := refAlt("A", "G")
	e := genotype.NewEnumerator()
	first := e.AllPossibleGenotypes(2, alleles)
	second := e.AllPossibleGenotypes(2, alleles)
	assert.Equal(t, len(first), len(second))
}

func TestHomozygous(t *testing.T) {
	alleles := refAlt("A", "G")
	e := genotype.NewEnumerator()
	for _, g := range e.AllPossibleGenotypes(2, alleles) {
		want := g.Alleles[0].Equal(g.Alleles[1])
		assert.Equal(t, want, g.Homozygous())
	}
}

func TestHasSupportingObservations(t *testing.T) {
	alleles := refAlt("A", "G")
	e := genotype.NewEnumerator()
	gs := e.AllPossibleGenotypes(2, alleles)

	sample := variant.Sample{
		{Kind: variant.Reference, Base: "A", Length: 1}: {{}},
	}
	var hetAG, homAA genotype.Genotype
	for _, g := range gs {
		if g.Homozygous() && g.Alleles[0].Base == "A" {
			homAA = g
		}
		if !g.Homozygous() {
			hetAG = g
		}
	}
	assert.True(t, homAA.HasSupportingObservationsForAllAlleles(sample))
	assert.False(t, hetAG.HasSupportingObservationsForAllAlleles(sample))
	assert.True(t, hetAG.HasSupportingObservations(sample))
}

func TestNChooseMultiset(t *testing.T) {
	assert.Equal(t, 4, genotype.NChooseMultiset(4, 1))
	assert.Equal(t, 10, genotype.NChooseMultiset(4, 2))
	assert.Equal(t, 1, genotype.NChooseMultiset(1, 5))
}
