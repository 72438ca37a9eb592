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
package likelihood_test

import (
	"testing"

	"github.com/grailbio/varcall/variant"
	"github.com/grailbio/varcall/variant/genotype"
	"github.com/grailbio/varcall/variant/likelihood"
	"github.com/stretchr/testify/assert"
)

var refA = variant.Allele{Kind: variant.Reference, Base: "A", Length: 1}
var altG = variant.Allele{Kind: variant.SNP, Base: "G", Length: 1}

func homGenotype(a variant.Allele) genotype.Genotype {
	e := genotype.NewEnumerator()
	for _, g := range e.AllPossibleGenotypes(2, []variant.Allele{refA, altG}) {
		if g.Homozygous() && g.Alleles[0].Equal(a) {
			return g
		}
	}
	panic("not found")
}

func obsOf(a variant.Allele, bq uint8) variant.Observation {
	return variant.Observation{Allele: a, BaseQual: bq, MapQual: 60}
}

func sampleWith(obs...variant.Observation) variant.Sample {
	s := variant.Sample{}
	for _, o := range obs {
		s[o.Allele.Key()] = append(s[o.Allele.Key()], o)
	}
	return s
}

func TestMonotoneAddingMatchVsMismatch(t *testing.T) {
	hom := homGenotype(refA)
	base := sampleWith(obsOf(refA, 30), obsOf(refA, 30))

	withMatch := sampleWith(obsOf(refA, 30), obsOf(refA, 30), obsOf(refA, 30))
	withMismatch := sampleWith(obsOf(refA, 30), obsOf(refA, 30), obsOf(altG, 30))

	baseLP := likelihood.Compute("s", base, []genotype.Genotype{hom}, 1.0, false)[0].LogProb
	matchLP := likelihood.Compute("s", withMatch, []genotype.Genotype{hom}, 1.0, false)[0].LogProb
	mismatchLP := likelihood.Compute("s", withMismatch, []genotype.Genotype{hom}, 1.0, false)[0].LogProb

	// Adding a matching observation decreases log P less than adding a
	// mismatching one.
	assert.Greater(t, matchLP, mismatchLP)
	assert.Less(t, matchLP, baseLP+1e-9)
	assert.Less(t, mismatchLP, baseLP+1e-9)
}

func TestHighQualityHomozygousClearlyBest(t *testing.T) {
	e := genotype.NewEnumerator()
	gs :=e.AllPossibleGenotypes(2, []variant.Allele{refA, altG})
	obs := make([]variant.Observation, 0, 20)
	for i := 0; i < 20; i++ {
		obs = append(obs, obsOf(altG, 30))
	}
	sample := sampleWith(obs...)
	result := likelihood.Compute("s", sample, gs, 1.0, false)
	assert.Equal(t, altG, result[0].Genotype.Alleles[0])
	assert.Equal(t, altG, result[0].Genotype.Alleles[1])
}

func TestRDFDownweightsRepeats(t *testing.T) {
	hom := homGenotype(refA)
	obs := []variant.Observation{
		{Allele: altG, BaseQual: 30, ReadGroup: "rg1"},
		{Allele: altG, BaseQual: 30, ReadGroup: "rg1"},
	}
	sample := sampleWith(obs...)
	full := likelihood.Compute("s", sample, []genotype.Genotype{hom}, 1.0, false)[0].LogProb
	damped := likelihood.Compute("s", sample, []genotype.Genotype{hom}, 0.1, false)[0].LogProb
	// Down-weighting repeats from the same read-group makes the mismatching
	// evidence count for less, so the homozygous-reference likelihood should
	// be higher (less negative) under a strong RDF.
	assert.Greater(t, damped, full)
}
