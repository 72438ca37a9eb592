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
package caller

import (
	"sort"

	"github.com/grailbio/varcall/variant"
	"github.com/grailbio/varcall/variant/genotype"
)

// Decision is the per-site output record.
type Decision struct {
	SequenceName string
	Position int
	ReferenceBase byte

	Skipped bool
	SkipReason SkipReason

	PVariant float64
	Called bool // PVariant >= cfg.PVL

	// AlternateAlleles are the unique non-reference alleles in the chosen
	// combo, sorted by descending allele-count within the combo.
	AlternateAlleles []variant.Allele
	ComboCounts map[variant.AlleleKey]int

	PerSampleGenotype map[string]genotype.Genotype
	PerSampleQuality map[string]float64 // phred genotype quality

	Coverage int

	// ChosenIsHeterozygous records whether the reported combo is not
	// all-homozygous in the sense of combo.GenotypeCombo.IsHomozygous: it is
	// true when some sample is heterozygous, and also when every sample is
	// homozygous but not all for the same allele.
	ChosenIsHeterozygous bool
	// ChosenIsOverallArgmax records whether the reported (best-heterozygous)
	// combo is also the overall posterior argmax.
	ChosenIsOverallArgmax bool
	// BestOverallHeterozygous records the same property as
	// ChosenIsHeterozygous for the overall argmax combo (regardless of which
	// combo was ultimately reported).
	BestOverallHeterozygous bool

	AlleleGroups map[variant.AlleleKey]int
	Repeats *RepeatAnnotation
}

// RepeatAnnotation records the reference short-tandem-repeat context around
// a site, attached when cfg.ShowReferenceRepeats is set.
type RepeatAnnotation struct {
	Unit string
	Count int
}

// bestHeterozygous returns the first combo in posterior-sorted order whose
// heterozygous flag is set (i.e. that is not all-homozygous per
// combo.GenotypeCombo.IsHomozygous), falling back to the overall argmax if
// none exists.
func bestHeterozygous(sorted []comboEntry) (chosen comboEntry, isArgmax bool) {
	for i, c := range sorted {
		if c.heterozygous {
			return c, i == 0
		}
	}
	return sorted[0], true
}

// rankAlternateAlleles returns the chosen combo's unique non-reference
// alleles sorted by descending allele-count.
func rankAlternateAlleles(counts map[variant.AlleleKey]int, refKey variant.AlleleKey) []variant.Allele {
	type scored struct {
		key variant.AlleleKey
		count int
	}
	var alts []scored
	for k, n := range counts {
		if k == refKey {
			continue
		}
		alts = append(alts, scored{k, n})
	}
	sort.Slice(alts, func(i, j int) bool {
		if alts[i].count != alts[j].count {
			return alts[i].count > alts[j].count
		}
		return lessAllele(variant.Allele{Kind: alts[i].key.Kind, Base: alts[i].key.Base, Length: alts[i].key.Length},
			variant.Allele{Kind: alts[j].key.Kind, Base: alts[j].key.Base, Length: alts[j].key.Length})
	})
	out := make([]variant.Allele, len(alts))
	for i, s := range alts {
		out[i] = variant.Allele{Kind: s.key.Kind, Base: s.key.Base, Length: s.key.Length}
	}
	return out
}
