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
	"github.com/grailbio/varcall/variant/combo"
	"github.com/grailbio/varcall/variant/genotype"
	"github.com/grailbio/varcall/variant/likelihood"
	"github.com/grailbio/varcall/variant/logspace"
	"github.com/grailbio/varcall/variant/marginal"
	"github.com/grailbio/varcall/variant/prior"
)

// comboEntry pairs one search-stage combo with its normalized posterior and
// a precomputed heterozygosity flag, for the sort-and-select step that
// chooses which combo to report.
type comboEntry struct {
	combo combo.GenotypeCombo
	posterior float64
	heterozygous bool
}

// Call runs the full per-site decision pipeline: validation and
// filtering, candidate-allele selection, genotype enumeration, data
// likelihood, combo search, posterior normalization and decision, and
// (if configured) marginalization. It never panics on recoverable
// conditions: every such condition resolves to a skipped
// Decision or a best-effort one.
func Call(site Site, cfg variant.Config) Decision {
	base := Decision{
		SequenceName: site.SequenceName,
		Position: site.Position,
		ReferenceBase: site.ReferenceBase,
		Coverage: totalCoverage(site),
	}

	if reason := Validate(site); reason != SkipNone {
		base.Skipped = true
		base.SkipReason = reason
		return base
	}
	if reason := Filter(site, cfg); reason != SkipNone {
		base.Skipped = true
		base.SkipReason = reason
		return base
	}

	candidates, ok := SelectCandidateAlleles(site, cfg)
	if !ok {
		base.Skipped = true
		base.SkipReason = SkipTooFewCandidates
		return base
	}

	sampleOrder := sortedSampleNames(site.Samples)
	enumerator := genotype.NewEnumerator()
	sdls := make(map[string][]likelihood.SampleDataLikelihood, len(sampleOrder))
	var active []string
	for _, name := range sampleOrder {
		ploidy := site.Ploidy[name]
		genotypes := enumerator.AllPossibleGenotypes(ploidy, candidates)
		genotypes = filterGenotypesForSample(genotypes, site.Samples[name], cfg)
		if len(genotypes) == 0 {
			// Sample contributes no eligible genotype; dropped from joint
			// inference rather than failing the whole site.
			continue
		}
		sdls[name] = likelihood.Compute(name, site.Samples[name], genotypes, cfg.RDF, cfg.UseMappingQuality)
		active = append(active, name)
	}
	if len(active) == 0 {
		base.Skipped = true
		base.SkipReason = SkipMalformedInput
		return base
	}

	toggles := prior.Toggles{
		HWE: cfg.HWEPriors,
		ObsBinomial: cfg.ObsBinomialPriors,
		AlleleBalance: cfg.AlleleBalancePriors,
		DiffusionScalar: cfg.DiffusionPriorScalar,
	}
	searchOpts := combo.OptionsFromConfig(cfg)
	strategy := combo.BandedStrategy
	if cfg.ExpectationMaximization {
		strategy = combo.ExpectationMaximizationStrategy
	}
	combos := combo.Search(strategy, active, sdls, site.Samples, toggles, searchOpts)
	if len(combos) == 0 {
		// Numerical underflow or a degenerate search turning up nothing: report
		// as non-variant with p(variant)=0 rather than erroring.
		base.PVariant = 0
		base.Coverage = totalCoverage(site)
		return base
	}

	logPosteriors := make([]float64, len(combos))
	for i, c := range combos {
		logPosteriors[i] = c.LogPosterior
	}
	z := logspace.LogSumExp(logPosteriors)

	refKey := variant.Allele{Kind: variant.Reference, Base: string(site.ReferenceBase), Length: 1}.Key()
	entries := make([]comboEntry, len(combos))
	pHom := 0.0
	for i, c := range combos {
		p := logspace.SafeExp(c.LogPosterior - z)
		entries[i] = comboEntry{combo: c, posterior: p, heterozygous: !c.IsHomozygous()}
		if isNoVariantCombo(c, refKey) {
			pHom += p
		}
	}
	pVariant := 1 - pHom
	if pVariant < 0 {
		pVariant = 0
	}

	chosen, isArgmax := bestHeterozygous(entries)
	bestOverall := entries[0]

	comboCounts := make(map[variant.AlleleKey]int)
	perSampleGenotype := make(map[string]genotype.Genotype, len(chosen.combo.Entries))
	for _, e := range chosen.combo.Entries {
		perSampleGenotype[e.Sample] = e.SDL.Genotype
		for key, n := range e.SDL.Genotype.AlleleCounts() {
			comboCounts[key] += n
		}
	}

	decision := base
	decision.PVariant = pVariant
	decision.Called = pVariant >= cfg.PVL
	decision.AlternateAlleles = rankAlternateAlleles(comboCounts, refKey)
	decision.ComboCounts = comboCounts
	decision.PerSampleGenotype = perSampleGenotype
	decision.ChosenIsHeterozygous = chosen.heterozygous
	decision.ChosenIsOverallArgmax = isArgmax
	decision.BestOverallHeterozygous = bestOverall.heterozygous
	decision.AlleleGroups = groupCounts(site)
	if cfg.ShowReferenceRepeats {
		decision.Repeats = referenceRepeats(site)
	}

	if cfg.CalculateMarginals {
		result := marginal.Run(active, sdls, site.Samples, chosen.combo, toggles, searchOpts, cfg.GenotypingMaxIterations)
		_ = result // LocalCombos/Iterations are diagnostic only; sdls was updated in place.
		quality := make(map[string]float64, len(active))
		genotypeBySample := make(map[string]genotype.Genotype, len(active))
		for _, s := range active {
			top := sdls[s][0]
			quality[s] = marginal.GenotypeQuality(top.Marginal)
			genotypeBySample[s] = top.Genotype
		}
		decision.PerSampleQuality = quality
		decision.PerSampleGenotype = genotypeBySample
	}

	return decision
}

func sortedSampleNames(samples map[string]variant.Sample) []string {
	names := make([]string, 0, len(samples))
	for name := range samples {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// isNoVariantCombo decides whether c counts toward p(no-variant). With two
// or more samples, "no variation" means every sample agrees on the same
// homozygous genotype regardless of which allele that is — three samples
// all called {G/G} must score as non-variant even though G differs from the
// reference, since they agree with each other. With exactly one sample
// there is no second sample to agree or disagree with, so the only allele
// that can mean "no variation" is the reference itself: a lone sample
// called homozygous-alt is reported as a variant, matching the conventional
// single-sample VCF notion that a non-reference homozygous call is still a
// call.
func isNoVariantCombo(c combo.GenotypeCombo, refKey variant.AlleleKey) bool {
	if !c.IsHomozygous() {
		return false
	}
	if len(c.Entries) == 1 {
		return c.Entries[0].SDL.Genotype.Alleles[0].Key() == refKey
	}
	return true
}

// filterGenotypesForSample applies per-sample genotype
// pre-filter. When both excludeUnobservedGenotypes and
// excludePartiallyObservedGenotypes are set, the stricter
// (excludePartiallyObserved) mode wins, per configuration-conflict
// precedence rule ("partial > full").
func filterGenotypesForSample(genotypes []genotype.Genotype, sample variant.Sample, cfg variant.Config) []genotype.Genotype {
	if cfg.ExcludePartiallyObservedGenotypes {
		out := genotypes[:0:0]
		for _, g := range genotypes {
			if g.HasSupportingObservationsForAllAlleles(sample) {
				out = append(out, g)
			}
		}
		return out
	}
	if cfg.ExcludeUnobservedGenotypes {
		out := genotypes[:0:0]
		for _, g := range genotypes {
			if g.HasSupportingObservations(sample) {
				out = append(out, g)
			}
		}
		return out
	}
	return genotypes
}

// referenceRepeats is a placeholder annotation hook: the core has no reference-sequence access of its
// own, so it reports zero-width repeat context here and leaves
// real repeat-unit detection to the ingester/reference provider that calls
// into the core.
func referenceRepeats(site Site) *RepeatAnnotation {
	return &RepeatAnnotation{Unit: string(site.ReferenceBase), Count: 1}
}
