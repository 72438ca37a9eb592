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
package combo

import (
	"sort"

	"github.com/grailbio/varcall/variant"
	"github.com/grailbio/varcall/variant/likelihood"
	"github.com/grailbio/varcall/variant/prior"
)

// Strategy selects between the two combo-search algorithms: fixed-radius
// banded enumeration, and expectation-maximization over repeated banded
// rounds.
type Strategy int

const (
	// BandedStrategy is the fixed-radius banded enumeration.
	BandedStrategy Strategy = iota
	// ExpectationMaximizationStrategy alternates re-searching combos with
	// re-estimating the seed allele assignment.
	ExpectationMaximizationStrategy
)

// Options bounds the combo search: bandwidth (WB), depth (TB) and
// genotypeComboStepMax, plus the Permute/VariantThreshold choice of which
// samples may vary and the EM iteration cap. There is no separate
// per-sample top-genotypes cutoff (TH); Depth alone limits how many of a
// sample's genotypes the search tries.
type Options struct {
	Bandwidth int
	Depth int
	StepMax int
	Permute bool
	VariantThreshold float64
	EMMaxIterations int
}

// OptionsFromConfig extracts Options from a variant.Config.
func OptionsFromConfig(cfg variant.Config) Options {
	return Options{
		Bandwidth: cfg.Bandwidth,
		Depth: cfg.Depth,
		StepMax: cfg.GenotypeComboStepMax,
		Permute: cfg.Permute,
		VariantThreshold: cfg.GenotypeVariantThreshold,
		EMMaxIterations: cfg.EMMaxIterations,
	}
}

// Search dispatches to the banded or EM strategy and returns the resulting
// unique combos sorted descending by posterior.
func Search(strategy Strategy, sampleOrder []string, sdls map[string][]likelihood.SampleDataLikelihood, samples map[string]variant.Sample, toggles prior.Toggles, opts Options) []GenotypeCombo {
	switch strategy {
	case ExpectationMaximizationStrategy:
		return ExpectationMaximization(sampleOrder, sdls, samples, toggles, opts)
	default:
		return Banded(sampleOrder, sdls, samples, toggles, opts, nil)
	}
}

// Banded implements banded enumeration: starting from seed (or,
// if nil, each sample's top-likelihood genotype), it generates every combo
// reachable by changing the chosen genotype of at most Bandwidth samples to
// one of their top Depth genotypes, plus every all-homozygous combo (one per
// candidate allele) so p(no-variant) is always computable. The candidate set
// of samples allowed to vary is either every sample (Permute) or just the
// ones flagged as variant-candidates by the likelihood-gap criterion
// (freebayes.cpp genotypeVariantThreshold, supplemented feature).
func Banded(sampleOrder []string, sdls map[string][]likelihood.SampleDataLikelihood, samples map[string]variant.Sample, toggles prior.Toggles, opts Options, seed map[string]*likelihood.SampleDataLikelihood) []GenotypeCombo {
	baseline := make(map[string]*likelihood.SampleDataLikelihood, len(sampleOrder))
	for _, s := range sampleOrder {
		list := sdls[s]
		if len(list) == 0 {
			continue
		}
		if seeded, ok := seed[s]; ok {
			baseline[s] = seeded
		} else {
			baseline[s] = &sdls[s][0]
		}
	}

	candidates := variantCandidates(sampleOrder, sdls, opts)

	var results []GenotypeCombo
	exhausted := false
	assignment := make(map[string]*likelihood.SampleDataLikelihood, len(sampleOrder))
	for s, sdl := range baseline {
		assignment[s] = sdl
	}

	stepMax := opts.StepMax
	if stepMax <= 0 {
		stepMax = 1
	}
	emit := func() {
		if exhausted {
			return
		}
		entries := make([]Entry, 0, len(sampleOrder))
		for _, s := range sampleOrder {
			if sdl := assignment[s]; sdl != nil {
				entries = append(entries, Entry{Sample: s, SDL: sdl})
			}
		}
		results = append(results, NewCombo(entries, samples, toggles))
		if len(results) >= stepMax {
			exhausted = true
		}
	}

	var rec func(idx, budget int)
	rec = func(idx, budget int) {
		if exhausted {
			return
		}
		if idx == len(candidates) {
			emit()
			return
		}
		s := candidates[idx]
		list := sdls[s]

		// Branch 1: this sample stays at its seed/baseline assignment.
		rec(idx+1, budget)
		if exhausted || budget == 0 {
			return
		}

		limit := opts.Depth
		if limit > len(list) {
			limit = len(list)
		}
		saved := assignment[s]
		for k := 0; k < limit; k++ {
			if &list[k] == saved {
				continue // same as the branch already explored above
			}
			assignment[s] = &list[k]
			rec(idx+1, budget-1)
			if exhausted {
				break
			}
		}
		assignment[s] = saved
	}
	rec(0, opts.Bandwidth)

	results = append(results, allHomozygousCombos(sampleOrder, sdls, samples, toggles)...)
	return SortByPosterior(Dedup(results))
}

// ExpectationMaximization alternates banded search with re-seeding the
// search around the current best combo, stopping when the top-ranked combo
// stops changing or EMMaxIterations is reached.
func ExpectationMaximization(sampleOrder []string, sdls map[string][]likelihood.SampleDataLikelihood, samples map[string]variant.Sample, toggles prior.Toggles, opts Options) []GenotypeCombo {
	results := Banded(sampleOrder, sdls, samples, toggles, opts, nil)
	if len(results) == 0 {
		return results
	}
	maxIter := opts.EMMaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}
	best := results[0]
	for iter := 1; iter < maxIter; iter++ {
		seed := make(map[string]*likelihood.SampleDataLikelihood, len(best.Entries))
		for _, e := range best.Entries {
			seed[e.Sample] = e.SDL
		}
		round := Banded(sampleOrder, sdls, samples, toggles, opts, seed)
		merged := SortByPosterior(Dedup(append(round, results...)))
		if len(merged) > 0 && merged[0].Key() == best.Key() {
			results = merged
			break
		}
		results = merged
		if len(merged) > 0 {
			best = merged[0]
		}
	}
	return results
}

// variantCandidates returns, in sampleOrder, the samples eligible to vary in
// the banded search: all of them if Permute is set, otherwise only those
// whose top-two genotype log-likelihoods are closer than VariantThreshold
// apart (an unambiguous call has nothing to gain from varying it).
func variantCandidates(sampleOrder []string, sdls map[string][]likelihood.SampleDataLikelihood, opts Options) []string {
	if opts.Permute {
		out := make([]string, len(sampleOrder))
		copy(out, sampleOrder)
		return out
	}
	var out []string
	for _, s := range sampleOrder {
		list := sdls[s]
		if len(list) <= 1 {
			out = append(out, s)
			continue
		}
		gap := list[0].LogProb - list[1].LogProb
		if gap < opts.VariantThreshold {
			out = append(out, s)
		}
	}
	return out
}

// allHomozygousCombos returns, for every allele that appears in any sample's
// candidate genotype set, the combo assigning every sample its homozygous
// genotype for that allele. These always get included (one per candidate
// allele) so that p(no-variant) is always computable from the search result.
func allHomozygousCombos(sampleOrder []string, sdls map[string][]likelihood.SampleDataLikelihood, samples map[string]variant.Sample, toggles prior.Toggles) []GenotypeCombo {
	seen := map[variant.AlleleKey]bool{}
	var keys []variant.AlleleKey
	for _, list := range sdls {
		for _, sdl := range list {
			for _, a := range sdl.Genotype.Alleles {
				k := a.Key()
				if !seen[k] {
					seen[k] = true
					keys = append(keys, k)
				}
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		if keys[i].Base != keys[j].Base {
			return keys[i].Base < keys[j].Base
		}
		return keys[i].Length < keys[j].Length
	})

	var out []GenotypeCombo
	for _, key := range keys {
		entries := make([]Entry, 0, len(sampleOrder))
		ok := true
		for _, s := range sampleOrder {
			sdl := findHomozygousSDL(sdls[s], key)
			if sdl == nil {
				ok = false
				break
			}
			entries = append(entries, Entry{Sample: s, SDL: sdl})
		}
		if !ok {
			continue
		}
		out = append(out, NewCombo(entries, samples, toggles))
	}
	return out
}

func findHomozygousSDL(list []likelihood.SampleDataLikelihood, key variant.AlleleKey) *likelihood.SampleDataLikelihood {
	for i := range list {
		g := list[i].Genotype
		if g.Homozygous() && len(g.Alleles) > 0 && g.Alleles[0].Key() == key {
			return &list[i]
		}
	}
	return nil
}
