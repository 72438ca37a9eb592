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

// Package marginal computes per-sample marginal genotype posteriors by the
// iterative resampling scheme of: repeatedly enumerate the local
// neighborhood of single-sample genotype changes around a seed combo,
// log-sum-exp each (sample, genotype) pair's posterior mass over that
// neighborhood, and re-seed from the new per-sample top-marginal genotypes
// until no sample's top genotype changes.
package marginal

import (
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/varcall/variant"
	"github.com/grailbio/varcall/variant/combo"
	"github.com/grailbio/varcall/variant/genotype"
	"github.com/grailbio/varcall/variant/likelihood"
	"github.com/grailbio/varcall/variant/logspace"
	"github.com/grailbio/varcall/variant/prior"
)

// Result summarizes a completed marginalization pass.
type Result struct {
	// LocalCombos is the deduplicated, posterior-sorted set of combos
	// enumerated in the final iteration.
	LocalCombos []combo.GenotypeCombo
	Iterations int
	Converged bool
}

// Run performs the marginalization pass of, writing each sample's
// SampleDataLikelihood.Marginal field in place (re-sorting sdls[sample] by
// Marginal descending) and returning the final local-neighborhood combo set.
// baseToggles supplies the ObsBinomial/AlleleBalance/DiffusionScalar prior
// settings the caller configured; HWE is forced on regardless.
func Run(sampleOrder []string, sdls map[string][]likelihood.SampleDataLikelihood, samples map[string]variant.Sample, seedCombo combo.GenotypeCombo, baseToggles prior.Toggles, searchOpts combo.Options, maxIterations int) Result {
	toggles := baseToggles
	toggles.HWE = true

	localOpts := searchOpts
	localOpts.Bandwidth = 1
	localOpts.Permute = true

	seed := make(map[string]*likelihood.SampleDataLikelihood, len(seedCombo.Entries))
	for _, e := range seedCombo.Entries {
		seed[e.Sample] = e.SDL
	}

	if maxIterations <= 0 {
		maxIterations = 1
	}

	prevTop := make(map[string]string, len(sampleOrder))
	var localCombos []combo.GenotypeCombo
	iterations := 0
	converged := false

	for iter := 0; iter < maxIterations; iter++ {
		iterations = iter + 1
		localCombos = combo.Banded(sampleOrder, sdls, samples, toggles, localOpts, seed)
		if len(localCombos) == 0 {
			break
		}

		posteriors := make([]float64, len(localCombos))
		for i, c := range localCombos {
			posteriors[i] = c.LogPosterior
		}
		z := logspace.LogSumExp(posteriors)

		buckets := make(map[string][]float64)
		for _, c := range localCombos {
			for _, e := range c.Entries {
				key := e.Sample + "\x00" + fingerprint(e.SDL.Genotype)
				buckets[key] = append(buckets[key], c.LogPosterior)
			}
		}

		changed := false
		newSeed := make(map[string]*likelihood.SampleDataLikelihood, len(sampleOrder))
		for _, s := range sampleOrder {
			list := sdls[s]
			for i := range list {
				key := s + "\x00" + fingerprint(list[i].Genotype)
				if vals, ok := buckets[key]; ok {
					list[i].Marginal = logspace.LogSumExp(vals) - z
				} else {
					list[i].Marginal = logspace.NegInf
				}
			}
			sort.Sort(likelihood.ByMarginal(list))
			if len(list) == 0 {
				continue
			}
			top := &list[0]
			topFingerprint := fingerprint(top.Genotype)
			if prev, ok := prevTop[s]; !ok || prev != topFingerprint {
				changed = true
			}
			prevTop[s] = topFingerprint
			newSeed[s] = top
		}
		seed = newSeed
		if !changed && iter > 0 {
			converged = true
			break
		}
	}

	return Result{LocalCombos: localCombos, Iterations: iterations, Converged: converged}
}

// GenotypeQuality converts a sample's top marginal log-posterior into a
// phred-scaled genotype quality: phred(1 - p) where p = exp(topMarginal).
func GenotypeQuality(topMarginalLogProb float64) float64 {
	p := logspace.SafeExp(topMarginalLogProb)
	return logspace.PhredOf(1 - p)
}

// fingerprint returns a stable string identity for a genotype's allele
// multiset, used to bucket local combos by (sample, genotype) pair. Genotype
// values keep Alleles sorted by AlleleKey (variant/genotype.newGenotype), so
// two Equal genotypes always fingerprint identically.
func fingerprint(g genotype.Genotype) string {
	var b strings.Builder
	for _, a := range g.Alleles {
		b.WriteByte(byte(a.Kind))
		b.WriteByte(0)
		b.WriteString(a.Base)
		b.WriteByte(0)
		b.WriteString(strconv.Itoa(a.Length))
		b.WriteByte(0)
	}
	return b.String()
}
