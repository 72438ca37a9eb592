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

// Package prior implements the three additive log-prior contributions of
//: Hardy-Weinberg genotypes-given-frequencies, the neutral
// diffusion allele-frequency prior, and the binomial/allele-balance
// observation prior. Each term is independently toggleable and contributes
// 0 in log-space when disabled.
package prior

import (
	"math"
	"sort"

	"github.com/grailbio/varcall/variant"
	"github.com/grailbio/varcall/variant/genotype"
	"github.com/grailbio/varcall/variant/logspace"
)

// Toggles selects which of the three prior terms are active.
type Toggles struct {
	HWE bool
	ObsBinomial bool
	AlleleBalance bool
	// DiffusionScalar is theta, the neutral-diffusion scaling constant. A
	// zero value disables the diffusion term (see logDiffusionPrior).
	DiffusionScalar float64
}

// GenotypeEntry is the minimal per-sample input the prior package needs:
// which genotype a sample was assigned, and how much of that sample's
// coverage supports each allele (for the binomial/allele-balance term).
type GenotypeEntry struct {
	Genotype genotype.Genotype
	Sample variant.Sample
}

// Log computes the three additive log-prior components for a combo
//, returning (logHWE, logDiffusion, logObservation).
func Log(entries []GenotypeEntry, t Toggles) (logHWE, logDiffusion, logObservation float64) {
	alleleCounts, ploidyTotal := comboAlleleCounts(entries)

	if t.HWE {
		logHWE = logHWEPrior(entries, alleleCounts, ploidyTotal)
	}
	if t.DiffusionScalar > 0 {
		logDiffusion = logDiffusionPrior(alleleCounts, ploidyTotal, t.DiffusionScalar)
	}
	if t.ObsBinomial {
		logObservation += logBinomialObservationPrior(entries, alleleCounts, ploidyTotal)
	}
	if t.AlleleBalance {
		logObservation += logAlleleBalancePrior(entries)
	}
	return
}

func comboAlleleCounts(entries []GenotypeEntry) (map[variant.AlleleKey]int, int) {
	counts := make(map[variant.AlleleKey]int)
	total := 0
	for _, e := range entries {
		for key, m := range e.Genotype.AlleleCounts() {
			counts[key] += m
			total += m
		}
	}
	return counts, total
}

// logHWEPrior scores the combo's per-sample genotypes against the
// multinomial Hardy-Weinberg expectation implied by the combo's own allele
// frequencies:
// P(genotype with multiplicities m_a) = ploidy! / prod(m_a!) * prod(p_a^m_a).
func logHWEPrior(entries []GenotypeEntry, alleleCounts map[variant.AlleleKey]int, ploidyTotal int) float64 {
	if ploidyTotal == 0 {
		return 0
	}
	freq := make(map[variant.AlleleKey]float64, len(alleleCounts))
	for k, n := range alleleCounts {
		freq[k] = float64(n) / float64(ploidyTotal)
	}
	logSum := 0.0
	for _, e := range entries {
		ploidy := e.Genotype.Ploidy()
		logCoeff := logFactorial(ploidy)
		for _, m := range e.Genotype.AlleleCounts() {
			logCoeff -= logFactorial(m)
		}
		logProb := logCoeff
		for key, m := range e.Genotype.AlleleCounts() {
			p := freq[key]
			if p <= 0 {
				// A sample can't be assigned an allele with zero combo
				// frequency; treat as impossible rather than crashing on log(0).
				logProb = logspace.NegInf
				break
			}
			logProb += float64(m) * math.Log(p)
		}
		logSum += logProb
	}
	return logSum
}

// logDiffusionPrior scores the combo's allele-count spectrum under the
// Ewens/neutral-diffusion approximation: the expected
// count of segregating sites of frequency i is theta/i. For each allele
// present i times in the combo (1 <= i < ploidyTotal; the reference allele is
// not treated specially), its log contribution is
// log(theta/i) - log(1 + theta*H(ploidyTotal-1)), where H is the harmonic
// number; a fully monomorphic combo (no segregating allele) contributes 0.
func logDiffusionPrior(alleleCounts map[variant.AlleleKey]int, ploidyTotal int, theta float64) float64 {
	if ploidyTotal <= 1 {
		return 0
	}
	harmonic := 0.0
	for i := 1; i < ploidyTotal; i++ {
		harmonic += 1.0 / float64(i)
	}
	logSum := 0.0
	nSegregating := 0
	keys := sortedKeys(alleleCounts)
	for _, key := range keys {
		n := alleleCounts[key]
		if n <= 0 || n >= ploidyTotal {
			// n >= ploidyTotal means this is the only allele present (fixed,
			// not segregating); the standard finite-sample correction treats
			// a fixed site as contributing nothing to the segregating-site
			// spectrum.
			continue
		}
		nSegregating++
		expected := theta / float64(n)
		logSum += math.Log(expected) - math.Log(harmonic*theta+1)
	}
	if nSegregating == 0 {
		return 0
	}
	return logSum
}

// logBinomialObservationPrior scores, for each allele present in the combo,
// the observed supporting-read count against a binomial with success
// probability n_a/ploidyTotal.
func logBinomialObservationPrior(entries []GenotypeEntry, alleleCounts map[variant.AlleleKey]int, ploidyTotal int) float64 {
	if ploidyTotal == 0 {
		return 0
	}
	supportCounts := make(map[variant.AlleleKey]int)
	coverage := 0
	for _, e := range entries {
		for key, obs := range e.Sample {
			supportCounts[key] += len(obs)
			coverage += len(obs)
		}
	}
	if coverage == 0 {
		return 0
	}
	logSum := 0.0
	for key, n := range alleleCounts {
		p := float64(n) / float64(ploidyTotal)
		k := supportCounts[key]
		logSum += logBinomialPMF(coverage, k, p)
	}
	return logSum
}

// logAlleleBalancePrior lightly penalizes heterozygous samples whose
// per-allele read support is far from the 50/50 split a true het would
// produce.
func logAlleleBalancePrior(entries []GenotypeEntry) float64 {
	logSum := 0.0
	for _, e := range entries {
		if e.Genotype.Homozygous() || e.Genotype.Ploidy() != 2 {
			continue
		}
		keys := make([]variant.AlleleKey, 0, 2)
		for k := range e.Genotype.AlleleCounts() {
			keys = append(keys, k)
		}
		if len(keys) != 2 {
			continue
		}
		n0 := len(e.Sample[keys[0]])
		n1 := len(e.Sample[keys[1]])
		total := n0 + n1
		if total == 0 {
			continue
		}
		logSum += logBinomialPMF(total, n0, 0.5)
	}
	return logSum
}

func logBinomialPMF(n, k int, p float64) float64 {
	if n < 0 || k < 0 || k > n {
		return logspace.NegInf
	}
	if p <= 0 {
		if k == 0 {
			return 0
		}
		return logspace.NegInf
	}
	if p >= 1 {
		if k == n {
			return 0
		}
		return logspace.NegInf
	}
	logCoeff := logFactorial(n) - logFactorial(k) - logFactorial(n-k)
	return logCoeff + float64(k)*math.Log(p) + float64(n-k)*math.Log(1-p)
}

// logFactorial returns log(n!) via the log-gamma function so that it stays
// correct and allocation-free when sites are processed concurrently by the
// host.
func logFactorial(n int) float64 {
	if n < 0 {
		return logspace.NegInf
	}
	lg, _ := math.Lgamma(float64(n) + 1)
	return lg
}

func sortedKeys(m map[variant.AlleleKey]int) []variant.AlleleKey {
	keys := make([]variant.AlleleKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
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
	return keys
}
