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

// Package likelihood computes P(reads | genotype) per sample.
package likelihood

import (
	"sort"

	"github.com/grailbio/varcall/variant"
	"github.com/grailbio/varcall/variant/genotype"
	"github.com/grailbio/varcall/variant/logspace"
)

// SampleDataLikelihood pairs one genotype with its log data-likelihood for
// one sample, plus a mutable slot for the marginal log-posterior written
// during the marginalization pass.
type SampleDataLikelihood struct {
	Sample string
	Genotype genotype.Genotype
	// LogProb is log P(reads | genotype).
	LogProb float64
	// Marginal is the marginal log-posterior written by variant/marginal; it
	// starts at logspace.NegInf and is only meaningful after marginalization.
	Marginal float64
}

// ByLogProb sorts SampleDataLikelihoods descending by LogProb.
type ByLogProb []SampleDataLikelihood

func (s ByLogProb) Len() int { return len(s) }
func (s ByLogProb) Less(i, j int) bool { return s[i].LogProb > s[j].LogProb }
func (s ByLogProb) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// ByMarginal sorts SampleDataLikelihoods descending by Marginal.
type ByMarginal []SampleDataLikelihood

func (s ByMarginal) Len() int { return len(s) }
func (s ByMarginal) Less(i, j int) bool { return s[i].Marginal > s[j].Marginal }
func (s ByMarginal) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// Compute returns the list of (genotype, log-likelihood) pairs for sample
// over genotypes, sorted descending by log-likelihood. rdf is
// the read-dependence factor; useMappingQuality folds MQ into the
// per-observation error probability.
func Compute(sampleName string, sample variant.Sample, genotypes []genotype.Genotype, rdf float64, useMappingQuality bool) []SampleDataLikelihood {
	out := make([]SampleDataLikelihood, 0, len(genotypes))
	for _, g := range genotypes {
		out = append(out, SampleDataLikelihood{
			Sample: sampleName,
			Genotype: g,
			LogProb: logProbObservationsGivenGenotype(sample, g, rdf, useMappingQuality),
			Marginal: logspace.NegInf,
		})
	}
	sort.Sort(ByLogProb(out))
	return out
}

// logProbObservationsGivenGenotype computes log P(O | g) under the mixture
// model of: for each observation o, its likelihood is
// sum_i (m_i/p) * P(o | a_i), with P(o|a_i) = (1-eps) if o matches a_i, else
// eps/3; the per-sample log-likelihood is the sum over observations of the
// log of that mixture.
func logProbObservationsGivenGenotype(sample variant.Sample, g genotype.Genotype, rdf float64, useMappingQuality bool) float64 {
	ploidy := float64(g.Ploidy())
	if ploidy == 0 {
		return logspace.NegInf
	}
	counts := g.AlleleCounts()
	logProb := 0.0
	// readGroupSeen tracks how many prior observations from the same
	// read-group cluster have already been folded in, for the RDF
	// down-weighting of repeat observations.
	readGroupSeen := make(map[string]int)
	for key, obsList := range sample {
		for _, o := range obsList {
			eps := o.ErrorProb(useMappingQuality)
			mixture := 0.0
			for alleleKey, m := range counts {
				weight := float64(m) / ploidy
				var perObsProb float64
				if alleleKey == key {
					perObsProb = 1 - eps
				} else {
					perObsProb = eps / 3
				}
				mixture += weight * perObsProb
			}
			weightFactor := rdfWeight(rdf, readGroupSeen, o.ReadGroup)
			logProb += weightFactor * logspace.SafeLog(mixture)
		}
	}
	return logProb
}

// rdfWeight returns the down-weighting multiplier applied to the log
// contribution of the n-th observation (0-indexed) seen from a given
// read-group cluster: 1.0 for the first, rdf^n for subsequent ones. This
// down-weights repeat observations piled up from the same read-group
// cluster, which otherwise dominate the data likelihood out of proportion
// to their independent evidence.
func rdfWeight(rdf float64, seen map[string]int, readGroup string) float64 {
	if rdf >= 1.0 || rdf <= 0 {
		seen[readGroup]++
		return 1.0
	}
	n := seen[readGroup]
	seen[readGroup] = n + 1
	weight := 1.0
	for i := 0; i < n; i++ {
		weight *= rdf
	}
	return weight
}
