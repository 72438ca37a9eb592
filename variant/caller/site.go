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

// Package caller ties the genotype, likelihood, prior, combo and marginal
// packages together into the per-site decision pipeline: filtering, candidate-allele selection, and the top-level Call
// orchestration.
package caller

import (
	"github.com/grailbio/varcall/variant"
)

// Site is the per-position input the core consumes from the ingester: the
// reference base, position, target-region membership, and each sample's
// grouped observations and ploidy.
type Site struct {
	SequenceName string
	Position int // 0-based
	ReferenceBase byte
	InTargetRegion bool
	Samples map[string]variant.Sample
	Ploidy map[string]int
}

// SkipReason names why a site was not called, for logging and the
// failed-site sink.
type SkipReason string

const (
	SkipNone SkipReason = ""
	SkipMalformedInput SkipReason = "malformed_input"
	SkipBadReferenceBase SkipReason = "bad_reference_base"
	SkipOutsideTargets SkipReason = "outside_targets"
	SkipInsufficientCoverage SkipReason = "insufficient_coverage"
	SkipNoQualifyingAlt SkipReason = "no_qualifying_alt"
	SkipTooFewCandidates SkipReason = "too_few_candidate_alleles"
)

var validReferenceBases = map[byte]bool{'A': true, 'C': true, 'G': true, 'T': true}

// Filter rejects sites with a non-ACGT reference base, sites outside target
// regions, sites with zero or below-minimum coverage, and sites where no
// alternate allele group meets the minAltCount/minAltFraction threshold.
func Filter(site Site, cfg variant.Config) SkipReason {
	if !validReferenceBases[site.ReferenceBase] {
		return SkipBadReferenceBase
	}
	if !site.InTargetRegion {
		return SkipOutsideTargets
	}
	coverage := totalCoverage(site)
	if coverage == 0 || coverage < cfg.MinCoverage {
		return SkipInsufficientCoverage
	}
	if !hasQualifyingAlt(site, cfg, coverage) {
		return SkipNoQualifyingAlt
	}
	return SkipNone
}

// Validate catches malformed input: an observation with no base, or a
// sample with declared ploidy 0. Malformed input resolves to a skip, never
// a panic.
func Validate(site Site) SkipReason {
	for name, sample := range site.Samples {
		if site.Ploidy[name] <= 0 {
			return SkipMalformedInput
		}
		for _, obsList := range sample {
			for _, o := range obsList {
				if o.Allele.Base == "" && o.Allele.Kind != variant.Deletion {
					return SkipMalformedInput
				}
			}
		}
	}
	return SkipNone
}

func totalCoverage(site Site) int {
	n := 0
	for _, s := range site.Samples {
		n += s.Coverage()
	}
	return n
}

// hasQualifyingAlt reports whether at least one non-reference allele group
// has either minAltCount supporting observations or minAltFraction of the
// site's total coverage.
func hasQualifyingAlt(site Site, cfg variant.Config, coverage int) bool {
	refKey := variant.Allele{Kind: variant.Reference, Base: string(site.ReferenceBase), Length: 1}.Key()
	counts := groupCounts(site)
	for key, n := range counts {
		if key == refKey {
			continue
		}
		if n >= cfg.MinAltCount {
			return true
		}
		if coverage > 0 && float64(n)/float64(coverage) >= cfg.MinAltFraction {
			return true
		}
	}
	return false
}

func groupCounts(site Site) map[variant.AlleleKey]int {
	counts := make(map[variant.AlleleKey]int)
	for _, sample := range site.Samples {
		for key, obsList := range sample {
			counts[key] += len(obsList)
		}
	}
	return counts
}
