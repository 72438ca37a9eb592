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
)

// kindMaskFromConfig builds the KindMask that gates candidate-allele
// selection. The
// reference allele is always allowed; GenotypeSynthetic alleles never are.
// Complex alleles are allowed exactly when indels are (AllowIndels),
// matching freebayes's treatment of complex events as indel-adjacent.
func kindMaskFromConfig(cfg variant.Config) variant.KindMask {
	mask := variant.MaskReference
	if cfg.AllowSNPs {
		mask |= variant.MaskSNP
	}
	if cfg.AllowMNPs {
		mask |= variant.MaskMNP
	}
	if cfg.AllowIndels {
		mask |= variant.MaskIndel | variant.MaskComplex
	}
	return mask
}

// SelectCandidateAlleles always includes the reference allele, then includes
// each alternate allele group that passes the per-allele
// minAltCount/minAltFraction threshold and whose kind is enabled in cfg.
// The reference comes first; the alternates follow, sorted by descending
// group count (ties broken by AlleleKey) so downstream reporting naturally ranks the most-observed
// alternates first. ok is false if, after filtering, at most one candidate
// remains: with nothing to compare the reference against, the site cannot
// carry a variant and calling it would be meaningless.
func SelectCandidateAlleles(site Site, cfg variant.Config) (candidates []variant.Allele, ok bool) {
	mask := kindMaskFromConfig(cfg)
	coverage := totalCoverage(site)
	counts := groupCounts(site)
	refKey := variant.Allele{Kind: variant.Reference, Base: string(site.ReferenceBase), Length: 1}.Key()

	type scored struct {
		allele variant.Allele
		count int
	}
	var alts []scored
	for key, n := range counts {
		allele := variant.Allele{Kind: key.Kind, Base: key.Base, Length: key.Length}
		if key == refKey {
			continue
		}
		if !mask.Allows(key.Kind) {
			continue
		}
		qualifies := n >= cfg.MinAltCount || (coverage > 0 && float64(n)/float64(coverage) >= cfg.MinAltFraction)
		if !qualifies {
			continue
		}
		alts = append(alts, scored{allele, n})
	}
	sort.Slice(alts, func(i, j int) bool {
		if alts[i].count != alts[j].count {
			return alts[i].count > alts[j].count
		}
		return lessAllele(alts[i].allele, alts[j].allele)
	})

	candidates = make([]variant.Allele, 0, len(alts)+1)
	candidates = append(candidates, variant.Allele{Kind: variant.Reference, Base: string(site.ReferenceBase), Length: 1})
	for _, s := range alts {
		candidates = append(candidates, s.allele)
	}
	return candidates, len(candidates) > 1
}

func lessAllele(a, b variant.Allele) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Base != b.Base {
		return a.Base < b.Base
	}
	return a.Length < b.Length
}
