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
package variant

import (
	"math"

	"github.com/grailbio/varcall/pileup"
)

// Observation is the core's view of a single read's contribution to a site,
// matching the ingester contract of: a called base, its base and
// mapping quality, and enough read/read-group identity to support the
// read-dependence factor.
type Observation struct {
	Allele Allele
	BaseQual uint8 // phred-scaled probability of sequencing error
	MapQual uint8 // phred-scaled probability of misalignment
	Strand pileup.StrandType
	ReadID string
	ReadGroup string
}

// ErrorProb returns the probability that Observation's base call is wrong,
// derived from BaseQual. With useMappingQuality it also folds in MapQual:
// the non-error probability (1-e) is multiplied by (1 - 10^(-MQ/10)), the
// probability that the read is correctly aligned, and the returned error
// probability is one minus that product.
func (o Observation) ErrorProb(useMappingQuality bool) float64 {
	e := phredToProb(o.BaseQual)
	if useMappingQuality {
		mq := phredToProb(o.MapQual)
		// (1-e) is scaled by (1-mq); renormalize so error+nonerror still sum to 1.
		nonErr := (1 - e) * (1 - mq)
		e = 1 - nonErr
	}
	return e
}

func phredToProb(q uint8) float64 {
	return probTable[q]
}

// probTable[q] = 10^(-q/10), precomputed for the full byte range the way
// pileup/snp/qual.go precomputes its phred tables.
var probTable [256]float64

func init() {
	for q := range probTable {
		probTable[q] = math.Pow(10, -float64(q)/10.0)
	}
}

// Sample maps an allele-equivalence-key to the ordered sequence of
// observations supporting that key for one sample. Invariant:
// summing len(v) over all values equals the sample's coverage at the site.
type Sample map[AlleleKey][]Observation

// Coverage returns the sample's total observation count at the site.
func (s Sample) Coverage() int {
	n := 0
	for _, obs := range s {
		n += len(obs)
	}
	return n
}

// Observations flattens the sample's grouped observations into one slice,
// in map iteration order over AlleleKeys, which Go randomizes from one call
// to the next (callers that need determinism should sort by AlleleKey first).
func (s Sample) Observations() []Observation {
	out := make([]Observation, 0, s.Coverage())
	for _, obs := range s {
		out = append(out, obs...)
	}
	return out
}
