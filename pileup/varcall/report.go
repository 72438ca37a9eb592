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
package varcall

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/varcall/variant/caller"
	"github.com/grailbio/varcall/variant/genotype"
)

// genotypeString renders g's alleles slash-separated, e.g. "A/G", the
// common VCF-style genotype rendering.
func genotypeString(g genotype.Genotype) string {
	bases := make([]string, len(g.Alleles))
	for i, a := range g.Alleles {
		bases[i] = a.Base
	}
	return strings.Join(bases, "/")
}

// TSVWriter renders accepted Decisions as a tab-separated table, following
// pileup/snp/basestrand.go's WriteBaseStrandToTSV shape: a header line, then
// one row per call.
type TSVWriter struct {
	out *tsv.Writer
}

// NewTSVWriter wraps w and writes the header line immediately.
func NewTSVWriter(w io.Writer) (*TSVWriter, error) {
	out := tsv.NewWriter(w)
	out.WriteString("#CHROM\tPOS\tREF\tALT\tPVARIANT\tCALLED\tCOVERAGE\tGENOTYPES\tQUALS")
	if err := out.EndLine(); err != nil {
		return nil, err
	}
	return &TSVWriter{out: out}, nil
}

// Write appends one row for d. Skipped decisions are omitted (FailedSink
// omits them too; it covers evaluated sites that were not called).
func (w *TSVWriter) Write(d caller.Decision) error {
	if d.Skipped {
		return nil
	}
	alts := make([]string, len(d.AlternateAlleles))
	for i, a := range d.AlternateAlleles {
		alts[i] = a.Base
	}
	altCol := strings.Join(alts, ",")
	if altCol == "" {
		altCol = "."
	}

	names := make([]string, 0, len(d.PerSampleGenotype))
	for name := range d.PerSampleGenotype {
		names = append(names, name)
	}
	sort.Strings(names)
	genotypes := make([]string, len(names))
	quals := make([]string, len(names))
	for i, name := range names {
		genotypes[i] = fmt.Sprintf("%s=%s", name, genotypeString(d.PerSampleGenotype[name]))
		quals[i] = fmt.Sprintf("%s=%.1f", name, d.PerSampleQuality[name])
	}

	w.out.WriteString(d.SequenceName)
	w.out.WriteUint32(uint32(d.Position + 1)) // 1-based, matching WriteBaseStrandToTSV's convention
	w.out.WriteString(string(d.ReferenceBase))
	w.out.WriteString(altCol)
	w.out.WriteString(strconv.FormatFloat(d.PVariant, 'f', 6, 64))
	w.out.WriteString(strconv.FormatBool(d.Called))
	w.out.WriteUint32(uint32(d.Coverage))
	w.out.WriteString(strings.Join(genotypes, ";"))
	w.out.WriteString(strings.Join(quals, ";"))
	return w.out.EndLine()
}

// Close flushes any buffered output.
func (w *TSVWriter) Close() error {
	return w.out.Flush()
}

// FailedRecord is one row of the failed-site trace: one alternate allele of
// a rejected site's chosen combo, reported by position and length so a
// downstream QC pass can audit what the threshold excluded.
type FailedRecord struct {
	SequenceName string
	Position int
	AlleleLength int
	PVariant float64
}

// FailedSink returns one FailedRecord per allele in d.AlternateAlleles (the
// alternates of the chosen combo) for every evaluated site that was not
// called (PVariant < PVL). Candidate alleles that do not appear in the
// chosen combo get no record, so a rejected site whose chosen combo is all
// reference yields none.
func FailedSink(d caller.Decision) []FailedRecord {
	if d.Skipped || d.Called {
		return nil
	}
	recs := make([]FailedRecord, 0, len(d.AlternateAlleles))
	for _, a := range d.AlternateAlleles {
		recs = append(recs, FailedRecord{
			SequenceName: d.SequenceName,
			Position: d.Position,
			AlleleLength: a.Length,
			PVariant: d.PVariant,
		})
	}
	return recs
}
