// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package varcall

import (
	"github.com/grailbio/varcall/encoding/bam"
	"github.com/grailbio/varcall/pileup"
	"github.com/grailbio/varcall/variant"
	"github.com/grailbio/hts/sam"
)

var rgTag = sam.Tag{'R', 'G'}

// sampleName returns the record's RG aux value, or defaultSampleName if
// unset — grounded on markduplicates/helpers.go's getReadGroup.
func sampleName(r *sam.Record) string {
	aux := r.AuxFields.Get(rgTag)
	if aux == nil {
		return defaultSampleName
	}
	if s, ok := aux.Value().(string); ok && s != "" {
		return s
	}
	return defaultSampleName
}

// recordPasses applies the same coarse per-read filters as
// pileup/snp.pileupSNPMain's main scan loop: excluded FLAG bits, MAPQ floor,
// and a non-empty CIGAR (unmapped or CIGAR-less records carry no per-base
// alignment information usable by the caller).
func recordPasses(r *sam.Record, opts *Opts) bool {
	return opts.FlagExclude&int(r.Flags) == 0 &&
		int(r.MapQ) >= opts.Mapq &&
		len(r.Cigar) > 0
}

// scanRecord walks r's CIGAR against the reference, adding one Observation
// per aligned (M) reference position to w, plus a single-position indel
// marker per indel event: an Insertion at the reference position that
// follows the inserted bases, a Deletion at the first deleted reference
// position. It emits only Reference, SNP, Insertion and Deletion
// observations; no stage of the pipeline builds MNP or Complex alleles.
func scanRecord(w *window, r *sam.Record, refBases []byte, refStart int, opts *Opts) {
	sample := sampleName(r)
	lSeq := len(r.Qual)
	seq := unpackSeq(make([]byte, 0, lSeq), bam.UnsafeDoubletsToBytes(r.Seq.Seq), lSeq)
	qual := r.Qual
	strand := pileup.GetStrand(r)

	posInRef := r.Pos
	posInRead := 0
	for _, co := range r.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch:
			for i := 0; i < n; i++ {
				refIdx := posInRef + i - refStart
				if refIdx < 0 || refIdx >= len(refBases) {
					continue
				}
				base := seq[posInRead+i]
				ref := refBases[refIdx]
				allele := variant.Allele{Kind: variant.Reference, Base: string(ref), Length: 1}
				if base != ref {
					allele = variant.Allele{Kind: variant.SNP, Base: string(base), Length: 1}
				}
				obs := variant.Observation{
					Allele:    allele,
					BaseQual:  clampQual(qual[posInRead+i]),
					MapQual:   r.MapQ,
					Strand:    strand,
					ReadID:    r.Name,
					ReadGroup: sample,
				}
				w.add(posInRef+i, sample, allele.Key(), obs)
			}
			posInRef += n
			posInRead += n
		case sam.CigarInsertion:
			base := string(seq[posInRead : posInRead+n])
			allele := variant.Allele{Kind: variant.Insertion, Base: base, Length: n}
			obs := variant.Observation{
				Allele:    allele,
				BaseQual:  clampQual(minQual(qual[posInRead : posInRead+n])),
				MapQual:   r.MapQ,
				Strand:    strand,
				ReadID:    r.Name,
				ReadGroup: sample,
			}
			w.add(posInRef, sample, allele.Key(), obs)
			posInRead += n
		case sam.CigarDeletion, sam.CigarSkipped:
			if co.Type() == sam.CigarDeletion {
				allele := variant.Allele{Kind: variant.Deletion, Base: "", Length: n}
				obs := variant.Observation{
					Allele:    allele,
					BaseQual:  clampQual(r.MapQ),
					MapQual:   r.MapQ,
					Strand:    strand,
					ReadID:    r.Name,
					ReadGroup: sample,
				}
				w.add(posInRef, sample, allele.Key(), obs)
			}
			posInRef += n
		case sam.CigarSoftClipped:
			posInRead += n
		case sam.CigarHardClipped, sam.CigarPadded:
			// no-op: consumes neither reference nor read-sequence positions of
			// interest here.
		}
	}
}

func clampQual(q byte) uint8 {
	return uint8(q)
}

func minQual(qs []byte) byte {
	m := byte(255)
	for _, q := range qs {
		if q < m {
			m = q
		}
	}
	return m
}
