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
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/varcall/variant"
	"github.com/grailbio/varcall/variant/caller"
	"github.com/grailbio/varcall/variant/genotype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTSVWriterWritesHeaderAndRow(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewTSVWriter(&buf)
	require.NoError(t, err)

	d := caller.Decision{
		SequenceName:     "chr1",
		Position:         99,
		ReferenceBase:     'A',
		PVariant:          0.999,
		Called:            true,
		Coverage:          30,
		AlternateAlleles:  []variant.Allele{{Kind: variant.SNP, Base: "G", Length: 1}},
		PerSampleGenotype: map[string]genotype.Genotype{"s1": {Alleles: []variant.Allele{{Kind: variant.Reference, Base: "A", Length: 1}, {Kind: variant.SNP, Base: "G", Length: 1}}}},
		PerSampleQuality:  map[string]float64{"s1": 42.5},
	}
	require.NoError(t, w.Write(d))
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "#CHROM")
	fields := strings.Split(lines[1], "\t")
	assert.Equal(t, "chr1", fields[0])
	assert.Equal(t, "100", fields[1]) // 1-based
	assert.Equal(t, "A", fields[2])
	assert.Equal(t, "G", fields[3])
	assert.Equal(t, "true", fields[5])
}

func TestTSVWriterSkipsSkippedDecisions(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewTSVWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.Write(caller.Decision{Skipped: true, SkipReason: caller.SkipMalformedInput}))
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 1, "only the header line should be present")
}

func TestFailedSinkSkipsCalledAndSkipped(t *testing.T) {
	assert.Nil(t, FailedSink(caller.Decision{Called: true}))
	assert.Nil(t, FailedSink(caller.Decision{Skipped: true}))
}

func TestFailedSinkEmitsOneRecordPerAlternateAllele(t *testing.T) {
	d := caller.Decision{
		SequenceName: "chr1",
		Position:     5,
		PVariant:     0.1,
		AlternateAlleles: []variant.Allele{
			{Kind: variant.SNP, Base: "G", Length: 1},
			{Kind: variant.Insertion, Base: "AT", Length: 2},
		},
	}
	recs := FailedSink(d)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].AlleleLength)
	assert.Equal(t, 2, recs[1].AlleleLength)
	for _, r := range recs {
		assert.Equal(t, "chr1", r.SequenceName)
		assert.Equal(t, 5, r.Position)
	}
}
