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

// Package varcall adapts variant/caller.Call to streaming BAM/PAM input: it
// turns aligned reads into per-position variant.Sample maps and drives the
// core decision pipeline across a whole genome or target region.
package varcall

// Opts holds the ingester's commandline-shaped options, in the same flat,
// DefaultOpts-paired style as pileup/snp.Opts.
type Opts struct {
	BedPath string
	Region string
	BamIndexPath string
	FlagExclude int
	Mapq int
	MaxReadLen int
	MaxReadSpan int
	Parallelism int
	TempDir string
}

// DefaultOpts mirrors pileup/snp.DefaultOpts's defaults for the options the
// two ingesters share.
var DefaultOpts = Opts{
	FlagExclude: 0xf00,
	Mapq: 60,
	MaxReadLen: 500,
	MaxReadSpan: 511,
	Parallelism: 0,
}

// defaultSampleName is used for every read whose RG aux tag is absent, empty
// or not a string; otherwise the RG value itself is the sample name. Most
// test and single-sample-BAM inputs never set @RG/SM at all.
const defaultSampleName = "sample"
