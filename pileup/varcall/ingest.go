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
	"context"
	"runtime"
	"sync"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	gbam "github.com/grailbio/varcall/encoding/bam"
	"github.com/grailbio/varcall/encoding/bamprovider"
	"github.com/grailbio/varcall/encoding/fasta"
	"github.com/grailbio/varcall/interval"
	"github.com/grailbio/varcall/variant"
	"github.com/grailbio/varcall/variant/caller"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// Sink receives every Decision the ingester produces, in no particular
// cross-shard order: each shard is scanned by a different goroutine, and
// sites carry no cross-site state, so ordering across sites is not
// semantically meaningful. Run serializes its calls to the sink with a
// mutex, so implementations need not be safe for concurrent use.
type Sink func(caller.Decision)

// ploidyOf is the fixed ploidy this ingester assumes for every sample at
// every site. The core takes ploidy as a per-sample, per-site input; a real
// multi-ploidy deployment would derive this from a sample sheet, but this
// ingester has no such external input, so it applies one constant.
const ploidyOf = 2

// target wraps the BED/region restriction this scan is limited to. restrict
// is false when neither -bed nor -region was given, in which case every
// position is in-target.
type target struct {
	union interval.BEDUnion
	restrict bool
}

// Run scans xampath (BAM or PAM) against faPath (a FASTA, optionally
// compressed), restricted to bedPath or region (mutually exclusive,
// following pileup/snp.Pileup's convention), and calls sink once per
// Decision, skipped or not. Ploidy is fixed at 2 for every sample (see
// ploidyOf).
func Run(ctx context.Context, xampath, faPath, bedPath, region string, opts *Opts, cfg variant.Config, sink Sink) (err error) {
	if opts == nil {
		o := DefaultOpts
		opts = &o
	}

	fa, err := loadReference(ctx, faPath)
	if err != nil {
		return errors.Wrap(err, "varcall.Run: opening reference")
	}

	// Aux fields must be retained: scanRecord reads the RG tag to group
	// observations by sample.
	dropFields := []gbam.FieldType{gbam.FieldTempLen}
	provider := bamprovider.NewProvider(xampath, bamprovider.ProviderOpts{
		Index: opts.BamIndexPath,
		DropFields: dropFields,
	})
	defer func() {
		if e := provider.Close(); e != nil && err == nil {
			err = e
		}
	}()

	header, err := provider.GetHeader()
	if err != nil {
		return errors.Wrap(err, "varcall.Run: reading header")
	}

	tgt, err := parseTarget(header, bedPath, region)
	if err != nil {
		return errors.Wrap(err, "varcall.Run: parsing target region")
	}

	shards, err := provider.GenerateShards(bamprovider.GenerateShardsOpts{
		Strategy: bamprovider.Automatic,
		Padding: opts.MaxReadSpan,
	})
	if err != nil {
		return errors.Wrap(err, "varcall.Run: sharding input")
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > len(shards) {
		parallelism = len(shards)
	}
	if parallelism == 0 {
		return nil
	}

	var mu sync.Mutex
	safeSink := func(d caller.Decision) {
		mu.Lock()
		sink(d)
		mu.Unlock()
	}

	log.Printf("varcall.Run: scanning %d shard(s) with %d worker(s)", len(shards), parallelism)
	return traverse.Each(parallelism, func(jobIdx int) error {
		nShard := len(shards)
		startIdx := (jobIdx * nShard) / parallelism
		endIdx := ((jobIdx + 1) * nShard) / parallelism
		for _, shard := range shards[startIdx:endIdx] {
			if e := scanShard(provider, fa, header, tgt, shard, opts, cfg, safeSink); e != nil {
				return errors.Wrapf(e, "varcall.Run: shard %s", shard.String())
			}
		}
		return nil
	})
}

// loadReference reads the whole reference FASTA into memory, following
// pileup.LoadFa's use of grailbio/base/file (transparent local/remote
// access) and grailbio/base/compress (transparent gzip/bgzf detection).
func loadReference(ctx context.Context, faPath string) (fa fasta.Fasta, err error) {
	in, err := file.Open(ctx, faPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	reader, err := compress.NewReader(in.Reader(ctx))
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return fasta.New(reader)
}

func parseTarget(header *sam.Header, bedPath, region string) (target, error) {
	if bedPath != "" {
		u, err := interval.NewBEDUnionFromPath(bedPath, interval.NewBEDOpts{SAMHeader: header})
		if err != nil {
			return target{}, err
		}
		return target{union: u, restrict: true}, nil
	}
	if region != "" {
		entry, err := interval.ParseRegionString(region)
		if err != nil {
			return target{}, err
		}
		u, err := interval.NewBEDUnionFromEntries([]interval.Entry{entry}, interval.NewBEDOpts{SAMHeader: header})
		if err != nil {
			return target{}, err
		}
		return target{union: u, restrict: true}, nil
	}
	return target{}, nil
}

func (t *target) contains(refID, pos int) bool {
	if !t.restrict {
		return true
	}
	return t.union.ContainsByID(refID, interval.PosType(pos))
}

func scanShard(provider bamprovider.Provider, fa fasta.Fasta, header *sam.Header, tgt target, shard gbam.Shard, opts *Opts, cfg variant.Config, sink Sink) error {
	coordRange := gbam.ShardToCoordRange(shard)
	refs := header.Refs
	refID := int(coordRange.Start.RefId)
	if refID < 0 || refID >= len(refs) {
		return nil
	}
	refName := refs[refID].Name
	refLen := refs[refID].Len
	refSeqStr, err := fa.Get(refName, 0, uint64(refLen))
	if err != nil {
		return errors.Wrapf(err, "reading reference sequence %s", refName)
	}
	refBases := []byte(refSeqStr)

	w := newWindow(opts.MaxReadSpan)
	emitPos := func(pos int, samples map[string]variant.Sample) {
		if pos < 0 || pos >= len(refBases) {
			return
		}
		site := caller.Site{
			SequenceName: refName,
			Position: pos,
			ReferenceBase: refBases[pos],
			InTargetRegion: tgt.contains(refID, pos),
			Samples: samples,
			Ploidy: ploidyMap(samples),
		}
		sink(caller.Call(site, cfg))
	}

	it := provider.NewIterator(shard)
	defer it.Close()
	for it.Scan() {
		r := it.Record()
		if !recordPasses(r, opts) {
			continue
		}
		scanRecord(w, r, refBases, 0, opts)
		w.flushThrough(r.Pos, emitPos)
	}
	if err := it.Err(); err != nil {
		return err
	}
	w.flushAll(int(coordRange.Limit.Pos), emitPos)
	return nil
}

func ploidyMap(samples map[string]variant.Sample) map[string]int {
	m := make(map[string]int, len(samples))
	for name := range samples {
		m[name] = ploidyOf
	}
	return m
}
