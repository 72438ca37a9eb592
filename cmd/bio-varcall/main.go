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
package main

/*
bio-varcall is a Bayesian joint-genotype variant caller: it scans a
BAM/PAM against a reference FASTA and reports, for every covered
position, the posterior probability that the site carries a variant
and the most likely per-sample genotype.
*/

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/varcall/pileup/varcall"
	"github.com/grailbio/varcall/variant"
	"github.com/grailbio/varcall/variant/caller"
)

var (
	bedPath      = flag.String("bed", varcall.DefaultOpts.BedPath, "Input BED path; this xor -region restricts the scan to a target region")
	region       = flag.String("region", varcall.DefaultOpts.Region, "Restrict the scan to <contig>:<1-based first pos>-<last pos>, <contig>:<pos>, or <contig>; this xor -bed")
	bamIndexPath = flag.String("index", varcall.DefaultOpts.BamIndexPath, "Input BAM index path. Defaults to xampath + .bai")
	flagExclude  = flag.Int("flag-exclude", varcall.DefaultOpts.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
	mapq         = flag.Int("mapq", varcall.DefaultOpts.Mapq, "Reads with MAPQ below this level are skipped")
	maxReadLen   = flag.Int("max-read-len", varcall.DefaultOpts.MaxReadLen, "Upper bound on individual read length")
	maxReadSpan  = flag.Int("max-read-span", varcall.DefaultOpts.MaxReadSpan, "Upper bound on the size of reference region a single read maps to")
	parallelism  = flag.Int("parallelism", 0, "Maximum number of simultaneous shard-scanning goroutines; 0 = runtime.NumCPU()")
	tempDir      = flag.String("temp-dir", varcall.DefaultOpts.TempDir, "Directory to write temporary files to (default os.TempDir())")
	outPath      = flag.String("out", "", "Output TSV path; defaults to stdout")

	allowSNPs    = flag.Bool("allow-snps", variant.DefaultConfig.AllowSNPs, "Consider SNP candidate alleles")
	allowIndels  = flag.Bool("allow-indels", variant.DefaultConfig.AllowIndels, "Consider insertion/deletion candidate alleles")
	allowMNPs    = flag.Bool("allow-mnps", variant.DefaultConfig.AllowMNPs, "Consider MNP candidate alleles")
	useRefAllele = flag.Bool("use-ref-allele", variant.DefaultConfig.UseRefAllele, "Stored in the config but not read by the caller; the reference allele is always a candidate")

	minCoverage    = flag.Int("min-coverage", variant.DefaultConfig.MinCoverage, "Minimum total site coverage required to call")
	minAltCount    = flag.Int("min-alt-count", variant.DefaultConfig.MinAltCount, "Minimum observation count for a candidate alternate allele")
	minAltFraction = flag.Float64("min-alt-fraction", variant.DefaultConfig.MinAltFraction, "Minimum observation fraction for a candidate alternate allele")

	rdf               = flag.Float64("read-dependence-factor", variant.DefaultConfig.RDF, "Read-dependence discount applied to joint data likelihood")
	useMappingQuality = flag.Bool("use-mapping-quality", variant.DefaultConfig.UseMappingQuality, "Fold mapping quality into each observation's error probability")

	excludePartial    = flag.Bool("exclude-partially-observed-genotypes", variant.DefaultConfig.ExcludePartiallyObservedGenotypes, "Drop genotypes with an unobserved allele from a sample's candidate set")
	excludeUnobserved = flag.Bool("exclude-unobserved-genotypes", variant.DefaultConfig.ExcludeUnobservedGenotypes, "Drop genotypes with no observed allele at all")

	genotypeVariantThreshold = flag.Float64("genotype-variant-threshold", variant.DefaultConfig.GenotypeVariantThreshold, "With -permute off, only samples whose top two genotype log-likelihoods differ by less than this may vary in the combo search")

	pooled               = flag.Bool("pooled", variant.DefaultConfig.Pooled, "Stored in the config but not read by the caller; priors are always per sample")
	permute              = flag.Bool("permute", variant.DefaultConfig.Permute, "Let every sample vary in the banded combo search, not only variant-candidate samples")
	hwePriors            = flag.Bool("hwe-priors", variant.DefaultConfig.HWEPriors, "Apply Hardy-Weinberg equilibrium priors")
	obsBinomialPriors    = flag.Bool("obs-binomial-priors", variant.DefaultConfig.ObsBinomialPriors, "Apply observation-count binomial priors")
	alleleBalancePriors  = flag.Bool("allele-balance-priors", variant.DefaultConfig.AlleleBalancePriors, "Apply allele-balance priors")
	diffusionPriorScalar = flag.Float64("diffusion-prior-scalar", variant.DefaultConfig.DiffusionPriorScalar, "Neutral-diffusion (Ewens) prior scalar")

	bandwidth            = flag.Int("bandwidth", variant.DefaultConfig.Bandwidth, "Genotype-combo search bandwidth (WB)")
	depth                = flag.Int("depth", variant.DefaultConfig.Depth, "Genotype-combo search depth (TB)")
	genotypeComboStepMax = flag.Int("genotype-combo-step-max", variant.DefaultConfig.GenotypeComboStepMax, "Upper bound on genotype combos visited per site")
	topGenotypesPerSample = flag.Int("top-genotypes-per-sample", variant.DefaultConfig.TopGenotypesPerSample, "TH; stored in the config but not read by the combo search, which uses -depth")
	expectationMaximization = flag.Bool("em", variant.DefaultConfig.ExpectationMaximization, "Refine the combo search with expectation-maximization")
	emMaxIterations       = flag.Int("em-max-iterations", variant.DefaultConfig.EMMaxIterations, "Maximum EM iterations")

	calculateMarginals      = flag.Bool("calculate-marginals", variant.DefaultConfig.CalculateMarginals, "Iteratively marginalize per-sample genotype posteriors")
	genotypingMaxIterations = flag.Int("genotyping-max-iterations", variant.DefaultConfig.GenotypingMaxIterations, "Maximum marginalization iterations")

	pvl = flag.Float64("pvl", variant.DefaultConfig.PVL, "Minimum p(variant) for a site to be called")

	reportAllAlternates  = flag.Bool("report-all-alternates", variant.DefaultConfig.ReportAllAlternates, "Stored in the config but not read; each output row always lists every alternate of the chosen combo")
	showReferenceRepeats = flag.Bool("show-reference-repeats", variant.DefaultConfig.ShowReferenceRepeats, "Attach a repeat annotation to each decision; it holds only the reference base with count 1, and no repeat detection is done")
)

func bioVarcallUsage() {
	fmt.Printf("Usage: %s [OPTIONS] {b,p}ampath fapath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = bioVarcallUsage
	shutdown := grail.Init()
	defer shutdown()

	allArgs := flag.Args()
	nPositionalArgs := flag.NArg()
	positionalArgs := allArgs[len(allArgs)-nPositionalArgs:]
	if nPositionalArgs != 2 {
		if nPositionalArgs < 2 {
			log.Fatalf("Missing positional arguments ({b,p}ampath and fapath required); please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
		} else {
			log.Fatalf("Too many positional arguments (only {b,p}ampath and fapath expected); please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
		}
	}

	ctx := vcontext.Background()
	opts := varcall.Opts{
		BedPath:      *bedPath,
		Region:       *region,
		BamIndexPath: *bamIndexPath,
		FlagExclude:  *flagExclude,
		Mapq:         *mapq,
		MaxReadLen:   *maxReadLen,
		MaxReadSpan:  *maxReadSpan,
		Parallelism:  *parallelism,
		TempDir:      *tempDir,
	}
	cfg := variant.Config{
		AllowSNPs:                          *allowSNPs,
		AllowIndels:                        *allowIndels,
		AllowMNPs:                          *allowMNPs,
		UseRefAllele:                       *useRefAllele,
		MinCoverage:                        *minCoverage,
		MinAltCount:                        *minAltCount,
		MinAltFraction:                     *minAltFraction,
		RDF:                                *rdf,
		UseMappingQuality:                  *useMappingQuality,
		ExcludePartiallyObservedGenotypes:  *excludePartial,
		ExcludeUnobservedGenotypes:         *excludeUnobserved,
		GenotypeVariantThreshold:           *genotypeVariantThreshold,
		Pooled:                             *pooled,
		Permute:                            *permute,
		HWEPriors:                          *hwePriors,
		ObsBinomialPriors:                  *obsBinomialPriors,
		AlleleBalancePriors:                *alleleBalancePriors,
		DiffusionPriorScalar:               *diffusionPriorScalar,
		Bandwidth:                          *bandwidth,
		Depth:                              *depth,
		GenotypeComboStepMax:               *genotypeComboStepMax,
		TopGenotypesPerSample:              *topGenotypesPerSample,
		ExpectationMaximization:            *expectationMaximization,
		EMMaxIterations:                    *emMaxIterations,
		CalculateMarginals:                 *calculateMarginals,
		GenotypingMaxIterations:            *genotypingMaxIterations,
		PVL:                                *pvl,
		ReportAllAlternates:                *reportAllAlternates,
		ShowReferenceRepeats:               *showReferenceRepeats,
	}

	writer := io.Writer(os.Stdout)
	if *outPath != "" {
		f, err := file.Create(ctx, *outPath)
		if err != nil {
			log.Panicf("creating %s: %v", *outPath, err)
		}
		defer func() {
			if err := f.Close(ctx); err != nil {
				log.Printf("closing %s: %v", *outPath, err)
			}
		}()
		writer = f.Writer(ctx)
	}

	w, err := varcall.NewTSVWriter(writer)
	if err != nil {
		log.Panicf("%v", err)
	}

	sink := func(d caller.Decision) {
		if err := w.Write(d); err != nil {
			log.Printf("writing decision for %s:%d: %v", d.SequenceName, d.Position, err)
		}
	}
	err = varcall.Run(ctx, positionalArgs[0], positionalArgs[1], opts.BedPath, opts.Region, &opts, cfg, sink)
	if cerr := w.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		log.Panicf("%v", err)
	}
	log.Debug.Printf("exiting")
}
