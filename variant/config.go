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

// Config collects every tunable of the calling pipeline in one flat struct
// suitable for direct command-line flag binding.
type Config struct {
	// Candidate-kind filter. UseRefAllele is stored only: no stage of the
	// pipeline reads it, and the reference allele is always a candidate.
	AllowSNPs bool
	AllowIndels bool
	AllowMNPs bool
	UseRefAllele bool

	// Site Filter thresholds.
	MinCoverage int
	MinAltCount int
	MinAltFraction float64

	// Data Likelihood.
	RDF float64 // read-dependence factor
	UseMappingQuality bool

	// Per-sample genotype pre-filter.
	ExcludePartiallyObservedGenotypes bool
	ExcludeUnobservedGenotypes bool

	// Variant-candidate flagging.
	GenotypeVariantThreshold float64

	// Prior toggles and parameters. Pooled is stored only: no stage of the
	// pipeline reads it, and priors are always computed per sample.
	Pooled bool
	Permute bool
	HWEPriors bool
	ObsBinomialPriors bool
	AlleleBalancePriors bool
	DiffusionPriorScalar float64

	// Combo Search bounds.
	Bandwidth int // WB
	Depth int // TB
	GenotypeComboStepMax int
	TopGenotypesPerSample int // TH: stored only; no stage of the pipeline reads it (the search uses Depth)
	ExpectationMaximization bool
	EMMaxIterations int

	// Marginalizer.
	CalculateMarginals bool
	GenotypingMaxIterations int

	// Decision.
	PVL float64 // variant-call probability threshold

	// Reporting. ReportAllAlternates is stored only: no stage reads it, and
	// each Decision always carries all alternates of its chosen combo.
	// ShowReferenceRepeats attaches a placeholder RepeatAnnotation (see
	// caller.referenceRepeats).
	ReportAllAlternates bool
	ShowReferenceRepeats bool
}

// DefaultConfig mirrors freebayes's historical defaults.
var DefaultConfig = Config{
	AllowSNPs: true,
	AllowIndels: true,
	AllowMNPs: true,
	UseRefAllele: false,
	MinCoverage: 0,
	MinAltCount: 2,
	MinAltFraction: 0.05,
	RDF: 0.9,
	UseMappingQuality: false,
	GenotypeVariantThreshold: 0,
	Pooled: false,
	Permute: true,
	HWEPriors: true,
	ObsBinomialPriors: true,
	AlleleBalancePriors: true,
	DiffusionPriorScalar: 0.001,
	Bandwidth: 2,
	Depth: 3,
	GenotypeComboStepMax: 100000,
	TopGenotypesPerSample: 3,
	ExpectationMaximization: false,
	EMMaxIterations: 10,
	CalculateMarginals: true,
	GenotypingMaxIterations: 10,
	PVL: 0.9,
	ReportAllAlternates: false,
	ShowReferenceRepeats: false,
}
