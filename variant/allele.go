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

// Package variant defines the data model shared by the Bayesian joint
// genotype caller: alleles, per-sample observations, and the site-level
// configuration and decision types. Everything here is scoped to a single
// call to caller.Call; nothing survives across sites.
package variant

import (
	farm "github.com/dgryski/go-farm"
)

// Kind tags the variant class of an Allele, mirroring the observed source's
// tagged-variant design: dispatch stays on plain methods rather
// than an interface-per-kind, matching pileup.BaseA..BaseX's enum-table
// style.
type Kind uint8

const (
	// Reference is the allele matching the reference base(s) at a site.
	Reference Kind = iota
	// SNP is a single-nucleotide substitution.
	SNP
	// MNP is a multi-nucleotide substitution of fixed length.
	MNP
	// Insertion is a sequence inserted relative to the reference.
	Insertion
	// Deletion is a sequence deleted relative to the reference.
	Deletion
	// Complex covers alleles that don't fit the other categories cleanly
	// (e.g. combined substitution+indel at one position).
	Complex
	// GenotypeSynthetic marks alleles manufactured purely to seed genotype
	// enumeration (e.g. freebayes's "allGenotypeAlleles" A/C/G/T set) rather
	// than observed on any read.
	GenotypeSynthetic
)

func (k Kind) String() string {
	switch k {
	case Reference:
		return "ref"
	case SNP:
		return "snp"
	case MNP:
		return "mnp"
	case Insertion:
		return "ins"
	case Deletion:
		return "del"
	case Complex:
		return "complex"
	case GenotypeSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// KindMask is a bitset over Kind values, used to configure which allele
// kinds are eligible for candidate-genotype-allele selection.
type KindMask uint8

const (
	MaskReference KindMask = 1 << Reference
	MaskSNP KindMask = 1 << SNP
	MaskMNP KindMask = 1 << MNP
	MaskInsertion KindMask = 1 << Insertion
	MaskDeletion KindMask = 1 << Deletion
	MaskComplex KindMask = 1 << Complex
	MaskIndel KindMask = MaskInsertion | MaskDeletion
)

// Allows reports whether k is permitted under mask.
func (mask KindMask) Allows(k Kind) bool {
	return mask&(1<<k) != 0
}

// Allele is a single observed or candidate variant unit at a site.
// Two alleles are equivalent exactly when Kind, Base and Length all match;
// Key computes the grouping tuple used throughout the pipeline.
type Allele struct {
	Kind Kind
	Base string
	// Length is the allele's length: 1 for a SNP, the number of inserted
	// bases for an Insertion, the number of deleted reference bases for a
	// Deletion. It is carried separately from len(Base) because indel
	// alleles may need this to differ (a Deletion's Base is empty).
	Length int
}

// AlleleKey is the equivalence-grouping key for an Allele.
type AlleleKey struct {
	Kind Kind
	Base string
	Length int
}

// Key returns a's equivalence-grouping key.
func (a Allele) Key() AlleleKey {
	return AlleleKey{Kind: a.Kind, Base: a.Base, Length: a.Length}
}

// Equal reports whether a and b are equivalent alleles.
func (a Allele) Equal(b Allele) bool {
	return a.Kind == b.Kind && a.Base == b.Base && a.Length == b.Length
}

// Hash64 returns a stable 64-bit hash of the key. Sample and the grouping
// maps in variant/caller key on AlleleKey itself, not on this hash. Grounded
// on fusion/kmer_index.go's
// use of dgryski/go-farm for hashing short nucleotide strings during
// candidate-sequence indexing.
func (k AlleleKey) Hash64() uint64 {
	h := farm.Hash64([]byte(k.Base))
	// Fold in kind and length so that, e.g., a 1bp deletion of "A" never
	// collides in intent with a SNP to "A".
	h ^= uint64(k.Kind) * 0x9E3779B97F4A7C15
	h ^= uint64(uint32(k.Length)) << 32
	return h
}
