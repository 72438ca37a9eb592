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

// nt16Bases is BAM's 4-bit base encoding table (SAM spec sec. 4.2.3), one
// ASCII byte per nibble value.
var nt16Bases = [16]byte{'=', 'A', 'C', 'M', 'G', 'R', 'S', 'V', 'T', 'W', 'Y', 'H', 'K', 'D', 'B', 'N'}

// unpackSeq expands a record's packed 4-bit-per-base Seq into one ASCII byte
// per base, appending to dst. pileup/snp does the equivalent unpacking with
// the SIMD-accelerated biosimd.UnpackSeq; this module doesn't carry
// biosimd (see DESIGN.md — it's an assembly-only package with no
// third-party-library substitute), so it unpacks with a plain table lookup
// instead.
func unpackSeq(dst []byte, packed []byte, length int) []byte {
	for i := 0; i < length; i++ {
		b := packed[i/2]
		var nibble byte
		if i%2 == 0 {
			nibble = b >> 4
		} else {
			nibble = b & 0xf
		}
		dst = append(dst, nt16Bases[nibble])
	}
	return dst
}
