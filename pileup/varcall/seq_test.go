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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnpackSeqEvenLength(t *testing.T) {
	// "ACGT" packed two bases per byte: A=1, C=2, G=4, T=8.
	packed := []byte{0x12, 0x48}
	got := unpackSeq(nil, packed, 4)
	assert.Equal(t, "ACGT", string(got))
}

func TestUnpackSeqOddLength(t *testing.T) {
	// "ACG" packed: A=1,C=2 in first byte, G=4 in the high nibble of the
	// second (trailing nibble unused/ignored).
	packed := []byte{0x12, 0x40}
	got := unpackSeq(nil, packed, 3)
	assert.Equal(t, "ACG", string(got))
}

func TestUnpackSeqAppendsToDst(t *testing.T) {
	dst := []byte("prefix:")
	packed := []byte{0x18} // A, T
	got := unpackSeq(dst, packed, 2)
	assert.Equal(t, "prefix:AT", string(got))
}

func TestUnpackSeqAmbiguityCodes(t *testing.T) {
	// N=15 in both nibbles.
	packed := []byte{0xff}
	got := unpackSeq(nil, packed, 2)
	assert.Equal(t, "NN", string(got))
}
