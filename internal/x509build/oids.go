// Copyright 2024 The Barnacle Boot authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package x509build

// OID arc lists, mirroring the static int[] tables in the original's
// x509bldr.c. The encoder's OID adder there expects a -1 sentinel; this
// package's internal/der.OID takes a plain slice instead.
var (
	riotOID                 = []int{2, 23, 133, 5, 4, 1}
	ecdsaWithSHA256OID      = []int{1, 2, 840, 10045, 4, 3, 2}
	ecPublicKeyOID          = []int{1, 2, 840, 10045, 2, 1}
	keyUsageOID             = []int{2, 5, 29, 15}
	extKeyUsageOID          = []int{2, 5, 29, 37}
	extAuthKeyIdentifierOID = []int{2, 5, 29, 35}
	clientAuthOID           = []int{1, 3, 6, 1, 5, 5, 7, 3, 2}
	sha256OID               = []int{2, 16, 840, 1, 101, 3, 4, 2, 1}
	commonNameOID           = []int{2, 5, 4, 3}
	countryNameOID          = []int{2, 5, 4, 6}
	orgNameOID              = []int{2, 5, 4, 10}
	basicConstraintsOID     = []int{2, 5, 29, 19}
)

// keyUsage is the digitalSignature|keyCertSign KeyUsage bit pattern spec §4.3
// requires on every certificate this package builds: bit 0 (MSB,
// digitalSignature) and bit 5 (keyCertSign) set.
const keyUsage = byte(0x84)
