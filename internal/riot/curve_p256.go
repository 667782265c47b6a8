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

//go:build !riotsecp384r1 && !riotsecp521r1

package riot

import "crypto/elliptic"

// CurveOID is the DER arc list for the configured curve, consumed by
// internal/x509build when encoding SubjectPublicKeyInfo.
var CurveOID = []int{1, 2, 840, 10045, 3, 1, 7} // prime256v1

func init() {
	Curve = elliptic.P256()
}
