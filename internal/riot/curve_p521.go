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

//go:build riotsecp521r1 && !riotsecp384r1

package riot

import "crypto/elliptic"

// CurveOID is the DER arc list for the configured curve.
var CurveOID = []int{1, 3, 132, 0, 35} // ansip521r1

func init() {
	Curve = elliptic.P521()
}
