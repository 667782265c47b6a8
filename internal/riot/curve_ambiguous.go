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

//go:build riotsecp384r1 && riotsecp521r1

package riot

// This file compiles in only when riotsecp384r1 and riotsecp521r1 are both
// set, the build-tag combination none of curve_p256.go/curve_p384.go/
// curve_p521.go accepts. Without it the build would silently fall back to
// the package-level Curve default instead of rejecting the ambiguous
// configuration, the way x509bldr.c's #error does for an unresolvable
// #if/#elif chain.
func init() {
	panic("riot: more than one curve build tag set (riotsecp384r1 and riotsecp521r1); exactly one of riotsecp384r1, riotsecp521r1, or neither (for the P-256 default) must be set")
}
