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

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/project-barnacle/barnacle-boot/internal/bpem"
	"github.com/project-barnacle/barnacle-boot/internal/riot"
	"github.com/project-barnacle/barnacle-boot/internal/store"
	"github.com/project-barnacle/barnacle-boot/internal/x509build"
)

var dumpCertsCSR bool

var dumpCertsCmd = &cobra.Command{
	Use:   "dump-certs",
	Short: "Prints the unit's certificate chain as PEM",
	Long: `Prints whatever is populated in IssuedCerts (root, device) and
FwCache (the cached alias certificate). With --csr, prints a fresh PKCS#10
certificate signing request for the device key instead, useful when a
fleet operator wants a third party to issue the device certificate rather
than accepting the factory self-signed one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := benchStore.Layout()

		devRaw, err := benchStore.Read(cfg.FwDeviceId)
		if err != nil {
			return err
		}
		dev, err := store.UnmarshalDeviceIdentity(devRaw)
		if err != nil {
			return err
		}
		if !dev.Provisioned() {
			return fmt.Errorf("dump-certs: unit is not provisioned")
		}
		devicePub, err := riot.DecodePublicKey(dev.Key.PubBytes())
		if err != nil {
			return err
		}

		if dumpCertsCSR {
			devicePriv := riot.DecodePrivateKey(dev.Key.PrivBytes(), devicePub)
			data := x509build.TBSData{
				IssuerCommon:  "Barnacle Device",
				IssuerOrg:     "Project Barnacle",
				IssuerCountry: "US",
			}
			buf := make([]byte, 2048)
			tbs, err := x509build.CSRTBS(buf, data, devicePub)
			if err != nil {
				return err
			}
			digest := riot.Hash(tbs.Bytes())
			sig, err := riot.Sign(digest[:], devicePriv)
			if err != nil {
				return err
			}
			if err := x509build.MakeCSR(tbs, sig); err != nil {
				return err
			}
			fmt.Print(string(bpem.Encode(bpem.TypeCertificateRequest, tbs.Bytes())))
			return nil
		}

		issuedRaw, err := benchStore.Read(cfg.IssuedCerts)
		if err != nil {
			return err
		}
		issued, err := store.UnmarshalIssuedCerts(issuedRaw)
		if err != nil {
			return err
		}
		if root := issued.Slot(store.IssuedRoot); root != nil {
			fmt.Print(string(root))
		}
		if device := issued.Slot(store.IssuedDevice); device != nil {
			fmt.Print(string(device))
		}

		cacheRaw, err := benchStore.Read(cfg.FwCache)
		if err != nil {
			return err
		}
		cached, err := store.UnmarshalCachedAgentData(cacheRaw, 4096)
		if err != nil {
			return err
		}
		if cached.Provisioned() {
			fmt.Print(string(cached.AliasCertPEM))
		}
		return nil
	},
}

func init() {
	dumpCertsCmd.Flags().BoolVar(&dumpCertsCSR, "csr", false, "print a PKCS#10 CSR for the device key instead of the issued certificates")
}
