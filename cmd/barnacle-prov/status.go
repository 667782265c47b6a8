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

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/project-barnacle/barnacle-boot/internal/bpem"
	"github.com/project-barnacle/barnacle-boot/internal/riot"
	"github.com/project-barnacle/barnacle-boot/internal/store"
	"github.com/project-barnacle/barnacle-boot/internal/x509build"
)

var statusShowKeys bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Reports the provisioning and rollback status of the unit",
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
			color.New(color.FgRed).Println("FwDeviceId: not provisioned")
			return nil
		}
		color.New(color.FgGreen).Println("FwDeviceId: provisioned")

		cacheRaw, err := benchStore.Read(cfg.FwCache)
		if err != nil {
			return err
		}
		cached, err := store.UnmarshalCachedAgentData(cacheRaw, 4096)
		if err != nil {
			return err
		}
		if cached.Provisioned() {
			fmt.Printf("FwCache: last agent version=%d issued=%d\n", cached.LastVersion, cached.LastIssued)
		} else {
			color.New(color.FgYellow).Println("FwCache: no agent has been verified yet")
		}

		if statusShowKeys {
			pub, err := riot.DecodePublicKey(dev.Key.PubBytes())
			if err != nil {
				return err
			}
			priv := riot.DecodePrivateKey(dev.Key.PrivBytes(), pub)
			buf := make([]byte, 512)
			pubDER, err := x509build.EncodePublicKey(buf, pub)
			if err != nil {
				return err
			}
			fmt.Print(string(bpem.Encode(bpem.TypePublicKey, pubDER.Bytes())))
			buf = make([]byte, 512)
			privDER, err := x509build.EncodePrivateKey(buf, pub, priv)
			if err != nil {
				return err
			}
			color.New(color.FgYellow).Fprint(cmd.OutOrStdout(), "-- private key material follows --\n")
			fmt.Print(string(bpem.Encode(bpem.TypeECPrivateKey, privDER.Bytes())))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusShowKeys, "show-keys", false, "print the device key pair, including private material")
}
