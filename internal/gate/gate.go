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

// Package gate implements the SecurityGate of spec §4.6: the last step
// before control transfers to the agent, sealing the device's private
// regions behind the on-chip firewall.
package gate

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/project-barnacle/barnacle-boot/internal/hal"
	"github.com/project-barnacle/barnacle-boot/internal/layout"
)

// SecurityGate configures and enables the firewall over FwDeviceId and
// FwCache before the agent runs.
type SecurityGate struct {
	fw hal.Firewall
	rc hal.ResetCause
}

// New constructs a SecurityGate over the given firewall and reset-cause
// peripherals.
func New(fw hal.Firewall, rc hal.ResetCause) *SecurityGate {
	return &SecurityGate{fw: fw, rc: rc}
}

// Seal declares [FwDeviceId.Base, FwCache.End()) as a single non-volatile data segment
// with no code segment and no volatile segment, matching spec §4.6: the two
// private regions are adjacent, so one range covers both. Once Enable
// returns, any fetch or data access to that range from outside the
// (empty) code segment latches a firewall reset until the device's next
// reset.
func (g *SecurityGate) Seal(cfg layout.Config) error {
	if cfg.FwDeviceId.End() != cfg.FwCache.Base {
		return fmt.Errorf("gate: FwDeviceId and FwCache are not adjacent, cannot seal with a single segment")
	}
	fwCfg := hal.FirewallConfig{
		NonVolatileDataStart:  cfg.FwDeviceId.Base,
		NonVolatileDataLength: cfg.FwDeviceId.Length + cfg.FwCache.Length,
	}
	if err := g.fw.Configure(fwCfg); err != nil {
		return fmt.Errorf("gate: configuring firewall: %w", err)
	}
	if err := g.fw.Enable(); err != nil {
		return fmt.Errorf("gate: enabling firewall: %w", err)
	}
	klog.Infof("gate: firewall enabled over [%#x, %#x)", fwCfg.NonVolatileDataStart, fwCfg.NonVolatileDataStart+fwCfg.NonVolatileDataLength)
	return nil
}

// LastResetWasViolation reports whether the previous reset was caused by a
// firewall violation, clearing the sticky flag afterward so the next
// query reflects only resets since this call, for post-violation
// diagnostics.
func (g *SecurityGate) LastResetWasViolation() bool {
	v := g.rc.FirewallViolation()
	g.rc.Clear()
	return v
}
