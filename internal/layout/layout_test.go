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

package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	agentHdr := Region{Base: 0, Length: 4096}
	agentCode := Region{Base: agentHdr.End(), Length: 8192}
	issuedCerts := Region{Base: agentCode.End(), Length: 4096}
	fwDeviceId := Region{Base: issuedCerts.End(), Length: 512}
	fwCache := Region{Base: fwDeviceId.End(), Length: 4096}
	return Config{
		AgentHdr:    agentHdr,
		AgentCode:   agentCode,
		IssuedCerts: issuedCerts,
		FwDeviceId:  fwDeviceId,
		FwCache:     fwCache,
		PageSize:    4096,
	}
}

func TestValidateAcceptsWellFormedLayout(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsZeroPageSize(t *testing.T) {
	cfg := validConfig()
	cfg.PageSize = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroLengthRegion(t *testing.T) {
	cfg := validConfig()
	cfg.FwCache.Length = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsGapBetweenHeaderAndCode(t *testing.T) {
	cfg := validConfig()
	cfg.AgentCode.Base += 4
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOverlappingRegions(t *testing.T) {
	cfg := validConfig()
	cfg.FwCache.Base = cfg.FwDeviceId.Base // force an overlap
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnalignedIssuedCerts(t *testing.T) {
	cfg := validConfig()
	cfg.IssuedCerts.Base++
	cfg.AgentCode.Length++ // keep AgentCode adjacent to AgentHdr
	assert.Error(t, cfg.Validate())
}

func TestAgentAreaPagesComputesSpanOverPageSize(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	want := (cfg.IssuedCerts.Base - cfg.AgentHdr.Base) / cfg.PageSize
	assert.Equal(t, want, cfg.AgentAreaPages())
}

func TestRegionEnd(t *testing.T) {
	r := Region{Base: 100, Length: 50}
	assert.Equal(t, uint32(150), r.End())
}
