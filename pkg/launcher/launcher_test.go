/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package launcher

import (
	"testing"

	"gotest.tools/assert"

	dbclient "github.com/caffeinedoom/neobotnet/pkg/database/client"
)

func TestSelectTier(t *testing.T) {
	tiers := []dbclient.ResourceTier{
		{Threshold: 500, CpuUnits: 1024, MemoryMib: 2048},
		{Threshold: 100, CpuUnits: 512, MemoryMib: 1024},
		{Threshold: 2000, CpuUnits: 2048, MemoryMib: 4096},
	}

	tests := []struct {
		name     string
		batch    int
		cpuUnits int
	}{
		{"zero batch takes the smallest tier", 0, 512},
		{"under the first threshold", 80, 512},
		{"exactly on a threshold", 100, 512},
		{"between thresholds", 400, 1024},
		{"upper tier", 1500, 2048},
		{"overflow takes the largest tier", 99999, 2048},
	}
	for _, tt := range tests {
		tier := SelectTier(tiers, tt.batch)
		assert.Assert(t, tier != nil, tt.name)
		assert.Equal(t, tier.CpuUnits, tt.cpuUnits, tt.name)
	}

	assert.Assert(t, SelectTier(nil, 10) == nil)
}
