/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"encoding/json"

	"github.com/lib/pq"
	"k8s.io/klog/v2"

	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
)

const TModuleProfile = "module_profiles"

// ModuleProfile is one row of the scanner-module catalog. Rows are
// created out-of-band by administrative migration; the engine only
// reads them.
type ModuleProfile struct {
	Name                    string         `gorm:"column:name;primaryKey"`
	ImageRef                string         `gorm:"column:image_ref"`
	ContainerName           string         `gorm:"column:container_name"`
	Dependencies            pq.StringArray `gorm:"column:dependencies;type:text[]"`
	ResourceTiers           []byte         `gorm:"column:resource_tiers;type:jsonb"`
	EstimatedSecondsPerUnit int            `gorm:"column:estimated_seconds_per_unit"`
	MaxBatchSize            int            `gorm:"column:max_batch_size"`
	OptimizationHints       []byte         `gorm:"column:optimization_hints;type:jsonb"`
	Enabled                 bool           `gorm:"column:enabled"`
}

func (ModuleProfile) TableName() string {
	return TModuleProfile
}

// ResourceTier is one entry of the ordered launch sizing list: the
// smallest tier whose threshold covers the batch size wins.
type ResourceTier struct {
	Threshold int `json:"threshold"`
	CpuUnits  int `json:"cpu_units"`
	MemoryMib int `json:"memory_mib"`
}

// Tiers decodes the resource_tiers JSON column.
func (p *ModuleProfile) Tiers() ([]ResourceTier, error) {
	if len(p.ResourceTiers) == 0 {
		return nil, nil
	}
	var tiers []ResourceTier
	if err := json.Unmarshal(p.ResourceTiers, &tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

// Hints decodes the optimization_hints JSON column.
func (p *ModuleProfile) Hints() (map[string]interface{}, error) {
	if len(p.OptimizationHints) == 0 {
		return nil, nil
	}
	var hints map[string]interface{}
	if err := json.Unmarshal(p.OptimizationHints, &hints); err != nil {
		return nil, err
	}
	return hints, nil
}

// SelectEnabledProfiles reads the enabled module catalog.
func (c *Client) SelectEnabledProfiles(ctx context.Context) ([]*ModuleProfile, error) {
	if c == nil || c.gorm == nil {
		return nil, commonerrors.NewInternalError("The client of db has not been initialized")
	}
	var profiles []*ModuleProfile
	result := c.gorm.WithContext(ctx).Where("enabled = ?", true).Order("name asc").Find(&profiles)
	if result.Error != nil {
		klog.ErrorS(result.Error, "failed to select module profiles")
		return nil, result.Error
	}
	return profiles, nil
}
