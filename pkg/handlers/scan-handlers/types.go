/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package scan_handlers

// CreateScanRequest is the inbound scan submission, keyed by asset so
// every asset selects its own modules and options.
type CreateScanRequest struct {
	Assets        map[string]AssetScanSpec `json:"assets"`
	ExecutionMode string                   `json:"executionMode,omitempty"`
	// BatchHint estimates producer inputs per asset for sizing.
	BatchHint int `json:"batchHint,omitempty"`
}

// AssetScanSpec selects the modules and options of one asset.
type AssetScanSpec struct {
	Modules []string          `json:"modules"`
	Options CreateScanOptions `json:"options,omitempty"`
}

type CreateScanOptions struct {
	ActiveDomainsOnly bool `json:"activeDomainsOnly,omitempty"`
}

// ModuleView is the outbound projection of one catalog entry.
type ModuleView struct {
	Name                    string   `json:"name"`
	Dependencies            []string `json:"dependencies,omitempty"`
	EstimatedSecondsPerUnit int      `json:"estimatedSecondsPerUnit"`
	MaxBatchSize            int      `json:"maxBatchSize"`
}

// ModuleList is the outbound module catalog.
type ModuleList struct {
	Total   int          `json:"total"`
	Modules []ModuleView `json:"modules"`
}

// HealthStatus reports liveness of the engine's dependencies.
type HealthStatus struct {
	Status string `json:"status"`
	Bus    string `json:"bus"`
}
