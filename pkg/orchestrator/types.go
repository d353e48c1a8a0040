/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package orchestrator

import (
	"time"

	"github.com/caffeinedoom/neobotnet/pkg/pipeline"
)

// AssetSpec is the per-asset portion of a scan request: the modules to
// run against that asset and the flags forwarded to its workers.
type AssetSpec struct {
	Modules []string
	Options pipeline.Options
}

// ScanRequest is the validated intake of one scan. Every asset carries
// its own module set and options.
type ScanRequest struct {
	OwnerId       string
	Assets        map[string]AssetSpec
	ExecutionMode string
	// BatchHint is the caller's estimate of producer inputs per asset,
	// used for resource sizing and duration estimation. Zero means
	// unknown.
	BatchHint int
}

// ScanAccepted is the immediate response to a scan request; the scan
// itself runs in the background.
type ScanAccepted struct {
	ScanId           string `json:"scanId"`
	CorrelationId    string `json:"correlationId"`
	Status           string `json:"status"`
	AssetsRequested  int    `json:"assetsRequested"`
	EstimatedSeconds int    `json:"estimatedSeconds"`
}

// ScanSummary is the list-view projection of one scan row.
type ScanSummary struct {
	ScanId          string `json:"scanId"`
	OwnerId         string `json:"ownerId"`
	Status          string `json:"status"`
	ExecutionMode   string `json:"executionMode"`
	CorrelationId   string `json:"correlationId"`
	AssetsRequested int    `json:"assetsRequested"`
	AssetsCompleted int    `json:"assetsCompleted"`
	AssetsFailed    int    `json:"assetsFailed"`
	AssetsPartial   int    `json:"assetsPartial"`
	RequestedAt     string `json:"requestedAt,omitempty"`
	StartedAt       string `json:"startedAt,omitempty"`
	CompletedAt     string `json:"completedAt,omitempty"`
	Message         string `json:"message,omitempty"`
}

// JobView is the per-module disposition inside a scan detail.
type JobView struct {
	JobId       string `json:"jobId"`
	Module      string `json:"module"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	TaskHandle  string `json:"taskHandle,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	StartedAt   string `json:"startedAt,omitempty"`
	CompletedAt string `json:"completedAt,omitempty"`
	ResultCount int64  `json:"resultCount"`
	Error       string `json:"error,omitempty"`
}

// AssetJobs groups the jobs of one asset.
type AssetJobs struct {
	AssetId string    `json:"assetId"`
	Jobs    []JobView `json:"jobs"`
}

// ScanDetail is the full projection of one scan with its per-asset,
// per-module job dispositions.
type ScanDetail struct {
	ScanSummary
	Assets []AssetJobs `json:"assets"`
}

// ScanList is a paged scan listing.
type ScanList struct {
	Total int            `json:"total"`
	Scans []*ScanSummary `json:"scans"`
}

// assetOutcome carries one finished pipeline back to the aggregation
// loop.
type assetOutcome struct {
	assetId string
	status  pipeline.Status
	err     error
	elapsed time.Duration
}
