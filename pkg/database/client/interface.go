/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"

	sqrl "github.com/Masterminds/squirrel"
)

type Interface interface {
	ScanInterface
	ModuleJobInterface
	ModuleProfileInterface
}

type ScanInterface interface {
	InsertScan(ctx context.Context, scan *Scan) error
	GetScan(ctx context.Context, scanId string) (*Scan, error)
	SelectScans(ctx context.Context, query sqrl.Sqlizer, sortBy, order string, limit, offset int) ([]*Scan, error)
	CountScans(ctx context.Context, query sqrl.Sqlizer) (int, error)
	MarkScanRunning(ctx context.Context, scanId string) error
	BumpScanCounter(ctx context.Context, scanId, counter string) error
	FinalizeScan(ctx context.Context, scanId string, status ScanStatus, message string) error
}

type ModuleJobInterface interface {
	InsertModuleJobs(ctx context.Context, jobs []*ModuleJob) error
	AttachTaskHandle(ctx context.Context, jobId, handle string) error
	ListJobs(ctx context.Context, scanId string) ([]*ModuleJob, error)
	ListJobsForAsset(ctx context.Context, scanId, assetId string) ([]*ModuleJob, error)
	GetJobStatuses(ctx context.Context, jobIds []string) (map[string]*JobStatusView, error)
	MarkJobFailed(ctx context.Context, jobId, message string) error
	MarkJobsTimeout(ctx context.Context, jobIds []string) error
}

type ModuleProfileInterface interface {
	SelectEnabledProfiles(ctx context.Context) ([]*ModuleProfile, error)
}
