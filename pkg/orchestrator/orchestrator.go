/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package orchestrator fans a validated scan request out to one
// pipeline per asset, bounded by a semaphore, and aggregates the
// results into the scan row. The request path stays synchronous only
// for validation and the pending insert; everything else runs in the
// background.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"k8s.io/klog/v2"

	commonconfig "github.com/caffeinedoom/neobotnet/pkg/config"
	dbclient "github.com/caffeinedoom/neobotnet/pkg/database/client"
	dbutils "github.com/caffeinedoom/neobotnet/pkg/database/utils"
	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
	"github.com/caffeinedoom/neobotnet/pkg/pipeline"
	"github.com/caffeinedoom/neobotnet/pkg/registry"
)

// PipelineRunner drives one asset to a terminal aggregate.
type PipelineRunner interface {
	Run(ctx context.Context, in *pipeline.Input) (*pipeline.Result, error)
}

// OwnerVerifier checks that the requesting owner may scan the given
// assets. Production wires the asset inventory service; AllowAll is for
// deployments where an upstream gateway already enforced it.
type OwnerVerifier interface {
	VerifyAssetOwnership(ctx context.Context, ownerId string, assetIds []string) error
}

// AllowAll accepts every ownership claim.
type AllowAll struct{}

func (AllowAll) VerifyAssetOwnership(context.Context, string, []string) error {
	return nil
}

type Orchestrator struct {
	store    dbclient.Interface
	registry *registry.Registry
	pipeline PipelineRunner
	verifier OwnerVerifier

	maxParallel int64
	cancelGrace time.Duration

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func New(store dbclient.Interface, reg *registry.Registry,
	runner PipelineRunner, verifier OwnerVerifier) *Orchestrator {
	if verifier == nil {
		verifier = AllowAll{}
	}
	return &Orchestrator{
		store:       store,
		registry:    reg,
		pipeline:    runner,
		verifier:    verifier,
		maxParallel: int64(commonconfig.GetScanMaxParallelAssets()),
		cancelGrace: time.Duration(commonconfig.GetScanCancelGraceSecond()) * time.Second,
		active:      map[string]context.CancelFunc{},
	}
}

// ExecuteScan validates synchronously, persists the scan in pending and
// returns immediately; the pipelines run in the background.
func (o *Orchestrator) ExecuteScan(ctx context.Context, req *ScanRequest) (*ScanAccepted, error) {
	if err := o.validate(ctx, req); err != nil {
		return nil, err
	}
	scanId := uuid.NewString()
	// The short correlation id is a prefix of the scan id, so stream keys
	// and worker logs trace back to the scan without a lookup.
	correlationId := scanId[:8]
	if req.ExecutionMode == "" {
		req.ExecutionMode = "streaming"
	}
	scan := &dbclient.Scan{
		ScanId:          scanId,
		OwnerId:         req.OwnerId,
		Status:          string(dbclient.ScanPending),
		ExecutionMode:   req.ExecutionMode,
		CorrelationId:   correlationId,
		AssetsRequested: len(req.Assets),
		RequestedTime:   dbutils.NullTime(time.Now()),
	}
	if err := o.store.InsertScan(ctx, scan); err != nil {
		return nil, err
	}

	// The scan outlives the request; its context is cut from the
	// request's and only cancelled through CancelScan.
	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.active[scanId] = cancel
	o.mu.Unlock()
	go o.run(runCtx, scan, req)

	klog.Infof("scan %s accepted: owner %s, %d assets, correlation %s",
		scanId, req.OwnerId, len(req.Assets), correlationId)
	return &ScanAccepted{
		ScanId:           scanId,
		CorrelationId:    correlationId,
		Status:           string(dbclient.ScanPending),
		AssetsRequested:  len(req.Assets),
		EstimatedSeconds: o.estimate(req),
	}, nil
}

func (o *Orchestrator) validate(ctx context.Context, req *ScanRequest) error {
	if req == nil || req.OwnerId == "" {
		return commonerrors.NewBadRequest("the owner is empty")
	}
	if len(req.Assets) == 0 {
		return commonerrors.NewBadRequest("no assets requested")
	}
	assetIds := make([]string, 0, len(req.Assets))
	for assetId, spec := range req.Assets {
		if assetId == "" {
			return commonerrors.NewBadRequest("the asset id is empty")
		}
		if len(spec.Modules) == 0 {
			return commonerrors.NewBadRequest(
				fmt.Sprintf("no modules requested for asset %s", assetId))
		}
		for _, module := range spec.Modules {
			if _, err := o.registry.Profile(module); err != nil {
				return err
			}
		}
		assetIds = append(assetIds, assetId)
	}
	sort.Strings(assetIds)
	return o.verifier.VerifyAssetOwnership(ctx, req.OwnerId, assetIds)
}

// estimate projects a completion time: the costliest asset's resolved
// closure estimate times the number of waves the parallelism bound
// allows. Informational only.
func (o *Orchestrator) estimate(req *ScanRequest) int {
	batch := req.BatchHint
	if batch < 1 {
		batch = 1
	}
	costliest := 0
	for _, spec := range req.Assets {
		if cost := o.closurePerUnit(spec.Modules) * batch; cost > costliest {
			costliest = cost
		}
	}
	waves := (len(req.Assets) + int(o.maxParallel) - 1) / int(o.maxParallel)
	return costliest * waves
}

// closurePerUnit sums the per-unit estimates over the dependency
// closure of the requested modules.
func (o *Orchestrator) closurePerUnit(modules []string) int {
	perUnit := 0
	queue := append([]string(nil), modules...)
	visited := map[string]bool{}
	for len(queue) > 0 {
		module := queue[0]
		queue = queue[1:]
		if visited[module] {
			continue
		}
		visited[module] = true
		profile, err := o.registry.Profile(module)
		if err != nil {
			continue
		}
		perUnit += profile.EstimatedSecondsPerUnit
		queue = append(queue, profile.Dependencies...)
	}
	return perUnit
}

// run executes every asset pipeline, at most maxParallel at a time, and
// finalizes the scan from the per-asset aggregates.
func (o *Orchestrator) run(ctx context.Context, scan *dbclient.Scan, req *ScanRequest) {
	defer func() {
		o.mu.Lock()
		delete(o.active, scan.ScanId)
		o.mu.Unlock()
	}()
	if err := o.store.MarkScanRunning(ctx, scan.ScanId); err != nil {
		klog.ErrorS(err, "failed to mark scan running", "scanId", scan.ScanId)
	}

	sem := semaphore.NewWeighted(o.maxParallel)
	outcomes := make(chan assetOutcome, len(req.Assets))
	var wg sync.WaitGroup
	for assetId, spec := range req.Assets {
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes <- assetOutcome{assetId: assetId, status: pipeline.StatusFailed, err: err}
			continue
		}
		wg.Add(1)
		go func(assetId string, spec AssetSpec) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes <- o.runAsset(ctx, scan, req, assetId, spec)
		}(assetId, spec)
	}
	wg.Wait()
	close(outcomes)

	completed, partial, failed := 0, 0, 0
	for outcome := range outcomes {
		switch outcome.status {
		case pipeline.StatusCompleted:
			completed++
		case pipeline.StatusPartialFailure:
			partial++
		default:
			failed++
		}
	}
	status := dbclient.ScanPartialFailure
	switch {
	case completed == len(req.Assets):
		status = dbclient.ScanCompleted
	case failed == len(req.Assets):
		status = dbclient.ScanFailed
	}
	message := fmt.Sprintf("%d/%d assets completed, %d partial, %d failed",
		completed, len(req.Assets), partial, failed)

	// Guarded write-once: a scan cancelled in the meantime keeps its
	// cancelled status and this finalize is a no-op.
	finalCtx, release := o.cleanupContext(ctx)
	defer release()
	if err := o.store.FinalizeScan(finalCtx, scan.ScanId, status, message); err != nil {
		klog.ErrorS(err, "failed to finalize scan", "scanId", scan.ScanId)
		return
	}
	klog.Infof("scan %s finalized: %s (%s)", scan.ScanId, status, message)
}

// runAsset drives one pipeline and bumps the matching scan counter as
// soon as the asset settles, so progress is visible before the scan
// finishes.
func (o *Orchestrator) runAsset(ctx context.Context, scan *dbclient.Scan,
	req *ScanRequest, assetId string, spec AssetSpec) assetOutcome {
	result, err := o.pipeline.Run(ctx, &pipeline.Input{
		ScanId:        scan.ScanId,
		OwnerId:       req.OwnerId,
		CorrelationId: scan.CorrelationId,
		AssetId:       assetId,
		Modules:       spec.Modules,
		Options:       spec.Options,
		BatchSize:     req.BatchHint,
	})
	outcome := assetOutcome{assetId: assetId, status: pipeline.StatusFailed, err: err}
	if result != nil {
		outcome.status = result.Status
		outcome.elapsed = result.Elapsed
	}
	if err != nil {
		klog.ErrorS(err, "asset pipeline failed", "scanId", scan.ScanId, "assetId", assetId)
		outcome.status = pipeline.StatusFailed
	}

	counter := dbclient.CounterAssetsFailed
	switch outcome.status {
	case pipeline.StatusCompleted:
		counter = dbclient.CounterAssetsCompleted
	case pipeline.StatusPartialFailure:
		counter = dbclient.CounterAssetsPartial
	}
	bumpCtx, release := o.cleanupContext(ctx)
	defer release()
	if bumpErr := o.store.BumpScanCounter(bumpCtx, scan.ScanId, counter); bumpErr != nil {
		klog.ErrorS(bumpErr, "failed to bump scan counter",
			"scanId", scan.ScanId, "counter", counter)
	}
	return outcome
}

// cleanupContext detaches a cleanup write from the scan context so
// cancellation cannot lose state, while still bounding the write by the
// cancel grace window.
func (o *Orchestrator) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	grace := o.cancelGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), grace)
}

// GetScan returns the full projection of one scan. Scans of other
// owners read as not found.
func (o *Orchestrator) GetScan(ctx context.Context, scanId, ownerId string) (*ScanDetail, error) {
	scan, err := o.store.GetScan(ctx, scanId)
	if err != nil {
		return nil, err
	}
	if scan.OwnerId != ownerId {
		return nil, commonerrors.NewScanNotFound(scanId)
	}
	jobs, err := o.store.ListJobs(ctx, scanId)
	if err != nil {
		return nil, err
	}
	detail := &ScanDetail{ScanSummary: *cvtToSummary(scan)}
	grouped := map[string][]JobView{}
	var order []string
	for _, job := range jobs {
		if _, ok := grouped[job.AssetId]; !ok {
			order = append(order, job.AssetId)
		}
		grouped[job.AssetId] = append(grouped[job.AssetId], *cvtToJobView(job))
	}
	for _, assetId := range order {
		detail.Assets = append(detail.Assets, AssetJobs{AssetId: assetId, Jobs: grouped[assetId]})
	}
	return detail, nil
}

// ListScans pages the owner's scans, newest first.
func (o *Orchestrator) ListScans(ctx context.Context, ownerId, status string, limit, offset int) (*ScanList, error) {
	if limit <= 0 {
		limit = 50
	}
	query := sqrl.And{sqrl.Eq{"owner_id": ownerId}}
	if status != "" {
		query = append(query, sqrl.Eq{"status": status})
	}
	total, err := o.store.CountScans(ctx, query)
	if err != nil {
		return nil, err
	}
	scans, err := o.store.SelectScans(ctx, query, "requested_at", dbclient.DESC, limit, offset)
	if err != nil {
		return nil, err
	}
	result := &ScanList{Total: total, Scans: make([]*ScanSummary, 0, len(scans))}
	for _, scan := range scans {
		result.Scans = append(result.Scans, cvtToSummary(scan))
	}
	return result, nil
}

// CancelScan stops a pending or running scan. The cancelled status is
// terminal and wins over any late aggregation write.
func (o *Orchestrator) CancelScan(ctx context.Context, scanId, ownerId string) (*ScanSummary, error) {
	scan, err := o.store.GetScan(ctx, scanId)
	if err != nil {
		return nil, err
	}
	if scan.OwnerId != ownerId {
		return nil, commonerrors.NewScanNotFound(scanId)
	}
	if dbclient.ScanStatus(scan.Status).IsTerminal() {
		return nil, commonerrors.NewScanNotCancellable(scanId, scan.Status)
	}

	// Finalize first so the terminal status is decided even if the
	// background goroutine races us, then cut its context.
	if err = o.store.FinalizeScan(ctx, scanId, dbclient.ScanCancelled, "cancelled by owner"); err != nil {
		return nil, err
	}
	o.mu.Lock()
	cancel := o.active[scanId]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	klog.Infof("scan %s cancelled by owner %s", scanId, ownerId)

	scan, err = o.store.GetScan(ctx, scanId)
	if err != nil {
		return nil, err
	}
	return cvtToSummary(scan), nil
}

func cvtToSummary(scan *dbclient.Scan) *ScanSummary {
	return &ScanSummary{
		ScanId:          scan.ScanId,
		OwnerId:         scan.OwnerId,
		Status:          scan.Status,
		ExecutionMode:   scan.ExecutionMode,
		CorrelationId:   scan.CorrelationId,
		AssetsRequested: scan.AssetsRequested,
		AssetsCompleted: scan.AssetsCompleted,
		AssetsFailed:    scan.AssetsFailed,
		AssetsPartial:   scan.AssetsPartial,
		RequestedAt:     dbutils.ParseNullTimeToString(scan.RequestedTime),
		StartedAt:       dbutils.ParseNullTimeToString(scan.StartTime),
		CompletedAt:     dbutils.ParseNullTimeToString(scan.EndTime),
		Message:         dbutils.ParseNullString(scan.Message),
	}
}

func cvtToJobView(job *dbclient.ModuleJob) *JobView {
	view := &JobView{
		JobId:       job.JobId,
		Module:      job.Module,
		Role:        job.Role,
		Status:      job.Status,
		TaskHandle:  dbutils.ParseNullString(job.TaskHandle),
		CreatedAt:   dbutils.ParseNullTimeToString(job.CreateTime),
		StartedAt:   dbutils.ParseNullTimeToString(job.StartTime),
		CompletedAt: dbutils.ParseNullTimeToString(job.EndTime),
		Error:       dbutils.ParseNullString(job.ErrorMessage),
	}
	if job.ResultCount.Valid {
		view.ResultCount = job.ResultCount.Int64
	}
	return view
}
