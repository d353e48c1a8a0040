/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package pipeline executes one asset's module pipeline: resolve the
// dependency closure, provision streams, persist pending job rows,
// launch the workers and monitor them to a terminal aggregate. Job rows
// are the single source of truth for completion; stream signals only
// inform progress reporting.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/caffeinedoom/neobotnet/pkg/common"
	commonconfig "github.com/caffeinedoom/neobotnet/pkg/config"
	dbclient "github.com/caffeinedoom/neobotnet/pkg/database/client"
	dbutils "github.com/caffeinedoom/neobotnet/pkg/database/utils"
	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
	"github.com/caffeinedoom/neobotnet/pkg/launcher"
	"github.com/caffeinedoom/neobotnet/pkg/registry"
	"github.com/caffeinedoom/neobotnet/pkg/streambus"
)

type Pipeline struct {
	store    dbclient.ModuleJobInterface
	bus      streambus.Interface
	launcher launcher.Interface
	registry *registry.Registry

	placement      launcher.Placement
	pollInterval   time.Duration
	healthInterval time.Duration
	timeout        time.Duration
	startupTimeout time.Duration
	cancelGrace    time.Duration
	launchRetries  uint64
}

func New(store dbclient.ModuleJobInterface, bus streambus.Interface,
	lnchr launcher.Interface, reg *registry.Registry) *Pipeline {
	return &Pipeline{
		store:    store,
		bus:      bus,
		launcher: lnchr,
		registry: reg,
		placement: launcher.Placement{
			SubnetIds:        commonconfig.GetLauncherSubnetIds(),
			SecurityGroupIds: commonconfig.GetLauncherSecurityGroupIds(),
			AssignPublicIp:   commonconfig.IsLauncherPublicIpAssigned(),
		},
		pollInterval:   time.Duration(commonconfig.GetScanPollIntervalSecond()) * time.Second,
		healthInterval: time.Duration(commonconfig.GetScanHealthIntervalSecond()) * time.Second,
		timeout:        time.Duration(commonconfig.GetScanTimeoutSecond()) * time.Second,
		startupTimeout: time.Duration(commonconfig.GetScanStartupTimeoutSecond()) * time.Second,
		cancelGrace:    time.Duration(commonconfig.GetScanCancelGraceSecond()) * time.Second,
		launchRetries:  uint64(commonconfig.GetScanLaunchRetryLimit()),
	}
}

// Run drives one asset pipeline to its terminal aggregate. Errors
// before any worker launch leave no side effects beyond the job rows
// they describe. On cancellation via ctx the pipeline stops every
// launched worker, marks the non-terminal jobs failed and returns the
// context error alongside the partial result.
func (p *Pipeline) Run(ctx context.Context, in *Input) (*Result, error) {
	start := time.Now()
	pl, err := resolve(p.registry, in.Modules)
	if err != nil {
		return nil, err
	}
	// An unreachable bus fails the pipeline before any worker starts.
	if err = p.bus.Ping(ctx); err != nil {
		return nil, err
	}
	streamKey := streambus.StreamKey(in.CorrelationId, in.AssetId, pl.producer)
	if err = p.provisionStreams(ctx, in, pl); err != nil {
		return nil, err
	}

	jobs, err := p.insertJobs(ctx, in, pl)
	if err != nil {
		return nil, err
	}
	track := newTracker()
	for _, job := range jobs {
		track.add(&trackedJob{
			jobId:     job.JobId,
			module:    job.Module,
			role:      job.Role,
			status:    dbclient.JobPending,
			createdAt: job.CreateTime.Time,
		})
	}

	if err = p.launchAll(ctx, in, pl, jobs, track); err != nil {
		p.abortLaunch(ctx, in, pl, track, err)
		return p.buildResult(in, pl, streamKey, track, start, 0, false), err
	}

	polls, timedOut := p.monitor(ctx, track, streamKey, pl)
	if ctx.Err() != nil {
		cleanupCtx, release := p.cleanupContext(ctx)
		p.cancelRunning(cleanupCtx, in, pl, track)
		release()
		return p.buildResult(in, pl, streamKey, track, start, polls, false), ctx.Err()
	}

	result := p.buildResult(in, pl, streamKey, track, start, polls, timedOut)
	// Every bound job is terminal here, the streams have no readers left.
	p.dropStreams(ctx, in, pl)
	klog.Infof("pipeline for scan %s asset %s finished: %s, %d jobs, %d polls, elapsed %s",
		in.ScanId, in.AssetId, result.Status, len(result.Modules), polls, result.Elapsed.Round(time.Second))
	return result, nil
}

// provisionStreams creates the output stream of every module that has
// dependents, plus one consumer group per dependent, before any worker
// starts. Recreating an existing stream or group is a no-op.
func (p *Pipeline) provisionStreams(ctx context.Context, in *Input, pl *plan) error {
	for _, module := range pl.all() {
		if !pl.hasDependents(module) {
			continue
		}
		key := streambus.StreamKey(in.CorrelationId, in.AssetId, module)
		if err := p.bus.CreateStream(ctx, key); err != nil {
			return err
		}
		for _, dependent := range pl.dependents[module] {
			group := streambus.ConsumerGroupName(dependent, key)
			if err := p.bus.EnsureGroup(ctx, key, group); err != nil {
				return err
			}
		}
	}
	return nil
}

// insertJobs persists every job row in pending within one transaction.
// A duplicate (scan, asset, module) surfaces as DuplicateJob and
// nothing is inserted.
func (p *Pipeline) insertJobs(ctx context.Context, in *Input, pl *plan) ([]*dbclient.ModuleJob, error) {
	now := time.Now()
	jobs := make([]*dbclient.ModuleJob, 0, len(pl.all()))
	for _, module := range pl.all() {
		jobs = append(jobs, &dbclient.ModuleJob{
			JobId:      uuid.NewString(),
			ScanId:     in.ScanId,
			AssetId:    in.AssetId,
			OwnerId:    in.OwnerId,
			Module:     module,
			Role:       pl.roleOf(module),
			Status:     string(dbclient.JobPending),
			CreateTime: dbutils.NullTime(now),
		})
	}
	if err := p.store.InsertModuleJobs(ctx, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// launchAll starts the producer first, then the consumers in parallel.
// Consumers only read streams that already exist, so their relative
// launch order does not matter.
func (p *Pipeline) launchAll(ctx context.Context, in *Input, pl *plan,
	jobs []*dbclient.ModuleJob, track *tracker) error {
	byModule := make(map[string]*dbclient.ModuleJob, len(jobs))
	for _, job := range jobs {
		byModule[job.Module] = job
	}

	if err := p.launchOne(ctx, in, pl, byModule[pl.producer], track); err != nil {
		return err
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for _, consumer := range pl.consumers {
		job := byModule[consumer]
		group.Go(func() error {
			return p.launchOne(groupCtx, in, pl, job, track)
		})
	}
	return group.Wait()
}

// launchOne starts a single worker, retrying transient infrastructure
// refusals a bounded number of times. Rejections and configuration
// faults never retry.
func (p *Pipeline) launchOne(ctx context.Context, in *Input, pl *plan,
	job *dbclient.ModuleJob, track *tracker) error {
	profile, err := p.registry.Profile(job.Module)
	if err != nil {
		return err
	}
	spec := &launcher.LaunchSpec{
		Profile:   profile,
		Env:       p.workerEnv(in, pl, job),
		BatchSize: p.batchSizeFor(in, pl, job.Module),
	}
	operation := func() error {
		handle, launchErr := p.launcher.Launch(ctx, spec, p.placement)
		if launchErr != nil {
			if commonerrors.IsLaunchInfrastructure(launchErr) {
				return launchErr
			}
			return backoff.Permanent(launchErr)
		}
		track.setHandle(job.JobId, handle)
		if attachErr := p.store.AttachTaskHandle(ctx, job.JobId, string(handle)); attachErr != nil {
			// The tracker still holds the handle, monitoring is unaffected.
			klog.ErrorS(attachErr, "failed to persist task handle",
				"jobId", job.JobId, "handle", handle)
		}
		return nil
	}
	return backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.launchRetries), ctx))
}

// workerEnv assembles the environment contract of one worker.
func (p *Pipeline) workerEnv(in *Input, pl *plan, job *dbclient.ModuleJob) map[string]string {
	env := map[string]string{
		common.EnvScanId:            in.ScanId,
		common.EnvAssetId:           in.AssetId,
		common.EnvJobId:             job.JobId,
		common.EnvOwnerId:           in.OwnerId,
		common.EnvModuleRole:        job.Role,
		common.EnvRedisEndpoint:     commonconfig.GetRedisEndpoint(),
		common.EnvDBEndpoint:        commonconfig.GetLauncherDBEndpoint(),
		common.EnvDBSecretArn:       commonconfig.GetLauncherDBSecretArn(),
		common.EnvActiveDomainsOnly: strconv.FormatBool(in.Options.ActiveDomainsOnly),
	}
	if pl.hasDependents(job.Module) {
		env[common.EnvOutputStream] = streambus.StreamKey(in.CorrelationId, in.AssetId, job.Module)
	}
	if upstream := pl.upstreamOf(job.Module); upstream != "" {
		key := streambus.StreamKey(in.CorrelationId, in.AssetId, upstream)
		env[common.EnvInputStream] = key
		env[common.EnvConsumerGroup] = streambus.ConsumerGroupName(job.Module, key)
	}
	return env
}

// batchSizeFor sizes the producer by the requested input count and
// leaves consumers on the smallest tier, their input volume is unknown
// until the producer runs.
func (p *Pipeline) batchSizeFor(in *Input, pl *plan, module string) int {
	if module == pl.producer {
		return in.BatchSize
	}
	return 0
}

// dropStreams removes every stream the pipeline provisioned,
// best-effort.
func (p *Pipeline) dropStreams(ctx context.Context, in *Input, pl *plan) {
	for _, module := range pl.all() {
		if pl.hasDependents(module) {
			_ = p.bus.DeleteStream(ctx, streambus.StreamKey(in.CorrelationId, in.AssetId, module))
		}
	}
}

// abortLaunch unwinds a partially launched pipeline: stop what started,
// fail every job row and drop the streams.
func (p *Pipeline) abortLaunch(ctx context.Context, in *Input, pl *plan, track *tracker, cause error) {
	ctx, release := p.cleanupContext(ctx)
	defer release()
	klog.ErrorS(cause, "pipeline launch failed, unwinding",
		"scanId", in.ScanId, "assetId", in.AssetId)
	for _, job := range track.snapshot() {
		if job.handle != "" {
			if err := p.launcher.Stop(ctx, job.handle, "sibling launch failed"); err != nil {
				klog.ErrorS(err, "failed to stop worker during unwind", "jobId", job.jobId)
			}
		}
		message := fmt.Sprintf("launch aborted: %v", cause)
		if err := p.store.MarkJobFailed(ctx, job.jobId, message); err != nil {
			klog.ErrorS(err, "failed to mark job failed during unwind", "jobId", job.jobId)
		}
		track.fail(job.jobId, message)
	}
	p.dropStreams(ctx, in, pl)
}

// cancelRunning is the cancellation path: best-effort stop of every
// worker, guarded failure writes so a worker that already finished
// keeps its result, then stream removal.
func (p *Pipeline) cancelRunning(ctx context.Context, in *Input, pl *plan, track *tracker) {
	for _, job := range track.snapshot() {
		if job.status.IsTerminal() {
			continue
		}
		if job.handle != "" {
			if err := p.launcher.Stop(ctx, job.handle, "scan cancelled"); err != nil {
				klog.ErrorS(err, "failed to stop worker on cancel", "jobId", job.jobId)
			}
		}
		if err := p.store.MarkJobFailed(ctx, job.jobId, "cancelled"); err != nil {
			klog.ErrorS(err, "failed to mark job cancelled", "jobId", job.jobId)
		}
		track.fail(job.jobId, "cancelled")
	}
	p.dropStreams(ctx, in, pl)
}

// cleanupContext detaches cleanup work from the caller's cancellation
// so stop calls and failure writes survive a cancelled scan, while the
// cancel grace window keeps them bounded.
func (p *Pipeline) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	grace := p.cancelGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), grace)
}

// buildResult aggregates per-module dispositions from the job store
// view held by the tracker. completed requires every module completed;
// failed means none did.
func (p *Pipeline) buildResult(in *Input, pl *plan, streamKey string,
	track *tracker, start time.Time, polls int, timedOut bool) *Result {
	byModule := make(map[string]trackedJob, len(pl.all()))
	for _, job := range track.snapshot() {
		byModule[job.module] = job
	}
	outcomes := make([]ModuleOutcome, 0, len(pl.all()))
	completed := 0
	for _, module := range pl.all() {
		job := byModule[module]
		if job.status == dbclient.JobCompleted {
			completed++
		}
		outcomes = append(outcomes, ModuleOutcome{
			Module: module,
			Role:   pl.roleOf(module),
			JobId:  job.jobId,
			Status: job.status,
			Error:  job.message,
		})
	}
	status := StatusPartialFailure
	switch completed {
	case len(outcomes):
		status = StatusCompleted
	case 0:
		status = StatusFailed
	}
	notes := track.healthNotes()
	sort.Strings(notes)
	return &Result{
		AssetId:     in.AssetId,
		Status:      status,
		StreamKey:   streamKey,
		Modules:     outcomes,
		Polls:       polls,
		Elapsed:     time.Since(start),
		HealthNotes: notes,
		TimedOut:    timedOut,
	}
}
