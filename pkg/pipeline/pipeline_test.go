/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gotest.tools/assert"

	"github.com/caffeinedoom/neobotnet/pkg/common"
	dbclient "github.com/caffeinedoom/neobotnet/pkg/database/client"
	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
	"github.com/caffeinedoom/neobotnet/pkg/launcher"
	"github.com/caffeinedoom/neobotnet/pkg/registry"
	"github.com/caffeinedoom/neobotnet/pkg/streambus"
)

// fakeJobStore is an in-memory ModuleJobInterface. Jobs report running
// until pollsBeforeTerminal polls passed, then the status scripted in
// finalStatus (completed when absent). Engine-side writes are guarded
// the way the real store guards them.
type fakeJobStore struct {
	mu sync.Mutex

	inserted  []*dbclient.ModuleJob
	handles   map[string]string
	failed    map[string]string
	timedOut  map[string]bool
	polls     int
	insertErr error
	// failWriteBounded records, per MarkJobFailed call, whether the write
	// arrived on a deadline-bounded context.
	failWriteBounded []bool

	finalStatus         map[string]dbclient.JobStatus
	pollsBeforeTerminal int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		handles:             map[string]string{},
		failed:              map[string]string{},
		timedOut:            map[string]bool{},
		finalStatus:         map[string]dbclient.JobStatus{},
		pollsBeforeTerminal: 1,
	}
}

func (f *fakeJobStore) InsertModuleJobs(_ context.Context, jobs []*dbclient.ModuleJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, jobs...)
	return nil
}

func (f *fakeJobStore) AttachTaskHandle(_ context.Context, jobId, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handles[jobId] = handle
	return nil
}

func (f *fakeJobStore) ListJobs(_ context.Context, scanId string) ([]*dbclient.ModuleJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*dbclient.ModuleJob
	for _, job := range f.inserted {
		if job.ScanId == scanId {
			result = append(result, job)
		}
	}
	return result, nil
}

func (f *fakeJobStore) ListJobsForAsset(_ context.Context, scanId, assetId string) ([]*dbclient.ModuleJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*dbclient.ModuleJob
	for _, job := range f.inserted {
		if job.ScanId == scanId && job.AssetId == assetId {
			result = append(result, job)
		}
	}
	return result, nil
}

func (f *fakeJobStore) GetJobStatuses(_ context.Context, jobIds []string) (map[string]*dbclient.JobStatusView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	result := make(map[string]*dbclient.JobStatusView, len(jobIds))
	for _, jobId := range jobIds {
		job := f.findLocked(jobId)
		if job == nil {
			continue
		}
		result[jobId] = &dbclient.JobStatusView{
			JobId:  jobId,
			Module: job.Module,
			Status: string(f.statusLocked(job)),
		}
	}
	return result, nil
}

func (f *fakeJobStore) MarkJobFailed(ctx context.Context, jobId, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, bounded := ctx.Deadline()
	f.failWriteBounded = append(f.failWriteBounded, bounded)
	job := f.findLocked(jobId)
	if job != nil && f.statusLocked(job).IsTerminal() {
		return nil
	}
	f.failed[jobId] = message
	return nil
}

func (f *fakeJobStore) MarkJobsTimeout(_ context.Context, jobIds []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, jobId := range jobIds {
		job := f.findLocked(jobId)
		if job != nil && f.statusLocked(job).IsTerminal() {
			continue
		}
		f.timedOut[jobId] = true
	}
	return nil
}

func (f *fakeJobStore) findLocked(jobId string) *dbclient.ModuleJob {
	for _, job := range f.inserted {
		if job.JobId == jobId {
			return job
		}
	}
	return nil
}

func (f *fakeJobStore) statusLocked(job *dbclient.ModuleJob) dbclient.JobStatus {
	if f.failed[job.JobId] != "" {
		return dbclient.JobFailed
	}
	if f.timedOut[job.JobId] {
		return dbclient.JobTimeout
	}
	if f.polls > f.pollsBeforeTerminal {
		if status, ok := f.finalStatus[job.Module]; ok {
			return status
		}
		return dbclient.JobCompleted
	}
	return dbclient.JobRunning
}

func (f *fakeJobStore) failedMessage(jobId string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed[jobId]
}

func (f *fakeJobStore) timedOutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timedOut)
}

func newTestBus(t *testing.T) (*miniredis.Miniredis, streambus.Interface) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return srv, streambus.NewBusWithClient(rdb)
}

func newTestPipeline(store *fakeJobStore, bus streambus.Interface,
	lnchr launcher.Interface, reg *registry.Registry) *Pipeline {
	return &Pipeline{
		store:    store,
		bus:      bus,
		launcher: lnchr,
		registry: reg,
		placement: launcher.Placement{
			SubnetIds:        []string{"subnet-1"},
			SecurityGroupIds: []string{"sg-1"},
		},
		pollInterval:   5 * time.Millisecond,
		healthInterval: 5 * time.Millisecond,
		timeout:        time.Second,
		startupTimeout: time.Minute,
		cancelGrace:    time.Second,
		launchRetries:  2,
	}
}

func reconRegistry(t *testing.T) *registry.Registry {
	return loadRegistry(t,
		profile("subfinder"),
		profile("dnsx", "subfinder"),
		profile("httpx", "dnsx"),
	)
}

func reconInput() *Input {
	return &Input{
		ScanId:        "scan-1",
		OwnerId:       "owner-1",
		CorrelationId: "c0ffee42",
		AssetId:       "asset-1",
		Modules:       []string{"httpx"},
		Options:       Options{ActiveDomainsOnly: true},
		BatchSize:     25,
	}
}

func TestRunCompletesPipeline(t *testing.T) {
	srv, bus := newTestBus(t)
	store := newFakeJobStore()
	fake := launcher.NewFake()
	p := newTestPipeline(store, bus, fake, reconRegistry(t))

	result, err := p.Run(context.Background(), reconInput())
	assert.NilError(t, err)
	assert.Equal(t, result.Status, StatusCompleted)
	assert.Equal(t, len(result.Modules), 3)
	assert.Equal(t, result.Modules[0].Module, "subfinder")
	assert.Equal(t, result.Modules[0].Role, common.RoleProducer)
	assert.Assert(t, result.Polls > 0)
	assert.Equal(t, fake.LaunchCount(), 3)

	// Every launched worker got its handle persisted.
	assert.Equal(t, len(store.handles), 3)

	// Streams are dropped once every job is terminal.
	assert.Assert(t, !srv.Exists("scan:c0ffee42:asset-1:subfinder"))
	assert.Assert(t, !srv.Exists("scan:c0ffee42:asset-1:dnsx"))
}

func TestRunWorkerEnvContract(t *testing.T) {
	_, bus := newTestBus(t)
	store := newFakeJobStore()
	fake := launcher.NewFake()
	p := newTestPipeline(store, bus, fake, reconRegistry(t))

	_, err := p.Run(context.Background(), reconInput())
	assert.NilError(t, err)

	launched := fake.LaunchedModules()

	producerEnv := fake.LaunchedSpec(launched["subfinder"]).Env
	assert.Equal(t, producerEnv[common.EnvScanId], "scan-1")
	assert.Equal(t, producerEnv[common.EnvAssetId], "asset-1")
	assert.Equal(t, producerEnv[common.EnvModuleRole], common.RoleProducer)
	assert.Equal(t, producerEnv[common.EnvOutputStream], "scan:c0ffee42:asset-1:subfinder")
	assert.Equal(t, producerEnv[common.EnvActiveDomainsOnly], "true")
	_, hasInput := producerEnv[common.EnvInputStream]
	assert.Assert(t, !hasInput)

	// A consumer in the middle of the chain both reads and writes.
	dnsxEnv := fake.LaunchedSpec(launched["dnsx"]).Env
	assert.Equal(t, dnsxEnv[common.EnvInputStream], "scan:c0ffee42:asset-1:subfinder")
	assert.Equal(t, dnsxEnv[common.EnvOutputStream], "scan:c0ffee42:asset-1:dnsx")
	assert.Equal(t, dnsxEnv[common.EnvConsumerGroup],
		streambus.ConsumerGroupName("dnsx", "scan:c0ffee42:asset-1:subfinder"))

	httpxEnv := fake.LaunchedSpec(launched["httpx"]).Env
	assert.Equal(t, httpxEnv[common.EnvInputStream], "scan:c0ffee42:asset-1:dnsx")
	_, hasOutput := httpxEnv[common.EnvOutputStream]
	assert.Assert(t, !hasOutput)

	// Tier selection sees the requested batch only on the producer.
	assert.Equal(t, fake.LaunchedSpec(launched["subfinder"]).BatchSize, 25)
	assert.Equal(t, fake.LaunchedSpec(launched["httpx"]).BatchSize, 0)
}

func TestRunPartialFailure(t *testing.T) {
	_, bus := newTestBus(t)
	store := newFakeJobStore()
	store.finalStatus["httpx"] = dbclient.JobFailed
	fake := launcher.NewFake()
	p := newTestPipeline(store, bus, fake, reconRegistry(t))

	result, err := p.Run(context.Background(), reconInput())
	assert.NilError(t, err)
	assert.Equal(t, result.Status, StatusPartialFailure)
	for _, outcome := range result.Modules {
		if outcome.Module == "httpx" {
			assert.Equal(t, outcome.Status, dbclient.JobFailed)
		} else {
			assert.Equal(t, outcome.Status, dbclient.JobCompleted)
		}
	}
}

func TestRunAllFailed(t *testing.T) {
	_, bus := newTestBus(t)
	store := newFakeJobStore()
	store.finalStatus["subfinder"] = dbclient.JobFailed
	store.finalStatus["dnsx"] = dbclient.JobFailed
	store.finalStatus["httpx"] = dbclient.JobFailed
	fake := launcher.NewFake()
	p := newTestPipeline(store, bus, fake, reconRegistry(t))

	result, err := p.Run(context.Background(), reconInput())
	assert.NilError(t, err)
	assert.Equal(t, result.Status, StatusFailed)
}

func TestRunLaunchFailureUnwindsEverything(t *testing.T) {
	srv, bus := newTestBus(t)
	store := newFakeJobStore()
	fake := launcher.NewFake()
	fake.FailModules["dnsx"] = commonerrors.NewLaunchRejected("task quota exhausted")
	p := newTestPipeline(store, bus, fake, reconRegistry(t))

	result, err := p.Run(context.Background(), reconInput())
	assert.Assert(t, commonerrors.IsLaunchRejected(err))
	assert.Equal(t, result.Status, StatusFailed)

	// Every job row is failed, the launched siblings are stopped and the
	// streams are gone.
	assert.Equal(t, len(store.failed), 3)
	launched := fake.LaunchedModules()
	assert.Equal(t, fake.StoppedReason(launched["subfinder"]), "sibling launch failed")
	assert.Assert(t, !srv.Exists("scan:c0ffee42:asset-1:subfinder"))
}

func TestRunLaunchRejectionDoesNotRetry(t *testing.T) {
	_, bus := newTestBus(t)
	store := newFakeJobStore()
	fake := launcher.NewFake()
	fake.FailModules["subfinder"] = commonerrors.NewLaunchRejected("task quota exhausted")
	p := newTestPipeline(store, bus, fake, reconRegistry(t))

	_, err := p.Run(context.Background(), reconInput())
	assert.Assert(t, commonerrors.IsLaunchRejected(err))
	assert.Equal(t, fake.LaunchCount(), 0)
}

func TestRunDuplicateJobAbortsBeforeLaunch(t *testing.T) {
	_, bus := newTestBus(t)
	store := newFakeJobStore()
	store.insertErr = commonerrors.NewDuplicateJob("job already exists for scan-1/asset-1/subfinder")
	fake := launcher.NewFake()
	p := newTestPipeline(store, bus, fake, reconRegistry(t))

	_, err := p.Run(context.Background(), reconInput())
	assert.Assert(t, commonerrors.IsDuplicateJob(err))
	assert.Equal(t, fake.LaunchCount(), 0)
}

func TestRunBusUnreachable(t *testing.T) {
	srv, bus := newTestBus(t)
	srv.Close()
	store := newFakeJobStore()
	fake := launcher.NewFake()
	p := newTestPipeline(store, bus, fake, reconRegistry(t))

	_, err := p.Run(context.Background(), reconInput())
	assert.Assert(t, commonerrors.IsInfrastructure(err))
	assert.Equal(t, len(store.inserted), 0)
	assert.Equal(t, fake.LaunchCount(), 0)
}

func TestRunTimeout(t *testing.T) {
	_, bus := newTestBus(t)
	store := newFakeJobStore()
	store.pollsBeforeTerminal = 1 << 30 // never terminal
	fake := launcher.NewFake()
	p := newTestPipeline(store, bus, fake, reconRegistry(t))
	p.timeout = 30 * time.Millisecond

	result, err := p.Run(context.Background(), reconInput())
	assert.NilError(t, err)
	assert.Assert(t, result.TimedOut)
	assert.Equal(t, result.Status, StatusFailed)
	assert.Equal(t, store.timedOutCount(), 3)
	for _, outcome := range result.Modules {
		assert.Equal(t, outcome.Status, dbclient.JobTimeout)
	}
}

func TestRunCancellation(t *testing.T) {
	srv, bus := newTestBus(t)
	store := newFakeJobStore()
	store.pollsBeforeTerminal = 1 << 30
	fake := launcher.NewFake()
	p := newTestPipeline(store, bus, fake, reconRegistry(t))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	result, err := p.Run(ctx, reconInput())
	assert.Assert(t, errors.Is(err, context.Canceled))
	assert.Equal(t, result.Status, StatusFailed)

	for _, job := range store.inserted {
		assert.Equal(t, store.failedMessage(job.JobId), "cancelled")
	}
	launched := fake.LaunchedModules()
	assert.Equal(t, fake.StoppedReason(launched["subfinder"]), "scan cancelled")
	assert.Assert(t, !srv.Exists("scan:c0ffee42:asset-1:subfinder"))

	// Cleanup writes survive the cancelled scan context but stay bounded
	// by the cancel grace window.
	store.mu.Lock()
	boundedWrites := append([]bool(nil), store.failWriteBounded...)
	store.mu.Unlock()
	assert.Assert(t, len(boundedWrites) > 0)
	for _, bounded := range boundedWrites {
		assert.Assert(t, bounded)
	}
}

func TestRunStartupFailureClassification(t *testing.T) {
	_, bus := newTestBus(t)
	store := newFakeJobStore()
	// httpx never leaves pending; the others complete normally.
	store.finalStatus["httpx"] = dbclient.JobPending
	fake := launcher.NewFake()
	p := newTestPipeline(store, bus, fake, reconRegistry(t))
	p.startupTimeout = 20 * time.Millisecond
	p.timeout = time.Second

	result, err := p.Run(context.Background(), reconInput())
	assert.NilError(t, err)
	assert.Equal(t, result.Status, StatusPartialFailure)
	for _, outcome := range result.Modules {
		if outcome.Module == "httpx" {
			assert.Equal(t, outcome.Status, dbclient.JobFailed)
			assert.Equal(t, outcome.Error, startupFailedMessage)
		}
	}
}
