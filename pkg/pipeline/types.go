/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package pipeline

import (
	"sync"
	"time"

	dbclient "github.com/caffeinedoom/neobotnet/pkg/database/client"
	"github.com/caffeinedoom/neobotnet/pkg/launcher"
)

// Status is the terminal aggregate of one asset's pipeline.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusPartialFailure Status = "partial_failure"
	StatusFailed         Status = "failed"
)

// Options are the per-asset flags forwarded to workers.
type Options struct {
	ActiveDomainsOnly bool
}

// Input describes one asset's pipeline run.
type Input struct {
	ScanId        string
	OwnerId       string
	CorrelationId string
	AssetId       string
	Modules       []string
	Options       Options
	// BatchSize is the expected producer input count, used for resource
	// tier selection. Zero means unknown and selects the smallest tier.
	BatchSize int
}

// ModuleOutcome is the per-module disposition inside a Result.
type ModuleOutcome struct {
	Module string             `json:"module"`
	Role   string             `json:"role"`
	JobId  string             `json:"jobId"`
	Status dbclient.JobStatus `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// Result is the structured aggregate a pipeline returns. Per-module
// statuses always come from the job store, never from stream signals.
type Result struct {
	AssetId     string          `json:"assetId"`
	Status      Status          `json:"status"`
	StreamKey   string          `json:"streamKey"`
	Modules     []ModuleOutcome `json:"modules"`
	Polls       int             `json:"polls"`
	Elapsed     time.Duration   `json:"elapsed"`
	HealthNotes []string        `json:"healthNotes,omitempty"`
	TimedOut    bool            `json:"timedOut"`
}

// trackedJob is the monitor's view of one launched worker.
type trackedJob struct {
	jobId     string
	module    string
	role      string
	handle    launcher.TaskHandle
	status    dbclient.JobStatus
	createdAt time.Time
	// message carries engine-side failure classifications. Worker-side
	// failure detail lives in the job row, not here.
	message string
	// startupFailed marks a job the monitor already classified as a
	// launch failure because it never left pending.
	startupFailed bool
}

// tracker shares job state between the poll loop and the health task.
type tracker struct {
	mu   sync.Mutex
	jobs map[string]*trackedJob
	// notes accumulates health observations, informational only.
	notes []string
}

func newTracker() *tracker {
	return &tracker{jobs: map[string]*trackedJob{}}
}

func (t *tracker) add(job *trackedJob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[job.jobId] = job
}

func (t *tracker) setStatus(jobId string, status dbclient.JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job, ok := t.jobs[jobId]; ok {
		job.status = status
	}
}

func (t *tracker) setHandle(jobId string, handle launcher.TaskHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job, ok := t.jobs[jobId]; ok {
		job.handle = handle
	}
}

func (t *tracker) fail(jobId, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job, ok := t.jobs[jobId]; ok {
		job.status = dbclient.JobFailed
		job.message = message
	}
}

func (t *tracker) expire(jobId, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job, ok := t.jobs[jobId]; ok {
		job.status = dbclient.JobTimeout
		job.message = message
	}
}

func (t *tracker) markStartupFailed(jobId, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job, ok := t.jobs[jobId]; ok {
		job.startupFailed = true
		job.status = dbclient.JobFailed
		job.message = message
	}
}

func (t *tracker) note(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notes = append(t.notes, message)
}

// snapshot returns copies of the tracked jobs.
func (t *tracker) snapshot() []trackedJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([]trackedJob, 0, len(t.jobs))
	for _, job := range t.jobs {
		result = append(result, *job)
	}
	return result
}

// allTerminal reports whether every tracked job reached a terminal
// status, locally classified failures included.
func (t *tracker) allTerminal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, job := range t.jobs {
		if !job.status.IsTerminal() {
			return false
		}
	}
	return true
}

func (t *tracker) healthNotes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.notes...)
}
