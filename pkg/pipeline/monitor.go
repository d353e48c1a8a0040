/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"k8s.io/klog/v2"

	dbclient "github.com/caffeinedoom/neobotnet/pkg/database/client"
	"github.com/caffeinedoom/neobotnet/pkg/launcher"
	"github.com/caffeinedoom/neobotnet/pkg/streambus"
)

const (
	startupFailedMessage = "worker did not start within budget"
	timeoutMessage       = "worker did not reach a terminal status within budget"
)

// monitor polls the job store until every job is terminal, the budget
// expires or ctx is cancelled. A worker exit observed by the health
// task never short-circuits the loop; only job rows decide completion.
func (p *Pipeline) monitor(ctx context.Context, track *tracker, streamKey string, pl *plan) (int, bool) {
	healthCtx, cancelHealth := context.WithCancel(ctx)
	defer cancelHealth()
	go p.healthLoop(healthCtx, track)

	jobIds := make([]string, 0)
	for _, job := range track.snapshot() {
		jobIds = append(jobIds, job.jobId)
	}
	deadline := time.Now().Add(p.timeout)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			return polls, false
		case <-ticker.C:
		}
		polls++
		statuses, err := p.store.GetJobStatuses(ctx, jobIds)
		if err != nil {
			// Keep polling; a persistent store outage degrades into the
			// hard timeout below.
			klog.ErrorS(err, "job status poll failed", "stream", streamKey, "poll", polls)
		} else {
			for jobId, view := range statuses {
				status := dbclient.JobStatus(view.Status)
				if status.IsTerminal() || status == dbclient.JobRunning {
					track.setStatus(jobId, status)
				}
			}
		}
		p.classifyStartupFailures(ctx, track)
		if track.allTerminal() {
			return polls, false
		}
		if time.Now().After(deadline) {
			p.expireRemaining(ctx, track)
			return polls, true
		}
		p.emitProgress(ctx, track, streamKey, pl)
	}
}

// classifyStartupFailures fails jobs still pending past the startup
// budget. The write is guarded, a worker that reached a terminal status
// in the meantime keeps it.
func (p *Pipeline) classifyStartupFailures(ctx context.Context, track *tracker) {
	for _, job := range track.snapshot() {
		if job.status != dbclient.JobPending || job.startupFailed {
			continue
		}
		if time.Since(job.createdAt) < p.startupTimeout {
			continue
		}
		klog.Warningf("module %s job %s never started, classifying as launch failure",
			job.module, job.jobId)
		if job.handle != "" {
			if err := p.launcher.Stop(ctx, job.handle, "startup timeout"); err != nil {
				klog.ErrorS(err, "failed to stop stalled worker", "jobId", job.jobId)
			}
		}
		if err := p.store.MarkJobFailed(ctx, job.jobId, startupFailedMessage); err != nil {
			klog.ErrorS(err, "failed to mark stalled job failed", "jobId", job.jobId)
			continue
		}
		track.markStartupFailed(job.jobId, startupFailedMessage)
	}
}

// expireRemaining closes out the pipeline at the hard timeout: one
// guarded bulk write flips every non-terminal job to timeout.
func (p *Pipeline) expireRemaining(ctx context.Context, track *tracker) {
	var remaining []string
	for _, job := range track.snapshot() {
		if !job.status.IsTerminal() {
			remaining = append(remaining, job.jobId)
		}
	}
	if len(remaining) == 0 {
		return
	}
	klog.Warningf("pipeline timeout reached, %d jobs still non-terminal", len(remaining))
	if err := p.store.MarkJobsTimeout(ctx, remaining); err != nil {
		klog.ErrorS(err, "failed to mark jobs timeout")
	}
	for _, job := range track.snapshot() {
		if !job.status.IsTerminal() {
			track.expire(job.jobId, timeoutMessage)
		}
		if job.handle != "" && !job.status.IsTerminal() {
			if err := p.launcher.Stop(ctx, job.handle, "pipeline timeout"); err != nil {
				klog.ErrorS(err, "failed to stop worker at timeout", "jobId", job.jobId)
			}
		}
	}
}

// healthLoop periodically probes scheduler liveness of the launched
// tasks. Observations are informational only: a stopped task whose job
// row is not terminal is logged and recorded, never acted on, because
// the worker's final write may still be in flight.
func (p *Pipeline) healthLoop(ctx context.Context, track *tracker) {
	ticker := time.NewTicker(p.healthInterval)
	defer ticker.Stop()
	noted := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, job := range track.snapshot() {
			if job.handle == "" || job.status.IsTerminal() || noted[job.jobId] {
				continue
			}
			state, err := p.launcher.Describe(ctx, job.handle)
			if err != nil {
				klog.ErrorS(err, "worker health probe failed", "jobId", job.jobId)
				continue
			}
			if state.Lifecycle != launcher.LifecycleStopped {
				continue
			}
			noted[job.jobId] = true
			note := fmt.Sprintf("module %s job %s: worker exited without a terminal status (%s)",
				job.module, job.jobId, describeExit(state))
			klog.Warning(note)
			track.note(note)
		}
	}
}

func describeExit(state *launcher.TaskState) string {
	reason := state.StoppedReason
	if reason == "" {
		reason = "no stop reason"
	}
	if state.ExitCode != nil {
		return fmt.Sprintf("exit code %d, %s", *state.ExitCode, reason)
	}
	return reason
}

// emitProgress logs a periodic snapshot. Stream observations are
// advisory; a bus error degrades the fields to unknown instead of
// affecting the loop.
func (p *Pipeline) emitProgress(ctx context.Context, track *tracker, streamKey string, pl *plan) {
	terminal := 0
	jobs := track.snapshot()
	for _, job := range jobs {
		if job.status.IsTerminal() {
			terminal++
		}
	}
	length := "unknown"
	if n, err := p.bus.StreamLength(ctx, streamKey); err == nil {
		length = strconv.FormatInt(n, 10)
	}
	marker := "unknown"
	if present, err := p.bus.CompletionMarkerPresent(ctx, streamKey); err == nil {
		marker = strconv.FormatBool(present)
	}
	klog.Infof("pipeline progress, stream %s: %d/%d jobs terminal, stream length %s, eos %s",
		streamKey, terminal, len(jobs), length, marker)
	for _, consumer := range pl.dependents[pl.producer] {
		group := streambus.ConsumerGroupName(consumer, streamKey)
		if pending, err := p.bus.PendingCount(ctx, streamKey, group); err == nil {
			klog.V(4).Infof("consumer %s pending entries on %s: %d", consumer, streamKey, pending)
		}
	}
}
