/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package launcher confines every container-scheduler specific to a
// thin interface so the pipeline is testable against an in-process fake
// and the engine can be re-targeted to another scheduler.
package launcher

import (
	"context"
	"sort"

	dbclient "github.com/caffeinedoom/neobotnet/pkg/database/client"
)

// Lifecycle is the coarse liveness of a launched task. Never
// authoritative for business completion; the job row is.
type Lifecycle string

const (
	LifecyclePending Lifecycle = "pending"
	LifecycleRunning Lifecycle = "running"
	LifecycleStopped Lifecycle = "stopped"
)

// TaskHandle is the opaque scheduler identifier of a launched worker.
type TaskHandle string

// TaskState is the result of a liveness probe.
type TaskState struct {
	Lifecycle     Lifecycle
	ExitCode      *int32
	StoppedReason string
}

// LaunchSpec describes one worker to start.
type LaunchSpec struct {
	Profile *dbclient.ModuleProfile
	// Env is the worker contract environment (SCAN_ID, JOB_ID, stream
	// keys, data-store pointers).
	Env map[string]string
	// BatchSize is the expected input count, used for tier selection.
	BatchSize int
}

// Placement carries the network placement of a task. Values come from
// process configuration, never from code.
type Placement struct {
	SubnetIds        []string
	SecurityGroupIds []string
	AssignPublicIp   bool
}

type Interface interface {
	// Launch starts a worker container and returns its opaque handle.
	Launch(ctx context.Context, spec *LaunchSpec, placement Placement) (TaskHandle, error)
	// Describe polls coarse liveness of a previously launched task.
	Describe(ctx context.Context, handle TaskHandle) (*TaskState, error)
	// Stop requests best-effort cancellation.
	Stop(ctx context.Context, handle TaskHandle, reason string) error
}

// SelectTier picks the smallest resource tier whose threshold covers
// the batch size. Ties and overflow use the largest tier.
func SelectTier(tiers []dbclient.ResourceTier, batch int) *dbclient.ResourceTier {
	if len(tiers) == 0 {
		return nil
	}
	sorted := make([]dbclient.ResourceTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Threshold < sorted[j].Threshold
	})
	for i := range sorted {
		if sorted[i].Threshold >= batch {
			return &sorted[i]
		}
	}
	return &sorted[len(sorted)-1]
}
