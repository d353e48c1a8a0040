/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package launcher

import (
	"context"
	"fmt"
	"sync"

	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
)

// Fake is an in-process launcher for tests. Launches succeed and report
// running unless scripted otherwise.
type Fake struct {
	mu sync.Mutex

	// FailModules maps a module name to the error its launch returns.
	FailModules map[string]error
	// States overrides the lifecycle reported for a handle.
	States map[TaskHandle]*TaskState

	launches map[TaskHandle]*LaunchSpec
	stopped  map[TaskHandle]string
	seq      int
}

func NewFake() *Fake {
	return &Fake{
		FailModules: map[string]error{},
		States:      map[TaskHandle]*TaskState{},
		launches:    map[TaskHandle]*LaunchSpec{},
		stopped:     map[TaskHandle]string{},
	}
}

func (f *Fake) Launch(_ context.Context, spec *LaunchSpec, _ Placement) (TaskHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if spec == nil || spec.Profile == nil {
		return "", commonerrors.NewBadRequest("the launch spec is empty")
	}
	if err, ok := f.FailModules[spec.Profile.Name]; ok {
		return "", err
	}
	f.seq++
	handle := TaskHandle(fmt.Sprintf("fake-task-%d-%s", f.seq, spec.Profile.Name))
	f.launches[handle] = spec
	return handle, nil
}

func (f *Fake) Describe(_ context.Context, handle TaskHandle) (*TaskState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state, ok := f.States[handle]; ok {
		return state, nil
	}
	if _, ok := f.launches[handle]; !ok {
		return &TaskState{Lifecycle: LifecycleStopped, StoppedReason: "task not found"}, nil
	}
	return &TaskState{Lifecycle: LifecycleRunning}, nil
}

func (f *Fake) Stop(_ context.Context, handle TaskHandle, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped[handle] = reason
	return nil
}

// LaunchCount returns how many workers were launched.
func (f *Fake) LaunchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launches)
}

// LaunchedSpec returns the spec recorded for a handle.
func (f *Fake) LaunchedSpec(handle TaskHandle) *LaunchSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches[handle]
}

// LaunchedModules returns the module name of every recorded launch.
func (f *Fake) LaunchedModules() map[string]TaskHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[string]TaskHandle, len(f.launches))
	for handle, spec := range f.launches {
		result[spec.Profile.Name] = handle
	}
	return result
}

// StoppedReason returns the reason recorded by Stop, empty if never
// stopped.
func (f *Fake) StoppedReason(handle TaskHandle) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped[handle]
}

// SetState scripts the lifecycle reported for a handle.
func (f *Fake) SetState(handle TaskHandle, state *TaskState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States[handle] = state
}
