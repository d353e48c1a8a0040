/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package registry holds the in-memory view of the scanner-module
// catalog. Dependency order, container names and resource tiers have a
// single source of truth here; request validation and pipeline
// resolution both read the same snapshot.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"k8s.io/klog/v2"

	dbclient "github.com/caffeinedoom/neobotnet/pkg/database/client"
	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
)

type snapshot struct {
	profiles map[string]*dbclient.ModuleProfile
}

// Registry is a process-wide, concurrency-safe view of the enabled
// module profiles. Readers always observe a complete snapshot; Reload
// swaps snapshots atomically and keeps the old one on failure.
type Registry struct {
	catalog dbclient.ModuleProfileInterface
	current atomic.Pointer[snapshot]
}

func NewRegistry(catalog dbclient.ModuleProfileInterface) *Registry {
	return &Registry{catalog: catalog}
}

// Load populates the in-memory view from the catalog. On startup a
// failure here must abort process initialization rather than serve
// traffic with an empty view.
func (r *Registry) Load(ctx context.Context) error {
	profiles, err := r.catalog.SelectEnabledProfiles(ctx)
	if err != nil {
		return commonerrors.NewConfigLoadError(
			fmt.Sprintf("failed to read module catalog: %v", err))
	}
	view := make(map[string]*dbclient.ModuleProfile, len(profiles))
	for _, profile := range profiles {
		view[profile.Name] = profile
	}
	if err = validate(view); err != nil {
		return err
	}
	r.current.Store(&snapshot{profiles: view})
	klog.Infof("module registry loaded, %d enabled modules", len(view))
	return nil
}

// Reload re-reads the catalog. Readers see either the old or the new
// snapshot, never a partial one.
func (r *Registry) Reload(ctx context.Context) error {
	if err := r.Load(ctx); err != nil {
		klog.ErrorS(err, "registry reload failed, keeping previous snapshot")
		return err
	}
	return nil
}

func (r *Registry) get() *snapshot {
	return r.current.Load()
}

// Profile returns the full profile of the named module.
func (r *Registry) Profile(name string) (*dbclient.ModuleProfile, error) {
	view := r.get()
	if view == nil {
		return nil, commonerrors.NewConfigLoadError("module registry is not loaded")
	}
	profile, ok := view.profiles[name]
	if !ok {
		return nil, commonerrors.NewUnknownModule(name)
	}
	return profile, nil
}

// Dependencies returns the declared dependency set of the named module.
func (r *Registry) Dependencies(name string) ([]string, error) {
	profile, err := r.Profile(name)
	if err != nil {
		return nil, err
	}
	return profile.Dependencies, nil
}

// ContainerName returns the scheduler-facing container identifier.
func (r *Registry) ContainerName(name string) (string, error) {
	profile, err := r.Profile(name)
	if err != nil {
		return "", err
	}
	return profile.ContainerName, nil
}

// AllEnabled returns the sorted names of every enabled module.
func (r *Registry) AllEnabled() []string {
	view := r.get()
	if view == nil {
		return nil
	}
	names := make([]string, 0, len(view.profiles))
	for name := range view.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the named module is enabled.
func (r *Registry) Has(name string) bool {
	view := r.get()
	if view == nil {
		return false
	}
	_, ok := view.profiles[name]
	return ok
}

// validate refuses a snapshot whose dependency graph references missing
// or disabled modules, or contains a cycle. Refusing the load beats
// producing a buggy pipeline at runtime.
func validate(view map[string]*dbclient.ModuleProfile) error {
	for name, profile := range view {
		for _, dep := range profile.Dependencies {
			if dep == name {
				return commonerrors.NewConfigLoadError(
					fmt.Sprintf("module %q depends on itself", name))
			}
			if _, ok := view[dep]; !ok {
				return commonerrors.NewConfigLoadError(fmt.Sprintf(
					"module %q depends on %q which is missing or disabled", name, dep))
			}
		}
	}
	if cycle := findCycle(view); len(cycle) > 0 {
		return commonerrors.NewConfigLoadError(
			fmt.Sprintf("dependency cycle among modules: %v", cycle))
	}
	return nil
}

// findCycle runs Kahn's algorithm over the full snapshot; any nodes
// left with a positive in-degree form a cycle.
func findCycle(view map[string]*dbclient.ModuleProfile) []string {
	indegree := make(map[string]int, len(view))
	dependents := make(map[string][]string, len(view))
	for name, profile := range view {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range profile.Dependencies {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}
	var queue []string
	for name, degree := range indegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	if visited == len(indegree) {
		return nil
	}
	var cycle []string
	for name, degree := range indegree {
		if degree > 0 {
			cycle = append(cycle, name)
		}
	}
	sort.Strings(cycle)
	return cycle
}
