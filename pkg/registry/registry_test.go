/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package registry

import (
	"context"
	"fmt"
	"testing"

	"gotest.tools/assert"

	dbclient "github.com/caffeinedoom/neobotnet/pkg/database/client"
	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
)

type fakeCatalog struct {
	profiles []*dbclient.ModuleProfile
	err      error
}

func (f *fakeCatalog) SelectEnabledProfiles(_ context.Context) ([]*dbclient.ModuleProfile, error) {
	return f.profiles, f.err
}

func profile(name string, deps ...string) *dbclient.ModuleProfile {
	return &dbclient.ModuleProfile{
		Name:          name,
		ContainerName: name + "-worker",
		Dependencies:  deps,
		Enabled:       true,
	}
}

func TestLoadAndLookup(t *testing.T) {
	catalog := &fakeCatalog{profiles: []*dbclient.ModuleProfile{
		profile("subfinder"),
		profile("httpx", "subfinder"),
	}}
	reg := NewRegistry(catalog)
	assert.NilError(t, reg.Load(context.Background()))

	assert.DeepEqual(t, reg.AllEnabled(), []string{"httpx", "subfinder"})
	assert.Assert(t, reg.Has("subfinder"))
	assert.Assert(t, !reg.Has("nuclei"))

	deps, err := reg.Dependencies("httpx")
	assert.NilError(t, err)
	assert.DeepEqual(t, deps, []string{"subfinder"})

	name, err := reg.ContainerName("subfinder")
	assert.NilError(t, err)
	assert.Equal(t, name, "subfinder-worker")

	_, err = reg.Profile("nuclei")
	assert.Assert(t, commonerrors.IsUnknownModule(err))
}

func TestLoadRefusesMissingDependency(t *testing.T) {
	catalog := &fakeCatalog{profiles: []*dbclient.ModuleProfile{
		profile("httpx", "subfinder"),
	}}
	reg := NewRegistry(catalog)
	err := reg.Load(context.Background())
	assert.Equal(t, commonerrors.GetErrorCode(err), commonerrors.ConfigLoadError)
}

func TestLoadRefusesSelfDependency(t *testing.T) {
	catalog := &fakeCatalog{profiles: []*dbclient.ModuleProfile{
		profile("subfinder", "subfinder"),
	}}
	reg := NewRegistry(catalog)
	err := reg.Load(context.Background())
	assert.Equal(t, commonerrors.GetErrorCode(err), commonerrors.ConfigLoadError)
}

func TestLoadRefusesCycle(t *testing.T) {
	catalog := &fakeCatalog{profiles: []*dbclient.ModuleProfile{
		profile("a", "b"),
		profile("b", "c"),
		profile("c", "a"),
	}}
	reg := NewRegistry(catalog)
	err := reg.Load(context.Background())
	assert.Equal(t, commonerrors.GetErrorCode(err), commonerrors.ConfigLoadError)
}

func TestReloadKeepsOldSnapshotOnFailure(t *testing.T) {
	catalog := &fakeCatalog{profiles: []*dbclient.ModuleProfile{profile("subfinder")}}
	reg := NewRegistry(catalog)
	assert.NilError(t, reg.Load(context.Background()))

	catalog.err = fmt.Errorf("connection refused")
	err := reg.Reload(context.Background())
	assert.Assert(t, err != nil)
	// Readers still see the previous view.
	assert.Assert(t, reg.Has("subfinder"))

	catalog.err = nil
	catalog.profiles = append(catalog.profiles, profile("httpx", "subfinder"))
	assert.NilError(t, reg.Reload(context.Background()))
	assert.Assert(t, reg.Has("httpx"))
}

func TestLookupBeforeLoad(t *testing.T) {
	reg := NewRegistry(&fakeCatalog{})
	_, err := reg.Profile("subfinder")
	assert.Equal(t, commonerrors.GetErrorCode(err), commonerrors.ConfigLoadError)
	assert.Assert(t, reg.AllEnabled() == nil)
}
