/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package pipeline

import (
	"context"
	"testing"

	"gotest.tools/assert"

	dbclient "github.com/caffeinedoom/neobotnet/pkg/database/client"
	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
	"github.com/caffeinedoom/neobotnet/pkg/registry"
)

type fakeCatalog struct {
	profiles []*dbclient.ModuleProfile
}

func (f *fakeCatalog) SelectEnabledProfiles(_ context.Context) ([]*dbclient.ModuleProfile, error) {
	return f.profiles, nil
}

func profile(name string, deps ...string) *dbclient.ModuleProfile {
	return &dbclient.ModuleProfile{
		Name:                    name,
		ContainerName:           name + "-worker",
		Dependencies:            deps,
		EstimatedSecondsPerUnit: 2,
		MaxBatchSize:            100,
		Enabled:                 true,
	}
}

func loadRegistry(t *testing.T, profiles ...*dbclient.ModuleProfile) *registry.Registry {
	t.Helper()
	reg := registry.NewRegistry(&fakeCatalog{profiles: profiles})
	assert.NilError(t, reg.Load(context.Background()))
	return reg
}

func TestResolveAutoIncludesDependencies(t *testing.T) {
	reg := loadRegistry(t,
		profile("subfinder"),
		profile("dnsx", "subfinder"),
		profile("httpx", "dnsx"),
	)

	// Requesting only the leaf pulls in the whole chain.
	pl, err := resolve(reg, []string{"httpx"})
	assert.NilError(t, err)
	assert.Equal(t, pl.producer, "subfinder")
	assert.DeepEqual(t, pl.consumers, []string{"dnsx", "httpx"})
	assert.Equal(t, pl.upstreamOf("dnsx"), "subfinder")
	assert.Equal(t, pl.upstreamOf("httpx"), "dnsx")
	assert.Assert(t, pl.hasDependents("subfinder"))
	assert.Assert(t, pl.hasDependents("dnsx"))
	assert.Assert(t, !pl.hasDependents("httpx"))
}

func TestResolveFanOut(t *testing.T) {
	reg := loadRegistry(t,
		profile("subfinder"),
		profile("dnsx", "subfinder"),
		profile("tlsx", "subfinder"),
	)

	pl, err := resolve(reg, []string{"dnsx", "tlsx"})
	assert.NilError(t, err)
	assert.Equal(t, pl.producer, "subfinder")
	assert.DeepEqual(t, pl.consumers, []string{"dnsx", "tlsx"})
}

func TestResolveAmbiguousProducer(t *testing.T) {
	reg := loadRegistry(t,
		profile("subfinder"),
		profile("amass"),
		profile("httpx", "subfinder"),
	)

	_, err := resolve(reg, []string{"amass", "httpx"})
	assert.Assert(t, err != nil)
	assert.Equal(t, commonerrors.GetErrorCode(err), commonerrors.AmbiguousProducer)
}

func TestResolveUnknownModule(t *testing.T) {
	reg := loadRegistry(t, profile("subfinder"))

	_, err := resolve(reg, []string{"nuclei"})
	assert.Assert(t, commonerrors.IsUnknownModule(err))
}

func TestResolveEmptyRequest(t *testing.T) {
	reg := loadRegistry(t, profile("subfinder"))

	_, err := resolve(reg, nil)
	assert.Assert(t, commonerrors.IsConfiguration(err))
}

func TestTopoSortDetectsCycle(t *testing.T) {
	// The registry refuses cyclic catalogs; feed the closure directly to
	// cover the re-check that guards against mid-scan reloads.
	_, err := topoSort(map[string][]string{
		"a": {"b"},
		"b": {"a"},
		"c": nil,
	})
	assert.Assert(t, commonerrors.IsConfiguration(err))
}
