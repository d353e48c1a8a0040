/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	"errors"
	"fmt"
	"testing"

	"gotest.tools/assert"
)

func TestPredicates(t *testing.T) {
	assert.Assert(t, IsNotFound(NewScanNotFound("scan-1")))
	assert.Assert(t, IsNotFound(NewNotFoundWithMessage("gone")))
	assert.Assert(t, IsDuplicateJob(NewDuplicateJob("already inserted")))
	assert.Assert(t, IsUnknownModule(NewUnknownModule("nuclei")))
	assert.Assert(t, IsConfiguration(NewConfigurationError("cycle")))
	assert.Assert(t, IsConfiguration(NewAmbiguousProducer("two sources")))
	assert.Assert(t, IsInfrastructure(NewInfrastructureError("redis down")))
	assert.Assert(t, IsLaunchRejected(NewLaunchRejected("throttled")))
	assert.Assert(t, IsLaunchInfrastructure(NewLaunchInfrastructureError("ecs 5xx")))

	assert.Assert(t, !IsLaunchInfrastructure(NewLaunchRejected("throttled")))
	assert.Assert(t, !IsNotFound(NewBadRequest("nope")))
	assert.Assert(t, !IsNeobotnet(errors.New("plain")))
	assert.Assert(t, !IsNeobotnet(nil))
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("launching producer: %w", NewLaunchInfrastructureError("ecs 5xx"))
	assert.Assert(t, IsLaunchInfrastructure(err))
	assert.Equal(t, GetErrorCode(err), LaunchInfrastructureError)
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, GetErrorCode(NewUnknownModule("nuclei")), UnknownModule)
	assert.Equal(t, GetErrorCode(errors.New("plain")), "")
	assert.Equal(t, GetErrorCode(nil), "")
}

func TestIgnoreFound(t *testing.T) {
	assert.NilError(t, IgnoreFound(nil))
	assert.NilError(t, IgnoreFound(NewScanNotFound("scan-1")))
	assert.Assert(t, IgnoreFound(NewBadRequest("nope")) != nil)
}
