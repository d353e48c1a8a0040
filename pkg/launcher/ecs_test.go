/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package launcher

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/smithy-go"
	"gotest.tools/assert"

	"github.com/caffeinedoom/neobotnet/pkg/common"
	dbclient "github.com/caffeinedoom/neobotnet/pkg/database/client"
	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
)

type stubEcsAPI struct {
	runInput    *ecs.RunTaskInput
	runOutput   *ecs.RunTaskOutput
	runErr      error
	describeOut *ecs.DescribeTasksOutput
	describeErr error
	stopInput   *ecs.StopTaskInput
	stopErr     error
}

func (s *stubEcsAPI) RunTask(_ context.Context, params *ecs.RunTaskInput, _ ...func(*ecs.Options)) (*ecs.RunTaskOutput, error) {
	s.runInput = params
	return s.runOutput, s.runErr
}

func (s *stubEcsAPI) DescribeTasks(_ context.Context, _ *ecs.DescribeTasksInput, _ ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error) {
	return s.describeOut, s.describeErr
}

func (s *stubEcsAPI) StopTask(_ context.Context, params *ecs.StopTaskInput, _ ...func(*ecs.Options)) (*ecs.StopTaskOutput, error) {
	s.stopInput = params
	return &ecs.StopTaskOutput{}, s.stopErr
}

func testSpec() *LaunchSpec {
	return &LaunchSpec{
		Profile: &dbclient.ModuleProfile{
			Name:          "subfinder",
			ContainerName: "subfinder-worker",
			ResourceTiers: []byte(`[{"threshold":100,"cpu_units":512,"memory_mib":1024},
				{"threshold":1000,"cpu_units":1024,"memory_mib":2048}]`),
		},
		Env: map[string]string{
			common.EnvScanId: "scan-1",
			common.EnvJobId:  "job-1",
		},
		BatchSize: 400,
	}
}

func testPlacement() Placement {
	return Placement{
		SubnetIds:        []string{"subnet-1", "subnet-2"},
		SecurityGroupIds: []string{"sg-1"},
	}
}

func TestLaunchBuildsRunTaskInput(t *testing.T) {
	stub := &stubEcsAPI{runOutput: &ecs.RunTaskOutput{
		Tasks: []ecstypes.Task{{TaskArn: aws.String("arn:task/abc")}},
	}}
	l := NewEcsLauncherWithAPI(stub, "recon-cluster")

	handle, err := l.Launch(context.Background(), testSpec(), testPlacement())
	assert.NilError(t, err)
	assert.Equal(t, handle, TaskHandle("arn:task/abc"))

	input := stub.runInput
	assert.Equal(t, aws.ToString(input.Cluster), "recon-cluster")
	assert.Equal(t, aws.ToString(input.TaskDefinition), "subfinder-worker")
	assert.Equal(t, input.LaunchType, ecstypes.LaunchTypeFargate)

	// Batch 400 lands on the second tier.
	assert.Equal(t, aws.ToString(input.Overrides.Cpu), "1024")
	assert.Equal(t, aws.ToString(input.Overrides.Memory), "2048")

	vpc := input.NetworkConfiguration.AwsvpcConfiguration
	assert.DeepEqual(t, vpc.Subnets, []string{"subnet-1", "subnet-2"})
	assert.DeepEqual(t, vpc.SecurityGroups, []string{"sg-1"})
	assert.Equal(t, vpc.AssignPublicIp, ecstypes.AssignPublicIpDisabled)

	override := input.Overrides.ContainerOverrides[0]
	assert.Equal(t, aws.ToString(override.Name), "subfinder-worker")
	assert.Equal(t, len(override.Environment), 2)
}

func TestLaunchWithoutPlacement(t *testing.T) {
	l := NewEcsLauncherWithAPI(&stubEcsAPI{}, "recon-cluster")
	_, err := l.Launch(context.Background(), testSpec(), Placement{})
	assert.Equal(t, commonerrors.GetErrorCode(err), commonerrors.ConfigLoadError)
}

func TestLaunchErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		apiCode   string
		errorCode string
	}{
		{"client fault is a rejection", "ClientException", commonerrors.LaunchRejected},
		{"missing cluster is a rejection", "ClusterNotFoundException", commonerrors.LaunchRejected},
		{"server fault is infrastructure", "ServerException", commonerrors.LaunchInfrastructureError},
	}
	for _, tt := range tests {
		stub := &stubEcsAPI{runErr: &smithy.GenericAPIError{Code: tt.apiCode, Message: "boom"}}
		l := NewEcsLauncherWithAPI(stub, "recon-cluster")
		_, err := l.Launch(context.Background(), testSpec(), testPlacement())
		assert.Equal(t, commonerrors.GetErrorCode(err), tt.errorCode, tt.name)
	}
}

func TestLaunchFailureMapping(t *testing.T) {
	tests := []struct {
		name      string
		reason    string
		errorCode string
	}{
		{"missing image", "CannotPullContainerError: image manifest MISSING", commonerrors.ImageUnavailable},
		{"capacity", "RESOURCE:CPU", commonerrors.LaunchRejected},
		{"anything else", "AGENT", commonerrors.LaunchInfrastructureError},
	}
	for _, tt := range tests {
		stub := &stubEcsAPI{runOutput: &ecs.RunTaskOutput{
			Failures: []ecstypes.Failure{{Reason: aws.String(tt.reason)}},
		}}
		l := NewEcsLauncherWithAPI(stub, "recon-cluster")
		_, err := l.Launch(context.Background(), testSpec(), testPlacement())
		assert.Equal(t, commonerrors.GetErrorCode(err), tt.errorCode, tt.name)
	}
}

func TestDescribeLifecycleMapping(t *testing.T) {
	tests := []struct {
		lastStatus string
		lifecycle  Lifecycle
	}{
		{"PROVISIONING", LifecyclePending},
		{"PENDING", LifecyclePending},
		{"RUNNING", LifecycleRunning},
		{"DEPROVISIONING", LifecycleRunning},
		{"STOPPED", LifecycleStopped},
	}
	for _, tt := range tests {
		stub := &stubEcsAPI{describeOut: &ecs.DescribeTasksOutput{
			Tasks: []ecstypes.Task{{LastStatus: aws.String(tt.lastStatus)}},
		}}
		l := NewEcsLauncherWithAPI(stub, "recon-cluster")
		state, err := l.Describe(context.Background(), "arn:task/abc")
		assert.NilError(t, err)
		assert.Equal(t, state.Lifecycle, tt.lifecycle, tt.lastStatus)
	}
}

func TestDescribeUnknownTask(t *testing.T) {
	stub := &stubEcsAPI{describeOut: &ecs.DescribeTasksOutput{}}
	l := NewEcsLauncherWithAPI(stub, "recon-cluster")
	state, err := l.Describe(context.Background(), "arn:task/gone")
	assert.NilError(t, err)
	assert.Equal(t, state.Lifecycle, LifecycleStopped)
	assert.Equal(t, state.StoppedReason, "task not found")
}

func TestDescribeStoppedExitCode(t *testing.T) {
	stub := &stubEcsAPI{describeOut: &ecs.DescribeTasksOutput{
		Tasks: []ecstypes.Task{{
			LastStatus:    aws.String("STOPPED"),
			StoppedReason: aws.String("Essential container exited"),
			Containers:    []ecstypes.Container{{ExitCode: aws.Int32(137)}},
		}},
	}}
	l := NewEcsLauncherWithAPI(stub, "recon-cluster")
	state, err := l.Describe(context.Background(), "arn:task/abc")
	assert.NilError(t, err)
	assert.Equal(t, state.Lifecycle, LifecycleStopped)
	assert.Equal(t, *state.ExitCode, int32(137))
}

func TestStopPassesReason(t *testing.T) {
	stub := &stubEcsAPI{}
	l := NewEcsLauncherWithAPI(stub, "recon-cluster")
	assert.NilError(t, l.Stop(context.Background(), "arn:task/abc", "scan cancelled"))
	assert.Equal(t, aws.ToString(stub.stopInput.Reason), "scan cancelled")
	assert.Equal(t, aws.ToString(stub.stopInput.Task), "arn:task/abc")
}
