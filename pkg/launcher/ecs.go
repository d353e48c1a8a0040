/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package launcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/smithy-go"
	"k8s.io/klog/v2"

	commonconfig "github.com/caffeinedoom/neobotnet/pkg/config"
	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
)

// ecsAPI is the subset of the ECS client the launcher uses. Tests
// implement it with a stub.
type ecsAPI interface {
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
	StopTask(ctx context.Context, params *ecs.StopTaskInput, optFns ...func(*ecs.Options)) (*ecs.StopTaskOutput, error)
}

// EcsLauncher runs ephemeral workers as Fargate tasks.
type EcsLauncher struct {
	api     ecsAPI
	cluster string
}

func NewEcsLauncher(ctx context.Context) (*EcsLauncher, error) {
	cluster := commonconfig.GetLauncherCluster()
	if cluster == "" {
		return nil, commonerrors.NewConfigLoadError("the launcher cluster is not defined")
	}
	var optFns []func(*awsconfig.LoadOptions) error
	if region := commonconfig.GetLauncherRegion(); region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, commonerrors.NewConfigLoadError(
			fmt.Sprintf("failed to load aws config: %v", err))
	}
	return &EcsLauncher{api: ecs.NewFromConfig(cfg), cluster: cluster}, nil
}

// NewEcsLauncherWithAPI wires a stub API. Used by tests.
func NewEcsLauncherWithAPI(api ecsAPI, cluster string) *EcsLauncher {
	return &EcsLauncher{api: api, cluster: cluster}
}

func (l *EcsLauncher) Launch(ctx context.Context, spec *LaunchSpec, placement Placement) (TaskHandle, error) {
	if spec == nil || spec.Profile == nil {
		return "", commonerrors.NewBadRequest("the launch spec is empty")
	}
	if len(placement.SubnetIds) == 0 || len(placement.SecurityGroupIds) == 0 {
		return "", commonerrors.NewConfigLoadError("the launcher network placement is not configured")
	}

	override := ecstypes.ContainerOverride{
		Name:        aws.String(spec.Profile.ContainerName),
		Environment: cvtToKeyValuePairs(spec.Env),
	}
	taskOverride := &ecstypes.TaskOverride{
		ContainerOverrides: []ecstypes.ContainerOverride{override},
	}
	tiers, err := spec.Profile.Tiers()
	if err != nil {
		return "", commonerrors.NewConfigurationError(fmt.Sprintf(
			"module %s carries malformed resource tiers: %v", spec.Profile.Name, err))
	}
	if tier := SelectTier(tiers, spec.BatchSize); tier != nil {
		taskOverride.Cpu = aws.String(strconv.Itoa(tier.CpuUnits))
		taskOverride.Memory = aws.String(strconv.Itoa(tier.MemoryMib))
	}

	assignPublicIp := ecstypes.AssignPublicIpDisabled
	if placement.AssignPublicIp {
		assignPublicIp = ecstypes.AssignPublicIpEnabled
	}
	input := &ecs.RunTaskInput{
		Cluster:        aws.String(l.cluster),
		TaskDefinition: aws.String(spec.Profile.ContainerName),
		LaunchType:     ecstypes.LaunchTypeFargate,
		Count:          aws.Int32(1),
		StartedBy:      aws.String("neobotnet-scan-engine"),
		Overrides:      taskOverride,
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        placement.SubnetIds,
				SecurityGroups: placement.SecurityGroupIds,
				AssignPublicIp: assignPublicIp,
			},
		},
	}
	output, err := l.api.RunTask(ctx, input)
	if err != nil {
		return "", cvtToLaunchError(spec.Profile.Name, err)
	}
	if len(output.Tasks) == 0 {
		reason := "no task returned"
		if len(output.Failures) > 0 {
			reason = aws.ToString(output.Failures[0].Reason)
		}
		return "", cvtToFailureError(spec.Profile.Name, reason)
	}
	handle := TaskHandle(aws.ToString(output.Tasks[0].TaskArn))
	klog.Infof("launched %s worker, task: %s, batch: %d",
		spec.Profile.Name, handle, spec.BatchSize)
	return handle, nil
}

func (l *EcsLauncher) Describe(ctx context.Context, handle TaskHandle) (*TaskState, error) {
	output, err := l.api.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(l.cluster),
		Tasks:   []string{string(handle)},
	})
	if err != nil {
		return nil, commonerrors.NewLaunchInfrastructureError(
			fmt.Sprintf("failed to describe task %s: %v", handle, err))
	}
	if len(output.Tasks) == 0 {
		// A task the scheduler no longer knows is treated as stopped.
		return &TaskState{Lifecycle: LifecycleStopped, StoppedReason: "task not found"}, nil
	}
	task := output.Tasks[0]
	state := &TaskState{
		Lifecycle:     cvtToLifecycle(aws.ToString(task.LastStatus)),
		StoppedReason: aws.ToString(task.StoppedReason),
	}
	if state.Lifecycle == LifecycleStopped && len(task.Containers) > 0 {
		state.ExitCode = task.Containers[0].ExitCode
	}
	return state, nil
}

func (l *EcsLauncher) Stop(ctx context.Context, handle TaskHandle, reason string) error {
	_, err := l.api.StopTask(ctx, &ecs.StopTaskInput{
		Cluster: aws.String(l.cluster),
		Task:    aws.String(string(handle)),
		Reason:  aws.String(reason),
	})
	if err != nil {
		klog.ErrorS(err, "failed to stop task", "handle", handle)
		return commonerrors.NewLaunchInfrastructureError(
			fmt.Sprintf("failed to stop task %s: %v", handle, err))
	}
	return nil
}

func cvtToLifecycle(lastStatus string) Lifecycle {
	switch lastStatus {
	case "PROVISIONING", "PENDING", "ACTIVATING":
		return LifecyclePending
	case "RUNNING", "DEACTIVATING", "STOPPING", "DEPROVISIONING":
		return LifecycleRunning
	case "STOPPED", "DELETED":
		return LifecycleStopped
	default:
		return LifecyclePending
	}
}

func cvtToKeyValuePairs(env map[string]string) []ecstypes.KeyValuePair {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]ecstypes.KeyValuePair, 0, len(env))
	for _, key := range keys {
		pairs = append(pairs, ecstypes.KeyValuePair{
			Name:  aws.String(key),
			Value: aws.String(env[key]),
		})
	}
	return pairs
}

// cvtToLaunchError maps scheduler API errors onto the launch taxonomy:
// caller mistakes and quota refusals are rejections, the rest is
// transient infrastructure.
func cvtToLaunchError(module string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ClientException", "InvalidParameterException", "AccessDeniedException",
			"ClusterNotFoundException", "UnsupportedFeatureException":
			return commonerrors.NewLaunchRejected(
				fmt.Sprintf("launch of %s rejected: %v", module, err))
		}
	}
	return commonerrors.NewLaunchInfrastructureError(
		fmt.Sprintf("launch of %s failed: %v", module, err))
}

// cvtToFailureError maps RunTask placement failures returned without an
// API error.
func cvtToFailureError(module, reason string) error {
	switch {
	case strings.Contains(reason, "MISSING") || strings.Contains(reason, "image"):
		return commonerrors.NewImageUnavailable(
			fmt.Sprintf("launch of %s failed: %s", module, reason))
	case strings.HasPrefix(reason, "RESOURCE:"), strings.Contains(reason, "limit"):
		return commonerrors.NewLaunchRejected(
			fmt.Sprintf("launch of %s rejected: %s", module, reason))
	default:
		return commonerrors.NewLaunchInfrastructureError(
			fmt.Sprintf("launch of %s failed: %s", module, reason))
	}
}
