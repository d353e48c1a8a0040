/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package streambus abstracts the append-only artifact log between a
// producer worker and its consumers: Redis Streams with one consumer
// group per consumer module. The engine only observes the log for
// progress; workers read and write it directly.
package streambus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	commonconfig "github.com/caffeinedoom/neobotnet/pkg/config"
	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
)

const (
	// EosField marks the reserved end-of-stream entry a producer appends
	// after its final artifact. A progress signal only, never completion.
	EosField = "event"
	EosValue = "eos"

	busyGroupErr = "BUSYGROUP"
)

type Interface interface {
	Ping(ctx context.Context) error
	CreateStream(ctx context.Context, key string) error
	EnsureGroup(ctx context.Context, key, group string) error
	PendingCount(ctx context.Context, key, group string) (int64, error)
	StreamLength(ctx context.Context, key string) (int64, error)
	CompletionMarkerPresent(ctx context.Context, key string) (bool, error)
	DeleteStream(ctx context.Context, key string) error
}

type Bus struct {
	rdb redis.UniversalClient
}

// NewBus connects to the configured Redis endpoint.
func NewBus() (*Bus, error) {
	endpoint := commonconfig.GetRedisEndpoint()
	if endpoint == "" {
		return nil, commonerrors.NewConfigLoadError("the redis endpoint is not defined")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         endpoint,
		Password:     commonconfig.GetRedisPassword(),
		DB:           commonconfig.GetRedisDatabase(),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	return &Bus{rdb: rdb}, nil
}

// NewBusWithClient wraps an existing client. Used by tests.
func NewBusWithClient(rdb redis.UniversalClient) *Bus {
	return &Bus{rdb: rdb}
}

// StreamKey builds the per-asset stream key:
// scan:{short-correlation}:{asset_id}:{producer-module}.
func StreamKey(correlationId, assetId, producerModule string) string {
	return fmt.Sprintf("scan:%s:%s:%s", correlationId, assetId, producerModule)
}

// ConsumerGroupName is deterministic from its inputs so a re-launched
// worker joins the same group and resumes the same cursor.
func ConsumerGroupName(moduleName, streamKey string) string {
	return fmt.Sprintf("%s-cg-%s", moduleName, streamKey)
}

func (b *Bus) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return commonerrors.NewInfrastructureError(
			fmt.Sprintf("stream bus unreachable: %v", err))
	}
	return nil
}

// CreateStream creates the stream key if it does not exist, idempotent.
func (b *Bus) CreateStream(ctx context.Context, key string) error {
	return b.EnsureGroup(ctx, key, "engine-init")
}

// EnsureGroup creates a consumer group at the stream head, creating the
// stream itself when missing. Recreating an existing group is a no-op.
func (b *Bus) EnsureGroup(ctx context.Context, key, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, key, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupErr) {
		return commonerrors.NewInfrastructureError(
			fmt.Sprintf("failed to create group %s on stream %s: %v", group, key, err))
	}
	return nil
}

// PendingCount returns how many delivered entries the group has not yet
// acknowledged.
func (b *Bus) PendingCount(ctx context.Context, key, group string) (int64, error) {
	pending, err := b.rdb.XPending(ctx, key, group).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

func (b *Bus) StreamLength(ctx context.Context, key string) (int64, error) {
	return b.rdb.XLen(ctx, key).Result()
}

// CompletionMarkerPresent reports whether the newest stream entry is
// the producer's reserved end-of-stream marker.
func (b *Bus) CompletionMarkerPresent(ctx context.Context, key string) (bool, error) {
	entries, err := b.rdb.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}
	val, ok := entries[0].Values[EosField]
	if !ok {
		return false, nil
	}
	str, _ := val.(string)
	return str == EosValue, nil
}

// DeleteStream removes the stream after all bound consumer jobs are
// terminal. Best-effort.
func (b *Bus) DeleteStream(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, key).Err(); err != nil {
		klog.ErrorS(err, "failed to delete stream", "key", key)
		return err
	}
	return nil
}
