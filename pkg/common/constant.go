/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package common

const (
	// RouterRootPath is the prefix of every inbound scan-engine route.
	RouterRootPath = "/neobotnet/api/v1/"

	// gin context keys set by the auth middleware.
	UserId   = "userId"
	UserName = "userName"

	// route parameter names.
	ScanId = "scanId"
	Name   = "name"
)

// Environment variables handed to every launched worker container.
// Workers use them to locate their job row, their stream, and the data
// stores. Removing or renaming any of these breaks the worker contract.
const (
	EnvScanId        = "SCAN_ID"
	EnvAssetId       = "ASSET_ID"
	EnvJobId         = "JOB_ID"
	EnvOwnerId       = "OWNER_ID"
	EnvModuleRole    = "MODULE_ROLE"
	EnvInputStream   = "INPUT_STREAM_KEY"
	EnvOutputStream  = "OUTPUT_STREAM_KEY"
	EnvConsumerGroup = "CONSUMER_GROUP"
	EnvRedisEndpoint = "REDIS_ENDPOINT"
	EnvDBEndpoint    = "DATABASE_ENDPOINT"
	EnvDBSecretArn   = "DATABASE_SECRET_ARN"

	// per-scan option flags.
	EnvActiveDomainsOnly = "ACTIVE_DOMAINS_ONLY"
)

// Module roles within one pipeline.
const (
	RoleProducer = "producer"
	RoleConsumer = "consumer"
)
