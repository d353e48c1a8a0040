/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package config

// Keys of the process configuration file. Every infrastructure
// identifier the engine touches comes from here, never from code.
const (
	serverPort        = "server.port"
	healthCheckEnable = "healthcheck.enable"

	dbSecretPath           = "db.secretPath"
	dbSslMode              = "db.sslMode"
	dbMaxOpenConns         = "db.maxOpenConns"
	dbMaxIdleConns         = "db.maxIdleConns"
	dbMaxLifetimeSecond    = "db.maxLifetimeSecond"
	dbMaxIdleTimeSecond    = "db.maxIdleTimeSecond"
	dbConnectTimeoutSecond = "db.connectTimeoutSecond"
	dbRequestTimeoutSecond = "db.requestTimeoutSecond"

	redisEndpoint   = "redis.endpoint"
	redisSecretPath = "redis.secretPath"
	redisDatabase   = "redis.database"

	launcherCluster          = "launcher.cluster"
	launcherSubnetIds        = "launcher.subnetIds"
	launcherSecurityGroupIds = "launcher.securityGroupIds"
	launcherAssignPublicIp   = "launcher.assignPublicIp"
	launcherRegion           = "launcher.region"
	launcherDBEndpoint       = "launcher.workerDBEndpoint"
	launcherDBSecretArn      = "launcher.workerDBSecretArn"

	scanPollIntervalSecond   = "scan.pollIntervalSecond"
	scanHealthIntervalSecond = "scan.healthIntervalSecond"
	scanTimeoutSecond        = "scan.timeoutSecond"
	scanStartupTimeoutSecond = "scan.startupTimeoutSecond"
	scanMaxParallelAssets    = "scan.maxParallelAssets"
	scanCancelGraceSecond    = "scan.cancelGraceSecond"
	scanLaunchRetryLimit     = "scan.launchRetryLimit"
)
