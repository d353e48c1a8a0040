/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

func SetValue(key, value string) {
	viper.Set(key, value)
}

func LoadConfig(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	return viper.ReadInConfig()
}

func getString(key, defaultValue string) string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetString(key)
}

func getBool(key string, defaultValue bool) bool {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetBool(key)
}

func getInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt(key)
}

func getStrings(key string) []string {
	val := viper.GetString(key)
	return removeBlank(strings.Split(val, ","))
}

func removeBlank(slice []string) []string {
	var result []string
	for _, val := range slice {
		if trim := strings.TrimSpace(val); trim != "" {
			result = append(result, trim)
		}
	}
	return result
}

func getFromFile(configPath, item string) string {
	path := getString(configPath, "")
	data, err := os.ReadFile(filepath.Join(path, item))
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(data), "\r\n")
}

func GetServerPort() int {
	return getInt(serverPort, 0)
}

func IsHealthCheckEnabled() bool {
	return getBool(healthCheckEnable, true)
}

func GetDBHost() string {
	return getFromFile(dbSecretPath, "host")
}

func GetDBPort() int {
	data := getFromFile(dbSecretPath, "port")
	n, err := strconv.Atoi(data)
	if err != nil {
		return 0
	}
	return n
}

func GetDBName() string {
	return getFromFile(dbSecretPath, "dbname")
}

func GetDBUser() string {
	return getFromFile(dbSecretPath, "user")
}

func GetDBPassword() string {
	return getFromFile(dbSecretPath, "password")
}

func GetDBSslMode() string {
	return getString(dbSslMode, "require")
}

func GetDBMaxOpenConns() int {
	return getInt(dbMaxOpenConns, 100)
}

func GetDBMaxIdleConns() int {
	return getInt(dbMaxIdleConns, 10)
}

func GetDBMaxLifetimeSecond() int {
	return getInt(dbMaxLifetimeSecond, 600)
}

func GetDBMaxIdleTimeSecond() int {
	return getInt(dbMaxIdleTimeSecond, 60)
}

func GetDBConnectTimeoutSecond() int {
	return getInt(dbConnectTimeoutSecond, 10)
}

func GetDBRequestTimeoutSecond() int {
	return getInt(dbRequestTimeoutSecond, 20)
}

func GetRedisEndpoint() string {
	return getString(redisEndpoint, "")
}

func GetRedisPassword() string {
	return getFromFile(redisSecretPath, "password")
}

func GetRedisDatabase() int {
	return getInt(redisDatabase, 0)
}

func GetLauncherCluster() string {
	return getString(launcherCluster, "")
}

func GetLauncherSubnetIds() []string {
	return getStrings(launcherSubnetIds)
}

func GetLauncherSecurityGroupIds() []string {
	return getStrings(launcherSecurityGroupIds)
}

func IsLauncherPublicIpAssigned() bool {
	return getBool(launcherAssignPublicIp, false)
}

func GetLauncherRegion() string {
	return getString(launcherRegion, "")
}

// GetLauncherDBEndpoint returns the database endpoint handed to worker
// containers. Workers resolve credentials themselves via the secret arn.
func GetLauncherDBEndpoint() string {
	return getString(launcherDBEndpoint, "")
}

func GetLauncherDBSecretArn() string {
	return getString(launcherDBSecretArn, "")
}

func GetScanPollIntervalSecond() int {
	return getInt(scanPollIntervalSecond, 10)
}

func GetScanHealthIntervalSecond() int {
	return getInt(scanHealthIntervalSecond, 30)
}

func GetScanTimeoutSecond() int {
	return getInt(scanTimeoutSecond, 3600)
}

func GetScanStartupTimeoutSecond() int {
	return getInt(scanStartupTimeoutSecond, 120)
}

func GetScanMaxParallelAssets() int {
	return getInt(scanMaxParallelAssets, 8)
}

func GetScanCancelGraceSecond() int {
	return getInt(scanCancelGraceSecond, 30)
}

func GetScanLaunchRetryLimit() int {
	return getInt(scanLaunchRetryLimit, 2)
}
