package config

import (
	"os"
	"strconv"
)

const DATABASE_TYPE = "SENTINEL_DATABASE_TYPE"
const DATABASE_URL = "SENTINEL_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "SENTINEL_DATABASE_SQLLITE_FILE_NAME"
const SERVER_PORT = "SENTINEL_SERVER_PORT"
const ENGINE_CHECK_DB_INTERVAL = "SENTINEL_ENGINE_CHECK_DB_INTERVAL"
const ENGINE_STUCK_WORKFLOWS_INTERVAL = "SENTINEL_ENGINE_STUCK_WORKFLOWS_INTERVAL"
const ENGINE_STUCK_WORKFLOWS_REPAIR_AFTER_MINUTES = "SENTINEL_ENGINE_STUCK_WORKFLOWS_REPAIR_AFTER_MINUTES"
const ENGINE_BATCH_SIZE = "SENTINEL_ENGINE_BATCH_SIZE"         //number of workflows to pull from the database at a time
const ENGINE_EXECUTOR_GROUP = "SENTINEL_ENGINE_EXECUTOR_GROUP" //the group of workflows this instance will process
const ENGINE_EXECUTOR_SIZE = "SENTINEL_ENGINE_EXECUTOR_SIZE"   //number of workers to run ie the parallel nature of the jobs
const EXECUTOR_NAME = "SENTINEL_EXECUTOR_NAME"
const JWT_SECRET = "SENTINEL_JWT_SECRET"
const JWT_EXPIRY_HOURS = "SENTINEL_JWT_EXPIRY_HOURS"
const JWT_ISSUER = "SENTINEL_JWT_ISSUER"
const CONFIG_FILE = "SENTINEL_CONFIG_FILE"
const API_RATE_LIMIT = "SENTINEL_API_RATE_LIMIT" //requests per second per client
const API_RATE_BURST = "SENTINEL_API_RATE_BURST"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	if settingKey == ENGINE_CHECK_DB_INTERVAL {
		return "3s"
	}
	if settingKey == ENGINE_STUCK_WORKFLOWS_INTERVAL {
		return "60s"
	}
	if settingKey == ENGINE_BATCH_SIZE {
		return "10"
	}
	if settingKey == ENGINE_STUCK_WORKFLOWS_REPAIR_AFTER_MINUTES {
		return "5"
	}
	if settingKey == ENGINE_EXECUTOR_SIZE {
		return "5"
	}
	if settingKey == ENGINE_EXECUTOR_GROUP {
		return "default"
	}
	if settingKey == SERVER_PORT {
		return "8080"
	}
	if settingKey == JWT_EXPIRY_HOURS {
		return "8"
	}
	if settingKey == JWT_ISSUER {
		return "sentinel"
	}
	if settingKey == DATABASE_SQLLITE_FILE_NAME {
		return "./sentinel.db"
	}
	if settingKey == CONFIG_FILE {
		return "./sentinel.yaml"
	}
	if settingKey == API_RATE_LIMIT {
		return "25"
	}
	if settingKey == API_RATE_BURST {
		return "50"
	}
	return ""
}
