package config

import (
	"os"
	"strconv"
)

// FromEnv overlays TASKQ_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	setString(&cfg.DataDir, "TASKQ_DATA_DIR")
	setString(&cfg.HTTPAddr, "TASKQ_HTTP_ADDR")
	setString(&cfg.QueueName, "TASKQ_QUEUE_NAME")
	setString(&cfg.GroupID, "TASKQ_GROUP_ID")
	setInt(&cfg.Capacity, "TASKQ_CAPACITY")
	setInt(&cfg.RetryBudget, "TASKQ_RETRY_BUDGET")
	setInt(&cfg.PayloadMaxBytes, "TASKQ_PAYLOAD_MAX_BYTES")
	setInt64(&cfg.LeaseMs, "TASKQ_LEASE_MS")
	setInt64(&cfg.DedupWindowMs, "TASKQ_DEDUP_WINDOW_MS")
	setInt64(&cfg.DLQRetentionMs, "TASKQ_DLQ_RETENTION_MS")
	setInt64(&cfg.SweepIntervalMs, "TASKQ_SWEEP_INTERVAL_MS")
	setInt64(&cfg.PollIntervalMs, "TASKQ_POLL_INTERVAL_MS")
	setBool(&cfg.RequireAPIKey, "TASKQ_REQUIRE_API_KEY")
	setString(&cfg.APIKey, "TASKQ_API_KEY")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
