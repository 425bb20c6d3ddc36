package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir  string `json:"dataDir"`
	HTTPAddr string `json:"httpAddr"`

	// QueueName is the logical queue all tasks are admitted into.
	QueueName string `json:"queueName"`
	// GroupID is the ordering key; the default deployment uses a single
	// group so all tasks form one FIFO sequence.
	GroupID string `json:"groupId"`

	// Capacity bounds the number of admitted, unresolved messages.
	Capacity int `json:"capacity"`
	// RetryBudget is the number of deliveries before a failing message is
	// dead-lettered.
	RetryBudget int `json:"retryBudget"`
	// PayloadMaxBytes bounds the size of a task body.
	PayloadMaxBytes int `json:"payloadMaxBytes"`

	LeaseMs         int64 `json:"leaseMs"`
	DedupWindowMs   int64 `json:"dedupWindowMs"`
	DLQRetentionMs  int64 `json:"dlqRetentionMs"`
	SweepIntervalMs int64 `json:"sweepIntervalMs"`
	// PollIntervalMs is the consumer's idle backoff between empty receives.
	PollIntervalMs int64 `json:"pollIntervalMs"`

	// RequireAPIKey enables x-api-key checking on the HTTP API.
	RequireAPIKey bool   `json:"requireApiKey"`
	APIKey        string `json:"apiKey"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		QueueName:       "tasks",
		GroupID:         "tasks",
		Capacity:        100_000,
		RetryBudget:     3,
		PayloadMaxBytes: 256 << 10,
		LeaseMs:         30_000,
		DedupWindowMs:   5 * 60 * 1000,
		DLQRetentionMs:  14 * 24 * int64(time.Hour/time.Millisecond),
		SweepIntervalMs: 2_000,
		PollIntervalMs:  250,
	}
}

// Lease returns the lease duration as a time.Duration.
func (c Config) Lease() time.Duration { return time.Duration(c.LeaseMs) * time.Millisecond }

// DedupWindow returns the dedup window as a time.Duration.
func (c Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMs) * time.Millisecond
}

// DLQRetention returns the dead-letter retention as a time.Duration.
func (c Config) DLQRetention() time.Duration {
	return time.Duration(c.DLQRetentionMs) * time.Millisecond
}

// SweepInterval returns the sweeper tick interval as a time.Duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

// PollInterval returns the consumer idle backoff as a time.Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.QueueName == "" {
		return fmt.Errorf("config: queueName is required")
	}
	if c.GroupID == "" {
		return fmt.Errorf("config: groupId is required")
	}
	if c.RetryBudget < 1 {
		return fmt.Errorf("config: retryBudget must be >= 1, got %d", c.RetryBudget)
	}
	if c.LeaseMs <= 0 {
		return fmt.Errorf("config: leaseMs must be > 0, got %d", c.LeaseMs)
	}
	if c.RequireAPIKey && c.APIKey == "" {
		return fmt.Errorf("config: apiKey is required when requireApiKey is set")
	}
	return nil
}

// Load reads configuration from a JSON file. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
