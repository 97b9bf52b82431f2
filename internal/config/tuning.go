// Package config loads the JSON tuning file. The schema matches the
// /api/params endpoint so the same JSON works for startup
// configuration and runtime inspection.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig holds the pipeline tuning parameters. All fields are
// pointers so a partial JSON file only overrides what it names; the
// Get* methods supply defaults for everything else.
type TuningConfig struct {
	// Tracker params
	IoUThreshold    *float64 `json:"iou_threshold,omitempty"`
	MinHits         *int     `json:"min_hits,omitempty"`
	MaxAge          *int     `json:"max_age,omitempty"`
	CentroidHistory *int     `json:"centroid_history,omitempty"`

	// Event generator params
	RecentEventLimit *int `json:"recent_event_limit,omitempty"`

	// Dispatcher params
	MaxDispatchAttempts *int    `json:"max_dispatch_attempts,omitempty"`
	BackoffBase         *string `json:"backoff_base,omitempty"` // duration string like "1s"
	DispatchQueueSize   *int    `json:"dispatch_queue_size,omitempty"`
	DispatchWorkers     *int    `json:"dispatch_workers,omitempty"`

	// Persistence params
	FlushInterval *string `json:"flush_interval,omitempty"` // duration string like "5s"
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads and validates a TuningConfig from a JSON
// file. Fields omitted from the file keep their defaults, so partial
// configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that any set values are usable.
func (c *TuningConfig) Validate() error {
	if c.IoUThreshold != nil && (*c.IoUThreshold <= 0 || *c.IoUThreshold >= 1) {
		return fmt.Errorf("iou_threshold must be in (0, 1), got %v", *c.IoUThreshold)
	}
	if c.MinHits != nil && *c.MinHits < 1 {
		return fmt.Errorf("min_hits must be >= 1, got %d", *c.MinHits)
	}
	if c.MaxAge != nil && *c.MaxAge < 1 {
		return fmt.Errorf("max_age must be >= 1, got %d", *c.MaxAge)
	}
	if c.CentroidHistory != nil && *c.CentroidHistory < 2 {
		return fmt.Errorf("centroid_history must be >= 2, got %d", *c.CentroidHistory)
	}
	if c.RecentEventLimit != nil && *c.RecentEventLimit < 1 {
		return fmt.Errorf("recent_event_limit must be >= 1, got %d", *c.RecentEventLimit)
	}
	if c.MaxDispatchAttempts != nil && *c.MaxDispatchAttempts < 1 {
		return fmt.Errorf("max_dispatch_attempts must be >= 1, got %d", *c.MaxDispatchAttempts)
	}
	if c.BackoffBase != nil {
		if d, err := time.ParseDuration(*c.BackoffBase); err != nil {
			return fmt.Errorf("backoff_base is not a valid duration: %w", err)
		} else if d <= 0 {
			return fmt.Errorf("backoff_base must be positive, got %s", d)
		}
	}
	if c.DispatchQueueSize != nil && *c.DispatchQueueSize < 1 {
		return fmt.Errorf("dispatch_queue_size must be >= 1, got %d", *c.DispatchQueueSize)
	}
	if c.DispatchWorkers != nil && *c.DispatchWorkers < 1 {
		return fmt.Errorf("dispatch_workers must be >= 1, got %d", *c.DispatchWorkers)
	}
	if c.FlushInterval != nil {
		if d, err := time.ParseDuration(*c.FlushInterval); err != nil {
			return fmt.Errorf("flush_interval is not a valid duration: %w", err)
		} else if d <= 0 {
			return fmt.Errorf("flush_interval must be positive, got %s", d)
		}
	}
	return nil
}

// GetIoUThreshold returns the minimum IoU for a detection-track match.
func (c *TuningConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold != nil {
		return *c.IoUThreshold
	}
	return 0.3
}

// GetMinHits returns the consecutive hits needed to confirm a track.
func (c *TuningConfig) GetMinHits() int {
	if c.MinHits != nil {
		return *c.MinHits
	}
	return 3
}

// GetMaxAge returns the missed frames tolerated for a confirmed track.
func (c *TuningConfig) GetMaxAge() int {
	if c.MaxAge != nil {
		return *c.MaxAge
	}
	return 30
}

// GetCentroidHistory returns the per-track centroid history bound.
func (c *TuningConfig) GetCentroidHistory() int {
	if c.CentroidHistory != nil {
		return *c.CentroidHistory
	}
	return 50
}

// GetRecentEventLimit returns the in-memory recent event ring size.
func (c *TuningConfig) GetRecentEventLimit() int {
	if c.RecentEventLimit != nil {
		return *c.RecentEventLimit
	}
	return 100
}

// GetMaxDispatchAttempts returns the per-action delivery attempt limit.
func (c *TuningConfig) GetMaxDispatchAttempts() int {
	if c.MaxDispatchAttempts != nil {
		return *c.MaxDispatchAttempts
	}
	return 3
}

// GetBackoffBase returns the first retry delay; later retries double it.
func (c *TuningConfig) GetBackoffBase() time.Duration {
	if c.BackoffBase != nil {
		if d, err := time.ParseDuration(*c.BackoffBase); err == nil {
			return d
		}
	}
	return time.Second
}

// GetDispatchQueueSize returns the alert queue capacity.
func (c *TuningConfig) GetDispatchQueueSize() int {
	if c.DispatchQueueSize != nil {
		return *c.DispatchQueueSize
	}
	return 256
}

// GetDispatchWorkers returns the delivery worker count.
func (c *TuningConfig) GetDispatchWorkers() int {
	if c.DispatchWorkers != nil {
		return *c.DispatchWorkers
	}
	return 4
}

// GetFlushInterval returns how often track summaries are persisted.
func (c *TuningConfig) GetFlushInterval() time.Duration {
	if c.FlushInterval != nil {
		if d, err := time.ParseDuration(*c.FlushInterval); err == nil {
			return d
		}
	}
	return 5 * time.Second
}
