package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWatch(); err != nil {
		return err
	}
	if err := c.validateRouting(); err != nil {
		return err
	}
	if err := c.validateClassification(); err != nil {
		return err
	}
	if err := c.validatePool(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateHistory(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWatch() error {
	if len(c.Watch.Directories) == 0 && !c.Watch.DiscoverUserDownloads {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("no directories to watch: set watch.directories or enable watch.discover_user_downloads in %s (create with 'downnest config init')", defaultPath)
	}
	if strings.ContainsAny(c.Watch.DownloadsFolder, `/\`) {
		return errors.New("watch.downloads_folder must be a single path element")
	}
	return nil
}

func (c *Config) validateRouting() error {
	if c.Routing.RequiredStableReads < 1 {
		return errors.New("routing.required_stable_reads must be >= 1")
	}
	if c.Routing.PollIntervalMillis <= 0 {
		return errors.New("routing.poll_interval_ms must be positive")
	}
	if c.Routing.SettleDelaySeconds < 0 {
		return errors.New("routing.settle_delay_seconds must be >= 0")
	}
	if c.Routing.MaxStabilityWaitSeconds < 0 {
		return errors.New("routing.max_stability_wait_seconds must be >= 0 (0 disables the ceiling)")
	}
	switch c.Routing.CollisionPolicy {
	case CollisionSuffix, CollisionFail:
	default:
		return fmt.Errorf("routing.collision_policy: unsupported value %q (use %q or %q)", c.Routing.CollisionPolicy, CollisionSuffix, CollisionFail)
	}
	return nil
}

func (c *Config) validateClassification() error {
	names := make(map[string]struct{}, len(c.Classification.Categories))
	for i, cat := range c.Classification.Categories {
		if cat.Name == "" {
			return fmt.Errorf("classification.categories[%d]: name must be set", i)
		}
		if err := validateLabel(cat.Name); err != nil {
			return fmt.Errorf("classification.categories[%d]: %w", i, err)
		}
		key := strings.ToLower(cat.Name)
		if _, ok := names[key]; ok {
			return fmt.Errorf("classification.categories[%d]: duplicate category %q", i, cat.Name)
		}
		names[key] = struct{}{}
		if len(cat.Extensions) == 0 {
			return fmt.Errorf("classification.categories[%d]: %q must list at least one extension", i, cat.Name)
		}
	}
	if err := validateLabel(c.Classification.Fallback); err != nil {
		return fmt.Errorf("classification.fallback: %w", err)
	}
	if _, ok := names[strings.ToLower(c.Classification.Fallback)]; ok {
		return fmt.Errorf("classification.fallback %q must not also be a category", c.Classification.Fallback)
	}
	return nil
}

func validateLabel(label string) error {
	if label == "." || label == ".." || strings.ContainsAny(label, `/\`) {
		return fmt.Errorf("label %q is not a valid folder name", label)
	}
	return nil
}

func (c *Config) validatePool() error {
	if c.Pool.Workers < 0 {
		return errors.New("pool.workers must be >= 0 (0 uses the CPU count)")
	}
	if c.Pool.MaxQueue < 0 {
		return errors.New("pool.max_queue must be >= 0 (0 leaves the queue unbounded)")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RatePerMinute < 0 {
		return errors.New("notifications.rate_per_minute must be >= 0")
	}
	return nil
}

func (c *Config) validateHistory() error {
	if c.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}
