package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWatch(); err != nil {
		return err
	}
	c.normalizeRouting()
	c.normalizeClassification()
	c.normalizeNotifications()
	c.normalizeMetrics()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWatch() error {
	dirs := make([]string, 0, len(c.Watch.Directories))
	seen := make(map[string]struct{}, len(c.Watch.Directories))
	for _, dir := range c.Watch.Directories {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		expanded, err := expandPath(strings.TrimSpace(dir))
		if err != nil {
			return fmt.Errorf("watch.directories: %w", err)
		}
		if _, ok := seen[expanded]; ok {
			continue
		}
		seen[expanded] = struct{}{}
		dirs = append(dirs, expanded)
	}
	c.Watch.Directories = dirs

	if strings.TrimSpace(c.Watch.UsersRoot) == "" {
		c.Watch.UsersRoot = defaultUsersRoot
	}
	var err error
	if c.Watch.UsersRoot, err = expandPath(strings.TrimSpace(c.Watch.UsersRoot)); err != nil {
		return fmt.Errorf("watch.users_root: %w", err)
	}
	c.Watch.DownloadsFolder = strings.TrimSpace(c.Watch.DownloadsFolder)
	if c.Watch.DownloadsFolder == "" {
		c.Watch.DownloadsFolder = defaultDownloadsFolder
	}
	return nil
}

func (c *Config) normalizeRouting() {
	c.Routing.CollisionPolicy = strings.ToLower(strings.TrimSpace(c.Routing.CollisionPolicy))
	if c.Routing.CollisionPolicy == "" {
		c.Routing.CollisionPolicy = defaultCollisionPolicy
	}
}

func (c *Config) normalizeClassification() {
	if len(c.Classification.Categories) == 0 {
		c.Classification.Categories = DefaultCategories()
	}
	categories := make([]Category, 0, len(c.Classification.Categories))
	for _, cat := range c.Classification.Categories {
		categories = append(categories, Category{
			Name:       strings.TrimSpace(cat.Name),
			Extensions: normalizeExtensions(cat.Extensions),
		})
	}
	c.Classification.Categories = categories

	c.Classification.Fallback = strings.TrimSpace(c.Classification.Fallback)
	if c.Classification.Fallback == "" {
		c.Classification.Fallback = defaultFallbackCategory
	}

	if len(c.Classification.TempExtensions) == 0 {
		c.Classification.TempExtensions = DefaultTempExtensions()
	}
	c.Classification.TempExtensions = normalizeExtensions(c.Classification.TempExtensions)
}

// normalizeExtensions lowercases, trims, adds a leading dot, and drops duplicates
// while keeping declaration order.
func normalizeExtensions(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		ext := strings.ToLower(strings.TrimSpace(value))
		if ext == "" || ext == "." {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv(defaultNtfyTopicEnvVar); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	if c.Notifications.Burst <= 0 {
		c.Notifications.Burst = defaultNotifyBurst
	}
}

func (c *Config) normalizeMetrics() {
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	if c.Metrics.Bind == "" {
		if value, ok := os.LookupEnv(defaultMetricsBindEnvVar); ok {
			c.Metrics.Bind = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format != "json" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
