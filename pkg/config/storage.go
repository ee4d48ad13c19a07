package config

import "time"

// StorageConfig locates the JSON snapshot store on disk.
type StorageConfig struct {
	// Dir is the storage root. Overridable via the CREWAI_STORAGE_DIR
	// environment variable; job progress, analysis results, agent memories
	// and the cache records all live under it.
	Dir string `yaml:"dir"`
}

// DefaultStorageConfig returns the built-in storage defaults.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{Dir: "./crewai_storage"}
}

// CleanupConfig controls the retention sweeper that compacts masked, deleted
// and expired cache records out of the snapshot store.
type CleanupConfig struct {
	// Enabled toggles the sweeper. Unset means enabled.
	Enabled *bool `yaml:"enabled"`

	// Interval is how often a sweep runs.
	Interval Duration `yaml:"interval"`

	// Grace keeps expired cache records readable-on-disk for this long past
	// their TTL deadline before a sweep may drop them.
	Grace Duration `yaml:"grace"`
}

// DefaultCleanupConfig returns the built-in retention defaults.
func DefaultCleanupConfig() *CleanupConfig {
	return &CleanupConfig{
		Interval: Dur(6 * time.Hour),
		Grace:    Dur(1 * time.Hour),
	}
}

// Active reports whether the sweeper should run; nil Enabled counts as on.
func (c *CleanupConfig) Active() bool {
	return c.Enabled == nil || *c.Enabled
}
