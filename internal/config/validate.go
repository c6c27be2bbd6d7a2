package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	return c.validateWorkers()
}

func (c *Config) validatePaths() error {
	if c.Paths.RawDir == c.Paths.ProcessingDir {
		return errors.New("paths.raw_dir and paths.processing_dir must differ")
	}
	return nil
}

func (c *Config) validateLimits() error {
	if c.Limits.MaxCycles > 3 {
		return fmt.Errorf("limits.max_cycles must not exceed 3, got %d", c.Limits.MaxCycles)
	}
	if c.Limits.TextLayerRatio > 1 {
		return fmt.Errorf("limits.text_layer_ratio must be between 0 and 1, got %g", c.Limits.TextLayerRatio)
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.Count > 64 {
		return fmt.Errorf("workers.count must not exceed 64, got %d", c.Workers.Count)
	}
	return nil
}
