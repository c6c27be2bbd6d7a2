package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLimits()
	c.normalizeTools()
	if c.Workers.Count <= 0 {
		c.Workers.Count = defaultWorkerCount
	}
	return c.normalizeLogging()
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RawDir) == "" {
		c.Paths.RawDir = defaultRawDir
	}
	if c.Paths.RawDir, err = expandPath(c.Paths.RawDir); err != nil {
		return fmt.Errorf("paths.raw_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ProcessingDir) == "" {
		c.Paths.ProcessingDir = defaultProcessingDir
	}
	if c.Paths.ProcessingDir, err = expandPath(c.Paths.ProcessingDir); err != nil {
		return fmt.Errorf("paths.processing_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = defaultTempDir
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CatalogPath) == "" {
		c.Paths.CatalogPath = defaultCatalogPath
	}
	if c.Paths.CatalogPath, err = expandPath(c.Paths.CatalogPath); err != nil {
		return fmt.Errorf("paths.catalog_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLimits() {
	if c.Limits.MaxUnpackMB <= 0 {
		c.Limits.MaxUnpackMB = defaultMaxUnpackMB
	}
	if c.Limits.MaxArchiveEntries <= 0 {
		c.Limits.MaxArchiveEntries = defaultMaxArchiveEntries
	}
	if c.Limits.MaxCycles <= 0 {
		c.Limits.MaxCycles = defaultMaxCycles
	}
	if c.Limits.PDFSamplePages <= 0 {
		c.Limits.PDFSamplePages = defaultPDFSamplePages
	}
	if c.Limits.TextLayerRatio <= 0 {
		c.Limits.TextLayerRatio = defaultTextLayerRatio
	}
	if c.Limits.PageTextMinChars <= 0 {
		c.Limits.PageTextMinChars = defaultPageTextMinChars
	}
}

func (c *Config) normalizeTools() {
	c.Tools.Unrar = strings.TrimSpace(c.Tools.Unrar)
	if c.Tools.Unrar == "" {
		c.Tools.Unrar = defaultUnrarBinary
	}
	c.Tools.SevenZip = strings.TrimSpace(c.Tools.SevenZip)
	if c.Tools.SevenZip == "" {
		c.Tools.SevenZip = defaultSevenZipBinary
	}
	c.Tools.LibreOffice = strings.TrimSpace(c.Tools.LibreOffice)
	if c.Tools.LibreOffice == "" {
		c.Tools.LibreOffice = defaultLibreOfficeBinary
	}
	if c.Tools.ConvertTimeout <= 0 {
		c.Tools.ConvertTimeout = defaultConvertTimeout
	}
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "":
		c.Logging.Format = defaultLogFormat
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}
