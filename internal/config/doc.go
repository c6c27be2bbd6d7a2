// Package config loads, normalizes, and validates docprep configuration.
//
// Configuration lives in a TOML file. Load applies repository defaults,
// expands ~ in every path field, and rejects values the engine cannot run
// with. Other packages receive a fully normalized *Config and never re-check
// path syntax.
package config
