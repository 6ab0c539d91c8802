// Package config loads NervusDB's runtime knobs from environment variables.
//
// This mirrors the teacher repo's pkg/config convention (LoadFromEnv plus a
// doc-comment block enumerating every variable) scoped down to what the
// embedded engine actually needs: a debug flag, a page-cache size, and
// query resource limits. The page-cache size and the four Max*/timeout
// limits are loaded and validated here, but no other package reads them:
// the pager keeps no page cache and no query operator enforces the limits.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	db, err := nervusdb.Open(path, cfg)
//
// Environment Variables:
//
//   - NERVUSDB_DEBUG_NATIVE=1            -- verbose native diagnostics (spec §9)
//   - NERVUSDB_PAGE_CACHE_PAGES=4096     -- page-cache size (not read by the pager)
//   - NERVUSDB_MAX_INTERMEDIATE_ROWS     -- query limit (not enforced)
//   - NERVUSDB_MAX_COLLECTION_ITEMS      -- query limit (not enforced)
//   - NERVUSDB_SOFT_TIMEOUT_MS           -- query limit (not enforced)
//   - NERVUSDB_MAX_APPLY_ROWS_PER_OUTER  -- query limit (not enforced)
//   - NERVUSDB_PARSER_STEP_BUDGET        -- parser complexity guard (spec §4.5)
package config

import (
	"os"
	"strconv"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime knob NervusDB reads at Db-open time.
type Config struct {
	DebugNative      bool
	PageCachePages   int
	ParserStepBudget int

	MaxIntermediateRows  int
	MaxCollectionItems   int
	SoftTimeoutMs        int
	MaxApplyRowsPerOuter int
}

// Default returns the built-in defaults (used when no env var / file
// overrides a field).
func Default() *Config {
	return &Config{
		DebugNative:          false,
		PageCachePages:       4096,
		ParserStepBudget:     200_000,
		MaxIntermediateRows:  10_000_000,
		MaxCollectionItems:   1_000_000,
		SoftTimeoutMs:        30_000,
		MaxApplyRowsPerOuter: 100_000,
	}
}

// LoadFromEnv returns Default() overlaid with any NERVUSDB_* environment
// variables that are set.
func LoadFromEnv() *Config {
	c := Default()
	if v, ok := os.LookupEnv("NERVUSDB_DEBUG_NATIVE"); ok {
		c.DebugNative = truthy(v)
	}
	if v := intEnv("NERVUSDB_PAGE_CACHE_PAGES"); v != nil {
		c.PageCachePages = *v
	}
	if v := intEnv("NERVUSDB_PARSER_STEP_BUDGET"); v != nil {
		c.ParserStepBudget = *v
	}
	if v := intEnv("NERVUSDB_MAX_INTERMEDIATE_ROWS"); v != nil {
		c.MaxIntermediateRows = *v
	}
	if v := intEnv("NERVUSDB_MAX_COLLECTION_ITEMS"); v != nil {
		c.MaxCollectionItems = *v
	}
	if v := intEnv("NERVUSDB_SOFT_TIMEOUT_MS"); v != nil {
		c.SoftTimeoutMs = *v
	}
	if v := intEnv("NERVUSDB_MAX_APPLY_ROWS_PER_OUTER"); v != nil {
		c.MaxApplyRowsPerOuter = *v
	}
	setGlobalDebug(c.DebugNative)
	return c
}

// LoadFile overlays a YAML config file (snake_case keys mirroring the
// Config fields) onto Default(). Embedders that prefer a checked-in
// nervusdb.yaml over exported env vars use this instead of LoadFromEnv.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw struct {
		DebugNative          *bool `yaml:"debug_native"`
		PageCachePages       *int  `yaml:"page_cache_pages"`
		ParserStepBudget     *int  `yaml:"parser_step_budget"`
		MaxIntermediateRows  *int  `yaml:"max_intermediate_rows"`
		MaxCollectionItems   *int  `yaml:"max_collection_items"`
		SoftTimeoutMs        *int  `yaml:"soft_timeout_ms"`
		MaxApplyRowsPerOuter *int  `yaml:"max_apply_rows_per_outer"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	c := Default()
	if raw.DebugNative != nil {
		c.DebugNative = *raw.DebugNative
	}
	if raw.PageCachePages != nil {
		c.PageCachePages = *raw.PageCachePages
	}
	if raw.ParserStepBudget != nil {
		c.ParserStepBudget = *raw.ParserStepBudget
	}
	if raw.MaxIntermediateRows != nil {
		c.MaxIntermediateRows = *raw.MaxIntermediateRows
	}
	if raw.MaxCollectionItems != nil {
		c.MaxCollectionItems = *raw.MaxCollectionItems
	}
	if raw.SoftTimeoutMs != nil {
		c.SoftTimeoutMs = *raw.SoftTimeoutMs
	}
	if raw.MaxApplyRowsPerOuter != nil {
		c.MaxApplyRowsPerOuter = *raw.MaxApplyRowsPerOuter
	}
	setGlobalDebug(c.DebugNative)
	return c, nil
}

// Validate checks that every limit is positive.
func (c *Config) Validate() error {
	for _, v := range []int{c.PageCachePages, c.ParserStepBudget, c.MaxIntermediateRows, c.MaxCollectionItems, c.SoftTimeoutMs, c.MaxApplyRowsPerOuter} {
		if v <= 0 {
			return errInvalidLimit
		}
	}
	return nil
}

type invalidLimitError struct{}

func (*invalidLimitError) Error() string { return "config: limit must be positive" }

var errInvalidLimit = &invalidLimitError{}

func intEnv(name string) *int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func truthy(v string) bool {
	switch v {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	default:
		return false
	}
}

// debugNative is a process-wide flag, read by packages (pager, wal) that
// have no direct reference to a Config but still want to gate verbose
// native diagnostics behind NERVUSDB_DEBUG_NATIVE (spec §9).
var debugNative atomic.Bool

func setGlobalDebug(v bool) { debugNative.Store(v) }

// Debug reports whether native debug diagnostics are enabled process-wide.
func Debug() bool { return debugNative.Load() }

func init() {
	if v, ok := os.LookupEnv("NERVUSDB_DEBUG_NATIVE"); ok {
		debugNative.Store(truthy(v))
	}
}
