package config

import (
	"flag"
	"fmt"
)

// Load loads configuration with precedence: defaults → environment variables → command line flags
// It performs validation and runtime transformations before returning the configuration.
func Load() (*Config, error) {
	// Parse command line flags if not already parsed
	if !flag.Parsed() {
		flag.Parse()
	}

	// Step 1: Start with defaults
	cfg := defaultConfig()

	// Step 2: Apply environment variables
	loadEndpointFromEnv(&cfg.Endpoint)
	loadPoolFromEnv(&cfg.Pool)
	loadBatchFromEnv(&cfg.Batch)
	loadCompressionFromEnv(&cfg.Compression)
	loadBreakerFromEnv(&cfg.Breaker)
	loadMetricsFromEnv(&cfg.Metrics)
	loadAdaptationFromEnv(&cfg.Adaptation)
	loadQueueFromEnv(&cfg.Queue)

	// Step 3: Apply command line flags (highest precedence)
	applyEndpointFlags(&cfg.Endpoint)
	applyPoolFlags(&cfg.Pool)
	applyBatchFlags(&cfg.Batch)
	applyCompressionFlags(&cfg.Compression)
	applyBreakerFlags(&cfg.Breaker)
	applyQueueFlags(&cfg.Queue)

	// Step 4: Apply runtime clamps and transformations
	applyRuntimeClamps(cfg)

	// Step 5: Validate the final configuration
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration without touching the
// environment or flags. Intended for embedding hosts and tests that
// construct the optimizer directly.
func Default() *Config {
	return defaultConfig()
}
