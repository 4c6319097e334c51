package config

// applyRuntimeClamps reconciles values that depend on each other after all
// sources are merged.
func applyRuntimeClamps(cfg *Config) {
	// The adaptation floor can never exceed the high-priority delay,
	// otherwise the floor would undo immediate dispatch tuning.
	if cfg.Batch.MinDelay > cfg.Batch.HighDelay {
		cfg.Batch.MinDelay = cfg.Batch.HighDelay
	}
	// The ceiling must accommodate the configured low-priority delay.
	if cfg.Batch.MaxDelayCeiling < cfg.Batch.LowDelay {
		cfg.Batch.MaxDelayCeiling = cfg.Batch.LowDelay
	}

	// The threshold bounds must bracket the starting threshold.
	if cfg.Compression.MinThreshold > cfg.Compression.Threshold {
		cfg.Compression.MinThreshold = cfg.Compression.Threshold
	}
	if cfg.Compression.MaxThreshold < cfg.Compression.Threshold {
		cfg.Compression.MaxThreshold = cfg.Compression.Threshold
	}
	if cfg.Compression.Workers < 1 {
		cfg.Compression.Workers = 1
	}

	if cfg.Pool.ReconnectMaxDelay < cfg.Pool.ReconnectBaseDelay {
		cfg.Pool.ReconnectMaxDelay = cfg.Pool.ReconnectBaseDelay
	}
}
