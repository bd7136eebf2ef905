package config

import "time"

// ExecutionConfig configures batch execution.
type ExecutionConfig struct {
	// Worker pool size for scripted mode; 0 means the orchestrator default.
	MaxConcurrency int `yaml:"max_concurrency"`

	// Per-unit deadline covering simulator call and judgment.
	UnitTimeout string `yaml:"unit_timeout"`

	// Whole-batch deadline; the batch is cancelled when it expires.
	BatchTimeout string `yaml:"batch_timeout"`

	// Deadline for the single delegation call in autonomous mode.
	AutonomousTimeout string `yaml:"autonomous_timeout"`

	// Command sent to the simulator for every unit.
	Command string `yaml:"command"`
}

// RetrievalConfig configures the retrieval store and knowledge enhancer.
type RetrievalConfig struct {
	Backend      string `yaml:"backend"` // memory, sqlite
	DatabasePath string `yaml:"database_path"`
	TopK         int    `yaml:"top_k"`
}

// SimulatorConfig configures the built-in equipment simulator.
type SimulatorConfig struct {
	SuccessRate float64 `yaml:"success_rate"`
	Seed        int64   `yaml:"seed"` // 0 = time-based
	MinLatency  string  `yaml:"min_latency"`
	MaxLatency  string  `yaml:"max_latency"`
}

// GetUnitTimeout returns the per-unit deadline.
func (c *Config) GetUnitTimeout() time.Duration {
	return parseDuration(c.Execution.UnitTimeout, 60*time.Second)
}

// GetBatchTimeout returns the whole-batch deadline.
func (c *Config) GetBatchTimeout() time.Duration {
	return parseDuration(c.Execution.BatchTimeout, 30*time.Minute)
}

// GetAutonomousTimeout returns the deadline for a delegated batch.
func (c *Config) GetAutonomousTimeout() time.Duration {
	return parseDuration(c.Execution.AutonomousTimeout, 15*time.Minute)
}

// GetSimulatorLatency returns the simulated latency range.
func (c *Config) GetSimulatorLatency() (time.Duration, time.Duration) {
	lo := parseDuration(c.Simulator.MinLatency, 500*time.Millisecond)
	hi := parseDuration(c.Simulator.MaxLatency, 3*time.Second)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}
