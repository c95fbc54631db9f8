package config

// Config holds crate configuration.
// Stored at: ./config.yaml or ~/.crate/config.yaml
type Config struct {
	OpenAI OpenAICfg          `mapstructure:"openai" yaml:"openai"`
	Batch  BatchCfg           `mapstructure:"batch" yaml:"batch"`
	Steps  map[string]StepCfg `mapstructure:"steps" yaml:"steps"`
}

// OpenAICfg configures the remote completion service.
type OpenAICfg struct {
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`                 // API key (supports ${ENV_VAR} syntax)
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`               // Override for tests and proxies
	RateLimit      int    `mapstructure:"rate_limit" yaml:"rate_limit"`           // Requests per minute, 0 disables
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"` // HTTP timeout, sized for large uploads
}

// BatchCfg configures submission planning and the wait loop.
type BatchCfg struct {
	Threshold              int `mapstructure:"threshold" yaml:"threshold"`                                 // Workload size above which batching kicks in
	MaxFileMB              int `mapstructure:"max_file_mb" yaml:"max_file_mb"`                             // Chunk budget in megabytes
	UploadAttempts         int `mapstructure:"upload_attempts" yaml:"upload_attempts"`                     // Total upload attempts including the first
	UploadBaseDelaySeconds int `mapstructure:"upload_base_delay_seconds" yaml:"upload_base_delay_seconds"` // Doubles after each failed attempt
	PollIntervalSeconds    int `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`         // Status-check cadence for one job
	SharedIntervalSeconds  int `mapstructure:"shared_interval_seconds" yaml:"shared_interval_seconds"`     // Cadence when several jobs poll at once
	ProgressMinutes        int `mapstructure:"progress_minutes" yaml:"progress_minutes"`                   // Progress log cadence
	MaxWaitHours           int `mapstructure:"max_wait_hours" yaml:"max_wait_hours"`                       // Total wait bound for any one job
}

// StepCfg configures one cataloging step.
type StepCfg struct {
	Model       string   `mapstructure:"model" yaml:"model"`                       // Completion model for this step
	MaxTokens   int      `mapstructure:"max_tokens" yaml:"max_tokens"`             // Per-request completion cap
	Temperature *float64 `mapstructure:"temperature" yaml:"temperature,omitempty"` // Nil leaves the model default
	Threshold   int      `mapstructure:"threshold" yaml:"threshold,omitempty"`     // Per-step override, 0 inherits batch.threshold
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OpenAI: OpenAICfg{
			APIKey:         "${OPENAI_API_KEY}",
			RateLimit:      60,
			TimeoutSeconds: 600,
		},
		Batch: BatchCfg{
			Threshold:              11,
			MaxFileMB:              50,
			UploadAttempts:         5,
			UploadBaseDelaySeconds: 10,
			PollIntervalSeconds:    60,
			SharedIntervalSeconds:  30,
			ProgressMinutes:        5,
			MaxWaitHours:           24,
		},
		Steps: map[string]StepCfg{
			"metadata_extraction": {
				Model:     "gpt-4o",
				MaxTokens: 2000,
			},
			"record_matching": {
				Model:     "gpt-4o-mini",
				MaxTokens: 1000,
			},
			"quality_review": {
				Model:     "gpt-4o",
				MaxTokens: 1500,
			},
		},
	}
}

// GetStep returns a step config by name.
func (c *Config) GetStep(name string) (StepCfg, bool) {
	cfg, ok := c.Steps[name]
	return cfg, ok
}

// StepThreshold returns the batching threshold for a step, falling back
// to the global batch threshold when the step has no override.
func (c *Config) StepThreshold(name string) int {
	if step, ok := c.Steps[name]; ok && step.Threshold > 0 {
		return step.Threshold
	}
	return c.Batch.Threshold
}
