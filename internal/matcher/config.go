package matcher

import (
	"fmt"
)

// Config controls matching behavior.
type Config struct {
	// DateWindowDays is the maximum distance in days between the
	// transaction date and the invoice issue date for a date-proximity
	// (medium-confidence) match.
	DateWindowDays int `json:"date_window_days"`

	// NameSimilarityThreshold is the minimum Levenshtein similarity
	// ratio, after normalization, for two names to count as a strong
	// match. Containment always counts regardless of this threshold.
	NameSimilarityThreshold float64 `json:"name_similarity_threshold"`
}

// DefaultConfig returns the standard matching configuration.
func DefaultConfig() *Config {
	return &Config{
		DateWindowDays:          30,
		NameSimilarityThreshold: 0.75,
	}
}

// StrictConfig returns a configuration with a tighter date window and
// a higher name-similarity bar.
func StrictConfig() *Config {
	return &Config{
		DateWindowDays:          14,
		NameSimilarityThreshold: 0.85,
	}
}

// RelaxedConfig returns a configuration that tolerates older invoices
// and looser name matches.
func RelaxedConfig() *Config {
	return &Config{
		DateWindowDays:          60,
		NameSimilarityThreshold: 0.65,
	}
}

// Validate checks configuration bounds.
func (c *Config) Validate() error {
	if c.DateWindowDays < 0 {
		return fmt.Errorf("date window days must be non-negative, got %d", c.DateWindowDays)
	}
	if c.NameSimilarityThreshold < 0 || c.NameSimilarityThreshold > 1 {
		return fmt.Errorf("name similarity threshold must be in [0, 1], got %f", c.NameSimilarityThreshold)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
