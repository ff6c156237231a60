package crawler

import (
	"fmt"
	"time"
)

// Config holds the settings for a crawl session. It is decoupled from Viper so
// the engine can be configured and tested independently.
type Config struct {
	MaxDepth       int
	MaxPages       int
	Concurrency    int
	Delay          time.Duration
	DenySubstrings []string
	BlockedHosts   []string
	// MaxForbidden blocks a host for the rest of a run after this many 403 or
	// 429 responses. Zero disables blocking.
	MaxForbidden int
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("crawler max depth must be >= 0")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("crawler max pages must be > 0")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("crawler concurrency must be > 0")
	}
	if c.MaxForbidden < 0 {
		return fmt.Errorf("crawler max forbidden must be >= 0")
	}
	if c.Delay < 0 {
		return fmt.Errorf("crawler delay must be >= 0")
	}
	return nil
}
