package websocket

import (
	"math"
	"time"
)

type backoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

var (
	// readiness probing while WaitForServer is pending
	probeBackoff = backoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2}
	// re-dial after an established connection drops
	reconnectBackoff = backoffConfig{InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
)

// nextBackoffDelay returns the retry delay for attempt N (1-based).
func nextBackoffDelay(cfg backoffConfig, attempt int) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
