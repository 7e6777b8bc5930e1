package ingest

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig is the retry schedule applied between READ_FAILED
// re-attempts, reused verbatim (field-for-field) from gqs's
// BackoffConfig.
type BackoffConfig struct {
	MaxRetries          uint32
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultBackoff mirrors a conservative gqs-style schedule: five
// attempts, starting at one second, doubling up to a minute.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		MaxRetries:      5,
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2,
	}
}

type backoffCounter struct {
	BackoffConfig
}

// next returns the delay before re-attempting attempt (1-based), or
// false once MaxRetries has been exhausted.
func (bc *backoffCounter) next(attempt uint32) (time.Duration, bool) {
	if bc.MaxRetries > 0 && attempt > bc.MaxRetries {
		return 0, false
	}
	exp := float64(bc.InitialInterval) * math.Pow(bc.Multiplier, float64(attempt-1))
	if exp > float64(bc.MaxInterval) {
		exp = float64(bc.MaxInterval)
	}
	if bc.RandomizationFactor > 0 {
		delta := bc.RandomizationFactor * exp
		minExp := exp - delta
		maxExp := exp + delta
		exp = minExp + rand.Float64()*(maxExp-minExp)
	}
	return time.Duration(exp), true
}
