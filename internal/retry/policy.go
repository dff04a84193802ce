package retry

import (
	"math"
	"math/bits"
	"time"

	"github.com/marminbh/eventsync-svc/internal/config"
	"github.com/marminbh/eventsync-svc/internal/models"
)

// maxDelay is what Delay saturates at once doubling would overflow time.Duration
const maxDelay = time.Duration(math.MaxInt64)

// Policy is the exponential backoff schedule for failed entries.
// Delay(r) = BaseDelay * 2^r, measured from the entry's last processed time.
type Policy struct {
	BaseDelay        time.Duration
	MaxRetryAttempts int
}

// NewPolicy builds the policy from the sync configuration
func NewPolicy(cfg config.SyncConfig) Policy {
	p := Policy{
		BaseDelay:        cfg.RetryBaseDelay,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = config.DefaultRetryBaseDelay
	}
	if p.MaxRetryAttempts <= 0 {
		p.MaxRetryAttempts = config.DefaultMaxRetryAttempts
	}
	return p
}

// Delay returns the wait before the retry that follows retryCount failed retries
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	// the shift must leave the sign bit clear
	if retryCount >= bits.LeadingZeros64(uint64(p.BaseDelay)) {
		return maxDelay
	}
	return p.BaseDelay << uint(retryCount)
}

// NextAttemptNotBefore returns the earliest time the entry may be retried.
// Entries never processed have no schedule and return the zero time.
func (p Policy) NextAttemptNotBefore(entry *models.SyncLogEntry) time.Time {
	if entry.TimestampProcessed == nil {
		return time.Time{}
	}
	return entry.TimestampProcessed.Add(p.Delay(entry.RetryCount))
}

// Exhausted reports whether the entry has spent its retry budget
func (p Policy) Exhausted(entry *models.SyncLogEntry) bool {
	return entry.State(p.MaxRetryAttempts) == models.StatePermanentlyFailed
}

// IsEligible reports whether the entry may be retried at now.
// Force skips the time gate but never the retry budget.
func (p Policy) IsEligible(entry *models.SyncLogEntry, now time.Time, force bool) bool {
	if entry.State(p.MaxRetryAttempts) != models.StateFailed {
		return false
	}
	if force {
		return true
	}
	// a failed entry always carries a processed stamp; without one there is no schedule
	if entry.TimestampProcessed == nil {
		return false
	}
	return !now.Before(p.NextAttemptNotBefore(entry))
}
