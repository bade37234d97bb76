package mesh

import (
	"time"
)

// ReconnectPolicy paces presence re-announcements while the node has too
// few peers. The interval doubles after every announcement up to max and
// resets once a link connects.
type ReconnectPolicy struct {
	base     time.Duration
	max      time.Duration
	interval time.Duration
	next     time.Time
}

// NewReconnectPolicy creates a policy with the given backoff range.
func NewReconnectPolicy(base, max time.Duration) *ReconnectPolicy {
	return &ReconnectPolicy{base: base, max: max, interval: base}
}

// Due reports whether an announcement may be sent at now.
func (p *ReconnectPolicy) Due(now time.Time) bool {
	return !now.Before(p.next)
}

// Backoff records an announcement at now.
func (p *ReconnectPolicy) Backoff(now time.Time) {
	p.next = now.Add(p.interval)
	p.interval *= 2
	if p.interval > p.max {
		p.interval = p.max
	}
}

// Reset restarts the backoff from the base interval.
func (p *ReconnectPolicy) Reset(now time.Time) {
	p.interval = p.base
	p.next = now.Add(p.base)
}

// Interval returns the wait that will follow the next announcement.
func (p *ReconnectPolicy) Interval() time.Duration {
	return p.interval
}
