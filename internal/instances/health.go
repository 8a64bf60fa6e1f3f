package instances

import (
	"sync"
	"time"
)

// HealthRecord is the failure history of one instance. A record only exists
// after the first failure.
type HealthRecord struct {
	FailureCount  int       `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at"`
}

// Tracker decides which instances may be queried. An instance that failed
// FailureThreshold times is skipped until CooldownPeriod has elapsed since
// its last failure.
type Tracker struct {
	mu        sync.Mutex
	records   map[string]*HealthRecord
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// TrackerOption customises a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a tracker with the given threshold and cooldown.
func NewTracker(threshold int, cooldown time.Duration, opts ...TrackerOption) *Tracker {
	if threshold <= 0 {
		threshold = 3
	}
	t := &Tracker{
		records:   make(map[string]*HealthRecord),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// IsEligible reports whether inst may be queried. Any record whose cooldown
// has elapsed is cleared, whatever its count.
func (t *Tracker) IsEligible(inst Instance) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[inst.BaseURL]
	if !ok {
		return true
	}
	if t.expired(rec) {
		delete(t.records, inst.BaseURL)
		return true
	}
	return rec.FailureCount < t.threshold
}

// RecordFailure counts one failure against inst. A failure arriving after the
// previous record expired starts a new count.
func (t *Tracker) RecordFailure(inst Instance) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[inst.BaseURL]
	if !ok || t.expired(rec) {
		rec = &HealthRecord{}
		t.records[inst.BaseURL] = rec
	}
	rec.FailureCount++
	rec.LastFailureAt = t.now()
}

// expired reports whether the cooldown has passed since the last failure.
// Callers hold t.mu.
func (t *Tracker) expired(rec *HealthRecord) bool {
	return t.now().Sub(rec.LastFailureAt) > t.cooldown
}

// RecordSuccess clears the failure history of inst.
func (t *Tracker) RecordSuccess(inst Instance) {
	t.mu.Lock()
	delete(t.records, inst.BaseURL)
	t.mu.Unlock()
}

// Eligible filters list down to the instances that may be queried.
func (t *Tracker) Eligible(list []Instance) []Instance {
	out := make([]Instance, 0, len(list))
	for _, inst := range list {
		if t.IsEligible(inst) {
			out = append(out, inst)
		}
	}
	return out
}

// Record returns a copy of the record for inst, if any.
func (t *Tracker) Record(inst Instance) (HealthRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[inst.BaseURL]
	if !ok {
		return HealthRecord{}, false
	}
	return *rec, true
}

// Snapshot copies every record, keyed by base URL.
func (t *Tracker) Snapshot() map[string]HealthRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]HealthRecord, len(t.records))
	for k, rec := range t.records {
		out[k] = *rec
	}
	return out
}

// Threshold returns the configured failure threshold.
func (t *Tracker) Threshold() int { return t.threshold }

// Cooldown returns the configured cooldown period.
func (t *Tracker) Cooldown() time.Duration { return t.cooldown }
