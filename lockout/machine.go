// Package lockout implements progressive account lockout as pure transitions
// over [State]. Callers apply the transitions inside an atomic
// read-modify-write against their store; nothing here is safe to run on a
// copy that is written back without such a guard.
package lockout

import (
	"errors"
	"time"
)

// Status is the evaluated lockout status.
type Status int

const (
	StatusActive Status = iota
	StatusLocked
)

func (s Status) String() string {
	if s == StatusLocked {
		return "locked"
	}
	return "active"
}

// State is the persisted lockout portion of an account.
//
// Locked with a nil LockedUntil means the lock only clears through Unlock.
type State struct {
	FailedAttempts int
	Locked         bool
	LockedUntil    *time.Time
}

// Policy configures the thresholds.
type Policy struct {
	// Threshold is the failure count at which the account locks (>=).
	Threshold int
	// Duration is how long a lock lasts; zero means until explicit unlock.
	Duration time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Threshold: 5, Duration: 30 * time.Minute}
}

func (p Policy) Validate() error {
	if p.Threshold < 1 {
		return errors.New("lockout threshold must be >= 1")
	}
	if p.Duration < 0 {
		return errors.New("lockout duration must be >= 0")
	}
	return nil
}

// Outcome describes the effect of a transition.
type Outcome struct {
	Status            Status
	AttemptsRemaining int
	LockedUntil       *time.Time

	// JustLocked is set only by the failure that crossed the threshold.
	JustLocked bool
	// AutoUnlocked is set when an expired lock was cleared.
	AutoUnlocked bool
	// Changed reports whether s was modified.
	Changed bool
}

type Machine struct {
	policy Policy
}

func New(policy Policy) (*Machine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Machine{policy: policy}, nil
}

func (m *Machine) Policy() Policy {
	return m.policy
}

// Check evaluates s at now, lazily clearing a lock whose expiry has passed.
func (m *Machine) Check(s *State, now time.Time) Outcome {
	if !s.Locked {
		return Outcome{Status: StatusActive, AttemptsRemaining: m.remaining(s)}
	}
	if s.LockedUntil != nil && !now.Before(*s.LockedUntil) {
		m.Unlock(s)
		return Outcome{
			Status:            StatusActive,
			AttemptsRemaining: m.policy.Threshold,
			AutoUnlocked:      true,
			Changed:           true,
		}
	}
	return Outcome{Status: StatusLocked, LockedUntil: copyTime(s.LockedUntil)}
}

// RecordFailure counts a failed credential check. A state that is still
// locked is left untouched so concurrent failures cannot push the counter
// past the threshold or re-lock.
func (m *Machine) RecordFailure(s *State, now time.Time) Outcome {
	check := m.Check(s, now)
	if check.Status == StatusLocked {
		return check
	}

	s.FailedAttempts++
	out := Outcome{
		Status:       StatusActive,
		AutoUnlocked: check.AutoUnlocked,
		Changed:      true,
	}

	if s.FailedAttempts >= m.policy.Threshold {
		s.Locked = true
		s.LockedUntil = nil
		if m.policy.Duration > 0 {
			until := now.Add(m.policy.Duration)
			s.LockedUntil = &until
		}
		out.Status = StatusLocked
		out.JustLocked = true
		out.LockedUntil = copyTime(s.LockedUntil)
		return out
	}

	out.AttemptsRemaining = m.remaining(s)
	return out
}

// RecordSuccess resets the counter after a successful credential check.
func (m *Machine) RecordSuccess(s *State) Outcome {
	changed := s.FailedAttempts != 0
	s.FailedAttempts = 0
	return Outcome{
		Status:            StatusActive,
		AttemptsRemaining: m.policy.Threshold,
		Changed:           changed,
	}
}

// Unlock clears the lock and the counter.
func (m *Machine) Unlock(s *State) Outcome {
	changed := s.Locked || s.FailedAttempts != 0 || s.LockedUntil != nil
	s.Locked = false
	s.LockedUntil = nil
	s.FailedAttempts = 0
	return Outcome{
		Status:            StatusActive,
		AttemptsRemaining: m.policy.Threshold,
		Changed:           changed,
	}
}

func (m *Machine) remaining(s *State) int {
	r := m.policy.Threshold - s.FailedAttempts
	if r < 0 {
		return 0
	}
	return r
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
