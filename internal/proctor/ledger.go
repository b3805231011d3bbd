package proctor

import "sync"

// Ledger accumulates violations for one active session and decides when the
// configured limit is crossed. Violations are never removed while the session
// is alive, so the count is monotonically non-decreasing.
type Ledger struct {
	mu            sync.Mutex
	violations    []Violation
	maxViolations int
	autoTerminate bool
	signalled     bool
	onTerminate   func()
}

func NewLedger(maxViolations int, autoTerminate bool, onTerminate func()) *Ledger {
	if maxViolations < 1 {
		maxViolations = 1
	}
	return &Ledger{
		maxViolations: maxViolations,
		autoTerminate: autoTerminate,
		onTerminate:   onTerminate,
	}
}

// Record appends a violation and returns the updated count. When the count
// reaches the limit and auto-termination is enabled, the terminate callback
// fires exactly once, no matter how many violations land afterwards.
func (l *Ledger) Record(v Violation) int {
	l.mu.Lock()
	l.violations = append(l.violations, v)
	count := len(l.violations)
	fire := l.autoTerminate && !l.signalled && count >= l.maxViolations
	if fire {
		l.signalled = true
	}
	cb := l.onTerminate
	l.mu.Unlock()

	if fire && cb != nil {
		cb()
	}
	return count
}

func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.violations)
}

// Violations returns a chronological copy for display.
func (l *Ledger) Violations() []Violation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Violation, len(l.violations))
	copy(out, l.violations)
	return out
}

func (l *Ledger) Max() int {
	return l.maxViolations
}
