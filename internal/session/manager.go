package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Ashish1022/proctor-sub000/internal/proctor"
)

// ViolationSink receives violations for out-of-band reporting. Delivery is
// best-effort: a failing sink must never stall or alter the state machine.
type ViolationSink interface {
	RecordViolation(ctx context.Context, submissionID int64, v proctor.Violation) error
}

// ManagerConfig carries the proctoring policy applied to every live session.
type ManagerConfig struct {
	Proctor           proctor.Config
	MaxViolations     int
	AutoSubmitOnLimit bool
	SubmitTimeout     time.Duration
}

// Manager owns the live, in-memory sessions keyed by submission ID. It builds
// the clock, ledger and detector for each session, routes reported signals,
// and drops entries once a session reaches a terminal state.
type Manager struct {
	store SubmissionStore
	sink  ViolationSink
	cfg   ManagerConfig

	mu       sync.Mutex
	sessions map[int64]*TestSession
}

func NewManager(store SubmissionStore, sink ViolationSink, cfg ManagerConfig) *Manager {
	if cfg.MaxViolations < 1 {
		cfg.MaxViolations = 5
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	return &Manager{
		store:    store,
		sink:     sink,
		cfg:      cfg,
		sessions: make(map[int64]*TestSession),
	}
}

// Start begins or resumes a session. Starting twice for the same
// (test, student) reuses the persisted submission, so startedAt and the
// countdown survive reloads. An already-final submission comes back as a
// completed handle without a live session.
func (m *Manager) Start(ctx context.Context, testID, studentID int64, groups []string, entryCode string) (*Handle, error) {
	sess := NewTestSession(testID, studentID, groups, m.store)

	handle, err := sess.Start(ctx, entryCode)
	if err != nil {
		return nil, err
	}
	if sess.State() == StateSubmitted {
		return handle, nil
	}

	m.mu.Lock()
	if existing, ok := m.sessions[handle.Submission.ID]; ok {
		m.mu.Unlock()
		return existing.Handle(), nil
	}
	m.sessions[handle.Submission.ID] = sess
	m.mu.Unlock()

	m.attachRuntime(sess, handle)
	return handle, nil
}

func (m *Manager) attachRuntime(sess *TestSession, handle *Handle) {
	submissionID := handle.Submission.ID

	clock := NewClock(handle.Submission.StartedAt, handle.DurationSeconds, handle.EndAt, func() {
		m.autoSubmit(submissionID, TriggerTimeExpired)
	})

	ledger := proctor.NewLedger(m.cfg.MaxViolations, m.cfg.AutoSubmitOnLimit, func() {
		m.autoSubmit(submissionID, TriggerViolationLimit)
	})

	detector := proctor.NewDetector(m.cfg.Proctor, func(v proctor.Violation) {
		ledger.Record(v)
		m.reportViolation(submissionID, v)
	})

	sess.AttachProctoring(clock, ledger, detector)
	detector.Attach()
	go clock.Run()

	// A resumed session may already be past its deadline.
	clock.Tick()
}

// Get returns the live session for a submission, if any.
func (m *Manager) Get(submissionID int64) (*TestSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[submissionID]
	return sess, ok
}

// Observe routes one raw client signal into the session's detector.
func (m *Manager) Observe(submissionID int64, sig proctor.Signal) error {
	sess, ok := m.Get(submissionID)
	if !ok {
		return ErrSessionNotFound
	}
	if d := sess.Detector(); d != nil {
		d.Observe(sig)
	}
	return nil
}

// Submit performs a manual submission for a live session.
func (m *Manager) Submit(ctx context.Context, submissionID int64) (*SubmitResult, error) {
	sess, ok := m.Get(submissionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	res, err := sess.Submit(ctx, TriggerManual)
	if err != nil {
		return nil, err
	}
	m.release(submissionID)
	return res, nil
}

// autoSubmit is the forced path shared by clock expiry and the violation
// limit. Errors leave the session in_progress for a later retry; the clock is
// already stopped only on success.
func (m *Manager) autoSubmit(submissionID int64, trigger Trigger) {
	sess, ok := m.Get(submissionID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SubmitTimeout)
	defer cancel()

	if _, err := sess.Submit(ctx, trigger); err != nil {
		log.Printf("auto submit submission=%d trigger=%s failed: %v", submissionID, trigger, err)
		return
	}
	m.release(submissionID)
}

// Abandon tears down the live runtime without submitting; the persisted
// submission remains resumable.
func (m *Manager) Abandon(submissionID int64) {
	sess, ok := m.Get(submissionID)
	if !ok {
		return
	}
	sess.Abandon()
	m.release(submissionID)
}

func (m *Manager) release(submissionID int64) {
	m.mu.Lock()
	delete(m.sessions, submissionID)
	m.mu.Unlock()
}

func (m *Manager) reportViolation(submissionID int64, v proctor.Violation) {
	if m.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.sink.RecordViolation(ctx, submissionID, v); err != nil {
			log.Printf("report violation submission=%d type=%s failed: %v", submissionID, v.Type, err)
		}
	}()
}

// Live returns the number of active sessions, for metrics.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
