package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ashish1022/proctor-sub000/internal/proctor"
)

type chanSink struct {
	ch chan proctor.Violation
}

func (s *chanSink) RecordViolation(_ context.Context, _ int64, v proctor.Violation) error {
	s.ch <- v
	return nil
}

func managerConfig() ManagerConfig {
	return ManagerConfig{
		Proctor: proctor.Config{
			BlockCopyPaste: true,
			DetectDevtools: false,
		},
		MaxViolations:     2,
		AutoSubmitOnLimit: true,
	}
}

func TestManagerViolationLimitForcesSubmit(t *testing.T) {
	var gotTrigger Trigger
	store := &fakeStore{
		startSessionFn: func(_ context.Context, _, _ int64, _ []string, _ string) (*Handle, error) {
			return inProgressHandle(), nil
		},
		submitSessionFn: func(_ context.Context, in SubmitInput) (*SubmitResult, error) {
			gotTrigger = in.Trigger
			return &SubmitResult{SubmissionID: 11, Status: SubmissionGraded, SubmitTrigger: string(in.Trigger)}, nil
		},
	}
	sink := &chanSink{ch: make(chan proctor.Violation, 8)}
	m := NewManager(store, sink, managerConfig())

	handle, err := m.Start(context.Background(), 1, 2, nil, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := handle.Submission.ID

	copySignal := proctor.Signal{Kind: proctor.SignalClipboard, Op: "copy"}
	if err := m.Observe(id, copySignal); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := m.Observe(id, copySignal); err != nil {
		t.Fatalf("observe: %v", err)
	}

	if gotTrigger != TriggerViolationLimit {
		t.Fatalf("expected forced submit trigger %s, got %s", TriggerViolationLimit, gotTrigger)
	}
	if _, ok := m.Get(id); ok {
		t.Fatalf("session should be released after forced submit")
	}

	for i := 0; i < 2; i++ {
		select {
		case v := <-sink.ch:
			if v.Type != proctor.ViolationCopyPaste {
				t.Fatalf("unexpected violation type %s", v.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("violation %d never reached the sink", i)
		}
	}
}

func TestManagerResumePastDeadlineSubmitsImmediately(t *testing.T) {
	var gotTrigger Trigger
	store := &fakeStore{
		startSessionFn: func(_ context.Context, _, _ int64, _ []string, _ string) (*Handle, error) {
			h := inProgressHandle()
			h.Submission.StartedAt = time.Now().Add(-2 * time.Hour)
			return h, nil
		},
		submitSessionFn: func(_ context.Context, in SubmitInput) (*SubmitResult, error) {
			gotTrigger = in.Trigger
			return &SubmitResult{SubmissionID: 11, Status: SubmissionGraded, SubmitTrigger: string(in.Trigger)}, nil
		},
	}
	m := NewManager(store, nil, managerConfig())

	if _, err := m.Start(context.Background(), 1, 2, nil, ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	if gotTrigger != TriggerTimeExpired {
		t.Fatalf("expected %s, got %s", TriggerTimeExpired, gotTrigger)
	}
	if live := m.Live(); live != 0 {
		t.Fatalf("expected no live sessions, got %d", live)
	}
}

func TestManagerObserveUnknownSession(t *testing.T) {
	m := NewManager(&fakeStore{}, nil, managerConfig())
	err := m.Observe(99, proctor.Signal{Kind: proctor.SignalClipboard, Op: "copy"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManagerManualSubmitReleases(t *testing.T) {
	store := &fakeStore{
		startSessionFn: func(_ context.Context, _, _ int64, _ []string, _ string) (*Handle, error) {
			return inProgressHandle(), nil
		},
		submitSessionFn: func(_ context.Context, in SubmitInput) (*SubmitResult, error) {
			return &SubmitResult{SubmissionID: 11, Status: SubmissionGraded, SubmitTrigger: string(in.Trigger)}, nil
		},
	}
	m := NewManager(store, nil, managerConfig())

	handle, err := m.Start(context.Background(), 1, 2, nil, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	res, err := m.Submit(context.Background(), handle.Submission.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.SubmitTrigger != string(TriggerManual) {
		t.Fatalf("expected manual trigger, got %s", res.SubmitTrigger)
	}
	if err := m.Observe(handle.Submission.ID, proctor.Signal{Kind: proctor.SignalClipboard, Op: "copy"}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("released session should not accept signals, got %v", err)
	}
}

func TestManagerAbandonTearsDownRuntime(t *testing.T) {
	store := &fakeStore{
		startSessionFn: func(_ context.Context, _, _ int64, _ []string, _ string) (*Handle, error) {
			return inProgressHandle(), nil
		},
	}
	m := NewManager(store, nil, managerConfig())

	handle, err := m.Start(context.Background(), 1, 2, nil, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sess, ok := m.Get(handle.Submission.ID)
	if !ok {
		t.Fatalf("expected live session")
	}

	m.Abandon(handle.Submission.ID)

	if sess.Detector().Attached() {
		t.Fatalf("detector should be detached after abandon")
	}
	if _, ok := m.Get(handle.Submission.ID); ok {
		t.Fatalf("abandoned session should be released")
	}
}

func TestManagerStartFinalSubmissionHasNoRuntime(t *testing.T) {
	store := &fakeStore{
		startSessionFn: func(_ context.Context, _, _ int64, _ []string, _ string) (*Handle, error) {
			h := inProgressHandle()
			h.Submission.Status = SubmissionGraded
			h.Submission.Percentage = 80
			return h, nil
		},
	}
	m := NewManager(store, nil, managerConfig())

	handle, err := m.Start(context.Background(), 1, 2, nil, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if handle.Submission.Percentage != 80 {
		t.Fatalf("expected completed handle, got %+v", handle.Submission)
	}
	if live := m.Live(); live != 0 {
		t.Fatalf("final submission must not create a live session, got %d", live)
	}
}
