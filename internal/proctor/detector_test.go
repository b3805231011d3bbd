package proctor

import (
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu   sync.Mutex
	seen []Violation
}

func (c *captureSink) emit(v Violation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, v)
}

func (c *captureSink) types() []ViolationType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ViolationType, 0, len(c.seen))
	for _, v := range c.seen {
		out = append(out, v.Type)
	}
	return out
}

func newTestDetector(cfg Config) (*Detector, *captureSink) {
	sink := &captureSink{}
	d := NewDetector(cfg, sink.emit)
	d.Attach()
	return d, sink
}

func TestDetectorCategorySignals(t *testing.T) {
	tests := []struct {
		name   string
		signal Signal
		want   ViolationType
		sev    Severity
	}{
		{name: "tab switch", signal: Signal{Kind: SignalVisibility, Hidden: true}, want: ViolationTabSwitch, sev: SeverityMedium},
		{name: "window blur", signal: Signal{Kind: SignalFocus, Focused: false}, want: ViolationWindowBlur, sev: SeverityMedium},
		{name: "clipboard copy", signal: Signal{Kind: SignalClipboard, Op: "copy"}, want: ViolationCopyPaste, sev: SeverityMedium},
		{name: "right click", signal: Signal{Kind: SignalContextMenu}, want: ViolationRightClick, sev: SeverityLow},
		{name: "blocked shortcut", signal: Signal{Kind: SignalKeyDown, Combo: "Ctrl+Shift+I"}, want: ViolationKeyboardShortcut, sev: SeverityMedium},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DetectDevtools = false
			d, sink := newTestDetector(cfg)
			defer d.Detach()

			d.Observe(tc.signal)

			if len(sink.seen) != 1 {
				t.Fatalf("expected 1 violation, got %d", len(sink.seen))
			}
			if sink.seen[0].Type != tc.want || sink.seen[0].Severity != tc.sev {
				t.Fatalf("expected %s/%s, got %s/%s", tc.want, tc.sev, sink.seen[0].Type, sink.seen[0].Severity)
			}
		})
	}
}

func TestDetectorDisabledCategoriesStaySilent(t *testing.T) {
	d, sink := newTestDetector(Config{})
	defer d.Detach()

	d.Observe(Signal{Kind: SignalVisibility, Hidden: true})
	d.Observe(Signal{Kind: SignalFocus, Focused: false})
	d.Observe(Signal{Kind: SignalClipboard, Op: "paste"})
	d.Observe(Signal{Kind: SignalContextMenu})
	d.Observe(Signal{Kind: SignalKeyDown, Combo: "ctrl+c"})

	if len(sink.seen) != 0 {
		t.Fatalf("all categories disabled, expected no violations, got %v", sink.types())
	}
}

func TestDetectorUnlistedShortcutAllowed(t *testing.T) {
	d, sink := newTestDetector(DefaultConfig())
	defer d.Detach()

	d.Observe(Signal{Kind: SignalKeyDown, Combo: "ctrl+z"})
	if len(sink.seen) != 0 {
		t.Fatalf("ctrl+z is not on the deny-list, got %v", sink.types())
	}
}

func TestDetectorFullscreenExitOnTransitionOnly(t *testing.T) {
	d, sink := newTestDetector(DefaultConfig())
	defer d.Detach()

	// Initial non-fullscreen report is not a transition.
	d.Observe(Signal{Kind: SignalFullscreen, Fullscreen: false})
	if len(sink.seen) != 0 {
		t.Fatalf("no prior fullscreen state, expected no violation")
	}

	d.Observe(Signal{Kind: SignalFullscreen, Fullscreen: true})
	d.Observe(Signal{Kind: SignalFullscreen, Fullscreen: false})
	if got := sink.types(); len(got) != 1 || got[0] != ViolationFullscreenExit {
		t.Fatalf("expected single fullscreen_exit, got %v", got)
	}
}

func TestDetectorDevtoolsRisingEdge(t *testing.T) {
	cfg := DefaultConfig()
	d, sink := newTestDetector(cfg)
	defer d.Detach()

	closed := Signal{Kind: SignalDimensions, OuterWidth: 1280, OuterHeight: 800, InnerWidth: 1280, InnerHeight: 780}
	open := Signal{Kind: SignalDimensions, OuterWidth: 1280, OuterHeight: 800, InnerWidth: 900, InnerHeight: 780}

	d.Observe(closed)
	d.Observe(open)
	d.Observe(open)
	d.Observe(open)
	if got := sink.types(); len(got) != 1 || got[0] != ViolationDevtoolsDetected {
		t.Fatalf("expected single devtools_detected while continuously open, got %v", got)
	}

	d.Observe(closed)
	d.Observe(open)
	if got := sink.types(); len(got) != 2 {
		t.Fatalf("expected re-emission after closing and reopening, got %v", got)
	}
}

func TestDetectorInactiveTooLongOncePerHiddenInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DetectDevtools = false
	cfg.HiddenGrace = 10 * time.Millisecond
	d, sink := newTestDetector(cfg)
	defer d.Detach()

	d.Observe(Signal{Kind: SignalVisibility, Hidden: true})
	time.Sleep(50 * time.Millisecond)

	got := sink.types()
	if len(got) != 2 || got[0] != ViolationTabSwitch || got[1] != ViolationInactiveTooLong {
		t.Fatalf("expected tab_switch then inactive_too_long, got %v", got)
	}

	// Returning to visible resets the interval; a new hidden interval gets its
	// own single emission.
	d.Observe(Signal{Kind: SignalVisibility, Hidden: false})
	d.Observe(Signal{Kind: SignalVisibility, Hidden: true})
	time.Sleep(50 * time.Millisecond)

	inactive := 0
	for _, vt := range sink.types() {
		if vt == ViolationInactiveTooLong {
			inactive++
		}
	}
	if inactive != 2 {
		t.Fatalf("expected one inactive_too_long per hidden interval, got %d", inactive)
	}
}

func TestDetectorGraceCancelledOnReturn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DetectDevtools = false
	cfg.HiddenGrace = 40 * time.Millisecond
	d, sink := newTestDetector(cfg)
	defer d.Detach()

	d.Observe(Signal{Kind: SignalVisibility, Hidden: true})
	d.Observe(Signal{Kind: SignalVisibility, Hidden: false})
	time.Sleep(80 * time.Millisecond)

	for _, vt := range sink.types() {
		if vt == ViolationInactiveTooLong {
			t.Fatalf("grace timer must be cancelled when the page becomes visible again")
		}
	}
}

func TestDetectorMediaTrackLoss(t *testing.T) {
	d, sink := newTestDetector(DefaultConfig())
	defer d.Detach()

	d.Observe(Signal{Kind: SignalMediaTrack, Track: "camera"})
	d.Observe(Signal{Kind: SignalMediaTrack, Track: "microphone"})
	if got := len(d.ActiveTracks()); got != 2 {
		t.Fatalf("expected 2 active tracks, got %d", got)
	}

	d.Observe(Signal{Kind: SignalMediaTrack, Track: "camera", Ended: true})
	d.Observe(Signal{Kind: SignalMediaTrack, Track: "microphone", Ended: true})
	// Ending a track that was never acquired is not a violation.
	d.Observe(Signal{Kind: SignalMediaTrack, Track: "camera", Ended: true})

	got := sink.types()
	if len(got) != 2 || got[0] != ViolationCameraDisabled || got[1] != ViolationAudioDisabled {
		t.Fatalf("expected camera_disabled then audio_disabled, got %v", got)
	}
}

func TestDetectorAttachDetachIdempotent(t *testing.T) {
	d, sink := newTestDetector(DefaultConfig())

	d.Attach()
	d.Attach()
	if !d.Attached() {
		t.Fatalf("expected attached")
	}

	d.Observe(Signal{Kind: SignalMediaTrack, Track: "camera"})

	d.Detach()
	d.Detach()
	if d.Attached() {
		t.Fatalf("expected detached")
	}
	if got := len(d.ActiveTracks()); got != 0 {
		t.Fatalf("detach must release media tracks, %d still held", got)
	}

	// Signals after detach are dropped.
	d.Observe(Signal{Kind: SignalContextMenu})
	if len(sink.seen) != 0 {
		t.Fatalf("expected no violations after detach, got %v", sink.types())
	}
}

func TestDetectorFocusStateTracked(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DetectWindowBlur = false
	d, sink := newTestDetector(cfg)
	defer d.Detach()

	d.Observe(Signal{Kind: SignalFocus, Focused: false})
	if d.Focused() {
		t.Fatalf("expected unfocused state")
	}
	d.Observe(Signal{Kind: SignalFocus, Focused: true})
	if !d.Focused() {
		t.Fatalf("expected refocused state")
	}
	if len(sink.seen) != 0 {
		t.Fatalf("blur detection disabled and refocus never violates, got %v", sink.types())
	}
}
