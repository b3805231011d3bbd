package proctor

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type SignalKind string

const (
	SignalVisibility  SignalKind = "visibility"
	SignalFocus       SignalKind = "focus"
	SignalFullscreen  SignalKind = "fullscreen"
	SignalClipboard   SignalKind = "clipboard"
	SignalContextMenu SignalKind = "contextmenu"
	SignalKeyDown     SignalKind = "keydown"
	SignalDimensions  SignalKind = "dimensions"
	SignalMediaTrack  SignalKind = "media_track"
)

// Signal is one raw environment event reported by the test-taking client.
// The detector decides whether it amounts to a violation; clients never
// classify violations themselves.
type Signal struct {
	Kind        SignalKind `json:"kind"`
	At          time.Time  `json:"at"`
	Hidden      bool       `json:"hidden,omitempty"`
	Focused     bool       `json:"focused,omitempty"`
	Fullscreen  bool       `json:"fullscreen,omitempty"`
	Op          string     `json:"op,omitempty"`
	Combo       string     `json:"combo,omitempty"`
	OuterWidth  int        `json:"outer_width,omitempty"`
	OuterHeight int        `json:"outer_height,omitempty"`
	InnerWidth  int        `json:"inner_width,omitempty"`
	InnerHeight int        `json:"inner_height,omitempty"`
	Track       string     `json:"track,omitempty"`
	Ended       bool       `json:"ended,omitempty"`
}

// Config enables detection categories independently. Zero-value disables
// everything; DefaultConfig mirrors a locked-down session.
type Config struct {
	EnforceFullscreen bool
	DetectTabSwitch   bool
	DetectWindowBlur  bool
	BlockCopyPaste    bool
	BlockRightClick   bool
	BlockShortcuts    bool
	DetectDevtools    bool

	HiddenGrace          time.Duration
	DevtoolsPollInterval time.Duration
	DevtoolsThresholdPx  int
}

func DefaultConfig() Config {
	return Config{
		EnforceFullscreen:    true,
		DetectTabSwitch:      true,
		DetectWindowBlur:     true,
		BlockCopyPaste:       true,
		BlockRightClick:      true,
		BlockShortcuts:       true,
		DetectDevtools:       true,
		HiddenGrace:          30 * time.Second,
		DevtoolsPollInterval: time.Second,
		DevtoolsThresholdPx:  160,
	}
}

// blockedCombos is the fixed deny-list for shortcut interception. Keys are
// normalized lowercase combos as reported by the client.
var blockedCombos = map[string]struct{}{
	"ctrl+c":       {},
	"ctrl+v":       {},
	"ctrl+x":       {},
	"ctrl+a":       {},
	"ctrl+s":       {},
	"ctrl+p":       {},
	"ctrl+f":       {},
	"ctrl+t":       {},
	"ctrl+w":       {},
	"ctrl+r":       {},
	"ctrl+shift+i": {},
	"ctrl+shift+j": {},
	"ctrl+shift+c": {},
	"ctrl+u":       {},
	"alt+tab":      {},
	"f5":           {},
	"f12":          {},
}

type dimensions struct {
	outerW, outerH, innerW, innerH int
	valid                          bool
}

// Detector translates raw client signals into typed violations. One detector
// is owned by one live session; Attach and Detach are idempotent, and Detach
// cancels the devtools poll task, the hidden-grace timer, and releases any
// media tracks, whichever way the session ends.
type Detector struct {
	cfg  Config
	emit func(Violation)
	now  func() time.Time

	mu              sync.Mutex
	attached        bool
	focused         bool
	fullscreen      bool
	fullscreenSeen  bool
	hidden          bool
	inactiveEmitted bool
	devtoolsOpen    bool
	lastDims        dimensions
	activeTracks    map[string]bool
	graceTimer      *time.Timer
	pollStop        chan struct{}
}

func NewDetector(cfg Config, emit func(Violation)) *Detector {
	if cfg.HiddenGrace <= 0 {
		cfg.HiddenGrace = 30 * time.Second
	}
	if cfg.DevtoolsPollInterval <= 0 {
		cfg.DevtoolsPollInterval = time.Second
	}
	if cfg.DevtoolsThresholdPx <= 0 {
		cfg.DevtoolsThresholdPx = 160
	}
	return &Detector{
		cfg:          cfg,
		emit:         emit,
		now:          time.Now,
		focused:      true,
		activeTracks: map[string]bool{},
	}
}

// Attach starts the detector's timer tasks. Calling it on an already attached
// detector is a no-op.
func (d *Detector) Attach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attached {
		return
	}
	d.attached = true

	if d.cfg.DetectDevtools {
		stop := make(chan struct{})
		d.pollStop = stop
		go d.pollDevtools(stop)
	}
}

// Detach stops timers and releases media. Safe to call repeatedly and on any
// exit path; after Detach no further violations are emitted.
func (d *Detector) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.attached {
		return
	}
	d.attached = false

	if d.pollStop != nil {
		close(d.pollStop)
		d.pollStop = nil
	}
	if d.graceTimer != nil {
		d.graceTimer.Stop()
		d.graceTimer = nil
	}
	for track := range d.activeTracks {
		delete(d.activeTracks, track)
	}
}

func (d *Detector) Attached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached
}

// Focused reports the last known window focus state, for status display.
func (d *Detector) Focused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focused
}

// ActiveTracks lists media tracks the session currently holds.
func (d *Detector) ActiveTracks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.activeTracks))
	for track := range d.activeTracks {
		out = append(out, track)
	}
	return out
}

// Observe processes one reported signal. Unknown kinds are ignored rather
// than rejected, so a newer client cannot crash an older server.
func (d *Detector) Observe(sig Signal) {
	d.mu.Lock()
	if !d.attached {
		d.mu.Unlock()
		return
	}
	at := sig.At
	if at.IsZero() {
		at = d.now()
	}

	var out []Violation
	switch sig.Kind {
	case SignalVisibility:
		out = d.observeVisibility(sig, at)
	case SignalFocus:
		d.focused = sig.Focused
		if !sig.Focused && d.cfg.DetectWindowBlur {
			out = append(out, newViolation(ViolationWindowBlur, severityFor(ViolationWindowBlur), at, "window lost focus"))
		}
	case SignalFullscreen:
		if d.fullscreenSeen && d.fullscreen && !sig.Fullscreen && d.cfg.EnforceFullscreen {
			out = append(out, newViolation(ViolationFullscreenExit, severityFor(ViolationFullscreenExit), at, "left fullscreen"))
		}
		d.fullscreen = sig.Fullscreen
		d.fullscreenSeen = true
	case SignalClipboard:
		if d.cfg.BlockCopyPaste {
			op := strings.TrimSpace(strings.ToLower(sig.Op))
			out = append(out, newViolation(ViolationCopyPaste, severityFor(ViolationCopyPaste), at, op+" attempted"))
		}
	case SignalContextMenu:
		if d.cfg.BlockRightClick {
			out = append(out, newViolation(ViolationRightClick, severityFor(ViolationRightClick), at, "context menu requested"))
		}
	case SignalKeyDown:
		combo := strings.TrimSpace(strings.ToLower(sig.Combo))
		if d.cfg.BlockShortcuts {
			if _, blocked := blockedCombos[combo]; blocked {
				out = append(out, newViolation(ViolationKeyboardShortcut, severityFor(ViolationKeyboardShortcut), at, combo))
			}
		}
	case SignalDimensions:
		d.lastDims = dimensions{
			outerW: sig.OuterWidth, outerH: sig.OuterHeight,
			innerW: sig.InnerWidth, innerH: sig.InnerHeight,
			valid: true,
		}
		out = d.evalDevtoolsLocked(at)
	case SignalMediaTrack:
		out = d.observeMediaTrack(sig, at)
	}
	d.mu.Unlock()

	for _, v := range out {
		d.emit(v)
	}
}

func (d *Detector) observeVisibility(sig Signal, at time.Time) []Violation {
	var out []Violation
	if sig.Hidden && !d.hidden {
		d.hidden = true
		d.inactiveEmitted = false
		if d.cfg.DetectTabSwitch {
			out = append(out, newViolation(ViolationTabSwitch, severityFor(ViolationTabSwitch), at, "page hidden"))
			d.armGraceTimerLocked()
		}
	} else if !sig.Hidden && d.hidden {
		d.hidden = false
		d.inactiveEmitted = false
		if d.graceTimer != nil {
			d.graceTimer.Stop()
			d.graceTimer = nil
		}
	}
	return out
}

func (d *Detector) observeMediaTrack(sig Signal, at time.Time) []Violation {
	track := strings.TrimSpace(strings.ToLower(sig.Track))
	if track == "" {
		return nil
	}
	if !sig.Ended {
		d.activeTracks[track] = true
		return nil
	}
	if !d.activeTracks[track] {
		return nil
	}
	delete(d.activeTracks, track)
	switch track {
	case "camera":
		return []Violation{newViolation(ViolationCameraDisabled, severityFor(ViolationCameraDisabled), at, "camera track ended")}
	case "microphone":
		return []Violation{newViolation(ViolationAudioDisabled, severityFor(ViolationAudioDisabled), at, "microphone track ended")}
	}
	return nil
}

// armGraceTimerLocked schedules the single inactive_too_long emission for the
// current hidden interval. Caller holds d.mu.
func (d *Detector) armGraceTimerLocked() {
	if d.graceTimer != nil {
		d.graceTimer.Stop()
	}
	d.graceTimer = time.AfterFunc(d.cfg.HiddenGrace, func() {
		d.mu.Lock()
		fire := d.attached && d.hidden && !d.inactiveEmitted
		if fire {
			d.inactiveEmitted = true
		}
		at := d.now()
		d.mu.Unlock()
		if fire {
			d.emit(newViolation(ViolationInactiveTooLong, severityFor(ViolationInactiveTooLong), at,
				fmt.Sprintf("hidden longer than %s", d.cfg.HiddenGrace)))
		}
	})
}

// evalDevtoolsLocked compares the last reported outer/inner window dimensions
// against the threshold and emits only on the not-open to open edge. Caller
// holds d.mu.
func (d *Detector) evalDevtoolsLocked(at time.Time) []Violation {
	if !d.cfg.DetectDevtools || !d.lastDims.valid {
		return nil
	}
	open := d.lastDims.outerW-d.lastDims.innerW > d.cfg.DevtoolsThresholdPx ||
		d.lastDims.outerH-d.lastDims.innerH > d.cfg.DevtoolsThresholdPx
	if open && !d.devtoolsOpen {
		d.devtoolsOpen = true
		return []Violation{newViolation(ViolationDevtoolsDetected, severityFor(ViolationDevtoolsDetected), at, "window dimension heuristic")}
	}
	if !open {
		d.devtoolsOpen = false
	}
	return nil
}

func (d *Detector) pollDevtools(stop chan struct{}) {
	ticker := time.NewTicker(d.cfg.DevtoolsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.mu.Lock()
			out := d.evalDevtoolsLocked(d.now())
			d.mu.Unlock()
			for _, v := range out {
				d.emit(v)
			}
		}
	}
}
