package proctor

import (
	"time"

	"github.com/google/uuid"
)

type ViolationType string

const (
	ViolationTabSwitch        ViolationType = "tab_switch"
	ViolationWindowBlur       ViolationType = "window_blur"
	ViolationFullscreenExit   ViolationType = "fullscreen_exit"
	ViolationCopyPaste        ViolationType = "copy_paste"
	ViolationRightClick       ViolationType = "right_click"
	ViolationKeyboardShortcut ViolationType = "keyboard_shortcut"
	ViolationDevtoolsDetected ViolationType = "devtools_detected"
	ViolationCameraDisabled   ViolationType = "camera_disabled"
	ViolationAudioDisabled    ViolationType = "audio_disabled"
	ViolationInactiveTooLong  ViolationType = "inactive_too_long"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation is a session-scoped integrity event. It lives in the ledger for
// the duration of the session and is shipped to the reporting sink
// best-effort; it is not part of the graded outcome.
type Violation struct {
	ID       uuid.UUID     `json:"id"`
	Type     ViolationType `json:"type"`
	Severity Severity      `json:"severity"`
	At       time.Time     `json:"at"`
	Detail   string        `json:"detail,omitempty"`
}

func newViolation(vt ViolationType, sev Severity, at time.Time, detail string) Violation {
	return Violation{
		ID:       uuid.New(),
		Type:     vt,
		Severity: sev,
		At:       at,
		Detail:   detail,
	}
}

func severityFor(vt ViolationType) Severity {
	switch vt {
	case ViolationRightClick:
		return SeverityLow
	case ViolationTabSwitch, ViolationWindowBlur, ViolationCopyPaste, ViolationKeyboardShortcut:
		return SeverityMedium
	case ViolationFullscreenExit, ViolationCameraDisabled, ViolationAudioDisabled, ViolationInactiveTooLong:
		return SeverityHigh
	case ViolationDevtoolsDetected:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}
