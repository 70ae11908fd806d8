package deejng

import (
	"regexp"
	"strings"

	"github.com/thoas/go-funk"
)

// Target is a user-configured logical destination for volume/mute control:
// an application name, a device, or one of the reserved sentinel names.
// Identity is the (lowercased name, isInputDevice, isOutputDevice) tuple.
type Target struct {
	Name           string
	IsInputDevice  bool
	IsOutputDevice bool
}

const (
	// always maps to the default render endpoint's master volume
	systemTargetName = "system"

	// matches every session not explicitly claimed by another target.
	// resolved by the presentation layer, never by the engine
	unmappedTargetName = "unmapped"

	// some targets need to be transformed before their correct audio sessions can be accessed.
	// this prefix identifies those targets to ensure they don't contradict with a similarly-named process
	specialTargetTransformPrefix = "deejng."

	// targets whichever process owns the foreground window (Windows-only)
	specialTargetCurrentWindow = "current"
)

// this matches friendly device names (on Windows), e.g. "Headphones (Realtek Audio)"
var deviceTargetNamePattern = regexp.MustCompile(`^.+ \(.+\)$`)

// NormalizedName returns the lowercased, whitespace-trimmed target name.
// All engine maps are keyed by this form.
func (t Target) NormalizedName() string {
	return strings.ToLower(strings.TrimSpace(t.Name))
}

// IsSystem reports whether the target is the reserved "system" sentinel.
func (t Target) IsSystem() bool {
	return t.NormalizedName() == systemTargetName
}

// IsUnmapped reports whether the target is the reserved "unmapped" sentinel.
func (t Target) IsUnmapped() bool {
	return t.NormalizedName() == specialTargetTransformPrefix+unmappedTargetName ||
		t.NormalizedName() == unmappedTargetName
}

// IsCurrentWindow reports whether the target addresses the foreground window's process.
func (t Target) IsCurrentWindow() bool {
	return t.NormalizedName() == specialTargetTransformPrefix+specialTargetCurrentWindow
}

// IsBlank reports whether the target has no usable name.
func (t Target) IsBlank() bool {
	return t.NormalizedName() == ""
}

// Equal reports target identity per the (name, input, output) tuple.
func (t Target) Equal(other Target) bool {
	return t.NormalizedName() == other.NormalizedName() &&
		t.IsInputDevice == other.IsInputDevice &&
		t.IsOutputDevice == other.IsOutputDevice
}

// targetsFromNames converts raw config strings into Target values,
// classifying friendly device names and the input-device shorthand.
func targetsFromNames(names []string) []Target {
	targets := make([]Target, 0, len(names))

	for _, name := range funk.UniqString(names) {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}

		target := Target{Name: trimmed}

		switch {
		case strings.EqualFold(trimmed, inputDeviceTargetName):
			target.IsInputDevice = true
		case deviceTargetNamePattern.MatchString(trimmed):
			target.IsOutputDevice = true
		}

		targets = append(targets, target)
	}

	return targets
}

const (
	// addresses the default capture endpoint (microphone level)
	inputDeviceTargetName = "mic"
)
