package probe

import (
	"github.com/lanaudit/lanaudit/internal/model"
)

// Window is one TTL tolerance range attributed to an operating system
// class. Initial TTLs sit on 64/128/255 and lose a few hops on the way,
// so each window reaches a handful of hops below the canonical value.
type Window struct {
	OS model.OSGuess
	Lo int
	Hi int
}

// DefaultWindows are the classification ranges used when the
// configuration does not override them.
func DefaultWindows() []Window {
	return []Window{
		{OS: model.OSLinux, Lo: 60, Hi: 64},
		{OS: model.OSWindows, Lo: 120, Hi: 128},
		{OS: model.OSCisco, Lo: 247, Hi: 255},
	}
}

// Classifier maps a reply TTL onto an OS guess. The windows are plain
// data, so they stay independently testable and tunable.
type Classifier struct {
	windows []Window
}

// NewClassifier builds a classifier; without windows the defaults apply.
func NewClassifier(windows ...Window) Classifier {
	if len(windows) == 0 {
		windows = DefaultWindows()
	}
	return Classifier{windows: windows}
}

// Classify returns the OS class whose window contains ttl, or OSUnknown
// when no window matches.
func (c Classifier) Classify(ttl int) model.OSGuess {
	for _, w := range c.windows {
		if ttl >= w.Lo && ttl <= w.Hi {
			return w.OS
		}
	}
	return model.OSUnknown
}
