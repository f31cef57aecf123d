package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Window is a daily time-of-day range in the clinic's timezone, inclusive of
// the start minute and exclusive of the end minute.
type Window struct {
	startMin int
	endMin   int
}

// ParseWindow parses "HH:MM-HH:MM" into a Window.
func ParseWindow(s string) (Window, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("scheduler: malformed window %q", s)
	}
	start, err := parseClock(strings.TrimSpace(parts[0]))
	if err != nil {
		return Window{}, fmt.Errorf("scheduler: window %q: %w", s, err)
	}
	end, err := parseClock(strings.TrimSpace(parts[1]))
	if err != nil {
		return Window{}, fmt.Errorf("scheduler: window %q: %w", s, err)
	}
	if end <= start {
		return Window{}, fmt.Errorf("scheduler: window %q ends before it starts", s)
	}
	return Window{startMin: start, endMin: end}, nil
}

// MustParseWindow panics on a malformed window; for defaults and tests.
func MustParseWindow(s string) Window {
	w, err := ParseWindow(s)
	if err != nil {
		panic(err)
	}
	return w
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", s)
	}
	return h*60 + m, nil
}

// Contains reports whether the wall-clock time of t falls inside the window.
// The caller converts t to the clinic timezone first.
func (w Window) Contains(t time.Time) bool {
	min := t.Hour()*60 + t.Minute()
	return min >= w.startMin && min < w.endMin
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d",
		w.startMin/60, w.startMin%60, w.endMin/60, w.endMin%60)
}
