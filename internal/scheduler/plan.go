package scheduler

import "time"

// State is the loop's current phase.
type State int

// Loop states.
const (
	StateRunning State = iota
	StateNightSleep
	StateWeekendSleep
	StateRetryBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateNightSleep:
		return "night_sleep"
	case StateWeekendSleep:
		return "weekend_sleep"
	case StateRetryBackoff:
		return "retry_backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Window describes the operating hours. Hours are in Location.
type Window struct {
	// DayStartHour is the first hour that is not night.
	DayStartHour int
	// NightStartHour is the first night hour.
	NightStartHour int
	// WakeHour is when a night sleep ends.
	WakeHour int
	// WeekendWakeHour is the Monday hour a weekend sleep ends.
	WeekendWakeHour int
	Location        *time.Location
}

// DefaultWindow returns the board's business window in loc.
func DefaultWindow(loc *time.Location) Window {
	return Window{
		DayStartHour:    9,
		NightStartHour:  19,
		WakeHour:        10,
		WeekendWakeHour: 9,
		Location:        loc,
	}
}

// Plan decides what the loop should do at now. A non-running state comes
// with the duration until the next wake time.
func Plan(now time.Time, w Window) (State, time.Duration) {
	loc := w.Location
	if loc == nil {
		loc = now.Location()
	}
	local := now.In(loc)
	y, m, d := local.Date()

	switch wd := local.Weekday(); wd {
	case time.Saturday, time.Sunday:
		days := (8 - int(wd)) % 7
		wake := time.Date(y, m, d+days, w.WeekendWakeHour, 0, 0, 0, loc)
		return StateWeekendSleep, wake.Sub(local)
	}

	switch h := local.Hour(); {
	case h >= w.NightStartHour:
		wake := time.Date(y, m, d+1, w.WakeHour, 0, 0, 0, loc)
		return StateNightSleep, wake.Sub(local)
	case h < w.DayStartHour:
		wake := time.Date(y, m, d, w.WakeHour, 0, 0, 0, loc)
		return StateNightSleep, wake.Sub(local)
	}
	return StateRunning, 0
}
