package marketdata

import (
	"fmt"
	"time"
)

// Tick represents a single raw trade event from the market data provider.
// Ticks are immutable once fetched; timestamps carry nanosecond precision.
type Tick struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Size      int64     `json:"size"`
}

// Session identifies the trading session window for a run
type Session string

const (
	SessionRegular Session = "regular"
	SessionPre     Session = "pre"
	SessionPost    Session = "post"
)

// SessionWindow is the wall-clock window of a session on a single calendar
// date in the exchange timezone.
type SessionWindow struct {
	Start time.Time
	End   time.Time
}

// Minutes returns the ordered minute-start timestamps covered by the window,
// inclusive of Start and exclusive of End.
func (w SessionWindow) Minutes() []time.Time {
	var minutes []time.Time
	for m := w.Start.Truncate(time.Minute); m.Before(w.End); m = m.Add(time.Minute) {
		minutes = append(minutes, m)
	}
	return minutes
}

// ResolveSessionWindow computes the wall-clock bounds of a session on the
// given date. Open and close are "HH:MM" strings in the exchange timezone.
func ResolveSessionWindow(date time.Time, session Session, loc *time.Location, open, close string) (SessionWindow, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)

	at := func(hhmm string) (time.Time, error) {
		var h, m int
		if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
			return time.Time{}, fmt.Errorf("invalid session time %q: %w", hhmm, err)
		}
		return dayStart.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
	}

	openAt, err := at(open)
	if err != nil {
		return SessionWindow{}, err
	}
	closeAt, err := at(close)
	if err != nil {
		return SessionWindow{}, err
	}

	switch session {
	case SessionRegular, "":
		return SessionWindow{Start: openAt, End: closeAt}, nil
	case SessionPre:
		return SessionWindow{Start: dayStart.Add(4 * time.Hour), End: openAt}, nil
	case SessionPost:
		return SessionWindow{Start: closeAt, End: dayStart.Add(20 * time.Hour)}, nil
	default:
		return SessionWindow{}, fmt.Errorf("unknown session %q", session)
	}
}
