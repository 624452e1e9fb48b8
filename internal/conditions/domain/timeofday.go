package conditions

import "time"

const timeMatchWindow = 60 * time.Second

func evaluateTime(t TimeTest, now time.Time, loc *time.Location) bool {
	anchor, err := t.Anchor()
	if err != nil || now.IsZero() {
		return false
	}
	if loc == nil {
		loc = time.Local
	}
	anchor = anchor.In(loc)
	now = now.In(loc)

	days := civilDay(now) - civilDay(anchor)
	if days < 0 {
		return false
	}
	repeat := t.RepeatDays
	if repeat < 1 {
		repeat = 1
	}
	if days%repeat != 0 {
		return false
	}

	y, m, d := now.Date()
	threshold := time.Date(y, m, d, anchor.Hour(), anchor.Minute(), 0, 0, loc)
	endOfDay := time.Date(y, m, d+1, 0, 0, 0, 0, loc).Add(-time.Millisecond)

	switch t.Op {
	case OpEq:
		return absDuration(now.Sub(threshold)) <= timeMatchWindow
	case OpNe:
		return absDuration(now.Sub(threshold)) > timeMatchWindow
	case OpGt:
		return now.After(threshold) && !now.After(endOfDay)
	case OpGte:
		return !now.Before(threshold) && !now.After(endOfDay)
	case OpLt:
		return now.Before(threshold)
	case OpLte:
		return !now.After(threshold)
	default:
		return false
	}
}

// civilDay numbers calendar dates so that consecutive local dates differ by one,
// independent of DST transitions.
func civilDay(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
