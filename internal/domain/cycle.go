package domain

import "time"

// CycleStart returns the first instant of t's calendar month in UTC.
func CycleStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// CycleEnd returns the first instant of the month following t.
func CycleEnd(t time.Time) time.Time {
	return CycleStart(t).AddDate(0, 1, 0)
}

// IsStale reports whether now has crossed into a later calendar month than
// anchor. An anchor ahead of now (clock skew) is never stale.
func IsStale(anchor, now time.Time) bool {
	return CycleStart(now).After(CycleStart(anchor))
}

// EffectiveCount returns the counter value that applies at now: zero when the
// stored counter belongs to an earlier cycle.
func EffectiveCount(a *Account, now time.Time) int {
	if IsStale(a.CycleAnchor, now) {
		return 0
	}
	return a.UsageCount
}

// RollCycle applies a pending lazy reset in place and reports whether it did.
func RollCycle(a *Account, now time.Time) bool {
	if !IsStale(a.CycleAnchor, now) {
		return false
	}
	a.UsageCount = 0
	a.CycleAnchor = CycleStart(now)
	return true
}
