package kma

import "time"

// The provider publishes each document class on its own wall-clock cadence.
// Requesting a base time that has not been published yet returns NO_DATA, so
// every rule backs off to the latest slot guaranteed to exist.

// nowcastBase selects the hourly observation slot: before half past, the
// current hour's document is not out yet, so the previous hour serves.
func nowcastBase(now time.Time) (baseDate, baseTime string) {
	if now.Minute() < 30 {
		now = now.Add(-time.Hour)
	}
	return now.Format("20060102"), now.Format("15") + "30"
}

// ultraForecastBase selects the half-hourly forecast slot, available about
// 45 minutes past each hour.
func ultraForecastBase(now time.Time) (baseDate, baseTime string) {
	if now.Minute() < 45 {
		now = now.Add(-time.Hour)
	}
	return now.Format("20060102"), now.Format("15") + "30"
}

// villageBase selects among the village forecast's publication slots
// (02, 05, 08, 11, 14, 17, 20, 23 KST); the harvest uses the four slots the
// three-day window needs.
func villageBase(now time.Time) (baseDate, baseTime string) {
	switch h := now.Hour(); {
	case h < 5:
		return now.AddDate(0, 0, -1).Format("20060102"), "2300"
	case h < 11:
		return now.Format("20060102"), "0500"
	case h < 17:
		return now.Format("20060102"), "1100"
	case h < 23:
		return now.Format("20060102"), "1700"
	default:
		return now.Format("20060102"), "2300"
	}
}
