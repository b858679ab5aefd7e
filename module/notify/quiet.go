package notify

import (
	"time"

	"chatsync/logger"
)

// IsInQuietHours checks containment of now in the [start,end) window,
// all three as "HH:MM:SS" strings compared lexically. A window whose
// start sorts after its end spans midnight, so containment flips to
// either side of it. Boundary equality at start counts as inside.
func IsInQuietHours(now, start, end string) bool {
	if start > end { // overnight window, e.g. 22:00 -> 08:00
		return now >= start || now < end
	}
	return start <= now && now < end
}

// InQuietHours evaluates the preference's window at the given instant
// in the user's configured timezone. An invalid timezone disables
// quiet hours rather than guessing an offset.
func InQuietHours(p *Preference, at time.Time) bool {
	if p == nil || !p.QuietHoursEnabled {
		return false
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		logger.Warnf("[notify] invalid timezone %q for user=%s, quiet hours disabled", p.Timezone, p.UserID)
		return false
	}
	now := at.In(loc).Format("15:04:05")
	return IsInQuietHours(now, p.QuietHoursStart, p.QuietHoursEnd)
}
