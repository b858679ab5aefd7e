package offline

import "time"

// Entry is one queued payload waiting for a device to come back.
// Payload is the exact frame the device would have received live, so
// replay is byte-for-byte identical to a live emit.
type Entry struct {
	ID          string
	UserID      string
	DeviceID    string
	Payload     []byte
	Attempts    int
	MaxAttempts int
	QueuedAt    time.Time
	NextRetryAt time.Time
	DeliveredAt *time.Time
}

// Failed reports whether the entry has exhausted its retry budget.
func (e *Entry) Failed() bool {
	return e.Attempts >= e.MaxAttempts
}

// backoff schedule for retries; attempts past the table reuse the
// last interval.
var backoff = []time.Duration{1 * time.Minute, 5 * time.Minute, 15 * time.Minute}

// NextBackoff returns the delay before retry number attempt (1-based).
func NextBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(backoff) {
		attempt = len(backoff)
	}
	return backoff[attempt-1]
}
