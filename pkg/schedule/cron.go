package schedule

import "time"

// HourlyCron is the expression schedules fall back to when the stored one
// is not in the vocabulary.
const HourlyCron = "0 * * * *"

// cronVocabulary is the closed set of accepted expressions. Richer cron
// syntax is deliberately unsupported so timers stay coarse and predictable.
var cronVocabulary = map[string]struct{}{
	"* * * * *":    {},
	"*/5 * * * *":  {},
	"*/15 * * * *": {},
	"*/30 * * * *": {},
	HourlyCron:     {},
	"0 */6 * * *":  {},
	"0 0 * * *":    {},
}

// KnownCron reports whether expr is in the supported vocabulary.
func KnownCron(expr string) bool {
	_, ok := cronVocabulary[expr]
	return ok
}

// nextAfter computes the first tick of a vocabulary expression strictly
// after t. Boundaries are UTC, matching the scheduler's clock; unknown
// expressions get the hourly fallback.
func nextAfter(expr string, t time.Time) time.Time {
	t = t.UTC()
	var period time.Duration
	switch expr {
	case "* * * * *":
		period = time.Minute
	case "*/5 * * * *":
		period = 5 * time.Minute
	case "*/15 * * * *":
		period = 15 * time.Minute
	case "*/30 * * * *":
		period = 30 * time.Minute
	case "0 */6 * * *":
		period = 6 * time.Hour
	case "0 0 * * *":
		period = 24 * time.Hour
	default:
		period = time.Hour
	}
	return t.Truncate(period).Add(period)
}
