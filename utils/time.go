package utils

import "time"

// Elapsed renders the time since start rounded to the second.
func Elapsed(start time.Time) string {
	return time.Since(start).Round(time.Second).String()
}
