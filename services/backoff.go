package services

import "time"

// retryBackoff doubles base for every failed attempt and caps the result at max.
func retryBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if attempt > 30 {
		return max
	}
	d := base << (attempt - 1)
	if d <= 0 || d > max {
		return max
	}
	return d
}
