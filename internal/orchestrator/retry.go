package orchestrator

import "time"

// backoffDelay returns the exponential backoff delay for attempt
// (0-indexed), capped at maxBackoff, per spec §4.6: "retried immediately
// up to per_stage_retries, with exponential backoff capped at
// max_backoff."
func backoffDelay(attempt int, base, maxBackoff time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base * time.Duration(1<<uint(attempt))
	if maxBackoff > 0 && d > maxBackoff {
		return maxBackoff
	}
	return d
}
