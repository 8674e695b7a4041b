package mapper

import "time"

// pollSlice is how long PollUntil lets each poller wait per round.
const pollSlice = time.Millisecond

// Poller is implemented by Device and Monitor.
type Poller interface {
	Poll(timeout time.Duration) int
}

// PollUntil polls every poller in turn until cond returns true or timeout
// elapses, and returns the last result of cond.
func PollUntil(timeout time.Duration, cond func() bool, pollers ...Poller) bool {
	deadline := time.Now().Add(timeout)
	for {
		for _, p := range pollers {
			p.Poll(pollSlice)
		}
		if cond() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
	}
}
