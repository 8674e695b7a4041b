package transport

import "time"

// waitSlice bounds how long Poll blocks on one endpoint while others may
// have data pending.
const waitSlice = 2 * time.Millisecond

// Poll reads from the given endpoints and calls handler for each datagram.
//
// It first drains everything already queued. If nothing was queued it waits
// up to timeout for the first datagram, then drains again and returns.
// At most max datagrams are handled (max <= 0 means no limit). Read errors
// are passed to onError (if non-nil) and otherwise ignored; Poll always
// returns the number of datagrams handled.
func Poll(timeout time.Duration, max int, handler MessageHandler, onError func(*UDP, error), endpoints ...*UDP) int {
	deadline := time.Now().Add(timeout)
	count := 0
	turn := 0

	full := func() bool { return max > 0 && count >= max }

	for !full() {
		if drained := drain(max, &count, handler, onError, endpoints); drained > 0 {
			continue
		}
		if count > 0 {
			return count
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || len(endpoints) == 0 {
			return count
		}
		wait := remaining
		if len(endpoints) > 1 && wait > waitSlice {
			wait = waitSlice
		}

		ep := endpoints[turn%len(endpoints)]
		turn++
		msg, err := ep.Receive(wait)
		if err != nil {
			report(onError, ep, err)
			// A dead socket would spin for the whole timeout; give up.
			if err == ErrClosed {
				return count
			}
			continue
		}
		if msg != nil {
			handler(msg)
			count++
		}
	}
	return count
}

// drain handles every datagram already queued on the endpoints.
func drain(max int, count *int, handler MessageHandler, onError func(*UDP, error), endpoints []*UDP) int {
	handled := 0
	for _, ep := range endpoints {
		for max <= 0 || *count < max {
			msg, err := ep.Receive(0)
			if err != nil {
				report(onError, ep, err)
				break
			}
			if msg == nil {
				break
			}
			handler(msg)
			*count++
			handled++
		}
	}
	return handled
}

func report(onError func(*UDP, error), ep *UDP, err error) {
	if onError != nil {
		onError(ep, err)
	}
}
