package protocol

import (
	"fmt"
	"strings"

	"github.com/backkem/mapper/pkg/osc"
)

// Bus message addresses.
const (
	PathNameClaim      = "/name/probe"
	PathNameRegistered = "/name/registered"
	PathWho            = "/who"
	PathDevice         = "/device"
	PathLogout         = "/logout"
	PathSignal         = "/signal"
	PathSignalRemoved  = "/signal/removed"
	PathConnect        = "/connect"
	PathConnectTo      = "/connectTo"
	PathConnected      = "/connected"
	PathModify         = "/connection/modify"
	PathDisconnect     = "/disconnect"
	PathDisconnected   = "/disconnected"
	PathLinked         = "/linked"
	PathUnlinked       = "/unlinked"
)

// Per-device request suffixes. A request is addressed to
// "<device name><suffix>", e.g. "/test.1/signals/get".
const (
	SuffixSignalsGet     = "/signals/get"
	SuffixLinksGet       = "/links/get"
	SuffixConnectionsGet = "/connections/get"
)

// Data port query suffixes. "<signal>/get" asks an input for its value,
// which comes back to the address named in the query's argument,
// conventionally "<output>/got".
const (
	SuffixGet = "/get"
	SuffixGot = "/got"
)

var requestSuffixes = []string{SuffixSignalsGet, SuffixLinksGet, SuffixConnectionsGet}

// RequestPath returns the address of a per-device request.
func RequestPath(device, suffix string) string {
	return device + suffix
}

// SplitRequest splits a per-device request address into the device name and
// the request suffix. ok is false if addr is not a per-device request.
func SplitRequest(addr string) (device, suffix string, ok bool) {
	for _, s := range requestSuffixes {
		if d, found := strings.CutSuffix(addr, s); found && len(d) > 1 && d[0] == '/' {
			return d, s, true
		}
	}
	return "", "", false
}

// StringArgs returns the first n arguments of msg, which must be strings.
func StringArgs(msg *osc.Message, n int) ([]string, error) {
	if len(msg.Args) < n {
		return nil, fmt.Errorf("%w: %s wants %d arguments, got %d", ErrMalformed, msg.Address, n, len(msg.Args))
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		s, ok := msg.Args[i].Text()
		if !ok {
			return nil, fmt.Errorf("%w: %s argument %d is %s, want string", ErrMalformed, msg.Address, i, msg.Args[i].Type())
		}
		out[i] = s
	}
	return out, nil
}

// ClaimMessage builds a name claim.
func ClaimMessage(name, nonce string) *osc.Message {
	return osc.NewMessage(PathNameClaim, name, nonce)
}

// RegisteredMessage builds a name registration notice.
func RegisteredMessage(name string) *osc.Message {
	return osc.NewMessage(PathNameRegistered, name)
}
