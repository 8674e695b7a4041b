package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of all bridge topics.
const DefaultTopicPrefix = "mapper"

// Topics builds bridge topic names under a prefix.
type Topics struct {
	Prefix string
}

// Status returns the bridge status topic.
//
// Example: mapper/status
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// Device returns the topic of a device record.
//
// Example: mapper/device/test.1
func (t Topics) Device(name string) string {
	return fmt.Sprintf("%s/device/%s", t.Prefix, trim(name))
}

// Signal returns the topic of a signal record.
//
// Example: mapper/signal/test.1/freq
func (t Topics) Signal(device, signal string) string {
	return fmt.Sprintf("%s/signal/%s/%s", t.Prefix, trim(device), trim(signal))
}

// Link returns the topic of a link record.
//
// Example: mapper/link/testsend.1/testrecv.1
func (t Topics) Link(src, dest string) string {
	return fmt.Sprintf("%s/link/%s/%s", t.Prefix, trim(src), trim(dest))
}

// Mapping returns the topic of a mapping record. Signal names may contain
// slashes, so mappings are keyed by ID.
//
// Example: mapper/mapping/1f2e3d4c5b6a7988
func (t Topics) Mapping(id uint64) string {
	return fmt.Sprintf("%s/mapping/%016x", t.Prefix, id)
}

func trim(name string) string {
	return strings.TrimPrefix(name, "/")
}
