package mapper

import (
	"testing"

	"go.uber.org/goleak"
)

// Devices and monitors never start goroutines; everything runs in Poll.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
