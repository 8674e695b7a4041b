package mapper

// DeviceState represents the lifecycle state of a Device.
type DeviceState int

const (
	// DeviceStateAllocating means the device is probing for a unique name.
	DeviceStateAllocating DeviceState = iota

	// DeviceStateReady means the name is allocated and the device is
	// announced on the bus.
	DeviceStateReady

	// DeviceStateClosed means Close has been called.
	DeviceStateClosed
)

// String returns a human-readable name for the state.
func (s DeviceState) String() string {
	switch s {
	case DeviceStateAllocating:
		return "Allocating"
	case DeviceStateReady:
		return "Ready"
	case DeviceStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// IsReady returns true once the device has a name.
func (s DeviceState) IsReady() bool {
	return s == DeviceStateReady
}
