package db

import "slices"

// CallbackID identifies one callback registration.
type CallbackID uint64

// DeviceCallback is invoked when a device record changes.
type DeviceCallback func(rec *DeviceRecord, action Action)

// SignalCallback is invoked when a signal record changes.
type SignalCallback func(rec *SignalRecord, action Action)

// LinkCallback is invoked when a link record changes.
type LinkCallback func(rec *LinkRecord, action Action)

// MappingCallback is invoked when a mapping record changes.
type MappingCallback func(rec *MappingRecord, action Action)

type registration[F any] struct {
	id CallbackID
	fn F
}

// registry keeps callbacks in registration order. The same function may be
// registered more than once; each registration has its own ID.
type registry[F any] struct {
	entries []registration[F]
}

func (r *registry[F]) add(id CallbackID, fn F) {
	r.entries = append(r.entries, registration[F]{id: id, fn: fn})
}

func (r *registry[F]) remove(id CallbackID) bool {
	i := slices.IndexFunc(r.entries, func(e registration[F]) bool { return e.id == id })
	if i < 0 {
		return false
	}
	r.entries = slices.Delete(r.entries, i, i+1)
	return true
}

// snapshot returns the callbacks to run for one event, so registrations
// made or removed by a callback take effect from the next event.
func (r *registry[F]) snapshot() []F {
	out := make([]F, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.fn
	}
	return out
}

func (r *registry[F]) len() int { return len(r.entries) }
