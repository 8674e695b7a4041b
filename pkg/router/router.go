// Package router applies mappings on the source side of a connection.
//
// A device owns one Router. For every local output it keeps the mappings
// that originate there, and for every destination device the data address
// values are sent to. Routing a sample runs each mapping's transform
// (mode, clipping, coercion) element-wise and emits one message per
// surviving mapping, addressed to the destination signal.
package router

import (
	"cmp"
	"fmt"
	"iter"
	"maps"
	"net"
	"slices"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/osc"
	"github.com/backkem/mapper/pkg/protocol"
	"github.com/backkem/mapper/pkg/value"
	"github.com/pion/logging"
)

// SendFunc transmits a routed message to a destination device.
type SendFunc func(msg *osc.Message, addr net.Addr) error

// Config configures a Router.
type Config struct {
	// LoggerFactory for router logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Router holds the outgoing mappings of one device.
type Router struct {
	log logging.LeveledLogger

	// mappings is keyed by full source name, then full destination name.
	mappings map[string]map[string]*Mapping
	// dests holds the data address of each destination device.
	dests map[string]net.Addr
}

// New creates an empty Router.
func New(config Config) *Router {
	r := &Router{
		mappings: make(map[string]map[string]*Mapping),
		dests:    make(map[string]net.Addr),
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("router")
	}
	return r
}

// SetDestination records the data address of a destination device.
func (r *Router) SetDestination(device string, addr net.Addr) {
	r.dests[device] = addr
}

// Destination returns the data address of a destination device.
func (r *Router) Destination(device string) (net.Addr, bool) {
	addr, ok := r.dests[device]
	return addr, ok
}

// Add routes a new mapping. The record's type and length fields are filled
// from src and dest. newLink is true when this is the first mapping to the
// destination device.
func (r *Router) Add(rec *db.MappingRecord, src, dest SignalInfo) (m *Mapping, newLink bool, err error) {
	if !src.Type.IsNumeric() || !dest.Type.IsNumeric() {
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrNotNumeric, src.Type, dest.Type)
	}
	if src.Length != dest.Length {
		if r.log != nil {
			r.log.Warnf("Rejecting mapping %s -> %s: lengths %d and %d differ",
				rec.SrcName, rec.DestName, src.Length, dest.Length)
		}
		return nil, false, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, src.Length, dest.Length)
	}
	if r.Get(rec.SrcName, rec.DestName) != nil {
		return nil, false, ErrMappingExists
	}

	newLink = r.LinkMappings(rec.DestDevice()) == 0

	m = &Mapping{rec: rec.Clone(), src: src, dest: dest}
	m.rec.SrcType, m.rec.SrcLength = src.Type, src.Length
	m.rec.DestType, m.rec.DestLength = dest.Type, dest.Length
	m.checkExpression(r.log)

	bySrc := r.mappings[rec.SrcName]
	if bySrc == nil {
		bySrc = make(map[string]*Mapping)
		r.mappings[rec.SrcName] = bySrc
	}
	bySrc[rec.DestName] = m
	return m, newLink, nil
}

// Get returns the mapping src -> dest, or nil.
func (r *Router) Get(src, dest string) *Mapping {
	return r.mappings[src][dest]
}

// Modify applies opts to the mapping src -> dest. It returns nil if the
// mapping does not exist.
func (r *Router) Modify(src, dest string, opts protocol.MappingOptions) (m *Mapping, changed bool) {
	m = r.Get(src, dest)
	if m == nil {
		return nil, false
	}
	oldMode := m.rec.Mode
	changed = opts.Apply(m.rec)
	if m.rec.Mode == db.ModeCalibrate && oldMode != db.ModeCalibrate {
		m.calibrated = false
	}
	m.checkExpression(r.log)
	return m, changed
}

// Remove drops the mapping src -> dest. linkGone is true when it was the
// last mapping to the destination device; the destination address is
// forgotten in that case.
func (r *Router) Remove(src, dest string) (removed, linkGone bool) {
	bySrc := r.mappings[src]
	if _, ok := bySrc[dest]; !ok {
		return false, false
	}
	delete(bySrc, dest)
	if len(bySrc) == 0 {
		delete(r.mappings, src)
	}
	device := db.DeviceOf(dest)
	if r.LinkMappings(device) == 0 {
		delete(r.dests, device)
		return true, true
	}
	return true, false
}

// RemoveSource drops every mapping that starts at src and returns the
// destination devices that lost their last mapping.
func (r *Router) RemoveSource(src string) (removed []*db.MappingRecord, linksGone []string) {
	for _, dest := range slices.Sorted(maps.Keys(r.mappings[src])) {
		removed = append(removed, r.mappings[src][dest].Record())
		if _, gone := r.Remove(src, dest); gone {
			linksGone = append(linksGone, db.DeviceOf(dest))
		}
	}
	return removed, linksGone
}

// RemoveDest drops every mapping that ends at dest and returns the
// destination devices that lost their last mapping.
func (r *Router) RemoveDest(dest string) (removed []*db.MappingRecord, linksGone []string) {
	for _, src := range slices.Sorted(maps.Keys(r.mappings)) {
		m := r.mappings[src][dest]
		if m == nil {
			continue
		}
		removed = append(removed, m.Record())
		if _, gone := r.Remove(src, dest); gone {
			linksGone = append(linksGone, db.DeviceOf(dest))
		}
	}
	return removed, linksGone
}

// LinkMappings returns the number of mappings to a destination device.
func (r *Router) LinkMappings(device string) int {
	n := 0
	for _, bySrc := range r.mappings {
		for dest := range bySrc {
			if db.DeviceOf(dest) == device {
				n++
			}
		}
	}
	return n
}

// Links returns the destination devices with at least one mapping, sorted.
func (r *Router) Links() []string {
	seen := make(map[string]struct{})
	for _, bySrc := range r.mappings {
		for dest := range bySrc {
			seen[db.DeviceOf(dest)] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// All iterates over every mapping ordered by source, then destination.
func (r *Router) All() iter.Seq[*Mapping] {
	var all []*Mapping
	for _, bySrc := range r.mappings {
		for _, m := range bySrc {
			all = append(all, m)
		}
	}
	slices.SortFunc(all, func(a, b *Mapping) int {
		return cmp.Or(cmp.Compare(a.rec.SrcName, b.rec.SrcName), cmp.Compare(a.rec.DestName, b.rec.DestName))
	})
	return slices.Values(all)
}

// Len returns the number of mappings.
func (r *Router) Len() int {
	n := 0
	for _, bySrc := range r.mappings {
		n += len(bySrc)
	}
	return n
}

// SetSourceBounds updates the source bounds used by linear mappings that
// leave their source range unspecified.
func (r *Router) SetSourceBounds(src string, minimum, maximum value.Value) {
	for _, m := range r.mappings[src] {
		m.src.Minimum, m.src.Maximum = minimum, maximum
	}
}

// SetDestBounds updates the destination bounds of every mapping that ends
// at dest. They feed linear scaling and clipping when the mapping leaves
// its destination range unspecified.
func (r *Router) SetDestBounds(dest string, minimum, maximum value.Value) {
	for _, bySrc := range r.mappings {
		if m := bySrc[dest]; m != nil {
			m.dest.Minimum, m.dest.Maximum = minimum, maximum
		}
	}
}

// Recalibrated returns the mappings whose range calibrate mode widened
// since the last call.
func (r *Router) Recalibrated() []*db.MappingRecord {
	var recs []*db.MappingRecord
	for m := range r.All() {
		if m.recalibrated {
			m.recalibrated = false
			recs = append(recs, m.Record())
		}
	}
	return recs
}

// Query asks the destination of every mapping that starts at src for its
// current value. Replies are addressed to reply on the local data port.
// It returns the number of queries sent.
func (r *Router) Query(src, reply string, send SendFunc) int {
	sent := 0
	for _, dest := range slices.Sorted(maps.Keys(r.mappings[src])) {
		addr, ok := r.dests[db.DeviceOf(dest)]
		if !ok {
			continue
		}
		msg := osc.NewMessage(db.SignalOf(dest)+protocol.SuffixGet, reply)
		if err := send(msg, addr); err != nil {
			if r.log != nil {
				r.log.Warnf("Failed to query %s at %v: %v", dest, addr, err)
			}
			continue
		}
		sent++
	}
	return sent
}

// Route sends vals, the new value of the output src, through every mapping
// that starts there. It returns the number of messages sent. Mappings whose
// destination address is unknown are skipped.
func (r *Router) Route(src string, vals []value.Value, send SendFunc) int {
	bySrc := r.mappings[src]
	if len(bySrc) == 0 {
		return 0
	}
	sent := 0
	for _, dest := range slices.Sorted(maps.Keys(bySrc)) {
		m := bySrc[dest]
		out, ok := m.Transform(vals)
		if !ok {
			continue
		}
		addr, ok := r.dests[db.DeviceOf(dest)]
		if !ok {
			if r.log != nil {
				r.log.Debugf("No address for %s, dropping sample", dest)
			}
			continue
		}
		msg := &osc.Message{Address: db.SignalOf(dest), Args: out}
		if err := send(msg, addr); err != nil {
			if r.log != nil {
				r.log.Warnf("Failed to send %s to %v: %v", dest, addr, err)
			}
			continue
		}
		sent++
	}
	return sent
}

// Mapping is one routed connection.
type Mapping struct {
	rec  *db.MappingRecord
	src  SignalInfo
	dest SignalInfo

	// calibrated is set once calibrate mode has seen its first sample.
	calibrated bool

	// recalibrated is set when calibrate mode moved the source range.
	recalibrated bool
}

// Record returns a copy of the mapping's properties.
func (m *Mapping) Record() *db.MappingRecord {
	return m.rec.Clone()
}

func (m *Mapping) checkExpression(log logging.LeveledLogger) {
	if log != nil && m.rec.Mode == db.ModeExpression && !IsIdentityExpression(m.rec.Expression) {
		log.Warnf("Expression %q on %s -> %s is not evaluated; passing values through",
			m.rec.Expression, m.rec.SrcName, m.rec.DestName)
	}
}

// Transform applies the mapping to one sample. ok is false when nothing
// should be sent: the mapping is muted, an element was muted by clipping,
// or the sample does not fit the destination.
func (m *Mapping) Transform(in []value.Value) (out []value.Value, ok bool) {
	if m.rec.Muted || len(in) != m.dest.Length {
		return nil, false
	}
	lo, haveLo := bound(m.rec.Range, 2, m.dest.Minimum)
	hi, haveHi := bound(m.rec.Range, 3, m.dest.Maximum)

	out = make([]value.Value, len(in))
	for i, v := range in {
		x, isNum := v.Float64()
		if !isNum {
			return nil, false
		}
		y, keep := clip(m.apply(x), m.rec.ClipMin, m.rec.ClipMax, lo, hi, haveLo, haveHi)
		if !keep {
			return nil, false
		}
		var err error
		if out[i], err = value.Float64(y).Coerce(m.dest.Type); err != nil {
			return nil, false
		}
	}
	return out, true
}

func (m *Mapping) apply(x float64) float64 {
	switch m.rec.Mode {
	case db.ModeLinear:
		return m.linear(x)
	case db.ModeCalibrate:
		m.calibrate(x)
		return m.linear(x)
	default:
		// Raw, undefined and expression mode pass values through.
		return x
	}
}

func (m *Mapping) linear(x float64) float64 {
	sMin, ok0 := bound(m.rec.Range, 0, m.src.Minimum)
	sMax, ok1 := bound(m.rec.Range, 1, m.src.Maximum)
	dMin, ok2 := bound(m.rec.Range, 2, m.dest.Minimum)
	dMax, ok3 := bound(m.rec.Range, 3, m.dest.Maximum)
	if !ok0 || !ok1 || !ok2 || !ok3 {
		return x
	}
	return scale(x, sMin, sMax, dMin, dMax)
}

// calibrate widens the source range to include x.
func (m *Mapping) calibrate(x float64) {
	if !m.calibrated {
		m.rec.Range[0], m.rec.Range[1] = value.Float64(x), value.Float64(x)
		m.calibrated, m.recalibrated = true, true
		return
	}
	if lo, _ := m.rec.Range[0].Float64(); x < lo {
		m.rec.Range[0] = value.Float64(x)
		m.recalibrated = true
	}
	if hi, _ := m.rec.Range[1].Float64(); x > hi {
		m.rec.Range[1] = value.Float64(x)
		m.recalibrated = true
	}
}
