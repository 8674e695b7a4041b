package db

import (
	"cmp"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/pion/logging"
)

// Config configures a Database.
type Config struct {
	// LoggerFactory for database logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory

	// OnCallbackPanic is called after a callback panic has been recovered.
	OnCallbackPanic func(recovered any)
}

type pair struct {
	src, dest string
}

// Database mirrors the devices, signals, links and mappings seen on the
// network.
type Database struct {
	log     logging.LeveledLogger
	onPanic func(any)

	devices  map[string]*DeviceRecord
	inputs   map[string]*SignalRecord
	outputs  map[string]*SignalRecord
	links    map[pair]*LinkRecord
	mappings map[pair]*MappingRecord

	nextID      CallbackID
	deviceCBs   registry[DeviceCallback]
	signalCBs   registry[SignalCallback]
	linkCBs     registry[LinkCallback]
	mappingCBs  registry[MappingCallback]
	panicsTotal int
}

// New creates an empty Database.
func New(config Config) *Database {
	d := &Database{
		onPanic:  config.OnCallbackPanic,
		devices:  make(map[string]*DeviceRecord),
		inputs:   make(map[string]*SignalRecord),
		outputs:  make(map[string]*SignalRecord),
		links:    make(map[pair]*LinkRecord),
		mappings: make(map[pair]*MappingRecord),
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("db")
	}
	return d
}

// Counts summarizes the database size.
type Counts struct {
	Devices  int
	Inputs   int
	Outputs  int
	Links    int
	Mappings int
}

// Counts returns the number of records of each kind.
func (d *Database) Counts() Counts {
	return Counts{
		Devices:  len(d.devices),
		Inputs:   len(d.inputs),
		Outputs:  len(d.outputs),
		Links:    len(d.links),
		Mappings: len(d.mappings),
	}
}

// CallbackPanics returns the number of callback panics recovered so far.
func (d *Database) CallbackPanics() int {
	return d.panicsTotal
}

// ---------------------------------------------------------------------------
// Callback registration

func (d *Database) newID() CallbackID {
	d.nextID++
	return d.nextID
}

// AddDeviceCallback registers fn and returns its registration ID.
func (d *Database) AddDeviceCallback(fn DeviceCallback) CallbackID {
	id := d.newID()
	d.deviceCBs.add(id, fn)
	return id
}

// RemoveDeviceCallback removes one registration. Unknown IDs are ignored.
func (d *Database) RemoveDeviceCallback(id CallbackID) {
	d.deviceCBs.remove(id)
}

// AddSignalCallback registers fn and returns its registration ID.
func (d *Database) AddSignalCallback(fn SignalCallback) CallbackID {
	id := d.newID()
	d.signalCBs.add(id, fn)
	return id
}

// RemoveSignalCallback removes one registration. Unknown IDs are ignored.
func (d *Database) RemoveSignalCallback(id CallbackID) {
	d.signalCBs.remove(id)
}

// AddLinkCallback registers fn and returns its registration ID.
func (d *Database) AddLinkCallback(fn LinkCallback) CallbackID {
	id := d.newID()
	d.linkCBs.add(id, fn)
	return id
}

// RemoveLinkCallback removes one registration. Unknown IDs are ignored.
func (d *Database) RemoveLinkCallback(id CallbackID) {
	d.linkCBs.remove(id)
}

// AddMappingCallback registers fn and returns its registration ID.
func (d *Database) AddMappingCallback(fn MappingCallback) CallbackID {
	id := d.newID()
	d.mappingCBs.add(id, fn)
	return id
}

// RemoveMappingCallback removes one registration. Unknown IDs are ignored.
func (d *Database) RemoveMappingCallback(id CallbackID) {
	d.mappingCBs.remove(id)
}

// guard runs fn and recovers a panic raised by a callback.
func (d *Database) guard(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.panicsTotal++
			if d.log != nil {
				d.log.Errorf("Recovered panic in %s callback: %v", kind, r)
			}
			if d.onPanic != nil {
				d.onPanic(r)
			}
		}
	}()
	fn()
}

func (d *Database) fireDevice(rec *DeviceRecord, action Action) {
	for _, fn := range d.deviceCBs.snapshot() {
		d.guard("device", func() { fn(rec.Clone(), action) })
	}
}

func (d *Database) fireSignal(rec *SignalRecord, action Action) {
	for _, fn := range d.signalCBs.snapshot() {
		d.guard("signal", func() { fn(rec.Clone(), action) })
	}
}

func (d *Database) fireLink(rec *LinkRecord, action Action) {
	for _, fn := range d.linkCBs.snapshot() {
		d.guard("link", func() { fn(rec.Clone(), action) })
	}
}

func (d *Database) fireMapping(rec *MappingRecord, action Action) {
	for _, fn := range d.mappingCBs.snapshot() {
		d.guard("mapping", func() { fn(rec.Clone(), action) })
	}
}

// ---------------------------------------------------------------------------
// Updates

// UpdateDevice stores rec. It returns ActionNew for an unknown device and
// ActionModify otherwise; changed is false when the stored record already
// matched, in which case no callback fires.
func (d *Database) UpdateDevice(rec *DeviceRecord) (action Action, changed bool) {
	old, ok := d.devices[rec.Name]
	if ok && old.Equal(rec) {
		return ActionModify, false
	}
	action = ActionModify
	if !ok {
		action = ActionNew
	}
	stored := rec.Clone()
	d.devices[rec.Name] = stored
	if d.log != nil {
		d.log.Debugf("Device %s: %s", action, rec.Name)
	}
	d.fireDevice(stored, action)
	return action, true
}

// RemoveDevice removes a device together with its signals, the mappings
// that touch it and its links. It returns false if the device is unknown.
func (d *Database) RemoveDevice(name string) bool {
	rec, ok := d.devices[name]
	if !ok {
		return false
	}
	for _, m := range d.sortedMappings(func(m *MappingRecord) bool {
		return m.SrcDevice() == name || m.DestDevice() == name
	}) {
		d.RemoveMapping(m.SrcName, m.DestName)
	}
	for _, l := range d.sortedLinks(func(l *LinkRecord) bool {
		return l.SrcName == name || l.DestName == name
	}) {
		d.RemoveLink(l.SrcName, l.DestName)
	}
	for _, s := range d.signalsOf(name) {
		d.RemoveSignal(s.FullName())
	}
	delete(d.devices, name)
	if d.log != nil {
		d.log.Debugf("Device removed: %s", name)
	}
	d.fireDevice(rec, ActionRemove)
	return true
}

// UpdateSignal stores rec, keyed by its full name. A signal that changes
// direction moves between the input and output tables.
func (d *Database) UpdateSignal(rec *SignalRecord) (action Action, changed bool) {
	full := rec.FullName()
	table, other := d.inputs, d.outputs
	if rec.IsOutput() {
		table, other = d.outputs, d.inputs
	}
	old, ok := table[full]
	if !ok {
		old, ok = other[full]
		delete(other, full)
	}
	if ok && old.Equal(rec) {
		return ActionModify, false
	}
	action = ActionModify
	if !ok {
		action = ActionNew
	}
	stored := rec.Clone()
	table[full] = stored
	d.fireSignal(stored, action)
	return action, true
}

// RemoveSignal removes a signal and every mapping that uses it.
func (d *Database) RemoveSignal(fullName string) bool {
	rec, ok := d.inputs[fullName]
	if ok {
		delete(d.inputs, fullName)
	} else if rec, ok = d.outputs[fullName]; ok {
		delete(d.outputs, fullName)
	} else {
		return false
	}
	for _, m := range d.sortedMappings(func(m *MappingRecord) bool {
		return m.SrcName == fullName || m.DestName == fullName
	}) {
		d.RemoveMapping(m.SrcName, m.DestName)
	}
	d.fireSignal(rec, ActionRemove)
	return true
}

// UpdateLink stores a link. Links carry no properties, so an existing link
// is left untouched and changed is false.
func (d *Database) UpdateLink(src, dest string) (action Action, changed bool) {
	key := pair{src, dest}
	if _, ok := d.links[key]; ok {
		return ActionModify, false
	}
	rec := NewLinkRecord(src, dest)
	d.links[key] = rec
	d.fireLink(rec, ActionNew)
	return ActionNew, true
}

// RemoveLink removes a link and every mapping between its devices.
func (d *Database) RemoveLink(src, dest string) bool {
	key := pair{src, dest}
	rec, ok := d.links[key]
	if !ok {
		return false
	}
	// Drop the link first so RemoveMapping does not remove it again.
	delete(d.links, key)
	for _, m := range d.sortedMappings(func(m *MappingRecord) bool {
		return m.SrcDevice() == src && m.DestDevice() == dest
	}) {
		d.RemoveMapping(m.SrcName, m.DestName)
	}
	d.fireLink(rec, ActionRemove)
	return true
}

// UpdateMapping stores rec. The link between the two devices is created
// first if it does not exist yet.
func (d *Database) UpdateMapping(rec *MappingRecord) (action Action, changed bool) {
	key := pair{rec.SrcName, rec.DestName}
	stored := rec.Clone()
	stored.ID = PairID(rec.SrcName, rec.DestName)
	old, ok := d.mappings[key]
	if ok && old.Equal(stored) {
		return ActionModify, false
	}
	action = ActionModify
	if !ok {
		action = ActionNew
		d.UpdateLink(rec.SrcDevice(), rec.DestDevice())
	}
	d.mappings[key] = stored
	d.fireMapping(stored, action)
	return action, true
}

// RemoveMapping removes a mapping. When it was the last mapping between its
// two devices, the link is removed as well.
func (d *Database) RemoveMapping(src, dest string) bool {
	key := pair{src, dest}
	rec, ok := d.mappings[key]
	if !ok {
		return false
	}
	delete(d.mappings, key)
	d.fireMapping(rec, ActionRemove)

	srcDev, destDev := rec.SrcDevice(), rec.DestDevice()
	if _, linked := d.links[pair{srcDev, destDev}]; linked {
		remaining := d.sortedMappings(func(m *MappingRecord) bool {
			return m.SrcDevice() == srcDev && m.DestDevice() == destDev
		})
		if len(remaining) == 0 {
			d.RemoveLink(srcDev, destDev)
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Queries

// normalizeDevice adds the leading slash to a bare device name.
func normalizeDevice(name string) string {
	if name != "" && name[0] != '/' {
		return "/" + name
	}
	return name
}

func (d *Database) sortedDevices(match func(*DeviceRecord) bool) []*DeviceRecord {
	var out []*DeviceRecord
	for _, name := range slices.Sorted(maps.Keys(d.devices)) {
		if rec := d.devices[name]; match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func sortedSignals(table map[string]*SignalRecord, match func(*SignalRecord) bool) []*SignalRecord {
	var out []*SignalRecord
	for _, name := range slices.Sorted(maps.Keys(table)) {
		if rec := table[name]; match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (d *Database) signalsOf(device string) []*SignalRecord {
	match := func(s *SignalRecord) bool { return s.DeviceName == device }
	return append(sortedSignals(d.inputs, match), sortedSignals(d.outputs, match)...)
}

func comparePair(a, b pair) int {
	return cmp.Or(cmp.Compare(a.src, b.src), cmp.Compare(a.dest, b.dest))
}

func (d *Database) sortedLinks(match func(*LinkRecord) bool) []*LinkRecord {
	var out []*LinkRecord
	for _, key := range slices.SortedFunc(maps.Keys(d.links), comparePair) {
		if rec := d.links[key]; match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (d *Database) sortedMappings(match func(*MappingRecord) bool) []*MappingRecord {
	var out []*MappingRecord
	for _, key := range slices.SortedFunc(maps.Keys(d.mappings), comparePair) {
		if rec := d.mappings[key]; match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// clones turns a result slice into a restartable sequence of copies.
func clones[T interface{ Clone() T }](recs []T) iter.Seq[T] {
	out := make([]T, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return slices.Values(out)
}

func all[T any](T) bool { return true }

// AllDevices returns every device ordered by name.
func (d *Database) AllDevices() iter.Seq[*DeviceRecord] {
	return clones(d.sortedDevices(all))
}

// AllInputs returns every input signal ordered by full name.
func (d *Database) AllInputs() iter.Seq[*SignalRecord] {
	return clones(sortedSignals(d.inputs, all))
}

// AllOutputs returns every output signal ordered by full name.
func (d *Database) AllOutputs() iter.Seq[*SignalRecord] {
	return clones(sortedSignals(d.outputs, all))
}

// AllLinks returns every link ordered by source, then destination.
func (d *Database) AllLinks() iter.Seq[*LinkRecord] {
	return clones(d.sortedLinks(all))
}

// AllMappings returns every mapping ordered by source, then destination.
func (d *Database) AllMappings() iter.Seq[*MappingRecord] {
	return clones(d.sortedMappings(all))
}

// DeviceByName returns the named device, or nil. The leading slash may be
// omitted.
func (d *Database) DeviceByName(name string) *DeviceRecord {
	if rec, ok := d.devices[normalizeDevice(name)]; ok {
		return rec.Clone()
	}
	return nil
}

// MatchDevicesByName returns the devices whose name contains substr.
func (d *Database) MatchDevicesByName(substr string) iter.Seq[*DeviceRecord] {
	return clones(d.sortedDevices(func(rec *DeviceRecord) bool {
		return strings.Contains(rec.Name, substr)
	}))
}

// SignalByFullName returns the input or output with the given full name,
// or nil.
func (d *Database) SignalByFullName(fullName string) *SignalRecord {
	if rec, ok := d.inputs[fullName]; ok {
		return rec.Clone()
	}
	if rec, ok := d.outputs[fullName]; ok {
		return rec.Clone()
	}
	return nil
}

// InputsByDeviceName returns the inputs of a device.
func (d *Database) InputsByDeviceName(device string) iter.Seq[*SignalRecord] {
	return d.MatchInputsByDeviceName(device, "")
}

// OutputsByDeviceName returns the outputs of a device.
func (d *Database) OutputsByDeviceName(device string) iter.Seq[*SignalRecord] {
	return d.MatchOutputsByDeviceName(device, "")
}

// MatchInputsByDeviceName returns the inputs of a device whose signal name
// contains substr.
func (d *Database) MatchInputsByDeviceName(device, substr string) iter.Seq[*SignalRecord] {
	return clones(sortedSignals(d.inputs, signalMatcher(device, substr)))
}

// MatchOutputsByDeviceName returns the outputs of a device whose signal name
// contains substr.
func (d *Database) MatchOutputsByDeviceName(device, substr string) iter.Seq[*SignalRecord] {
	return clones(sortedSignals(d.outputs, signalMatcher(device, substr)))
}

func signalMatcher(device, substr string) func(*SignalRecord) bool {
	device = normalizeDevice(device)
	return func(s *SignalRecord) bool {
		return s.DeviceName == device && strings.Contains(s.Name, substr)
	}
}

// LinksBySrcDeviceName returns the links that start at a device.
func (d *Database) LinksBySrcDeviceName(device string) iter.Seq[*LinkRecord] {
	device = normalizeDevice(device)
	return clones(d.sortedLinks(func(l *LinkRecord) bool { return l.SrcName == device }))
}

// LinksByDestDeviceName returns the links that end at a device.
func (d *Database) LinksByDestDeviceName(device string) iter.Seq[*LinkRecord] {
	device = normalizeDevice(device)
	return clones(d.sortedLinks(func(l *LinkRecord) bool { return l.DestName == device }))
}

// LinkBySrcDestNames returns the link between two devices, or nil.
func (d *Database) LinkBySrcDestNames(src, dest string) *LinkRecord {
	if rec, ok := d.links[pair{normalizeDevice(src), normalizeDevice(dest)}]; ok {
		return rec.Clone()
	}
	return nil
}

// MappingByNames returns the mapping between two signals, or nil.
func (d *Database) MappingByNames(src, dest string) *MappingRecord {
	if rec, ok := d.mappings[pair{src, dest}]; ok {
		return rec.Clone()
	}
	return nil
}

// MappingsBySrcName returns the mappings that start at a signal.
func (d *Database) MappingsBySrcName(src string) iter.Seq[*MappingRecord] {
	return clones(d.sortedMappings(func(m *MappingRecord) bool { return m.SrcName == src }))
}

// MappingsByDestName returns the mappings that end at a signal.
func (d *Database) MappingsByDestName(dest string) iter.Seq[*MappingRecord] {
	return clones(d.sortedMappings(func(m *MappingRecord) bool { return m.DestName == dest }))
}

// MappingsByDeviceNames returns the mappings between two devices.
func (d *Database) MappingsByDeviceNames(srcDevice, destDevice string) iter.Seq[*MappingRecord] {
	srcDevice, destDevice = normalizeDevice(srcDevice), normalizeDevice(destDevice)
	return clones(d.sortedMappings(func(m *MappingRecord) bool {
		return m.SrcDevice() == srcDevice && m.DestDevice() == destDevice
	}))
}
