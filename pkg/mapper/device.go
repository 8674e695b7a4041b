package mapper

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/discovery"
	"github.com/backkem/mapper/pkg/metrics"
	"github.com/backkem/mapper/pkg/osc"
	"github.com/backkem/mapper/pkg/protocol"
	"github.com/backkem/mapper/pkg/router"
	"github.com/backkem/mapper/pkg/transport"
	"github.com/backkem/mapper/pkg/value"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Device publishes signals on the network.
//
// A new device first allocates a unique name by probing the admin bus; it
// is ready once its own claim has come back and the claim window elapsed
// without a collision. All network activity, name allocation included,
// happens inside Poll. A Device is not safe for concurrent use.
type Device struct {
	config  DeviceConfig
	state   DeviceState
	log     logging.LeveledLogger
	metrics *metrics.Metrics

	bus   *transport.UDP
	data  *transport.UDP
	iface string
	ip    net.IP

	// Name allocation.
	ordinal       int
	nonce         string
	claimEchoed   bool
	claimDeadline time.Time

	props   *value.Properties
	inputs  map[string]*Signal
	outputs map[string]*Signal
	router  *router.Router

	// Last announced records, for change detection.
	announced        *db.DeviceRecord
	announcedSignals map[string]*db.SignalRecord
}

// NewDevice creates a device and starts allocating its name. The device
// is usable right away (signals and properties can be added) but its
// identity is only known once Ready returns true.
func NewDevice(config DeviceConfig) (*Device, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	d := &Device{
		config:           config,
		state:            DeviceStateAllocating,
		metrics:          config.Metrics,
		ordinal:          1,
		props:            value.NewProperties(),
		inputs:           make(map[string]*Signal),
		outputs:          make(map[string]*Signal),
		router:           router.New(router.Config{LoggerFactory: config.LoggerFactory}),
		announcedSignals: make(map[string]*db.SignalRecord),
	}

	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("mapper-device")
	}

	factory, bus, err := openBus(config.TransportFactory, config.Interface, config.Bus, config.LoggerFactory)
	if err != nil {
		return nil, fmt.Errorf("joining admin bus: %w", err)
	}
	d.bus = bus

	if d.data, err = d.listenData(factory); err != nil {
		bus.Close()
		return nil, err
	}
	d.iface, d.ip = factory.Interface()

	d.claim()
	return d, nil
}

// listenData binds the data socket on the first free port at or above the
// configured one.
func (d *Device) listenData(factory transport.Factory) (*transport.UDP, error) {
	for port := d.config.Port; port < d.config.Port+portSearchRange && port <= 65535; port++ {
		conn, err := factory.ListenUDP(port)
		if errors.Is(err, transport.ErrAddressInUse) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("opening data port: %w", err)
		}
		return transport.NewUDP(transport.UDPConfig{
			Conn:          conn,
			Name:          "data",
			LoggerFactory: d.config.LoggerFactory,
		})
	}
	return nil, fmt.Errorf("opening data port: %w: no free port from %d", transport.ErrAddressInUse, d.config.Port)
}

// State returns the lifecycle state.
func (d *Device) State() DeviceState { return d.state }

// Ready reports whether the device has allocated its name.
func (d *Device) Ready() bool { return d.state.IsReady() }

// Name returns the full device name, e.g. "/test.1". Empty until ready.
func (d *Device) Name() string {
	if !d.Ready() {
		return ""
	}
	return d.candidateName()
}

// Ordinal returns the allocated ordinal. Zero until ready.
func (d *Device) Ordinal() int {
	if !d.Ready() {
		return 0
	}
	return d.ordinal
}

// Port returns the data port. Zero until ready.
func (d *Device) Port() int {
	if !d.Ready() {
		return 0
	}
	return d.data.Port()
}

// IP4 returns the IPv4 address of the device's interface. Nil until ready.
func (d *Device) IP4() net.IP {
	if !d.Ready() {
		return nil
	}
	return d.ip
}

// Interface returns the name of the network interface. Empty until ready.
func (d *Device) Interface() string {
	if !d.Ready() {
		return ""
	}
	return d.iface
}

func (d *Device) candidateName() string {
	return "/" + d.config.Name + "." + strconv.Itoa(d.ordinal)
}

// component labels this device in metrics.
func (d *Device) component() string {
	return d.config.Name
}

// AddInput adds an input signal. handler may be nil.
func (d *Device) AddInput(name string, typ value.Type, length int, handler InputHandler, unit string) (*Signal, error) {
	return d.addSignal(db.DirectionInput, name, typ, length, unit, handler)
}

// AddOutput adds an output signal.
func (d *Device) AddOutput(name string, typ value.Type, length int, unit string) (*Signal, error) {
	return d.addSignal(db.DirectionOutput, name, typ, length, unit, nil)
}

func (d *Device) addSignal(dir db.Direction, name string, typ value.Type, length int, unit string, handler InputHandler) (*Signal, error) {
	if d.state == DeviceStateClosed {
		return nil, ErrClosed
	}
	if d.inputs[name] != nil || d.outputs[name] != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSignal, name)
	}
	sig, err := newSignal(d, dir, name, typ, length, unit, handler)
	if err != nil {
		return nil, err
	}
	if dir == db.DirectionOutput {
		d.outputs[name] = sig
	} else {
		d.inputs[name] = sig
	}
	if d.log != nil {
		d.log.Debugf("Added %s %s (%s[%d])", dir, name, typ, length)
	}
	return sig, nil
}

// RemoveSignal removes a signal. Mappings from a removed output are
// dropped and announced as disconnected. Mappings into a removed input are
// dropped by their source devices when they hear /signal/removed.
func (d *Device) RemoveSignal(sig *Signal) error {
	table := d.inputs
	if sig.IsOutput() {
		table = d.outputs
	}
	if table[sig.name] != sig {
		return fmt.Errorf("%w: %s", ErrSignalNotFound, sig.name)
	}

	if d.Ready() {
		full := sig.FullName()
		if sig.IsOutput() {
			removed, linksGone := d.router.RemoveSource(full)
			for _, rec := range removed {
				d.broadcast(osc.NewMessage(protocol.PathDisconnected, rec.SrcName, rec.DestName))
			}
			for _, dest := range linksGone {
				d.broadcast(protocol.LinkMessage(protocol.PathUnlinked, db.NewLinkRecord(d.Name(), dest)))
			}
		}
		d.broadcast(protocol.SignalRemovedMessage(full))
	}
	delete(table, sig.name)
	delete(d.announcedSignals, sig.name)
	return nil
}

// NumInputs returns the number of input signals.
func (d *Device) NumInputs() int { return len(d.inputs) }

// NumOutputs returns the number of output signals.
func (d *Device) NumOutputs() int { return len(d.outputs) }

// Inputs returns the input signals ordered by name.
func (d *Device) Inputs() []*Signal { return sortedSignals(d.inputs) }

// Outputs returns the output signals ordered by name.
func (d *Device) Outputs() []*Signal { return sortedSignals(d.outputs) }

// Input returns the input called name, or nil.
func (d *Device) Input(name string) *Signal { return d.inputs[name] }

// Output returns the output called name, or nil.
func (d *Device) Output(name string) *Signal { return d.outputs[name] }

func sortedSignals(m map[string]*Signal) []*Signal {
	out := make([]*Signal, 0, len(m))
	for _, name := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[name])
	}
	return out
}

// Properties returns the device's live property map. Setting a key to nil
// removes it. Changes are announced on the next poll.
func (d *Device) Properties() *value.Properties { return d.props }

// SetProperties upserts every entry of kv; nil values remove their key.
// Entries that cannot be converted are skipped and reported in the error.
func (d *Device) SetProperties(kv map[string]any) error {
	return d.props.Merge(kv)
}

// RemoveProperty removes key. Removing an absent key is a no-op.
func (d *Device) RemoveProperty(key string) {
	d.props.Remove(key)
}

// Mappings returns the mappings that start at this device's outputs.
func (d *Device) Mappings() []*db.MappingRecord {
	var out []*db.MappingRecord
	for m := range d.router.All() {
		out = append(out, m.Record())
	}
	return out
}

// Poll handles pending bus and data messages, waiting up to timeout for
// the first one. It returns the number of messages handled. Network
// errors are logged, never returned.
func (d *Device) Poll(timeout time.Duration) int {
	if d.state == DeviceStateClosed {
		return 0
	}
	d.tick()
	n := transport.Poll(timeout, d.config.MaxMessagesPerPoll, d.handle, d.onReadError, d.bus, d.data)
	d.tick()
	d.metrics.Poll(d.component(), n)
	return n
}

// tick advances name allocation and announces changed records.
func (d *Device) tick() {
	switch d.state {
	case DeviceStateAllocating:
		if time.Now().Before(d.claimDeadline) {
			return
		}
		if d.claimEchoed {
			d.register()
		} else {
			// The claim was lost; try again.
			d.claim()
		}
	case DeviceStateReady:
		d.announceChanges()
	}
}

func (d *Device) onReadError(ep *transport.UDP, err error) {
	if d.log != nil {
		d.log.Warnf("%s read failed: %v", ep.Name(), err)
	}
}

// claim starts (or restarts) allocation of the current candidate name.
func (d *Device) claim() {
	d.nonce = uuid.NewString()
	d.claimEchoed = false
	d.claimDeadline = time.Now().Add(d.config.ClaimWindow)
	if d.log != nil {
		d.log.Debugf("Claiming %s", d.candidateName())
	}
	d.broadcast(protocol.ClaimMessage(d.candidateName(), d.nonce))
}

// collide gives up the candidate name and claims the next ordinal.
func (d *Device) collide(reason string) {
	if d.log != nil {
		d.log.Debugf("Name %s taken (%s)", d.candidateName(), reason)
	}
	d.ordinal++
	d.claim()
}

func (d *Device) register() {
	d.setState(DeviceStateReady)
	name := d.Name()
	if d.log != nil {
		d.log.Infof("Registered %s on %v:%d", name, d.ip, d.Port())
	}
	d.broadcast(protocol.RegisteredMessage(name))
	d.announceChanges()

	if d.config.Advertiser != nil {
		txt := discovery.DeviceTXT{
			Name:       name,
			Port:       d.Port(),
			NumInputs:  d.NumInputs(),
			NumOutputs: d.NumOutputs(),
			BusGroup:   d.config.Bus.Group,
			BusPort:    d.config.Bus.Port,
		}
		if err := d.config.Advertiser.StartDevice(txt); err != nil && d.log != nil {
			d.log.Warnf("Failed to advertise %s: %v", name, err)
		}
	}
}

func (d *Device) setState(s DeviceState) {
	d.state = s
	if d.config.OnStateChanged != nil {
		d.config.OnStateChanged(s)
	}
}

// record returns the announcement form of the device.
func (d *Device) record() *db.DeviceRecord {
	return &db.DeviceRecord{
		Name:       d.Name(),
		Ordinal:    d.ordinal,
		Host:       d.ip.String(),
		Port:       d.Port(),
		Interface:  d.iface,
		NumInputs:  d.NumInputs(),
		NumOutputs: d.NumOutputs(),
		Properties: d.props.Clone(),
	}
}

// announceChanges broadcasts the device and signal records that differ
// from what was last announced, and mappings whose calibrated range moved.
func (d *Device) announceChanges() {
	if rec := d.record(); !rec.Equal(d.announced) {
		d.broadcast(protocol.DeviceMessage(rec))
		d.announced = rec
	}
	for _, sig := range d.signals() {
		rec := sig.record()
		if rec.Equal(d.announcedSignals[sig.name]) {
			continue
		}
		d.broadcast(protocol.SignalMessage(rec))
		d.announcedSignals[sig.name] = rec
	}
	for _, rec := range d.router.Recalibrated() {
		d.broadcast(protocol.MappingMessage(protocol.PathConnected, rec))
	}
}

// announceAll broadcasts the device and all signal records.
func (d *Device) announceAll() {
	d.announced = d.record()
	d.broadcast(protocol.DeviceMessage(d.announced))
	d.announceSignals()
}

func (d *Device) announceSignals() {
	for _, sig := range d.signals() {
		rec := sig.record()
		d.broadcast(protocol.SignalMessage(rec))
		d.announcedSignals[sig.name] = rec
	}
}

func (d *Device) signals() []*Signal {
	return append(d.Inputs(), d.Outputs()...)
}

// broadcast sends msg on the admin bus.
func (d *Device) broadcast(msg *osc.Message) {
	data, err := msg.MarshalBinary()
	if err == nil {
		err = d.bus.Broadcast(data)
	}
	if err != nil {
		if d.log != nil {
			d.log.Warnf("Failed to send %s: %v", msg.Address, err)
		}
		d.metrics.MessageDropped(d.component(), metrics.ReasonSendFailed)
		return
	}
	d.metrics.MessagesSent(d.component(), 1)
}

// sendData sends a routed sample to a destination device.
func (d *Device) sendData(msg *osc.Message, addr net.Addr) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	return d.data.Send(data, addr)
}

// route sends the current value of an output through its mappings.
func (d *Device) route(sig *Signal) {
	if !d.Ready() {
		return
	}
	n := d.router.Route(sig.FullName(), sig.value, d.sendData)
	d.metrics.MessagesSent(d.component(), n)
}

// Close announces the device's departure and releases its sockets.
func (d *Device) Close() error {
	if d.state == DeviceStateClosed {
		return ErrClosed
	}
	if d.Ready() {
		name := d.Name()
		d.broadcast(osc.NewMessage(protocol.PathLogout, name))
		if d.config.Advertiser != nil {
			if err := d.config.Advertiser.StopDevice(name); err != nil && d.log != nil {
				d.log.Debugf("Stopping advertisement of %s: %v", name, err)
			}
		}
	}
	d.setState(DeviceStateClosed)
	return errors.Join(d.bus.Close(), d.data.Close())
}
