package mapper

import (
	"errors"
	"fmt"
	"time"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/metrics"
	"github.com/backkem/mapper/pkg/osc"
	"github.com/backkem/mapper/pkg/protocol"
	"github.com/backkem/mapper/pkg/transport"
	"github.com/pion/logging"
)

// monitorComponent labels the monitor in metrics.
const monitorComponent = "monitor"

// MappingOptions describes the properties of a mapping request. Only set
// fields are sent.
type MappingOptions = protocol.MappingOptions

// Monitor observes the network and mirrors it into a Database.
//
// Notifications are applied and callbacks fired synchronously inside Poll,
// in arrival order. A Monitor is not safe for concurrent use.
type Monitor struct {
	config  MonitorConfig
	log     logging.LeveledLogger
	metrics *metrics.Metrics
	bus     *transport.UDP
	db      *db.Database
	closed  bool
}

// NewMonitor creates a monitor and joins the admin bus.
func NewMonitor(config MonitorConfig) (*Monitor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	m := &Monitor{
		config:  config,
		metrics: config.Metrics,
	}

	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("mapper-monitor")
	}

	m.db = db.New(db.Config{
		LoggerFactory: config.LoggerFactory,
		OnCallbackPanic: func(any) {
			m.metrics.HandlerPanic("callback")
		},
	})

	_, bus, err := openBus(config.TransportFactory, config.Interface, config.Bus, config.LoggerFactory)
	if err != nil {
		return nil, fmt.Errorf("joining admin bus: %w", err)
	}
	m.bus = bus
	return m, nil
}

// DB returns the monitor's database.
func (m *Monitor) DB() *db.Database { return m.db }

// Poll handles pending bus messages, waiting up to timeout for the first
// one, and returns the number handled.
func (m *Monitor) Poll(timeout time.Duration) int {
	if m.closed {
		return 0
	}
	n := transport.Poll(timeout, m.config.MaxMessagesPerPoll, m.handle, m.onReadError, m.bus)
	m.metrics.Poll(monitorComponent, n)
	if m.metrics != nil && n > 0 {
		c := m.db.Counts()
		m.metrics.SetRecords(metrics.KindDevices, c.Devices)
		m.metrics.SetRecords(metrics.KindInputs, c.Inputs)
		m.metrics.SetRecords(metrics.KindOutputs, c.Outputs)
		m.metrics.SetRecords(metrics.KindLinks, c.Links)
		m.metrics.SetRecords(metrics.KindMappings, c.Mappings)
	}
	return n
}

func (m *Monitor) onReadError(ep *transport.UDP, err error) {
	if m.log != nil {
		m.log.Warnf("%s read failed: %v", ep.Name(), err)
	}
}

func (m *Monitor) handle(rm *transport.ReceivedMessage) {
	msg, err := osc.Unmarshal(rm.Data)
	if err == nil {
		err = m.apply(msg)
	}
	if err != nil {
		if m.log != nil {
			m.log.Debugf("Dropping bus message from %v: %v", rm.Addr, err)
		}
		m.metrics.MessageDropped(monitorComponent, metrics.ReasonMalformed)
	}
}

// apply updates the database from one notification. Requests and name
// allocation traffic are ignored.
func (m *Monitor) apply(msg *osc.Message) error {
	switch msg.Address {
	case protocol.PathDevice:
		rec, err := protocol.ParseDevice(msg)
		if err != nil {
			return err
		}
		if action, changed := m.db.UpdateDevice(rec); changed && action == db.ActionNew && !m.config.DisableAutoRequest {
			m.requestAll(rec.Name)
		}
	case protocol.PathLogout:
		args, err := protocol.StringArgs(msg, 1)
		if err != nil {
			return err
		}
		m.db.RemoveDevice(args[0])
	case protocol.PathSignal:
		rec, err := protocol.ParseSignal(msg)
		if err != nil {
			return err
		}
		m.db.UpdateSignal(rec)
	case protocol.PathSignalRemoved:
		args, err := protocol.StringArgs(msg, 1)
		if err != nil {
			return err
		}
		m.db.RemoveSignal(args[0])
	case protocol.PathConnected:
		rec, err := protocol.ParseMapping(msg)
		if err != nil {
			return err
		}
		m.db.UpdateMapping(rec)
	case protocol.PathDisconnected:
		src, dest, _, err := protocol.SplitPair(msg)
		if err != nil {
			return err
		}
		m.db.RemoveMapping(src, dest)
	case protocol.PathLinked:
		rec, err := protocol.ParseLink(msg)
		if err != nil {
			return err
		}
		m.db.UpdateLink(rec.SrcName, rec.DestName)
	case protocol.PathUnlinked:
		rec, err := protocol.ParseLink(msg)
		if err != nil {
			return err
		}
		m.db.RemoveLink(rec.SrcName, rec.DestName)
	}
	return nil
}

func (m *Monitor) requestAll(device string) {
	for _, err := range []error{
		m.RequestSignalsByDevice(device),
		m.RequestLinksByDevice(device),
		m.RequestMappingsByDevice(device),
	} {
		if err != nil && m.log != nil {
			m.log.Warnf("Requesting state of %s: %v", device, err)
		}
	}
}

func (m *Monitor) send(msg *osc.Message) error {
	if m.closed {
		return ErrClosed
	}
	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	if err := m.bus.Broadcast(data); err != nil {
		m.metrics.MessageDropped(monitorComponent, metrics.ReasonSendFailed)
		return err
	}
	m.metrics.MessagesSent(monitorComponent, 1)
	return nil
}

// RequestDevices asks every device to announce itself.
func (m *Monitor) RequestDevices() error {
	return m.send(osc.NewMessage(protocol.PathWho))
}

// RequestSignalsByDevice asks a device to announce its signals.
func (m *Monitor) RequestSignalsByDevice(device string) error {
	return m.send(osc.NewMessage(protocol.RequestPath(device, protocol.SuffixSignalsGet)))
}

// RequestLinksByDevice asks a device to announce its outgoing links.
func (m *Monitor) RequestLinksByDevice(device string) error {
	return m.send(osc.NewMessage(protocol.RequestPath(device, protocol.SuffixLinksGet)))
}

// RequestMappingsByDevice asks a device to announce its outgoing mappings.
func (m *Monitor) RequestMappingsByDevice(device string) error {
	return m.send(osc.NewMessage(protocol.RequestPath(device, protocol.SuffixConnectionsGet)))
}

// Connect requests a mapping from the output src to the input dest, both
// full signal names. It does not wait; the mapping appears in the database
// once the source device announces it.
func (m *Monitor) Connect(src, dest string, opts MappingOptions) error {
	if err := checkPair(src, dest); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	return m.send(protocol.RequestMessage(protocol.PathConnect, src, dest, opts))
}

// ConnectMap is Connect with options given as a property map (see
// protocol.ParseMappingOptions). src_name and dest_name in props are
// ignored in favour of the arguments.
func (m *Monitor) ConnectMap(src, dest string, props map[string]any) error {
	opts, err := parseOptions(props)
	if err != nil {
		return err
	}
	return m.Connect(src, dest, opts)
}

// Modify requests a change to an existing mapping. opts must name the
// source and destination; only its set fields are sent.
func (m *Monitor) Modify(opts MappingOptions) error {
	if opts.SrcName == "" || opts.DestName == "" {
		return ErrMissingNames
	}
	if err := checkPair(opts.SrcName, opts.DestName); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	return m.send(protocol.RequestMessage(protocol.PathModify, opts.SrcName, opts.DestName, opts))
}

// ModifyMap is Modify with options given as a property map, which must
// contain src_name and dest_name.
func (m *Monitor) ModifyMap(props map[string]any) error {
	opts, err := parseOptions(props)
	if err != nil {
		return err
	}
	return m.Modify(opts)
}

// Disconnect requests removal of the mapping src -> dest.
func (m *Monitor) Disconnect(src, dest string) error {
	if err := checkPair(src, dest); err != nil {
		return err
	}
	return m.send(osc.NewMessage(protocol.PathDisconnect, src, dest))
}

// Close leaves the bus. The database stays readable.
func (m *Monitor) Close() error {
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	return m.bus.Close()
}

func parseOptions(props map[string]any) (MappingOptions, error) {
	opts, err := protocol.ParseMappingOptions(props)
	if err != nil {
		return MappingOptions{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return opts, nil
}

func checkPair(src, dest string) error {
	var errs []error
	for _, name := range []string{src, dest} {
		if db.SignalOf(name) == "" {
			errs = append(errs, fmt.Errorf("%w: %q is not a full signal name", ErrInvalidSignalName, name))
		}
	}
	return errors.Join(errs...)
}
