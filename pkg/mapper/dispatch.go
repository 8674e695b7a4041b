package mapper

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"strings"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/metrics"
	"github.com/backkem/mapper/pkg/osc"
	"github.com/backkem/mapper/pkg/protocol"
	"github.com/backkem/mapper/pkg/router"
	"github.com/backkem/mapper/pkg/transport"
	"github.com/backkem/mapper/pkg/value"
)

// handle is the transport.MessageHandler of a device.
func (d *Device) handle(rm *transport.ReceivedMessage) {
	msg, err := osc.Unmarshal(rm.Data)
	if err != nil {
		if d.log != nil {
			d.log.Debugf("Dropping datagram from %v: %v", rm.Addr, err)
		}
		d.metrics.MessageDropped(d.component(), metrics.ReasonMalformed)
		return
	}
	if rm.Source == d.data {
		d.handleData(msg, rm.Addr)
		return
	}
	if err := d.handleBus(msg); err != nil {
		if d.log != nil {
			d.log.Debugf("Dropping %s: %v", msg.Address, err)
		}
		reason := metrics.ReasonRejected
		if errors.Is(err, protocol.ErrMalformed) {
			reason = metrics.ReasonMalformed
		}
		d.metrics.MessageDropped(d.component(), reason)
	}
}

// handleData delivers a value update to an input, or answers a value query.
func (d *Device) handleData(msg *osc.Message, from net.Addr) {
	if name, ok := strings.CutSuffix(msg.Address, protocol.SuffixGet); ok && d.inputs[name] != nil {
		d.answerQuery(d.inputs[name], msg, from)
		return
	}
	if name, ok := strings.CutSuffix(msg.Address, protocol.SuffixGot); ok && d.outputs[name] != nil {
		d.outputs[name].queried(msg.Args)
		return
	}
	sig := d.inputs[msg.Address]
	if sig == nil {
		if d.log != nil {
			d.log.Debugf("Dropping value for unknown input %s", msg.Address)
		}
		d.metrics.MessageDropped(d.component(), metrics.ReasonUnknownSignal)
		return
	}
	if len(msg.Args) != sig.length {
		if d.log != nil {
			d.log.Debugf("Dropping value for %s: %d elements, want %d", sig.name, len(msg.Args), sig.length)
		}
		d.metrics.MessageDropped(d.component(), metrics.ReasonBadValue)
		return
	}
	vals := make([]value.Value, len(msg.Args))
	for i, a := range msg.Args {
		v, err := a.Coerce(sig.typ)
		if err != nil || !v.IsSet() {
			if d.log != nil {
				d.log.Debugf("Dropping value for %s: element %d is %s", sig.name, i, a.Type())
			}
			d.metrics.MessageDropped(d.component(), metrics.ReasonBadValue)
			return
		}
		vals[i] = v
	}
	sig.deliver(vals)
}

// answerQuery sends the current value of an input back to the address
// named in a "<input>/get" query. An input without a value answers with
// no arguments.
func (d *Device) answerQuery(sig *Signal, msg *osc.Message, from net.Addr) {
	args, err := protocol.StringArgs(msg, 1)
	if err != nil {
		d.metrics.MessageDropped(d.component(), metrics.ReasonMalformed)
		return
	}
	reply := &osc.Message{Address: args[0], Args: slices.Clone(sig.value)}
	if err := d.sendData(reply, from); err != nil {
		if d.log != nil {
			d.log.Warnf("Failed to answer query for %s: %v", sig.name, err)
		}
		d.metrics.MessageDropped(d.component(), metrics.ReasonSendFailed)
		return
	}
	d.metrics.MessagesSent(d.component(), 1)
}

// handleBus handles one admin bus message. Messages addressed to other
// devices are ignored without error.
func (d *Device) handleBus(msg *osc.Message) error {
	switch msg.Address {
	case protocol.PathNameClaim:
		return d.onClaim(msg)
	case protocol.PathNameRegistered:
		return d.onRegistered(msg)
	case protocol.PathWho:
		if d.Ready() {
			d.announceAll()
		}
		return nil
	case protocol.PathLogout:
		return d.onLogout(msg)
	case protocol.PathSignal:
		return d.onSignal(msg)
	case protocol.PathSignalRemoved:
		return d.onSignalRemoved(msg)
	case protocol.PathConnect:
		return d.onConnect(msg)
	case protocol.PathConnectTo:
		return d.onConnectTo(msg)
	case protocol.PathModify:
		return d.onModify(msg)
	case protocol.PathDisconnect:
		return d.onDisconnect(msg)
	}
	if dev, suffix, ok := protocol.SplitRequest(msg.Address); ok && d.Ready() && dev == d.Name() {
		d.onRequest(suffix)
	}
	return nil
}

func (d *Device) onClaim(msg *osc.Message) error {
	args, err := protocol.StringArgs(msg, 2)
	if err != nil {
		return err
	}
	name, nonce := args[0], args[1]
	switch {
	case d.state == DeviceStateAllocating && name == d.candidateName():
		if nonce == d.nonce {
			d.claimEchoed = true
		} else if nonce < d.nonce {
			d.collide("competing claim")
		}
	case d.Ready() && name == d.Name():
		d.broadcast(protocol.RegisteredMessage(name))
	}
	return nil
}

func (d *Device) onRegistered(msg *osc.Message) error {
	args, err := protocol.StringArgs(msg, 1)
	if err != nil {
		return err
	}
	if d.state == DeviceStateAllocating && args[0] == d.candidateName() {
		d.collide("already registered")
	}
	return nil
}

// onLogout forgets the mappings to a departed device.
func (d *Device) onLogout(msg *osc.Message) error {
	args, err := protocol.StringArgs(msg, 1)
	if err != nil {
		return err
	}
	name := args[0]
	if !d.Ready() || name == d.Name() {
		return nil
	}
	for m := range d.router.All() {
		rec := m.Record()
		if rec.DestDevice() == name {
			d.router.Remove(rec.SrcName, rec.DestName)
		}
	}
	return nil
}

// onSignal refreshes the destination bounds of mappings into an input
// whose announcement changed.
func (d *Device) onSignal(msg *osc.Message) error {
	if !d.Ready() {
		return nil
	}
	rec, err := protocol.ParseSignal(msg)
	if err != nil {
		return err
	}
	if rec.Direction != db.DirectionOutput {
		d.router.SetDestBounds(rec.FullName(), rec.Minimum, rec.Maximum)
	}
	return nil
}

// onSignalRemoved drops the mappings into a removed input.
func (d *Device) onSignalRemoved(msg *osc.Message) error {
	args, err := protocol.StringArgs(msg, 1)
	if err != nil {
		return err
	}
	if !d.Ready() {
		return nil
	}
	removed, linksGone := d.router.RemoveDest(args[0])
	for _, rec := range removed {
		if d.log != nil {
			d.log.Infof("Disconnected %s -> %s (destination removed)", rec.SrcName, rec.DestName)
		}
		d.broadcast(osc.NewMessage(protocol.PathDisconnected, rec.SrcName, rec.DestName))
	}
	for _, dest := range linksGone {
		d.broadcast(protocol.LinkMessage(protocol.PathUnlinked, db.NewLinkRecord(d.Name(), dest)))
	}
	return nil
}

// localSignal looks up full in table. mine is false when full belongs to
// another device (or the device is not ready yet).
func (d *Device) localSignal(full string, table map[string]*Signal) (sig *Signal, mine bool, err error) {
	if !d.Ready() || db.DeviceOf(full) != d.Name() {
		return nil, false, nil
	}
	sig = table[db.SignalOf(full)]
	if sig == nil {
		return nil, true, fmt.Errorf("%w: %s", ErrSignalNotFound, full)
	}
	return sig, true, nil
}

// onConnect runs on the destination device: it answers with /connectTo,
// telling the source where and what to send.
func (d *Device) onConnect(msg *osc.Message) error {
	src, dest, p, err := protocol.SplitPair(msg)
	if err != nil {
		return err
	}
	sig, mine, err := d.localSignal(dest, d.inputs)
	if !mine || err != nil {
		return err
	}
	if _, err := protocol.OptionsFromProps(p); err != nil {
		return err
	}

	reply := maps.Clone(p)
	reply.Set(protocol.KeyDestType, value.String(sig.typ.String()))
	reply.Set(protocol.KeyDestLength, value.Int32(int32(sig.length)))
	reply.Set(protocol.KeyIP, value.String(d.ip.String()))
	reply.Set(protocol.KeyPort, value.Int32(int32(d.Port())))
	if sig.minimum.IsSet() {
		reply.Set(protocol.KeyMin, sig.minimum)
	}
	if sig.maximum.IsSet() {
		reply.Set(protocol.KeyMax, sig.maximum)
	}
	d.broadcast(reply.AppendTo(osc.NewMessage(protocol.PathConnectTo, src, dest)))
	return nil
}

// onConnectTo runs on the source device: it creates the mapping and
// announces it.
func (d *Device) onConnectTo(msg *osc.Message) error {
	src, dest, p, err := protocol.SplitPair(msg)
	if err != nil {
		return err
	}
	sig, mine, err := d.localSignal(src, d.outputs)
	if !mine || err != nil {
		return err
	}
	opts, err := protocol.OptionsFromProps(p)
	if err != nil {
		return err
	}
	destInfo, addr, err := destination(p)
	if err != nil {
		return err
	}
	destDevice := db.DeviceOf(dest)

	if d.router.Get(src, dest) != nil {
		d.router.SetDestination(destDevice, addr)
		m, _ := d.router.Modify(src, dest, opts)
		d.broadcast(protocol.MappingMessage(protocol.PathConnected, m.Record()))
		return nil
	}

	rec := db.NewMappingRecord(src, dest)
	opts.Apply(rec)
	m, newLink, err := d.router.Add(rec, sig.info(), destInfo)
	if err != nil {
		return err
	}
	d.router.SetDestination(destDevice, addr)
	if d.log != nil {
		d.log.Infof("Connected %s -> %s (%s)", src, dest, rec.Mode)
	}
	if newLink {
		d.broadcast(protocol.LinkMessage(protocol.PathLinked, db.NewLinkRecord(d.Name(), destDevice)))
	}
	d.broadcast(protocol.MappingMessage(protocol.PathConnected, m.Record()))
	return nil
}

// destination decodes the destination signal and address of a /connectTo.
func destination(p protocol.Props) (router.SignalInfo, net.Addr, error) {
	var info router.SignalInfo
	typ, ok, err := p.String(protocol.KeyDestType)
	if err != nil {
		return info, nil, err
	}
	if !ok {
		return info, nil, fmt.Errorf("%w: missing @%s", protocol.ErrMalformed, protocol.KeyDestType)
	}
	if info.Type, err = value.ParseType(typ); err != nil {
		return info, nil, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}
	if info.Length, ok, err = p.Int(protocol.KeyDestLength); err != nil {
		return info, nil, err
	} else if !ok {
		info.Length = 1
	}
	info.Minimum, _ = p.Value(protocol.KeyMin)
	info.Maximum, _ = p.Value(protocol.KeyMax)

	host, _, err := p.String(protocol.KeyIP)
	if err != nil {
		return info, nil, err
	}
	port, _, err := p.Int(protocol.KeyPort)
	if err != nil {
		return info, nil, err
	}
	ip := net.ParseIP(host)
	if ip == nil || port <= 0 || port > 65535 {
		return info, nil, fmt.Errorf("%w: bad destination address %q:%d", protocol.ErrMalformed, host, port)
	}
	return info, &net.UDPAddr{IP: ip, Port: port}, nil
}

// onModify runs on the source device.
func (d *Device) onModify(msg *osc.Message) error {
	src, dest, p, err := protocol.SplitPair(msg)
	if err != nil {
		return err
	}
	if _, mine, err := d.localSignal(src, d.outputs); !mine || err != nil {
		return err
	}
	opts, err := protocol.OptionsFromProps(p)
	if err != nil {
		return err
	}
	m, changed := d.router.Modify(src, dest, opts)
	if m == nil {
		return fmt.Errorf("no mapping %s -> %s", src, dest)
	}
	if changed {
		d.broadcast(protocol.MappingMessage(protocol.PathConnected, m.Record()))
	}
	return nil
}

// onDisconnect runs on the source device.
func (d *Device) onDisconnect(msg *osc.Message) error {
	src, dest, _, err := protocol.SplitPair(msg)
	if err != nil {
		return err
	}
	if _, mine, err := d.localSignal(src, d.outputs); !mine || err != nil {
		return err
	}
	removed, linkGone := d.router.Remove(src, dest)
	if !removed {
		return fmt.Errorf("no mapping %s -> %s", src, dest)
	}
	if d.log != nil {
		d.log.Infof("Disconnected %s -> %s", src, dest)
	}
	d.broadcast(osc.NewMessage(protocol.PathDisconnected, src, dest))
	if linkGone {
		d.broadcast(protocol.LinkMessage(protocol.PathUnlinked, db.NewLinkRecord(d.Name(), db.DeviceOf(dest))))
	}
	return nil
}

// onRequest answers a per-device request.
func (d *Device) onRequest(suffix string) {
	switch suffix {
	case protocol.SuffixSignalsGet:
		d.announceSignals()
	case protocol.SuffixLinksGet:
		for _, dest := range d.router.Links() {
			d.broadcast(protocol.LinkMessage(protocol.PathLinked, db.NewLinkRecord(d.Name(), dest)))
		}
	case protocol.SuffixConnectionsGet:
		for m := range d.router.All() {
			d.broadcast(protocol.MappingMessage(protocol.PathConnected, m.Record()))
		}
	}
}
