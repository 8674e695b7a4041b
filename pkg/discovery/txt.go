package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// DNS-SD service parameters.
const (
	// ServiceDevice is the service type ready devices advertise.
	ServiceDevice = "_mapper._udp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
)

// TXT record keys.
const (
	TXTKeyName       = "name"
	TXTKeyInputs     = "in"
	TXTKeyOutputs    = "out"
	TXTKeyBusGroup   = "bus"
	TXTKeyBusPort    = "busport"
	TXTKeyLibVersion = "v"
)

// LibVersion is advertised in the "v" TXT key.
const LibVersion = "1"

// DeviceTXT is the TXT payload of an advertised device.
type DeviceTXT struct {
	// Name is the full device name, e.g. "/test.1".
	Name string

	// Port is the device's data port.
	Port int

	NumInputs  int
	NumOutputs int

	// BusGroup and BusPort locate the admin bus the device is on.
	// Optional.
	BusGroup string
	BusPort  int
}

// Validate checks the TXT payload.
func (d *DeviceTXT) Validate() error {
	if _, err := InstanceName(d.Name); err != nil {
		return err
	}
	if d.Port <= 0 || d.Port > 65535 {
		return ErrInvalidPort
	}
	return nil
}

// Encode returns the TXT records in key=value form.
func (d *DeviceTXT) Encode() []string {
	records := []string{
		TXTKeyName + "=" + d.Name,
		TXTKeyInputs + "=" + strconv.Itoa(d.NumInputs),
		TXTKeyOutputs + "=" + strconv.Itoa(d.NumOutputs),
		TXTKeyLibVersion + "=" + LibVersion,
	}
	if d.BusGroup != "" {
		records = append(records, TXTKeyBusGroup+"="+d.BusGroup)
	}
	if d.BusPort != 0 {
		records = append(records, TXTKeyBusPort+"="+strconv.Itoa(d.BusPort))
	}
	return records
}

// ParseTXT parses raw TXT record strings into a map.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[record[:idx]] = record[idx+1:]
		}
	}
	return result
}

// ParseDeviceTXT parses raw TXT records into a DeviceTXT. The port is not
// part of the TXT data and is left zero.
func ParseDeviceTXT(records []string) (*DeviceTXT, error) {
	m := ParseTXT(records)
	txt := &DeviceTXT{Name: m[TXTKeyName], BusGroup: m[TXTKeyBusGroup]}
	if txt.Name == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidTXTRecord, TXTKeyName)
	}

	for _, f := range []struct {
		key string
		dst *int
	}{
		{TXTKeyInputs, &txt.NumInputs},
		{TXTKeyOutputs, &txt.NumOutputs},
		{TXTKeyBusPort, &txt.BusPort},
	} {
		s, ok := m[f.key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, f.key, s)
		}
		*f.dst = n
	}
	return txt, nil
}

// InstanceName converts a device name ("/test.1") into a DNS-SD instance
// name ("test.1").
func InstanceName(deviceName string) (string, error) {
	name, ok := strings.CutPrefix(deviceName, "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDeviceName, deviceName)
	}
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 || dot == len(name)-1 {
		return "", fmt.Errorf("%w: %q has no ordinal", ErrInvalidDeviceName, deviceName)
	}
	if _, err := strconv.Atoi(name[dot+1:]); err != nil {
		return "", fmt.Errorf("%w: %q has no ordinal", ErrInvalidDeviceName, deviceName)
	}
	return name, nil
}
