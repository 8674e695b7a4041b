package config

import (
	"fmt"

	"github.com/backkem/mapper/pkg/bridge/mqtt"
	"github.com/backkem/mapper/pkg/mapper"
	"github.com/pion/logging"
)

func (c *Config) bus() mapper.BusConfig {
	return mapper.BusConfig{Group: c.Bus.Group, Port: c.Bus.Port}
}

// MapperDevice returns the device configuration. Signals are added
// separately with AddSignals once the device exists.
func (c *Config) MapperDevice(lf logging.LoggerFactory) mapper.DeviceConfig {
	return mapper.DeviceConfig{
		Name:          c.Device.Name,
		Port:          c.Device.Port,
		Bus:           c.bus(),
		Interface:     c.Bus.Interface,
		ClaimWindow:   c.Device.ClaimWindow,
		LoggerFactory: lf,
	}
}

// MapperMonitor returns the monitor configuration.
func (c *Config) MapperMonitor(lf logging.LoggerFactory) mapper.MonitorConfig {
	return mapper.MonitorConfig{
		Bus:                c.bus(),
		Interface:          c.Bus.Interface,
		DisableAutoRequest: c.Monitor.DisableAutoRequest,
		LoggerFactory:      lf,
	}
}

// MQTTEnabled reports whether a broker is configured.
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}

// Bridge returns the MQTT bridge configuration.
func (c *Config) Bridge(lf logging.LoggerFactory) mqtt.Config {
	return mqtt.Config{
		Broker:        c.MQTT.Broker,
		ClientID:      c.MQTT.ClientID,
		Username:      c.MQTT.Username,
		Password:      c.MQTT.Password,
		TopicPrefix:   c.MQTT.TopicPrefix,
		QoS:           byte(c.MQTT.QoS),
		LoggerFactory: lf,
	}
}

// AddSignals creates the configured signals and properties on dev. Inputs
// get handler.
func (c *Config) AddSignals(dev *mapper.Device, handler mapper.InputHandler) error {
	if err := dev.SetProperties(c.Device.Properties); err != nil {
		return err
	}
	for _, s := range c.Device.Inputs {
		typ, err := s.ValueType()
		if err != nil {
			return err
		}
		sig, err := dev.AddInput(s.Name, typ, s.VectorLength(), handler, s.Unit)
		if err != nil {
			return err
		}
		if err := setBounds(sig, s); err != nil {
			return err
		}
	}
	for _, s := range c.Device.Outputs {
		typ, err := s.ValueType()
		if err != nil {
			return err
		}
		sig, err := dev.AddOutput(s.Name, typ, s.VectorLength(), s.Unit)
		if err != nil {
			return err
		}
		if err := setBounds(sig, s); err != nil {
			return err
		}
	}
	return nil
}

func setBounds(sig *mapper.Signal, s SignalConfig) error {
	if s.Min != nil {
		if err := sig.SetMinimum(*s.Min); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	if s.Max != nil {
		if err := sig.SetMaximum(*s.Max); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	return nil
}
