package main

import (
	"errors"
	"fmt"

	"github.com/backkem/mapper/pkg/config"
	"github.com/backkem/mapper/pkg/discovery"
	"github.com/backkem/mapper/pkg/mapper"
	"github.com/backkem/mapper/pkg/value"
	"github.com/spf13/cobra"
)

var (
	deviceName      string
	devicePort      int
	deviceInputs    []string
	deviceOutputs   []string
	deviceAdvertise bool
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Run a device",
	Long: `Runs a device until interrupted, printing every value received on
its inputs. Signals come from the config file and from --input/--output
flags in the form name:type[:unit], where type is i, f or d.

Example:
  mapperctl device --name synth --input freq:i:Hz --output env:f`,
	Args: cobra.NoArgs,
	RunE: runDevice,
}

func init() {
	f := deviceCmd.Flags()
	f.StringVar(&deviceName, "name", "", "device name (overrides the config file)")
	f.IntVar(&devicePort, "port", 0, "first data port to try (default 9000)")
	f.StringArrayVar(&deviceInputs, "input", nil, "input signal name:type[:unit] (repeatable)")
	f.StringArrayVar(&deviceOutputs, "output", nil, "output signal name:type[:unit] (repeatable)")
	f.BoolVar(&deviceAdvertise, "advertise", false, "advertise the device over DNS-SD")
}

func runDevice(cmd *cobra.Command, _ []string) error {
	if deviceName != "" {
		cfg.Device.Name = deviceName
	}
	if devicePort != 0 {
		cfg.Device.Port = devicePort
	}
	for _, spec := range deviceInputs {
		s, err := config.ParseSignal(spec)
		if err != nil {
			return err
		}
		cfg.Device.Inputs = append(cfg.Device.Inputs, s)
	}
	for _, spec := range deviceOutputs {
		s, err := config.ParseSignal(spec)
		if err != nil {
			return err
		}
		cfg.Device.Outputs = append(cfg.Device.Outputs, s)
	}
	if cfg.Device.Name == "" {
		return fmt.Errorf("%w: device name required (--name or device.name)", mapper.ErrInvalidDeviceName)
	}

	dc := cfg.MapperDevice(loggerFactory)
	if deviceAdvertise || cfg.Discovery.Advertise {
		adv, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Interfaces:    interfaces(cfg.Bus.Interface),
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			return err
		}
		defer adv.Close()
		dc.Advertiser = adv
	}
	out := cmd.OutOrStdout()
	dc.OnStateChanged = func(s mapper.DeviceState) {
		fmt.Fprintln(out, "state:", s)
	}

	dev, err := mapper.NewDevice(dc)
	if err != nil {
		return err
	}
	defer dev.Close()

	err = cfg.AddSignals(dev, func(sig *mapper.Signal, v []value.Value) {
		fmt.Fprintf(out, "%s %v\n", sig.FullName(), v)
	})
	if err != nil {
		return err
	}

	ctx, stop := interruptContext(cmd.Context())
	defer stop()
	if !pollUntil(ctx, demoReadyTimeout, dev.Ready, dev) {
		if ctx.Err() != nil {
			return nil
		}
		return errors.New("device did not become ready; is the admin bus reachable?")
	}
	fmt.Fprintf(out, "%s ready on %v:%d (%s)\n", dev.Name(), dev.IP4(), dev.Port(), dev.Interface())
	for _, s := range append(dev.Inputs(), dev.Outputs()...) {
		fmt.Fprintf(out, "  %s %s %s[%d] %s\n", s.Direction(), s.FullName(), s.Type(), s.Length(), s.Unit())
	}

	pollLoop(ctx, dev)
	return nil
}
