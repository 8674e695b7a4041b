package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/mapper"
	"github.com/spf13/cobra"
)

// mappingFlags holds the options shared by connect and modify.
type mappingFlags struct {
	mode       string
	expression string
	clipMin    string
	clipMax    string
	rng        string
	muted      bool
}

var (
	connectFlags mappingFlags
	modifyFlags  mappingFlags
	mappingWait  time.Duration
)

var connectCmd = &cobra.Command{
	Use:   "connect SRC DEST",
	Short: "Connect an output to an input",
	Long: `Asks the devices to map the output SRC onto the input DEST, both full
signal names, and waits until the source device announces the mapping.

Example:
  mapperctl connect /testsend.1/outsig_3 /testrecv.1/insig_3 --mode expression --clip-min wrap --clip-max clamp`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, dest := args[0], args[1]
		opts, err := connectFlags.options(cmd)
		if err != nil {
			return err
		}
		return runMappingRequest(cmd, src, dest,
			func(mon *mapper.Monitor) error { return mon.ConnectMap(src, dest, opts) },
			func(mdb *db.Database, _ bool) bool { return mdb.MappingByNames(src, dest) != nil })
	},
}

var modifyCmd = &cobra.Command{
	Use:   "modify SRC DEST",
	Short: "Change an existing connection",
	Long: `Sends the given properties for the mapping SRC -> DEST and waits until
the source device announces the change. Range entries may be left empty
or set to "-" to keep them, e.g. --range ,,3,4.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, dest := args[0], args[1]
		opts, err := modifyFlags.options(cmd)
		if err != nil {
			return err
		}
		if len(opts) == 0 {
			return fmt.Errorf("%w: nothing to modify", mapper.ErrConfig)
		}
		opts["src_name"], opts["dest_name"] = src, dest
		return runMappingRequest(cmd, src, dest,
			func(mon *mapper.Monitor) error { return mon.ModifyMap(opts) },
			func(_ *db.Database, changed bool) bool { return changed })
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect SRC DEST",
	Short: "Remove a connection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, dest := args[0], args[1]
		return runMappingRequest(cmd, src, dest,
			func(mon *mapper.Monitor) error { return mon.Disconnect(src, dest) },
			func(mdb *db.Database, _ bool) bool { return mdb.MappingByNames(src, dest) == nil })
	},
}

func init() {
	connectFlags.register(connectCmd)
	modifyFlags.register(modifyCmd)
	for _, c := range []*cobra.Command{connectCmd, modifyCmd, disconnectCmd} {
		c.Flags().DurationVar(&mappingWait, "timeout", 5*time.Second, "how long to wait for the devices")
	}
}

func (f *mappingFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.mode, "mode", "", "mode: raw, linear, expression or calibrate")
	fs.StringVar(&f.expression, "expression", "", "mapping expression")
	fs.StringVar(&f.clipMin, "clip-min", "", "below-range handling: none, mute, clamp or wrap")
	fs.StringVar(&f.clipMax, "clip-max", "", "above-range handling: none, mute, clamp or wrap")
	fs.StringVar(&f.rng, "range", "", "src_min,src_max,dest_min,dest_max")
	fs.BoolVar(&f.muted, "muted", false, "mute the mapping")
}

// options returns the flags the user set as a mapping property map.
func (f *mappingFlags) options(cmd *cobra.Command) (map[string]any, error) {
	opts := make(map[string]any)
	changed := cmd.Flags().Changed
	if changed("mode") {
		opts["mode"] = f.mode
	}
	if changed("expression") {
		opts["expression"] = f.expression
	}
	if changed("clip-min") {
		opts["clip_min"] = f.clipMin
	}
	if changed("clip-max") {
		opts["clip_max"] = f.clipMax
	}
	if changed("range") {
		r, err := parseRange(f.rng)
		if err != nil {
			return nil, err
		}
		opts["range"] = r
	}
	if changed("muted") {
		opts["muted"] = f.muted
	}
	return opts, nil
}

// parseRange parses four comma-separated numbers. Empty entries and "-"
// are left unspecified.
func parseRange(s string) ([]any, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: range %q needs 4 entries", mapper.ErrConfig, s)
	}
	out := make([]any, 4)
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || p == "-" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: range entry %d: %v", mapper.ErrConfig, i, err)
		}
		out[i] = v
	}
	return out, nil
}

// runMappingRequest starts a monitor, lets it learn the current state of the
// network, sends the request and polls until done reports success. changed
// tells done whether the mapping was announced after the request.
func runMappingRequest(cmd *cobra.Command, src, dest string, send func(*mapper.Monitor) error, done func(mdb *db.Database, changed bool) bool) error {
	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	mon, err := mapper.NewMonitor(cfg.MapperMonitor(loggerFactory))
	if err != nil {
		return err
	}
	defer mon.Close()
	mdb := mon.DB()

	if err := mon.RequestDevices(); err != nil {
		return err
	}
	srcDevice := db.DeviceOf(src)
	if !pollUntil(ctx, mappingWait, func() bool { return mdb.DeviceByName(srcDevice) != nil }, mon) {
		return fmt.Errorf("source device %s not found", srcDevice)
	}
	// Let the answers to the monitor's state requests arrive.
	pollUntil(ctx, 10*pollInterval, func() bool { return false }, mon)

	changed := false
	mdb.AddMappingCallback(func(rec *db.MappingRecord, _ db.Action) {
		if rec.SrcName == src && rec.DestName == dest {
			changed = true
		}
	})
	if err := send(mon); err != nil {
		return err
	}
	if !pollUntil(ctx, mappingWait, func() bool { return done(mdb, changed) }, mon) {
		return fmt.Errorf("no confirmation for %s -> %s within %v", src, dest, mappingWait)
	}
	if rec := mdb.MappingByNames(src, dest); rec != nil {
		fmt.Fprintln(cmd.OutOrStdout(), rec)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "disconnected %s -> %s\n", src, dest)
	}
	return nil
}
