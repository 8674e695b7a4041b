package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/mapper"
	"github.com/backkem/mapper/pkg/transport"
	"github.com/backkem/mapper/pkg/value"
	"github.com/spf13/cobra"
)

// demoReadyTimeout bounds the wait for name allocation.
const demoReadyTimeout = 10 * time.Second

var (
	demoIterations int
	demoMemory     bool
	demoPeers      bool
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk through devices, properties, monitoring and mappings",
	Long: `Creates a device "test" with an input /freq, edits its bounds and
properties, then watches the network with a monitor.

With --peers (the default) two more devices, testsend and testrecv, are
started. A quarter of the way through the run the monitor database is
queried, at half way /testsend.1/outsig_3 is connected to
/testrecv.1/insig_3 and at three quarters the connection is modified.

--memory runs everything on an in-process network instead of UDP.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := interruptContext(cmd.Context())
		defer stop()
		return runDemo(ctx, cmd.OutOrStdout())
	},
}

func init() {
	demoCmd.Flags().IntVar(&demoIterations, "iterations", 1000, "number of poll rounds")
	demoCmd.Flags().BoolVar(&demoMemory, "memory", false, "use an in-process network")
	demoCmd.Flags().BoolVar(&demoPeers, "peers", true, "start the testsend and testrecv devices")
}

// demoEnv hands out transports for the demo's devices and monitor.
type demoEnv struct {
	network *transport.MemoryNetwork
}

func (e demoEnv) host(name string) transport.Factory {
	if e.network == nil {
		return nil
	}
	return e.network.Host(name)
}

func (e demoEnv) device(name string, port int) (*mapper.Device, error) {
	dc := cfg.MapperDevice(loggerFactory)
	dc.Name, dc.Port = name, port
	if tf := e.host(name); tf != nil {
		dc.TransportFactory = tf
	}
	return mapper.NewDevice(dc)
}

func runDemo(ctx context.Context, w io.Writer) error {
	var env demoEnv
	if demoMemory {
		env.network = transport.NewMemoryNetwork()
	}

	dev, err := env.device("test", 9000)
	if err != nil {
		return err
	}
	defer dev.Close()

	handler := func(sig *mapper.Signal, v []value.Value) {
		fmt.Fprintln(w, sig.Name(), v)
	}
	if _, err := setupDemoDevice(ctx, w, dev, handler); err != nil {
		return err
	}

	pollers := []mapper.Poller{dev}
	var peers []*mapper.Device
	if demoPeers {
		send, recv, err := demoPeerDevices(env, handler)
		if err != nil {
			return err
		}
		defer send.Close()
		defer recv.Close()
		peers = []*mapper.Device{send, recv}
		pollers = append(pollers, send, recv)
	}

	mc := cfg.MapperMonitor(loggerFactory)
	if tf := env.host("monitor"); tf != nil {
		mc.TransportFactory = tf
	}
	mon, err := mapper.NewMonitor(mc)
	if err != nil {
		return err
	}
	defer mon.Close()
	pollers = append(pollers, mon)

	mdb := mon.DB()
	printCallbacks(w, mdb, false)
	// Registering and removing right away leaves no link callback.
	linkID := mdb.AddLinkCallback(func(rec *db.LinkRecord, a db.Action) { printRecord(w, "link", rec, a) })
	mdb.RemoveLinkCallback(linkID)

	pollUntil(ctx, demoReadyTimeout, func() bool { return allReady(dev, peers) }, pollers...)
	if err := mon.RequestDevices(); err != nil {
		return err
	}

	src, dest := "/testsend.1/outsig_3", "/testrecv.1/insig_3"
	for i := 0; i < demoIterations && ctx.Err() == nil; i++ {
		for _, p := range pollers {
			p.Poll(pollInterval)
		}
		if len(peers) > 0 && i%50 == 0 {
			if out := peers[0].Output("/outsig_3"); out != nil {
				out.Update(float64(i % 100))
			}
		}

		switch i {
		case demoIterations / 4:
			printQueries(w, mdb)
		case demoIterations / 2:
			opts := mapper.MappingOptions{}.
				WithMode(db.ModeExpression).
				WithExpression("y=x").
				WithClip(db.ClipWrap, db.ClipClamp)
			if err := mon.Connect(src, dest, opts); err != nil {
				return err
			}
		case demoIterations * 3 / 4:
			if err := mon.ModifyMap(map[string]any{
				"src_name":  src,
				"dest_name": dest,
				"range":     []any{nil, nil, 3, 4},
				"muted":     true,
				"mode":      "linear",
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func setupDemoDevice(ctx context.Context, w io.Writer, dev *mapper.Device, handler mapper.InputHandler) (*mapper.Signal, error) {
	sig, err := dev.AddInput("/freq", value.TypeInt32, 1, handler, "Hz")
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(w, "inputs", dev.NumInputs())
	fmt.Fprintln(w, "minimum", sig.Minimum())
	for _, m := range []any{34.0, 12, nil} {
		if err := sig.SetMinimum(m); err != nil {
			return nil, err
		}
		fmt.Fprintln(w, "minimum", sig.Minimum())
	}

	printIdentity(w, dev, sig)
	if !pollUntil(ctx, demoReadyTimeout, dev.Ready, dev) {
		return nil, errors.New("device did not become ready")
	}
	printIdentity(w, dev, sig)
	fmt.Fprintln(w, "signal is_output", sig.IsOutput())
	fmt.Fprintln(w, "signal length", sig.Length())
	fmt.Fprintln(w, "signal type", sig.Type())
	fmt.Fprintln(w, "signal unit", sig.Unit())

	if err := dev.SetProperties(map[string]any{
		"testInt": 5, "testFloat": 12.7, "testString": "test",
		"removed1": "shouldn't see this",
	}); err != nil {
		return nil, err
	}
	if err := dev.Properties().Set("testInt", 7); err != nil {
		return nil, err
	}
	if err := dev.SetProperties(map[string]any{"removed1": nil, "removed2": "test"}); err != nil {
		return nil, err
	}
	dev.RemoveProperty("removed2")
	fmt.Fprintln(w, "device properties:", dev.Properties())
	fmt.Fprintln(w, "signal properties:", sig.Properties())
	if err := sig.Properties().Set("testInt", 3); err != nil {
		return nil, err
	}
	fmt.Fprintln(w, "signal properties:", sig.Properties())
	return sig, nil
}

func printIdentity(w io.Writer, dev *mapper.Device, sig *mapper.Signal) {
	fmt.Fprintln(w, "device name", dev.Name())
	fmt.Fprintln(w, "device port", dev.Port())
	fmt.Fprintln(w, "device ip", dev.IP4())
	fmt.Fprintln(w, "device interface", dev.Interface())
	fmt.Fprintln(w, "device ordinal", dev.Ordinal())
	fmt.Fprintln(w, "signal name", sig.Name())
	fmt.Fprintln(w, "signal full name", sig.FullName())
}

// demoPeerDevices starts testsend with outputs /outsig_0../outsig_3 and
// testrecv with the matching inputs.
func demoPeerDevices(env demoEnv, handler mapper.InputHandler) (send, recv *mapper.Device, err error) {
	if send, err = env.device("testsend", 9100); err != nil {
		return nil, nil, err
	}
	if recv, err = env.device("testrecv", 9200); err != nil {
		send.Close()
		return nil, nil, err
	}
	for i := range 4 {
		if _, err = send.AddOutput(fmt.Sprintf("/outsig_%d", i), value.TypeFloat32, 1, ""); err == nil {
			var in *mapper.Signal
			if in, err = recv.AddInput(fmt.Sprintf("/insig_%d", i), value.TypeFloat32, 1, handler, ""); err == nil {
				err = in.SetMaximum(100)
			}
		}
		if err != nil {
			send.Close()
			recv.Close()
			return nil, nil, err
		}
	}
	return send, recv, nil
}

func allReady(dev *mapper.Device, peers []*mapper.Device) bool {
	if !dev.Ready() {
		return false
	}
	for _, p := range peers {
		if !p.Ready() {
			return false
		}
	}
	return true
}

func printQueries(w io.Writer, mdb *db.Database) {
	printSeq(w, "devices", mdb.AllDevices())
	printSeq(w, "inputs", mdb.AllInputs())
	printSeq(w, "outputs", mdb.AllOutputs())
	printSeq(w, "mappings", mdb.AllMappings())
	printSeq(w, "links", mdb.AllLinks())
	printSeq(w, `devices matching "send"`, mdb.MatchDevicesByName("send"))
	printSeq(w, `outputs for device "/testsend.1" matching "3"`, mdb.MatchOutputsByDeviceName("/testsend.1", "3"))
	printSeq(w, `links for device "/testsend.1"`, mdb.LinksBySrcDeviceName("/testsend.1"))
	fmt.Fprintln(w, "link for /testsend.1, /testrecv.1:")
	fmt.Fprintln(w, mdb.LinkBySrcDestNames("/testsend.1", "/testrecv.1"))
	fmt.Fprintln(w, "not found link:")
	fmt.Fprintln(w, mdb.LinkBySrcDestNames("", ""))
}

func printSeq[T any](w io.Writer, title string, seq iter.Seq[T]) {
	fmt.Fprintf(w, "%s:\n", title)
	for rec := range seq {
		fmt.Fprintln(w, rec)
	}
}
