package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/backkem/mapper/pkg/bridge/mqtt"
	"github.com/backkem/mapper/pkg/mapper"
	"github.com/backkem/mapper/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	monitorMQTT        string
	monitorMetricsAddr string
	monitorQuiet       bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the network",
	Long: `Joins the admin bus, asks every device to announce itself and prints
each device, signal, link and mapping change until interrupted.

--mqtt mirrors the database to retained topics on a broker and
--metrics-addr serves Prometheus metrics on /metrics.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	f := monitorCmd.Flags()
	f.StringVar(&monitorMQTT, "mqtt", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	f.StringVar(&monitorMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.BoolVar(&monitorQuiet, "quiet", false, "do not print database changes")
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	if monitorMQTT != "" {
		cfg.MQTT.Broker = monitorMQTT
	}
	if monitorMetricsAddr != "" {
		cfg.Metrics.Addr = monitorMetricsAddr
	}
	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	mc := cfg.MapperMonitor(loggerFactory)
	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		var err error
		if m, err = metrics.New(reg); err != nil {
			return err
		}
		srv, err := serveMetrics(cfg.Metrics.Addr, reg)
		if err != nil {
			return err
		}
		defer shutdown(srv)
		mc.Metrics = m
	}

	mon, err := mapper.NewMonitor(mc)
	if err != nil {
		return err
	}
	defer mon.Close()

	out := cmd.OutOrStdout()
	if !monitorQuiet {
		printCallbacks(out, mon.DB(), true)
	}

	if cfg.MQTTEnabled() {
		bc := cfg.Bridge(loggerFactory)
		bc.Metrics = m
		bridge, err := mqtt.New(bc)
		if err != nil {
			return err
		}
		defer bridge.Close()
		if err := bridge.Attach(mon.DB()); err != nil {
			return err
		}
		fmt.Fprintf(out, "mirroring to %s under %s/\n", cfg.MQTT.Broker, bridge.Topics().Prefix)
	}

	if err := mon.RequestDevices(); err != nil {
		return err
	}
	pollLoop(ctx, mon)
	return nil
}

// serveMetrics starts an HTTP server with /metrics and /health.
func serveMetrics(addr string, reg *prometheus.Registry) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Println("metrics server:", err)
		}
	}()
	return srv, nil
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
