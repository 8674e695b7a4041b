package main

import (
	"fmt"
	"net"
	"time"

	"github.com/backkem/mapper/pkg/discovery"
	"github.com/spf13/cobra"
)

var browseTimeout time.Duration

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "List devices advertised over DNS-SD",
	Long: `Browses for ` + discovery.ServiceDevice + ` services and prints every device
found until --timeout elapses. Devices advertise themselves when run with
"mapperctl device --advertise".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resolver, err := discovery.NewResolver(discovery.ResolverConfig{BrowseTimeout: browseTimeout})
		if err != nil {
			return err
		}
		ctx, stop := interruptContext(cmd.Context())
		defer stop()

		found, err := resolver.Browse(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		n := 0
		for dev := range found {
			n++
			line := fmt.Sprintf("%s\t%v:%d", dev.Name(), dev.PreferredIP(), dev.Port)
			if dev.TXT != nil {
				line += fmt.Sprintf("\tinputs=%d outputs=%d", dev.TXT.NumInputs, dev.TXT.NumOutputs)
			}
			fmt.Fprintln(out, line)
		}
		fmt.Fprintf(out, "%d device(s)\n", n)
		return nil
	},
}

func init() {
	browseCmd.Flags().DurationVar(&browseTimeout, "timeout", 3*time.Second, "how long to browse")
}

// interfaces returns the named interface, or nil (all interfaces) when name
// is empty or unknown.
func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*ifi}
}
